package bunny

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeCommandFrames(t *testing.T) {
	declare, err := EncodeQueueDeclare(QueueOptions{Name: "orders"})
	require.NoError(t, err)
	assert.Equal(t, append([]byte{6, 0, 0, 0, 0, 6}, "orders{}"...), declare)

	publish, err := EncodePublish("orders", []byte("hi"))
	require.NoError(t, err)
	assert.Equal(t, append([]byte{3, 1, 0, 0, 0, 2}, `hi{"queue":"orders"}`...), publish)

	assert.Equal(t, append([]byte{7, 0, 0, 0, 0, 3}, "abcorders"...), EncodeSubscribe("abc", "orders"))
	assert.Equal(t, append([]byte{4, 0, 0, 0, 0, 3}, "abc"...), EncodeAck("abc"))
	assert.Equal(t, []byte{0x7B, ProtocolVersion}, EncodeClientHandshake())
	assert.Equal(t, []byte{0xFF}, EncodeHeartbeat())
	assert.Equal(t, append([]byte{0x7A, 0, 0, 0, 6}, "us:pwdabc"...), EncodeAuthenticate("us", "pwd", "abc"))
}

func TestEncodeQueueDeclareWithOptions(t *testing.T) {
	frame, err := EncodeQueueDeclare(QueueOptions{
		Name: "orders",
		Config: &QueueConfig{
			QueueExpiry:   60,
			MessageExpiry: 30,
			AckExpiry:     10,
			Durable:       true,
			NoAck:         true,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, FlagJSONEncoded, frame[1])

	request, rest, err := DecodeRequest(frame)
	require.NoError(t, err)
	assert.Empty(t, rest)
	assert.Equal(t, "orders", string(request.Primary))
	assert.JSONEq(t, `{"QueueExpiry":60,"MessageExpiry":30,"AckExpiry":10,"Durable":true,"noAck":true}`, string(request.Metadata))
}

func TestClientFramesRoundTrip(t *testing.T) {
	declare, err := EncodeQueueDeclare(QueueOptions{Name: "orders", Config: &QueueConfig{Durable: true}})
	require.NoError(t, err)
	publish, err := EncodePublish("orders", []byte("payload"))
	require.NoError(t, err)

	stream := append([]byte{}, EncodeClientHandshake()...)
	stream = append(stream, EncodeHeartbeat()...)
	stream = append(stream, declare...)
	stream = append(stream, publish...)
	stream = append(stream, EncodeAck("client-1")...)
	stream = append(stream, EncodeSubscribe("client-1", "orders")...)

	var requests []Request
	for len(stream) > 0 {
		request, rest, err := DecodeRequest(stream)
		require.NoError(t, err)
		requests = append(requests, request)
		stream = rest
	}
	require.Len(t, requests, 6)

	assert.Equal(t, OpClientHandshake, requests[0].Opcode)
	assert.Equal(t, ProtocolVersion, requests[0].Version)
	assert.Equal(t, OpHeartbeat, requests[1].Opcode)

	config, err := requests[2].QueueConfig()
	require.NoError(t, err)
	assert.Equal(t, &QueueConfig{Durable: true}, config)

	queue, err := requests[3].PublishQueue()
	require.NoError(t, err)
	assert.Equal(t, "orders", queue)
	assert.Equal(t, "payload", string(requests[3].Primary))

	assert.Equal(t, OpAck, requests[4].Opcode)
	assert.Equal(t, "client-1", string(requests[4].Primary))

	assert.Equal(t, OpSubscribe, requests[5].Opcode)
	assert.Equal(t, "client-1", string(requests[5].Primary))
	assert.Equal(t, "orders", string(requests[5].Metadata))
}

func TestDecodeRequestAuthenticate(t *testing.T) {
	request, rest, err := DecodeRequest(EncodeAuthenticate("guest", "pa:ss", "client-9"))
	require.NoError(t, err)
	assert.Nil(t, rest)
	assert.Equal(t, "guest", request.Username)
	assert.Equal(t, "pa:ss", request.Password)
	assert.Equal(t, "client-9", request.ClientID)
}

func TestDecodeRequestNoOptionsQueue(t *testing.T) {
	frame, err := EncodeQueueDeclare(QueueOptions{Name: "plain"})
	require.NoError(t, err)
	request, _, err := DecodeRequest(frame)
	require.NoError(t, err)

	config, err := request.QueueConfig()
	require.NoError(t, err)
	assert.Nil(t, config)
}

func TestDecodeRequestErrors(t *testing.T) {
	_, _, err := DecodeRequest(nil)
	assert.ErrorIs(t, err, ErrTruncatedFrame)

	_, _, err = DecodeRequest([]byte{0x7B})
	assert.ErrorIs(t, err, ErrTruncatedFrame)

	_, _, err = DecodeRequest([]byte{0x7A, 0, 0, 0, 9, 'a'})
	assert.ErrorIs(t, err, ErrTruncatedFrame)

	_, _, err = DecodeRequest([]byte{3, 1, 0, 0})
	assert.ErrorIs(t, err, ErrTruncatedFrame)

	_, _, err = DecodeRequest(append([]byte{3, 1, 0, 0, 0, 1}, "x{not json"...))
	assert.ErrorIs(t, err, ErrProtocol)

	_, rest, err := DecodeRequest([]byte{0x55, 0xFF})
	assert.ErrorIs(t, err, ErrUnknownOpcode)
	assert.Equal(t, []byte{0xFF}, rest)
}

func TestBrokerFramesDecode(t *testing.T) {
	packet, err := DecodePacket(EncodeAuthenticatedPacket(false, "denied"))
	require.NoError(t, err)
	assert.Equal(t, Authenticated{Status: AuthStatusDenied, ErrorMessage: "denied"}, packet)
	assert.False(t, packet.(Authenticated).OK())

	packet, err = DecodePacket(EncodeResponsePacket(ResultAlreadyExist))
	require.NoError(t, err)
	assert.Equal(t, Response{Code: ResultAlreadyExist}, packet)
}
