package bunny

import (
	"encoding/binary"
	"encoding/json"
)

// QueueConfig holds the queue options understood by the broker. The JSON keys
// are part of the wire format.
type QueueConfig struct {
	QueueExpiry   int  `json:"QueueExpiry" yaml:"queue_expiry"`
	MessageExpiry int  `json:"MessageExpiry" yaml:"message_expiry"`
	AckExpiry     int  `json:"AckExpiry" yaml:"ack_expiry"`
	Durable       bool `json:"Durable" yaml:"durable"`
	NoAck         bool `json:"noAck" yaml:"no_ack"`
}

// QueueOptions describes a queue declaration. A nil Config is sent as an
// empty JSON object with the no-options flag.
type QueueOptions struct {
	Name   string
	Config *QueueConfig
}

type publishMetadata struct {
	Queue string `json:"queue"`
}

func encodeCommandFrame(op Opcode, flags byte, primary []byte, metadata []byte) []byte {
	frame := make([]byte, commandHeaderSize, commandHeaderSize+len(primary)+len(metadata))
	frame[0] = byte(op)
	frame[1] = flags
	binary.BigEndian.PutUint32(frame[lengthFieldOffset:], uint32(len(primary)))
	frame = append(frame, primary...)
	return append(frame, metadata...)
}

// EncodeQueueDeclare builds a NewQueue frame.
func EncodeQueueDeclare(options QueueOptions) ([]byte, error) {
	flags := FlagNoOptions
	metadata := []byte("{}")
	if options.Config != nil {
		encoded, err := json.Marshal(options.Config)
		if err != nil {
			return nil, NewError(CommandError, "encoding queue options", err)
		}
		flags = FlagJSONEncoded
		metadata = encoded
	}
	return encodeCommandFrame(OpNewQueue, flags, []byte(options.Name), metadata), nil
}

// EncodePublish builds a Publish frame targeting queue.
func EncodePublish(queue string, payload []byte) ([]byte, error) {
	metadata, err := json.Marshal(publishMetadata{Queue: queue})
	if err != nil {
		return nil, NewError(CommandError, "encoding publish metadata", err)
	}
	return encodeCommandFrame(OpPublish, FlagJSONEncoded, payload, metadata), nil
}

// EncodeSubscribe builds a Subscribe frame for the given client id and queue.
func EncodeSubscribe(clientID string, queue string) []byte {
	return encodeCommandFrame(OpSubscribe, FlagNoOptions, []byte(clientID), []byte(queue))
}

// EncodeAck builds an Ack frame.
func EncodeAck(clientID string) []byte {
	return encodeCommandFrame(OpAck, FlagNoOptions, []byte(clientID), nil)
}

// EncodeClientHandshake builds the handshake frame sent once the transport
// is connected.
func EncodeClientHandshake() []byte {
	return []byte{OpClientHandshake.Byte(), ProtocolVersion}
}

// EncodeAuthenticate builds the Authenticate frame. It has its own header:
// opcode and credential length, with no flags byte.
func EncodeAuthenticate(username string, password string, clientID string) []byte {
	credentials := username + ":" + password
	frame := make([]byte, authenticateHeaderSize, authenticateHeaderSize+len(credentials)+len(clientID))
	frame[0] = OpAuthenticate.Byte()
	binary.BigEndian.PutUint32(frame[1:], uint32(len(credentials)))
	frame = append(frame, credentials...)
	return append(frame, clientID...)
}

// EncodeHeartbeat builds a heartbeat frame. Both sides use the same byte.
func EncodeHeartbeat() []byte {
	return []byte{OpHeartbeat.Byte()}
}

// EncodeHandshakePacket builds the broker's handshake reply.
func EncodeHandshakePacket(clientID string) []byte {
	frame := make([]byte, 1, 1+len(clientID))
	frame[0] = OpHandshake.Byte()
	return append(frame, clientID...)
}

// EncodeAuthenticatedPacket builds the broker's authentication verdict.
func EncodeAuthenticatedPacket(ok bool, message string) []byte {
	if ok {
		return []byte{OpAuthenticated.Byte(), 1}
	}
	return encodeCommandFrame(OpAuthenticated, 0, []byte(message), nil)
}

// EncodeResponsePacket builds a correlated reply.
func EncodeResponsePacket(code ResultCode) []byte {
	return []byte{byte(code)}
}

// EncodeMessagePacket builds a pushed delivery.
func EncodeMessagePacket(body []byte) []byte {
	return encodeCommandFrame(OpMessage, FlagNoOptions, body, nil)
}
