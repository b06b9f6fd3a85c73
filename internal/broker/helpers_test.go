package broker

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Thejuampi/bunnymq-client-go/bunny"
)

const testWait = 2 * time.Second

// startBroker serves b on a loopback listener until the test ends.
func startBroker(t *testing.T, options Options) (*Broker, string) {
	t.Helper()
	b := New(options)
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- b.Serve(ctx, listener) }()

	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-served)
		b.Close()
	})
	return b, listener.Addr().String()
}

// rawClient speaks the protocol by hand.
type rawClient struct {
	t       *testing.T
	conn    net.Conn
	pending []byte
	id      string
}

func dialRaw(t *testing.T, address string) *rawClient {
	t.Helper()
	conn, err := net.Dial("tcp", address)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &rawClient{t: t, conn: conn}
}

func (c *rawClient) write(frames ...[]byte) {
	c.t.Helper()
	var joined []byte
	for _, frame := range frames {
		joined = append(joined, frame...)
	}
	_, err := c.conn.Write(joined)
	require.NoError(c.t, err)
}

// read returns the next packet. The handshake packet has no length, so it
// is only read when nothing else is pending.
func (c *rawClient) read() bunny.Packet {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(testWait)))
	chunk := make([]byte, 4096)
	for {
		if frame, rest, ok := bunny.SplitFrame(c.pending); ok {
			c.pending = rest
			packet, err := bunny.DecodePacket(frame)
			require.NoError(c.t, err)
			return packet
		}
		n, err := c.conn.Read(chunk)
		require.NoError(c.t, err)
		c.pending = append(c.pending, chunk[:n]...)
	}
}

func (c *rawClient) expectResponse(code bunny.ResultCode) {
	c.t.Helper()
	require.Equal(c.t, bunny.Response{Code: code}, c.read())
}

func (c *rawClient) expectMessage(body string) {
	c.t.Helper()
	require.Equal(c.t, bunny.Message{Body: []byte(body)}, c.read())
}

func (c *rawClient) expectSilence(d time.Duration) {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(d)))
	buf := make([]byte, 64)
	n, err := c.conn.Read(buf)
	require.Zero(c.t, n, "unexpected bytes % x", buf[:n])
	var netErr net.Error
	require.ErrorAs(c.t, err, &netErr)
	require.True(c.t, netErr.Timeout())
}

// login performs the handshake and authentication.
func (c *rawClient) login(username, password string) bunny.Authenticated {
	c.t.Helper()
	c.write(bunny.EncodeClientHandshake())
	handshake, ok := c.read().(bunny.Handshake)
	require.True(c.t, ok)
	require.NotEmpty(c.t, handshake.ID)
	c.id = handshake.ID

	c.write(bunny.EncodeAuthenticate(username, password, c.id))
	authenticated, ok := c.read().(bunny.Authenticated)
	require.True(c.t, ok)
	return authenticated
}

func (c *rawClient) declare(name string, config *bunny.QueueConfig) []byte {
	c.t.Helper()
	frame, err := bunny.EncodeQueueDeclare(bunny.QueueOptions{Name: name, Config: config})
	require.NoError(c.t, err)
	return frame
}

func (c *rawClient) publish(queue, body string) []byte {
	c.t.Helper()
	frame, err := bunny.EncodePublish(queue, []byte(body))
	require.NoError(c.t, err)
	return frame
}

func (c *rawClient) subscribe(queue string) []byte {
	return bunny.EncodeSubscribe(c.id, queue)
}

func (c *rawClient) ack() []byte {
	return bunny.EncodeAck(c.id)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
