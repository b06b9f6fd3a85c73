package bunny

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Thejuampi/bunnymq-client-go/bunny/internal/testutil"
)

const testWait = 2 * time.Second

type testBroker struct {
	t          *testing.T
	connection net.Conn
}

func acceptBroker(t *testing.T, dialer *testutil.PipeDialer) *testBroker {
	t.Helper()
	select {
	case connection := <-dialer.Accepted:
		t.Cleanup(func() { _ = connection.Close() })
		return &testBroker{t: t, connection: connection}
	case <-time.After(testWait):
		t.Fatal("client did not dial")
	}
	return nil
}

func (broker *testBroker) next() Request {
	broker.t.Helper()
	buffer := make([]byte, 64*1024)
	require.NoError(broker.t, broker.connection.SetReadDeadline(time.Now().Add(testWait)))
	count, err := broker.connection.Read(buffer)
	require.NoError(broker.t, err)
	request, rest, err := DecodeRequest(buffer[:count])
	require.NoError(broker.t, err)
	require.Empty(broker.t, rest)
	return request
}

func (broker *testBroker) expect(op Opcode) Request {
	broker.t.Helper()
	request := broker.next()
	require.Equal(broker.t, op, request.Opcode, "expected %s, got %s", op, request.Opcode)
	return request
}

// expectSilence fails if the client writes anything within wait.
func (broker *testBroker) expectSilence(wait time.Duration) {
	broker.t.Helper()
	buffer := make([]byte, 1024)
	require.NoError(broker.t, broker.connection.SetReadDeadline(time.Now().Add(wait)))
	count, err := broker.connection.Read(buffer)
	var netErr net.Error
	require.True(broker.t, errors.As(err, &netErr) && netErr.Timeout(), "unexpected frame % x (err %v)", buffer[:count], err)
}

// expectClosed waits for the client to drop the transport.
func (broker *testBroker) expectClosed() {
	broker.t.Helper()
	buffer := make([]byte, 1024)
	err := broker.connection.SetReadDeadline(time.Now().Add(testWait))
	if errors.Is(err, io.ErrClosedPipe) {
		return
	}
	require.NoError(broker.t, err)
	for {
		_, err = broker.connection.Read(buffer)
		if err == nil {
			continue
		}
		if errors.Is(err, io.ErrClosedPipe) || errors.Is(err, io.EOF) {
			return
		}
		var netErr net.Error
		require.False(broker.t, errors.As(err, &netErr) && netErr.Timeout(), "client kept the transport open")
		return
	}
}

func (broker *testBroker) send(frame []byte) {
	broker.t.Helper()
	require.NoError(broker.t, broker.connection.SetWriteDeadline(time.Now().Add(testWait)))
	_, err := broker.connection.Write(frame)
	require.NoError(broker.t, err)
}

// accept runs the handshake and authentication exchange.
func (broker *testBroker) accept(clientID string) {
	broker.t.Helper()
	handshake := broker.expect(OpClientHandshake)
	require.Equal(broker.t, ProtocolVersion, handshake.Version)
	broker.send(EncodeHandshakePacket(clientID))

	auth := broker.expect(OpAuthenticate)
	require.Equal(broker.t, clientID, auth.ClientID)
	broker.send(EncodeAuthenticatedPacket(true, ""))
}

func (broker *testBroker) close() {
	_ = broker.connection.Close()
}

func testConfig() Config {
	config := DefaultConfig()
	config.Username = "guest"
	config.Password = "secret"
	config.Reconnect.BaseDelay = 5 * time.Millisecond
	return config
}

func newTestClient(t *testing.T, mutate func(*Config), options ...Option) (*Client, *testutil.PipeDialer) {
	t.Helper()
	config := testConfig()
	if mutate != nil {
		mutate(&config)
	}
	dialer := testutil.NewPipeDialer()
	client, err := NewClient(config, append([]Option{WithDialer(dialer)}, options...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client, dialer
}

// connectTestClient returns a Ready client and the broker end of its
// transport.
func connectTestClient(t *testing.T, mutate func(*Config), options ...Option) (*Client, *testutil.PipeDialer, *testBroker) {
	t.Helper()
	client, dialer := newTestClient(t, mutate, options...)
	connected := make(chan error, 1)
	ctx := testContext(t)
	go func() { connected <- client.Connect(ctx) }()

	broker := acceptBroker(t, dialer)
	broker.accept("client-1")
	require.NoError(t, receive(t, connected))
	return client, dialer, broker
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), testWait)
	t.Cleanup(cancel)
	return ctx
}

func receive[T any](t *testing.T, values <-chan T) T {
	t.Helper()
	select {
	case value := <-values:
		return value
	case <-time.After(testWait):
		t.Fatal("timed out waiting for value")
	}
	var zero T
	return zero
}

func waitForState(t *testing.T, client *Client, state ConnectionState) {
	t.Helper()
	require.Eventually(t, func() bool { return client.State() == state }, testWait, time.Millisecond,
		"state is %s, want %s", client.State(), state)
}

type stateRecorder struct {
	lock   sync.Mutex
	states []ConnectionState
}

func (recorder *stateRecorder) ConnectionStateChanged(state ConnectionState) {
	recorder.lock.Lock()
	recorder.states = append(recorder.states, state)
	recorder.lock.Unlock()
}

func (recorder *stateRecorder) snapshot() []ConnectionState {
	recorder.lock.Lock()
	defer recorder.lock.Unlock()
	return append([]ConnectionState(nil), recorder.states...)
}

type errorRecorder struct {
	lock   sync.Mutex
	errors []error
}

func (recorder *errorRecorder) handle(err error) {
	recorder.lock.Lock()
	recorder.errors = append(recorder.errors, err)
	recorder.lock.Unlock()
}

func (recorder *errorRecorder) snapshot() []error {
	recorder.lock.Lock()
	defer recorder.lock.Unlock()
	return append([]error(nil), recorder.errors...)
}
