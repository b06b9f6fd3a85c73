package broker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thejuampi/bunnymq-client-go/bunny"
)

func TestBrokerAuthentication(t *testing.T) {
	_, address := startBroker(t, Options{Users: map[string]string{"guest": "secret"}})

	accepted := dialRaw(t, address).login("guest", "secret")
	assert.True(t, accepted.OK())

	rejected := dialRaw(t, address).login("guest", "wrong")
	assert.False(t, rejected.OK())
	assert.Equal(t, "invalid credentials", rejected.ErrorMessage)
}

func TestBrokerRejectsCommandsBeforeAuthentication(t *testing.T) {
	_, address := startBroker(t, Options{})
	client := dialRaw(t, address)

	client.write(client.declare("orders", nil))
	client.expectResponse(bunny.ResultFailure)
}

func TestBrokerQueueLifecycle(t *testing.T) {
	b, address := startBroker(t, Options{})
	client := dialRaw(t, address)
	require.True(t, client.login("guest", "guest").OK())

	client.write(client.declare("orders", &bunny.QueueConfig{Durable: true}))
	client.expectResponse(bunny.ResultSuccess)
	client.write(client.declare("orders", nil))
	client.expectResponse(bunny.ResultAlreadyExist)

	client.write(client.publish("missing", "x"))
	client.expectResponse(bunny.ResultFailure)
	client.write(client.publish("orders", "first"))
	client.expectResponse(bunny.ResultSuccess)
	client.write(client.publish("orders", "second"))
	client.expectResponse(bunny.ResultSuccess)

	client.write(client.subscribe("orders"))
	client.expectMessage("first")
	client.expectSilence(50 * time.Millisecond)

	client.write(client.ack())
	client.expectResponse(bunny.ResultSuccess)
	client.expectMessage("second")
	client.write(client.ack())
	client.expectResponse(bunny.ResultSuccess)

	client.write(client.ack())
	client.expectResponse(bunny.ResultFailure)

	info, ok := b.Queue("orders")
	require.True(t, ok)
	assert.True(t, info.Config.Durable)
	assert.Zero(t, info.Depth)
	assert.Equal(t, client.id, info.Consumer)
}

func TestBrokerSplitsCoalescedStream(t *testing.T) {
	_, address := startBroker(t, Options{})
	client := dialRaw(t, address)

	client.write(bunny.EncodeClientHandshake())
	handshake, ok := client.read().(bunny.Handshake)
	require.True(t, ok)
	client.id = handshake.ID

	client.write(
		bunny.EncodeAuthenticate("guest", "guest", client.id),
		client.declare("orders", nil),
		client.declare("orders.eu", nil),
		client.publish("orders.eu", "hello"),
	)
	require.Equal(t, bunny.Authenticated{Status: bunny.AuthStatusOK}, client.read())
	client.expectResponse(bunny.ResultSuccess)
	client.expectResponse(bunny.ResultSuccess)
	client.expectResponse(bunny.ResultSuccess)

	client.write(client.subscribe("orders.eu"), client.ack(), bunny.EncodeHeartbeat())
	client.expectMessage("hello")
	client.expectResponse(bunny.ResultSuccess)
}

func TestBrokerRequeuesOnDisconnect(t *testing.T) {
	_, address := startBroker(t, Options{})

	first := dialRaw(t, address)
	require.True(t, first.login("guest", "guest").OK())
	first.write(first.declare("jobs", nil))
	first.expectResponse(bunny.ResultSuccess)
	first.write(first.publish("jobs", "job-1"))
	first.expectResponse(bunny.ResultSuccess)
	first.write(first.subscribe("jobs"))
	first.expectMessage("job-1")
	require.NoError(t, first.conn.Close())

	second := dialRaw(t, address)
	require.True(t, second.login("guest", "guest").OK())
	second.write(second.subscribe("jobs"))
	second.expectMessage("job-1")
}

func TestBrokerNoAckDeliversEverything(t *testing.T) {
	_, address := startBroker(t, Options{})
	client := dialRaw(t, address)
	require.True(t, client.login("guest", "guest").OK())

	client.write(client.declare("events", &bunny.QueueConfig{NoAck: true}))
	client.expectResponse(bunny.ResultSuccess)
	client.write(client.publish("events", "a"))
	client.expectResponse(bunny.ResultSuccess)
	client.write(client.publish("events", "b"))
	client.expectResponse(bunny.ResultSuccess)

	client.write(client.subscribe("events"))
	client.expectMessage("a")
	client.expectMessage("b")

	client.write(client.ack())
	client.expectResponse(bunny.ResultFailure)
}

func TestBrokerMessageExpiry(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	_, address := startBroker(t, Options{Now: clock.Now})
	client := dialRaw(t, address)
	require.True(t, client.login("guest", "guest").OK())

	client.write(client.declare("ttl", &bunny.QueueConfig{MessageExpiry: 1}))
	client.expectResponse(bunny.ResultSuccess)
	client.write(client.publish("ttl", "stale"))
	client.expectResponse(bunny.ResultSuccess)

	clock.Advance(2 * time.Second)
	client.write(client.publish("ttl", "fresh"))
	client.expectResponse(bunny.ResultSuccess)

	client.write(client.subscribe("ttl"))
	client.expectMessage("fresh")
}

func TestBrokerAckExpiryRequeues(t *testing.T) {
	_, address := startBroker(t, Options{})
	client := dialRaw(t, address)
	require.True(t, client.login("guest", "guest").OK())

	client.write(client.declare("slow", &bunny.QueueConfig{AckExpiry: 1}))
	client.expectResponse(bunny.ResultSuccess)
	client.write(client.publish("slow", "retry-me"))
	client.expectResponse(bunny.ResultSuccess)

	client.write(client.subscribe("slow"))
	client.expectMessage("retry-me")
	client.expectMessage("retry-me")
}

func TestBrokerNewConsumerTakesOver(t *testing.T) {
	_, address := startBroker(t, Options{})

	first := dialRaw(t, address)
	require.True(t, first.login("guest", "guest").OK())
	first.write(first.declare("work", nil))
	first.expectResponse(bunny.ResultSuccess)
	first.write(first.publish("work", "w1"))
	first.expectResponse(bunny.ResultSuccess)
	first.write(first.subscribe("work"))
	first.expectMessage("w1")

	second := dialRaw(t, address)
	require.True(t, second.login("guest", "guest").OK())
	second.write(second.subscribe("work"))
	second.expectMessage("w1")

	first.write(first.ack())
	first.expectResponse(bunny.ResultFailure)
}

func TestBrokerHeartbeats(t *testing.T) {
	_, address := startBroker(t, Options{HeartbeatInterval: 20 * time.Millisecond})
	client := dialRaw(t, address)
	require.True(t, client.login("guest", "guest").OK())

	assert.Equal(t, bunny.Heartbeat{}, client.read())
	client.write(bunny.EncodeHeartbeat())
	assert.Equal(t, bunny.Heartbeat{}, client.read())
}

func TestBrokerCloseDisconnectsSessions(t *testing.T) {
	b, address := startBroker(t, Options{})
	client := dialRaw(t, address)
	require.True(t, client.login("guest", "guest").OK())

	b.Close()

	require.NoError(t, client.conn.SetReadDeadline(time.Now().Add(testWait)))
	_, err := client.conn.Read(make([]byte, 1))
	assert.Error(t, err)
	assert.Empty(t, b.Sessions())
}

func TestBrokerRepliesToAckBeforeNextDelivery(t *testing.T) {
	_, address := startBroker(t, Options{})
	client := dialRaw(t, address)
	require.True(t, client.login("guest", "guest").OK())
	client.write(client.declare("jobs", nil))
	client.expectResponse(bunny.ResultSuccess)
	client.write(client.publish("jobs", "a"), client.publish("jobs", "b"))
	client.expectResponse(bunny.ResultSuccess)
	client.expectResponse(bunny.ResultSuccess)

	client.write(client.subscribe("jobs"))
	client.expectMessage("a")

	client.write(client.ack())
	assert.Equal(t, bunny.Response{Code: bunny.ResultSuccess}, client.read())
	assert.Equal(t, bunny.Message{Body: []byte("b")}, client.read())
}

func TestBrokerDisconnectUnregistersSession(t *testing.T) {
	b, address := startBroker(t, Options{})
	client := dialRaw(t, address)
	require.True(t, client.login("guest", "guest").OK())
	require.Len(t, b.Sessions(), 1)

	require.True(t, b.Disconnect(client.id))
	assert.Empty(t, b.Sessions())
	assert.False(t, b.Disconnect(client.id))

	require.NoError(t, client.conn.SetReadDeadline(time.Now().Add(testWait)))
	_, err := client.conn.Read(make([]byte, 1))
	assert.Error(t, err)
}
