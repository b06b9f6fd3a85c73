package testutil

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounterNext(t *testing.T) {
	counter := &Counter{}
	assert.Equal(t, 1, counter.Next())
	assert.Equal(t, 2, counter.Next())
	assert.Equal(t, 2, counter.Value())
}

func TestPipeDialerDeliversBrokerEnd(t *testing.T) {
	dialer := NewPipeDialer()
	clientEnd, err := dialer.DialContext(context.Background(), "tcp", "broker:3000")
	require.NoError(t, err)
	defer clientEnd.Close()

	brokerEnd := <-dialer.Accepted
	defer brokerEnd.Close()

	go func() { _, _ = clientEnd.Write([]byte{0x7B, 1}) }()
	buffer := make([]byte, 8)
	count, err := brokerEnd.Read(buffer)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x7B, 1}, buffer[:count])
	assert.Equal(t, 1, dialer.Dials())
	assert.Equal(t, []string{"broker:3000"}, dialer.Addresses())
}

func TestPipeDialerRefuse(t *testing.T) {
	dialer := NewPipeDialer()
	refused := errors.New("connection refused")
	dialer.Refuse(refused)

	_, err := dialer.DialContext(context.Background(), "tcp", "broker:3000")
	assert.ErrorIs(t, err, refused)
	assert.Equal(t, 1, dialer.Dials())

	dialer.Refuse(nil)
	connection, err := dialer.DialContext(context.Background(), "tcp", "broker:3000")
	require.NoError(t, err)
	_ = connection.Close()
	_ = (<-dialer.Accepted).Close()
}
