package testutil

import (
	"context"
	"net"
	"sync"
)

// Counter is a deterministic integer counter for tests.
type Counter struct {
	lock  sync.Mutex
	value int
}

// Next increments and returns counter value.
func (counter *Counter) Next() int {
	counter.lock.Lock()
	defer counter.lock.Unlock()
	counter.value++
	return counter.value
}

// Value returns the current counter value.
func (counter *Counter) Value() int {
	counter.lock.Lock()
	defer counter.lock.Unlock()
	return counter.value
}

// PipeDialer dials in-memory connections. The broker end of every accepted
// dial is delivered on Accepted.
type PipeDialer struct {
	Accepted chan net.Conn

	dials     Counter
	addresses []string
	lock      sync.Mutex
	refusal   error
}

// NewPipeDialer returns a dialer that accepts every dial.
func NewPipeDialer() *PipeDialer {
	return &PipeDialer{Accepted: make(chan net.Conn, 16)}
}

// Refuse makes subsequent dials fail with err. A nil err accepts again.
func (dialer *PipeDialer) Refuse(err error) {
	dialer.lock.Lock()
	dialer.refusal = err
	dialer.lock.Unlock()
}

// Dials returns the number of dial attempts, refused ones included.
func (dialer *PipeDialer) Dials() int {
	return dialer.dials.Value()
}

// Addresses returns the dialed addresses in order.
func (dialer *PipeDialer) Addresses() []string {
	dialer.lock.Lock()
	defer dialer.lock.Unlock()
	return append([]string(nil), dialer.addresses...)
}

// DialContext implements the driver's Dialer contract.
func (dialer *PipeDialer) DialContext(ctx context.Context, _ string, address string) (net.Conn, error) {
	dialer.dials.Next()
	dialer.lock.Lock()
	dialer.addresses = append(dialer.addresses, address)
	refusal := dialer.refusal
	dialer.lock.Unlock()
	if refusal != nil {
		return nil, refusal
	}

	clientEnd, brokerEnd := net.Pipe()
	select {
	case dialer.Accepted <- brokerEnd:
		return clientEnd, nil
	case <-ctx.Done():
		_ = clientEnd.Close()
		_ = brokerEnd.Close()
		return nil, ctx.Err()
	}
}
