package bunny

import (
	"net"
	"strconv"
	"sync"
)

// ServerChooser picks the broker address for each connection attempt.
type ServerChooser interface {
	CurrentAddress() string
	ReportFailure(err error)
	ReportSuccess()
}

// DefaultServerChooser chooses addresses in round-robin order, advancing on
// every reported failure.
type DefaultServerChooser struct {
	lock      sync.Mutex
	addresses []string
	index     int
	lastError string
}

// NewDefaultServerChooser creates a chooser over the given host:port addresses.
func NewDefaultServerChooser(addresses ...string) *DefaultServerChooser {
	chooser := &DefaultServerChooser{
		addresses: make([]string, 0, len(addresses)),
	}
	for _, address := range addresses {
		chooser.Add(address)
	}
	return chooser
}

// CurrentAddress returns the currently selected address.
func (chooser *DefaultServerChooser) CurrentAddress() string {
	if chooser == nil {
		return ""
	}
	chooser.lock.Lock()
	defer chooser.lock.Unlock()
	if len(chooser.addresses) == 0 {
		return ""
	}
	if chooser.index < 0 || chooser.index >= len(chooser.addresses) {
		chooser.index = 0
	}
	return chooser.addresses[chooser.index]
}

// ReportFailure records err and advances to the next address.
func (chooser *DefaultServerChooser) ReportFailure(err error) {
	if chooser == nil {
		return
	}
	chooser.lock.Lock()
	defer chooser.lock.Unlock()
	if err != nil {
		chooser.lastError = err.Error()
	}
	if len(chooser.addresses) > 0 {
		chooser.index = (chooser.index + 1) % len(chooser.addresses)
	}
}

// ReportSuccess clears the last error. The current address is kept.
func (chooser *DefaultServerChooser) ReportSuccess() {
	if chooser == nil {
		return
	}
	chooser.lock.Lock()
	chooser.lastError = ""
	chooser.lock.Unlock()
}

// Error returns the latest reported failure.
func (chooser *DefaultServerChooser) Error() string {
	if chooser == nil {
		return ""
	}
	chooser.lock.Lock()
	defer chooser.lock.Unlock()
	return chooser.lastError
}

// Add appends address to the rotation.
func (chooser *DefaultServerChooser) Add(address string) *DefaultServerChooser {
	if chooser == nil || address == "" {
		return chooser
	}
	chooser.lock.Lock()
	chooser.addresses = append(chooser.addresses, address)
	chooser.lock.Unlock()
	return chooser
}

// Remove drops address from the rotation.
func (chooser *DefaultServerChooser) Remove(address string) {
	if chooser == nil || address == "" {
		return
	}
	chooser.lock.Lock()
	defer chooser.lock.Unlock()

	filtered := make([]string, 0, len(chooser.addresses))
	for _, candidate := range chooser.addresses {
		if candidate != address {
			filtered = append(filtered, candidate)
		}
	}
	chooser.addresses = filtered
	if chooser.index >= len(chooser.addresses) {
		chooser.index = 0
	}
}

func joinHostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
