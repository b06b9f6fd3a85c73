package broker

import (
	"sync"
)

// authStore holds the broker's credentials. With no users configured every
// login is accepted.
type authStore struct {
	mu    sync.RWMutex
	users map[string]string
}

func newAuthStore(users map[string]string) *authStore {
	store := &authStore{users: make(map[string]string, len(users))}
	for username, password := range users {
		store.users[username] = password
	}
	return store
}

func (a *authStore) addUser(username, password string) {
	a.mu.Lock()
	a.users[username] = password
	a.mu.Unlock()
}

// authenticate checks username/password.
func (a *authStore) authenticate(username, password string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if len(a.users) == 0 {
		return true
	}
	expected, exists := a.users[username]
	return exists && password == expected
}

func (a *authStore) enabled() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.users) > 0
}
