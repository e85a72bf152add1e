package peers

import (
	"errors"
	"fmt"
)

// ErrUnknownSender is returned when resolving an address that was never
// registered.
var ErrUnknownSender = errors.New("sender unknown")

// Registry maps transport addresses to usernames for the life of the
// process. It is owned by the chat loop and is not safe for concurrent use.
//
// Addresses are not stable peer identities: a peer that restarts with a new
// address is learned again, and a reused address resolves to the old name.
type Registry struct {
	names map[string]string
}

func NewRegistry() *Registry {
	return &Registry{names: make(map[string]string)}
}

func (r *Registry) Contains(addr string) bool {
	_, ok := r.names[addr]
	return ok
}

// Register binds addr to username unless addr is already bound. It reports
// whether a binding was added.
func (r *Registry) Register(addr, username string) bool {
	if r.Contains(addr) {
		return false
	}
	r.names[addr] = username
	return true
}

func (r *Registry) Resolve(addr string) (string, error) {
	name, ok := r.names[addr]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownSender, addr)
	}
	return name, nil
}

func (r *Registry) Len() int {
	return len(r.names)
}
