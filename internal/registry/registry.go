// Package registry holds the shared participant state: connected sessions,
// the nickname index and the ban list. All operations are safe for
// concurrent use; readers never observe a nickname indexed without its
// entry being present.
package registry

import (
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
)

var (
	// ErrBanned rejects a handshake from a banned address.
	ErrBanned = errors.New("address is banned")
	// ErrNickTaken rejects a handshake with a nickname already in use.
	ErrNickTaken = errors.New("nickname already in use")
)

// Peer is the send side of a registered session as the router sees it.
type Peer interface {
	// Send writes one encoded frame; concurrent callers are serialized.
	Send(frame []byte) error
	// Kill closes the transport without waiting for in-flight reads.
	Kill()
}

// Entry is one connected participant.
type Entry struct {
	ID       uuid.UUID
	Nickname string
	Address  string
	Peer     Peer
}

// Registry is created once per server and injected into the session and
// routing layers. Tests instantiate their own.
type Registry struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]*Entry
	nicks   map[string]uuid.UUID
	banned  map[string]struct{}
}

func New() *Registry {
	return &Registry{
		entries: make(map[uuid.UUID]*Entry),
		nicks:   make(map[string]uuid.UUID),
		banned:  make(map[string]struct{}),
	}
}

// Register admits a session. It fails with ErrBanned if the address is on
// the ban list and ErrNickTaken if the nickname is already registered
// (case-insensitive). Entry and nickname index are updated atomically.
func (r *Registry) Register(id uuid.UUID, address, nickname string, peer Peer) (*Entry, error) {
	key := strings.ToLower(nickname)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.banned[address]; ok {
		return nil, ErrBanned
	}
	if _, ok := r.nicks[key]; ok {
		return nil, ErrNickTaken
	}

	entry := &Entry{ID: id, Nickname: nickname, Address: address, Peer: peer}
	r.entries[id] = entry
	r.nicks[key] = id
	return entry, nil
}

// Unregister removes a session. Removing an absent session is a no-op and
// returns nil.
func (r *Registry) Unregister(id uuid.UUID) *Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[id]
	if !ok {
		return nil
	}
	delete(r.entries, id)

	key := strings.ToLower(entry.Nickname)
	if r.nicks[key] == id {
		delete(r.nicks, key)
	}
	return entry
}

// FindByNickname resolves a nickname case-insensitively.
func (r *Registry) FindByNickname(nickname string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.nicks[strings.ToLower(nickname)]
	if !ok {
		return nil, false
	}
	entry, ok := r.entries[id]
	return entry, ok
}

// FindByTarget resolves a nickname or a network address, in that order.
// Admin commands accept either form.
func (r *Registry) FindByTarget(target string) (*Entry, bool) {
	if entry, ok := r.FindByNickname(target); ok {
		return entry, true
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, entry := range r.entries {
		if entry.Address == target {
			return entry, true
		}
	}
	return nil, false
}

// Ban adds an address to the ban list for the life of the process.
func (r *Registry) Ban(address string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.banned[address] = struct{}{}
}

func (r *Registry) IsBanned(address string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.banned[address]
	return ok
}

// Snapshot returns the current entries. The slice is safe to iterate while
// the registry keeps changing; delivery to a since-departed entry simply
// fails and is isolated by the router.
func (r *Registry) Snapshot() []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]*Entry, 0, len(r.entries))
	for _, entry := range r.entries {
		entries = append(entries, entry)
	}
	return entries
}

// Len reports the number of connected participants.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
