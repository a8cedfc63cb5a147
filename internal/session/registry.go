// Package session reconciles durable participant identities with live
// connection handles.
//
// Lookups are two-level: a connection handle resolves to a durable id, which
// resolves to the player record. A reconnect only re-keys the handle map; the
// player record itself is never copied or rebuilt.
package session

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/atmx/tradesim/internal/model"
)

var (
	ErrNameTaken       = errors.New("session: display name already taken")
	ErrWrongPassword   = errors.New("session: wrong host password")
	ErrUnknownPlayer   = errors.New("session: no player bound to connection")
	ErrInvalidIdentity = errors.New("session: durable id is required")
)

// NewPlayerFunc builds the record for a first-time joiner.
type NewPlayerFunc func(durableID, displayName string) *model.Player

// Registry tracks players by durable id and the connections bound to them.
// It is not safe for concurrent use; the owner serialises access.
type Registry struct {
	secret  string
	players map[string]*model.Player // durable id → player
	handles map[string]string        // connection handle → durable id
	hosts   map[string]struct{}      // connection handles logged in as host
}

// NewRegistry creates a registry seeded with previously persisted players.
func NewRegistry(hostSecret string, players map[string]*model.Player) *Registry {
	r := &Registry{
		secret:  hostSecret,
		players: make(map[string]*model.Player, len(players)),
		handles: make(map[string]string),
		hosts:   make(map[string]struct{}),
	}
	for id, p := range players {
		r.players[id] = p
	}
	return r
}

// Join binds handle to the player with durableID, creating the player on
// first sight. The returned bool reports whether the player was created.
func (r *Registry) Join(handle, durableID, displayName string, newPlayer NewPlayerFunc) (*model.Player, bool, error) {
	durableID = strings.TrimSpace(durableID)
	if durableID == "" {
		return nil, false, ErrInvalidIdentity
	}

	if p, ok := r.players[durableID]; ok {
		r.bind(handle, durableID)
		return p, false, nil
	}

	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		displayName = defaultName(durableID)
	}
	for id, p := range r.players {
		if id != durableID && p.DisplayName == displayName {
			return nil, false, fmt.Errorf("%w: %s", ErrNameTaken, displayName)
		}
	}

	p := newPlayer(durableID, displayName)
	r.players[durableID] = p
	r.bind(handle, durableID)
	return p, true, nil
}

// bind points handle at durableID and drops any other handle that pointed at
// the same player.
func (r *Registry) bind(handle, durableID string) {
	for h, id := range r.handles {
		if id == durableID && h != handle {
			delete(r.handles, h)
		}
	}
	r.handles[handle] = durableID
}

func defaultName(durableID string) string {
	if len(durableID) > 4 {
		durableID = durableID[:4]
	}
	return "Player-" + durableID
}

// LoginHost checks secret and marks handle as a host connection. No player
// is created.
func (r *Registry) LoginHost(handle, secret string) error {
	if subtle.ConstantTimeCompare([]byte(secret), []byte(r.secret)) != 1 {
		return ErrWrongPassword
	}
	r.hosts[handle] = struct{}{}
	return nil
}

// IsHost reports whether handle has logged in as host.
func (r *Registry) IsHost(handle string) bool {
	_, ok := r.hosts[handle]
	return ok
}

// Leave forgets a connection. The player record stays.
func (r *Registry) Leave(handle string) {
	delete(r.handles, handle)
	delete(r.hosts, handle)
}

// PlayerFor resolves the player bound to handle.
func (r *Registry) PlayerFor(handle string) (*model.Player, error) {
	id, ok := r.handles[handle]
	if !ok {
		return nil, ErrUnknownPlayer
	}
	p, ok := r.players[id]
	if !ok {
		return nil, ErrUnknownPlayer
	}
	return p, nil
}

// HandleFor returns the connection currently bound to a durable id.
func (r *Registry) HandleFor(durableID string) (string, bool) {
	for h, id := range r.handles {
		if id == durableID {
			return h, true
		}
	}
	return "", false
}

// Players returns every player keyed by durable id. The map is the
// registry's own; callers must not retain it past the owner's lock.
func (r *Registry) Players() map[string]*model.Player {
	return r.players
}

// DurableIDs returns every durable id in sorted order.
func (r *Registry) DurableIDs() []string {
	ids := make([]string, 0, len(r.players))
	for id := range r.players {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Reset drops every player and player binding. Host logins survive so the
// facilitator keeps control of the fresh session.
func (r *Registry) Reset() {
	r.players = make(map[string]*model.Player)
	r.handles = make(map[string]string)
}
