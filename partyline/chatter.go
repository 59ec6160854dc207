package partyline

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/samber/lo"
)

var ErrChatterNotFound = errors.New("chatter not found")

// Chatter is the relay state for one known contact. One Chatter exists
// per identity across the whole process, regardless of how many
// connections are running; the owning connection is only a routing hint
// for outbound sends.
type Chatter struct {
	// Identity is the contact's opaque stable identifier
	Identity string

	// Active controls whether the chatter receives channel broadcasts
	Active bool

	// Channel is the chatter's current channel. Never empty.
	Channel string

	// AddedToList records that the mutual-friend handshake completed,
	// so a re-request from the same contact isn't accepted twice
	AddedToList bool

	// conn is the connection through which this contact is reachable
	conn *Connection
}

func (c Chatter) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("identity", c.Identity),
		slog.Bool("active", c.Active),
		slog.String("channel", c.Channel),
	)
}

// ChatterRegistry is the process-wide identity → Chatter map. It is the
// single source of truth for chatter state and is safe for concurrent
// use from every connection loop; all read-modify-write sequences
// happen under its lock.
type ChatterRegistry struct {
	mu       sync.RWMutex
	chatters map[string]*Chatter
}

func NewChatterRegistry() *ChatterRegistry {
	return &ChatterRegistry{chatters: map[string]*Chatter{}}
}

// Get returns a copy of the chatter for the given identity.
func (r *ChatterRegistry) Get(identity string) (Chatter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.chatters[identity]
	if !ok {
		return Chatter{}, ErrChatterNotFound
	}
	return *c, nil
}

// Upsert registers a newly-discovered contact. If the identity is
// already known, the existing state is returned untouched except for
// the owning connection, which is updated to the enumerating session.
func (r *ChatterRegistry) Upsert(
	identity string,
	channel string,
	conn *Connection,
) Chatter {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.chatters[identity]; ok {
		existing.conn = conn
		return *existing
	}
	if channel == "" {
		channel = DefaultChannel
	}
	c := &Chatter{
		Identity: identity,
		Active:   true,
		Channel:  channel,
		conn:     conn,
	}
	r.chatters[identity] = c
	return *c
}

// Toggle flips the chatter's active flag and returns the new value.
func (r *ChatterRegistry) Toggle(identity string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.chatters[identity]
	if !ok {
		return false, ErrChatterNotFound
	}
	c.Active = !c.Active
	return c.Active, nil
}

// SetActive sets the chatter's active flag.
func (r *ChatterRegistry) SetActive(identity string, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.chatters[identity]
	if !ok {
		return ErrChatterNotFound
	}
	c.Active = active
	return nil
}

// SetChannel moves the chatter to the given channel. The channel name
// must be non-empty; the registry refuses to break that invariant.
func (r *ChatterRegistry) SetChannel(identity string, channel string) error {
	if channel == "" {
		return errors.New("channel name must not be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.chatters[identity]
	if !ok {
		return ErrChatterNotFound
	}
	c.Channel = channel
	return nil
}

// MarkAdded sets AddedToList and reports whether it was already set.
// The check-and-set is atomic, so the friend-list reconciler can't
// accept the same contact twice even under snapshot redelivery.
func (r *ChatterRegistry) MarkAdded(identity string) (alreadyAdded bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.chatters[identity]
	if !ok {
		return false, ErrChatterNotFound
	}
	alreadyAdded = c.AddedToList
	c.AddedToList = true
	return alreadyAdded, nil
}

// Remove deletes the chatter. Used by the operator kick flow, which
// also severs the underlying relationship.
func (r *ChatterRegistry) Remove(identity string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.chatters[identity]; !ok {
		return ErrChatterNotFound
	}
	delete(r.chatters, identity)
	return nil
}

// Snapshot returns a copy of every chatter. No ordering guarantee.
func (r *ChatterRegistry) Snapshot() []Chatter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Map(
		lo.Values(r.chatters),
		func(c *Chatter, _ int) Chatter { return *c },
	)
}

// Channels returns the current identity → channel mapping, for the
// preference store's full rewrite on shutdown.
func (r *ChatterRegistry) Channels() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.MapValues(
		r.chatters,
		func(c *Chatter, _ string) string { return c.Channel },
	)
}

// Len reports the number of known chatters.
func (r *ChatterRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.chatters)
}
