package partyline

import (
	"time"
)

// Presence is a contact's live presence as reported by the transport.
type Presence int

const (
	PresenceOffline Presence = iota
	PresenceOnline
	PresenceAway
)

func (p Presence) String() string {
	switch p {
	case PresenceOffline:
		return "offline"
	case PresenceOnline:
		return "online"
	case PresenceAway:
		return "away"
	default:
		return "unknown"
	}
}

// RelationshipState is the transport's view of a contact relationship.
type RelationshipState int

const (
	// RelationshipOther covers every state the relay doesn't act on
	// (outgoing requests, blocked contacts, and so on).
	RelationshipOther RelationshipState = iota

	// RelationshipFriend is an established mutual relationship.
	RelationshipFriend

	// RelationshipPendingIncoming is a contact request awaiting our
	// accept or ignore.
	RelationshipPendingIncoming
)

// Relationship is one entry of a transport relationship snapshot.
type Relationship struct {
	Identity string
	State    RelationshipState
}

// EventHandlers is the finite set of callbacks a connection registers
// against its transport. All handlers are invoked from the connection's
// own event loop, never concurrently with each other.
type EventHandlers struct {
	// Connected reports the outcome of a Connect attempt
	Connected func(err error)

	// Disconnected fires when the session drops, for any reason
	Disconnected func()

	// Authenticated reports the outcome of a LogOn attempt
	Authenticated func(err error)

	// RelationshipsUpdated delivers a fresh relationship snapshot
	RelationshipsUpdated func(snapshot []Relationship)

	// MessageReceived delivers one inbound chat message
	MessageReceived func(identity string, text string)
}

// Transport is the narrow surface the relay consumes from an
// instant-messaging protocol implementation. It mirrors the session
// operations and event callbacks the core needs and nothing else, so
// adapters stay small and tests can substitute a mock.
type Transport interface {
	// Connect initiates a session. Success or failure is reported
	// through EventHandlers.Connected; an immediate error means the
	// attempt could not even be started.
	Connect() error

	// Disconnect tears down the session
	Disconnect() error

	// LogOn authenticates the connected session. The outcome arrives
	// via EventHandlers.Authenticated.
	LogOn(identity string, credential string) error

	// SendMessage delivers one chat message to a contact
	SendMessage(target string, text string) error

	// EnumerateContacts lists every contact reachable through this
	// session, by identity
	EnumerateContacts() []string

	// RelationshipSnapshot reports the current relationship state of
	// every contact
	RelationshipSnapshot() []Relationship

	// AcceptContact accepts a pending incoming contact request
	AcceptContact(identity string) error

	// IgnoreContact declines a pending incoming contact request
	IgnoreContact(identity string) error

	// RemoveContact severs an established relationship
	RemoveContact(identity string) error

	// SetDisplayName sets the bot account's own display name
	SetDisplayName(name string) error

	// SetPresence sets the bot account's own presence
	SetPresence(p Presence) error

	// DisplayName resolves a contact's display name
	DisplayName(identity string) string

	// PresenceState reports a contact's live presence
	PresenceState(identity string) Presence

	// CurrentActivity reports the identifier of whatever application
	// the contact is currently running, or "" for none
	CurrentActivity(identity string) string

	// RegisterHandlers installs the event handler set. Must be called
	// before Connect.
	RegisterHandlers(h EventHandlers)

	// PumpEvents dispatches queued events to the registered handlers,
	// waiting up to maxWait for the first one. It returns once the
	// queue is drained or the wait elapses.
	PumpEvents(maxWait time.Duration)
}

// eventQueue buffers transport events as closures until the owning
// connection loop pumps them. Adapters push from their own callback
// goroutines; dispatch happens single-threaded in PumpEvents.
type eventQueue struct {
	handlers EventHandlers
	events   chan func(EventHandlers)
}

func newEventQueue(size int) *eventQueue {
	return &eventQueue{events: make(chan func(EventHandlers), size)}
}

func (q *eventQueue) register(h EventHandlers) {
	q.handlers = h
}

// push enqueues an event, dropping it if the queue is full rather than
// blocking the transport's callback goroutine.
func (q *eventQueue) push(ev func(EventHandlers)) bool {
	select {
	case q.events <- ev:
		return true
	default:
		return false
	}
}

func (q *eventQueue) pump(maxWait time.Duration) {
	timer := time.NewTimer(maxWait)
	defer timer.Stop()

	select {
	case ev := <-q.events:
		ev(q.handlers)
	case <-timer.C:
		return
	}

	for {
		select {
		case ev := <-q.events:
			ev(q.handlers)
		default:
			return
		}
	}
}
