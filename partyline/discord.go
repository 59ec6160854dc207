package partyline

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// discordEventQueueSize bounds how many transport events can pile up
// between pumps of the connection loop.
const discordEventQueueSize = 256

// discordContact is the adapter's view of one contact: someone who has
// opened a DM with the bot account.
type discordContact struct {
	name      string
	channelID string
	status    discordgo.Status
	activity  string
}

// DiscordTransport implements Transport on top of a Discord bot
// account. Contacts are the users who have DM'd the bot; relaying
// happens over DM channels. Discord has no friend-request flow for
// bots, so every known contact reports as an established relationship
// and the accept/ignore operations are no-ops.
//
// The gateway couples dialing and authentication in a single Open call,
// so Connect only reports readiness and the actual dial happens in
// LogOn, with the outcome delivered through the Authenticated handler.
type DiscordTransport struct {
	logger *slog.Logger
	queue  *eventQueue

	mu       sync.RWMutex
	session  *discordgo.Session
	contacts map[string]*discordContact
}

func NewDiscordTransport(logger *slog.Logger) *DiscordTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &DiscordTransport{
		logger:   logger.With(loggerNameKey, "discord"),
		queue:    newEventQueue(discordEventQueueSize),
		contacts: map[string]*discordContact{},
	}
}

func (d *DiscordTransport) RegisterHandlers(h EventHandlers) {
	d.queue.register(h)
}

func (d *DiscordTransport) PumpEvents(maxWait time.Duration) {
	d.queue.pump(maxWait)
}

func (d *DiscordTransport) push(ev func(EventHandlers)) {
	if !d.queue.push(ev) {
		d.logger.Warn("event queue full, dropping event")
	}
}

func (d *DiscordTransport) Connect() error {
	d.push(func(h EventHandlers) {
		if h.Connected != nil {
			h.Connected(nil)
		}
	})
	return nil
}

// LogOn dials the Discord gateway as the given bot account. The
// credential is the bot token; the identity is kept for logging only,
// since the token already pins the account.
func (d *DiscordTransport) LogOn(identity string, credential string) error {
	session, err := d.newSession(identity, credential)
	if err != nil {
		return err
	}
	if err = session.Open(); err != nil {
		return fmt.Errorf("error opening discord gateway: %w", err)
	}
	d.storeSession(session)
	return nil
}

// newSession builds a configured, unopened gateway session. The
// library's own auto-reconnect is disabled: the owning connection
// supervises all retries, and a session resuming itself underneath
// that would leave two live sessions pushing into the same queue,
// relaying every message twice.
func (d *DiscordTransport) newSession(
	identity string,
	credential string,
) (*discordgo.Session, error) {
	session, err := discordgo.New("Bot " + credential)
	if err != nil {
		return nil, fmt.Errorf("error creating discord session: %w", err)
	}
	session.ShouldReconnectOnError = false
	session.Identify.Intents = discordgo.IntentsDirectMessages |
		discordgo.IntentsGuildPresences
	session.StateEnabled = false

	session.AddHandler(
		func(_ *discordgo.Session, _ *discordgo.Ready) {
			d.logger.Info("gateway ready", "account", identity)
			d.push(func(h EventHandlers) {
				if h.Authenticated != nil {
					h.Authenticated(nil)
				}
			})
		},
	)
	session.AddHandler(
		func(_ *discordgo.Session, _ *discordgo.Disconnect) {
			d.push(func(h EventHandlers) {
				if h.Disconnected != nil {
					h.Disconnected()
				}
			})
		},
	)
	session.AddHandler(d.handleMessageCreate)
	session.AddHandler(d.handlePresenceUpdate)
	return session, nil
}

// storeSession swaps in a freshly opened session, closing whatever a
// previous logon on this adapter left behind so superseded sessions
// don't keep their sockets and handler goroutines alive.
func (d *DiscordTransport) storeSession(session *discordgo.Session) {
	d.mu.Lock()
	prev := d.session
	d.session = session
	d.mu.Unlock()
	if prev != nil {
		if err := prev.Close(); err != nil {
			d.logger.Warn("error closing superseded session", tint.Err(err))
		}
	}
}

func (d *DiscordTransport) handleMessageCreate(
	_ *discordgo.Session,
	m *discordgo.MessageCreate,
) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	// Only direct messages participate in the relay
	if m.GuildID != "" {
		return
	}

	name := m.Author.GlobalName
	if name == "" {
		name = m.Author.Username
	}

	d.mu.Lock()
	contact, known := d.contacts[m.Author.ID]
	if !known {
		contact = &discordContact{status: discordgo.StatusOnline}
		d.contacts[m.Author.ID] = contact
	}
	contact.name = name
	contact.channelID = m.ChannelID
	relationships := d.relationshipsLocked()
	d.mu.Unlock()

	if !known {
		// A newly-seen contact is a relationship-list change
		d.push(func(h EventHandlers) {
			if h.RelationshipsUpdated != nil {
				h.RelationshipsUpdated(relationships)
			}
		})
	}

	identity := m.Author.ID
	text := m.Content
	d.push(func(h EventHandlers) {
		if h.MessageReceived != nil {
			h.MessageReceived(identity, text)
		}
	})
}

func (d *DiscordTransport) handlePresenceUpdate(
	_ *discordgo.Session,
	p *discordgo.PresenceUpdate,
) {
	if p.User == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	contact, ok := d.contacts[p.User.ID]
	if !ok {
		return
	}
	contact.status = p.Status
	contact.activity = ""
	if len(p.Activities) > 0 && p.Activities[0] != nil {
		contact.activity = p.Activities[0].Name
	}
}

func (d *DiscordTransport) Disconnect() error {
	d.mu.Lock()
	session := d.session
	d.session = nil
	d.mu.Unlock()
	if session == nil {
		return nil
	}
	return session.Close()
}

func (d *DiscordTransport) currentSession() *discordgo.Session {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.session
}

func (d *DiscordTransport) SendMessage(target string, text string) error {
	session := d.currentSession()
	if session == nil {
		return fmt.Errorf("not connected")
	}

	d.mu.RLock()
	contact, ok := d.contacts[target]
	channelID := ""
	if ok {
		channelID = contact.channelID
	}
	d.mu.RUnlock()

	if channelID == "" {
		channel, err := session.UserChannelCreate(target)
		if err != nil {
			return fmt.Errorf("error opening dm channel: %w", err)
		}
		channelID = channel.ID
		d.mu.Lock()
		if contact, ok = d.contacts[target]; ok {
			contact.channelID = channelID
		}
		d.mu.Unlock()
	}

	if _, err := session.ChannelMessageSend(channelID, text); err != nil {
		return fmt.Errorf("error sending message: %w", err)
	}
	return nil
}

func (d *DiscordTransport) EnumerateContacts() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	identities := make([]string, 0, len(d.contacts))
	for identity := range d.contacts {
		identities = append(identities, identity)
	}
	return identities
}

func (d *DiscordTransport) RelationshipSnapshot() []Relationship {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.relationshipsLocked()
}

func (d *DiscordTransport) relationshipsLocked() []Relationship {
	snapshot := make([]Relationship, 0, len(d.contacts))
	for identity := range d.contacts {
		snapshot = append(
			snapshot,
			Relationship{Identity: identity, State: RelationshipFriend},
		)
	}
	return snapshot
}

func (d *DiscordTransport) AcceptContact(identity string) error {
	// No friend-request flow on this transport
	return nil
}

func (d *DiscordTransport) IgnoreContact(identity string) error {
	return nil
}

func (d *DiscordTransport) RemoveContact(identity string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.contacts, identity)
	return nil
}

func (d *DiscordTransport) SetDisplayName(name string) error {
	session := d.currentSession()
	if session == nil {
		return fmt.Errorf("not connected")
	}
	if _, err := session.UserUpdate(name, "", ""); err != nil {
		return fmt.Errorf("error updating display name: %w", err)
	}
	return nil
}

func (d *DiscordTransport) SetPresence(p Presence) error {
	session := d.currentSession()
	if session == nil {
		return fmt.Errorf("not connected")
	}
	status := string(discordgo.StatusOnline)
	switch p {
	case PresenceAway:
		status = string(discordgo.StatusIdle)
	case PresenceOffline:
		status = string(discordgo.StatusInvisible)
	}
	return session.UpdateStatusComplex(discordgo.UpdateStatusData{Status: status})
}

func (d *DiscordTransport) DisplayName(identity string) string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if contact, ok := d.contacts[identity]; ok && contact.name != "" {
		return contact.name
	}
	return identity
}

func (d *DiscordTransport) PresenceState(identity string) Presence {
	d.mu.RLock()
	defer d.mu.RUnlock()
	contact, ok := d.contacts[identity]
	if !ok {
		return PresenceOffline
	}
	switch contact.status {
	case discordgo.StatusOffline, discordgo.StatusInvisible:
		return PresenceOffline
	case discordgo.StatusIdle:
		return PresenceAway
	default:
		return PresenceOnline
	}
}

func (d *DiscordTransport) CurrentActivity(identity string) string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if contact, ok := d.contacts[identity]; ok {
		return contact.activity
	}
	return ""
}

var _ Transport = (*DiscordTransport)(nil)
