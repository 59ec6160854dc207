package partyline

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockTransport is an in-memory Transport for tests. Events are pushed
// through the same eventQueue the real adapter uses, so supervisor
// tests exercise the actual pump path.
type mockTransport struct {
	queue *eventQueue

	mu             sync.Mutex
	sent           map[string][]string
	contacts       []string
	relationships  []Relationship
	accepted       []string
	ignored        []string
	removed        []string
	names          map[string]string
	presences      map[string]Presence
	activities     map[string]string
	displayNameSet string

	// connectErr / logOnErr are reported asynchronously through the
	// event handlers; the *ReturnErr variants fail the call itself
	connectErr       error
	logOnErr         error
	connectReturnErr error
	logOnReturnErr   error
	sendErr          error

	connectCalls    int
	logOnCalls      int
	disconnectCalls int
}

func newMockTransport() *mockTransport {
	return &mockTransport{
		queue:      newEventQueue(64),
		sent:       map[string][]string{},
		names:      map[string]string{},
		presences:  map[string]Presence{},
		activities: map[string]string{},
	}
}

func (m *mockTransport) RegisterHandlers(h EventHandlers) {
	m.queue.register(h)
}

func (m *mockTransport) PumpEvents(maxWait time.Duration) {
	m.queue.pump(maxWait)
}

func (m *mockTransport) Connect() error {
	m.mu.Lock()
	m.connectCalls++
	err := m.connectErr
	retErr := m.connectReturnErr
	m.mu.Unlock()
	if retErr != nil {
		return retErr
	}
	m.queue.push(func(h EventHandlers) { h.Connected(err) })
	return nil
}

func (m *mockTransport) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnectCalls++
	return nil
}

func (m *mockTransport) LogOn(identity string, credential string) error {
	m.mu.Lock()
	m.logOnCalls++
	err := m.logOnErr
	retErr := m.logOnReturnErr
	m.mu.Unlock()
	if retErr != nil {
		return retErr
	}
	m.queue.push(func(h EventHandlers) { h.Authenticated(err) })
	return nil
}

func (m *mockTransport) SendMessage(target string, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent[target] = append(m.sent[target], text)
	return nil
}

func (m *mockTransport) sentTo(target string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.sent[target]))
	copy(out, m.sent[target])
	return out
}

func (m *mockTransport) counts() (connects int, logons int, disconnects int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connectCalls, m.logOnCalls, m.disconnectCalls
}

func (m *mockTransport) EnumerateContacts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.contacts))
	copy(out, m.contacts)
	return out
}

func (m *mockTransport) RelationshipSnapshot() []Relationship {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Relationship, len(m.relationships))
	copy(out, m.relationships)
	return out
}

func (m *mockTransport) AcceptContact(identity string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accepted = append(m.accepted, identity)
	return nil
}

func (m *mockTransport) IgnoreContact(identity string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ignored = append(m.ignored, identity)
	return nil
}

func (m *mockTransport) RemoveContact(identity string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removed = append(m.removed, identity)
	return nil
}

func (m *mockTransport) SetDisplayName(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.displayNameSet = name
	return nil
}

func (m *mockTransport) SetPresence(Presence) error {
	return nil
}

func (m *mockTransport) DisplayName(identity string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if name, ok := m.names[identity]; ok {
		return name
	}
	return identity
}

func (m *mockTransport) PresenceState(identity string) Presence {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.presences[identity]; ok {
		return p
	}
	return PresenceOnline
}

func (m *mockTransport) CurrentActivity(identity string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activities[identity]
}

var _ Transport = (*mockTransport)(nil)

// testEnv wires the core components around temp-dir flat files.
type testEnv struct {
	cfg         *Config
	registry    *ChatterRegistry
	directory   *ChannelDirectory
	history     *HistoryLog
	router      *ChannelRouter
	settings    *SettingsStore
	prefs       *PreferenceStore
	reconciler  *FriendListReconciler
	interpreter *CommandInterpreter
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()

	cfg := DefaultConfig()
	cfg.ChannelsFile = filepath.Join(dir, "channels.cfg")
	cfg.UsersFile = filepath.Join(dir, "users.cfg")
	cfg.SettingsFile = filepath.Join(dir, "settings.cfg")
	cfg.LogDir = filepath.Join(dir, "logs")
	cfg.PollInterval = 5 * time.Millisecond
	cfg.RetryDelay = 25 * time.Millisecond
	cfg.SendsPerSecond = 10000
	cfg.SendBurst = 10000

	env := &testEnv{
		cfg:       cfg,
		registry:  NewChatterRegistry(),
		directory: NewChannelDirectory(cfg.ChannelsFile),
		history:   NewHistoryLog(cfg.LogDir),
		settings:  NewSettingsStore(cfg.SettingsFile),
		prefs:     NewPreferenceStore(cfg.UsersFile),
	}
	logger := quietLogger()
	env.router = NewChannelRouter(env.registry, env.history, logger)
	env.reconciler = NewFriendListReconciler(env.registry, logger)
	env.interpreter = NewCommandInterpreter(
		env.registry,
		env.directory,
		env.history,
		env.router,
		env.settings,
		logger,
	)
	return env
}

func (e *testEnv) writeChannels(t *testing.T, content string) {
	t.Helper()
	if err := os.WriteFile(e.cfg.ChannelsFile, []byte(content), 0o644); err != nil {
		t.Fatalf("error writing channels file: %v", err)
	}
}

func (e *testEnv) writeSettings(t *testing.T, content string) {
	t.Helper()
	if err := os.WriteFile(e.cfg.SettingsFile, []byte(content), 0o644); err != nil {
		t.Fatalf("error writing settings file: %v", err)
	}
}

func (e *testEnv) writeUsers(t *testing.T, content string) {
	t.Helper()
	if err := os.WriteFile(e.cfg.UsersFile, []byte(content), 0o644); err != nil {
		t.Fatalf("error writing users file: %v", err)
	}
}

// newConnection builds a Connection around a fresh mock transport,
// wired to the env's interpreter. The connection is not started; tests
// that need the event loop call Run themselves.
func (e *testEnv) newConnection(identity string) (*Connection, *mockTransport) {
	transport := newMockTransport()
	conn := newConnection(
		ConnectionCredentials{Identity: identity, Credential: "hunter2"},
		transport,
		e.registry,
		e.prefs,
		e.settings,
		e.reconciler,
		e.interpreter.HandleMessage,
		e.cfg,
		quietLogger(),
	)
	return conn, transport
}

// addChatter registers a chatter on the given connection and applies
// the channel/active overrides.
func (e *testEnv) addChatter(
	t *testing.T,
	conn *Connection,
	identity string,
	channel string,
	active bool,
) {
	t.Helper()
	e.registry.Upsert(identity, channel, conn)
	if err := e.registry.SetActive(identity, active); err != nil {
		t.Fatalf("error setting active: %v", err)
	}
}
