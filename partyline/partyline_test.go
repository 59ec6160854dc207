package partyline

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// transportFactory hands out mock transports and remembers them so
// tests can reach the transport behind a connection started through
// Partyline.
type transportFactory struct {
	mu      sync.Mutex
	created []*mockTransport
}

func newTransportFactory() *transportFactory {
	return &transportFactory{}
}

func (f *transportFactory) newTransport(*slog.Logger) Transport {
	f.mu.Lock()
	defer f.mu.Unlock()
	transport := newMockTransport()
	f.created = append(f.created, transport)
	return transport
}

// transportAt returns the n-th transport handed out, or nil.
func (f *transportFactory) transportAt(n int) *mockTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n >= len(f.created) {
		return nil
	}
	return f.created[n]
}

func newTestPartyline(t *testing.T) (*Partyline, *transportFactory) {
	t.Helper()
	dir := t.TempDir()

	cfg := DefaultConfig()
	cfg.ChannelsFile = filepath.Join(dir, "channels.cfg")
	cfg.UsersFile = filepath.Join(dir, "users.cfg")
	cfg.SettingsFile = filepath.Join(dir, "settings.cfg")
	cfg.LogDir = filepath.Join(dir, "logs")
	cfg.PollInterval = 10 * time.Millisecond
	cfg.RetryDelay = 100 * time.Millisecond
	cfg.ShutdownTimeout = 2 * time.Second
	cfg.API.Token = "s3cret"
	cfg.LogLevel.Set(slog.LevelError)
	cfg.TransportLogLevel.Set(slog.LevelError)
	cfg.API.LogLevel.Set(slog.LevelError)

	pl, err := New(cfg)
	require.NoError(t, err)

	factory := newTransportFactory()
	pl.newTransport = factory.newTransport
	return pl, factory
}

func TestPartylineRunLifecycle(t *testing.T) {
	pl, _ := newTestPartyline(t)
	pl.config.API.Token = ""
	pl.config.Connections = []ConnectionCredentials{
		{Identity: "bot1", Credential: "hunter2"},
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = pl.Run(context.Background())
	}()

	require.Eventually(t, func() bool {
		states := pl.ConnectionStates()
		return states["bot1"] == StateOnline.String()
	}, eventuallyWait, eventuallyTick)

	pl.registry.Upsert("1001", "general", nil)

	pl.Stop()
	select {
	case <-done:
	case <-time.After(eventuallyWait):
		t.Fatal("run did not exit after stop")
	}

	// Preferences are rewritten from the registry on the way out
	data, err := os.ReadFile(pl.config.UsersFile)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	assert.Equal(t, usersFileHeader, lines[0])
	assert.Contains(t, lines, "1001|general")
}

func TestPartylineAddRemoveConnection(t *testing.T) {
	pl, _ := newTestPartyline(t)

	creds := ConnectionCredentials{Identity: "bot1", Credential: "hunter2"}
	require.NoError(t, pl.AddConnection(creds))
	assert.Error(t, pl.AddConnection(creds))

	require.Eventually(t, func() bool {
		return pl.ConnectionStates()["bot1"] == StateOnline.String()
	}, eventuallyWait, eventuallyTick)

	require.NoError(t, pl.RemoveConnection("bot1"))
	assert.Empty(t, pl.ConnectionStates())
	assert.Error(t, pl.RemoveConnection("bot1"))
}

func TestPartylineStoppingOneConnectionLeavesOthers(t *testing.T) {
	pl, _ := newTestPartyline(t)

	require.NoError(
		t, pl.AddConnection(ConnectionCredentials{Identity: "bot1", Credential: "a"}),
	)
	require.NoError(
		t, pl.AddConnection(ConnectionCredentials{Identity: "bot2", Credential: "b"}),
	)

	require.Eventually(t, func() bool {
		states := pl.ConnectionStates()
		return states["bot1"] == StateOnline.String() &&
			states["bot2"] == StateOnline.String()
	}, eventuallyWait, eventuallyTick)

	require.NoError(t, pl.RemoveConnection("bot1"))

	assert.Equal(
		t,
		map[string]string{"bot2": StateOnline.String()},
		pl.ConnectionStates(),
	)
	t.Cleanup(func() { _ = pl.RemoveConnection("bot2") })
}

func TestPartylineRemoveChatter(t *testing.T) {
	pl, factory := newTestPartyline(t)

	require.NoError(
		t, pl.AddConnection(ConnectionCredentials{Identity: "bot1", Credential: "a"}),
	)
	t.Cleanup(func() { _ = pl.RemoveConnection("bot1") })

	require.Eventually(t, func() bool {
		return pl.ConnectionStates()["bot1"] == StateOnline.String()
	}, eventuallyWait, eventuallyTick)

	pl.mu.Lock()
	conn := pl.connections["bot1"]
	pl.mu.Unlock()
	pl.registry.Upsert("1001", "", conn)

	require.NoError(t, pl.RemoveChatter("1001"))
	assert.Equal(t, 0, pl.registry.Len())

	transport := factory.transportAt(0)
	require.NotNil(t, transport)
	assert.Equal(t, []string{"1001"}, transport.removed)

	assert.ErrorIs(t, pl.RemoveChatter("1001"), ErrChatterNotFound)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ChannelsFile = ""
	_, err := New(cfg)
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.PollInterval = time.Millisecond
	_, err = New(cfg)
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.Connections = []ConnectionCredentials{{Identity: "bot1"}}
	_, err = New(cfg)
	assert.Error(t, err)
}

func TestDefaultConfigIsValid(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
}
