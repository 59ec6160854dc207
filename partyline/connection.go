package partyline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/lmittmann/tint"
	"golang.org/x/time/rate"
)

// ConnState is a connection supervisor state.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateAuthenticating
	StateOnline
	StateStopping
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateAuthenticating:
		return "authenticating"
	case StateOnline:
		return "online"
	case StateStopping:
		return "stopping"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// settingBotName is the settings key for the bot account display name.
const settingBotName = "botname"

// Connection supervises one transport session: connect, authenticate,
// recover from failures with a fixed delay (indefinitely, no backoff
// growth, no retry cap), and stop cleanly on request. Each connection
// runs its own event loop goroutine, polling the transport on a fixed
// interval; all transport event handlers run on that goroutine.
type Connection struct {
	identity   string
	credential string
	transport  Transport

	registry   *ChatterRegistry
	prefs      *PreferenceStore
	settings   *SettingsStore
	reconciler *FriendListReconciler

	// handleMessage receives every inbound chat message once online
	handleMessage func(conn *Connection, identity string, text string)

	logger       *slog.Logger
	limiter      *rate.Limiter
	pollInterval time.Duration
	retryDelay   time.Duration

	state    atomic.Int32
	stopping atomic.Bool
	stopCh   chan struct{}
	stopped  chan struct{}

	runCtx context.Context

	metricConnects    atomic.Int64
	metricDisconnects atomic.Int64
}

func newConnection(
	creds ConnectionCredentials,
	transport Transport,
	registry *ChatterRegistry,
	prefs *PreferenceStore,
	settings *SettingsStore,
	reconciler *FriendListReconciler,
	handleMessage func(conn *Connection, identity string, text string),
	cfg *Config,
	logger *slog.Logger,
) *Connection {
	if logger == nil {
		logger = slog.Default()
	}
	return &Connection{
		identity:      creds.Identity,
		credential:    creds.Credential,
		transport:     transport,
		registry:      registry,
		prefs:         prefs,
		settings:      settings,
		reconciler:    reconciler,
		handleMessage: handleMessage,
		logger: logger.With(
			loggerNameKey, "connection",
			"account", creds.Identity,
		),
		limiter:      rate.NewLimiter(rate.Limit(cfg.SendsPerSecond), cfg.SendBurst),
		pollInterval: cfg.PollInterval,
		retryDelay:   cfg.RetryDelay,
		stopCh:       make(chan struct{}),
		stopped:      make(chan struct{}),
		runCtx:       context.Background(),
	}
}

// Identity is the account identity this connection authenticates as.
func (c *Connection) Identity() string {
	return c.identity
}

// State returns the supervisor's current state.
func (c *Connection) State() ConnState {
	return ConnState(c.state.Load())
}

func (c *Connection) setState(s ConnState) {
	prev := ConnState(c.state.Swap(int32(s)))
	if prev != s {
		c.logger.Debug("state change", "from", prev.String(), "to", s.String())
	}
}

// Send delivers one outbound chat message through this connection,
// waiting on the send throttle first. The wait aborts when the
// connection is stopped.
func (c *Connection) Send(identity string, text string) error {
	if err := c.limiter.Wait(c.runCtx); err != nil {
		return fmt.Errorf("send throttle: %w", err)
	}
	return c.transport.SendMessage(identity, text)
}

// Run is the connection's event loop. It registers the handler set,
// initiates the first connect, and pumps transport events until the
// context is cancelled or Stop is called. Blocks until shutdown is
// complete; callers run it on its own goroutine.
func (c *Connection) Run(ctx context.Context) {
	defer close(c.stopped)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.runCtx = ctx

	c.transport.RegisterHandlers(
		EventHandlers{
			Connected:            c.onConnected,
			Disconnected:         c.onDisconnected,
			Authenticated:        c.onAuthenticated,
			RelationshipsUpdated: c.onRelationships,
			MessageReceived:      c.onMessage,
		},
	)

	c.logger.Info("starting connection")
	c.connect()

	for {
		select {
		case <-ctx.Done():
			c.logger.Warn("context canceled")
			c.shutdown()
			return
		case <-c.stopCh:
			c.logger.Info("got stop signal")
			c.shutdown()
			return
		default:
		}
		c.transport.PumpEvents(c.pollInterval)
	}
}

// Stop requests a graceful stop and waits for the event loop to exit.
// The stop flag also cancels any in-flight retry delay, so a
// stop-triggered disconnect never reconnects. Safe to call more than
// once; stopping one connection does not affect others.
func (c *Connection) Stop() {
	if c.stopping.Swap(true) {
		<-c.stopped
		return
	}
	close(c.stopCh)
	<-c.stopped
}

func (c *Connection) shutdown() {
	c.stopping.Store(true)
	c.setState(StateStopping)
	if err := c.transport.Disconnect(); err != nil {
		c.logger.Error("error disconnecting", tint.Err(err))
	}
	c.setState(StateDisconnected)
	c.logger.Info("connection stopped")
}

// waitRetry sleeps for the fixed retry delay. Returns false when the
// connection was stopped while waiting.
func (c *Connection) waitRetry() bool {
	timer := time.NewTimer(c.retryDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return !c.stopping.Load()
	case <-c.stopCh:
		return false
	case <-c.runCtx.Done():
		return false
	}
}

// connect starts a session attempt. When the transport can't even
// start the attempt, it retries on the fixed delay in a flat loop, so
// an indefinitely failing transport runs in constant stack.
func (c *Connection) connect() {
	for {
		if c.stopping.Load() {
			return
		}
		c.setState(StateConnecting)
		err := c.transport.Connect()
		if err == nil {
			return
		}
		c.logger.Error("unable to connect", tint.Err(err))
		c.setState(StateDisconnected)
		if !c.waitRetry() {
			return
		}
	}
}

func (c *Connection) logOn() {
	for {
		if c.stopping.Load() {
			return
		}
		c.setState(StateAuthenticating)
		err := c.transport.LogOn(c.identity, c.credential)
		if err == nil {
			return
		}
		c.logger.Error("unable to log on", tint.Err(err))
		if !c.waitRetry() {
			return
		}
	}
}

func (c *Connection) onConnected(err error) {
	if err != nil {
		c.logger.Error("unable to connect", tint.Err(err))
		c.setState(StateDisconnected)
		if c.waitRetry() {
			c.connect()
		}
		return
	}
	c.metricConnects.Add(1)
	c.setState(StateConnected)
	c.logger.Info("connected, logging in")
	c.logOn()
}

func (c *Connection) onAuthenticated(err error) {
	if err != nil {
		c.logger.Error("unable to log on", tint.Err(err))
		if c.waitRetry() {
			c.logOn()
		}
		return
	}
	c.setState(StateOnline)
	c.logger.Info("logged on")
	c.goOnline()
}

func (c *Connection) onDisconnected() {
	c.metricDisconnects.Add(1)
	c.setState(StateDisconnected)
	if c.stopping.Load() {
		return
	}
	c.logger.Warn("connection lost")
	if c.waitRetry() {
		c.connect()
	}
}

// goOnline runs once per successful logon: set the bot's display name
// and presence, then pull the contact list into the registry.
func (c *Connection) goOnline() {
	if botName, err := c.settings.Get(settingBotName); err == nil {
		if nameErr := c.transport.SetDisplayName(botName); nameErr != nil {
			c.logger.Error("error setting display name", tint.Err(nameErr))
		}
	} else if !errors.Is(err, ErrSettingNotFound) {
		c.logger.Error("error reading bot name", tint.Err(err))
	}
	if err := c.transport.SetPresence(PresenceOnline); err != nil {
		c.logger.Error("error setting presence", tint.Err(err))
	}

	c.enumerateContacts()
	c.reconciler.Reconcile(c, c.transport.RelationshipSnapshot())
}

// enumerateContacts registers every contact reachable through this
// session, restoring each one's persisted channel. Already-known
// identities keep their state.
func (c *Connection) enumerateContacts() {
	for _, identity := range c.transport.EnumerateContacts() {
		c.registry.Upsert(identity, c.prefs.Channel(identity), c)
	}
}

func (c *Connection) onRelationships(snapshot []Relationship) {
	c.enumerateContacts()
	c.reconciler.Reconcile(c, snapshot)
}

func (c *Connection) onMessage(identity string, text string) {
	if c.handleMessage == nil {
		return
	}
	c.handleMessage(c, identity, text)
}
