package partyline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lmittmann/tint"
)

var (
	// When building, set these like:
	// -ldflags "-X github.com/natehak/SteamGroupChatBot/partyline.Version=$$(date +'%Y%m%d')"

	Version   = "dev"
	CommitSHA = "unknown"
	BuildTime = "unknown"
)

// Partyline is the relay bot: the shared chatter registry, the channel
// directory, per-channel history, the message router and command
// interpreter, and the set of running connections. Connections come and
// go at runtime through the operator API; the registry and logs are
// shared across all of them.
type Partyline struct {
	config *Config
	logger *slog.Logger

	registry    *ChatterRegistry
	directory   *ChannelDirectory
	history     *HistoryLog
	router      *ChannelRouter
	reconciler  *FriendListReconciler
	interpreter *CommandInterpreter
	prefs       *PreferenceStore
	settings    *SettingsStore
	api         *API

	// newTransport builds the Transport for each new connection.
	// Defaults to the Discord adapter; tests substitute mocks.
	newTransport func(logger *slog.Logger) Transport

	mu          sync.Mutex
	connections map[string]*Connection
	connWG      sync.WaitGroup
	runCtx      context.Context

	signalStop chan struct{}
	stopOnce   sync.Once
}

// New creates a Partyline from the given configuration.
func New(cfg *Config) (*Partyline, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := namedLogger("partyline", cfg.LogLevel)
	slog.SetDefault(logger)

	p := &Partyline{
		config:      cfg,
		logger:      logger,
		registry:    NewChatterRegistry(),
		directory:   NewChannelDirectory(cfg.ChannelsFile),
		history:     NewHistoryLog(cfg.LogDir),
		prefs:       NewPreferenceStore(cfg.UsersFile),
		settings:    NewSettingsStore(cfg.SettingsFile),
		connections: map[string]*Connection{},
		runCtx:      context.Background(),
		signalStop:  make(chan struct{}),
	}
	p.router = NewChannelRouter(p.registry, p.history, logger)
	p.reconciler = NewFriendListReconciler(p.registry, logger)
	p.interpreter = NewCommandInterpreter(
		p.registry, p.directory, p.history, p.router, p.settings, logger,
	)
	p.newTransport = func(l *slog.Logger) Transport {
		return NewDiscordTransport(l)
	}
	p.api = newAPI(p, cfg.API)

	return p, nil
}

// Run starts the operator API and the configured connections, then
// blocks until the context is cancelled or Stop is called. On the way
// out it stops every connection and rewrites the preference file from
// the current registry snapshot.
func (p *Partyline) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p.mu.Lock()
	p.runCtx = ctx
	p.mu.Unlock()

	if p.config.API.Token != "" {
		go func() {
			if err := p.api.Serve(ctx); err != nil {
				p.logger.Error("operator api stopped", tint.Err(err))
			}
		}()
	} else {
		p.logger.Warn("no api token configured, operator api disabled")
	}

	for _, creds := range p.config.Connections {
		if err := p.AddConnection(creds); err != nil {
			p.logger.Error(
				"error starting connection",
				tint.Err(err),
				"account", creds.Identity,
			)
		}
	}

	select {
	case <-ctx.Done():
		p.logger.Warn("context canceled, shutting down")
	case <-p.signalStop:
		p.logger.Info("stop requested, shutting down")
	}

	p.shutdown()
	return nil
}

// Stop requests a graceful shutdown. Safe to call more than once.
func (p *Partyline) Stop() {
	p.stopOnce.Do(
		func() {
			close(p.signalStop)
		},
	)
}

func (p *Partyline) shutdown() {
	p.mu.Lock()
	conns := make([]*Connection, 0, len(p.connections))
	for _, c := range p.connections {
		conns = append(conns, c)
	}
	p.connections = map[string]*Connection{}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, c := range conns {
			c.Stop()
		}
		p.connWG.Wait()
	}()

	select {
	case <-done:
	case <-time.After(p.config.ShutdownTimeout):
		p.logger.Error("timed out stopping connections")
	}

	if err := p.prefs.Save(p.registry.Channels()); err != nil {
		p.logger.Error("error saving user preferences", tint.Err(err))
	} else {
		p.logger.Info("saved user preferences")
	}
}

// AddConnection creates, registers and starts a connection for the
// given account. Fails if a connection with the same identity exists.
func (p *Partyline) AddConnection(creds ConnectionCredentials) error {
	transport := p.newTransport(
		namedLogger("transport", p.config.TransportLogLevel).With(
			"account", creds.Identity,
		),
	)

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.connections[creds.Identity]; exists {
		return fmt.Errorf("connection %q already exists", creds.Identity)
	}

	conn := newConnection(
		creds,
		transport,
		p.registry,
		p.prefs,
		p.settings,
		p.reconciler,
		p.interpreter.HandleMessage,
		p.config,
		p.logger,
	)
	p.connections[creds.Identity] = conn

	runCtx := p.runCtx
	p.connWG.Add(1)
	go func() {
		defer p.connWG.Done()
		conn.Run(runCtx)
	}()
	return nil
}

// RemoveConnection stops and unregisters the named connection. Other
// connections are unaffected.
func (p *Partyline) RemoveConnection(identity string) error {
	p.mu.Lock()
	conn, ok := p.connections[identity]
	delete(p.connections, identity)
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("no connection %q", identity)
	}
	conn.Stop()
	return nil
}

// RemoveChatter removes a chatter from the registry and severs the
// underlying relationship through the chatter's owning connection.
func (p *Partyline) RemoveChatter(identity string) error {
	chatter, err := p.registry.Get(identity)
	if err != nil {
		return err
	}
	if chatter.conn != nil {
		if err = chatter.conn.transport.RemoveContact(identity); err != nil {
			p.logger.Error(
				"error removing contact",
				tint.Err(err),
				"identity", identity,
			)
		}
	}
	return p.registry.Remove(identity)
}

// GlobalBroadcast sends a global message to every known chatter.
func (p *Partyline) GlobalBroadcast(message string) {
	p.router.GlobalBroadcast(message)
}

// ConnectionStates reports each connection's supervisor state, keyed by
// account identity.
func (p *Partyline) ConnectionStates() map[string]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	states := make(map[string]string, len(p.connections))
	for identity, conn := range p.connections {
		states[identity] = conn.State().String()
	}
	return states
}
