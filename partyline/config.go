package partyline

import (
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	EnvvarSetEnvPrefix = "PARTYLINE_ENV_PREFIX"
	DefaultEnvPrefix   = "PL"

	// DefaultChannel is the channel chatters land on when no prior
	// preference is recorded for them.
	DefaultChannel = "partyline"

	DefaultChannelsFile = "channels.cfg"
	DefaultUsersFile    = "users.cfg"
	DefaultSettingsFile = "settings.cfg"
	DefaultLogDir       = "logs"

	DefaultLogLevel          = slog.LevelInfo
	DefaultTransportLogLevel = slog.LevelWarn
	DefaultAPILogLevel       = slog.LevelInfo

	// DefaultRetryDelay is the fixed wait between reconnect and re-login
	// attempts. There is no backoff growth and no retry cap.
	DefaultRetryDelay = 5 * time.Second

	// DefaultPollInterval is how long each connection loop waits on the
	// transport for pending events before checking for a stop signal.
	DefaultPollInterval = time.Second

	// DefaultSendsPerSecond throttles outbound chat messages per
	// connection, keeping fan-out bursts under protocol rate limits.
	DefaultSendsPerSecond = 4
	DefaultSendBurst      = 8

	DefaultAPIListen         = "127.0.0.1:5050"
	DefaultReadTimeout       = 5 * time.Second
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultIdleTimeout       = 30 * time.Second

	DefaultShutdownTimeout = 30 * time.Second
)

var structValidator = validator.New(validator.WithRequiredStructEnabled())

// Config is the static process configuration. Channel definitions, the
// bot display name and the administrator identity deliberately do NOT
// live here: they are re-read from the flat-file stores on every lookup
// so operators can edit them without a restart.
//
//nolint:lll // struct tags can't be split
type Config struct {
	// ChannelsFile is the channel directory source (`name|spec` lines)
	ChannelsFile string `yaml:"channels_file" mapstructure:"channels_file" json:"channels_file" validate:"required"`

	// UsersFile persists each chatter's last channel across restarts
	UsersFile string `yaml:"users_file" mapstructure:"users_file" json:"users_file" validate:"required"`

	// SettingsFile holds `key|value` settings (botname, adminid)
	SettingsFile string `yaml:"settings_file" mapstructure:"settings_file" json:"settings_file" validate:"required"`

	// LogDir is where per-channel history logs are appended
	LogDir string `yaml:"log_dir" mapstructure:"log_dir" json:"log_dir" validate:"required"`

	// Connections started at boot. More can be added at runtime through
	// the operator API.
	Connections []ConnectionCredentials `yaml:"connections" mapstructure:"connections" json:"connections" validate:"dive"`

	// RetryDelay is the fixed delay between connect/login retries
	RetryDelay time.Duration `yaml:"retry_delay" mapstructure:"retry_delay" json:"retry_delay" validate:"min=100ms"`

	// PollInterval is the transport event-poll interval per connection
	PollInterval time.Duration `yaml:"poll_interval" mapstructure:"poll_interval" json:"poll_interval" validate:"min=10ms"`

	// SendsPerSecond / SendBurst configure the per-connection outbound
	// message throttle
	SendsPerSecond float64 `yaml:"sends_per_second" mapstructure:"sends_per_second" json:"sends_per_second" validate:"gt=0"`
	SendBurst      int     `yaml:"send_burst" mapstructure:"send_burst" json:"send_burst" validate:"gte=1"`

	// API configures the operator HTTP surface
	API *APIConfig `yaml:"api" mapstructure:"api" json:"api" validate:"required"`

	// LogLevel is the base log level, for the default logger
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// TransportLogLevel sets the log level for transport adapters
	TransportLogLevel *slog.LevelVar `yaml:"transport_log_level" mapstructure:"transport_log_level" json:"transport_log_level"`

	// ShutdownTimeout is the time allowed for a graceful shutdown before
	// connections are abandoned
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" json:"shutdown_timeout"`
}

// ConnectionCredentials identifies one automated protocol account.
//
//nolint:lll // struct tags can't be split
type ConnectionCredentials struct {
	// Identity is the account's stable contact identifier
	Identity string `yaml:"identity" mapstructure:"identity" json:"identity" validate:"required"`

	// Credential authenticates the account against the transport
	Credential string `yaml:"credential" mapstructure:"credential" json:"credential" log:"[redacted]" validate:"required"`
}

// APIConfig configures the operator API server.
//
//nolint:lll // struct tags can't be split
type APIConfig struct {
	// The address and port on which the server should listen
	Listen string `yaml:"listen" mapstructure:"listen" json:"listen" validate:"required"`

	// Token is the bearer token required on every request. Empty
	// disables the operator API entirely.
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]"`

	// The logging level for the API server
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Maximum duration for reading the entire request, including the body
	ReadTimeout time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" json:"read_timeout" validate:"min=1s"`

	// Amount of time allowed to read request headers
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" mapstructure:"read_header_timeout" json:"read_header_timeout" validate:"min=1s"`

	// Maximum duration before timing out writes of the response
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" json:"write_timeout" validate:"min=1s"`

	// Maximum amount of time to wait for the next request when
	// keep-alives are enabled
	IdleTimeout time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" json:"idle_timeout" validate:"min=1s"`
}

// Validate checks the configuration against its struct tags.
func (c *Config) Validate() error {
	return structValidator.Struct(c)
}

// DefaultConfig returns a Config with all default settings populated
func DefaultConfig() *Config {
	mainLogLevel := &slog.LevelVar{}
	transportLogLevel := &slog.LevelVar{}
	apiLogLevel := &slog.LevelVar{}

	mainLogLevel.Set(DefaultLogLevel)
	transportLogLevel.Set(DefaultTransportLogLevel)
	apiLogLevel.Set(DefaultAPILogLevel)

	return &Config{
		ChannelsFile:      DefaultChannelsFile,
		UsersFile:         DefaultUsersFile,
		SettingsFile:      DefaultSettingsFile,
		LogDir:            DefaultLogDir,
		RetryDelay:        DefaultRetryDelay,
		PollInterval:      DefaultPollInterval,
		SendsPerSecond:    DefaultSendsPerSecond,
		SendBurst:         DefaultSendBurst,
		LogLevel:          mainLogLevel,
		TransportLogLevel: transportLogLevel,
		ShutdownTimeout:   DefaultShutdownTimeout,
		API: &APIConfig{
			Listen:            DefaultAPIListen,
			LogLevel:          apiLogLevel,
			ReadTimeout:       DefaultReadTimeout,
			ReadHeaderTimeout: DefaultReadHeaderTimeout,
			WriteTimeout:      DefaultWriteTimeout,
			IdleTimeout:       DefaultIdleTimeout,
		},
	}
}
