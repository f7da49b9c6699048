package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/alarm-bridge/internal/bus"
	"github.com/oshokin/alarm-bridge/internal/logger"
)

// Config holds the settings shared by the alarm-bridge binaries.
type Config struct {
	// ServerAddress is the gRPC bridge address: the observer listens on its
	// port and alarm-ctl dials it.
	ServerAddress string `yaml:"server_addr"`
	// WebsocketAddress enables the websocket event stream when set.
	WebsocketAddress string `yaml:"websocket_addr,omitempty"`
	// Timeout is the duration for RPC calls and startup retries.
	Timeout time.Duration `yaml:"timeout"`
	// LogLevel is a zap level name.
	LogLevel string `yaml:"log_level"`
	// LogFormat is "console" or "json".
	LogFormat string `yaml:"log_format"`
	// Source selects and configures the alarm authority.
	Source Source `yaml:"source"`
	// Session tunes the observation loop.
	Session Session `yaml:"session"`
	// Bus tunes event delivery.
	Bus Bus `yaml:"bus"`
	// Relays forwards events to external brokers.
	Relays Relays `yaml:"relays"`
}

// Source configures the alarm authority.
type Source struct {
	// Kind is one of the SourceKind constants.
	Kind string `yaml:"kind"`
	// File is the YAML registry path for the file source.
	File string `yaml:"file,omitempty"`
	// Redis configures the redis source.
	Redis Redis `yaml:"redis,omitempty"`
	// SQL configures the sql source.
	SQL SQL `yaml:"sql,omitempty"`
	// SnoozeDuration is applied by the memory source on snooze.
	SnoozeDuration time.Duration `yaml:"snooze,omitempty"`
	// FireCheckInterval is how often the memory source fires due alarms.
	FireCheckInterval time.Duration `yaml:"fire_check_interval,omitempty"`
}

// Redis holds a redis connection and the registry keys.
type Redis struct {
	// Addr is host:port of the server.
	Addr string `yaml:"addr,omitempty"`
	// Password is optional.
	Password string `yaml:"password,omitempty"`
	// DB is the database index.
	DB int `yaml:"db,omitempty"`
	// Key is the alarm hash.
	Key string `yaml:"key,omitempty"`
	// Channel announces registry changes.
	Channel string `yaml:"channel,omitempty"`
}

// SQL holds a database connection.
type SQL struct {
	// Driver is "sqlite" or "postgres".
	Driver string `yaml:"driver,omitempty"`
	// DSN is the driver specific data source name.
	DSN string `yaml:"dsn,omitempty"`
	// CreateSchema creates the alarms table on startup.
	CreateSchema bool `yaml:"create_schema,omitempty"`
}

// Session tunes the observation loop.
type Session struct {
	// PollInterval is the polling period when no push channel is available.
	PollInterval time.Duration `yaml:"poll_interval"`
	// ForcePolling ignores push notifications of the source.
	ForcePolling bool `yaml:"force_polling,omitempty"`
	// SourceTimeout bounds one read of the source.
	SourceTimeout time.Duration `yaml:"source_timeout"`
}

// Bus tunes event delivery.
type Bus struct {
	// MaxAttempts bounds delivery attempts per event and subscriber.
	MaxAttempts int `yaml:"max_attempts"`
	// RetryBackoff is the pause between attempts.
	RetryBackoff time.Duration `yaml:"retry_backoff"`
	// PendingWarning is the mailbox size that triggers a warning.
	PendingWarning int `yaml:"pending_warning"`
}

// Relays lists the optional event relays.
type Relays struct {
	// RedisStream appends events to a redis stream.
	RedisStream *RedisStream `yaml:"redis_stream,omitempty"`
	// MQTT publishes events to an MQTT broker.
	MQTT *MQTT `yaml:"mqtt,omitempty"`
}

// RedisStream configures the redis stream relay.
type RedisStream struct {
	// Redis is the connection; Key and Channel are unused.
	Redis Redis `yaml:"redis"`
	// Stream is the stream name.
	Stream string `yaml:"stream"`
	// MaxLen trims the stream approximately to this length; zero keeps everything.
	MaxLen int64 `yaml:"max_len,omitempty"`
	// Kinds filters relayed events; empty means all kinds.
	Kinds []string `yaml:"kinds,omitempty"`
}

// MQTT configures the MQTT relay.
type MQTT struct {
	// Broker is the broker URL, for example tcp://127.0.0.1:1883.
	Broker string `yaml:"broker"`
	// ClientID identifies the relay.
	ClientID string `yaml:"client_id"`
	// Username is optional.
	Username string `yaml:"username,omitempty"`
	// Password is optional.
	Password string `yaml:"password,omitempty"`
	// TopicPrefix is prepended to the event kind.
	TopicPrefix string `yaml:"topic_prefix"`
	// QoS is 0, 1 or 2.
	QoS byte `yaml:"qos"`
	// Kinds filters relayed events; empty means all kinds.
	Kinds []string `yaml:"kinds,omitempty"`
}

// Source kinds.
const (
	SourceMemory = "memory"
	SourceFile   = "file"
	SourceRedis  = "redis"
	SourceSQL    = "sql"
)

const (
	// DefaultConfigFilename is the default filename for settings.
	DefaultConfigFilename = "alarm-bridge-settings.yaml"

	// DefaultServerAddress is used when no bridge address is configured.
	DefaultServerAddress = "127.0.0.1:50551"

	// DefaultAlarmFilename is the default registry for the file source.
	DefaultAlarmFilename = "alarms.yaml"

	// DefaultRedisAddress is the default redis server.
	DefaultRedisAddress = "127.0.0.1:6379"

	// DefaultTimeout is the default duration for network operations.
	DefaultTimeout = 5 * time.Second

	// DefaultPollInterval is the default polling period.
	DefaultPollInterval = 5 * time.Second

	// DefaultFireCheckInterval is how often the memory source looks for due alarms.
	DefaultFireCheckInterval = time.Second

	// DefaultSnoozeDuration is the memory source snooze.
	DefaultSnoozeDuration = 9 * time.Minute

	// DefaultMaxAttempts is the default delivery attempts per event.
	DefaultMaxAttempts = 3

	// DefaultRetryBackoff is the default pause between delivery attempts.
	DefaultRetryBackoff = 200 * time.Millisecond

	// DefaultPendingWarning is the default mailbox warning threshold.
	DefaultPendingWarning = 1024

	// DefaultStreamName is the default redis stream.
	DefaultStreamName = "alarm-bridge:events"

	// DefaultTopicPrefix is the default MQTT topic prefix.
	DefaultTopicPrefix = "alarm-bridge"

	// DefaultMQTTClientID is the default MQTT client id.
	DefaultMQTTClientID = "alarm-bridge-relay"

	// DefaultFilePermissions is the default file permission for config files.
	DefaultFilePermissions = 0o600
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errUnknownSource is returned for an unsupported source kind.
	errUnknownSource = errors.New("unknown source kind")
	// errDSNRequired is returned when the sql source has no DSN.
	errDSNRequired = errors.New("sql dsn must be provided")
	// errBrokerRequired is returned when the mqtt relay has no broker.
	errBrokerRequired = errors.New("mqtt broker must be provided")
)

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := new(Config)
	_ = Validate(cfg)

	return cfg
}

// Load reads configuration from the provided path and validates it.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes settings to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	// Restrict permissions.
	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate checks the settings and fills in defaults for empty fields.
func Validate(settings *Config) error {
	if settings == nil {
		return errConfigIsNotSet
	}

	if settings.ServerAddress == "" {
		settings.ServerAddress = DefaultServerAddress
	}

	if _, err := net.ResolveTCPAddr("tcp", settings.ServerAddress); err != nil {
		return fmt.Errorf("invalid server socket: %w", err)
	}

	if settings.WebsocketAddress != "" {
		if _, err := net.ResolveTCPAddr("tcp", settings.WebsocketAddress); err != nil {
			return fmt.Errorf("invalid websocket socket: %w", err)
		}
	}

	// Set default timeout if not specified
	if settings.Timeout <= 0 {
		settings.Timeout = DefaultTimeout
	}

	if settings.LogLevel == "" {
		settings.LogLevel = "info"
	}

	if _, ok := logger.ParseLogLevel(settings.LogLevel); !ok {
		return fmt.Errorf("invalid log level %q", settings.LogLevel)
	}

	switch strings.ToLower(settings.LogFormat) {
	case "":
		settings.LogFormat = logger.FormatConsole
	case logger.FormatConsole, logger.FormatJSON:
	default:
		return fmt.Errorf("invalid log format %q", settings.LogFormat)
	}

	if err := validateSource(&settings.Source); err != nil {
		return fmt.Errorf("source: %w", err)
	}

	validateSession(&settings.Session, settings.Timeout)
	validateBus(&settings.Bus)

	if err := validateRelays(&settings.Relays); err != nil {
		return fmt.Errorf("relays: %w", err)
	}

	return nil
}

// validateSource checks the authority settings.
func validateSource(source *Source) error {
	if source.Kind == "" {
		source.Kind = SourceMemory
	}

	switch source.Kind {
	case SourceMemory:
		if source.SnoozeDuration <= 0 {
			source.SnoozeDuration = DefaultSnoozeDuration
		}

		if source.FireCheckInterval <= 0 {
			source.FireCheckInterval = DefaultFireCheckInterval
		}
	case SourceFile:
		if source.File == "" {
			source.File = DefaultAlarmFilename
		}
	case SourceRedis:
		if source.Redis.Addr == "" {
			source.Redis.Addr = DefaultRedisAddress
		}
	case SourceSQL:
		switch source.SQL.Driver {
		case "sqlite", "postgres":
		default:
			return fmt.Errorf("unsupported sql driver %q", source.SQL.Driver)
		}

		if source.SQL.DSN == "" {
			return errDSNRequired
		}
	default:
		return fmt.Errorf("%w %q", errUnknownSource, source.Kind)
	}

	return nil
}

// validateSession fills in loop defaults.
func validateSession(session *Session, timeout time.Duration) {
	if session.PollInterval <= 0 {
		session.PollInterval = DefaultPollInterval
	}

	if session.SourceTimeout <= 0 {
		session.SourceTimeout = timeout
	}
}

// validateBus fills in delivery defaults.
func validateBus(b *Bus) {
	if b.MaxAttempts <= 0 {
		b.MaxAttempts = DefaultMaxAttempts
	}

	if b.RetryBackoff <= 0 {
		b.RetryBackoff = DefaultRetryBackoff
	}

	if b.PendingWarning <= 0 {
		b.PendingWarning = DefaultPendingWarning
	}
}

// validateRelays checks the optional relays.
func validateRelays(relays *Relays) error {
	if stream := relays.RedisStream; stream != nil {
		if stream.Redis.Addr == "" {
			stream.Redis.Addr = DefaultRedisAddress
		}

		if stream.Stream == "" {
			stream.Stream = DefaultStreamName
		}

		if stream.MaxLen < 0 {
			return fmt.Errorf("redis stream max_len must not be negative, got %d", stream.MaxLen)
		}

		if err := validateKinds(stream.Kinds); err != nil {
			return fmt.Errorf("redis stream: %w", err)
		}
	}

	if mqtt := relays.MQTT; mqtt != nil {
		if mqtt.Broker == "" {
			return errBrokerRequired
		}

		if mqtt.ClientID == "" {
			mqtt.ClientID = DefaultMQTTClientID
		}

		if mqtt.TopicPrefix == "" {
			mqtt.TopicPrefix = DefaultTopicPrefix
		}

		if mqtt.QoS > 2 {
			return fmt.Errorf("mqtt qos must be 0, 1 or 2, got %d", mqtt.QoS)
		}

		if err := validateKinds(mqtt.Kinds); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	return nil
}

// validateKinds checks event kind filters.
func validateKinds(kinds []string) error {
	for _, kind := range kinds {
		if _, err := bus.ParseKind(kind); err != nil {
			return err
		}
	}

	return nil
}

// ParseKinds converts validated kind names.
func ParseKinds(kinds []string) []bus.Kind {
	result := make([]bus.Kind, 0, len(kinds))

	for _, kind := range kinds {
		if parsed, err := bus.ParseKind(kind); err == nil {
			result = append(result, parsed)
		}
	}

	return result
}
