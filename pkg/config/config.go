package config

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Gateway      GatewayConfig
	Outbox       OutboxConfig
	Compensation CompensationConfig
	Channels     ChannelsConfig
	GCP          GCPConfig
	Refund       RefundConfig
	Cron         CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Gateway.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"KIOSK_APP_ENV" required:"true"`
	Port         string `envconfig:"KIOSK_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"KIOSK_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"KIOSK_LOG_WARN_STACK" default:"false"`

	CORSOrigins []string `envconfig:"KIOSK_CORS_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"KIOSK_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"KIOSK_DB_DSN"`
	Driver string `envconfig:"KIOSK_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"KIOSK_DB_HOST"`
	LegacyPort     int    `envconfig:"KIOSK_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"KIOSK_DB_USER"`
	LegacyPassword string `envconfig:"KIOSK_DB_PASSWORD"`
	LegacyName     string `envconfig:"KIOSK_DB_NAME"`
	LegacySSLMode  string `envconfig:"KIOSK_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"KIOSK_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"KIOSK_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"KIOSK_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"KIOSK_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"KIOSK_REDIS_URL"`
	Address      string        `envconfig:"KIOSK_REDIS_ADDR"`
	Password     string        `envconfig:"KIOSK_REDIS_PASSWORD"`
	DB           int           `envconfig:"KIOSK_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"KIOSK_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"KIOSK_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"KIOSK_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"KIOSK_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"KIOSK_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"KIOSK_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"KIOSK_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"KIOSK_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"KIOSK_AUTO_MIGRATE" default:"false"`
}

// GatewayConfig drives inbound gateway signature verification.
type GatewayConfig struct {
	ReplayTTL           time.Duration     `envconfig:"KIOSK_GATEWAY_REPLAY_TTL" default:"1h"`
	ReplayCheckDisabled bool              `envconfig:"KIOSK_GATEWAY_REPLAY_CHECK_DISABLED" default:"false"`
	Diagnostics         bool              `envconfig:"KIOSK_GATEWAY_DIAGNOSTICS" default:"false"`
	Secrets             map[string]string `envconfig:"KIOSK_GATEWAY_SECRETS"`
	SealKey             string            `envconfig:"KIOSK_GATEWAY_SEAL_KEY"`
	MaxBodyBytes        int64             `envconfig:"KIOSK_GATEWAY_MAX_BODY_BYTES" default:"1048576"`
	RateLimitPerMinute  int               `envconfig:"KIOSK_GATEWAY_RATE_LIMIT_PER_MINUTE" default:"120"`
}

// SecretKey maps a gateway serial to the lookup key used for its secret. Every
// character outside [A-Za-z0-9_] becomes an underscore.
func SecretKey(serial string) string {
	var b strings.Builder
	b.Grow(len(serial))
	for _, r := range serial {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// validate rejects secret maps where two serials collapse onto one lookup key,
// which would give one key two candidate secrets.
func (g GatewayConfig) validate() error {
	if g.ReplayTTL < 0 {
		return fmt.Errorf("%s must not be negative", EnvGatewayReplayTTL)
	}
	owners := map[string]string{}
	serials := make([]string, 0, len(g.Secrets))
	for serial := range g.Secrets {
		serials = append(serials, serial)
	}
	sort.Strings(serials)
	for _, serial := range serials {
		if strings.TrimSpace(g.Secrets[serial]) == "" {
			return fmt.Errorf("gateway %q has an empty secret", serial)
		}
		key := SecretKey(serial)
		if prev, ok := owners[key]; ok {
			return fmt.Errorf("gateway serials %q and %q share secret key %q", prev, serial, key)
		}
		owners[key] = serial
	}
	return nil
}

// KeyedSecrets returns the configured secrets indexed by normalized secret key.
func (g GatewayConfig) KeyedSecrets() map[string]string {
	out := make(map[string]string, len(g.Secrets))
	for serial, secret := range g.Secrets {
		out[SecretKey(serial)] = secret
	}
	return out
}

type OutboxConfig struct {
	BatchSize       int           `envconfig:"KIOSK_OUTBOX_BATCH_SIZE" default:"50"`
	PollIntervalMS  int           `envconfig:"KIOSK_OUTBOX_POLL_MS" default:"1000"`
	MaxAttempts     int           `envconfig:"KIOSK_OUTBOX_MAX_ATTEMPTS" default:"5"`
	Workers         int           `envconfig:"KIOSK_OUTBOX_WORKERS" default:"4"`
	DispatchTimeout time.Duration `envconfig:"KIOSK_OUTBOX_DISPATCH_TIMEOUT" default:"10s"`
	LeaseDuration   time.Duration `envconfig:"KIOSK_OUTBOX_LEASE" default:"1m"`
	BackoffBase     time.Duration `envconfig:"KIOSK_OUTBOX_BACKOFF_BASE" default:"1m"`
	BackoffMax      time.Duration `envconfig:"KIOSK_OUTBOX_BACKOFF_MAX" default:"6h"`
	AutoReplay      bool          `envconfig:"KIOSK_OUTBOX_AUTO_REPLAY" default:"true"`
}

type CompensationConfig struct {
	ReleaseAckTTL time.Duration `envconfig:"KIOSK_COMPENSATION_RELEASE_ACK_TTL" default:"10m"`
	GraceWindow   time.Duration `envconfig:"KIOSK_COMPENSATION_GRACE_WINDOW" default:"30m"`
	ScanLimit     int           `envconfig:"KIOSK_COMPENSATION_SCAN_LIMIT" default:"200"`
	RefundTimeout time.Duration `envconfig:"KIOSK_COMPENSATION_REFUND_TIMEOUT" default:"15s"`
	AlertChannel  string        `envconfig:"KIOSK_COMPENSATION_ALERT_CHANNEL" default:"log"`
	AlertTarget   string        `envconfig:"KIOSK_COMPENSATION_ALERT_TARGET" default:"ops"`
}

type ChannelsConfig struct {
	WebhookURL     string        `envconfig:"KIOSK_CHANNEL_WEBHOOK_URL"`
	WebhookTimeout time.Duration `envconfig:"KIOSK_CHANNEL_WEBHOOK_TIMEOUT" default:"10s"`
	PubSubTopic    string        `envconfig:"KIOSK_CHANNEL_PUBSUB_TOPIC"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"KIOSK_GCP_PROJECT_ID"`
}

type RefundConfig struct {
	BaseURL string        `envconfig:"KIOSK_REFUND_BASE_URL"`
	APIKey  string        `envconfig:"KIOSK_REFUND_API_KEY"`
	Timeout time.Duration `envconfig:"KIOSK_REFUND_TIMEOUT" default:"15s"`
}

type CronConfig struct {
	Interval time.Duration `envconfig:"KIOSK_CRON_INTERVAL" default:"1m"`
	LockTTL  time.Duration `envconfig:"KIOSK_CRON_LOCK_TTL" default:"5m"`
}

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

func (db *DBConfig) ensureDSN() error {
	switch db.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("unsupported %s %q", EnvDBDriver, db.Driver)
	}
	if db.DSN != "" {
		return nil
	}
	if db.Driver == DriverSQLite {
		return fmt.Errorf("%s is required for sqlite", EnvDBDSN)
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
