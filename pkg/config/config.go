package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	// EnvPrefix is passed to envconfig; individual fields carry the full
	// variable names so the prefix stays empty here.
	EnvPrefix = ""

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvDBDSN  = "NOVAMART_DB_DSN"
	EnvDBHost = "NOVAMART_DB_HOST"
	EnvDBUser = "NOVAMART_DB_USER"
	EnvDBName = "NOVAMART_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Checkout     CheckoutConfig
	Gateway      GatewayConfig
	Shipping     ShippingConfig
	Cron         CronConfig
	Eventing     EventingConfig
	FeatureFlags FeatureFlagsConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"NOVAMART_APP_ENV" required:"true"`
	Port         string `envconfig:"NOVAMART_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"NOVAMART_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"NOVAMART_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"NOVAMART_DB_DSN"`
	Driver string `envconfig:"NOVAMART_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"NOVAMART_DB_HOST"`
	LegacyPort     int    `envconfig:"NOVAMART_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"NOVAMART_DB_USER"`
	LegacyPassword string `envconfig:"NOVAMART_DB_PASSWORD"`
	LegacyName     string `envconfig:"NOVAMART_DB_NAME"`
	LegacySSLMode  string `envconfig:"NOVAMART_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"NOVAMART_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"NOVAMART_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"NOVAMART_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"NOVAMART_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"NOVAMART_REDIS_URL" required:"true"`
	Address      string        `envconfig:"NOVAMART_REDIS_ADDR"`
	Password     string        `envconfig:"NOVAMART_REDIS_PASSWORD"`
	DB           int           `envconfig:"NOVAMART_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"NOVAMART_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"NOVAMART_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"NOVAMART_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"NOVAMART_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"NOVAMART_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret string `envconfig:"NOVAMART_JWT_SECRET" required:"true"`
	Issuer string `envconfig:"NOVAMART_JWT_ISSUER" required:"true"`
}

// CheckoutConfig bounds the lifetime of sessions and their stock holds.
type CheckoutConfig struct {
	SessionTTL time.Duration `envconfig:"NOVAMART_CHECKOUT_SESSION_TTL" default:"15m"`
}

type GatewayConfig struct {
	BaseURL            string        `envconfig:"NOVAMART_GATEWAY_BASE_URL" required:"true"`
	APIKey             string        `envconfig:"NOVAMART_GATEWAY_API_KEY" required:"true"`
	WebhookSecret      string        `envconfig:"NOVAMART_GATEWAY_WEBHOOK_SECRET" required:"true"`
	ReturnURL          string        `envconfig:"NOVAMART_GATEWAY_RETURN_URL" required:"true"`
	WebhookURL         string        `envconfig:"NOVAMART_GATEWAY_WEBHOOK_URL" required:"true"`
	Timeout            time.Duration `envconfig:"NOVAMART_GATEWAY_TIMEOUT" default:"10s"`
	TimestampTolerance time.Duration `envconfig:"NOVAMART_GATEWAY_TIMESTAMP_TOLERANCE" default:"5m"`
}

type ShippingConfig struct {
	BaseURL        string        `envconfig:"NOVAMART_SHIPPING_BASE_URL" required:"true"`
	APIKey         string        `envconfig:"NOVAMART_SHIPPING_API_KEY" required:"true"`
	PickupLocation string        `envconfig:"NOVAMART_SHIPPING_PICKUP_LOCATION" default:"primary"`
	WebhookToken   string        `envconfig:"NOVAMART_SHIPPING_WEBHOOK_TOKEN"`
	Timeout        time.Duration `envconfig:"NOVAMART_SHIPPING_TIMEOUT" default:"15s"`
}

type CronConfig struct {
	Interval       time.Duration `envconfig:"NOVAMART_CRON_INTERVAL" default:"1m"`
	LockKey        string        `envconfig:"NOVAMART_CRON_LOCK_KEY" default:"cron:sweep"`
	LockTTL        time.Duration `envconfig:"NOVAMART_CRON_LOCK_TTL" default:"5m"`
	SweepBatchSize int           `envconfig:"NOVAMART_CRON_SWEEP_BATCH_SIZE" default:"100"`
	MetricsAddr    string        `envconfig:"NOVAMART_CRON_METRICS_ADDR" default:":9100"`
}

type EventingConfig struct {
	WebhookIdempotencyTTL time.Duration `envconfig:"NOVAMART_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"NOVAMART_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"NOVAMART_AUTO_MIGRATE" default:"false"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"NOVAMART_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"NOVAMART_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"NOVAMART_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	OrdersTopic        string `envconfig:"NOVAMART_PUBSUB_ORDERS_TOPIC" default:"nm-order-events"`
	OrdersSubscription string `envconfig:"NOVAMART_PUBSUB_ORDERS_SUBSCRIPTION"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"NOVAMART_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"NOVAMART_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"NOVAMART_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
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
