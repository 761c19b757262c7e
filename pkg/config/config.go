package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App       AppConfig
	DB        DBConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Stripe    StripeConfig
	Reconcile ReconcileConfig
	GCP       GCPConfig
	PubSub    PubSubConfig
	Cron      CronConfig
	RateLimit RateLimitConfig
	Flags     FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Reconcile.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"SUBSYNC_APP_ENV" required:"true"`
	Port         string `envconfig:"SUBSYNC_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"SUBSYNC_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"SUBSYNC_LOG_WARN_STACK" default:"false"`

	CORSAllowedOrigins []string `envconfig:"SUBSYNC_CORS_ALLOWED_ORIGINS"`
	MaxWebhookBytes    int64    `envconfig:"SUBSYNC_MAX_WEBHOOK_BYTES" default:"1048576"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"SUBSYNC_DB_DSN"`
	Driver string `envconfig:"SUBSYNC_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"SUBSYNC_DB_HOST"`
	LegacyPort     int    `envconfig:"SUBSYNC_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"SUBSYNC_DB_USER"`
	LegacyPassword string `envconfig:"SUBSYNC_DB_PASSWORD"`
	LegacyName     string `envconfig:"SUBSYNC_DB_NAME"`
	LegacySSLMode  string `envconfig:"SUBSYNC_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"SUBSYNC_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"SUBSYNC_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"SUBSYNC_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"SUBSYNC_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"SUBSYNC_REDIS_URL" required:"true"`
	Address      string        `envconfig:"SUBSYNC_REDIS_ADDR"`
	Password     string        `envconfig:"SUBSYNC_REDIS_PASSWORD"`
	DB           int           `envconfig:"SUBSYNC_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"SUBSYNC_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"SUBSYNC_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"SUBSYNC_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"SUBSYNC_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"SUBSYNC_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret string `envconfig:"SUBSYNC_JWT_SECRET" required:"true"`
	Issuer string `envconfig:"SUBSYNC_JWT_ISSUER" required:"true"`
	// Only used when minting tokens in tests and local tooling; the session service owns issuance.
	ExpirationMinutes int `envconfig:"SUBSYNC_JWT_EXPIRATION_MINUTES" default:"60"`
}

type StripeConfig struct {
	APIKey string `envconfig:"SUBSYNC_STRIPE_API_KEY"`
	Secret string `envconfig:"SUBSYNC_STRIPE_SECRET"`
	Env    string `envconfig:"SUBSYNC_STRIPE_ENV" default:"test"`

	WebhookTolerance         time.Duration `envconfig:"SUBSYNC_STRIPE_WEBHOOK_TOLERANCE" default:"5m"`
	IgnoreAPIVersionMismatch bool          `envconfig:"SUBSYNC_STRIPE_IGNORE_API_VERSION_MISMATCH" default:"true"`

	CheckoutSuccessURL string `envconfig:"SUBSYNC_STRIPE_CHECKOUT_SUCCESS_URL"`
	CheckoutCancelURL  string `envconfig:"SUBSYNC_STRIPE_CHECKOUT_CANCEL_URL"`
	PortalReturnURL    string `envconfig:"SUBSYNC_STRIPE_PORTAL_RETURN_URL"`
	DefaultPriceID     string `envconfig:"SUBSYNC_STRIPE_DEFAULT_PRICE_ID"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

// ReconcileConfig tunes the background reconciliation that runs after a webhook is acknowledged.
type ReconcileConfig struct {
	Mode            string        `envconfig:"SUBSYNC_RECONCILE_MODE" default:"inline"`
	Workers         int           `envconfig:"SUBSYNC_RECONCILE_WORKERS" default:"8"`
	QueueSize       int           `envconfig:"SUBSYNC_RECONCILE_QUEUE_SIZE" default:"256"`
	TaskTimeout     time.Duration `envconfig:"SUBSYNC_RECONCILE_TASK_TIMEOUT" default:"45s"`
	ProviderTimeout time.Duration `envconfig:"SUBSYNC_RECONCILE_PROVIDER_TIMEOUT" default:"10s"`
	MaxAttempts     uint64        `envconfig:"SUBSYNC_RECONCILE_MAX_ATTEMPTS" default:"4"`
	BaseBackoff     time.Duration `envconfig:"SUBSYNC_RECONCILE_BASE_BACKOFF" default:"250ms"`
	ShutdownTimeout time.Duration `envconfig:"SUBSYNC_RECONCILE_SHUTDOWN_TIMEOUT" default:"20s"`
}

func (r ReconcileConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(r.Mode)) {
	case ReconcileModeInline, ReconcileModePubSub:
		return nil
	default:
		return fmt.Errorf("%s must be %q or %q", EnvReconcileMode, ReconcileModeInline, ReconcileModePubSub)
	}
}

// UsesPubSub reports whether reconcile tasks are published instead of run in-process.
func (r ReconcileConfig) UsesPubSub() bool {
	return strings.EqualFold(strings.TrimSpace(r.Mode), ReconcileModePubSub)
}

type GCPConfig struct {
	ProjectID string `envconfig:"SUBSYNC_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	ReconcileTopic        string `envconfig:"SUBSYNC_PUBSUB_RECONCILE_TOPIC" default:"subsync-reconcile"`
	ReconcileSubscription string `envconfig:"SUBSYNC_PUBSUB_RECONCILE_SUBSCRIPTION" default:"subsync-reconcile-worker"`
}

type CronConfig struct {
	Interval  time.Duration `envconfig:"SUBSYNC_CRON_INTERVAL" default:"1h"`
	Limit     int           `envconfig:"SUBSYNC_CRON_RECONCILE_LIMIT" default:"250"`
	Staleness time.Duration `envconfig:"SUBSYNC_CRON_RECONCILE_STALENESS" default:"24h"`
}

type RateLimitConfig struct {
	UserSyncWindow time.Duration `envconfig:"SUBSYNC_RATE_LIMIT_USER_SYNC_WINDOW" default:"1m"`
	UserSyncLimit  int           `envconfig:"SUBSYNC_RATE_LIMIT_USER_SYNC_LIMIT" default:"5"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"SUBSYNC_AUTO_MIGRATE" default:"false"`
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
