package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Razorpay     RazorpayConfig
	Stripe       StripeConfig
	Checkout     CheckoutConfig
	Payout       PayoutConfig
	Maintenance  MaintenanceConfig
	Outbox       OutboxConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Payout.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"FULFILLMENT_APP_ENV" required:"true"`
	Port         string `envconfig:"FULFILLMENT_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"FULFILLMENT_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"FULFILLMENT_LOG_WARN_STACK" default:"false"`
	LogFormat    string `envconfig:"FULFILLMENT_LOG_FORMAT" default:"json"`
	// MetricsAddr is the worker-side /metrics listener; empty disables it.
	MetricsAddr  string `envconfig:"FULFILLMENT_WORKER_METRICS_ADDR"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN string `envconfig:"FULFILLMENT_DB_DSN"`

	Host     string `envconfig:"FULFILLMENT_DB_HOST"`
	Port     int    `envconfig:"FULFILLMENT_DB_PORT" default:"5432"`
	User     string `envconfig:"FULFILLMENT_DB_USER"`
	Password string `envconfig:"FULFILLMENT_DB_PASSWORD"`
	Name     string `envconfig:"FULFILLMENT_DB_NAME"`
	SSLMode  string `envconfig:"FULFILLMENT_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"FULFILLMENT_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"FULFILLMENT_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"FULFILLMENT_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"FULFILLMENT_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"FULFILLMENT_REDIS_URL" required:"true"`
	Password     string        `envconfig:"FULFILLMENT_REDIS_PASSWORD"`
	DB           int           `envconfig:"FULFILLMENT_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"FULFILLMENT_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"FULFILLMENT_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"FULFILLMENT_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"FULFILLMENT_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"FULFILLMENT_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"FULFILLMENT_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"FULFILLMENT_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"FULFILLMENT_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"FULFILLMENT_AUTO_MIGRATE" default:"false"`
}

// RazorpayConfig configures the card/UPI gateway.
type RazorpayConfig struct {
	KeyID     string        `envconfig:"FULFILLMENT_RAZORPAY_KEY_ID"`
	KeySecret string        `envconfig:"FULFILLMENT_RAZORPAY_KEY_SECRET"`
	BaseURL   string        `envconfig:"FULFILLMENT_RAZORPAY_BASE_URL" default:"https://api.razorpay.com"`
	Timeout   time.Duration `envconfig:"FULFILLMENT_RAZORPAY_TIMEOUT" default:"10s"`
}

func (r RazorpayConfig) Enabled() bool {
	return r.KeyID != "" && r.KeySecret != ""
}

// StripeConfig configures the redirect gateway and seller transfers.
type StripeConfig struct {
	SecretKey     string        `envconfig:"FULFILLMENT_STRIPE_SECRET_KEY"`
	WebhookSecret string        `envconfig:"FULFILLMENT_STRIPE_WEBHOOK_SECRET"`
	Env           string        `envconfig:"FULFILLMENT_STRIPE_ENV" default:"test"`
	SuccessURL    string        `envconfig:"FULFILLMENT_STRIPE_SUCCESS_URL" default:"http://localhost:3000/checkout/success?session_id={CHECKOUT_SESSION_ID}"`
	CancelURL     string        `envconfig:"FULFILLMENT_STRIPE_CANCEL_URL" default:"http://localhost:3000/checkout/cancel"`
	Timeout       time.Duration `envconfig:"FULFILLMENT_STRIPE_TIMEOUT" default:"10s"`
	WebhookTTL    time.Duration `envconfig:"FULFILLMENT_STRIPE_WEBHOOK_TTL" default:"720h"`
}

func (s StripeConfig) Enabled() bool {
	return s.SecretKey != ""
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type CheckoutConfig struct {
	Currency       string        `envconfig:"FULFILLMENT_CHECKOUT_CURRENCY" default:"INR"`
	GatewayTimeout time.Duration `envconfig:"FULFILLMENT_CHECKOUT_GATEWAY_TIMEOUT" default:"15s"`
	IdempotencyTTL time.Duration `envconfig:"FULFILLMENT_CHECKOUT_IDEMPOTENCY_TTL" default:"24h"`
}

type PayoutConfig struct {
	PlatformFeeRate string        `envconfig:"FULFILLMENT_PAYOUT_PLATFORM_FEE_RATE" default:"0.10"`
	Holdback        time.Duration `envconfig:"FULFILLMENT_PAYOUT_HOLDBACK" default:"168h"`
	Schedule        string        `envconfig:"FULFILLMENT_PAYOUT_SCHEDULE" default:"0 0 * * *"`
	BatchSize       int           `envconfig:"FULFILLMENT_PAYOUT_BATCH_SIZE" default:"200"`
}

func (p PayoutConfig) validate() error {
	if p.Holdback < 0 {
		return fmt.Errorf("%s must not be negative", EnvPayoutHoldback)
	}
	if strings.TrimSpace(p.Schedule) == "" {
		return fmt.Errorf("%s is required", EnvPayoutSchedule)
	}
	return nil
}

type MaintenanceConfig struct {
	Schedule            string `envconfig:"FULFILLMENT_MAINTENANCE_SCHEDULE" default:"0 0 1 * *"`
	OutboxRetentionDays int    `envconfig:"FULFILLMENT_OUTBOX_RETENTION_DAYS" default:"30"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"FULFILLMENT_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"FULFILLMENT_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"FULFILLMENT_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type GCPConfig struct {
	ProjectID       string `envconfig:"FULFILLMENT_GCP_PROJECT_ID"`
	CredentialsJSON string `envconfig:"FULFILLMENT_GCP_CREDENTIALS_JSON"`
}

type PubSubConfig struct {
	OrdersTopic  string `envconfig:"FULFILLMENT_PUBSUB_ORDERS_TOPIC" default:"fulfillment-order-events"`
	PayoutsTopic string `envconfig:"FULFILLMENT_PUBSUB_PAYOUTS_TOPIC" default:"fulfillment-payout-events"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	values := map[string]string{
		EnvDBHost: db.Host,
		EnvDBUser: db.User,
		EnvDBName: db.Name,
	}
	for _, env := range dbPartEnvVars {
		if values[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.User)
	if db.Password != "" {
		userInfo = url.UserPassword(db.User, db.Password)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:   db.Name,
	}

	if db.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.SSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
