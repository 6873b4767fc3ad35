package config

// EnvPrefix is passed to envconfig; every field carries an explicit key so it
// only matters for error messages.
const EnvPrefix = "FULFILLMENT"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv         = "FULFILLMENT_APP_ENV"
	EnvPort           = "FULFILLMENT_APP_PORT"
	EnvDBDSN          = "FULFILLMENT_DB_DSN"
	EnvDBHost         = "FULFILLMENT_DB_HOST"
	EnvDBUser         = "FULFILLMENT_DB_USER"
	EnvDBName         = "FULFILLMENT_DB_NAME"
	EnvDBPassword     = "FULFILLMENT_DB_PASSWORD"
	EnvRedisURL       = "FULFILLMENT_REDIS_URL"
	EnvJWTSecret      = "FULFILLMENT_JWT_SECRET"
	EnvJWTIssuer      = "FULFILLMENT_JWT_ISSUER"
	EnvPayoutFeeRate  = "FULFILLMENT_PAYOUT_PLATFORM_FEE_RATE"
	EnvPayoutHoldback = "FULFILLMENT_PAYOUT_HOLDBACK"
	EnvPayoutSchedule = "FULFILLMENT_PAYOUT_SCHEDULE"
	EnvRazorpayKeyID  = "FULFILLMENT_RAZORPAY_KEY_ID"
	EnvRazorpaySecret = "FULFILLMENT_RAZORPAY_KEY_SECRET"
	EnvStripeKey      = "FULFILLMENT_STRIPE_SECRET_KEY"
)

var dbPartEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
