package config

const EnvPrefix = "SUBSYNC"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	ReconcileModeInline = "inline"
	ReconcileModePubSub = "pubsub"
)

const (
	EnvAppEnv        = "SUBSYNC_APP_ENV"
	EnvPort          = "SUBSYNC_APP_PORT"
	EnvDBDSN         = "SUBSYNC_DB_DSN"
	EnvDBHost        = "SUBSYNC_DB_HOST"
	EnvDBUser        = "SUBSYNC_DB_USER"
	EnvDBName        = "SUBSYNC_DB_NAME"
	EnvRedisURL      = "SUBSYNC_REDIS_URL"
	EnvJWTSecret     = "SUBSYNC_JWT_SECRET"
	EnvJWTIssuer     = "SUBSYNC_JWT_ISSUER"
	EnvStripeAPIKey  = "SUBSYNC_STRIPE_API_KEY"
	EnvStripeSecret  = "SUBSYNC_STRIPE_SECRET"
	EnvReconcileMode = "SUBSYNC_RECONCILE_MODE"
	EnvGCPProjectID  = "SUBSYNC_GCP_PROJECT_ID"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
