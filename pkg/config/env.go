package config

const EnvPrefix = "KIOSK"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv  = "KIOSK_APP_ENV"
	EnvAppPort = "KIOSK_APP_PORT"

	EnvDBDSN    = "KIOSK_DB_DSN"
	EnvDBDriver = "KIOSK_DB_DRIVER"
	EnvDBHost   = "KIOSK_DB_HOST"
	EnvDBUser   = "KIOSK_DB_USER"
	EnvDBName   = "KIOSK_DB_NAME"

	EnvRedisURL = "KIOSK_REDIS_URL"

	EnvJWTSecret = "KIOSK_JWT_SECRET"
	EnvJWTIssuer = "KIOSK_JWT_ISSUER"

	EnvGatewayReplayTTL      = "KIOSK_GATEWAY_REPLAY_TTL"
	EnvGatewayReplayDisabled = "KIOSK_GATEWAY_REPLAY_CHECK_DISABLED"
	EnvGatewaySecrets        = "KIOSK_GATEWAY_SECRETS"
	EnvGatewaySealKey        = "KIOSK_GATEWAY_SEAL_KEY"

	EnvOutboxMaxAttempts        = "KIOSK_OUTBOX_MAX_ATTEMPTS"
	EnvCompensationReleaseAck   = "KIOSK_COMPENSATION_RELEASE_ACK_TTL"
	EnvCompensationGraceWindow  = "KIOSK_COMPENSATION_GRACE_WINDOW"
	EnvCompensationAlertChannel = "KIOSK_COMPENSATION_ALERT_CHANNEL"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
