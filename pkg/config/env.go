package config

const EnvPrefix = "STOREFRONT"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv            = "STOREFRONT_APP_ENV"
	EnvPort              = "STOREFRONT_APP_PORT"
	EnvDBDSN             = "STOREFRONT_DB_DSN"
	EnvDBHost            = "STOREFRONT_DB_HOST"
	EnvDBUser            = "STOREFRONT_DB_USER"
	EnvDBName            = "STOREFRONT_DB_NAME"
	EnvDBPassword        = "STOREFRONT_DB_PASSWORD"
	EnvRedisURL          = "STOREFRONT_REDIS_URL"
	EnvJWTSecret         = "STOREFRONT_JWT_SECRET"
	EnvJWTIssuer         = "STOREFRONT_JWT_ISSUER"
	EnvGCPProjectID      = "STOREFRONT_GCP_PROJECT_ID"
	EnvPubSubOrdersTopic = "STOREFRONT_PUBSUB_ORDERS_TOPIC"
	EnvFulfillmentGrace  = "STOREFRONT_FULFILLMENT_PROCESSING_GRACE"
	EnvFulfillmentBatch  = "STOREFRONT_FULFILLMENT_BATCH_SIZE"
	EnvLowStockThreshold = "STOREFRONT_INVENTORY_LOW_STOCK_THRESHOLD"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
