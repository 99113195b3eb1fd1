// Package config loads application configuration from an optional YAML file
// with ROSTERD_* environment variable overrides.
//
// # Loading Order
//
// Defaults are applied first, then the file named by ROSTERD_CONFIG_FILE (if
// set), then environment variables. Validation runs last.
//
// # Server Settings
//
//	ROSTERD_HOST="0.0.0.0"
//	ROSTERD_PORT="8080"
//	ROSTERD_HEALTH_PORT="9090"
//	ROSTERD_READ_TIMEOUT="15s"
//	ROSTERD_WRITE_TIMEOUT="15s"
//	ROSTERD_ALLOWED_ORIGINS="https://app.example.com,https://admin.example.com"
//
// # Storage Settings
//
//	ROSTERD_POSTGRES_URL="postgres://localhost/rosterd"
//	ROSTERD_POSTGRES_REPLICA_URLS="postgres://replica1/rosterd,postgres://replica2/rosterd"
//	ROSTERD_POSTGRES_MAX_CONNS="25"
//	ROSTERD_REDIS_URL="redis://localhost:6379"
//	ROSTERD_S3_ENDPOINT="http://minio:9000"
//	ROSTERD_S3_BUCKET="rosterd-files"
//
// # Auth Settings
//
//	ROSTERD_JWT_SECRET="<at least 32 bytes>"
//	ROSTERD_TOKEN_TTL="720h"
//	ROSTERD_BCRYPT_COST="12"
//	ROSTERD_INVITATION_TTL="168h"
//
// # Observability Settings
//
//	ROSTERD_LOG_LEVEL="info"  # debug, info, warn, error
//	ROSTERD_METRICS_ENABLED="true"
//	ROSTERD_SWEEPER_ENABLED="true"
//	ROSTERD_SWEEPER_SCHEDULE="@hourly"
//
// # Usage
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
package config
