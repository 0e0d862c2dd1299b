package config

import "time"

// APIConfig holds runtime configuration for the intake/status API service.
type APIConfig struct {
	Environment        string
	Addr               string
	DatabaseURL        string
	MigrationsDir      string
	RedisAddr          string
	RedisPassword      string
	RedisDB            int
	JWTSecret          string
	S3Bucket           string
	S3Region           string
	S3Endpoint         string
	CloneRoot          string
	CloneTimeout       time.Duration
	DeployIDLength     int
	WebhookSecret      string
	LogBuffer          int
	RateLimitRedisAddr string
	RateLimitRedisPass string
	RateLimitRedisDB   int
}

// LoadAPIConfig constructs an APIConfig from environment variables.
func LoadAPIConfig() APIConfig {
	return APIConfig{
		Environment:        GetString("APP_ENV", "development"),
		Addr:               GetString("API_ADDR", ":3000"),
		DatabaseURL:        GetString("DATABASE_URL", "postgres://vercel:vercel@db:5432/vercel?sslmode=disable"),
		MigrationsDir:      GetString("DB_MIGRATIONS_DIR", "db/migrations"),
		RedisAddr:          GetString("REDIS_ADDR", "localhost:6379"),
		RedisPassword:      GetString("REDIS_PASSWORD", ""),
		RedisDB:            GetInt("REDIS_DB", 0),
		JWTSecret:          GetString("JWT_SECRET", "supersecuresecret"),
		S3Bucket:           GetString("S3_BUCKET_NAME", ""),
		S3Region:           GetString("AWS_REGION", "us-east-1"),
		S3Endpoint:         GetString("S3_ENDPOINT", ""),
		CloneRoot:          GetString("CLONE_ROOT", "/tmp/vercel/output"),
		CloneTimeout:       GetSeconds("GIT_TIMEOUT_SECONDS", 60*time.Second),
		DeployIDLength:     GetInt("DEPLOY_ID_LENGTH", 8),
		WebhookSecret:      GetString("GIT_WEBHOOK_SECRET", "supersecret"),
		LogBuffer:          GetInt("WS_LOG_BUFFER", 100),
		RateLimitRedisAddr: GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass: GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:   GetInt("RATE_LIMIT_REDIS_DB", 0),
	}
}
