package config

import "time"

// WorkerConfig holds runtime configuration for the build worker.
type WorkerConfig struct {
	Environment    string
	Addr           string
	DatabaseURL    string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	S3Bucket       string
	S3Region       string
	S3Endpoint     string
	CDNBaseURL     string
	Workdir        string
	InstallCommand string
	BuildCommand   string
	OutputDir      string
	BuildTimeout   time.Duration
	DequeuePoll    time.Duration
}

// LoadWorkerConfig constructs a WorkerConfig from environment variables.
func LoadWorkerConfig() WorkerConfig {
	return WorkerConfig{
		Environment:    GetString("APP_ENV", "development"),
		Addr:           GetString("WORKER_ADDR", ":3001"),
		DatabaseURL:    GetString("DATABASE_URL", "postgres://vercel:vercel@db:5432/vercel?sslmode=disable"),
		RedisAddr:      GetString("REDIS_ADDR", "localhost:6379"),
		RedisPassword:  GetString("REDIS_PASSWORD", ""),
		RedisDB:        GetInt("REDIS_DB", 0),
		S3Bucket:       GetString("S3_BUCKET_NAME", ""),
		S3Region:       GetString("AWS_REGION", "us-east-1"),
		S3Endpoint:     GetString("S3_ENDPOINT", ""),
		CDNBaseURL:     GetString("CLOUDFRONT_URL", ""),
		Workdir:        GetString("WORKER_WORKDIR", "/tmp/vercel/downloads"),
		InstallCommand: GetString("INSTALL_COMMAND", "npm install"),
		BuildCommand:   GetString("BUILD_COMMAND", "npm run build"),
		OutputDir:      GetString("BUILD_OUTPUT_DIR", "dist"),
		BuildTimeout:   GetSeconds("BUILD_TIMEOUT_SECONDS", 15*time.Minute),
		DequeuePoll:    GetSeconds("DEQUEUE_POLL_SECONDS", 5*time.Second),
	}
}
