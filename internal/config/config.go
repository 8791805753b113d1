package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	DB       DBConfig
	R2       R2Config
	JWT      JWTConfig
	Server   ServerConfig
	Trash    TrashConfig
	Activity ActivityConfig
}

type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

type R2Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

type JWTConfig struct {
	Secret          string
	ExpirationHours int
}

type ServerConfig struct {
	Port string
}

type TrashConfig struct {
	Retention      time.Duration
	SweepInterval  time.Duration
	StaleUploadAge time.Duration
}

type ActivityConfig struct {
	QueueBufferSize int
}

func Load() *Config {
	return &Config{
		DB: DBConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "driftbox"),
			Password: getEnv("DB_PASSWORD", "driftbox_secret"),
			Name:     getEnv("DB_NAME", "driftbox"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		R2: R2Config{
			Endpoint:  getEnv("R2_ENDPOINT", "localhost:9000"),
			AccessKey: getEnv("R2_ACCESS_KEY", "driftbox"),
			SecretKey: getEnv("R2_SECRET_KEY", "driftbox_secret"),
			Bucket:    getEnv("R2_BUCKET", "driftbox"),
			Region:    getEnv("R2_REGION", "auto"),
			UseSSL:    getEnvAsBool("R2_USE_SSL", false),
		},
		JWT: JWTConfig{
			Secret:          getEnv("JWT_SECRET", "change-me-in-production"),
			ExpirationHours: getEnvAsInt("JWT_EXPIRATION_HOURS", 24),
		},
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
		},
		Trash: TrashConfig{
			Retention:      getEnvAsDuration("TRASH_RETENTION", 30*24*time.Hour),
			SweepInterval:  getEnvAsDuration("TRASH_SWEEP_INTERVAL", 1*time.Hour),
			StaleUploadAge: getEnvAsDuration("STALE_UPLOAD_AGE", 1*time.Hour),
		},
		Activity: ActivityConfig{
			QueueBufferSize: getEnvAsInt("ACTIVITY_QUEUE_BUFFER_SIZE", 1000),
		},
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := time.ParseDuration(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.ParseBool(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}
