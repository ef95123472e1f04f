package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	LogLevel  string
	DynamoDB  DynamoDBConfig
	Redis     RedisConfig
	NATS      NATSConfig
	JWT       JWTConfig
	OTP       OTPConfig
	RateLimit RateLimitConfig
	Delivery  DeliveryConfig
}

type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type DynamoDBConfig struct {
	Endpoint  string
	Region    string
	TableName string
}

type RedisConfig struct {
	Endpoint string
	Password string
	DB       int
}

type NATSConfig struct {
	URL     string
	Subject string
}

type JWTConfig struct {
	SecretKey   string
	TokenExpiry time.Duration
}

// OTPConfig controls code lifetime and storage.
type OTPConfig struct {
	Store       string
	Expiry      time.Duration
	Retention   time.Duration
	MaxAttempts int
	HashCost    int
}

// RateLimitConfig controls the per-identifier resend cooldown.
type RateLimitConfig struct {
	Backend      string
	Cooldown     time.Duration
	Capacity     int
	CleanupEvery time.Duration
	// ClientRPS and ClientBurst bound HTTP requests per client address.
	ClientRPS   float64
	ClientBurst int
}

type DeliveryConfig struct {
	Backend string
	Timeout time.Duration
}

const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendDynamoDB = "dynamodb"
	BackendLog      = "log"
	BackendNATS     = "nats"
)

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present; real environment variables win.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnv("PORT", "8080"),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
		DynamoDB: DynamoDBConfig{
			Endpoint:  getEnv("DYNAMODB_ENDPOINT", ""),
			Region:    getEnv("DYNAMODB_REGION", "us-east-1"),
			TableName: getEnv("DYNAMODB_TABLE_NAME", "OTPGuardTable"),
		},
		Redis: RedisConfig{
			Endpoint: getEnv("REDIS_ENDPOINT", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		NATS: NATSConfig{
			URL:     getEnv("NATS_URL", "nats://localhost:4222"),
			Subject: getEnv("NATS_SUBJECT", "otp.delivery"),
		},
		JWT: JWTConfig{
			SecretKey:   getEnv("JWT_SECRET_KEY", ""),
			TokenExpiry: getEnvAsDuration("JWT_TOKEN_EXPIRY", 15*time.Minute),
		},
		OTP: OTPConfig{
			Store:       getEnv("OTP_STORE", BackendMemory),
			Expiry:      getEnvAsDuration("OTP_EXPIRY", 5*time.Minute),
			Retention:   getEnvAsDuration("OTP_RETENTION", time.Hour),
			MaxAttempts: getEnvAsInt("OTP_MAX_ATTEMPTS", 5),
			HashCost:    getEnvAsInt("OTP_HASH_COST", 10),
		},
		RateLimit: RateLimitConfig{
			Backend:      getEnv("RATE_LIMIT_BACKEND", BackendMemory),
			Cooldown:     getEnvAsDuration("OTP_COOLDOWN", 60*time.Second),
			Capacity:     getEnvAsInt("RATE_LIMIT_CAPACITY", 100000),
			CleanupEvery: getEnvAsDuration("RATE_LIMIT_CLEANUP_EVERY", 2*time.Minute),
			ClientRPS:    getEnvAsFloat("CLIENT_RATE_LIMIT_RPS", 5),
			ClientBurst:  getEnvAsInt("CLIENT_RATE_LIMIT_BURST", 10),
		},
		Delivery: DeliveryConfig{
			Backend: getEnv("DELIVERY_BACKEND", BackendLog),
			Timeout: getEnvAsDuration("DELIVERY_TIMEOUT", 10*time.Second),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks values that have no sensible fallback.
func (c *Config) Validate() error {
	if c.JWT.SecretKey == "" {
		return fmt.Errorf("JWT_SECRET_KEY environment variable is required")
	}

	if len(c.JWT.SecretKey) < 32 {
		return fmt.Errorf("JWT_SECRET_KEY must be at least 32 bytes (256 bits)")
	}

	if c.OTP.Expiry <= 0 {
		return fmt.Errorf("OTP_EXPIRY must be positive")
	}

	if c.OTP.MaxAttempts <= 0 {
		return fmt.Errorf("OTP_MAX_ATTEMPTS must be positive")
	}

	if c.RateLimit.Cooldown <= 0 {
		return fmt.Errorf("OTP_COOLDOWN must be positive")
	}

	if c.RateLimit.ClientRPS <= 0 || c.RateLimit.ClientBurst <= 0 {
		return fmt.Errorf("CLIENT_RATE_LIMIT_RPS and CLIENT_RATE_LIMIT_BURST must be positive")
	}

	if c.RateLimit.Capacity <= 0 {
		return fmt.Errorf("RATE_LIMIT_CAPACITY must be positive")
	}

	switch c.OTP.Store {
	case BackendMemory, BackendRedis, BackendDynamoDB:
	default:
		return fmt.Errorf("unknown OTP_STORE %q", c.OTP.Store)
	}

	switch c.RateLimit.Backend {
	case BackendMemory, BackendRedis:
	default:
		return fmt.Errorf("unknown RATE_LIMIT_BACKEND %q", c.RateLimit.Backend)
	}

	switch c.Delivery.Backend {
	case BackendLog, BackendNATS:
	default:
		return fmt.Errorf("unknown DELIVERY_BACKEND %q", c.Delivery.Backend)
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
