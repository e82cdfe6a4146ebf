package config

import (
	"errors"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	App       AppConfig
	Server    ServerConfig
	Database  DatabaseConfig
	JWT       JWTConfig
	Redis     RedisConfig
	Bus       BusConfig
	Directory DirectoryConfig
	Alert     AlertConfig
}

type AppConfig struct {
	Name            string
	Version         string
	Environment     string
	RoleMappingPath string
}

type ServerConfig struct {
	Port string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

type JWTConfig struct {
	SecretKey string
}

type RedisConfig struct {
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int
}

type BusConfig struct {
	StreamPrefix  string
	ConsumerGroup string
	Shards        int
	MaxAttempts   int
}

type DirectoryConfig struct {
	BaseURL     string
	BotToken    string
	MaxInFlight int
}

type AlertConfig struct {
	WebhookURL string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, errors.New("invalid redis database")
	}

	shards, err := strconv.Atoi(getEnv("BUS_SHARDS", "8"))
	if err != nil || shards < 1 {
		return nil, errors.New("invalid bus shard count")
	}

	maxAttempts, err := strconv.Atoi(getEnv("BUS_MAX_ATTEMPTS", "5"))
	if err != nil || maxAttempts < 1 {
		return nil, errors.New("invalid bus max attempts")
	}

	maxInFlight, err := strconv.Atoi(getEnv("DIRECTORY_MAX_IN_FLIGHT", "4"))
	if err != nil || maxInFlight < 1 {
		return nil, errors.New("invalid directory in-flight cap")
	}

	cfg := &Config{
		App: AppConfig{
			Name:            getEnv("APP_NAME", "Reward Sync API"),
			Version:         getEnv("APP_VERSION", "1.0.0"),
			Environment:     getEnv("APP_ENV", "development"),
			RoleMappingPath: getEnv("ROLE_MAPPING_PATH", "role_mappings.yaml"),
		},
		Server: ServerConfig{
			Port: getEnv("PORT", "8080"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			Name:     getEnv("DB_NAME", "rewardsync"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},
		JWT: JWTConfig{
			SecretKey: getEnv("JWT_SECRET", ""),
		},
		Redis: RedisConfig{
			RedisHost:     getEnv("REDIS_HOST", "localhost"),
			RedisPort:     getEnv("REDIS_PORT", "6379"),
			RedisPassword: getEnv("REDIS_PASSWORD", ""),
			RedisDB:       redisDB,
		},
		Bus: BusConfig{
			StreamPrefix:  getEnv("BUS_STREAM_PREFIX", "rewardsync"),
			ConsumerGroup: getEnv("BUS_CONSUMER_GROUP", "rewardsync-workers"),
			Shards:        shards,
			MaxAttempts:   maxAttempts,
		},
		Directory: DirectoryConfig{
			BaseURL:     getEnv("DIRECTORY_BASE_URL", "https://discord.com/api/v10"),
			BotToken:    getEnv("DIRECTORY_BOT_TOKEN", ""),
			MaxInFlight: maxInFlight,
		},
		Alert: AlertConfig{
			WebhookURL: getEnv("ALERT_WEBHOOK_URL", ""),
		},
	}

	if cfg.JWT.SecretKey == "" {
		return nil, errors.New("missing jwt secret")
	}

	if cfg.Database.Password == "" {
		return nil, errors.New("missing database password")
	}

	if cfg.Directory.BotToken == "" {
		return nil, errors.New("missing directory bot token")
	}

	return cfg, nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}

	return defaultVal
}
