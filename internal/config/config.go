package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Gateway  GatewayConfig
	Local    LocalConfig
	Redis    RedisConfig
	Auth     AuthConfig
	GeoIP    GeoIPConfig
	Log      LogConfig
	LinuxDo  LinuxDoConfig
	Timezone string

	// Location is the resolved Timezone, used for trend bucketing.
	Location *time.Location
}

type ServerConfig struct {
	Host         string
	Port         int
	Environment  string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// GatewayConfig describes the connection to the gateway's primary database.
// Engine selects the driver, placeholder style, JSON extraction syntax and
// identifier quoting. When DSN is empty it is composed from the other fields.
type GatewayConfig struct {
	Engine          string
	DSN             string
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	QueryTimeout    time.Duration
}

type LocalConfig struct {
	Path string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type AuthConfig struct {
	AdminPassword string
	APIKey        string
	JWTSecret     string
	JWTExpire     time.Duration
}

type GeoIPConfig struct {
	Dir string
}

type LogConfig struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

type LinuxDoConfig struct {
	ProxyURL string
}

func Load() (*Config, error) {
	godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvAsInt("SERVER_PORT", 8080),
			Environment:  getEnv("ENVIRONMENT", "development"),
			ReadTimeout:  getEnvAsDuration("READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getEnvAsDuration("WRITE_TIMEOUT", 60*time.Second),
			IdleTimeout:  getEnvAsDuration("IDLE_TIMEOUT", 120*time.Second),
		},
		Gateway: GatewayConfig{
			Engine:          getEnv("DB_ENGINE", ""),
			DSN:             getEnv("SQL_DSN", ""),
			Host:            getEnv("DB_DNS", getEnv("DB_HOST", "localhost")),
			Port:            getEnvAsInt("DB_PORT", 5432),
			User:            getEnv("DB_USER", "root"),
			Password:        getEnv("DB_PASSWORD", ""),
			DBName:          getEnv("DB_NAME", "new-api"),
			MaxOpenConns:    getEnvAsInt("DB_MAX_CONNS", 25),
			MaxIdleConns:    getEnvAsInt("DB_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_LIFETIME", time.Hour),
			QueryTimeout:    getEnvAsDuration("DB_QUERY_TIMEOUT", 30*time.Second),
		},
		Local: LocalConfig{
			Path: getEnv("LOCAL_DB_PATH", "./data/local.db"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvAsInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Auth: AuthConfig{
			AdminPassword: getEnv("ADMIN_PASSWORD", ""),
			APIKey:        getEnv("API_KEY", ""),
			JWTSecret:     getEnv("JWT_SECRET", "changeme"),
			JWTExpire:     time.Duration(getEnvAsInt("JWT_EXPIRE_HOURS", 24)) * time.Hour,
		},
		GeoIP: GeoIPConfig{
			Dir: getEnv("GEOIP_DB_PATH", "./data/geoip"),
		},
		Log: LogConfig{
			Level:      getEnv("LOG_LEVEL", "info"),
			File:       getEnv("LOG_FILE", ""),
			MaxSizeMB:  getEnvAsInt("LOG_MAX_SIZE_MB", 100),
			MaxBackups: getEnvAsInt("LOG_MAX_BACKUPS", 3),
			MaxAgeDays: getEnvAsInt("LOG_MAX_AGE_DAYS", 28),
		},
		LinuxDo: LinuxDoConfig{
			ProxyURL: getEnv("LINUXDO_PROXY_URL", ""),
		},
		Timezone: getEnv("TIMEZONE", "Local"),
	}

	cfg.Gateway.Engine = normalizeEngine(cfg.Gateway.Engine, cfg.Gateway.DSN)

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", cfg.Timezone, err)
	}
	cfg.Location = loc

	return cfg, cfg.Validate()
}

func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "changeme" && c.Server.Environment == "production" {
		return fmt.Errorf("JWT_SECRET must be set in production")
	}

	if c.Auth.AdminPassword == "" && c.Auth.APIKey == "" && c.Server.Environment == "production" {
		return fmt.Errorf("ADMIN_PASSWORD or API_KEY must be set in production")
	}

	switch c.Gateway.Engine {
	case "postgres", "mysql":
	default:
		return fmt.Errorf("unsupported DB_ENGINE: %s", c.Gateway.Engine)
	}

	return nil
}

// normalizeEngine maps aliases and falls back to inferring the engine from
// the DSN scheme when DB_ENGINE is unset.
func normalizeEngine(engine, dsn string) string {
	switch strings.ToLower(engine) {
	case "postgres", "postgresql", "pg":
		return "postgres"
	case "mysql", "mariadb":
		return "mysql"
	case "":
	default:
		return strings.ToLower(engine)
	}

	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres"
	}
	if dsn != "" {
		return "mysql"
	}
	return "postgres"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	duration, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return duration
}
