package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port          string `envconfig:"PORT" default:"8080"`
	AllowedOrigin string `envconfig:"ALLOWED_ORIGIN" default:"http://127.0.0.1:3000"`
	DatabaseURL   string `envconfig:"DATABASE_URL"`
	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	AuthSecret            string `envconfig:"AUTH_SECRET"`
	AccessTokenTTLMinutes int    `envconfig:"ACCESS_TOKEN_TTL_MINUTES" default:"480"`

	BoxOfficeRegisterID string `envconfig:"BOX_OFFICE_REGISTER_ID" default:"box-office"`
	MaxAllocAttempts    int    `envconfig:"MAX_ALLOC_ATTEMPTS" default:"300"`
	LowStockThreshold   int    `envconfig:"LOW_STOCK_THRESHOLD" default:"10"`
	NearExpiryHours     int    `envconfig:"NEAR_EXPIRY_HOURS" default:"72"`
	CatalogTTLSeconds   int    `envconfig:"CATALOG_TTL_SECONDS" default:"30"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	LogJSON  bool   `envconfig:"LOG_JSON" default:"false"`
}

// Load reads an optional .env file, then the process environment. A missing
// .env is normal outside local development.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) AccessTokenTTL() time.Duration {
	if c.AccessTokenTTLMinutes < 1 {
		return 8 * time.Hour
	}
	return time.Duration(c.AccessTokenTTLMinutes) * time.Minute
}

func (c Config) NearExpiryWindow() time.Duration {
	if c.NearExpiryHours < 1 {
		return 72 * time.Hour
	}
	return time.Duration(c.NearExpiryHours) * time.Hour
}

func (c Config) CatalogTTL() time.Duration {
	if c.CatalogTTLSeconds < 1 {
		return 30 * time.Second
	}
	return time.Duration(c.CatalogTTLSeconds) * time.Second
}
