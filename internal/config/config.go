package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	DBFile        string        `envconfig:"DB_FILE" default:"quickchat.db"`
	APIAddr       string        `envconfig:"API_ADDR" default:":8080"`
	BaseURL       string        `envconfig:"BASE_URL" default:"http://localhost:8080"`
	UploadsPath   string        `envconfig:"UPLOADS_PATH" default:"uploads"`
	TokenExpiry   time.Duration `envconfig:"TOKEN_EXPIRY" default:"24h"`
	StoreTimeout  time.Duration `envconfig:"STORE_TIMEOUT" default:"1s"`
	MaxImageBytes int64         `envconfig:"MAX_IMAGE_BYTES" default:"4194304"`
}

func Load() (*Config, error) {
	// .env is optional, real env always wins.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("quickchat", &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.TokenExpiry <= 0 {
		return fmt.Errorf("TOKEN_EXPIRY must be greater than 0")
	}
	if c.StoreTimeout <= 0 {
		return fmt.Errorf("STORE_TIMEOUT must be greater than 0")
	}
	if c.MaxImageBytes <= 0 {
		return fmt.Errorf("MAX_IMAGE_BYTES must be greater than 0")
	}
	return nil
}
