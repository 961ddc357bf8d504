package sessionguard

import (
	"encoding/base64"
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// LoadConfigFromEnv builds a Config from environment variables, reading an
// optional .env file first. The HMAC secret is passed base64-encoded via
// SESSION_HMAC_SECRET. The result is validated before being returned.
func LoadConfigFromEnv() (Config, error) {
	// A missing .env file is fine; real environments set variables directly.
	_ = godotenv.Load()

	cfg := DefaultConfig()
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse session config: %w", err)
	}

	var secret struct {
		HMACSecret string `env:"SESSION_HMAC_SECRET"`
	}
	if err := env.Parse(&secret); err != nil {
		return Config{}, fmt.Errorf("parse session secrets: %w", err)
	}
	if secret.HMACSecret != "" {
		key, err := base64.StdEncoding.DecodeString(secret.HMACSecret)
		if err != nil {
			return Config{}, fmt.Errorf("decode SESSION_HMAC_SECRET: %w", err)
		}
		cfg.Integrity.SecretKey = key
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
