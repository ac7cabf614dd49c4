package ghsync

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const defaultAPIURL = "https://api.github.com"

type Config struct {
	Token   string        `env:"GITHUB_TOKEN"`
	APIURL  string        `env:"GITHUB_API_URL" envDefault:"https://api.github.com"`
	Timeout time.Duration `env:"GITHUB_TIMEOUT" envDefault:"10s"`
}

// Enabled reports whether a token is configured. Without one the sync is off.
func (c Config) Enabled() bool { return strings.TrimSpace(c.Token) != "" }

// LoadConfigFromEnv reads the GitHub collaborator settings.
func LoadConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse github env: %w", err)
	}
	cfg.APIURL = strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/")
	if cfg.APIURL == "" {
		cfg.APIURL = defaultAPIURL
	}
	return cfg, nil
}
