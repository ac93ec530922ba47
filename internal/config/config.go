// Package config loads service configuration from an optional YAML file
// with environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Port        string `yaml:"port"`
	DatabaseURL string `yaml:"databaseUrl"`
	RedisURL    string `yaml:"redisUrl"`

	Provider struct {
		AuthURL         string `yaml:"authUrl"`
		TourURL         string `yaml:"tourUrl"`
		MaxAttempts     int    `yaml:"maxAttempts"`
		BackoffMs       int    `yaml:"backoffMs"`
		SessionTTLSec   int    `yaml:"sessionTtlSec"`
		RefreshAheadSec int    `yaml:"refreshAheadSec"`
		RefreshEverySec int    `yaml:"refreshEverySec"`
	} `yaml:"provider"`

	Geocoder struct {
		BaseURL     string  `yaml:"baseUrl"`
		Token       string  `yaml:"token"`
		RPS         float64 `yaml:"rps"`
		Burst       int     `yaml:"burst"`
		MaxAttempts int     `yaml:"maxAttempts"`
		BackoffMs   int     `yaml:"backoffMs"`
		TTLHours    int     `yaml:"ttlHours"`
	} `yaml:"geocoder"`

	Optimizer struct {
		ImproveIterations int `yaml:"improveIterations"`
	} `yaml:"optimizer"`
}

// Load reads path (if it exists) over built-in defaults, then applies env
// overrides. An empty path checks CONFIG_FILE, then ./config.yaml.
func Load(path string) (Config, error) {
	cfg := defaults()
	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path == "" {
		path = "config.yaml"
	}
	if b, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

func defaults() Config {
	var c Config
	c.Port = "8080"
	c.Provider.AuthURL = "https://wsauthentification.colisprive.com"
	c.Provider.TourURL = "https://wstournee.colisprive.com"
	c.Provider.MaxAttempts = 3
	c.Provider.BackoffMs = 200
	c.Provider.SessionTTLSec = 1800
	c.Provider.RefreshAheadSec = 300
	c.Provider.RefreshEverySec = 60
	c.Geocoder.BaseURL = "https://api.mapbox.com"
	c.Geocoder.RPS = 10
	c.Geocoder.Burst = 5
	c.Geocoder.MaxAttempts = 3
	c.Geocoder.BackoffMs = 100
	c.Geocoder.TTLHours = 24 * 30
	c.Optimizer.ImproveIterations = 3
	return c
}

func applyEnv(c *Config) {
	if v := os.Getenv("PORT"); v != "" {
		c.Port = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.RedisURL = v
	}
	if v := os.Getenv("PROVIDER_AUTH_URL"); v != "" {
		c.Provider.AuthURL = v
	}
	if v := os.Getenv("PROVIDER_TOUR_URL"); v != "" {
		c.Provider.TourURL = v
	}
	if v := os.Getenv("MAPBOX_TOKEN"); v != "" {
		c.Geocoder.Token = v
	}
	if v := os.Getenv("MAPBOX_BASE_URL"); v != "" {
		c.Geocoder.BaseURL = v
	}
}

func (c Config) ProviderBackoff() time.Duration {
	return time.Duration(c.Provider.BackoffMs) * time.Millisecond
}

func (c Config) GeocoderBackoff() time.Duration {
	return time.Duration(c.Geocoder.BackoffMs) * time.Millisecond
}

func (c Config) GeocodeTTL() time.Duration {
	return time.Duration(c.Geocoder.TTLHours) * time.Hour
}

func (c Config) SessionTTL() time.Duration {
	return time.Duration(c.Provider.SessionTTLSec) * time.Second
}
