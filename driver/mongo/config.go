package mongo

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
)

// Config holds the connection settings of a MongoDriver.
//
// Example (YAML):
//
//	uri: mongodb://localhost:27017
//	database: app
//	connect_timeout: 10s
//	server_selection_timeout: 5s
type Config struct {
	URI                    string        `yaml:"uri"`
	Database               string        `yaml:"database"`
	ConnectTimeout         time.Duration `yaml:"connect_timeout"`
	ServerSelectionTimeout time.Duration `yaml:"server_selection_timeout"`
}

const defaultTimeout = 10 * time.Second

// withDefaults fills unset timeouts.
func (c Config) withDefaults() Config {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = defaultTimeout
	}
	if c.ServerSelectionTimeout <= 0 {
		c.ServerSelectionTimeout = defaultTimeout
	}
	return c
}

// Validate reports missing mandatory settings.
func (c Config) Validate() error {
	if c.URI == "" {
		return errors.New("mongo config: uri is empty")
	}
	if c.Database == "" {
		return errors.New("mongo config: database is empty")
	}
	return nil
}

// ParseConfig decodes a YAML document into a Config.
func ParseConfig(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("mongo config: %w", err)
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfig reads and decodes a YAML config file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("mongo config: %w", err)
	}
	return ParseConfig(data)
}
