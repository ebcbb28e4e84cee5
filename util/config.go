package util

import (
	_ "embed"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const Name = "fedsync"
const ConfigFileName = "config.yaml"

//go:embed config_default.yaml
var embeddedConfig []byte

type AppConfig struct {
	Conf struct {
		Host      string
		HttpPort  int    `yaml:"httpPort"`
		SslDomain string `yaml:"sslDomain"`
		WithAp    bool   `yaml:"withAp"`

		DatabasePath string `yaml:"databasePath"`

		// Outbound fan-out
		DeliveryWorkers     int           `yaml:"deliveryWorkers"`
		DeliveryInterval    time.Duration `yaml:"deliveryInterval"`
		MaxDeliveryAttempts int           `yaml:"maxDeliveryAttempts"`
		HttpTimeout         time.Duration `yaml:"httpTimeout"`

		// Remote actor / key cache
		ActorCacheSize int           `yaml:"actorCacheSize"`
		ActorCacheTTL  time.Duration `yaml:"actorCacheTTL"`

		SignatureMaxSkew time.Duration `yaml:"signatureMaxSkew"`
	}
}

// ReadConf loads the config file (local dir first, then ~/.config/fedsync),
// falls back to the embedded defaults and applies FEDSYNC_* overrides.
func ReadConf() (*AppConfig, error) {
	configPath := ResolveFilePath(ConfigFileName)

	buf, err := os.ReadFile(configPath)
	if err != nil {
		log.Printf("Config file not found at %s, using embedded defaults", configPath)
		buf = embeddedConfig

		configDir, dirErr := GetConfigDir()
		if dirErr == nil {
			userConfigPath := configDir + "/" + ConfigFileName
			writeErr := os.WriteFile(userConfigPath, embeddedConfig, 0644)
			if writeErr != nil {
				log.Printf("Warning: could not write default config to %s: %v", userConfigPath, writeErr)
			} else {
				log.Printf("Created default config file at %s", userConfigPath)
			}
		}
	}

	return ParseConf(buf)
}

// ParseConf decodes a YAML document, applies environment overrides and
// fills every unset field with its default.
func ParseConf(buf []byte) (*AppConfig, error) {
	c := &AppConfig{}
	if err := yaml.Unmarshal(buf, c); err != nil {
		return nil, fmt.Errorf("in config file: %w", err)
	}

	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	c.ApplyDefaults()

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *AppConfig) applyEnv() error {
	if v := os.Getenv("FEDSYNC_HOST"); v != "" {
		c.Conf.Host = v
	}
	if v := os.Getenv("FEDSYNC_HTTPPORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("FEDSYNC_HTTPPORT: %w", err)
		}
		c.Conf.HttpPort = port
	}
	if v := os.Getenv("FEDSYNC_SSLDOMAIN"); v != "" {
		c.Conf.SslDomain = v
	}
	if os.Getenv("FEDSYNC_WITH_AP") == "true" {
		c.Conf.WithAp = true
	}
	if v := os.Getenv("FEDSYNC_DATABASE"); v != "" {
		c.Conf.DatabasePath = v
	}
	if v := os.Getenv("FEDSYNC_DELIVERY_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("FEDSYNC_DELIVERY_WORKERS: %w", err)
		}
		c.Conf.DeliveryWorkers = n
	}
	return nil
}

// ApplyDefaults sets every zero-valued tunable to its default.
func (c *AppConfig) ApplyDefaults() {
	if c.Conf.HttpPort == 0 {
		c.Conf.HttpPort = 9999
	}
	if c.Conf.DatabasePath == "" {
		c.Conf.DatabasePath = "database.db"
	}
	if c.Conf.DeliveryWorkers <= 0 {
		c.Conf.DeliveryWorkers = 8
	}
	if c.Conf.DeliveryInterval <= 0 {
		c.Conf.DeliveryInterval = 10 * time.Second
	}
	if c.Conf.MaxDeliveryAttempts <= 0 {
		c.Conf.MaxDeliveryAttempts = 10
	}
	if c.Conf.HttpTimeout <= 0 {
		c.Conf.HttpTimeout = 30 * time.Second
	}
	if c.Conf.ActorCacheSize <= 0 {
		c.Conf.ActorCacheSize = 1024
	}
	if c.Conf.ActorCacheTTL <= 0 {
		c.Conf.ActorCacheTTL = time.Hour
	}
	if c.Conf.SignatureMaxSkew <= 0 {
		c.Conf.SignatureMaxSkew = 12 * time.Hour
	}
}

func (c *AppConfig) Validate() error {
	if c.Conf.SslDomain == "" {
		return fmt.Errorf("no sslDomain given")
	}
	if c.Conf.HttpPort < 0 || c.Conf.HttpPort > 65535 {
		return fmt.Errorf("invalid httpPort %d", c.Conf.HttpPort)
	}
	return nil
}
