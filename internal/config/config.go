package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Evidence   EvidenceConfig   `yaml:"evidence"`
	Decision   DecisionConfig   `yaml:"decision"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Postgres   PostgresConfig   `yaml:"postgres"`
	Redis      RedisConfig      `yaml:"redis"`
	Webhooks   WebhooksConfig   `yaml:"webhooks"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
	Env  string `yaml:"env"`
}

type SchedulerConfig struct {
	// Enabled defaults to true; set false to run the API without the
	// background sweep loop.
	Enabled         *bool `yaml:"enabled"`
	IntervalMinutes int   `yaml:"interval_minutes"`
}

// SchedulerEnabled resolves the tri-state flag.
func (c *Config) SchedulerEnabled() bool {
	return c.Scheduler.Enabled == nil || *c.Scheduler.Enabled
}

type EvidenceConfig struct {
	// SecretEnv names the environment variable carrying the hashing secret.
	// The secret itself never appears in config files.
	SecretEnv       string `yaml:"secret_env"`
	MinSecretLength int    `yaml:"min_secret_length"`
}

type DecisionConfig struct {
	// DayBucket folds the UTC date into the idempotency key so an unchanged
	// campaign is re-evaluated at most once per day.
	DayBucket *bool `yaml:"day_bucket"`
}

type ClassifierConfig struct {
	// External delegation is off by default: only sanitized text may leave
	// the process, and only when explicitly enabled.
	ExternalEnabled bool   `yaml:"external_enabled"`
	ExternalURL     string `yaml:"external_url"`
	TimeoutSeconds  int    `yaml:"timeout_seconds"`
}

type PostgresConfig struct {
	DSNEnv string `yaml:"dsn_env"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type WebhooksConfig struct {
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`
}

func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns the configuration used when no config file exists.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Server.Env == "" {
		c.Server.Env = "development"
	}
	if c.Scheduler.IntervalMinutes <= 0 {
		c.Scheduler.IntervalMinutes = 15
	}
	if c.Evidence.SecretEnv == "" {
		c.Evidence.SecretEnv = "ZABVENIE_EVIDENCE_SECRET"
	}
	if c.Evidence.MinSecretLength <= 0 {
		c.Evidence.MinSecretLength = 32
	}
	if c.Classifier.TimeoutSeconds <= 0 {
		c.Classifier.TimeoutSeconds = 5
	}
	if c.Postgres.DSNEnv == "" {
		c.Postgres.DSNEnv = "ZABVENIE_POSTGRES_DSN"
	}
	if c.Webhooks.Workers <= 0 {
		c.Webhooks.Workers = 4
	}
	if c.Webhooks.QueueSize <= 0 {
		c.Webhooks.QueueSize = 1000
	}
}

// SchedulerInterval returns the sweep interval as a duration.
func (c *Config) SchedulerInterval() time.Duration {
	return time.Duration(c.Scheduler.IntervalMinutes) * time.Minute
}

// IsProduction reports whether the server runs with production guarantees.
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// EvidenceSecret resolves the hashing secret from the environment. In
// production a missing or short secret is a hard error; elsewhere the caller
// is expected to warn loudly and proceed with the returned value.
func (c *Config) EvidenceSecret() (string, error) {
	secret := os.Getenv(c.Evidence.SecretEnv)
	if c.IsProduction() {
		if secret == "" {
			return "", fmt.Errorf("%s is required in production", c.Evidence.SecretEnv)
		}
		if len(secret) < c.Evidence.MinSecretLength {
			return "", fmt.Errorf("%s must be at least %d bytes, got %d",
				c.Evidence.SecretEnv, c.Evidence.MinSecretLength, len(secret))
		}
	}
	return secret, nil
}

// PostgresDSN resolves the database connection string, empty when unset.
func (c *Config) PostgresDSN() string {
	return os.Getenv(c.Postgres.DSNEnv)
}
