// Package config handles the buying habits kit configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/craft-ai/craft-ai-kit-buying-habits/internal/core"
	"github.com/craft-ai/craft-ai-kit-buying-habits/internal/logging"
	"github.com/craft-ai/craft-ai-kit-buying-habits/internal/oracle"
	"github.com/craft-ai/craft-ai-kit-buying-habits/internal/resample"
	"github.com/craft-ai/craft-ai-kit-buying-habits/internal/scheduler"
)

// Config holds all configuration
type Config struct {
	// Paths
	DataDir string `yaml:"data_dir"`

	LogLevel string `yaml:"log_level"`

	// Services
	Oracle OracleConfig `yaml:"oracle"`
	Kafka  KafkaConfig  `yaml:"kafka"`

	Model        ModelConfig      `yaml:"model"`
	Storage      StorageConfig    `yaml:"storage"`
	Server       ServerConfig     `yaml:"server"`
	Refresh      RefreshConfig    `yaml:"refresh"`
	Dictionaries DictionaryConfig `yaml:"dictionaries"`
}

// OracleConfig for the decision-tree service and the limits it publishes
type OracleConfig struct {
	URL               string        `yaml:"url"`
	Owner             string        `yaml:"owner"`
	Project           string        `yaml:"project"`
	Token             string        `yaml:"token,omitempty"`
	Timeout           time.Duration `yaml:"timeout"`
	ChunkSize         int           `yaml:"chunk_size"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Concurrency       int           `yaml:"concurrency"`
}

// ModelConfig tunes how orders are sampled and predictions reported
type ModelConfig struct {
	Timezone         string `yaml:"timezone"`
	Seed             string `yaml:"seed"`
	IncludeUndecided bool   `yaml:"include_undecided"`
}

// StorageConfig for the local database
type StorageConfig struct {
	DBPath string `yaml:"db_path"` // defaults to <data_dir>/buyhabits.db
}

// ServerConfig for HTTP server
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// RefreshConfig schedules the agent refresh run by the server. Disabled
// when neither every nor at is set.
type RefreshConfig struct {
	Type  string        `yaml:"type"` // agent family, defaults to all
	Every time.Duration `yaml:"every"`
	At    string        `yaml:"at"`   // HH:MM in the model timezone
	Days  []string      `yaml:"days"` // e.g. [mon, thu]; empty means daily
}

// Enabled reports whether a refresh is scheduled
func (r RefreshConfig) Enabled() bool {
	return r.Every != 0 || r.At != ""
}

// Schedule converts the refresh settings
func (r RefreshConfig) Schedule() (scheduler.Schedule, error) {
	schedule := scheduler.Schedule{Every: r.Every, At: r.At}
	for _, name := range r.Days {
		day, err := scheduler.ParseWeekday(name)
		if err != nil {
			return scheduler.Schedule{}, fmt.Errorf("refresh.days: %w", err)
		}
		schedule.Days = append(schedule.Days, day)
	}
	if err := schedule.Validate(); err != nil {
		return scheduler.Schedule{}, fmt.Errorf("refresh: %w", err)
	}
	return schedule, nil
}

// KafkaConfig for publishing request results; disabled without brokers
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// DictionaryConfig maps ids to display names used in log lines
type DictionaryConfig struct {
	Clients    map[string]string `yaml:"clients"`
	Categories map[string]string `yaml:"categories"`
}

// Default returns default configuration
func Default() *Config {
	home, _ := os.UserHomeDir()

	cfg := &Config{
		DataDir:  filepath.Join(home, ".buyhabits"),
		LogLevel: "info",
		Oracle: OracleConfig{
			URL:               "https://beta.craft.ai",
			Timeout:           60 * time.Second,
			ChunkSize:         200,
			RequestsPerSecond: 50,
			Concurrency:       10,
		},
		Model: ModelConfig{
			Timezone:         oracle.DefaultTimezone,
			Seed:             resample.DefaultSeed,
			IncludeUndecided: true,
		},
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		Kafka: KafkaConfig{
			Topic: "buying-habits.requests",
		},
		Refresh: RefreshConfig{
			Type: string(core.AgentTypeAll),
		},
	}
	cfg.applyEnv()
	return cfg
}

// Load loads config from a YAML (or JSON) file, falling back to defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = filepath.Join(cfg.DataDir, "config.yaml")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil // Use defaults
		}
		return nil, fmt.Errorf("loading config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	// The environment wins over the file
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if token := os.Getenv("CRAFT_TOKEN"); token != "" {
		c.Oracle.Token = token
	}
	if url := os.Getenv("CRAFT_URL"); url != "" {
		c.Oracle.URL = url
	}
	if owner := os.Getenv("CRAFT_OWNER"); owner != "" {
		c.Oracle.Owner = owner
	}
	if project := os.Getenv("CRAFT_PROJECT"); project != "" {
		c.Oracle.Project = project
	}
	if level := os.Getenv("BUYHABITS_LOG_LEVEL"); level != "" {
		c.LogLevel = level
	}
}

// Validate rejects values the kit cannot run with
func (c *Config) Validate() error {
	if _, err := c.Location(); err != nil {
		return err
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.Oracle.ChunkSize <= 0 {
		return fmt.Errorf("oracle.chunk_size must be positive, got %d", c.Oracle.ChunkSize)
	}
	if c.Oracle.RequestsPerSecond <= 0 {
		return fmt.Errorf("oracle.requests_per_second must be positive, got %v", c.Oracle.RequestsPerSecond)
	}
	if c.Oracle.Concurrency <= 0 {
		return fmt.Errorf("oracle.concurrency must be positive, got %d", c.Oracle.Concurrency)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		return fmt.Errorf("kafka.topic is required when brokers are set")
	}
	if c.Refresh.Enabled() {
		if _, err := c.Refresh.Schedule(); err != nil {
			return err
		}
		if _, err := core.ParseAgentType(c.Refresh.Type); err != nil {
			return fmt.Errorf("refresh.type: %w", err)
		}
	}
	return nil
}

// Location resolves the model timezone
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Model.Timezone)
	if err != nil {
		return nil, fmt.Errorf("model.timezone %q: %w", c.Model.Timezone, err)
	}
	return loc, nil
}

// DBPath returns the database file path
func (c *Config) DBPath() string {
	if c.Storage.DBPath != "" {
		return c.Storage.DBPath
	}
	return filepath.Join(c.DataDir, "buyhabits.db")
}

// Save saves config to file
func (c *Config) Save(path string) error {
	if path == "" {
		path = filepath.Join(c.DataDir, "config.yaml")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	// Don't save the token to file
	safeCfg := *c
	safeCfg.Oracle.Token = ""

	data, err := yaml.Marshal(&safeCfg)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}
