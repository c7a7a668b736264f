package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// clearEnv neutralizes the overrides that may be set on the test machine
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"CRAFT_TOKEN", "CRAFT_URL", "CRAFT_OWNER", "CRAFT_PROJECT", "BUYHABITS_LOG_LEVEL"} {
		t.Setenv(key, "")
	}
}

// =============================================================================
// Default Config Tests
// =============================================================================

func TestDefault(t *testing.T) {
	clearEnv(t)
	cfg := Default()

	if cfg == nil {
		t.Fatal("Default() returned nil")
	}
	if !filepath.IsAbs(cfg.DataDir) || filepath.Base(cfg.DataDir) != ".buyhabits" {
		t.Errorf("DataDir = %q, want an absolute path ending with .buyhabits", cfg.DataDir)
	}

	if cfg.Oracle.URL != "https://beta.craft.ai" {
		t.Errorf("Oracle.URL = %q", cfg.Oracle.URL)
	}
	if cfg.Oracle.ChunkSize != 200 || cfg.Oracle.RequestsPerSecond != 50 || cfg.Oracle.Concurrency != 10 {
		t.Errorf("Oracle limits = %+v", cfg.Oracle)
	}
	if cfg.Oracle.Timeout != time.Minute {
		t.Errorf("Oracle.Timeout = %v, want 1m", cfg.Oracle.Timeout)
	}
	if cfg.Model.Timezone != "Europe/Paris" || !cfg.Model.IncludeUndecided {
		t.Errorf("Model = %+v", cfg.Model)
	}
	if cfg.Server.Port != 8080 || cfg.Server.Host != "localhost" {
		t.Errorf("Server = %+v", cfg.Server)
	}
	if len(cfg.Kafka.Brokers) != 0 {
		t.Error("Kafka should be disabled by default")
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Default().Validate() = %v", err)
	}
}

func TestDefault_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("CRAFT_TOKEN", "env-token")
	t.Setenv("CRAFT_URL", "http://localhost:9999")
	t.Setenv("CRAFT_OWNER", "craft-ai")
	t.Setenv("CRAFT_PROJECT", "buying-habits")
	t.Setenv("BUYHABITS_LOG_LEVEL", "debug")

	cfg := Default()

	if cfg.Oracle.Token != "env-token" || cfg.Oracle.URL != "http://localhost:9999" {
		t.Errorf("Oracle = %+v", cfg.Oracle)
	}
	if cfg.Oracle.Owner != "craft-ai" || cfg.Oracle.Project != "buying-habits" {
		t.Errorf("Oracle owner/project = %q/%q", cfg.Oracle.Owner, cfg.Oracle.Project)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
}

// =============================================================================
// Load Config Tests
// =============================================================================

func TestLoad_NonExistentFile(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("/non/existent/path/config.yaml")
	if err != nil {
		t.Fatalf("Load() error = %v, want nil for non-existent file", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080 (default)", cfg.Server.Port)
	}
}

func TestLoad_YAMLFile(t *testing.T) {
	clearEnv(t)
	configPath := filepath.Join(t.TempDir(), "config.yaml")

	content := `
log_level: warn
oracle:
  owner: craft-ai
  project: buying-habits
  token: file-token
  timeout: 30s
  requests_per_second: 20
model:
  timezone: Europe/Paris
  seed: fixed
  include_undecided: false
kafka:
  brokers: [localhost:9092]
  topic: predictions
dictionaries:
  clients:
    C1234: Jane Doe
  categories:
    FRUIT: Fruits
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
	if cfg.Oracle.Timeout != 30*time.Second || cfg.Oracle.RequestsPerSecond != 20 {
		t.Errorf("Oracle = %+v", cfg.Oracle)
	}
	// Fields absent from the file keep their defaults
	if cfg.Oracle.ChunkSize != 200 || cfg.Oracle.URL != "https://beta.craft.ai" {
		t.Errorf("defaults lost: %+v", cfg.Oracle)
	}
	if cfg.Model.IncludeUndecided || cfg.Model.Seed != "fixed" {
		t.Errorf("Model = %+v", cfg.Model)
	}
	if loc, err := cfg.Location(); err != nil || loc.String() != "Europe/Paris" {
		t.Errorf("Location() = %v, %v", loc, err)
	}
	if len(cfg.Kafka.Brokers) != 1 || cfg.Kafka.Topic != "predictions" {
		t.Errorf("Kafka = %+v", cfg.Kafka)
	}
	if cfg.Dictionaries.Clients["C1234"] != "Jane Doe" || cfg.Dictionaries.Categories["FRUIT"] != "Fruits" {
		t.Errorf("Dictionaries = %+v", cfg.Dictionaries)
	}
}

func TestLoad_JSONFile(t *testing.T) {
	clearEnv(t)
	configPath := filepath.Join(t.TempDir(), "config.json")
	os.WriteFile(configPath, []byte(`{"server": {"port": 3000}, "oracle": {"chunk_size": 50}}`), 0644)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 3000 || cfg.Oracle.ChunkSize != 50 {
		t.Errorf("Server.Port = %d, Oracle.ChunkSize = %d", cfg.Server.Port, cfg.Oracle.ChunkSize)
	}
	if cfg.Server.Host != "localhost" {
		t.Errorf("Server.Host = %q, default should be kept", cfg.Server.Host)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	clearEnv(t)
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	os.WriteFile(configPath, []byte("oracle:\n  token: file-token\n"), 0644)

	t.Setenv("CRAFT_TOKEN", "env-token")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Oracle.Token != "env-token" {
		t.Errorf("Oracle.Token = %q, want env-token (env override)", cfg.Oracle.Token)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"malformed", "oracle: [unclosed", "loading config"},
		{"unknown timezone", "model:\n  timezone: Mars/Olympus\n", "model.timezone"},
		{"zero chunk size", "oracle:\n  chunk_size: 0\n", "chunk_size"},
		{"negative rate", "oracle:\n  requests_per_second: -1\n", "requests_per_second"},
		{"bad log level", "log_level: chatty\n", "unknown log level"},
		{"brokers without topic", "kafka:\n  brokers: [localhost:9092]\n  topic: \"\"\n", "kafka.topic"},
		{"refresh clock", "refresh:\n  at: \"25:61\"\n", "refresh"},
		{"refresh weekday", "refresh:\n  at: \"03:00\"\n  days: [someday]\n", "refresh.days"},
		{"refresh type", "refresh:\n  every: 24h\n  type: product\n", "refresh.type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			configPath := filepath.Join(t.TempDir(), "config.yaml")
			os.WriteFile(configPath, []byte(tt.content), 0644)

			_, err := Load(configPath)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Load() error = %v, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestLoad_ReadPermissionError(t *testing.T) {
	if os.Getenv("OS") == "Windows_NT" {
		t.Skip("Skipping permission test on Windows")
	}
	if os.Geteuid() == 0 {
		t.Skip("root ignores file permissions")
	}

	configPath := filepath.Join(t.TempDir(), "config.yaml")
	os.WriteFile(configPath, []byte("server:\n  port: 8080\n"), 0644)
	os.Chmod(configPath, 0000)
	defer os.Chmod(configPath, 0644)

	if _, err := Load(configPath); err == nil {
		t.Error("Load() should return error for unreadable file")
	}
}

// =============================================================================
// Save Config Tests
// =============================================================================

func TestSave_DoesNotSaveToken(t *testing.T) {
	clearEnv(t)
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "subdir", "config.yaml")

	cfg := Default()
	cfg.DataDir = tmpDir
	cfg.Oracle.Token = "secret-token"
	cfg.Server.Port = 9999

	if err := cfg.Save(configPath); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("failed to read saved config: %v", err)
	}
	if strings.Contains(string(data), "secret-token") {
		t.Error("saved config should not contain the token")
	}
	if cfg.Oracle.Token != "secret-token" {
		t.Error("Save() should not modify the original config")
	}

	info, _ := os.Stat(configPath)
	if info.Mode().Perm() != 0600 {
		t.Errorf("file permissions = %o, want 0600", info.Mode().Perm())
	}
}

func TestLoadAndSave_RoundTrip(t *testing.T) {
	clearEnv(t)
	configPath := filepath.Join(t.TempDir(), "config.yaml")

	original := Default()
	original.Oracle.Owner = "craft-ai"
	original.Oracle.Timeout = 15 * time.Second
	original.Model.Timezone = "Europe/Paris"
	original.Kafka.Brokers = []string{"kafka-1:9092", "kafka-2:9092"}
	original.Dictionaries.Categories = map[string]string{"FRUIT": "Fruits"}

	if err := original.Save(configPath); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if loaded.Oracle.Owner != "craft-ai" || loaded.Oracle.Timeout != 15*time.Second {
		t.Errorf("Oracle = %+v", loaded.Oracle)
	}
	if loaded.Model.Timezone != "Europe/Paris" {
		t.Errorf("Model.Timezone = %q", loaded.Model.Timezone)
	}
	if len(loaded.Kafka.Brokers) != 2 || loaded.Dictionaries.Categories["FRUIT"] != "Fruits" {
		t.Errorf("Kafka = %+v, Dictionaries = %+v", loaded.Kafka, loaded.Dictionaries)
	}
}

func TestDBPath(t *testing.T) {
	cfg := &Config{DataDir: "/var/lib/buyhabits"}
	if got := cfg.DBPath(); got != "/var/lib/buyhabits/buyhabits.db" {
		t.Errorf("DBPath() = %q", got)
	}
	cfg.Storage.DBPath = "/tmp/other.db"
	if got := cfg.DBPath(); got != "/tmp/other.db" {
		t.Errorf("DBPath() = %q", got)
	}
}

func TestRefreshConfig_Schedule(t *testing.T) {
	clearEnv(t)
	if Default().Refresh.Enabled() {
		t.Fatal("refresh should be disabled by default")
	}

	configPath := filepath.Join(t.TempDir(), "config.yaml")
	content := "refresh:\n  at: \"03:00\"\n  days: [mon, Thursday]\n"
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !cfg.Refresh.Enabled() || cfg.Refresh.Type != "all" {
		t.Fatalf("Refresh = %+v", cfg.Refresh)
	}

	schedule, err := cfg.Refresh.Schedule()
	if err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}
	if schedule.At != "03:00" || len(schedule.Days) != 2 || schedule.Days[0] != time.Monday || schedule.Days[1] != time.Thursday {
		t.Errorf("Schedule = %+v", schedule)
	}
}
