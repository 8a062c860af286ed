package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration.
type Config struct {
	GitHubToken string
	FlowsDir    string
	EvidenceDir string
	ArchiveDir  string
	KeyDir      string
	SigningKey  string
	Workdir     string
	DefaultFlow string
	Concurrency int
	Isolate     bool
	ConfigDir   string
}

// FileConfig is the structure of ~/.mergeflow/config.yaml.
type FileConfig struct {
	GitHubToken string `yaml:"github_token"`
	FlowsDir    string `yaml:"flows_dir"`
	EvidenceDir string `yaml:"evidence_dir"`
	ArchiveDir  string `yaml:"archive_dir"`
	SigningKey  string `yaml:"signing_key"`
	Workdir     string `yaml:"workdir"`
	DefaultFlow string `yaml:"default_flow"`
	Concurrency int    `yaml:"concurrency"`
	Isolate     bool   `yaml:"isolate"`
}

// Load reads configuration from the config file and environment variables.
// Environment variables take precedence over file configuration.
func Load() (*Config, error) {
	configDir, err := getConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}

	fileConfig := loadFileConfig(filepath.Join(configDir, "config.yaml"))

	cfg := &Config{
		GitHubToken: getEnvOrDefault("GITHUB_TOKEN", fileConfig.GitHubToken),
		FlowsDir:    getEnvOrDefault("MERGEFLOW_FLOWS_DIR", fileConfig.FlowsDir),
		EvidenceDir: getEnvOrDefault("MERGEFLOW_EVIDENCE_DIR", fileConfig.EvidenceDir),
		ArchiveDir:  getEnvOrDefault("MERGEFLOW_ARCHIVE_DIR", fileConfig.ArchiveDir),
		SigningKey:  getEnvOrDefault("MERGEFLOW_SIGNING_KEY", fileConfig.SigningKey),
		Workdir:     getEnvOrDefault("MERGEFLOW_WORKDIR", fileConfig.Workdir),
		DefaultFlow: getEnvOrDefault("MERGEFLOW_FLOW", fileConfig.DefaultFlow),
		Concurrency: fileConfig.Concurrency,
		Isolate:     fileConfig.Isolate,
		ConfigDir:   configDir,
	}

	if raw := os.Getenv("MERGEFLOW_ISOLATE"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid MERGEFLOW_ISOLATE %q: %w", raw, err)
		}
		cfg.Isolate = b
	}

	if raw := os.Getenv("MERGEFLOW_CONCURRENCY"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid MERGEFLOW_CONCURRENCY %q: %w", raw, err)
		}
		cfg.Concurrency = n
	}

	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.FlowsDir == "" {
		cfg.FlowsDir = filepath.Join(cfg.ConfigDir, "flows")
	}
	if cfg.EvidenceDir == "" {
		cfg.EvidenceDir = filepath.Join(cfg.ConfigDir, "evidence")
	}
	if cfg.ArchiveDir == "" {
		cfg.ArchiveDir = filepath.Join(cfg.ConfigDir, "archive")
	}
	if cfg.KeyDir == "" {
		cfg.KeyDir = filepath.Join(cfg.ConfigDir, "keys")
	}
	if cfg.SigningKey == "" {
		cfg.SigningKey = "mergeflow"
	}
	if cfg.DefaultFlow == "" {
		cfg.DefaultFlow = "integrative"
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
}

// FlowManifestPath returns the manifest path for a named flow, or "" when
// no manifest file exists for it.
func (c *Config) FlowManifestPath(name string) string {
	path := filepath.Join(c.FlowsDir, name+".yaml")
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

// loadFileConfig reads the config file, returning empty config if not found.
func loadFileConfig(path string) *FileConfig {
	cfg := &FileConfig{}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg // Return empty config if file doesn't exist
	}

	_ = yaml.Unmarshal(data, cfg) // Ignore parse errors, use defaults
	return cfg
}

// getEnvOrDefault returns the environment variable value if set,
// otherwise returns the default value.
func getEnvOrDefault(envVar, defaultValue string) string {
	if val := os.Getenv(envVar); val != "" {
		return val
	}
	return defaultValue
}

func getConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	configDir := filepath.Join(home, ".mergeflow")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return "", err
	}
	return configDir, nil
}
