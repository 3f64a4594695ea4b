package core

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// EngineConfig names the external interpreter and the entry point it calls.
type EngineConfig struct {
	Program    string   `yaml:"program"`
	ScriptDir  string   `yaml:"script_dir"`
	EntryPoint string   `yaml:"entry_point"`
	Args       []string `yaml:"args"`
}

// Publish targets.
const (
	TargetSFTP = "sftp"
	TargetS3   = "s3"
)

// PublishConfig describes where completed jobs are uploaded to.
type PublishConfig struct {
	Enabled bool     `yaml:"enabled"`
	Target  string   `yaml:"target"`
	S3      S3Config `yaml:"s3"`

	Addr           string `yaml:"addr"`
	User           string `yaml:"user"`
	KeyPath        string `yaml:"key_path"`
	KnownHosts     string `yaml:"known_hosts"`
	RemoteDir      string `yaml:"remote_dir"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// S3Config selects the bucket for the s3 target. Credentials come from
// secrets.env or the default AWS chain, never from the YAML file.
type S3Config struct {
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	Prefix    string `yaml:"prefix"`
	Endpoint  string `yaml:"endpoint"`
	PathStyle bool   `yaml:"path_style"`

	AccessKeyID     string `yaml:"-"`
	SecretAccessKey string `yaml:"-"`
}

// Config is the full runtime configuration. Every field has a default.
type Config struct {
	Preset     string       `yaml:"preset"`
	Convention Convention   `yaml:"convention"`
	Engine     EngineConfig `yaml:"engine"`
	Workers    int          `yaml:"workers"`
	Ledger     struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"ledger"`
	Logs struct {
		PerJob string `yaml:"per_job"`
	} `yaml:"logs"`
	Publish   PublishConfig `yaml:"publish"`
	Telemetry struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"telemetry"`
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig(preset string) (Config, error) {
	if preset == "" {
		preset = "staging"
	}
	conv, err := Preset(preset)
	if err != nil {
		return Config{}, err
	}
	if err := conv.Validate(); err != nil {
		return Config{}, err
	}
	var cfg Config
	cfg.Preset = preset
	cfg.Convention = conv
	cfg.Engine = EngineConfig{Program: "octave", ScriptDir: "simulation", EntryPoint: "co2lab3DPUMLE"}
	cfg.Workers = DefaultWorkers
	cfg.Ledger.Enabled = true
	cfg.Ledger.Path = filepath.Join("data_lake", "simbatch.db")
	cfg.Logs.PerJob = "simulation.log"
	cfg.Publish.Target = TargetSFTP
	cfg.Publish.TimeoutSeconds = 30
	cfg.Publish.S3.Region = "us-east-1"
	cfg.Server.Addr = "127.0.0.1:8080"
	return cfg, nil
}

// LoadConfig reads YAML configuration on top of the defaults of the selected preset.
// An explicit path must exist; otherwise ./simbatch.yaml and then
// $XDG_CONFIG_HOME/simbatch/config.yaml (or ~/.config/simbatch/config.yaml) are
// tried and silently skipped when absent. A non-empty preset overrides the file's.
func LoadConfig(path, preset string) (Config, error) {
	content, err := readConfigFile(path)
	if err != nil {
		return Config{}, err
	}

	var head struct {
		Preset string `yaml:"preset"`
	}
	if err := yaml.Unmarshal(content, &head); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if preset == "" {
		preset = head.Preset
	}
	cfg, err := DefaultConfig(preset)
	if err != nil {
		return Config{}, err
	}
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg.Preset = preset
	if cfg.Preset == "" {
		cfg.Preset = "staging"
	}
	if err := cfg.Convention.Validate(); err != nil {
		return Config{}, err
	}
	if cfg.Workers < 1 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.Engine.Program == "" || cfg.Engine.EntryPoint == "" {
		return Config{}, &ConfigurationError{Reason: "engine program and entry_point are required"}
	}

	switch cfg.Publish.Target {
	case TargetSFTP, TargetS3:
	default:
		return Config{}, &ConfigurationError{Reason: fmt.Sprintf("unknown publish target %q", cfg.Publish.Target)}
	}

	// Merge secrets from secrets.env if present to avoid storing hosts in YAML
	secrets, err := LoadSecretsEnv("")
	if err != nil {
		return Config{}, err
	}
	for _, k := range secretKeys {
		if v := os.Getenv(k); v != "" {
			secrets[k] = v
		}
	}
	if v := secrets["SIMBATCH_PUBLISH_ADDR"]; v != "" {
		cfg.Publish.Addr = v
	}
	if v := secrets["SIMBATCH_PUBLISH_USER"]; v != "" {
		cfg.Publish.User = v
	}
	if v := secrets["SIMBATCH_PUBLISH_KEY_PATH"]; v != "" {
		cfg.Publish.KeyPath = v
	}
	cfg.Publish.S3.AccessKeyID = secrets["SIMBATCH_S3_ACCESS_KEY_ID"]
	cfg.Publish.S3.SecretAccessKey = secrets["SIMBATCH_S3_SECRET_ACCESS_KEY"]
	return cfg, nil
}

func readConfigFile(path string) ([]byte, error) {
	if path != "" {
		return readFile(path)
	}
	candidates := []string{"simbatch.yaml", filepath.Join(ConfigHome(), "simbatch", "config.yaml")}
	for _, p := range candidates {
		content, err := readFile(p)
		if err == nil {
			return content, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	return nil, nil
}

func readFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return content, nil
}

// ConfigHome is $XDG_CONFIG_HOME, falling back to ~/.config.
func ConfigHome() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, _ := os.UserHomeDir()
		base = filepath.Join(home, ".config")
	}
	return base
}
