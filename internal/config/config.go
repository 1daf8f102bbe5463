// Package config provides the configuration structure for the music-service.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
	"github.com/pelletier/go-toml/v2"
)

// Environment variables that override the bind address of the front end.
const (
	EnvServerName = "MUSIC_SERVER_NAME"
	EnvServerPort = "MUSIC_SERVER_PORT"
	// EnvConfigFile points at a local TOML file used instead of the central configurator.
	EnvConfigFile = "MUSIC_CONFIG_FILE"
)

// Pipeline backends.
const (
	BackendExec = "exec"
	BackendHTTP = "http"
)

var (
	// ErrInvalidPort indicates a port outside 1-65535.
	ErrInvalidPort = errors.New("port must be between 1 and 65535")
	// ErrUnknownBackend indicates an unsupported pipeline backend.
	ErrUnknownBackend = errors.New("unknown pipeline backend")
	// ErrMissingServiceURL indicates the http backend has no sidecar URL.
	ErrMissingServiceURL = errors.New("pipeline.service_url is required for the http backend")
	// ErrMissingSubject indicates NATS is enabled without a subject.
	ErrMissingSubject = errors.New("nats.generate_subject is required when nats is enabled")
)

// ServerConfig holds the bind address of the web front end.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// Address returns host:port.
func (s ServerConfig) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
	OutputsDir  string `toml:"outputs_dir"`
	AssetsDir   string `toml:"assets_dir"`
}

// PipelineConfig selects and configures the generation backend.
type PipelineConfig struct {
	Backend        string `toml:"backend"`
	BinaryPath     string `toml:"binary_path"`
	ServiceURL     string `toml:"service_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	ModelPath      string `toml:"model_path"`
}

// Timeout returns the sidecar request timeout; zero means none.
func (p PipelineConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// NATSConfig holds the configuration for the optional NATS worker.
type NATSConfig struct {
	Enabled              bool   `toml:"enabled"`
	URL                  string `toml:"url"`
	GenerateSubject      string `toml:"generate_subject"`
	ArtifactBucket       string `toml:"artifact_bucket"`
	HandleTimeoutSeconds int    `toml:"handle_timeout_seconds"`
}

// SentryConfig enables error reporting when DSN is set.
type SentryConfig struct {
	DSN         string `toml:"dsn"`
	Environment string `toml:"environment"`
}

// Config is the root configuration structure.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Paths    PathsConfig    `toml:"paths"`
	Pipeline PipelineConfig `toml:"pipeline"`
	NATS     NATSConfig     `toml:"nats"`
	Sentry   SentryConfig   `toml:"sentry"`
}

// Default returns the configuration used when nothing else is provided.
func Default() Config {
	return Config{
		Server: ServerConfig{Host: "127.0.0.1", Port: 7860},
		Paths: PathsConfig{
			BaseLogsDir: "logs",
			OutputsDir:  "outputs",
			AssetsDir:   "assets",
		},
		Pipeline: PipelineConfig{
			Backend:        BackendExec,
			BinaryPath:     "heartmula-generate",
			ServiceURL:     "http://127.0.0.1:8000",
			TimeoutSeconds: 900,
			ModelPath:      "./ckpt",
		},
		NATS: NATSConfig{
			Enabled:              false,
			URL:                  "nats://127.0.0.1:4222",
			GenerateSubject:      "music.generate",
			ArtifactBucket:       "MUSIC_ARTIFACTS",
			HandleTimeoutSeconds: 900,
		},
		Sentry: SentryConfig{Environment: "development"},
	}
}

// Load loads the configuration for the music-service.
//
// Defaults are applied first. A local file named by MUSIC_CONFIG_FILE takes
// precedence over the central configurator; when the configurator has
// nothing to offer the service keeps running on defaults. Environment
// overrides are applied last.
func Load(log *logger.Logger) (*Config, error) {
	cfg := Default()

	if path := os.Getenv(EnvConfigFile); path != "" {
		fileErr := decodeFile(path, &cfg)
		if fileErr != nil {
			return nil, fileErr
		}
	} else {
		err := configurator.Load(&cfg, log)
		if err != nil {
			log.Warn("Central configuration unavailable, using defaults: %v", err)
		}
	}

	return finish(&cfg)
}

// LoadFile loads the configuration from a TOML file on top of the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	err := decodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}

	return finish(&cfg)
}

func decodeFile(path string, cfg *Config) error {
	// #nosec G304 -- the path comes from the operator's environment
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file '%s': %w", path, err)
	}

	err = toml.Unmarshal(data, cfg)
	if err != nil {
		return fmt.Errorf("failed to parse config file '%s': %w", path, err)
	}

	return nil
}

func finish(cfg *Config) (*Config, error) {
	err := cfg.ApplyEnv(os.LookupEnv)
	if err != nil {
		return nil, err
	}

	err = cfg.Validate()
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyEnv overrides the bind address from MUSIC_SERVER_NAME and MUSIC_SERVER_PORT.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if host, ok := lookup(EnvServerName); ok && strings.TrimSpace(host) != "" {
		c.Server.Host = strings.TrimSpace(host)
	}

	if rawPort, ok := lookup(EnvServerPort); ok && strings.TrimSpace(rawPort) != "" {
		port, err := strconv.Atoi(strings.TrimSpace(rawPort))
		if err != nil {
			return fmt.Errorf("%w: %s=%q", ErrInvalidPort, EnvServerPort, rawPort)
		}

		c.Server.Port = port
	}

	return nil
}

// Validate checks the settings the service cannot start without.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: got %d", ErrInvalidPort, c.Server.Port)
	}

	switch c.Pipeline.Backend {
	case BackendExec:
	case BackendHTTP:
		if c.Pipeline.ServiceURL == "" {
			return ErrMissingServiceURL
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownBackend, c.Pipeline.Backend)
	}

	if c.NATS.Enabled && c.NATS.GenerateSubject == "" {
		return ErrMissingSubject
	}

	return nil
}
