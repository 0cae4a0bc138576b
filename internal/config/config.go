package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds the settings of the fire-relay server process.
type Config struct {
	// HTTPAddress is the listen address for the HTTP and WebSocket endpoints.
	HTTPAddress string `yaml:"http_addr"`
	// SensorUDPPort is the UDP port the sensor ingest bridge listens on.
	SensorUDPPort int `yaml:"sensor_udp_port"`
	// StaticDir is the directory of static web assets served under /static/.
	StaticDir string `yaml:"static_dir"`
	// FirebaseCredentialsFile is the path to the Firebase service account JSON.
	// The process refuses to start without valid push gateway credentials.
	FirebaseCredentialsFile string `yaml:"firebase_credentials_file"`
	// AdminCredentials maps admin usernames to their passwords.
	AdminCredentials map[string]string `yaml:"admins"`
	// LogLevel is the minimum level of emitted log messages.
	LogLevel string `yaml:"log_level"`
}

const (
	// DefaultConfigFilename is the default filename for relay settings.
	DefaultConfigFilename = "fire-relay-settings.yaml"

	// DefaultHTTPAddress is the default listen address for the HTTP server.
	DefaultHTTPAddress = ":8080"

	// DefaultSensorUDPPort is the default UDP port for sensor datagrams.
	DefaultSensorUDPPort = 5006

	// DefaultStaticDir is the default directory of static web assets.
	DefaultStaticDir = "static"

	// DefaultLogLevel is the default minimum log level.
	DefaultLogLevel = "info"

	// DefaultFilePermissions is the default file permission for config files.
	DefaultFilePermissions = 0o600
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errCredentialsFileRequired is returned when the Firebase credentials path is missing.
	errCredentialsFileRequired = errors.New("firebase credentials file must be provided")
	// errAdminsRequired is returned when no admin credentials are configured.
	errAdminsRequired = errors.New("at least one admin credential must be provided")
)

// Load reads configuration from the provided path and validates essential fields.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes the configuration to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	// Restrict permissions, the file carries admin credentials.
	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate checks the provided settings for required fields and fills defaults.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if cfg.HTTPAddress == "" {
		cfg.HTTPAddress = DefaultHTTPAddress
	}

	if _, err := net.ResolveTCPAddr("tcp", cfg.HTTPAddress); err != nil {
		return fmt.Errorf("invalid HTTP address: %w", err)
	}

	if cfg.SensorUDPPort == 0 {
		cfg.SensorUDPPort = DefaultSensorUDPPort
	}

	if cfg.SensorUDPPort < 1 || cfg.SensorUDPPort > 65535 {
		return fmt.Errorf("invalid sensor UDP port: %d", cfg.SensorUDPPort)
	}

	if cfg.StaticDir == "" {
		cfg.StaticDir = DefaultStaticDir
	}

	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}

	// Missing push gateway credentials are a startup failure, not a runtime one.
	if cfg.FirebaseCredentialsFile == "" {
		return errCredentialsFileRequired
	}

	if len(cfg.AdminCredentials) == 0 {
		return errAdminsRequired
	}

	return nil
}
