// Package config loads daemon configuration with the precedence
// defaults < file < environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all tunables of the control daemon.
type Config struct {
	// DataDir is the root directory for the database and audit files.
	DataDir string `yaml:"dataDir"`
	// DBPath overrides the database file location. Empty means
	// DataDir/cremerd.db.
	DBPath string `yaml:"dbPath"`
	// ListenAddr is the bind address of the diagnostics HTTP endpoint.
	ListenAddr string `yaml:"listenAddr"`
	// LogLevel sets the global log level.
	LogLevel string `yaml:"logLevel"`
	// Timezone names the location used to stamp domain timestamps.
	Timezone string `yaml:"timezone"`

	GPIO    GPIOConfig    `yaml:"gpio"`
	Counter CounterConfig `yaml:"counter"`
	Pause   PauseConfig   `yaml:"pause"`
}

// GPIOConfig configures the WebSocket link to the signal hub.
type GPIOConfig struct {
	// URL is the WebSocket endpoint of the GPIO hub.
	URL string `yaml:"url"`
	// HeartbeatDeadAfter is how long without any message before the
	// link is presumed dead.
	HeartbeatDeadAfter time.Duration `yaml:"heartbeatDeadAfter"`
	// WatchdogInterval is how often the liveness check runs.
	WatchdogInterval time.Duration `yaml:"watchdogInterval"`
	// ReconnectMin and ReconnectMax bound the reconnect backoff.
	ReconnectMin time.Duration `yaml:"reconnectMin"`
	ReconnectMax time.Duration `yaml:"reconnectMax"`
}

// CounterConfig configures bottle pulse ingestion.
type CounterConfig struct {
	// Pin is the GPIO pin carrying bottle pulses.
	Pin int `yaml:"pin"`
}

// PauseConfig configures automatic pause detection.
type PauseConfig struct {
	// PonderalPin and EtiquetaPin carry the machine fault signals.
	PonderalPin int `yaml:"ponderalPin"`
	EtiquetaPin int `yaml:"etiquetaPin"`
	// OpenAfter is how long a fault must persist before a pause opens.
	OpenAfter time.Duration `yaml:"openAfter"`
	// CloseAfter is how long a fault must stay clear before the pause closes.
	CloseAfter time.Duration `yaml:"closeAfter"`
	// Cooldown blocks a new automatic pause after one closed.
	Cooldown time.Duration `yaml:"cooldown"`
	// ReconcileInterval is how often detector state is checked against
	// the store.
	ReconcileInterval time.Duration `yaml:"reconcileInterval"`
	// RearmInterval is how often a held fault is re-evaluated after the
	// order left the running state.
	RearmInterval time.Duration `yaml:"rearmInterval"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		DataDir:    "./data",
		ListenAddr: ":8088",
		LogLevel:   "info",
		Timezone:   "Europe/Madrid",
		GPIO: GPIOConfig{
			URL:                "ws://localhost:8765",
			HeartbeatDeadAfter: 60 * time.Second,
			WatchdogInterval:   15 * time.Second,
			ReconnectMin:       time.Second,
			ReconnectMax:       30 * time.Second,
		},
		Counter: CounterConfig{Pin: 23},
		Pause: PauseConfig{
			PonderalPin:       22,
			EtiquetaPin:       19,
			OpenAfter:         20 * time.Second,
			CloseAfter:        5 * time.Second,
			Cooldown:          30 * time.Second,
			ReconcileInterval: 5 * time.Second,
			RearmInterval:     3 * time.Second,
		},
	}
}

// Load builds the effective configuration. When path is non-empty the
// YAML file is merged over the defaults before the environment is applied.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path) // #nosec G304 -- operator-supplied path
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the daemon cannot run with.
func (c Config) Validate() error {
	if c.DataDir == "" && c.DBPath == "" {
		return fmt.Errorf("config: dataDir or dbPath required")
	}
	if c.GPIO.URL == "" {
		return fmt.Errorf("config: gpio.url required")
	}
	if c.Pause.OpenAfter <= 0 || c.Pause.CloseAfter <= 0 {
		return fmt.Errorf("config: pause debounce windows must be positive")
	}
	if c.Pause.Cooldown < 0 {
		return fmt.Errorf("config: pause cooldown must not be negative")
	}
	if c.Counter.Pin == c.Pause.PonderalPin || c.Counter.Pin == c.Pause.EtiquetaPin {
		return fmt.Errorf("config: counter pin collides with a fault pin")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("config: timezone %q: %w", c.Timezone, err)
	}
	return nil
}

// DatabasePath resolves the effective database file location.
func (c Config) DatabasePath() string {
	if c.DBPath != "" {
		return c.DBPath
	}
	return filepath.Join(c.DataDir, "cremerd.db")
}

// Location returns the configured time.Location. Validate must have
// accepted the config first.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}
