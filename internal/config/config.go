// Package config loads the settings shared by the web server and the terminal client: a yaml file in the
// user config directory, overridden by CHATBOTUI_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. CHATBOTUI_BACKEND_URL.
const EnvPrefix = "CHATBOTUI"

const appDir = "chatbot-ui"

// Config holds every setting of the widget.
type Config struct {
	Port     string `yaml:"port" split_words:"true"`
	Title    string `yaml:"title" split_words:"true"`
	LogLevel string `yaml:"logLevel" split_words:"true"`

	BackendURL string `yaml:"backendURL" split_words:"true"`
	// RealtimeURL is the ws:// or wss:// endpoint. When empty it is derived from BackendURL and RealtimePath.
	RealtimeURL  string `yaml:"realtimeURL" split_words:"true"`
	RealtimePath string `yaml:"realtimePath" split_words:"true"`

	StorePath string `yaml:"storePath" split_words:"true"`

	RequestTimeout      time.Duration `yaml:"requestTimeout" split_words:"true"`
	RetryMax            int           `yaml:"retryMax" split_words:"true"`
	WriteTimeout        time.Duration `yaml:"writeTimeout" split_words:"true"`
	ReconnectMaxElapsed time.Duration `yaml:"reconnectMaxElapsed" split_words:"true"`
}

// Default returns the settings used for anything the file and the environment leave out.
func Default() Config {
	return Config{
		Port:                "8080",
		Title:               "Chatbot",
		LogLevel:            "info",
		BackendURL:          "http://127.0.0.1:5000",
		RealtimePath:        "/ws",
		RequestTimeout:      10 * time.Second,
		RetryMax:            3,
		WriteTimeout:        10 * time.Second,
		ReconnectMaxElapsed: time.Minute,
	}
}

// Dir returns the directory holding the config file and the local store, creating it when missing.
func Dir() (string, error) {
	cfgDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("error getting user config dir: %w", err)
	}
	dir := filepath.Join(cfgDir, appDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("error creating config directory: %w", err)
	}
	return dir, nil
}

// Load reads the yaml file at path on top of Default, applies environment overrides and validates the
// result. An empty path means config.yaml in Dir. A missing file is not an error. An empty StorePath
// resolves to store.db in Dir.
func Load(path string) (Config, error) {
	cfg := Default()

	var dir string
	if path == "" {
		var err error
		if dir, err = Dir(); err != nil {
			return Config{}, err
		}
		path = filepath.Join(dir, "config.yaml")
	}

	if err := cfg.readFile(path); err != nil {
		return Config{}, err
	}

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("error reading configuration from environment: %w", err)
	}

	if cfg.StorePath == "" {
		if dir == "" {
			var err error
			if dir, err = Dir(); err != nil {
				return Config{}, err
			}
		}
		cfg.StorePath = filepath.Join(dir, "store.db")
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) readFile(path string) error {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("error opening config file: %w", err)
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("error decoding config file: %w", err)
	}
	return nil
}

// Validate reports the first setting that cannot work.
func (c Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("port is required")
	}
	if _, err := parseHTTPURL(c.BackendURL); err != nil {
		return fmt.Errorf("invalid backendURL: %w", err)
	}
	if _, err := c.RealtimeEndpoint(); err != nil {
		return fmt.Errorf("invalid realtime endpoint: %w", err)
	}
	if c.StorePath == "" {
		return fmt.Errorf("storePath is required")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("requestTimeout must be positive")
	}
	if c.RetryMax < 0 {
		return fmt.Errorf("retryMax must not be negative")
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("writeTimeout must be positive")
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// RealtimeEndpoint returns the WebSocket URL of the realtime channel.
func (c Config) RealtimeEndpoint() (string, error) {
	if c.RealtimeURL != "" {
		u, err := url.Parse(c.RealtimeURL)
		if err != nil {
			return "", err
		}
		if u.Scheme != "ws" && u.Scheme != "wss" {
			return "", fmt.Errorf("scheme %q is not ws or wss", u.Scheme)
		}
		return u.String(), nil
	}

	u, err := parseHTTPURL(c.BackendURL)
	if err != nil {
		return "", err
	}
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + strings.TrimPrefix(c.RealtimePath, "/")
	return u.String(), nil
}

// Level maps LogLevel to a slog level.
func (c Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("invalid logLevel %q: %w", c.LogLevel, err)
	}
	return level, nil
}

func parseHTTPURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("scheme %q is not http or https", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("host is required")
	}
	return u, nil
}
