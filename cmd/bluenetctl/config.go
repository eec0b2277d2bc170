package main

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/pion/logging"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

// Config is the YAML config file.
type Config struct {
	Link     LinkConfig     `yaml:"link"`
	Keys     KeysConfig     `yaml:"keys"`
	NATS     NATSConfig     `yaml:"nats"`
	Timeouts TimeoutsConfig `yaml:"timeouts"`
	Log      LogConfig      `yaml:"log"`
}

// LinkConfig selects the radio.
type LinkConfig struct {
	BLE                bool   `yaml:"ble"`
	URL                string `yaml:"url"`
	Username           string `yaml:"username"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
	Port               string `yaml:"port"`
	BaudRate           int    `yaml:"baud_rate"`
}

// KeysConfig locates the sphere key file.
type KeysConfig struct {
	Path string `yaml:"path"`
}

// NATSConfig enables event forwarding in scan.
type NATSConfig struct {
	URL    string `yaml:"url"`
	Prefix string `yaml:"prefix"`
	Name   string `yaml:"name"`
}

// TimeoutsConfig overrides client timeouts. Zero keeps the default.
type TimeoutsConfig struct {
	Connect time.Duration `yaml:"connect"`
	Request time.Duration `yaml:"request"`
	Idle    time.Duration `yaml:"idle"`
}

// LogConfig sets the default log level.
type LogConfig struct {
	Level string `yaml:"level"`
}

func defaultConfigDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "."
	}
	return filepath.Join(dir, "bluenet")
}

// LoadConfig reads path. A missing file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{
		Keys: KeysConfig{Path: filepath.Join(defaultConfigDir(), "keys.yaml")},
		Log:  LogConfig{Level: "warn"},
	}
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// loadConfig reads the config file and applies flag overrides.
func loadConfig() (*Config, error) {
	path := configPath
	if path == "" {
		path = filepath.Join(defaultConfigDir(), "config.yaml")
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	cfg.applyFlags()
	return cfg, nil
}

func (c *Config) applyFlags() {
	if useBLE {
		c.Link = LinkConfig{BLE: true}
	}
	if wsURL != "" {
		c.Link = LinkConfig{URL: wsURL, Username: wsUsername, InsecureSkipVerify: wsNoSSLVerify}
	}
	if portName != "" {
		c.Link = LinkConfig{Port: portName, BaudRate: baudRate}
	}
	if keysPath != "" {
		c.Keys.Path = keysPath
	}
	if logLevel != "" {
		c.Log.Level = logLevel
	}
	if requestTimeout > 0 {
		c.Timeouts.Request = requestTimeout
	}
}

// LoggerFactory returns a pion logger factory at the configured level.
func (c *Config) LoggerFactory() (logging.LoggerFactory, error) {
	level, err := parseLogLevel(c.Log.Level)
	if err != nil {
		return nil, err
	}
	lf := logging.NewDefaultLoggerFactory()
	lf.DefaultLogLevel = level
	return lf, nil
}

func parseLogLevel(s string) (logging.LogLevel, error) {
	switch strings.ToLower(s) {
	case "", "warn", "warning":
		return logging.LogLevelWarn, nil
	case "error":
		return logging.LogLevelError, nil
	case "info":
		return logging.LogLevelInfo, nil
	case "debug":
		return logging.LogLevelDebug, nil
	case "trace":
		return logging.LogLevelTrace, nil
	case "off", "disabled":
		return logging.LogLevelDisabled, nil
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}

// readSecret returns the value of env, or prompts for it without echo.
func readSecret(env, prompt string) (string, error) {
	if v := os.Getenv(env); v != "" {
		return v, nil
	}

	fmt.Fprint(os.Stderr, prompt)
	secret, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Not a terminal.
		reader := bufio.NewReader(os.Stdin)
		line, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("read %s: %w", strings.TrimSuffix(strings.ToLower(prompt), ": "), err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(line), nil
	}
	fmt.Fprintln(os.Stderr)
	return string(secret), nil
}
