package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pion/logging"

	"github.com/backkem/bluenet/pkg/keystore"
	"github.com/backkem/bluenet/pkg/packet"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := `
link:
  url: ws://bridge.local:8765/
  username: admin
keys:
  path: /tmp/keys.yaml
nats:
  url: nats://127.0.0.1:4222
  prefix: home
timeouts:
  connect: 4s
  request: 1500ms
log:
  level: debug
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Link.URL != "ws://bridge.local:8765/" || cfg.Link.Username != "admin" {
		t.Errorf("Link = %+v", cfg.Link)
	}
	if cfg.Keys.Path != "/tmp/keys.yaml" {
		t.Errorf("Keys.Path = %q, want /tmp/keys.yaml", cfg.Keys.Path)
	}
	if cfg.NATS.Prefix != "home" {
		t.Errorf("NATS.Prefix = %q, want home", cfg.NATS.Prefix)
	}
	if cfg.Timeouts.Connect != 4*time.Second || cfg.Timeouts.Request != 1500*time.Millisecond {
		t.Errorf("Timeouts = %+v", cfg.Timeouts)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug", cfg.Log.Level)
	}
}

func TestLoadConfig_Missing(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Keys.Path == "" {
		t.Error("Keys.Path is empty, want a default")
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want warn", cfg.Log.Level)
	}
}

func TestLoadConfig_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("link: [unclosed"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Error("LoadConfig() error = nil, want parse error")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    logging.LogLevel
		wantErr bool
	}{
		{"", logging.LogLevelWarn, false},
		{"WARN", logging.LogLevelWarn, false},
		{"debug", logging.LogLevelDebug, false},
		{"trace", logging.LogLevelTrace, false},
		{"off", logging.LogLevelDisabled, false},
		{"loud", 0, true},
	}
	for _, tt := range tests {
		got, err := parseLogLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseLogLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseSwitchValue(t *testing.T) {
	tests := []struct {
		in      string
		want    uint8
		wantErr bool
	}{
		{"on", 100, false},
		{"Off", 0, false},
		{"toggle", 255, false},
		{"40", 40, false},
		{"101", 0, true},
		{"-1", 0, true},
		{"dim", 0, true},
	}
	for _, tt := range tests {
		got, err := parseSwitchValue(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseSwitchValue(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("parseSwitchValue(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestParseDialect(t *testing.T) {
	tests := []struct {
		in   string
		want packet.Dialect
	}{
		{"legacy", packet.DialectLegacy},
		{"V3", packet.DialectV3},
		{"v5", packet.DialectV5},
	}
	for _, tt := range tests {
		got, err := parseDialect(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("parseDialect(%q) = %v, %v, want %v", tt.in, got, err, tt.want)
		}
	}
	if _, err := parseDialect("v4"); err == nil {
		t.Error("parseDialect(v4) error = nil, want error")
	}
}

func TestGenerateSphere(t *testing.T) {
	s, err := generateSphere("sim")
	if err != nil {
		t.Fatalf("generateSphere() error = %v", err)
	}
	if err := s.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
	if got := keyLevels(s); got != "admin,member,guest,service-data" {
		t.Errorf("keyLevels() = %q", got)
	}

	path := filepath.Join(t.TempDir(), "keys.yaml")
	if err := keystore.NewFileStore(path, nil).SaveSphere(s); err != nil {
		t.Fatalf("SaveSphere() error = %v", err)
	}
	got, err := keystore.Lookup(keystore.NewFileStore(path, nil), "sim")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if got.SphereUID != s.SphereUID {
		t.Errorf("SphereUID = %d, want %d", got.SphereUID, s.SphereUID)
	}
}

func TestKeyLevels_Empty(t *testing.T) {
	if got := keyLevels(&keystore.Sphere{ReferenceID: "x"}); got != "(no keys)" {
		t.Errorf("keyLevels() = %q, want (no keys)", got)
	}
}
