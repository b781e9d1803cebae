package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// writeConfig writes a config file into a temp dir and points
// INGEST_CONFIG at it for the duration of the test.
func writeConfig(t *testing.T, content string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	t.Setenv("INGEST_CONFIG", path)
}

func TestGetConfigPath_Default(t *testing.T) {
	t.Setenv("INGEST_CONFIG", "")
	if got := getConfigPath(); got != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", got, defaultConfigPath)
	}
}

func TestGetConfigPath_EnvOverride(t *testing.T) {
	t.Setenv("INGEST_CONFIG", "/etc/ingest/config.yaml")
	if got := getConfigPath(); got != "/etc/ingest/config.yaml" {
		t.Errorf("getConfigPath() = %q, want env override", got)
	}
}

// TestRun_InvalidConfigValues verifies run fails fast on a config that
// parses but does not validate.
func TestRun_InvalidConfigValues(t *testing.T) {
	writeConfig(t, `
mqtt:
  broker:
    host: "127.0.0.1"
    port: 1883
  qos: 7
`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil {
		t.Fatal("run() should fail with invalid qos")
	}
	if !strings.Contains(err.Error(), "validating config") {
		t.Errorf("run() error = %v, want a validation error", err)
	}
}

// TestRun_BrokerUnavailable verifies run surfaces a connect error once the
// retry budget is spent.
func TestRun_BrokerUnavailable(t *testing.T) {
	// Port 1 refuses connections immediately; one attempt, no delay.
	writeConfig(t, `
mqtt:
  broker:
    host: "127.0.0.1"
    port: 1
    client_id: "ingest-test"
  qos: 1
  topics:
    - "devices/+/telemetry"

ingest:
  retry:
    max_attempts: 1
    strategy: fixed
    initial_delay: 0
    max_delay: 0

influxdb:
  enabled: false

analytics:
  enabled: true

logging:
  level: error
  format: json
`)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil {
		t.Fatal("run() should fail when the broker is unreachable")
	}
	if !strings.Contains(err.Error(), "connecting to MQTT") {
		t.Errorf("run() error = %v, want a connect error", err)
	}
}
