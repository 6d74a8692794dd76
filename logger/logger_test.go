package logger

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestWithComponent(t *testing.T) {
	log := Logger()
	entry := log.WithComponent("test")
	if v, ok := entry.Entry.Data["component"]; !ok || v != "test" {
		t.Fatalf("component field missing: %v", entry.Entry.Data)
	}
}

func TestConfigureInvalidLevel(t *testing.T) {
	// Ensure environment variables do not override the provided level
	t.Setenv("LOG_LEVEL", "")

	log := Logger()
	if err := log.Configure("invalid", "json", "stdout", 0); err == nil {
		t.Fatalf("expected error for invalid level")
	}
}

func TestConfigureInvalidFormat(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")

	log := Logger()
	if err := log.Configure("info", "xml", "stdout", 0); err == nil {
		t.Fatalf("expected error for invalid format")
	}
}

func TestConfigureFileOutput(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")

	log := Logger()
	path := filepath.Join(t.TempDir(), "relay.log")
	if err := log.Configure("debug", "text", path, 0); err != nil {
		t.Fatalf("configure file output: %v", err)
	}
	if !log.IsLevelEnabled(logrus.DebugLevel) {
		t.Fatalf("expected debug level enabled")
	}
}

func TestJSONOutputUsesRenamedKeys(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")

	log := Logger()
	var buf bytes.Buffer
	log.SetOutput(&buf)
	log.WithComponent("relay").WithFields(Fields{"exchange": "okx"}).Info("connected")

	var record map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if record["message"] != "connected" {
		t.Fatalf("expected message key, got %v", record)
	}
	if record["component"] != "relay" || record["exchange"] != "okx" {
		t.Fatalf("missing fields: %v", record)
	}
	if _, ok := record["timestamp"]; !ok {
		t.Fatalf("missing timestamp key: %v", record)
	}
}
