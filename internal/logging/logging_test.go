package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	log "github.com/sirupsen/logrus"

	"github.com/baroque-dev/baroque/internal/config"
)

func TestSetupWritesRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "baroque.log")
	closer, err := Setup(config.LoggingConfig{Level: "debug", File: path, MaxSizeMB: 1})
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	defer func() {
		closer.Close()
		log.SetOutput(os.Stderr)
		log.SetLevel(log.InfoLevel)
	}()

	log.WithField("component", "test").Debug("hello rotated file")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	if !strings.Contains(string(data), "hello rotated file") {
		t.Errorf("Expected log line in file, got %q", string(data))
	}
	if log.GetLevel() != log.DebugLevel {
		t.Errorf("Expected debug level, got %v", log.GetLevel())
	}
}

func TestSetLevelRejectsUnknown(t *testing.T) {
	if err := SetLevel("chatty"); err == nil {
		t.Fatal("Expected error for unknown level")
	}
	if err := SetLevel("warn"); err != nil {
		t.Fatalf("SetLevel(warn) failed: %v", err)
	}
	if log.GetLevel() != log.WarnLevel {
		t.Errorf("Expected warn level, got %v", log.GetLevel())
	}
	log.SetLevel(log.InfoLevel)
}
