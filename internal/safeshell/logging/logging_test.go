package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]logrus.Level{
		"DEBUG":   logrus.DebugLevel,
		"debug":   logrus.DebugLevel,
		"WARNING": logrus.WarnLevel,
		"WARN":    logrus.WarnLevel,
		"ERROR":   logrus.ErrorLevel,
		"INFO":    logrus.InfoLevel,
		"":        logrus.InfoLevel,
		"bogus":   logrus.InfoLevel,
	}
	for name, want := range cases {
		if got := parseLevel(name); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestNewWritesToStderrOnly(t *testing.T) {
	logger, err := New("INFO", "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if logger.Out != os.Stderr {
		t.Errorf("expected the logger to write to stderr when no log file is given")
	}
	if logger.Level != logrus.InfoLevel {
		t.Errorf("Level = %v, want %v", logger.Level, logrus.InfoLevel)
	}
}

func TestNewMirrorsRecordsToLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.log")
	logger, err := New("DEBUG", path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	logger.Info("hello from the test")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(data), "hello from the test") {
		t.Errorf("log file = %q, want it to contain the logged message", data)
	}
}

func TestNewInvalidLogFilePathErrors(t *testing.T) {
	_, err := New("INFO", filepath.Join(t.TempDir(), "nonexistent-dir", "daemon.log"))
	if err == nil {
		t.Fatal("expected an error when the log file's directory does not exist")
	}
}
