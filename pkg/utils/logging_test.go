package utils

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected LogLevel
		wantErr  bool
	}{
		{name: "debug level", input: "DEBUG", expected: DEBUG},
		{name: "info level", input: "INFO", expected: INFO},
		{name: "warn level", input: "WARN", expected: WARN},
		{name: "warning level", input: "WARNING", expected: WARN},
		{name: "error level", input: "ERROR", expected: ERROR},
		{name: "case insensitive", input: "debug", expected: DEBUG},
		{name: "invalid level", input: "INVALID", expected: INFO, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ParseLogLevel(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseLogLevel() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if result != tt.expected {
				t.Errorf("ParseLogLevel() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestLogLevelString(t *testing.T) {
	tests := []struct {
		level    LogLevel
		expected string
		want     slog.Level
	}{
		{DEBUG, "DEBUG", slog.LevelDebug},
		{INFO, "INFO", slog.LevelInfo},
		{WARN, "WARN", slog.LevelWarn},
		{ERROR, "ERROR", slog.LevelError},
		{LogLevel(999), "UNKNOWN", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if result := tt.level.String(); result != tt.expected {
				t.Errorf("LogLevel.String() = %v, want %v", result, tt.expected)
			}
			if result := tt.level.Level(); result != tt.want {
				t.Errorf("LogLevel.Level() = %v, want %v", result, tt.want)
			}
		})
	}
}

func TestNewLoggerText(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger("WARN", "text", &buf)
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message", "key", "abc")
	logger.Error("error message")

	output := buf.String()
	lines := strings.Split(strings.TrimSpace(output), "\n")
	if len(lines) != 2 {
		t.Errorf("Expected 2 log lines, got %d: %q", len(lines), output)
	}
	if !strings.Contains(output, "warn message") || !strings.Contains(output, "key=abc") {
		t.Errorf("Expected warn record with attribute, got %q", output)
	}
	if strings.Contains(output, "info message") {
		t.Error("INFO message should be filtered out")
	}
}

func TestNewLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger("debug", "json", &buf)
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}

	logger.Debug("fetched", "bytes", 42)

	var record map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("record is not json: %v (%q)", err, buf.String())
	}
	if record["msg"] != "fetched" {
		t.Errorf("msg = %v, want fetched", record["msg"])
	}
	if record["bytes"] != float64(42) {
		t.Errorf("bytes = %v, want 42", record["bytes"])
	}
}

func TestNewLoggerInvalid(t *testing.T) {
	if _, err := NewLogger("LOUD", "text", nil); err == nil {
		t.Error("expected error for invalid level")
	}
	if _, err := NewLogger("INFO", "xml", nil); err == nil {
		t.Error("expected error for invalid format")
	}
}

func TestDiscardLogger(t *testing.T) {
	logger := DiscardLogger()
	if logger.Enabled(context.Background(), slog.LevelError) {
		t.Error("discard logger should not be enabled")
	}
	logger.With("component", "x").Error("dropped")
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		name     string
		bytes    int64
		expected string
	}{
		{name: "zero bytes", bytes: 0, expected: "0 B"},
		{name: "bytes", bytes: 512, expected: "512 B"},
		{name: "kilobytes", bytes: 1024, expected: "1.0 KB"},
		{name: "megabytes", bytes: 50 * 1024 * 1024, expected: "50.0 MB"},
		{name: "gigabytes", bytes: 1024 * 1024 * 1024, expected: "1.0 GB"},
		{name: "fractional", bytes: 1536, expected: "1.5 KB"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if result := FormatBytes(tt.bytes); result != tt.expected {
				t.Errorf("FormatBytes() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestParseBytes(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected int64
		wantErr  bool
	}{
		{name: "bytes", input: "512", expected: 512},
		{name: "bytes with B suffix", input: "512B", expected: 512},
		{name: "kilobytes", input: "8K", expected: 8 * 1024},
		{name: "kilobytes with B suffix", input: "2KB", expected: 2048},
		{name: "megabytes", input: "50MB", expected: 50 * 1024 * 1024},
		{name: "gigabytes", input: "1G", expected: 1024 * 1024 * 1024},
		{name: "terabytes", input: "1T", expected: 1024 * 1024 * 1024 * 1024},
		{name: "fractional", input: "1.5M", expected: int64(1.5 * 1024 * 1024)},
		{name: "case insensitive", input: "64mb", expected: 64 * 1024 * 1024},
		{name: "with spaces", input: " 2 MB ", expected: 2 * 1024 * 1024},
		{name: "empty string", input: "", wantErr: true},
		{name: "invalid format", input: "invalid", wantErr: true},
		{name: "negative", input: "-1MB", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ParseBytes(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseBytes() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if result != tt.expected {
				t.Errorf("ParseBytes() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestSetupLoggingFile(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	path := filepath.Join(t.TempDir(), "pictureloader.log")
	logger, closer, err := SetupLogging("INFO", "json", path)
	if err != nil {
		t.Fatalf("SetupLogging() error = %v", err)
	}
	logger.Info("picture loaded", "locator", "http://pics/a.png")
	if err := closer.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.Contains(string(data), `"locator":"http://pics/a.png"`) {
		t.Errorf("log file missing record: %s", data)
	}
}

func TestSetupLoggingStderr(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	_, closer, err := SetupLogging("WARN", "text", "")
	if err != nil {
		t.Fatalf("SetupLogging() error = %v", err)
	}
	if err := closer.Close(); err != nil {
		t.Errorf("stderr closer returned %v", err)
	}
}

func TestSetupLoggingInvalidLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pictureloader.log")
	if _, _, err := SetupLogging("LOUD", "text", path); err == nil {
		t.Error("expected an error for an invalid level")
	}
}
