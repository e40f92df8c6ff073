package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  Level
	}{
		{"DEBUG", DebugLevel},
		{"debug", DebugLevel},
		{"INFO", InfoLevel},
		{"WARN", WarnLevel},
		{"WARNING", WarnLevel},
		{"error", ErrorLevel},
		{"FATAL", FatalLevel},
		{"fatal", FatalLevel},
		{"  info  ", InfoLevel},
		{"nonsense", InfoLevel},
		{"", InfoLevel},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.input); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestInit_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: WarnLevel, Output: &buf})
	defer Init(Config{Level: InfoLevel})

	Info().Msg("dropped")
	Warn().Msg("kept")

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Errorf("info message should be filtered at warn level: %s", out)
	}
	if !strings.Contains(out, "kept") {
		t.Errorf("warn message missing: %s", out)
	}
}

func TestComponent_TagsField(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: InfoLevel, Output: &buf})
	defer Init(Config{Level: InfoLevel})

	Component("taskrunner").Info().Msg("started")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v\n%s", err, buf.String())
	}
	if entry["component"] != "taskrunner" {
		t.Errorf("component = %v, want taskrunner", entry["component"])
	}
}

func TestSession_TagsBothFields(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: InfoLevel, Output: &buf})
	defer Init(Config{Level: InfoLevel})

	Session("sessionmgr", "sess-42").Warn().Msg("idle")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v\n%s", err, buf.String())
	}
	if entry["component"] != "sessionmgr" {
		t.Errorf("component = %v, want sessionmgr", entry["component"])
	}
	if entry["sessionID"] != "sess-42" {
		t.Errorf("sessionID = %v, want sess-42", entry["sessionID"])
	}
}

func TestInit_FileLogging(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	Init(Config{Level: InfoLevel, Output: &buf, LogToFile: true, LogDir: dir})
	defer func() {
		Close()
		Init(Config{Level: InfoLevel})
	}()

	Info().Msg("to both sinks")

	logPath := GetLogFilePath()
	if logPath == "" {
		t.Fatal("expected a log file path")
	}
	name := filepath.Base(logPath)
	if !strings.HasPrefix(name, "agent-runtime-") || !strings.HasSuffix(name, ".log") {
		t.Errorf("unexpected log file name: %s", name)
	}

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(content), "to both sinks") {
		t.Errorf("file sink missing the message: %s", content)
	}
	if !strings.Contains(buf.String(), "to both sinks") {
		t.Errorf("console sink missing the message: %s", buf.String())
	}
}

func TestClose_ClearsFilePath(t *testing.T) {
	dir := t.TempDir()
	Init(Config{Level: InfoLevel, Output: &bytes.Buffer{}, LogToFile: true, LogDir: dir})
	defer Init(Config{Level: InfoLevel})

	if GetLogFilePath() == "" {
		t.Fatal("expected an open log file")
	}
	Close()
	if GetLogFilePath() != "" {
		t.Error("expected no log file path after Close")
	}
}
