package logger

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestSetLevelString(t *testing.T) {
	for _, tc := range []struct {
		input   string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"", slog.LevelInfo, false},
		{"INFO", slog.LevelInfo, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"loud", slog.LevelInfo, true},
	} {
		SetLevel(slog.LevelInfo)
		err := SetLevelString(tc.input)
		if (err != nil) != tc.wantErr {
			t.Fatalf("SetLevelString(%q) error = %v, wantErr %v", tc.input, err, tc.wantErr)
		}
		if got := levelVar.Level(); got != tc.want {
			t.Errorf("SetLevelString(%q) level = %v, want %v", tc.input, got, tc.want)
		}
	}
	SetLevel(slog.LevelInfo)
}

func TestLoggerWritesFields(t *testing.T) {
	SetLevel(slog.LevelInfo)
	var buf bytes.Buffer
	l := New(&buf, "json").Named("repo").With(String("source", "openmeteo"))

	l.Info(context.Background(), "saved points", Int("count", 3), Error(errors.New("boom")))
	l.Debug(context.Background(), "hidden")

	out := buf.String()
	for _, want := range []string{`"msg":"saved points"`, `"component":"repo"`, `"source":"openmeteo"`, `"count":3`, `"caller":"`, "logger_test.go"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}
	if strings.Contains(out, "hidden") {
		t.Errorf("debug line written at info level: %q", out)
	}
}

func TestGetWithoutInit(t *testing.T) {
	if Get() == nil {
		t.Fatal("Get returned nil")
	}
	Nop().Error(context.Background(), "discarded")
}
