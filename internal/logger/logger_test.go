package logger

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestHandler(t *testing.T) {
	color.NoColor = true

	var buf bytes.Buffer
	opts := HandlerOptions{SlogOpts: &slog.HandlerOptions{Level: slog.LevelInfo}}
	log := slog.New(opts.NewHandler(&buf)).With(slog.String("batch", "b-1"))

	log.Debug("hidden")
	assert.Empty(t, buf.String())

	log.Warn("upload failed", slog.Any("error", errors.New("boom")))
	out := buf.String()
	assert.Contains(t, out, "WARN:")
	assert.Contains(t, out, "upload failed")
	assert.Contains(t, out, `"batch":"b-1"`)
	assert.Contains(t, out, `"error":"boom"`)
}
