package logging

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{"debug", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"WARNING", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"  nonsense ", zerolog.InfoLevel},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, ParseLevel(c.in), "ParseLevel(%q)", c.in)
	}

	assert.True(t, ValidLevel("debug"))
	assert.False(t, ValidLevel("verbose"))
}

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	l := New(Options{Level: "warn", Format: "json", Component: "test", Writer: &buf})

	l.Info().Msg("dropped")
	l.Warn().Str("k", "v").Msg("kept")

	out := buf.String()
	assert.NotContains(t, out, "dropped")
	assert.Contains(t, out, `"message":"kept"`)
	assert.Contains(t, out, `"component":"test"`)
	assert.Contains(t, out, `"k":"v"`)
}

func TestNew_Console(t *testing.T) {
	var buf bytes.Buffer
	l := New(Options{Level: "info", Format: "console", Writer: &buf})
	l.Info().Msg("hello")
	assert.Contains(t, buf.String(), "hello")
}

func TestContextRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	base := New(Options{Level: "info", Format: "json", Writer: &buf})
	fallback := zerolog.Nop()

	// No logger attached: fallback is returned.
	got := From(context.Background(), fallback)
	require.NotNil(t, got)
	got.Info().Msg("to nowhere")
	assert.Empty(t, buf.String())

	ctx := WithContext(context.Background(), Named(base, "api"))
	From(ctx, fallback).Info().Msg("attached")
	assert.Contains(t, buf.String(), `"component":"api"`)
	assert.Contains(t, buf.String(), "attached")
}
