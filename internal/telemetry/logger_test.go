package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewDefaultsToInfoJSON(t *testing.T) {
	l := New(Config{Level: "bogus", Format: "json"})
	require.NotNil(t, l)
	// parseLevel falls back to Info for unrecognized levels; this
	// should not panic regardless of handler format.
	l.Info("hello", "k", "v")
}

func TestWithReturnsDerivedLogger(t *testing.T) {
	l := New(Config{Level: "debug", Format: "text"})
	derived := l.With("component", "runtime")
	require.NotSame(t, l, derived)
	derived.Warn("careful")
	derived.ErrorContext(context.Background(), "boom")
}

func TestDefaultLoggerSwap(t *testing.T) {
	orig := Default()
	defer SetDefault(orig)

	replacement := New(Config{Level: "error"})
	SetDefault(replacement)
	require.Same(t, replacement, Default())
}
