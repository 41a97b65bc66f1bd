package errlog

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerConcatenatesWarnings(t *testing.T) {
	l := NewLogger()
	l.Warn(1, "first")
	l.Warn(1, "second %d", 2)
	l.Warn(2, "other")

	got := l.ReportWarnings()
	assert.Equal(t, "first; second 2", got[1])
	assert.Equal(t, "other", got[2])

	l.Clear()
	assert.Empty(t, l.ReportWarnings())
}

func TestErrorTransportDrainIsOneShot(t *testing.T) {
	tr := NewErrorTransport()
	tr.Post(1, errors.New("boom"))
	tr.Post(2, errors.New("bang"))

	got := tr.Drain()
	require.Len(t, got, 2)

	var te TaskError
	require.ErrorAs(t, got[0], &te)
	assert.Equal(t, "boom", te.Unwrap().Error())

	assert.Empty(t, tr.Drain())
}
