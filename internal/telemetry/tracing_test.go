package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStartSpanNoopWithoutProvider(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "depcache.FindNodes")
	require.NotNil(t, span)
	defer span.End()
	require.NotNil(t, ctx)
}

func TestRecordErrorDoesNotPanicWithoutProvider(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "leafcache.Clear")
	defer span.End()
	RecordError(ctx, errors.New("boom"))
}
