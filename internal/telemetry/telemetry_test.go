package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewWithEmptyDSNIsNoop(t *testing.T) {
	sink, err := New(context.Background(), Config{})
	require.NoError(t, err)
	require.Nil(t, sink)
}

func TestRecordOnNilSinkIsNoop(t *testing.T) {
	var sink *Sink
	require.NoError(t, sink.Record(context.Background(), StageEvent{Stage: "preprocess"}))
}

func TestCloseOnNilSinkIsNoop(t *testing.T) {
	var sink *Sink
	require.NoError(t, sink.Close())
}
