package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"weave/internal/history"
	"weave/internal/pipeline"
)

func TestMemCheckpointerRoundTrip(t *testing.T) {
	cp := NewMemCheckpointer()
	ctx := context.Background()

	_, ok, err := cp.Load(ctx, "t1")
	require.NoError(t, err)
	require.False(t, ok)

	h := history.NewHistory()
	h.GetOrCreateChannel("c1")
	state := pipeline.State{Activity: "conversing", History: h}

	require.NoError(t, cp.Save(ctx, "t1", state))

	loaded, ok, err := cp.Load(ctx, "t1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "conversing", loaded.Activity)
}

func TestMarshalUnmarshalStateRoundTrip(t *testing.T) {
	h := history.NewHistory()
	h.GetOrCreateChannel("c1").Messages = history.MessageList{history.NewHumanMessage("u", "hi", time.Unix(0, 0).UTC())}
	state := pipeline.State{Activity: "conversing", History: h}

	raw, err := marshalState(state)
	require.NoError(t, err)

	out, err := unmarshalState(raw)
	require.NoError(t, err)
	require.Equal(t, "conversing", out.Activity)
	require.Len(t, out.History.Channels["c1"].Messages, 1)
}
