package formatter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"weave/internal/history"
)

func TestAssembleMaxSizeZeroReturnsAtMostMinMessage(t *testing.T) {
	c := history.NewChannel("c1")
	base := time.Unix(0, 0).UTC()
	for i := 0; i < 10; i++ {
		c.Messages = append(c.Messages, history.NewHumanMessage("u", "hello there", base.Add(time.Duration(i)*time.Minute)))
	}
	opts := DefaultAssembleOptions()
	opts.MaxSize = 0
	opts.MinMessage = 2

	items := Assemble(c, opts)
	require.LessOrEqual(t, len(items), 2)
}

func TestGroupSingleElementReturnsOneGroup(t *testing.T) {
	c := history.NewChannel("c1")
	now := time.Unix(10000, 0).UTC()
	c.Messages = append(c.Messages, history.NewHumanMessage("u", "hi", now.Add(-time.Minute)))
	items := Assemble(c, DefaultAssembleOptions())

	groups := Group(items, now, DefaultGapSchedule(), nil)
	require.Len(t, groups, 1)
}

func TestAssembleWithSummaryBacktrack(t *testing.T) {
	c := history.NewChannel("c1")
	base := time.Unix(0, 0).UTC()
	for i := 0; i < 40; i++ {
		c.Messages = append(c.Messages, history.NewHumanMessage("u", "a medium length message here", base.Add(time.Duration(i)*time.Minute)))
	}
	c.AddSummary(history.Summary{
		MinDate: c.Messages[0].GetDate(),
		MaxDate: c.Messages[19].GetDate(),
		Text:    "short summary of the first twenty messages",
	})

	opts := DefaultAssembleOptions()
	opts.MaxSize = 1000
	items := Assemble(c, opts)

	total := 0
	for _, it := range items {
		total += it.Size(true)
	}
	require.LessOrEqual(t, total, 1000+200, "backtracking should keep the result close to the budget")
}
