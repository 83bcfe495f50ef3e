package history

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func at(seconds int) time.Time {
	return time.Unix(int64(seconds), 0).UTC()
}

func TestReduceResetProducesEmptyHistory(t *testing.T) {
	h := NewHistory()
	h.GetOrCreateChannel("c1").Messages = MessageList{NewHumanMessage("u", "hi", at(1))}

	out, err := Reduce(h, "reset", at(2))
	require.NoError(t, err)
	require.True(t, out.IsEmpty())
}

func TestScenarioS1ConfirmExecuteUpdate(t *testing.T) {
	h := NewHistory()
	h.CurrentChannel = "c1"
	c := h.GetOrCreateChannel("c1")
	c.Messages = MessageList{
		NewHumanMessage("u", "do x", at(0)),
		NewAgentMessage("on it", at(1), "conversing", []ToolCall{{ID: "t1", Name: "x"}}),
	}
	c.RefreshLastActivity()

	confirmed := "confirmed"
	out, err := Reduce(h, &InternalUpdates{ToolUpdates: []ToolUpdate{{ToolCallID: "t1", InternalStatus: confirmed}}}, at(2))
	require.NoError(t, err)

	agent := out.Channels["c1"].Messages[1].(*AgentMessage)
	require.Equal(t, ToolConfirmed, agent.ToolStates["t1"].InternalStatus)

	content := "ok"
	out2, err := Reduce(out, &InternalUpdates{ToolUpdates: []ToolUpdate{{ToolCallID: "t1", InternalStatus: ToolCompleted, Content: &content}}}, at(3))
	require.NoError(t, err)

	agent2 := out2.Channels["c1"].Messages[1].(*AgentMessage)
	require.Equal(t, ToolCompleted, agent2.ToolStates["t1"].InternalStatus)
	require.Equal(t, ExternalSuccess, agent2.ToolStates["t1"].ExternalStatus)
	require.Equal(t, "ok", agent2.ToolStates["t1"].Content)
	require.Len(t, out2.Channels["c1"].Messages, 2, "agent message is last, no transient #toolupdated# message expected")
}

func TestScenarioS2OutOfOrderInsert(t *testing.T) {
	h := NewHistory()
	c := h.GetOrCreateChannel("c1")
	c.Messages = MessageList{NewHumanMessage("u", "a", at(10)), NewHumanMessage("u", "c", at(30))}
	c.RefreshLastActivity()

	u := NewInternalUpdates()
	u.ChannelUpdate("c1").NewMessages = MessageList{NewHumanMessage("u", "b", at(20))}

	out, err := Reduce(h, u, at(31))
	require.NoError(t, err)

	dates := []int{}
	for _, m := range out.Channels["c1"].Messages {
		dates = append(dates, int(m.GetDate().Unix()))
	}
	require.Equal(t, []int{10, 20, 30}, dates)
	require.Equal(t, at(30), out.Channels["c1"].LastActivity)
}

func TestScenarioS3LeftAppendClamp(t *testing.T) {
	h := NewHistory()
	c := h.GetOrCreateChannel("c1")
	c.Messages = MessageList{NewHumanMessage("u", "a", at(20)), NewHumanMessage("u", "b", at(30))}

	u := NewInternalUpdates()
	u.ChannelUpdate("c1").MessageAppendLeft = MessageList{NewHumanMessage("u", "z", at(25))}

	out, err := Reduce(h, u, at(31))
	require.NoError(t, err)

	require.Equal(t, at(20), out.Channels["c1"].Messages[0].GetDate())
	require.Equal(t, at(20), out.Channels["c1"].Messages[1].GetDate())
	require.Equal(t, at(30), out.Channels["c1"].Messages[2].GetDate())
}

func TestScenarioS4SummaryPrune(t *testing.T) {
	h := NewHistory()
	c := h.GetOrCreateChannel("c1")
	now := at(1000000)
	day := 24 * time.Hour
	c.AddSummary(Summary{MinDate: now.Add(-11 * day), MaxDate: now.Add(-10 * day), Text: "old"})
	c.AddSummary(Summary{MinDate: now.Add(-10 * day), MaxDate: now.Add(-3 * day), Text: "mid"})
	c.AddSummary(Summary{MinDate: now.Add(-3 * day), MaxDate: now.Add(-1 * day), Text: "recent"})

	deleteBefore := now.Add(-2 * day)
	u := NewInternalUpdates()
	u.ChannelUpdate("c1").DeleteBefore = &deleteBefore

	out, err := Reduce(h, u, now)
	require.NoError(t, err)

	survivors := 0
	for _, list := range out.Channels["c1"].Summaries {
		survivors += len(list)
	}
	require.Equal(t, 1, survivors)
	require.Equal(t, now.Add(-3*day), out.Channels["c1"].MaxSummaryDate)
}

func TestMessageUpdatesIndexOutOfRangeIsStructural(t *testing.T) {
	h := NewHistory()
	c := h.GetOrCreateChannel("c1")
	c.Messages = MessageList{NewHumanMessage("u", "a", at(0))}

	u := NewInternalUpdates()
	u.ChannelUpdate("c1").MessageUpdates = map[int]Message{5: NewHumanMessage("u", "z", at(0))}

	_, err := Reduce(h, u, at(1))
	require.Error(t, err)
	var oob *IndexOutOfRangeError
	require.ErrorAs(t, err, &oob)
}

func TestLocateToolCallsNotFoundSkippedSilently(t *testing.T) {
	h := NewHistory()
	h.GetOrCreateChannel("c1").Messages = MessageList{NewHumanMessage("u", "hi", at(0))}

	u := NewInternalUpdates()
	u.ToolUpdates = []ToolUpdate{{ToolCallID: "missing", InternalStatus: ToolConfirmed}}

	out, err := Reduce(h, u, at(1))
	require.NoError(t, err)
	require.Len(t, out.Channels["c1"].Messages, 1)
}

func TestFindReactiveToolCallsEmptyChannel(t *testing.T) {
	h := NewHistory()
	h.GetOrCreateChannel("c1")

	found, updates := FindReactiveToolCalls(h)
	require.Empty(t, found)
	require.Empty(t, updates.ChannelUpdates["c1"])
}

func TestApplyingDisjointUpdatesCommute(t *testing.T) {
	base := NewHistory()
	base.GetOrCreateChannel("c1").Messages = MessageList{NewHumanMessage("u", "a", at(0))}
	base.GetOrCreateChannel("c2").Messages = MessageList{NewHumanMessage("u", "b", at(0))}

	u1 := NewInternalUpdates()
	u1.ChannelUpdate("c1").NewMessages = MessageList{NewHumanMessage("u", "a2", at(1))}
	u2 := NewInternalUpdates()
	u2.ChannelUpdate("c2").NewMessages = MessageList{NewHumanMessage("u", "b2", at(1))}

	out1, err := Reduce(base, u1, at(2))
	require.NoError(t, err)
	out1, err = Reduce(out1, u2, at(2))
	require.NoError(t, err)

	out2, err := Reduce(base, u2, at(2))
	require.NoError(t, err)
	out2, err = Reduce(out2, u1, at(2))
	require.NoError(t, err)

	require.Len(t, out1.Channels["c1"].Messages, 2)
	require.Len(t, out1.Channels["c2"].Messages, 2)
	require.Len(t, out2.Channels["c1"].Messages, 2)
	require.Len(t, out2.Channels["c2"].Messages, 2)
}
