package history

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// IndexOutOfRangeError is a Structural error (spec §7): applying it must not
// mutate the History the reducer was given.
type IndexOutOfRangeError struct {
	ChannelID string
	Index     int
	Len       int
}

func (e *IndexOutOfRangeError) Error() string {
	return fmt.Sprintf("history: message_updates index %d out of range (len=%d) in channel %s", e.Index, e.Len, e.ChannelID)
}

// Reduce applies R to h and returns the resulting History. R may be:
//   - the literal string "reset"
//   - a *History (replaces h only when h is empty; otherwise ignored)
//   - a *InternalUpdates
//   - raw JSON bytes encoding either of the above ("raw document")
//
// Reduce never mutates h in place; on error the returned History is nil and
// h must be treated as still authoritative (spec §4.1, §7).
func Reduce(h *History, r any, now time.Time) (*History, error) {
	switch v := r.(type) {
	case string:
		if v == "reset" {
			return NewHistory(), nil
		}
		return nil, fmt.Errorf("history: unknown reducer command %q", v)
	case *History:
		if h == nil || h.IsEmpty() {
			return v, nil
		}
		return h, nil
	case json.RawMessage:
		return reduceRaw(h, v, now)
	case []byte:
		return reduceRaw(h, v, now)
	case *InternalUpdates:
		return applyUpdates(h, v, now)
	case InternalUpdates:
		return applyUpdates(h, &v, now)
	default:
		return nil, fmt.Errorf("history: unsupported reducer input type %T", r)
	}
}

// reduceRaw parses a raw document into either a full History or an
// InternalUpdates and recursively applies it (spec §4.1 "Raw document").
func reduceRaw(h *History, raw json.RawMessage, now time.Time) (*History, error) {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return Reduce(h, asString, now)
	}
	var probe struct {
		Channels map[string]json.RawMessage `json:"channels"`
		Updates  map[string]json.RawMessage `json:"channel_updates"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("history: malformed raw document: %w", err)
	}
	if probe.Updates != nil {
		var u InternalUpdates
		if err := json.Unmarshal(raw, &u); err != nil {
			return nil, fmt.Errorf("history: malformed InternalUpdates: %w", err)
		}
		return Reduce(h, &u, now)
	}
	var full History
	if err := json.Unmarshal(raw, &full); err != nil {
		return nil, fmt.Errorf("history: malformed History: %w", err)
	}
	return Reduce(h, &full, now)
}

// applyUpdates applies u to h in the fixed order from spec §4.1 step 2-7,
// then current_channel and tool_updates.
func applyUpdates(h *History, u *InternalUpdates, now time.Time) (*History, error) {
	out := h
	if out == nil {
		out = NewHistory()
	}
	out = out.Clone()

	// Apply in a stable channel order for determinism; the algebra itself
	// does not depend on inter-channel ordering since diffs are disjoint
	// per channel.
	ids := make([]string, 0, len(u.ChannelUpdates))
	for id := range u.ChannelUpdates {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		diff := u.ChannelUpdates[id]
		if err := applyChannelDiff(out, id, diff, now); err != nil {
			return nil, err
		}
	}

	if u.CurrentChannel != nil {
		out.CurrentChannel = *u.CurrentChannel
	}

	for _, tu := range u.ToolUpdates {
		applyToolUpdate(out, tu, now)
	}

	return out, nil
}

func applyChannelDiff(h *History, id string, diff *ChannelDiff, now time.Time) error {
	// 1. Create channel if missing; apply metadata.
	c := h.GetOrCreateChannel(id)
	if diff.Name != nil {
		c.Name = *diff.Name
	}
	if diff.ChannelType != nil {
		c.ChannelType = *diff.ChannelType
	}
	if diff.WakeupURL != nil {
		c.WakeupURL = *diff.WakeupURL
	}
	if diff.NoReactiveToolCallBefore != nil {
		c.NoReactiveToolCallBefore = diff.NoReactiveToolCallBefore
	}
	if diff.NoTemporaryMessageBefore != nil {
		c.NoTemporaryMessageBefore = diff.NoTemporaryMessageBefore
	}

	// 2. Positional updates: preserve the stored date so order cannot break.
	for i, m := range diff.MessageUpdates {
		if i < 0 || i >= len(c.Messages) {
			return &IndexOutOfRangeError{ChannelID: id, Index: i, Len: len(c.Messages)}
		}
		preservedDate := c.Messages[i].GetDate()
		updated := m.Clone()
		updated.SetDate(preservedDate)
		c.Messages[i] = updated
	}

	// 3. Deletes: indices sorted descending, then delete_before.
	if len(diff.MessageDeletes) > 0 {
		idxs := append([]int(nil), diff.MessageDeletes...)
		sort.Sort(sort.Reverse(sort.IntSlice(idxs)))
		for _, i := range idxs {
			if i < 0 || i >= len(c.Messages) {
				continue
			}
			c.Messages = append(c.Messages[:i], c.Messages[i+1:]...)
		}
	}
	if diff.DeleteBefore != nil {
		kept := c.Messages[:0:0]
		for _, m := range c.Messages {
			if m.GetDate().Before(*diff.DeleteBefore) {
				continue
			}
			kept = append(kept, m)
		}
		c.Messages = kept
		c.PruneSummariesBefore(*diff.DeleteBefore, now)
	}

	// 4. Left-append: clamp each new head message's date.
	if len(diff.MessageAppendLeft) > 0 {
		for i := len(diff.MessageAppendLeft) - 1; i >= 0; i-- {
			m := diff.MessageAppendLeft[i].Clone()
			if len(c.Messages) > 0 && m.GetDate().After(c.Messages[0].GetDate()) {
				m.SetDate(c.Messages[0].GetDate())
			}
			c.Messages = append(MessageList{m}, c.Messages...)
		}
	}

	// 5. Append: new messages; resort if monotonicity breaks.
	if len(diff.NewMessages) > 0 {
		wasSorted := true
		lastDate := time.Time{}
		if len(c.Messages) > 0 {
			lastDate = c.Messages[len(c.Messages)-1].GetDate()
		}
		for _, m := range diff.NewMessages {
			if m.GetDate().Before(lastDate) {
				wasSorted = false
			}
			lastDate = m.GetDate()
			c.Messages = append(c.Messages, m.Clone())
		}
		if !wasSorted {
			c.sortMessages()
		}

		// 6. last_activity refreshed to the max date among new messages.
		maxNew := diff.NewMessages[0].GetDate()
		for _, m := range diff.NewMessages[1:] {
			if m.GetDate().After(maxNew) {
				maxNew = m.GetDate()
			}
		}
		if maxNew.After(c.LastActivity) {
			c.LastActivity = maxNew
		}
	}
	// Keep last_activity consistent even when only deletes/updates happened.
	if len(diff.NewMessages) == 0 {
		c.RefreshLastActivity()
	}

	// 7. Summaries.
	for _, s := range diff.NewSummaries {
		c.AddSummary(s)
	}

	return nil
}

// applyToolUpdate locates the addressed ToolCall, mutates its ToolState, and
// appends a transient #toolupdated# system message when the hosting Agent
// message is not the channel's last message (spec §4.1 step after channels).
func applyToolUpdate(h *History, tu ToolUpdate, now time.Time) {
	locs := LocateToolCalls(h, []string{tu.ToolCallID})
	loc, ok := locs[tu.ToolCallID]
	if !ok {
		return // Location miss: non-fatal, silently skipped (spec §7).
	}
	c := h.Channels[loc.ChannelID]
	agentMsg, ok := c.Messages[loc.Index].(*AgentMessage)
	if !ok {
		return
	}
	state, ok := agentMsg.ToolStates[tu.ToolCallID]
	if !ok {
		state = NewToolState()
		agentMsg.ToolStates[tu.ToolCallID] = state
	}
	state.InternalStatus = tu.InternalStatus
	state.ExternalStatus = ExternalStatusFor(tu.InternalStatus)
	if tu.Content != nil {
		state.Content = *tu.Content
	}

	if loc.Index != len(c.Messages)-1 {
		msgDate := now
		if last := c.Messages[len(c.Messages)-1].GetDate(); last.After(msgDate) {
			msgDate = last
		}
		c.Messages = append(c.Messages, NewToolUpdatedMessage(tu.ToolCallID, msgDate))
		if msgDate.After(c.LastActivity) {
			c.LastActivity = msgDate
		}
	}
}
