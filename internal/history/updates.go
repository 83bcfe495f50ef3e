package history

import "time"

// ToolUpdate carries a confirmation-state or result transition for one
// ToolCall, addressed by id (spec §6 "Tool-call confirmation contract").
type ToolUpdate struct {
	ToolCallID     string  `json:"tool_call_id"`
	InternalStatus string  `json:"internal_status"`
	Content        *string `json:"content,omitempty"`
}

// ChannelDiff is the per-channel portion of an InternalUpdates document.
type ChannelDiff struct {
	Name        *string `json:"name,omitempty"`
	ChannelType *string `json:"channel_type,omitempty"`
	WakeupURL   *string `json:"wakeup_url,omitempty"`

	NoReactiveToolCallBefore *time.Time `json:"no_reactive_tool_call_before,omitempty"`
	NoTemporaryMessageBefore *time.Time `json:"no_temporary_message_before,omitempty"`

	NewMessages       MessageList     `json:"new_messages,omitempty"`
	MessageUpdates    map[int]Message `json:"message_updates,omitempty"`
	MessageDeletes    []int           `json:"message_deletes,omitempty"`
	MessageAppendLeft MessageList     `json:"message_append_left,omitempty"`
	NewSummaries      []Summary       `json:"new_summaries,omitempty"`

	DeleteBefore *time.Time `json:"delete_before,omitempty"`
}

// Merge folds other into d field-wise: lists are concatenated, maps are
// merged (other wins on key collisions), scalars are last-writer-wins with
// other taking priority — this is the fan-in rule for concurrently emitted
// ChannelDiffs on the same channel (spec §4.6 "Fan-in").
func (d *ChannelDiff) Merge(other *ChannelDiff) {
	if other == nil {
		return
	}
	if other.Name != nil {
		d.Name = other.Name
	}
	if other.ChannelType != nil {
		d.ChannelType = other.ChannelType
	}
	if other.WakeupURL != nil {
		d.WakeupURL = other.WakeupURL
	}
	if other.NoReactiveToolCallBefore != nil {
		d.NoReactiveToolCallBefore = other.NoReactiveToolCallBefore
	}
	if other.NoTemporaryMessageBefore != nil {
		d.NoTemporaryMessageBefore = other.NoTemporaryMessageBefore
	}
	if other.DeleteBefore != nil {
		d.DeleteBefore = other.DeleteBefore
	}
	d.NewMessages = append(d.NewMessages, other.NewMessages...)
	d.MessageAppendLeft = append(d.MessageAppendLeft, other.MessageAppendLeft...)
	d.MessageDeletes = append(d.MessageDeletes, other.MessageDeletes...)
	d.NewSummaries = append(d.NewSummaries, other.NewSummaries...)
	if len(other.MessageUpdates) > 0 {
		if d.MessageUpdates == nil {
			d.MessageUpdates = map[int]Message{}
		}
		for k, v := range other.MessageUpdates {
			d.MessageUpdates[k] = v // last-writer-wins within a diff (spec §4.1 tie-breaks)
		}
	}
}

// InternalUpdates is the diff object the reducer applies to a History.
type InternalUpdates struct {
	CurrentChannel *string                 `json:"current_channel,omitempty"`
	ToolUpdates    []ToolUpdate            `json:"tool_updates,omitempty"`
	ChannelUpdates map[string]*ChannelDiff `json:"channel_updates,omitempty"`
}

// NewInternalUpdates returns an empty update document.
func NewInternalUpdates() *InternalUpdates {
	return &InternalUpdates{ChannelUpdates: map[string]*ChannelDiff{}}
}

// IsEmpty reports whether applying u would be a no-op.
func (u *InternalUpdates) IsEmpty() bool {
	return u == nil || (u.CurrentChannel == nil && len(u.ToolUpdates) == 0 && len(u.ChannelUpdates) == 0)
}

// Merge folds other into u, merging ChannelDiffs field-wise per channel and
// concatenating ToolUpdates (spec §4.6 Fan-in).
func (u *InternalUpdates) Merge(other *InternalUpdates) {
	if other == nil {
		return
	}
	if other.CurrentChannel != nil {
		u.CurrentChannel = other.CurrentChannel
	}
	u.ToolUpdates = append(u.ToolUpdates, other.ToolUpdates...)
	if u.ChannelUpdates == nil {
		u.ChannelUpdates = map[string]*ChannelDiff{}
	}
	for id, diff := range other.ChannelUpdates {
		existing, ok := u.ChannelUpdates[id]
		if !ok {
			cp := *diff
			u.ChannelUpdates[id] = &cp
			continue
		}
		existing.Merge(diff)
	}
}

// ChannelUpdate returns (creating if necessary) the ChannelDiff for id.
func (u *InternalUpdates) ChannelUpdate(id string) *ChannelDiff {
	if u.ChannelUpdates == nil {
		u.ChannelUpdates = map[string]*ChannelDiff{}
	}
	d, ok := u.ChannelUpdates[id]
	if !ok {
		d = &ChannelDiff{}
		u.ChannelUpdates[id] = d
	}
	return d
}
