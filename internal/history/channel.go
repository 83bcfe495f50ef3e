package history

import (
	"encoding/json"
	"sort"
	"time"
)

// Summary is a textual abstraction covering [MinDate, MaxDate], used in place
// of the messages it covers when the formatter's character budget is tight.
type Summary struct {
	MinDate time.Time `json:"min_date"`
	MaxDate time.Time `json:"max_date"`
	Text    string    `json:"text"`
	// FactID is the knowledge store point id this summary was remembered
	// under, if any (empty when knowledge retrieval is disabled).
	FactID string `json:"fact_id,omitempty"`
}

// MessageList is []Message with a kind-tagged JSON representation: each
// element must be a {"kind":"human"|"agent"|"system","data":{...}} envelope
// (see MarshalMessage/UnmarshalMessage), never a bare message object. This
// is the only shape the Run input's channel_updates.<id>.new_messages
// accepts; an envelope-less entry fails decoding with UnknownMessageKindError.
type MessageList []Message

func (l MessageList) MarshalJSON() ([]byte, error) {
	raw := make([]json.RawMessage, len(l))
	for i, m := range l {
		b, err := MarshalMessage(m)
		if err != nil {
			return nil, err
		}
		raw[i] = b
	}
	return json.Marshal(raw)
}

func (l *MessageList) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(MessageList, len(raw))
	for i, r := range raw {
		m, err := UnmarshalMessage(r)
		if err != nil {
			return err
		}
		out[i] = m
	}
	*l = out
	return nil
}

// Channel is a logical conversation surface with its own message history.
type Channel struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ChannelType string `json:"channel_type"`
	WakeupURL   string `json:"wakeup_url,omitempty"`

	Messages  MessageList         `json:"messages"`
	Summaries map[int64][]Summary `json:"summaries"` // keyed by MaxDate.UnixNano()

	LastActivity   time.Time `json:"last_activity"`
	MaxSummaryDate time.Time `json:"max_summary_date"`

	NoReactiveToolCallBefore *time.Time `json:"no_reactive_tool_call_before,omitempty"`
	NoTemporaryMessageBefore *time.Time `json:"no_temporary_message_before,omitempty"`
}

// NewChannel returns an empty channel with the given id (lazily created, per
// spec §3's Channel lifecycle).
func NewChannel(id string) *Channel {
	return &Channel{ID: id, Summaries: map[int64][]Summary{}}
}

func summaryKey(t time.Time) int64 { return t.UnixNano() }

// AddSummary inserts s at key s.MaxDate, keeping the per-key list sorted by
// MinDate ascending (longest span first), and advances MaxSummaryDate when
// s.MaxDate is newer than the current value (spec §4.1 step 7).
func (c *Channel) AddSummary(s Summary) {
	key := summaryKey(s.MaxDate)
	list := c.Summaries[key]
	list = append(list, s)
	sort.Slice(list, func(i, j int) bool { return list[i].MinDate.Before(list[j].MinDate) })
	c.Summaries[key] = list
	if s.MaxDate.After(c.MaxSummaryDate) {
		c.MaxSummaryDate = s.MaxDate
	}
}

// SummaryAt returns the summary list keyed at exactly t, if any.
func (c *Channel) SummaryAt(t time.Time) ([]Summary, bool) {
	list, ok := c.Summaries[summaryKey(t)]
	return list, ok
}

// sortMessages resorts Messages by date ascending; it is called whenever an
// insertion might have broken monotonicity (spec §3 channel invariants).
func (c *Channel) sortMessages() {
	sort.SliceStable(c.Messages, func(i, j int) bool {
		return c.Messages[i].GetDate().Before(c.Messages[j].GetDate())
	})
}

// RefreshLastActivity recomputes LastActivity as the max message date.
func (c *Channel) RefreshLastActivity() {
	if len(c.Messages) == 0 {
		return
	}
	max := c.Messages[0].GetDate()
	for _, m := range c.Messages[1:] {
		if m.GetDate().After(max) {
			max = m.GetDate()
		}
	}
	c.LastActivity = max
}

// PruneSummariesBefore removes every summary whose MaxDate < before, and
// recomputes MaxSummaryDate as the minimum MinDate among survivors, or now
// if none remain (spec §4.1 step 3 / §9 "asymmetry... preserved").
func (c *Channel) PruneSummariesBefore(before time.Time, now time.Time) {
	minSurviving := time.Time{}
	hasSurvivor := false
	for key, list := range c.Summaries {
		kept := list[:0:0]
		for _, s := range list {
			if s.MaxDate.Before(before) {
				continue
			}
			kept = append(kept, s)
			if !hasSurvivor || s.MinDate.Before(minSurviving) {
				minSurviving = s.MinDate
				hasSurvivor = true
			}
		}
		if len(kept) == 0 {
			delete(c.Summaries, key)
		} else {
			c.Summaries[key] = kept
		}
	}
	if hasSurvivor {
		c.MaxSummaryDate = minSurviving
	} else {
		c.MaxSummaryDate = now
	}
}

// History is {current_channel?, channels{id -> Channel}}.
type History struct {
	CurrentChannel string              `json:"current_channel,omitempty"`
	Channels       map[string]*Channel `json:"channels"`
}

// NewHistory returns an empty History.
func NewHistory() *History {
	return &History{Channels: map[string]*Channel{}}
}

// IsEmpty reports whether the History has never been populated (spec §4.1:
// a full-History replacement is only honored against an empty History).
func (h *History) IsEmpty() bool {
	return h.CurrentChannel == "" && len(h.Channels) == 0
}

// GetOrCreateChannel returns the channel for id, creating it lazily if absent.
func (h *History) GetOrCreateChannel(id string) *Channel {
	if h.Channels == nil {
		h.Channels = map[string]*Channel{}
	}
	c, ok := h.Channels[id]
	if !ok {
		c = NewChannel(id)
		h.Channels[id] = c
	}
	return c
}

// CurrentChannelOrNil returns the current channel, or nil if unset/missing.
func (h *History) CurrentChannelOrNil() *Channel {
	if h.CurrentChannel == "" {
		return nil
	}
	return h.Channels[h.CurrentChannel]
}

// OrderedByLastActivityDesc returns channel ids other than exclude, sorted by
// LastActivity descending (spec §4.2 locator search order).
func (h *History) OrderedByLastActivityDesc(exclude string) []string {
	ids := make([]string, 0, len(h.Channels))
	for id := range h.Channels {
		if id == exclude {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return h.Channels[ids[i]].LastActivity.After(h.Channels[ids[j]].LastActivity)
	})
	return ids
}

// Clone returns a deep-enough copy of History suitable for reducer input
// (the reducer never mutates the History passed to it in place).
func (h *History) Clone() *History {
	out := NewHistory()
	out.CurrentChannel = h.CurrentChannel
	for id, c := range h.Channels {
		nc := *c
		nc.Messages = append(MessageList(nil), c.Messages...)
		for i, m := range nc.Messages {
			nc.Messages[i] = m.Clone()
		}
		nc.Summaries = make(map[int64][]Summary, len(c.Summaries))
		for k, v := range c.Summaries {
			nc.Summaries[k] = append([]Summary(nil), v...)
		}
		out.Channels[id] = &nc
	}
	return out
}
