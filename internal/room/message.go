package room

import (
	"time"

	"github.com/google/uuid"
)

const SystemSender = "system"

type Message struct {
	ID         string     `json:"id"`
	Sender     string     `json:"sender"`
	Text       string     `json:"text,omitempty"`
	Attachment string     `json:"attachment,omitempty"`
	Audio      string     `json:"audio,omitempty"`
	Likes      []string   `json:"likes"`
	Edited     bool       `json:"edited,omitempty"`
	EditedAt   *time.Time `json:"editedAt,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	System     bool       `json:"system,omitempty"`
}

// Empty reports whether the message carries no content at all. Such messages
// are rejected at ingress: never stored, never broadcast.
func (m *Message) Empty() bool {
	return m.Text == "" && m.Attachment == "" && m.Audio == ""
}

func NewMessage(sender string) *Message {
	return &Message{
		ID:        uuid.NewString(),
		Sender:    sender,
		Likes:     []string{},
		CreatedAt: time.Now(),
	}
}

func newSystemMessage(text string) *Message {
	msg := NewMessage(SystemSender)
	msg.Text = text
	msg.System = true
	return msg
}

// history is the per-room append-only message log, bounded at limit entries.
// Not safe for concurrent use; the owning roomContext serializes access.
type history struct {
	messages []*Message
	limit    int
	maxValue int
}

func newHistory(limit, maxValue int) *history {
	return &history{
		limit:    limit,
		maxValue: maxValue,
	}
}

// truncate caps oversized inline payloads. Partial delivery is preferred over
// rejection for attachment and audio data.
func (h *history) truncate(msg *Message) {
	if h.maxValue <= 0 {
		return
	}
	if len(msg.Attachment) > h.maxValue {
		msg.Attachment = msg.Attachment[:h.maxValue]
	}
	if len(msg.Audio) > h.maxValue {
		msg.Audio = msg.Audio[:h.maxValue]
	}
}

func (h *history) Append(msg *Message) error {
	if msg.Empty() {
		return ErrValidationFailed
	}
	h.truncate(msg)
	h.messages = append(h.messages, msg)
	if h.limit > 0 && len(h.messages) > h.limit {
		h.messages = h.messages[len(h.messages)-h.limit:]
	}
	return nil
}

func (h *history) Get(messageID string) (*Message, bool) {
	for _, msg := range h.messages {
		if msg.ID == messageID {
			return msg, true
		}
	}
	return nil, false
}

func (h *history) Edit(messageID, newText string) (*Message, error) {
	msg, ok := h.Get(messageID)
	if !ok {
		return nil, ErrMessageNotFound
	}
	now := time.Now()
	msg.Text = newText
	msg.Edited = true
	msg.EditedAt = &now
	return msg, nil
}

func (h *history) Delete(messageID string) (*Message, error) {
	for i, msg := range h.messages {
		if msg.ID == messageID {
			h.messages = append(h.messages[:i], h.messages[i+1:]...)
			return msg, nil
		}
	}
	return nil, ErrMessageNotFound
}

// ToggleLike flips likerName's presence in the message like set and returns
// the message with its updated likers.
func (h *history) ToggleLike(messageID, likerName string) (*Message, error) {
	msg, ok := h.Get(messageID)
	if !ok {
		return nil, ErrMessageNotFound
	}
	for i, name := range msg.Likes {
		if name == likerName {
			msg.Likes = append(msg.Likes[:i], msg.Likes[i+1:]...)
			return msg, nil
		}
	}
	msg.Likes = append(msg.Likes, likerName)
	return msg, nil
}

// Snapshot returns a copy of the ordered log for direct delivery to a joiner.
func (h *history) Snapshot() []*Message {
	snapshot := make([]*Message, len(h.messages))
	copy(snapshot, h.messages)
	return snapshot
}

func (h *history) Len() int {
	return len(h.messages)
}
