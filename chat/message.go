// Package chat holds the client-side chat transcript of one stream: ordered,
// threaded messages, their moderation state, and the derived reaction
// summaries.
package chat

import (
	"time"

	"github.com/lectern/lectern/wire"
)

// Reaction is one user's emoji reaction to a message.
type Reaction struct {
	UserID   string
	Username string
	Emoji    string
}

// Message is one chat message as held by the client. Threading is one level
// deep: a message that is itself a reply never carries replies of its own.
type Message struct {
	ID          int64
	UserID      string
	Username    string
	Color       string
	Text        string
	CreatedAt   time.Time
	ParentID    int64 // set only when IsReply
	IsReply     bool
	Visible     bool
	Resolved    bool
	Admin       bool
	AddressedTo []string
	Reactions   []Reaction
	Groups      []ReactionGroup
	Replies     []*Message

	// Replay-derived fields; untouched outside replay mode.
	GrayedOut     bool
	RenderVersion uint64
}

// FromWire converts a server-shaped message into the domain form. The
// two-field `{Int64, Valid}` replyTo encoding is normalized here and nowhere
// else.
func FromWire(m *wire.ChatMessage) *Message {
	out := &Message{
		ID:          m.ID,
		UserID:      m.UserID,
		Username:    m.Username,
		Color:       m.Color,
		Text:        m.Message,
		CreatedAt:   m.SentAt,
		Visible:     m.Visible,
		Resolved:    m.Resolved,
		Admin:       m.Admin,
		AddressedTo: append([]string(nil), m.AddressedTo...),
	}
	if parent, ok := m.ReplyTo.Value(); ok {
		out.ParentID = parent
		out.IsReply = true
	}
	for _, r := range m.Reactions {
		out.Reactions = append(out.Reactions, Reaction(r))
	}
	for i := range m.Replies {
		reply := FromWire(&m.Replies[i])
		reply.IsReply = true
		reply.ParentID = m.ID
		out.Replies = append(out.Replies, reply)
	}
	return out
}

// LikeCount counts reactions with the like emoji; the "popular" sort order
// is built on it.
func (m *Message) LikeCount() int {
	n := 0
	for _, r := range m.Reactions {
		if r.Emoji == EmojiLike {
			n++
		}
	}
	return n
}
