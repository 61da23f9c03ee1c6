package wire

import "time"

// NullInt64 mirrors the server's `{Int64, Valid}` encoding of optional ids.
// It exists only at the deserialization boundary; domain code gets the
// normalized `(int64, bool)` form via Value().
type NullInt64 struct {
	Int64 int64 `json:"Int64"`
	Valid bool  `json:"Valid"`
}

// Value returns the normalized optional value.
func (n NullInt64) Value() (int64, bool) {
	if !n.Valid {
		return 0, false
	}
	return n.Int64, true
}

// Reaction is one user's emoji reaction to a message.
type Reaction struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Emoji    string `json:"emoji"`
}

// ChatMessage is the shape of a chat message as sent by the server, both in
// live `message`/`approve` payloads and in bulk history responses. Ids are
// minted by the server; the client never invents one.
type ChatMessage struct {
	ID          int64         `json:"id"`
	UserID      string        `json:"userId"`
	Username    string        `json:"username"`
	Color       string        `json:"color"`
	Message     string        `json:"message"`
	SentAt      time.Time     `json:"sentAt"`
	ReplyTo     NullInt64     `json:"replyTo"`
	Visible     bool          `json:"visible"`
	Resolved    bool          `json:"resolved"`
	Admin       bool          `json:"admin"`
	Reactions   []Reaction    `json:"reactions"`
	AddressedTo []string      `json:"addressedTo"`
	Replies     []ChatMessage `json:"replies"`
}

// PollOption is one answer of a poll together with its current vote count.
type PollOption struct {
	ID     int64  `json:"id"`
	Answer string `json:"answer"`
	Votes  int64  `json:"votes"`
}

// Poll is the shape of a poll in `pollOptions` payloads and history responses.
type Poll struct {
	ID       int64        `json:"id"`
	Question string       `json:"question"`
	Options  []PollOption `json:"pollOptions"`
	Active   bool         `json:"active"`
}

// PollOptionResult carries an updated vote count for one option.
type PollOptionResult struct {
	ID    int64 `json:"pollOptionId"`
	Votes int64 `json:"votes"`
}
