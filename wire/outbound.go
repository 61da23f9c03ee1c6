package wire

// Outbound chat-channel payloads. These use plain optional fields; the
// `{Int64, Valid}` encoding is an inbound quirk only.

// NewMessage posts a chat message, optionally as a reply.
type NewMessage struct {
	Message string `json:"message"`
	ReplyTo *int64 `json:"replyTo,omitempty"`
}

// Vote votes for an option of the active poll.
type Vote struct {
	PollOptionID int64 `json:"pollOptionId"`
}

// ReactTo toggles the sender's reaction on a message.
type ReactTo struct {
	ID    int64  `json:"id"`
	Emoji string `json:"emoji"`
}

// Moderate asks the server to apply a moderation action to a message. Op is
// one of "delete", "approve", "retract", "resolve".
type Moderate struct {
	Op string `json:"op"`
	ID int64  `json:"id"`
}
