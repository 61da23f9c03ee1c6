package wire

import "encoding/json"

// EventKind identifies which variant of a ChatEvent is set.
type EventKind int

const (
	KindUnknown EventKind = iota
	KindMessage
	KindDelete
	KindApprove
	KindRetract
	KindResolve
	KindReactions
	KindPollStart
	KindPollSubmit
	KindPollResults
	KindViewers
	KindLive
	KindTitle
	KindDescription
)

// IDRef is a payload that only names a message id (delete, retract, resolve).
type IDRef struct {
	ID int64 `json:"id"`
}

// ReactionsUpdate replaces the full reaction list of one message.
type ReactionsUpdate struct {
	ID        int64      `json:"id"`
	Reactions []Reaction `json:"reactions"`
}

// Viewers is a viewer-count push.
type Viewers struct {
	Count int64 `json:"count"`
}

// ChatEvent is one decoded chat-channel payload. The upstream protocol
// distinguishes variants by key presence; decoding normalizes that into a
// union of optional fields, exactly one of which is set. Kind() reports
// which, so consumers can switch exhaustively instead of probing keys.
type ChatEvent struct {
	Message     *ChatMessage        `json:"message,omitempty"`
	Delete      *IDRef              `json:"delete,omitempty"`
	Approve     *ChatMessage        `json:"approve,omitempty"`
	Retract     *IDRef              `json:"retract,omitempty"`
	Resolve     *IDRef              `json:"resolve,omitempty"`
	Reactions   *ReactionsUpdate    `json:"reactions,omitempty"`
	PollStart   *Poll               `json:"pollOptions,omitempty"`
	PollSubmit  *int64              `json:"pollOptionId,omitempty"`
	PollResults *[]PollOptionResult `json:"pollOptionResults,omitempty"`
	Viewers     *Viewers            `json:"viewers,omitempty"`
	Live        *bool               `json:"live,omitempty"`
	Title       *string             `json:"title,omitempty"`
	Description *string             `json:"description,omitempty"`
}

// DecodeChatEvent parses one chat-channel payload.
func DecodeChatEvent(data []byte) (*ChatEvent, error) {
	var ev ChatEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

// Kind returns the variant set on this event, KindUnknown if none is.
func (e *ChatEvent) Kind() EventKind {
	switch {
	case e.Message != nil:
		return KindMessage
	case e.Delete != nil:
		return KindDelete
	case e.Approve != nil:
		return KindApprove
	case e.Retract != nil:
		return KindRetract
	case e.Resolve != nil:
		return KindResolve
	case e.Reactions != nil:
		return KindReactions
	case e.PollStart != nil:
		return KindPollStart
	case e.PollSubmit != nil:
		return KindPollSubmit
	case e.PollResults != nil:
		return KindPollResults
	case e.Viewers != nil:
		return KindViewers
	case e.Live != nil:
		return KindLive
	case e.Title != nil:
		return KindTitle
	case e.Description != nil:
		return KindDescription
	}
	return KindUnknown
}

// Encode marshals the event as a chat-channel payload.
func (e *ChatEvent) Encode() ([]byte, error) {
	return json.Marshal(e)
}
