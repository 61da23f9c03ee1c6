package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lectern/lectern/history"
	"github.com/lectern/lectern/wire"
	"github.com/lectern/lectern/ws"
)

type busEntry struct {
	id ws.HandlerID
	fn ws.Handler
}

type sentFrame struct {
	typ     string
	channel string
	payload string
}

// fakeBus is an in-memory ws.Bus: it records outbound frames and lets tests
// push inbound payloads straight to the registered handlers.
type fakeBus struct {
	mu       sync.Mutex
	next     ws.HandlerID
	handlers map[string][]busEntry
	sent     []sentFrame
}

func newFakeBus() *fakeBus {
	return &fakeBus{handlers: make(map[string][]busEntry)}
}

func (b *fakeBus) Send(channel string, payload json.RawMessage) {
	b.mu.Lock()
	b.sent = append(b.sent, sentFrame{"message", channel, string(payload)})
	b.mu.Unlock()
}

func (b *fakeBus) Subscribe(channel string, h ws.Handler) ws.HandlerID {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	b.handlers[channel] = append(b.handlers[channel], busEntry{b.next, h})
	b.sent = append(b.sent, sentFrame{"subscribe", channel, ""})
	return b.next
}

func (b *fakeBus) Unsubscribe(channel string, opts ws.UnsubscribeOpts) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !opts.KeepHandlers {
		delete(b.handlers, channel)
	}
	b.sent = append(b.sent, sentFrame{"unsubscribe", channel, ""})
}

func (b *fakeBus) RemoveHandler(channel string, id ws.HandlerID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	entries := b.handlers[channel]
	for i, e := range entries {
		if e.id == id {
			b.handlers[channel] = append(entries[:i:i], entries[i+1:]...)
			return
		}
	}
}

func (b *fakeBus) handlerCount(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handlers[channel])
}

func (b *fakeBus) push(t *testing.T, channel string, ev *wire.ChatEvent) {
	t.Helper()
	payload, err := ev.Encode()
	require.NoError(t, err)
	b.mu.Lock()
	entries := append([]busEntry(nil), b.handlers[channel]...)
	b.mu.Unlock()
	for _, e := range entries {
		e.fn(payload)
	}
}

func (b *fakeBus) lastSent() sentFrame {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sent[len(b.sent)-1]
}

func wireMsg(id int64, user, text string, replyTo int64) *wire.ChatMessage {
	m := &wire.ChatMessage{
		ID:       id,
		UserID:   user,
		Username: user,
		Message:  text,
		SentAt:   time.Unix(1700000000+id, 0),
		Visible:  true,
	}
	if replyTo != 0 {
		m.ReplyTo = wire.NullInt64{Int64: replyTo, Valid: true}
	}
	return m
}

func startedSession(t *testing.T, bus *fakeBus, conf Config) *Session {
	t.Helper()
	if conf.StreamID == "" {
		conf.StreamID = "42"
	}
	if conf.UserID == "" {
		conf.UserID = "u1"
	}
	s := NewSession(bus, conf)
	require.NoError(t, s.Start(context.Background()))
	return s
}

func TestSessionSubscribesItsChannel(t *testing.T) {
	bus := newFakeBus()
	s := startedSession(t, bus, Config{StreamID: "42"})
	defer s.Close()

	assert.Equal(t, 1, bus.handlerCount("chat/42"))
	assert.Equal(t, sentFrame{"subscribe", "chat/42", ""}, bus.lastSent())
}

func TestSessionRoutesChatEvents(t *testing.T) {
	bus := newFakeBus()
	s := startedSession(t, bus, Config{})
	defer s.Close()

	ch := ChannelName("42")

	bus.push(t, ch, &wire.ChatEvent{Message: wireMsg(1, "ada", "hello", 0)})
	bus.push(t, ch, &wire.ChatEvent{Message: wireMsg(2, "bob", "a reply", 1)})
	assert.Equal(t, 1, s.Chat().Len())
	parent, _ := s.Chat().Get(1)
	require.Len(t, parent.Replies, 1)

	// redelivery is a no-op
	bus.push(t, ch, &wire.ChatEvent{Message: wireMsg(1, "ada", "hello", 0)})
	assert.Equal(t, 1, s.Chat().Len())

	// orphan reply is dropped
	bus.push(t, ch, &wire.ChatEvent{Message: wireMsg(9, "cid", "orphan", 77)})
	assert.Equal(t, 1, s.Chat().Len())

	bus.push(t, ch, &wire.ChatEvent{Reactions: &wire.ReactionsUpdate{
		ID:        1,
		Reactions: []wire.Reaction{{UserID: "u1", Username: "me", Emoji: "👍"}},
	}})
	parent, _ = s.Chat().Get(1)
	require.Len(t, parent.Groups, 1)
	assert.True(t, parent.Groups[0].Reacted)

	bus.push(t, ch, &wire.ChatEvent{Resolve: &wire.IDRef{ID: 1}})
	parent, _ = s.Chat().Get(1)
	assert.True(t, parent.Resolved)

	bus.push(t, ch, &wire.ChatEvent{Approve: wireMsg(3, "dee", "approved", 0)})
	assert.Equal(t, 2, s.Chat().Len())

	bus.push(t, ch, &wire.ChatEvent{Delete: &wire.IDRef{ID: 3}})
	assert.Equal(t, 1, s.Chat().Len())
}

func TestSessionRetractDependsOnPrivilege(t *testing.T) {
	for _, privileged := range []bool{false, true} {
		bus := newFakeBus()
		s := startedSession(t, bus, Config{Privileged: privileged})
		ch := ChannelName("42")

		bus.push(t, ch, &wire.ChatEvent{Message: wireMsg(1, "ada", "hello", 0)})
		bus.push(t, ch, &wire.ChatEvent{Retract: &wire.IDRef{ID: 1}})

		if privileged {
			m, ok := s.Chat().Get(1)
			require.True(t, ok, "moderator view keeps an audit trail")
			assert.False(t, m.Visible)
		} else {
			assert.Equal(t, 0, s.Chat().Len())
		}
		s.Close()
	}
}

func TestSessionRoutesPollEvents(t *testing.T) {
	bus := newFakeBus()
	s := startedSession(t, bus, Config{})
	defer s.Close()
	ch := ChannelName("42")

	bus.push(t, ch, &wire.ChatEvent{PollStart: &wire.Poll{
		ID:       1,
		Question: "understood?",
		Options:  []wire.PollOption{{ID: 11, Answer: "yes"}, {ID: 12, Answer: "no"}},
	}})
	active, ok := s.Polls().Active()
	require.True(t, ok)
	assert.Equal(t, "understood?", active.Question)

	bus.push(t, ch, &wire.ChatEvent{PollResults: &[]wire.PollOptionResult{{ID: 11, Votes: 7}}})
	active, _ = s.Polls().Active()
	assert.EqualValues(t, 7, active.Options[0].Votes)

	optionID := int64(11)
	bus.push(t, ch, &wire.ChatEvent{PollSubmit: &optionID})
	active, _ = s.Polls().Active()
	assert.True(t, active.Submitted)

	// a second poll retires the first
	bus.push(t, ch, &wire.ChatEvent{PollStart: &wire.Poll{ID: 2, Question: "next?"}})
	assert.Len(t, s.Polls().History(), 1)
}

func TestSessionTracksMeta(t *testing.T) {
	bus := newFakeBus()
	s := startedSession(t, bus, Config{ScheduledStart: time.Unix(1700000000, 0)})
	defer s.Close()
	ch := ChannelName("42")

	bus.push(t, ch, &wire.ChatEvent{Viewers: &wire.Viewers{Count: 230}})
	live := true
	bus.push(t, ch, &wire.ChatEvent{Live: &live})
	title := "Lecture 4: Graphs"
	bus.push(t, ch, &wire.ChatEvent{Title: &title})
	desc := "second half"
	bus.push(t, ch, &wire.ChatEvent{Description: &desc})

	meta := s.Meta()
	assert.EqualValues(t, 230, meta.Viewers)
	assert.True(t, meta.Live)
	assert.Equal(t, "Lecture 4: Graphs", meta.Title)
	assert.Equal(t, "second half", meta.Description)
	assert.False(t, meta.LiveAt.IsZero())

	// the replay anchor prefers the go-live moment over the schedule
	assert.Equal(t, meta.LiveAt, s.Timing().LiveAt)
}

func TestSessionResubscribeSwapsHandler(t *testing.T) {
	bus := newFakeBus()
	s := startedSession(t, bus, Config{})
	defer s.Close()

	s.Resubscribe()
	assert.Equal(t, 1, bus.handlerCount("chat/42"), "old handler must be dropped")

	// frames are still applied exactly once
	bus.push(t, ChannelName("42"), &wire.ChatEvent{Message: wireMsg(1, "ada", "hello", 0)})
	assert.Equal(t, 1, s.Chat().Len())
}

func TestSessionCloseUnsubscribes(t *testing.T) {
	bus := newFakeBus()
	s := startedSession(t, bus, Config{})
	s.Close()
	s.Close() // idempotent

	assert.Equal(t, sentFrame{"unsubscribe", "chat/42", ""}, bus.lastSent())
	assert.Equal(t, 0, bus.handlerCount("chat/42"))

	// a closed session cannot re-subscribe by accident
	s.Resubscribe()
	assert.Equal(t, 0, bus.handlerCount("chat/42"))
}

func TestSessionOutboundPayloads(t *testing.T) {
	bus := newFakeBus()
	s := startedSession(t, bus, Config{})
	defer s.Close()

	require.NoError(t, s.SendMessage("hello", nil))
	assert.Equal(t, sentFrame{"message", "chat/42", `{"message":"hello"}`}, bus.lastSent())

	parent := int64(5)
	require.NoError(t, s.SendMessage("re: hello", &parent))
	assert.Equal(t, `{"message":"re: hello","replyTo":5}`, bus.lastSent().payload)

	require.NoError(t, s.Vote(11))
	assert.Equal(t, `{"pollOptionId":11}`, bus.lastSent().payload)

	require.NoError(t, s.ReactTo(3, "👍"))
	assert.Equal(t, `{"id":3,"emoji":"👍"}`, bus.lastSent().payload)

	require.NoError(t, s.Moderate("retract", 3))
	assert.Equal(t, `{"op":"retract","id":3}`, bus.lastSent().payload)
}

func TestSessionNotifiesCoalesced(t *testing.T) {
	bus := newFakeBus()
	log := &updateLog{}
	s := startedSession(t, bus, Config{Notify: log.record, FlushDelay: 10 * time.Millisecond})
	defer s.Close()
	ch := ChannelName("42")

	bus.push(t, ch, &wire.ChatEvent{Message: wireMsg(1, "ada", "hello", 0)})
	bus.push(t, ch, &wire.ChatEvent{Viewers: &wire.Viewers{Count: 3}})

	require.Eventually(t, func() bool { return len(log.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, UpdateChat|UpdateMeta, log.snapshot()[0])

	// a no-op mutation does not notify
	bus.push(t, ch, &wire.ChatEvent{Message: wireMsg(1, "ada", "hello", 0)})
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, log.snapshot(), 1)
}

func TestSessionStartLoadsHistoryThenSubscribes(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/chat/42/messages", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[
			{"id":1,"userId":"ada","username":"ada","message":"hi","visible":true,
			 "replies":[{"id":2,"userId":"bob","username":"bob","message":"re: hi","visible":true,
			             "replyTo":{"Int64":1,"Valid":true}}]},
			{"id":3,"userId":"cid","username":"cid","message":"later","visible":true}
		]`)
	})
	mux.HandleFunc("/api/chat/42/polls", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"id":1,"question":"old?","pollOptions":[]}]`)
	})
	mux.HandleFunc("/api/chat/42/polls/active", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":2,"question":"current?","pollOptions":[{"id":21,"answer":"yes","votes":1}]}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	bus := newFakeBus()
	s := NewSession(bus, Config{
		StreamID: "42",
		UserID:   "u1",
		History:  history.NewClient(srv.URL, nil, nil),
	})
	defer s.Close()
	require.NoError(t, s.Start(context.Background()))

	assert.Equal(t, 2, s.Chat().Len())
	parent, _ := s.Chat().Get(1)
	require.Len(t, parent.Replies, 1)

	active, ok := s.Polls().Active()
	require.True(t, ok)
	assert.Equal(t, "current?", active.Question)
	assert.Len(t, s.Polls().History(), 1)

	// subscribed only after the bulk load
	assert.Equal(t, sentFrame{"subscribe", "chat/42", ""}, bus.lastSent())

	// a live frame redelivering a history message changes nothing
	bus.push(t, ChannelName("42"), &wire.ChatEvent{Message: wireMsg(3, "cid", "later", 0)})
	assert.Equal(t, 2, s.Chat().Len())
}
