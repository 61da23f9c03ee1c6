// Package watch composes the realtime layer for one stream: it binds the
// chat channel, decodes payloads once at the boundary, and routes them into
// the chat store, poll state, and stream metadata.
package watch

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/lectern/lectern/chat"
	"github.com/lectern/lectern/history"
	"github.com/lectern/lectern/poll"
	"github.com/lectern/lectern/replay"
	"github.com/lectern/lectern/wire"
	"github.com/lectern/lectern/ws"
)

// Meta is the stream-level state pushed over the chat channel alongside
// messages: viewer count, live flag, and metadata updates.
type Meta struct {
	Title       string
	Description string
	Viewers     int64
	Live        bool
	LiveAt      time.Time
}

// Config configures a Session.
type Config struct {
	StreamID string

	// UserID is the current user; reaction groups mark whether they reacted.
	UserID string

	// Privileged marks a moderator/admin view: retracted messages are kept
	// soft-hidden as an audit trail instead of removed.
	Privileged bool

	// ScheduledStart anchors replay when the stream never went live.
	ScheduledStart time.Time

	// History, when set, is used by Start to bulk-load the transcript and
	// polls before subscribing.
	History *history.Client

	// Notify receives coalesced change notifications; FlushDelay is the
	// coalescing window (0 means a small default).
	Notify     func(Update)
	FlushDelay time.Duration
}

// ChannelName returns the chat channel of a stream.
func ChannelName(streamID string) string {
	return "chat/" + streamID
}

// Session owns the realtime state of one stream for the lifetime of a watch
// view. Switching streams means closing the session and creating a new one;
// the stores are never reused.
type Session struct {
	conf     Config
	channel  *ws.Channel
	chat     *chat.Store
	polls    *poll.State
	notifier *notifier

	mu      sync.Mutex
	meta    Meta
	handler ws.HandlerID
	started bool
	closed  bool
}

// NewSession creates a session for one stream over the given transport.
func NewSession(bus ws.Bus, conf Config) *Session {
	return &Session{
		conf:     conf,
		channel:  ws.NewChannel(bus, ChannelName(conf.StreamID)),
		chat:     chat.NewStore(conf.UserID),
		polls:    poll.NewState(),
		notifier: newNotifier(conf.FlushDelay, conf.Notify),
	}
}

// Chat returns the session's transcript store.
func (s *Session) Chat() *chat.Store { return s.chat }

// Polls returns the session's poll state.
func (s *Session) Polls() *poll.State { return s.polls }

// Meta returns a copy of the current stream metadata.
func (s *Session) Meta() Meta {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meta
}

// Start bulk-loads history (when configured) and then subscribes to live
// updates. History and live frames go through the same parsing path, so a
// message replayed on both is applied once.
func (s *Session) Start(ctx context.Context) error {
	if s.conf.History != nil {
		msgs, err := s.conf.History.Messages(ctx, s.conf.StreamID)
		if err != nil {
			return err
		}
		for i := range msgs {
			s.chat.Add(chat.FromWire(&msgs[i]))
		}

		polls, err := s.conf.History.Polls(ctx, s.conf.StreamID)
		if err != nil {
			return err
		}
		var past []*poll.Poll
		for i := range polls {
			past = append(past, poll.FromWire(&polls[i]))
		}
		s.polls.LoadHistory(past)

		if active, err := s.conf.History.ActivePoll(ctx, s.conf.StreamID); err != nil {
			return err
		} else if active != nil {
			s.polls.Start(poll.FromWire(active))
		}
	}

	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
	s.Resubscribe()
	return nil
}

// Resubscribe (re-)announces the channel subscription and swaps in a fresh
// handler registration. The transport does not resubscribe channels after a
// reconnect on purpose; hook this on its OnReconnect.
func (s *Session) Resubscribe() {
	s.mu.Lock()
	if s.closed || !s.started {
		s.mu.Unlock()
		return
	}
	old := s.handler
	s.mu.Unlock()

	if old != 0 {
		s.channel.RemoveHandler(old)
	}
	id := s.channel.Subscribe(s.onFrame)

	s.mu.Lock()
	s.handler = id
	s.mu.Unlock()
}

// Close unsubscribes the channel and stops notifications. Safe to call at
// any time, also from within a handler.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.notifier.stop()
	s.channel.Unsubscribe(ws.UnsubscribeOpts{})
}

// Timing returns the replay anchor for this stream.
func (s *Session) Timing() replay.Timing {
	s.mu.Lock()
	defer s.mu.Unlock()
	return replay.Timing{StartAt: s.conf.ScheduledStart, LiveAt: s.meta.LiveAt}
}

// EnterReplay builds and activates a replay engine over this session's
// transcript. The caller keeps the engine and deactivates it when live mode
// resumes.
func (s *Session) EnterReplay(source replay.PlaybackSource, sink replay.Sink) *replay.Engine {
	eng := replay.NewEngine(s.chat, s.Timing(), source, sink)
	eng.Activate()
	return eng
}

// SendMessage posts a chat message, optionally as a reply to a top-level
// message. Best effort, like everything outbound.
func (s *Session) SendMessage(text string, replyTo *int64) error {
	return s.channel.SendJSON(&wire.NewMessage{Message: text, ReplyTo: replyTo})
}

// Vote submits a vote for an option of the active poll.
func (s *Session) Vote(optionID int64) error {
	return s.channel.SendJSON(&wire.Vote{PollOptionID: optionID})
}

// ReactTo toggles the current user's reaction on a message.
func (s *Session) ReactTo(messageID int64, emoji string) error {
	return s.channel.SendJSON(&wire.ReactTo{ID: messageID, Emoji: emoji})
}

// Moderate asks the server for a moderation action; the local store changes
// only when the resulting event comes back.
func (s *Session) Moderate(op string, messageID int64) error {
	return s.channel.SendJSON(&wire.Moderate{Op: op, ID: messageID})
}

// onFrame decodes one inbound chat payload and routes it by variant.
// Unknown payloads are dropped with a trace log; nothing here may take down
// the dispatch loop.
func (s *Session) onFrame(payload json.RawMessage) {
	ev, err := wire.DecodeChatEvent(payload)
	if err != nil {
		glog.Errorf("onFrame(): bad chat payload: %v", err)
		return
	}

	switch ev.Kind() {
	case wire.KindMessage:
		if s.chat.Add(chat.FromWire(ev.Message)) {
			s.notifier.mark(UpdateChat)
		}
	case wire.KindDelete:
		if s.chat.Delete(ev.Delete.ID) {
			s.notifier.mark(UpdateChat)
		}
	case wire.KindApprove:
		s.chat.Approve(chat.FromWire(ev.Approve))
		s.notifier.mark(UpdateChat)
	case wire.KindRetract:
		if s.chat.Retract(ev.Retract.ID, s.conf.Privileged) {
			s.notifier.mark(UpdateChat)
		}
	case wire.KindResolve:
		if s.chat.Resolve(ev.Resolve.ID) {
			s.notifier.mark(UpdateChat)
		}
	case wire.KindReactions:
		reactions := make([]chat.Reaction, 0, len(ev.Reactions.Reactions))
		for _, r := range ev.Reactions.Reactions {
			reactions = append(reactions, chat.Reaction(r))
		}
		if s.chat.SetReactions(ev.Reactions.ID, reactions) {
			s.notifier.mark(UpdateChat)
		}
	case wire.KindPollStart:
		s.polls.Start(poll.FromWire(ev.PollStart))
		s.notifier.mark(UpdatePoll)
	case wire.KindPollSubmit:
		if s.polls.MarkSubmitted() {
			s.notifier.mark(UpdatePoll)
		}
	case wire.KindPollResults:
		if s.polls.ApplyResults(*ev.PollResults) {
			s.notifier.mark(UpdatePoll)
		}
	case wire.KindViewers:
		s.mu.Lock()
		s.meta.Viewers = ev.Viewers.Count
		s.mu.Unlock()
		s.notifier.mark(UpdateMeta)
	case wire.KindLive:
		s.mu.Lock()
		s.meta.Live = *ev.Live
		if *ev.Live && s.meta.LiveAt.IsZero() {
			s.meta.LiveAt = time.Now()
		}
		s.mu.Unlock()
		s.notifier.mark(UpdateMeta)
	case wire.KindTitle:
		s.mu.Lock()
		s.meta.Title = *ev.Title
		s.mu.Unlock()
		s.notifier.mark(UpdateMeta)
	case wire.KindDescription:
		s.mu.Lock()
		s.meta.Description = *ev.Description
		s.mu.Unlock()
		s.notifier.mark(UpdateMeta)
	default:
		glog.V(5).Infof("onFrame(): unknown payload variant, dropped")
	}
}
