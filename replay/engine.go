// Package replay synchronizes the chat transcript of a recorded lecture to
// the video playback position: messages "in the future" relative to playback
// are grayed out, and the most recent reached message is focused.
package replay

import (
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/lectern/lectern/chat"
)

// PlaybackSource is the playback element seen purely as a time source.
type PlaybackSource interface {
	// Position is the current playback position.
	Position() time.Duration
	// Duration is the total length of the recording.
	Duration() time.Duration
	// SubscribePosition registers fn for position changes and returns the
	// matching unsubscribe. Notifications arrive at the element's native
	// cadence, so fn must stay cheap.
	SubscribePosition(fn func(pos time.Duration)) (cancel func())
}

// Timing anchors a recording on the wall clock: message timestamps are
// compared against the moment the stream went live, or its scheduled start
// if it never did.
type Timing struct {
	StartAt time.Time
	LiveAt  time.Time
}

// Base returns the reference anchor.
func (t Timing) Base() time.Time {
	if !t.LiveAt.IsZero() {
		return t.LiveAt
	}
	return t.StartAt
}

// Delta is one grayout change of a top-level message. Its replies carry the
// same state, so one delta covers the whole thread.
type Delta struct {
	MessageID int64
	GrayedOut bool
}

// Sink receives replay updates. Only changes are delivered; an unchanged
// tick emits nothing.
type Sink interface {
	GrayoutChanged(deltas []Delta)
	FocusChanged(messageID int64)
}

// Engine recomputes per-message visibility against the playback position.
// The same state is derived whether messages arrived live or were bulk
// loaded from history; ticks are idempotent.
type Engine struct {
	mu      sync.Mutex
	store   *chat.Store
	timing  Timing
	source  PlaybackSource
	sink    Sink
	active  bool
	cancel  func()
	focused int64 // 0 = none yet
}

// NewEngine creates an inactive engine over the given transcript.
func NewEngine(store *chat.Store, timing Timing, source PlaybackSource, sink Sink) *Engine {
	return &Engine{store: store, timing: timing, source: source, sink: sink}
}

// Active reports whether replay mode is on.
func (e *Engine) Active() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// Focused returns the focused message id, 0 if none.
func (e *Engine) Focused() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.focused
}

// Activate enters replay mode: one immediate recompute, then one per
// position change. Idempotent.
func (e *Engine) Activate() {
	e.mu.Lock()
	if e.active {
		e.mu.Unlock()
		return
	}
	e.active = true
	e.cancel = e.source.SubscribePosition(e.Tick)
	e.mu.Unlock()

	glog.V(5).Info("Activate(): replay on")
	e.Tick(e.source.Position())
}

// Deactivate leaves replay mode: stops listening to the playback source and
// resets every message to non-grayed, one bulk delta per message. Safe to
// call at any time, including from within a position callback.
func (e *Engine) Deactivate() {
	e.mu.Lock()
	if !e.active {
		e.mu.Unlock()
		return
	}
	e.active = false
	cancel := e.cancel
	e.cancel = nil
	e.focused = 0
	sink := e.sink
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	glog.V(5).Info("Deactivate(): replay off")

	snap := e.store.Snapshot()
	deltas := make([]Delta, 0, len(snap))
	for _, m := range snap {
		e.store.ApplyGrayout(m.ID, false)
		deltas = append(deltas, Delta{MessageID: m.ID, GrayedOut: false})
	}
	if len(deltas) > 0 && sink != nil {
		sink.GrayoutChanged(deltas)
	}
}

// Tick recomputes grayout and focus for the given playback position. Only
// the resulting changes are emitted, so the cost per tick is bounded by what
// actually changed.
func (e *Engine) Tick(pos time.Duration) {
	e.mu.Lock()
	if !e.active {
		e.mu.Unlock()
		return
	}
	sink := e.sink
	e.mu.Unlock()

	ref := e.timing.Base().Add(pos)
	// Once playback reaches the end of the recording the whole chat is in
	// the past, timestamps notwithstanding.
	dur := e.source.Duration()
	ended := dur > 0 && pos >= dur

	snap := e.store.Snapshot()
	var deltas []Delta
	for _, m := range snap {
		gray := !ended && m.CreatedAt.After(ref)
		if e.store.ApplyGrayout(m.ID, gray) {
			deltas = append(deltas, Delta{MessageID: m.ID, GrayedOut: gray})
		}
	}

	focused := focusedID(snap)

	e.mu.Lock()
	if !e.active {
		// Deactivated from under us, by a handler or the watch layer.
		e.mu.Unlock()
		return
	}
	focusChanged := focused != 0 && focused != e.focused
	if focusChanged {
		e.focused = focused
	}
	e.mu.Unlock()

	if sink == nil {
		return
	}
	if len(deltas) > 0 {
		sink.GrayoutChanged(deltas)
	}
	if focusChanged {
		sink.FocusChanged(focused)
	}
}

// focusedID picks the last visible, non-grayed top-level message in store
// order, falling back to the very first message so something is focused once
// any message exists.
func focusedID(snap []*chat.Message) int64 {
	for i := len(snap) - 1; i >= 0; i-- {
		if snap[i].Visible && !snap[i].GrayedOut {
			return snap[i].ID
		}
	}
	if len(snap) > 0 {
		return snap[0].ID
	}
	return 0
}
