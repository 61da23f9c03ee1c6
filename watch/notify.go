package watch

import (
	"sync"
	"time"
)

// Update is a bitmask of what changed since the last notification.
type Update uint

const (
	UpdateChat Update = 1 << iota
	UpdatePoll
	UpdateMeta
)

const defaultFlushDelay = 50 * time.Millisecond

// notifier coalesces rapid mutations into a single callback after a short
// idle window, so a burst of frames costs one render, not one per frame.
// Mutations themselves stay synchronous; only the notification is deferred.
type notifier struct {
	mu      sync.Mutex
	delay   time.Duration
	fn      func(Update)
	pending Update
	timer   *time.Timer
	stopped bool
}

func newNotifier(delay time.Duration, fn func(Update)) *notifier {
	if delay <= 0 {
		delay = defaultFlushDelay
	}
	return &notifier{delay: delay, fn: fn}
}

func (n *notifier) mark(u Update) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.stopped || n.fn == nil {
		return
	}
	n.pending |= u
	if n.timer == nil {
		n.timer = time.AfterFunc(n.delay, n.flush)
	}
}

func (n *notifier) flush() {
	n.mu.Lock()
	u := n.pending
	n.pending = 0
	fn := n.fn
	stopped := n.stopped
	if stopped || u == 0 {
		n.timer = nil
		n.mu.Unlock()
		return
	}
	// n.timer stays non-nil while fn runs so a concurrent mark cannot arm a
	// second flush; notifications are strictly serialized.
	n.mu.Unlock()

	fn(u)

	n.mu.Lock()
	if !n.stopped && n.pending != 0 {
		n.timer = time.AfterFunc(n.delay, n.flush)
	} else {
		n.timer = nil
	}
	n.mu.Unlock()
}

func (n *notifier) stop() {
	n.mu.Lock()
	n.stopped = true
	n.pending = 0
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
	n.mu.Unlock()
}
