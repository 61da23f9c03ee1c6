package watch

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type updateLog struct {
	mu  sync.Mutex
	got []Update
}

func (l *updateLog) record(u Update) {
	l.mu.Lock()
	l.got = append(l.got, u)
	l.mu.Unlock()
}

func (l *updateLog) snapshot() []Update {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Update(nil), l.got...)
}

func TestNotifierCoalescesBursts(t *testing.T) {
	log := &updateLog{}
	n := newNotifier(20*time.Millisecond, log.record)

	// a burst of mutations inside the flush window
	n.mark(UpdateChat)
	n.mark(UpdateChat)
	n.mark(UpdatePoll)

	require.Eventually(t, func() bool {
		return len(log.snapshot()) == 1
	}, time.Second, 5*time.Millisecond)

	got := log.snapshot()
	assert.Equal(t, UpdateChat|UpdatePoll, got[0])
}

func TestNotifierFlushesAgainAfterIdle(t *testing.T) {
	log := &updateLog{}
	n := newNotifier(10*time.Millisecond, log.record)

	n.mark(UpdateChat)
	require.Eventually(t, func() bool { return len(log.snapshot()) == 1 }, time.Second, 5*time.Millisecond)

	n.mark(UpdateMeta)
	require.Eventually(t, func() bool { return len(log.snapshot()) == 2 }, time.Second, 5*time.Millisecond)

	got := log.snapshot()
	assert.Equal(t, UpdateChat, got[0])
	assert.Equal(t, UpdateMeta, got[1])
}

func TestNotifierSerializesFlushes(t *testing.T) {
	var mu sync.Mutex
	var calls []Update
	inFlight, maxInFlight := 0, 0
	block := make(chan struct{})
	n := newNotifier(5*time.Millisecond, func(u Update) {
		mu.Lock()
		inFlight++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		calls = append(calls, u)
		first := len(calls) == 1
		mu.Unlock()
		if first {
			<-block
		}
		mu.Lock()
		inFlight--
		mu.Unlock()
	})
	defer n.stop()

	n.mark(UpdateChat)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(calls) == 1
	}, time.Second, time.Millisecond)

	// marks landing while the callback is still running must wait for it
	n.mark(UpdatePoll)
	n.mark(UpdateMeta)
	time.Sleep(30 * time.Millisecond)
	mu.Lock()
	assert.Len(t, calls, 1, "no flush may start while one is in the callback")
	mu.Unlock()

	close(block)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(calls) == 2
	}, time.Second, time.Millisecond)

	mu.Lock()
	assert.Equal(t, UpdatePoll|UpdateMeta, calls[1])
	assert.Equal(t, 1, maxInFlight)
	mu.Unlock()
}

func TestNotifierStop(t *testing.T) {
	log := &updateLog{}
	n := newNotifier(10*time.Millisecond, log.record)

	n.mark(UpdateChat)
	n.stop()
	n.mark(UpdatePoll) // ignored after stop

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, log.snapshot())
}

func TestNotifierWithoutCallback(t *testing.T) {
	n := newNotifier(0, nil)
	n.mark(UpdateChat) // must not arm a timer or panic
	n.stop()
}
