// Package poll tracks the poll state of one stream: at most one active poll
// and the results of finished ones.
package poll

import (
	"sync"

	"github.com/golang/glog"

	"github.com/lectern/lectern/wire"
)

// Option is one poll answer with its current vote count.
type Option struct {
	ID     int64
	Answer string
	Votes  int64
}

// Poll is one poll as held by the client.
type Poll struct {
	ID        int64
	Question  string
	Options   []Option
	Active    bool
	Submitted bool // current user has voted
}

// FromWire converts a server-shaped poll.
func FromWire(p *wire.Poll) *Poll {
	out := &Poll{
		ID:       p.ID,
		Question: p.Question,
		Active:   p.Active,
	}
	for _, o := range p.Options {
		out.Options = append(out.Options, Option(o))
	}
	return out
}

// State holds the poll state of one stream. Like the chat store it is owned
// by a single watch session and discarded with it.
type State struct {
	mu      sync.Mutex
	active  *Poll
	history []*Poll
}

// NewState creates an empty poll state.
func NewState() *State {
	return &State{}
}

// Start installs a new active poll. A still-active previous poll is retired
// into history implicitly; the server never runs two at once.
func (s *State) Start(p *Poll) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil {
		glog.V(5).Infof("Start(): poll %d retires poll %d", p.ID, s.active.ID)
		s.active.Active = false
		s.history = append(s.history, s.active)
	}
	p.Active = true
	s.active = p
}

// ApplyResults updates vote counts on the active poll. Unknown option ids
// are ignored.
func (s *State) ApplyResults(results []wire.PollOptionResult) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return false
	}
	changed := false
	for _, r := range results {
		for i := range s.active.Options {
			if s.active.Options[i].ID == r.ID {
				if s.active.Options[i].Votes != r.Votes {
					s.active.Options[i].Votes = r.Votes
					changed = true
				}
				break
			}
		}
	}
	return changed
}

// MarkSubmitted records that the current user's vote was accepted.
func (s *State) MarkSubmitted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return false
	}
	s.active.Submitted = true
	return true
}

// Close retires the active poll, if any.
func (s *State) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return
	}
	s.active.Active = false
	s.history = append(s.history, s.active)
	s.active = nil
}

// Active returns the active poll, or false. The poll is shared and read-only
// for callers.
func (s *State) Active() (*Poll, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active, s.active != nil
}

// History returns the finished polls, oldest first.
func (s *State) History() []*Poll {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Poll, len(s.history))
	copy(out, s.history)
	return out
}

// LoadHistory seeds finished polls from a bulk fetch.
func (s *State) LoadHistory(polls []*Poll) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, polls...)
}
