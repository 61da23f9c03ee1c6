package chat

import (
	"sync"

	"github.com/golang/glog"
)

// Store holds the ordered, threaded transcript of one stream. One watch
// session owns exactly one Store; switching streams means discarding it and
// creating a fresh one, never mutating in place.
//
// Ids are unique and server-minted. Storage order is arrival order, which is
// not necessarily id order once history is back-filled; read-time ordering
// is chosen per call via a SortMode.
type Store struct {
	mu    sync.Mutex
	self  string // current user id, for reaction aggregation
	order []*Message
	byID  map[int64]*Message // top-level only
}

// NewStore creates an empty transcript for the given current user.
func NewStore(currentUser string) *Store {
	return &Store{self: currentUser, byID: make(map[int64]*Message)}
}

// Add inserts a new message. A duplicate top-level id is a no-op, since
// frames may be redelivered. A reply is attached to its parent's reply list;
// when the parent is unknown the reply is dropped and never re-attached.
// Returns whether the store changed.
func (s *Store) Add(m *Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.IsReply {
		return s.addReplyLocked(m)
	}
	if _, ok := s.byID[m.ID]; ok {
		glog.V(5).Infof("Add(): duplicate message id %d, ignored", m.ID)
		return false
	}
	s.aggregateLocked(m)
	s.byID[m.ID] = m
	s.order = append(s.order, m)
	return true
}

func (s *Store) addReplyLocked(m *Message) bool {
	parent, ok := s.byID[m.ParentID]
	if !ok {
		glog.V(5).Infof("Add(): no parent %d for reply %d, dropped", m.ParentID, m.ID)
		return false
	}
	for _, r := range parent.Replies {
		if r.ID == m.ID {
			return false
		}
	}
	s.aggregateLocked(m)
	m.Replies = nil // one level of nesting only
	m.GrayedOut = parent.GrayedOut
	parent.Replies = append(parent.Replies, m)
	return true
}

// Approve upserts: a known id is replaced in place, keeping its position; an
// unknown one is appended. Used when a hidden or pending message becomes
// visible. A reply-shaped approval upserts into its parent's reply list, so
// threading stays one level deep; with no parent it is dropped like any other
// orphan reply.
func (s *Store) Approve(m *Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aggregateLocked(m)
	if m.IsReply {
		s.approveReplyLocked(m)
		return
	}
	if old, ok := s.byID[m.ID]; ok {
		for i, e := range s.order {
			if e == old {
				s.order[i] = m
				break
			}
		}
		s.byID[m.ID] = m
		return
	}
	s.byID[m.ID] = m
	s.order = append(s.order, m)
}

func (s *Store) approveReplyLocked(m *Message) {
	parent, ok := s.byID[m.ParentID]
	if !ok {
		glog.V(5).Infof("Approve(): no parent %d for reply %d, dropped", m.ParentID, m.ID)
		return
	}
	m.Replies = nil
	m.GrayedOut = parent.GrayedOut
	for i, r := range parent.Replies {
		if r.ID == m.ID {
			parent.Replies[i] = m
			return
		}
	}
	parent.Replies = append(parent.Replies, m)
}

// Delete removes the message outright. Replies elsewhere that point at the
// removed id keep their dangling reference; that is tolerated, not repaired.
func (s *Store) Delete(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteLocked(id)
}

func (s *Store) deleteLocked(id int64) bool {
	old, ok := s.byID[id]
	if !ok {
		return false
	}
	delete(s.byID, id)
	for i, m := range s.order {
		if m == old {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// Retract hides or removes a message depending on who asked: a privileged
// actor (moderator/admin) soft-hides it so it stays retrievable, an ordinary
// author's retraction removes it like Delete.
func (s *Store) Retract(id int64, privileged bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !privileged {
		return s.deleteLocked(id)
	}
	m, ok := s.byID[id]
	if !ok {
		return false
	}
	m.Visible = false
	return true
}

// Resolve marks the message resolved; visibility is unaffected.
func (s *Store) Resolve(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.findLocked(id)
	if m == nil {
		return false
	}
	m.Resolved = true
	return true
}

// SetReactions replaces the message's entire reaction list and rebuilds the
// derived groups. The id may name a reply.
func (s *Store) SetReactions(id int64, reactions []Reaction) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.findLocked(id)
	if m == nil {
		return false
	}
	m.Reactions = reactions
	s.aggregateLocked(m)
	return true
}

// ApplyGrayout sets the replay grayout flag on a top-level message and
// propagates it to all of its replies; replies never compute their own
// state. Returns whether the parent's flag changed.
func (s *Store) ApplyGrayout(id int64, grayed bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byID[id]
	if !ok {
		return false
	}
	changed := m.GrayedOut != grayed
	if changed {
		m.GrayedOut = grayed
		m.RenderVersion++
	}
	for _, r := range m.Replies {
		if r.GrayedOut != grayed {
			r.GrayedOut = grayed
			r.RenderVersion++
		}
	}
	return changed
}

// Get returns the top-level message with the given id.
func (s *Store) Get(id int64) (*Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byID[id]
	return m, ok
}

// Len returns the number of top-level messages.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// Snapshot returns the top-level messages in arrival order. The slice is a
// copy; the messages themselves are shared and are read-only for callers.
func (s *Store) Snapshot() []*Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Message, len(s.order))
	copy(out, s.order)
	return out
}

// Messages returns the transcript ordered by the given mode.
func (s *Store) Messages(mode SortMode) []*Message {
	out := s.Snapshot()
	sortMessages(out, mode)
	return out
}

func (s *Store) findLocked(id int64) *Message {
	if m, ok := s.byID[id]; ok {
		return m
	}
	for _, m := range s.order {
		for _, r := range m.Replies {
			if r.ID == id {
				return r
			}
		}
	}
	return nil
}

func (s *Store) aggregateLocked(m *Message) {
	m.Groups = BuildReactionGroups(m.Reactions, s.self)
}
