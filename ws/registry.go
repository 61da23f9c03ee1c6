package ws

import "sync"

// HandlerID identifies one registered handler on a channel.
type HandlerID uint64

type entry struct {
	id HandlerID
	fn Handler
}

// registry maps channel names to their handlers, keeping registration order
// per channel.
type registry struct {
	sync.RWMutex
	nextID   HandlerID
	channels map[string][]entry
}

func newRegistry() *registry {
	return &registry{channels: make(map[string][]entry)}
}

func (r *registry) add(channel string, fn Handler) HandlerID {
	r.Lock()
	defer r.Unlock()
	r.nextID++
	id := r.nextID
	r.channels[channel] = append(r.channels[channel], entry{id: id, fn: fn})
	return id
}

func (r *registry) del(channel string, id HandlerID) bool {
	r.Lock()
	defer r.Unlock()
	entries := r.channels[channel]
	for i, e := range entries {
		if e.id == id {
			rest := append(entries[:i:i], entries[i+1:]...)
			if len(rest) == 0 {
				delete(r.channels, channel)
			} else {
				r.channels[channel] = rest
			}
			return true
		}
	}
	return false
}

func (r *registry) drop(channel string) {
	r.Lock()
	delete(r.channels, channel)
	r.Unlock()
}

// snapshot copies the current handler list so dispatch can iterate without
// holding the lock while handlers run.
func (r *registry) snapshot(channel string) []entry {
	r.RLock()
	defer r.RUnlock()
	entries := r.channels[channel]
	if len(entries) == 0 {
		return nil
	}
	out := make([]entry, len(entries))
	copy(out, entries)
	return out
}

// alive reports whether the handler is still registered. Dispatch re-checks
// this per handler so a handler removed mid-frame is not invoked.
func (r *registry) alive(channel string, id HandlerID) bool {
	r.RLock()
	defer r.RUnlock()
	for _, e := range r.channels[channel] {
		if e.id == id {
			return true
		}
	}
	return false
}
