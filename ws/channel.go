package ws

import "encoding/json"

// Bus is the slice of the transport a Channel needs. *Transport implements
// it; tests substitute fakes.
type Bus interface {
	Send(channel string, payload json.RawMessage)
	Subscribe(channel string, h Handler) HandlerID
	Unsubscribe(channel string, opts UnsubscribeOpts)
	RemoveHandler(channel string, id HandlerID)
}

// Channel binds one channel name to a transport, so features talk to their
// own channel without carrying the name or the transport around separately.
type Channel struct {
	name string
	bus  Bus
}

// NewChannel creates a facade for `name` on `bus`.
func NewChannel(bus Bus, name string) *Channel {
	return &Channel{name: name, bus: bus}
}

// Name returns the bound channel name.
func (c *Channel) Name() string { return c.name }

// SendJSON marshals v and sends it as this channel's payload.
func (c *Channel) SendJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.bus.Send(c.name, data)
	return nil
}

// Subscribe registers h on the bound channel.
func (c *Channel) Subscribe(h Handler) HandlerID {
	return c.bus.Subscribe(c.name, h)
}

// Unsubscribe announces the unsubscription on the bound channel.
func (c *Channel) Unsubscribe(opts UnsubscribeOpts) {
	c.bus.Unsubscribe(c.name, opts)
}

// RemoveHandler unregisters a single handler from the bound channel.
func (c *Channel) RemoveHandler(id HandlerID) {
	c.bus.RemoveHandler(c.name, id)
}
