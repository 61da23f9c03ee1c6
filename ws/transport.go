// Package ws implements the client side of the realtime connection: one
// websocket per process, multiplexed into named channels.
package ws

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
	"github.com/pborman/uuid"

	"github.com/lectern/lectern/wire"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 3 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = 20 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 25 * time.Second

	// websocket max message size to read.
	readLimit = 65536

	// outbound buffer; envelopes beyond it are dropped, delivery is best
	// effort anyway.
	sendBuffer = 256

	// reconnect delays double per attempt; cap the shift so the duration
	// cannot overflow.
	maxRetryShift = 24
)

const (
	// DefaultRetryDelay is the delay before the first reconnect attempt. It
	// doubles on every further consecutive failure.
	DefaultRetryDelay = time.Second

	// DefaultMaxSessionAge is how long after construction the transport keeps
	// reconnecting. An older session is treated as a stale tab and stays
	// offline for good.
	DefaultMaxSessionAge = 12 * time.Hour
)

type connState int

const (
	stateDisconnected connState = iota
	stateConnecting
	stateConnected
)

// Handler consumes the payload of one inbound frame on a channel.
type Handler func(payload json.RawMessage)

// Config configures a Transport.
type Config struct {
	// URL is the websocket endpoint, e.g. "wss://host/api/realtime".
	URL string

	// Header is sent on dial (cookies, auth tokens).
	Header http.Header

	// RetryDelay is the initial reconnect delay. Zero means DefaultRetryDelay.
	RetryDelay time.Duration

	// MaxSessionAge caps how long reconnects are attempted after
	// construction. Zero means DefaultMaxSessionAge.
	MaxSessionAge time.Duration
}

type dialFunc func(url string, header http.Header) (*websocket.Conn, error)

// Transport owns the single realtime connection of the process and
// multiplexes it into named channels. It is constructed explicitly at the
// composition root and injected where needed; there is no package-level
// instance.
//
// The connection is established lazily on the first Send or Subscribe. After
// an unexpected close the transport redials with doubling delays, but it
// does not re-subscribe channels: owners subscribe again from their own
// re-init path, hooked on OnReconnect. Guessing which channels are still
// wanted after a long disconnect is not this layer's call.
type Transport struct {
	mu sync.Mutex

	conf     Config
	clientID string

	// injection points, swapped by tests.
	dial  dialFunc
	now   func() time.Time
	after func(time.Duration, func()) *time.Timer

	state         connState
	dialing       bool // a connect() holds the dial; all others bounce off
	conn          *websocket.Conn
	sendCh        chan *wire.Envelope
	connDone      chan struct{}
	pending       []*wire.Envelope
	reg           *registry
	startedAt     time.Time
	attempt       uint
	everConnected bool
	stale         bool
	closed        bool

	onState     func(connected bool)
	onReconnect func()
}

// NewTransport creates a disconnected Transport; the connection is dialed on
// first use.
func NewTransport(conf Config) *Transport {
	if conf.RetryDelay <= 0 {
		conf.RetryDelay = DefaultRetryDelay
	}
	if conf.MaxSessionAge <= 0 {
		conf.MaxSessionAge = DefaultMaxSessionAge
	}
	t := &Transport{
		conf:     conf,
		clientID: strings.ReplaceAll(uuid.New(), "-", ""),
		now:      time.Now,
		after:    time.AfterFunc,
		reg:      newRegistry(),
	}
	t.dial = dialWebsocket
	t.startedAt = t.now()
	return t
}

func dialWebsocket(url string, header http.Header) (*websocket.Conn, error) {
	dialer := &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.Dial(url, header)
	return conn, err
}

// OnStateChange registers f, called with true after a connect and false
// after a disconnect. UIs surface the false case as a "disconnected" banner;
// nothing else about connectivity is observable by callers.
func (t *Transport) OnStateChange(f func(connected bool)) {
	t.mu.Lock()
	t.onState = f
	t.mu.Unlock()
}

// OnReconnect registers f, called after every re-established connection (not
// the first one). Channel owners re-subscribe from here.
func (t *Transport) OnReconnect(f func()) {
	t.mu.Lock()
	t.onReconnect = f
	t.mu.Unlock()
}

// Send writes a message envelope to `channel`. Delivery is best effort: the
// connection is established lazily if absent and queued envelopes are
// flushed after connect, but if no connection can be established the
// envelope is dropped with a log. The caller is never notified.
func (t *Transport) Send(channel string, payload json.RawMessage) {
	t.enqueue(wire.Message(channel, payload))
}

// Subscribe registers `h` for `channel` and announces the subscription to
// the server. A channel may have any number of handlers; they run in
// registration order.
func (t *Transport) Subscribe(channel string, h Handler) HandlerID {
	id := t.reg.add(channel, h)
	t.enqueue(wire.Subscribe(channel))
	return id
}

// UnsubscribeOpts controls Unsubscribe.
type UnsubscribeOpts struct {
	// KeepHandlers leaves the channel's handlers registered, so a later
	// Subscribe resumes delivery to them.
	KeepHandlers bool
}

// Unsubscribe announces the unsubscription and, unless opts.KeepHandlers is
// set, drops every handler registered for `channel`. Safe to call at any
// time, including from within a handler of the same channel.
func (t *Transport) Unsubscribe(channel string, opts UnsubscribeOpts) {
	if !opts.KeepHandlers {
		t.reg.drop(channel)
	}
	t.enqueue(wire.Unsubscribe(channel))
}

// RemoveHandler unregisters a single handler. Safe to call from within the
// handler itself; the handler is not invoked again, not even for the frame
// currently being dispatched.
func (t *Transport) RemoveHandler(channel string, id HandlerID) {
	t.reg.del(channel, id)
}

// Connected reports whether a connection is currently established.
func (t *Transport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state == stateConnected
}

// Close shuts the transport down for good; no reconnect follows.
func (t *Transport) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	conn := t.conn
	t.conn = nil
	if t.connDone != nil {
		close(t.connDone)
		t.connDone = nil
	}
	t.sendCh = nil
	t.state = stateDisconnected
	t.pending = nil
	t.mu.Unlock()

	if conn != nil {
		conn.SetWriteDeadline(t.now().Add(writeWait))
		_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
		conn.Close()
	}
}

func (t *Transport) enqueue(env *wire.Envelope) {
	t.mu.Lock()
	if t.closed || t.stale {
		t.mu.Unlock()
		framesDropped.Inc()
		return
	}
	switch t.state {
	case stateConnected:
		ch := t.sendCh
		t.mu.Unlock()
		select {
		case ch <- env:
		default:
			glog.Errorf("enqueue(): send buffer full, dropping `%s` frame for channel `%s`", env.Type, env.Channel)
			framesDropped.Inc()
		}
	case stateConnecting:
		t.pending = append(t.pending, env)
		t.mu.Unlock()
	default:
		// lazy init.
		t.pending = append(t.pending, env)
		t.state = stateConnecting
		t.mu.Unlock()
		go t.connect()
	}
}

// connect dials and installs the connection. Single-flight: whichever caller
// reaches it first (lazy init, armed retry, racing Send during a teardown)
// does the dial, the rest return immediately. The transport never holds more
// than one live connection.
func (t *Transport) connect() {
	t.mu.Lock()
	if t.closed || t.stale || t.dialing || t.state == stateConnected {
		t.mu.Unlock()
		return
	}
	t.dialing = true
	t.state = stateConnecting
	url := t.conf.URL
	header := http.Header{}
	for k, v := range t.conf.Header {
		header[k] = v
	}
	header.Set("X-Client-Id", t.clientID)
	dial := t.dial
	t.mu.Unlock()

	conn, err := dial(url, header)
	if err != nil {
		glog.Errorf("connect(): dial `%s` error: %v", url, err)
		t.mu.Lock()
		t.dialing = false
		t.mu.Unlock()
		t.scheduleReconnect()
		return
	}

	t.mu.Lock()
	t.dialing = false
	if t.closed || t.conn != nil {
		// Closed mid-dial, or a connection raced in; this one is superseded.
		t.mu.Unlock()
		conn.Close()
		return
	}
	t.conn = conn
	t.state = stateConnected
	t.attempt = 0
	reconnected := t.everConnected
	t.everConnected = true
	ch := make(chan *wire.Envelope, sendBuffer)
	done := make(chan struct{})
	t.sendCh = ch
	t.connDone = done
	// Flush everything queued during lazy init / redial, in call order, while
	// still holding the lock: once the connected state is visible, enqueue
	// writes to `ch` directly and must land behind the backlog.
	for _, env := range t.pending {
		select {
		case ch <- env:
		default:
			glog.Errorf("connect(): send buffer full, dropping queued `%s` frame for channel `%s`", env.Type, env.Channel)
			framesDropped.Inc()
		}
	}
	t.pending = nil
	onState := t.onState
	onReconnect := t.onReconnect
	t.mu.Unlock()

	glog.Infof("connect(): connected to `%s`", url)

	go t.sendLoop(conn, ch, done)
	go t.recvLoop(conn)

	if onState != nil {
		onState(true)
	}
	if reconnected && onReconnect != nil {
		onReconnect()
	}
}

// dropConn tears down `conn` after a read/write failure and arms a redial.
// No-op if the connection was already superseded or Close was called.
func (t *Transport) dropConn(conn *websocket.Conn) {
	t.mu.Lock()
	if t.closed || t.conn != conn {
		t.mu.Unlock()
		return
	}
	t.conn = nil
	t.state = stateDisconnected
	close(t.connDone)
	t.connDone = nil
	t.sendCh = nil
	onState := t.onState
	t.mu.Unlock()

	conn.Close()
	if onState != nil {
		onState(false)
	}
	t.scheduleReconnect()
}

// scheduleReconnect arms the next connect attempt. The delay starts at
// RetryDelay and doubles per consecutive failure. Once the transport is
// older than MaxSessionAge no further attempts are made.
func (t *Transport) scheduleReconnect() {
	t.mu.Lock()
	if t.closed || t.stale || t.dialing || t.state == stateConnected {
		// Another caller is already dialing or succeeded; its failure path
		// schedules its own retry.
		t.mu.Unlock()
		return
	}
	if t.now().Sub(t.startedAt) > t.conf.MaxSessionAge {
		t.stale = true
		t.state = stateDisconnected
		t.pending = nil
		t.mu.Unlock()
		glog.Errorf("scheduleReconnect(): session older than %v, giving up", t.conf.MaxSessionAge)
		return
	}
	t.attempt++
	delay := retryDelay(t.conf.RetryDelay, t.attempt)
	t.state = stateConnecting
	after := t.after
	attempt := t.attempt
	t.mu.Unlock()

	reconnects.Inc()
	glog.Infof("scheduleReconnect(): attempt %d in %v", attempt, delay)
	after(delay, t.connect)
}

// retryDelay returns the delay before attempt n (1-based): initial·2^(n−1).
func retryDelay(initial time.Duration, attempt uint) time.Duration {
	shift := attempt - 1
	if shift > maxRetryShift {
		shift = maxRetryShift
	}
	return initial << shift
}

func (t *Transport) sendLoop(conn *websocket.Conn, ch <-chan *wire.Envelope, done <-chan struct{}) {
	pingTicker := time.NewTicker(pingPeriod)
	defer func() {
		pingTicker.Stop()
		glog.V(5).Info("sendLoop(): exited")
	}()

	for {
		select {
		case <-done:
			return
		case env := <-ch:
			data, err := env.Encode()
			if err != nil {
				glog.Errorf("sendLoop(): encode error: %v", err)
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				glog.Errorf("sendLoop(): write error: %v", err)
				t.dropConn(conn)
				return
			}
			framesSent.Inc()
		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				glog.Errorf("sendLoop(): ping error: %v", err)
				t.dropConn(conn)
				return
			}
		}
	}
}

func (t *Transport) recvLoop(conn *websocket.Conn) {
	defer glog.V(5).Info("recvLoop(): exited")

	conn.SetReadLimit(readLimit)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.mu.Lock()
			closed := t.closed
			t.mu.Unlock()
			if !closed {
				glog.Errorf("recvLoop(): read error: %v", err)
			}
			t.dropConn(conn)
			return
		}
		framesReceived.Inc()
		glog.V(5).Infof("recvLoop(): incoming frame: %s", string(data))
		t.dispatch(data)
	}
}

// dispatch routes one inbound frame to the handlers of its channel, in
// registration order. A malformed frame is dropped; a panicking handler is
// logged and skipped so it cannot block its siblings or other channels.
func (t *Transport) dispatch(data []byte) {
	env, err := wire.DecodeEnvelope(data)
	if err != nil {
		glog.Errorf("dispatch(): malformed frame: %v", err)
		framesDropped.Inc()
		return
	}

	entries := t.reg.snapshot(env.Channel)
	if len(entries) == 0 {
		glog.V(5).Infof("dispatch(): no handler for channel `%s`", env.Channel)
		return
	}
	for _, e := range entries {
		// A handler removed while this frame is in flight, possibly by an
		// earlier handler in the same list, must not run.
		if !t.reg.alive(env.Channel, e.id) {
			continue
		}
		t.invoke(env.Channel, e, env.Payload)
	}
}

func (t *Transport) invoke(channel string, e entry, payload json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			handlerPanics.Inc()
			glog.Errorf("dispatch(): handler %d on channel `%s` panicked: %v", e.id, channel, r)
		}
	}()
	e.fn(payload)
}
