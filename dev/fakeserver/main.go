// The fake server stands in for the streaming backend during development:
// it accepts envelope frames, tracks channel subscriptions per connection,
// and pushes canned lecture chatter on every subscribed chat channel.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"github.com/lectern/lectern/wire"
)

var (
	flagAddr   = flag.String("addr", "127.0.0.1:8000", "listen address, ip:port")
	flagPeriod = flag.Duration("period", 3*time.Second, "canned message period")
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

var chatter = []struct{ user, text string }{
	{"ada", "does the second integral assume convergence?"},
	{"grace", "slide 14 has a typo in the exponent"},
	{"edsger", "+1, noticed that too"},
	{"barbara", "will the recording include the Q&A?"},
	{"alan", "the bound only holds for n > 2, right?"},
}

type client struct {
	mu   sync.Mutex
	conn *websocket.Conn
	subs map[string]bool
}

func (c *client) write(env *wire.Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(3 * time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *client) subscribed(channel string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subs[channel]
}

func serve(w http.ResponseWriter, r *http.Request, nextID *int64, idMu *sync.Mutex) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Errorf("serve(): upgrade error: %v", err)
		return
	}
	c := &client{conn: conn, subs: make(map[string]bool)}
	glog.Infof("serve(): client %s connected", r.RemoteAddr)

	stop := make(chan struct{})
	go pushLoop(c, stop, nextID, idMu)

	defer func() {
		close(stop)
		conn.Close()
		glog.Infof("serve(): client %s gone", r.RemoteAddr)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		env, err := wire.DecodeEnvelope(data)
		if err != nil {
			glog.Errorf("serve(): bad frame: %v", err)
			continue
		}
		switch env.Type {
		case wire.TypeSubscribe:
			c.mu.Lock()
			c.subs[env.Channel] = true
			c.mu.Unlock()
			glog.Infof("serve(): %s subscribed `%s`", r.RemoteAddr, env.Channel)
		case wire.TypeUnsubscribe:
			c.mu.Lock()
			delete(c.subs, env.Channel)
			c.mu.Unlock()
		case wire.TypeMessage:
			// Echo posted messages back as server-minted ones.
			var in wire.NewMessage
			if err := json.Unmarshal(env.Payload, &in); err != nil || in.Message == "" {
				continue
			}
			idMu.Lock()
			*nextID++
			id := *nextID
			idMu.Unlock()
			msg := wire.ChatMessage{
				ID:       id,
				UserID:   "you",
				Username: "you",
				Message:  in.Message,
				SentAt:   time.Now(),
				Visible:  true,
			}
			if in.ReplyTo != nil {
				msg.ReplyTo = wire.NullInt64{Int64: *in.ReplyTo, Valid: true}
			}
			sendEvent(c, env.Channel, &wire.ChatEvent{Message: &msg})
		}
	}
}

func pushLoop(c *client, stop <-chan struct{}, nextID *int64, idMu *sync.Mutex) {
	ticker := time.NewTicker(*flagPeriod)
	defer ticker.Stop()

	i := 0
	viewers := int64(40)
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			channels := make([]string, 0, len(c.subs))
			for ch := range c.subs {
				channels = append(channels, ch)
			}
			c.mu.Unlock()

			for _, ch := range channels {
				line := chatter[i%len(chatter)]
				idMu.Lock()
				*nextID++
				id := *nextID
				idMu.Unlock()
				sendEvent(c, ch, &wire.ChatEvent{Message: &wire.ChatMessage{
					ID:       id,
					UserID:   line.user,
					Username: line.user,
					Message:  line.text,
					SentAt:   time.Now(),
					Visible:  true,
				}})
				viewers += int64(i%5) - 2
				sendEvent(c, ch, &wire.ChatEvent{Viewers: &wire.Viewers{Count: viewers}})
			}
			i++
		}
	}
}

func sendEvent(c *client, channel string, ev *wire.ChatEvent) {
	payload, err := ev.Encode()
	if err != nil {
		glog.Errorf("sendEvent(): encode error: %v", err)
		return
	}
	if err := c.write(wire.Message(channel, payload)); err != nil {
		glog.Errorf("sendEvent(): write error: %v", err)
	}
}

func main() {
	flag.Parse()

	var nextID int64
	var idMu sync.Mutex

	http.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		serve(w, r, &nextID, &idMu)
	})

	fmt.Printf("fake server on %s\n", *flagAddr)
	if err := http.ListenAndServe(*flagAddr, nil); err != nil {
		glog.Fatalf("listen: %v", err)
	}
}
