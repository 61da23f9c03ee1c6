// Package history loads bulk chat and poll history over the platform's REST
// API before a watch session goes live. Responses are shaped exactly like
// the live payloads, so the same wire types decode both.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/lectern/lectern/wire"
)

const requestTimeout = 15 * time.Second

// Client is the REST history client.
type Client struct {
	base   string
	header http.Header
	hc     *http.Client
}

// NewClient creates a history client for the given API base URL, e.g.
// "https://host". Header is attached to every request; both it and hc may be
// nil.
func NewClient(base string, header http.Header, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: requestTimeout}
	}
	return &Client{base: base, header: header, hc: hc}
}

// Messages fetches the full transcript of a stream, in server-assigned id
// order.
func (c *Client) Messages(ctx context.Context, streamID string) ([]wire.ChatMessage, error) {
	var out []wire.ChatMessage
	err := c.getJSON(ctx, fmt.Sprintf("%s/api/chat/%s/messages", c.base, streamID), &out)
	return out, err
}

// Polls fetches the finished polls of a stream.
func (c *Client) Polls(ctx context.Context, streamID string) ([]wire.Poll, error) {
	var out []wire.Poll
	err := c.getJSON(ctx, fmt.Sprintf("%s/api/chat/%s/polls", c.base, streamID), &out)
	return out, err
}

// ActivePoll fetches the currently running poll; (nil, nil) when there is
// none.
func (c *Client) ActivePoll(ctx context.Context, streamID string) (*wire.Poll, error) {
	var out wire.Poll
	err := c.getJSON(ctx, fmt.Sprintf("%s/api/chat/%s/polls/active", c.base, streamID), &out)
	if err == errNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

var errNotFound = fmt.Errorf("not found")

func (c *Client) getJSON(ctx context.Context, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	for k, v := range c.header {
		req.Header[k] = v
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: unexpected status %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
