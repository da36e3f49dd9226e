package control

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Tiliavir/tab-tracker/internal/runtime"
)

// Client talks to a running agent's control API.
type Client struct {
	base string
	hc   *http.Client
}

func NewClient(addr string) *Client {
	base := strings.TrimRight(addr, "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &Client{base: base, hc: &http.Client{Timeout: 30 * time.Second}}
}

// Send delivers a UI message. A reply with Success == false is not an error
// here; callers inspect it.
func (c *Client) Send(ctx context.Context, m runtime.Message) (runtime.Reply, error) {
	var rep runtime.Reply
	if err := c.do(ctx, http.MethodPost, "/v1/messages", m, &rep); err != nil {
		return runtime.Reply{}, err
	}
	return rep, nil
}

// Post delivers a browser event.
func (c *Client) Post(ctx context.Context, ev runtime.Event) error {
	var rep runtime.Reply
	if err := c.do(ctx, http.MethodPost, "/v1/events", ev, &rep); err != nil {
		return err
	}
	if !rep.Success {
		return fmt.Errorf("event rejected: %s", rep.Error)
	}
	return nil
}

// Status fetches the full status view.
func (c *Client) Status(ctx context.Context) (runtime.Status, error) {
	var st runtime.Status
	err := c.do(ctx, http.MethodGet, "/v1/status", nil, &st)
	return st, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("agent not reachable at %s (is `tabt start` running?): %w", c.base, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusNotFound {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("agent returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding agent response: %w", err)
	}
	return nil
}
