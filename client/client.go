// Package client implements the consumer half of the event stream: a
// reconnecting SSE client with an explicit state machine, used by kiosk
// devices and operational tooling that follow a tenant's live events.
package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"gymstream/domain"
)

// State enumerates the connection lifecycle observable by the caller.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Retrying
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Retrying:
		return "retrying"
	default:
		return "unknown"
	}
}

var (
	// ErrInvalidOrgID is returned before any dial attempt when the
	// configured tenant id is missing or malformed. Retrying against a
	// guaranteed-failing configuration is never worth a request storm.
	ErrInvalidOrgID = errors.New("invalid orgId")

	// ErrInvalidLocationID is the equivalent for a malformed location
	// scope, also checked before any dial.
	ErrInvalidLocationID = errors.New("invalid locationId")

	// ErrPermanent wraps client errors (4xx) that make retrying pointless.
	ErrPermanent = errors.New("permanent stream error")

	errClosed = errors.New("client closed")
)

const (
	defaultMaxRetries   = 3
	defaultRetryInitial = 500 * time.Millisecond
	defaultRetryMax     = 10 * time.Second
)

// NoRetries disables reconnection entirely: the first failed attempt is
// final. A zero MaxRetries selects the default budget instead.
const NoRetries = -1

// Config for a stream client. OnTransition observes every state change in
// strict chronological order; OnEvent receives domain events. Both are
// invoked from the Run goroutine and suppressed after Close.
type Config struct {
	BaseURL    string
	Token      string
	OrgID      string
	LocationID string

	// MaxRetries bounds the reconnection attempts after the first. Zero
	// means the default; NoRetries gives up after one attempt.
	MaxRetries   int
	RetryInitial time.Duration
	RetryMax     time.Duration

	HTTPClient   *http.Client
	OnTransition func(State)
	OnEvent      func(domain.Event)
}

// Client maintains a best-effort live stream against the subscription
// endpoint.
type Client struct {
	cfg Config

	mu     sync.Mutex
	closed bool
	cancel context.CancelFunc
	body   io.Closer

	closeOnce sync.Once
}

func New(cfg Config) *Client {
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaultMaxRetries
	} else if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryInitial <= 0 {
		cfg.RetryInitial = defaultRetryInitial
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = defaultRetryMax
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	return &Client{cfg: cfg}
}

// Run connects and consumes the stream until the context is cancelled, the
// client is closed, a permanent error occurs or the retry budget runs out.
// It never opens a transport when the configured identifiers are invalid.
func (c *Client) Run(ctx context.Context) error {
	if !domain.ValidIdentifier(c.cfg.OrgID) {
		c.transition(Disconnected)
		return ErrInvalidOrgID
	}
	if c.cfg.LocationID != "" && !domain.ValidIdentifier(c.cfg.LocationID) {
		c.transition(Disconnected)
		return ErrInvalidLocationID
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errClosed
	}
	c.cancel = cancel
	c.mu.Unlock()

	attempt := 0
	for {
		c.transition(Connecting)
		err := c.connectOnce(ctx, &attempt)
		if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, errClosed) {
			c.transition(Disconnected)
			return nil
		}
		if errors.Is(err, ErrPermanent) {
			c.transition(Disconnected)
			return err
		}
		if attempt >= c.cfg.MaxRetries {
			c.transition(Disconnected)
			return err
		}
		attempt++
		c.transition(Retrying)
		if !c.sleep(ctx, exponentialBackoff(attempt, c.cfg.RetryInitial, c.cfg.RetryMax)) {
			c.transition(Disconnected)
			return nil
		}
	}
}

// Close tears the client down: it aborts any in-flight connection and
// suppresses all further callbacks. Safe to call repeatedly and before Run.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		cancel := c.cancel
		body := c.body
		c.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		if body != nil {
			_ = body.Close()
		}
	})
}

func (c *Client) connectOnce(ctx context.Context, attempt *int) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.streamURL(), nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPermanent, err)
	}
	req.Header.Set("Accept", "text/event-stream")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return context.Canceled
		}
		return err
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		// The status is visible here, unlike in a browser EventSource:
		// any 4xx means the configuration is wrong and retrying cannot
		// help.
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return fmt.Errorf("%w: status %d", ErrPermanent, resp.StatusCode)
		}
		return fmt.Errorf("stream unavailable: status %d", resp.StatusCode)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = resp.Body.Close()
		return errClosed
	}
	c.body = resp.Body
	c.mu.Unlock()

	c.transition(Connected)
	*attempt = 0

	readErr := c.consume(resp.Body)
	c.mu.Lock()
	c.body = nil
	closed := c.closed
	c.mu.Unlock()
	_ = resp.Body.Close()
	if closed || ctx.Err() != nil {
		return errClosed
	}
	return readErr
}

// consume reads frames until the stream ends. The server always ends the
// stream abnormally from the reader's perspective, so a clean EOF is still
// reported as a transient error.
func (c *Client) consume(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var eventName string
	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			c.dispatch(eventName, data.String())
			eventName = ""
			data.Reset()
		case strings.HasPrefix(line, "event:"):
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		case strings.HasPrefix(line, "id:"), strings.HasPrefix(line, ":"):
			// id is carried inside the event payload as well; comments
			// are ignored.
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return io.ErrUnexpectedEOF
}

func (c *Client) dispatch(eventName, data string) {
	if !domain.KnownType(eventName) {
		return
	}
	var ev domain.Event
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		return
	}
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed || c.cfg.OnEvent == nil {
		return
	}
	c.cfg.OnEvent(ev)
}

func (c *Client) transition(s State) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed || c.cfg.OnTransition == nil {
		return
	}
	c.cfg.OnTransition(s)
}

func (c *Client) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Client) streamURL() string {
	q := url.Values{}
	q.Set("orgId", c.cfg.OrgID)
	if c.cfg.LocationID != "" {
		q.Set("locationId", c.cfg.LocationID)
	}
	return strings.TrimRight(c.cfg.BaseURL, "/") + "/api/stream?" + q.Encode()
}
