// Package cdp drives Chromium over the DevTools protocol: a browser-level
// connection, the tab registry built on target discovery, capability
// injection into page targets and a document accessor for attached pages.
package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
)

const (
	DefaultCallTimeout = 30 * time.Second
	readLimit          = 100 * 1024 * 1024
	eventBuffer        = 256
)

// ErrClosed is returned for calls made on, or pending when, the connection closes.
var ErrClosed = errors.New("cdp connection closed")

// Error is a protocol-level error returned by the browser.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("cdp error %d: %s", e.Code, e.Message)
}

// Event is an unsolicited protocol message. SessionID is set for events
// raised inside an attached target.
type Event struct {
	Method    string
	Params    json.RawMessage
	SessionID string
}

type message struct {
	ID        int64           `json:"id,omitempty"`
	Method    string          `json:"method,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     *Error          `json:"error,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
}

type response struct {
	result json.RawMessage
	err    *Error
}

// Conn is a browser-level DevTools websocket. Calls are matched to
// responses by id; events fan out to subscribers.
type Conn struct {
	logger      *slog.Logger
	conn        *websocket.Conn
	logMessages bool
	callTimeout time.Duration

	msgID   atomic.Int64
	mu      sync.Mutex
	pending map[int64]chan response
	subs    map[chan Event]struct{}

	cancel    context.CancelFunc
	closeOnce sync.Once
	done      chan struct{}
}

type Option func(*Conn)

// WithMessageLogging logs every message in both directions at debug level.
func WithMessageLogging(enabled bool) Option {
	return func(c *Conn) { c.logMessages = enabled }
}

// WithCallTimeout bounds how long Call waits for a response.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Conn) {
		if d > 0 {
			c.callTimeout = d
		}
	}
}

// Dial connects to a browser-level DevTools websocket URL and starts reading.
func Dial(ctx context.Context, wsURL string, logger *slog.Logger, opts ...Option) (*Conn, error) {
	parsed, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid devtools URL: %w", err)
	}

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	ws, _, err := websocket.Dial(dialCtx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{"Host": []string{parsed.Host}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to CDP: %w", err)
	}
	ws.SetReadLimit(readLimit)

	c := &Conn{
		logger:      logger,
		conn:        ws,
		callTimeout: DefaultCallTimeout,
		pending:     make(map[int64]chan response),
		subs:        make(map[chan Event]struct{}),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	readCtx, readCancel := context.WithCancel(context.Background())
	c.cancel = readCancel
	go c.readLoop(readCtx)
	return c, nil
}

// Done is closed once the connection has stopped reading.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Close shuts the websocket down. Pending calls fail with ErrClosed.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close(websocket.StatusNormalClosure, "closing")
		c.cancel()
	})
	<-c.done
	return err
}

// Call sends method with params, optionally inside an attached session, and
// decodes the result into out when out is non-nil.
func (c *Conn) Call(ctx context.Context, method string, params any, sessionID string, out any) error {
	id := c.msgID.Add(1)

	var paramsRaw json.RawMessage
	if params != nil {
		var err error
		paramsRaw, err = json.Marshal(params)
		if err != nil {
			return fmt.Errorf("marshal params: %w", err)
		}
	}
	data, err := json.Marshal(message{ID: id, Method: method, Params: paramsRaw, SessionID: sessionID})
	if err != nil {
		return fmt.Errorf("marshal CDP message: %w", err)
	}

	resultCh := make(chan response, 1)
	c.mu.Lock()
	c.pending[id] = resultCh
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	if c.logMessages {
		c.logger.Debug("[cdp] ->", "id", id, "method", method, "session", sessionID)
	}
	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("write CDP: %w", err)
	}

	timer := time.NewTimer(c.callTimeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrClosed
	case <-timer.C:
		return fmt.Errorf("CDP call timed out: %s", method)
	case resp := <-resultCh:
		if resp.err != nil {
			return fmt.Errorf("%s: %w", method, resp.err)
		}
		if out != nil && len(resp.result) > 0 {
			if err := json.Unmarshal(resp.result, out); err != nil {
				return fmt.Errorf("unmarshal %s result: %w", method, err)
			}
		}
		return nil
	}
}

// Subscribe returns a channel receiving every event until cancel is called
// or the connection closes. Events are dropped for subscribers that fall
// behind by more than the channel buffer.
func (c *Conn) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, eventBuffer)
	c.mu.Lock()
	select {
	case <-c.done:
		c.mu.Unlock()
		close(ch)
		return ch, func() {}
	default:
	}
	c.subs[ch] = struct{}{}
	c.mu.Unlock()
	cancel := func() {
		c.mu.Lock()
		if _, ok := c.subs[ch]; ok {
			delete(c.subs, ch)
			close(ch)
		}
		c.mu.Unlock()
	}
	return ch, cancel
}

func (c *Conn) readLoop(ctx context.Context) {
	defer func() {
		c.mu.Lock()
		close(c.done)
		for ch := range c.subs {
			delete(c.subs, ch)
			close(ch)
		}
		c.mu.Unlock()
	}()

	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil && websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				c.logger.Error("[cdp] read error", "err", err)
			}
			return
		}

		var msg message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Error("[cdp] unmarshal error", "err", err)
			continue
		}

		if msg.ID > 0 {
			if c.logMessages {
				c.logger.Debug("[cdp] <-", "id", msg.ID, "error", msg.Error != nil)
			}
			c.mu.Lock()
			ch, ok := c.pending[msg.ID]
			c.mu.Unlock()
			if ok {
				ch <- response{result: msg.Result, err: msg.Error}
			}
			continue
		}

		if c.logMessages {
			c.logger.Debug("[cdp] <- event", "method", msg.Method, "session", msg.SessionID)
		}
		c.publish(Event{Method: msg.Method, Params: msg.Params, SessionID: msg.SessionID})
	}
}

func (c *Conn) publish(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for ch := range c.subs {
		select {
		case ch <- ev:
		default:
			c.logger.Warn("[cdp] subscriber behind, dropping event", "method", ev.Method)
		}
	}
}
