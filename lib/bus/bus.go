// Package bus is the in-process message transport between the coordinator
// and tab sessions. Every endpoint drains its inbox on one goroutine, so the
// handlers of an endpoint behave like a single-threaded event loop.
package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

var (
	ErrUnreachable  = errors.New("endpoint unreachable")
	ErrNoHandler    = errors.New("no handler for channel")
	ErrAddressInUse = errors.New("address already registered")
)

// DefaultInboxSize is the per-endpoint queue depth.
const DefaultInboxSize = 256

// Message is one envelope on the bus. Payloads are plain Go values; the
// receiver owns whatever it is handed.
type Message struct {
	ID      string
	Channel Channel
	From    Address
	To      Address
	Payload any

	reply chan response
}

type response struct {
	payload any
	err     error
}

// IsRequest reports whether the sender waits for a response.
func (m Message) IsRequest() bool { return m.reply != nil }

// Bus routes messages to registered endpoints.
type Bus struct {
	logger    *slog.Logger
	inboxSize int

	mu        sync.RWMutex
	endpoints map[Address]*Endpoint
}

type Option func(*Bus)

// WithInboxSize overrides DefaultInboxSize.
func WithInboxSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.inboxSize = n
		}
	}
}

func New(logger *slog.Logger, opts ...Option) *Bus {
	b := &Bus{
		logger:    logger,
		inboxSize: DefaultInboxSize,
		endpoints: make(map[Address]*Endpoint),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Endpoint is a registered address and its event loop.
type Endpoint struct {
	bus    *Bus
	addr   Address
	mux    *Mux
	inbox  chan Message
	done   chan struct{}
	closed atomic.Bool
	once   sync.Once
}

// Register binds addr to mux and starts its loop. The loop stops when ctx is
// cancelled or the endpoint is closed.
func (b *Bus) Register(ctx context.Context, addr Address, mux *Mux) (*Endpoint, error) {
	b.mu.Lock()
	if _, ok := b.endpoints[addr]; ok {
		b.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrAddressInUse, addr)
	}
	ep := &Endpoint{
		bus:   b,
		addr:  addr,
		mux:   mux,
		inbox: make(chan Message, b.inboxSize),
		done:  make(chan struct{}),
	}
	b.endpoints[addr] = ep
	b.mu.Unlock()

	go ep.run(ctx)
	return ep, nil
}

// Registered reports whether addr has an open endpoint.
func (b *Bus) Registered(addr Address) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.endpoints[addr]
	return ok
}

func (b *Bus) lookup(addr Address) *Endpoint {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.endpoints[addr]
}

// Send delivers a fire-and-forget message. It never blocks: a missing, closed
// or full destination yields ErrUnreachable.
func (b *Bus) Send(from, to Address, ch Channel, payload any) error {
	_, err := b.enqueue(Message{ID: uuid.NewString(), Channel: ch, From: from, To: to, Payload: payload})
	return err
}

// Request sends a message and waits for the handler's result or ctx.
func (b *Bus) Request(ctx context.Context, from, to Address, ch Channel, payload any) (any, error) {
	msg := Message{
		ID:      uuid.NewString(),
		Channel: ch,
		From:    from,
		To:      to,
		Payload: payload,
		reply:   make(chan response, 1),
	}
	ep, err := b.enqueue(msg)
	if err != nil {
		return nil, err
	}
	select {
	case r := <-msg.reply:
		return r.payload, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-ep.done:
		select {
		case r := <-msg.reply:
			return r.payload, r.err
		default:
			return nil, fmt.Errorf("%w: %s closed", ErrUnreachable, to)
		}
	}
}

func (b *Bus) enqueue(msg Message) (*Endpoint, error) {
	ep := b.lookup(msg.To)
	if ep == nil || ep.closed.Load() {
		return nil, fmt.Errorf("%w: %s", ErrUnreachable, msg.To)
	}
	select {
	case <-ep.done:
		return nil, fmt.Errorf("%w: %s closed", ErrUnreachable, msg.To)
	default:
	}
	select {
	case ep.inbox <- msg:
		return ep, nil
	default:
		return nil, fmt.Errorf("%w: %s inbox full", ErrUnreachable, msg.To)
	}
}

// Call is Request with a typed result.
func Call[T any](ctx context.Context, b *Bus, from, to Address, ch Channel, payload any) (T, error) {
	var zero T
	res, err := b.Request(ctx, from, to, ch, payload)
	if err != nil {
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	out, ok := res.(T)
	if !ok {
		return zero, fmt.Errorf("unexpected %s response type %T", ch, res)
	}
	return out, nil
}

// Address returns the endpoint's address.
func (e *Endpoint) Address() Address { return e.addr }

// Done is closed once the endpoint stops accepting messages.
func (e *Endpoint) Done() <-chan struct{} { return e.done }

// Close unregisters the endpoint. Queued requests fail with ErrUnreachable.
func (e *Endpoint) Close() {
	e.once.Do(func() {
		e.closed.Store(true)
		e.bus.mu.Lock()
		if e.bus.endpoints[e.addr] == e {
			delete(e.bus.endpoints, e.addr)
		}
		e.bus.mu.Unlock()
		close(e.done)
	})
}

func (e *Endpoint) run(ctx context.Context) {
	defer e.drain()
	for {
		select {
		case <-ctx.Done():
			e.Close()
			return
		case <-e.done:
			return
		case msg := <-e.inbox:
			if e.mux.isAsync(msg.Channel) {
				go e.handle(ctx, msg)
				continue
			}
			e.handle(ctx, msg)
		}
	}
}

func (e *Endpoint) handle(ctx context.Context, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			e.bus.logger.Error("[bus] handler panic", "addr", e.addr, "channel", msg.Channel, "panic", r)
			if msg.reply != nil {
				msg.reply <- response{err: fmt.Errorf("handler panic: %v", r)}
			}
		}
	}()
	res, err := e.mux.Dispatch(ctx, msg)
	if msg.reply != nil {
		msg.reply <- response{payload: res, err: err}
		return
	}
	if err != nil {
		e.bus.logger.Debug("[bus] handler error", "addr", e.addr, "channel", msg.Channel, "err", err)
	}
}

func (e *Endpoint) drain() {
	for {
		select {
		case msg := <-e.inbox:
			if msg.reply != nil {
				msg.reply <- response{err: fmt.Errorf("%w: %s closed", ErrUnreachable, e.addr)}
			}
		default:
			return
		}
	}
}
