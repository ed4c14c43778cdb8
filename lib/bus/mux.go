package bus

import (
	"context"
	"fmt"
)

// HandlerFunc handles one message. The result is returned to requesters and
// discarded for fire-and-forget sends.
type HandlerFunc func(ctx context.Context, msg Message) (any, error)

type route struct {
	fn    HandlerFunc
	async bool
}

// Mux is a dispatch table keyed by channel.
type Mux struct {
	routes map[Channel]route
}

func NewMux() *Mux {
	return &Mux{routes: make(map[Channel]route)}
}

// Handle registers fn to run on the endpoint's loop. Registering a channel
// twice panics.
func (m *Mux) Handle(ch Channel, fn HandlerFunc) {
	m.add(ch, route{fn: fn})
}

// HandleAsync registers fn to run on its own goroutine, for long-running
// requests that must not stall the loop.
func (m *Mux) HandleAsync(ch Channel, fn HandlerFunc) {
	m.add(ch, route{fn: fn, async: true})
}

func (m *Mux) add(ch Channel, r route) {
	if _, dup := m.routes[ch]; dup {
		panic(fmt.Sprintf("bus: duplicate handler for %s", ch))
	}
	m.routes[ch] = r
}

// Dispatch runs the handler for msg.Channel.
func (m *Mux) Dispatch(ctx context.Context, msg Message) (any, error) {
	r, ok := m.routes[msg.Channel]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoHandler, msg.Channel)
	}
	return r.fn(ctx, msg)
}

// Channels lists registered channels.
func (m *Mux) Channels() []Channel {
	out := make([]Channel, 0, len(m.routes))
	for ch := range m.routes {
		out = append(out, ch)
	}
	return out
}

func (m *Mux) isAsync(ch Channel) bool {
	return m.routes[ch].async
}

// Decode asserts a message payload to T, accepting both values and pointers.
func Decode[T any](msg Message) (T, error) {
	switch p := msg.Payload.(type) {
	case T:
		return p, nil
	case *T:
		if p != nil {
			return *p, nil
		}
	}
	var zero T
	return zero, fmt.Errorf("%s: unexpected payload %T", msg.Channel, msg.Payload)
}
