// Package hub serves the coordinator to UI clients over WebSocket. Clients
// send requests on coordinator channels and receive their results, plus
// pushed status snapshots and notices.
package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/bus"
	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/notice"
)

const (
	readLimit    = 1 << 20
	sendBuffer   = 32
	writeTimeout = 5 * time.Second
)

// Requester performs a UI request; *coordinator.Client implements it.
type Requester interface {
	Do(ctx context.Context, ch bus.Channel, payload json.RawMessage) (any, error)
}

// Hub implements coordinator.Observer by broadcasting to every connected
// client. A client that cannot keep up misses pushed events.
type Hub struct {
	requester Requester
	logger    *slog.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
	last    []byte
}

type client struct {
	send chan []byte
}

func New(requester Requester, logger *slog.Logger) *Hub {
	return &Hub{
		requester: requester,
		logger:    logger,
		clients:   make(map[*client]struct{}),
	}
}

// StatusChanged pushes a status snapshot. New clients receive the latest one
// on connect.
func (h *Hub) StatusChanged(status bus.StatusResponse) {
	data, ok := h.marshal(ServerMessage{Channel: ChannelStatus, Result: status})
	if !ok {
		return
	}
	h.mu.Lock()
	h.last = data
	h.mu.Unlock()
	h.broadcast(data)
}

func (h *Hub) Notice(n *notice.Notice) {
	if n == nil {
		return
	}
	if data, ok := h.marshal(ServerMessage{Channel: ChannelNotice, Result: n}); ok {
		h.broadcast(data)
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) broadcast(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.offer(data)
	}
}

func (c *client) offer(data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (h *Hub) marshal(msg ServerMessage) ([]byte, bool) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("[hub] marshal message", "channel", msg.Channel, "err", err)
		return nil, false
	}
	return data, true
}

func (h *Hub) register() *client {
	c := &client{send: make(chan []byte, sendBuffer)}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.last != nil {
		c.offer(h.last)
	}
	h.clients[c] = struct{}{}
	return c
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// ServeHTTP upgrades the connection to WebSocket and serves the client until
// it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("[hub] websocket accept failed", "err", err)
		return
	}
	conn.SetReadLimit(readLimit)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := h.register()
	defer h.unregister(c)
	h.logger.Info("[hub] client connected", "remote", r.RemoteAddr)

	go h.writeLoop(ctx, cancel, conn, c)

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			h.logger.Debug("[hub] client read error", "err", err)
			break
		}
		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.reply(c, errorMsg("", ChannelError, "invalid message format"))
			continue
		}
		if msg.Channel == "" {
			h.reply(c, errorMsg(msg.ID, ChannelError, "channel is required"))
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.handle(ctx, c, msg)
		}()
	}
	cancel()
	_ = conn.Close(websocket.StatusNormalClosure, "")
	h.logger.Info("[hub] client disconnected", "remote", r.RemoteAddr)
}

func (h *Hub) handle(ctx context.Context, c *client, msg ClientMessage) {
	result, err := h.requester.Do(ctx, msg.Channel, msg.Payload)
	if err != nil {
		h.reply(c, errorMsg(msg.ID, string(msg.Channel), err.Error()))
		return
	}
	h.reply(c, resultMsg(msg.ID, msg.Channel, result))
}

func (h *Hub) reply(c *client, msg ServerMessage) {
	data, ok := h.marshal(msg)
	if !ok {
		return
	}
	if !c.offer(data) {
		h.logger.Warn("[hub] client send buffer full, response dropped", "id", msg.ID, "channel", msg.Channel)
	}
}

func (h *Hub) writeLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, c *client) {
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-c.send:
			wctx, wcancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Write(wctx, websocket.MessageText, data)
			wcancel()
			if err != nil {
				h.logger.Debug("[hub] write to client failed", "err", err)
				return
			}
		}
	}
}
