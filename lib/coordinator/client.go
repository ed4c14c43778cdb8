package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/bus"
	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/notice"
	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/scrollsync"
)

// UIAddress is the bus address UI requests are sent from.
const UIAddress bus.Address = "ui"

const DefaultStopTimeout = time.Second

var ErrUnknownChannel = errors.New("unknown channel")

// Client is the UI side of the coordinator. It is shared by the REST API and
// the WebSocket hub.
type Client struct {
	bus         *bus.Bus
	stopTimeout time.Duration
	logger      *slog.Logger
}

func NewClient(b *bus.Bus, stopTimeout time.Duration, logger *slog.Logger) *Client {
	if stopTimeout <= 0 {
		stopTimeout = DefaultStopTimeout
	}
	return &Client{bus: b, stopTimeout: stopTimeout, logger: logger}
}

func (c *Client) Start(ctx context.Context, req bus.StartRequest) (bus.StartResponse, error) {
	return bus.Call[bus.StartResponse](ctx, c.bus, UIAddress, bus.Coordinator, bus.SyncStart, req)
}

// Stop asks the coordinator to stop the groups of the given tabs, or every
// active group when none are given. When the coordinator does not answer
// within the stop timeout the stop is still reported as successful, with a
// warning notice.
func (c *Client) Stop(ctx context.Context, req bus.StopRequest) (bus.StopResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.stopTimeout)
	defer cancel()
	res, err := bus.Call[bus.StopResponse](callCtx, c.bus, UIAddress, bus.Coordinator, bus.SyncStop, req)
	if err == nil {
		return res, nil
	}
	if ctx.Err() != nil {
		return bus.StopResponse{}, ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, bus.ErrUnreachable) {
		c.logger.Warn("[client] stop did not complete", "err", err)
		return bus.StopResponse{
			Success: true,
			Notice:  notice.Warning("Sync stopped locally; some tabs may not have been notified"),
		}, nil
	}
	return bus.StopResponse{}, err
}

func (c *Client) Status(ctx context.Context) (bus.StatusResponse, error) {
	return bus.Call[bus.StatusResponse](ctx, c.bus, UIAddress, bus.Coordinator, bus.SyncGetStatus, nil)
}

func (c *Client) Resync(ctx context.Context, groupID string) (bus.StartResponse, error) {
	return bus.Call[bus.StartResponse](ctx, c.bus, UIAddress, bus.Coordinator, bus.SyncResync, bus.ResyncRequest{GroupID: groupID})
}

func (c *Client) SetMode(ctx context.Context, groupID string, mode scrollsync.Mode) (scrollsync.SyncGroup, error) {
	return bus.Call[scrollsync.SyncGroup](ctx, c.bus, UIAddress, bus.Coordinator, bus.SyncModeChanged, bus.ModeRequest{GroupID: groupID, Mode: mode})
}

// SetURLSync sets URL sync on one group, or on every active group when
// groupID is empty, and returns the updated groups.
func (c *Client) SetURLSync(ctx context.Context, groupID string, enabled bool) ([]scrollsync.SyncGroup, error) {
	return bus.Call[[]scrollsync.SyncGroup](ctx, c.bus, UIAddress, bus.Coordinator, bus.SyncURLEnabled, bus.URLSyncRequest{GroupID: groupID, Enabled: enabled})
}

func (c *Client) AddTab(ctx context.Context, groupID string, tab scrollsync.TabID) (scrollsync.SyncGroup, error) {
	return bus.Call[scrollsync.SyncGroup](ctx, c.bus, UIAddress, bus.Coordinator, bus.SyncAddTab, bus.MembershipRequest{GroupID: groupID, TabID: tab})
}

func (c *Client) RemoveTab(ctx context.Context, groupID string, tab scrollsync.TabID) (scrollsync.SyncGroup, error) {
	return bus.Call[scrollsync.SyncGroup](ctx, c.bus, UIAddress, bus.Coordinator, bus.SyncRemoveTab, bus.MembershipRequest{GroupID: groupID, TabID: tab})
}

func (c *Client) Offset(ctx context.Context, tab scrollsync.TabID) (scrollsync.ManualOffset, error) {
	return bus.Call[scrollsync.ManualOffset](ctx, c.bus, UIAddress, bus.Coordinator, bus.OffsetGet, bus.OffsetRequest{TabID: tab})
}

func (c *Client) ClearOffset(ctx context.Context, tab scrollsync.TabID) error {
	_, err := bus.Call[bus.Ack](ctx, c.bus, UIAddress, bus.Coordinator, bus.OffsetClear, bus.OffsetRequest{TabID: tab})
	return err
}

// Do decodes a JSON payload for a UI channel and performs the request.
func (c *Client) Do(ctx context.Context, ch bus.Channel, payload json.RawMessage) (any, error) {
	switch ch {
	case bus.SyncStart:
		req, err := decodePayload[bus.StartRequest](payload)
		if err != nil {
			return nil, err
		}
		return c.Start(ctx, req)
	case bus.SyncStop:
		req, err := decodePayload[bus.StopRequest](payload)
		if err != nil {
			return nil, err
		}
		return c.Stop(ctx, req)
	case bus.SyncGetStatus:
		return c.Status(ctx)
	case bus.SyncResync:
		req, err := decodePayload[bus.ResyncRequest](payload)
		if err != nil {
			return nil, err
		}
		return c.Resync(ctx, req.GroupID)
	case bus.SyncModeChanged:
		req, err := decodePayload[bus.ModeRequest](payload)
		if err != nil {
			return nil, err
		}
		return c.SetMode(ctx, req.GroupID, req.Mode)
	case bus.SyncURLEnabled:
		req, err := decodePayload[bus.URLSyncRequest](payload)
		if err != nil {
			return nil, err
		}
		return c.SetURLSync(ctx, req.GroupID, req.Enabled)
	case bus.SyncAddTab:
		req, err := decodePayload[bus.MembershipRequest](payload)
		if err != nil {
			return nil, err
		}
		return c.AddTab(ctx, req.GroupID, req.TabID)
	case bus.SyncRemoveTab:
		req, err := decodePayload[bus.MembershipRequest](payload)
		if err != nil {
			return nil, err
		}
		return c.RemoveTab(ctx, req.GroupID, req.TabID)
	case bus.OffsetGet:
		req, err := decodePayload[bus.OffsetRequest](payload)
		if err != nil {
			return nil, err
		}
		return c.Offset(ctx, req.TabID)
	case bus.OffsetClear:
		req, err := decodePayload[bus.OffsetRequest](payload)
		if err != nil {
			return nil, err
		}
		if err := c.ClearOffset(ctx, req.TabID); err != nil {
			return nil, err
		}
		return bus.Ack{Success: true}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownChannel, ch)
	}
}

// ErrBadPayload wraps payloads that do not decode into the channel's request.
var ErrBadPayload = errors.New("invalid payload")

func decodePayload[T any](payload json.RawMessage) (T, error) {
	var v T
	if len(payload) == 0 || string(payload) == "null" {
		return v, nil
	}
	if err := json.Unmarshal(payload, &v); err != nil {
		return v, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	return v, nil
}
