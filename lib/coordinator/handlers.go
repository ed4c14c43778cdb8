package coordinator

import (
	"context"
	"errors"
	"fmt"

	"github.com/samber/lo"

	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/bus"
	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/notice"
	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/registry"
	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/scrollsync"
)

var ErrTabNotConnected = errors.New("tab could not be connected")

func (c *Coordinator) handleStart(ctx context.Context, msg bus.Message) (any, error) {
	req, err := bus.Decode[bus.StartRequest](msg)
	if err != nil {
		return nil, err
	}
	return c.start(ctx, req), nil
}

func (c *Coordinator) start(ctx context.Context, req bus.StartRequest) bus.StartResponse {
	prefs, err := loadPreferences(ctx, c.kv)
	if err != nil {
		c.logger.Warn("[coordinator] failed to load preferences", "err", err)
	}
	mode := req.Mode
	if mode == "" {
		mode = prefs.Mode
	}
	urlSync := prefs.URLSyncEnabled
	if req.URLSync != nil {
		urlSync = *req.URLSync
	}
	tabs := lo.Uniq(lo.Compact(req.TabIDs))

	res := bus.StartResponse{
		ConnectedTabs:     []scrollsync.TabID{},
		ConnectionResults: map[scrollsync.TabID]scrollsync.ConnectionResult{},
	}
	if !mode.Valid() {
		res.Error = fmt.Sprintf("%s: %q", registry.ErrInvalidMode, mode)
		res.Notice = notice.Error("Unknown sync mode %q", mode)
		return res
	}
	if len(tabs) < scrollsync.MinGroupSize {
		res.Error = registry.ErrTooFewTabs.Error()
		res.Notice = notice.Error("Select at least %d tabs to sync", scrollsync.MinGroupSize).WithRetry()
		c.observer.Notice(res.Notice)
		return res
	}

	for _, tab := range tabs {
		c.setStatus(tab, scrollsync.StatusConnecting, "")
	}
	c.publish()

	result := c.connector.Connect(ctx, tabs)
	for tab, r := range result.ConnectionResults {
		if r.Success {
			c.setStatus(tab, scrollsync.StatusConnected, "")
		} else {
			c.setStatus(tab, scrollsync.StatusError, r.Error)
		}
	}
	res.ConnectedTabs = result.ConnectedTabs
	res.ConnectionResults = result.ConnectionResults
	res.Notice = notice.ForConnection(result.ConnectedTabs, result.ConnectionResults)
	defer func() {
		c.observer.Notice(res.Notice)
		c.publish()
	}()

	if !result.Success {
		res.Error = "not enough tabs connected: " + notice.FailureSummary(result.ConnectionResults)
		return res
	}

	g, err := c.registry.Create(result.ConnectedTabs, mode, urlSync)
	if err != nil {
		res.Error = err.Error()
		res.Notice = notice.Error("Could not start sync: %v", err).WithRetry()
		return res
	}
	for _, tab := range g.MemberTabIDs {
		c.sendStarted(ctx, g, tab)
	}

	prefs = Preferences{Mode: mode, URLSyncEnabled: urlSync, SelectedTabIDs: tabs}
	if err := savePreferences(ctx, c.kv, prefs); err != nil {
		c.logger.Warn("[coordinator] failed to save preferences", "err", err)
	}

	res.Success = true
	res.GroupID = g.ID
	c.logger.Info("[coordinator] sync started", "group", g.ID, "tabs", g.MemberTabIDs, "mode", mode)
	return res
}

// sendStarted (re)starts tab in g. The tab's session leaves any override on
// receipt, so the coordinator forgets it here too.
func (c *Coordinator) sendStarted(ctx context.Context, g scrollsync.SyncGroup, tab scrollsync.TabID) {
	c.mu.Lock()
	delete(c.manual, tab)
	c.mu.Unlock()
	off, err := c.offsets.Load(ctx, tab)
	if err != nil {
		c.logger.Warn("[coordinator] failed to load offset", "tab", tab, "err", err)
	}
	if err := c.send(tab, bus.SyncStarted, bus.StartedPayload{Group: g.Clone(), Offset: off}); err != nil {
		c.scheduleRemoval(g.ID, tab, err)
	}
}

func (c *Coordinator) handleStop(_ context.Context, msg bus.Message) (any, error) {
	req, err := bus.Decode[bus.StopRequest](msg)
	if err != nil {
		return nil, err
	}
	var ids []string
	if len(req.TabIDs) == 0 {
		for _, g := range c.registry.List() {
			if g.IsActive {
				ids = append(ids, g.ID)
			}
		}
	} else {
		for _, tab := range req.TabIDs {
			if g, ok := c.registry.ActiveGroupOf(tab); ok {
				ids = append(ids, g.ID)
			}
		}
	}
	for _, id := range lo.Uniq(ids) {
		if _, err := c.registry.Stop(id); err != nil {
			c.logger.Warn("[coordinator] stop failed", "group", id, "err", err)
		}
	}
	n := notice.Info("Sync stopped")
	c.observer.Notice(n)
	return bus.StopResponse{Success: true, Notice: n}, nil
}

func (c *Coordinator) handleStatus(context.Context, bus.Message) (any, error) {
	return c.Status(), nil
}

func (c *Coordinator) handleResync(ctx context.Context, msg bus.Message) (any, error) {
	req, err := bus.Decode[bus.ResyncRequest](msg)
	if err != nil {
		return nil, err
	}
	g, ok := c.registry.Get(req.GroupID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", registry.ErrGroupNotFound, req.GroupID)
	}
	if g.IsActive {
		return nil, fmt.Errorf("%w: %s", registry.ErrGroupActive, req.GroupID)
	}
	c.registry.Delete(g.ID)
	urlSync := g.URLSyncEnabled
	return c.start(ctx, bus.StartRequest{TabIDs: g.MemberTabIDs, Mode: g.Mode, URLSync: &urlSync}), nil
}

func (c *Coordinator) handleAddTab(ctx context.Context, msg bus.Message) (any, error) {
	req, err := bus.Decode[bus.MembershipRequest](msg)
	if err != nil {
		return nil, err
	}
	g, ok := c.registry.Get(req.GroupID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", registry.ErrGroupNotFound, req.GroupID)
	}
	if !g.IsActive {
		return nil, fmt.Errorf("%w: %s", registry.ErrGroupInactive, req.GroupID)
	}

	c.setStatus(req.TabID, scrollsync.StatusConnecting, "")
	result := c.connector.Connect(ctx, []scrollsync.TabID{req.TabID})
	if r := result.ConnectionResults[req.TabID]; !r.Success {
		c.setStatus(req.TabID, scrollsync.StatusError, r.Error)
		c.publish()
		return nil, fmt.Errorf("%w: %s", ErrTabNotConnected, r.Error)
	}
	c.setStatus(req.TabID, scrollsync.StatusConnected, "")

	g, err = c.registry.AddTab(req.GroupID, req.TabID)
	if err != nil {
		return nil, err
	}
	c.sendStarted(ctx, g, req.TabID)
	return g, nil
}

func (c *Coordinator) handleRemoveTab(_ context.Context, msg bus.Message) (any, error) {
	req, err := bus.Decode[bus.MembershipRequest](msg)
	if err != nil {
		return nil, err
	}
	return c.registry.RemoveTab(req.GroupID, req.TabID)
}

func (c *Coordinator) handleModeChanged(ctx context.Context, msg bus.Message) (any, error) {
	req, err := bus.Decode[bus.ModeRequest](msg)
	if err != nil {
		return nil, err
	}
	g, err := c.registry.UpdateMode(req.GroupID, req.Mode)
	if err != nil {
		return nil, err
	}
	c.updatePreferences(ctx, func(p *Preferences) { p.Mode = g.Mode })
	return g, nil
}

// handleURLEnabled applies the flag to one group, or to every active group
// when no id is given.
func (c *Coordinator) handleURLEnabled(ctx context.Context, msg bus.Message) (any, error) {
	req, err := bus.Decode[bus.URLSyncRequest](msg)
	if err != nil {
		return nil, err
	}
	ids := []string{req.GroupID}
	if req.GroupID == "" {
		ids = nil
		for _, g := range c.registry.List() {
			if g.IsActive {
				ids = append(ids, g.ID)
			}
		}
	}
	updated := make([]scrollsync.SyncGroup, 0, len(ids))
	for _, id := range ids {
		g, err := c.registry.SetURLSync(id, req.Enabled)
		if err != nil {
			return nil, err
		}
		updated = append(updated, g)
	}
	c.updatePreferences(ctx, func(p *Preferences) { p.URLSyncEnabled = req.Enabled })
	return updated, nil
}

func (c *Coordinator) updatePreferences(ctx context.Context, fn func(*Preferences)) {
	p, err := loadPreferences(ctx, c.kv)
	if err != nil {
		c.logger.Warn("[coordinator] failed to load preferences", "err", err)
	}
	fn(&p)
	if err := savePreferences(ctx, c.kv, p); err != nil {
		c.logger.Warn("[coordinator] failed to save preferences", "err", err)
	}
}

func (c *Coordinator) handleScrollSync(ctx context.Context, msg bus.Message) (any, error) {
	sample, err := bus.Decode[scrollsync.ScrollSample](msg)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	overriding := c.manual[sample.SourceTabID]
	if st, ok := c.statuses[sample.SourceTabID]; ok {
		st.LastSampleAt = c.clock.Now()
		c.statuses[sample.SourceTabID] = st
	}
	c.mu.Unlock()
	if overriding {
		return nil, nil
	}
	c.relay.Relay(ctx, sample)
	return nil, nil
}

func (c *Coordinator) handleManual(_ context.Context, msg bus.Message) (any, error) {
	req, err := bus.Decode[bus.ManualRequest](msg)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	if req.Enabled {
		c.manual[req.TabID] = true
	} else {
		delete(c.manual, req.TabID)
	}
	c.mu.Unlock()
	c.publish()
	return nil, nil
}

func (c *Coordinator) handleOffsetGet(ctx context.Context, msg bus.Message) (any, error) {
	req, err := bus.Decode[bus.OffsetRequest](msg)
	if err != nil {
		return nil, err
	}
	return c.offsets.Load(ctx, req.TabID)
}

// handleOffsetClear drops the tab's offset and restarts it in its group so
// the session forgets the old value too.
func (c *Coordinator) handleOffsetClear(ctx context.Context, msg bus.Message) (any, error) {
	req, err := bus.Decode[bus.OffsetRequest](msg)
	if err != nil {
		return nil, err
	}
	if err := c.offsets.Clear(ctx, req.TabID); err != nil {
		return nil, err
	}
	if g, ok := c.registry.ActiveGroupOf(req.TabID); ok {
		c.sendStarted(ctx, g, req.TabID)
		c.publish()
	}
	return bus.Ack{Success: true}, nil
}

func (c *Coordinator) handleUnreachable(_ context.Context, msg bus.Message) (any, error) {
	ev, err := bus.Decode[bus.TabEvent](msg)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	delete(c.pending, ev.TabID)
	c.mu.Unlock()

	if g, ok := c.registry.Get(ev.GroupID); ok && g.HasMember(ev.TabID) {
		if _, err := c.registry.RemoveTab(ev.GroupID, ev.TabID); err != nil {
			return nil, err
		}
	}
	c.setStatus(ev.TabID, scrollsync.StatusDisconnected, "tab unreachable")
	c.publish()
	return nil, nil
}

func (c *Coordinator) handleTabClosed(_ context.Context, msg bus.Message) (any, error) {
	ev, err := bus.Decode[bus.TabEvent](msg)
	if err != nil {
		return nil, err
	}
	left := c.registry.RemoveTabEverywhere(ev.TabID)
	c.forgetTab(ev.TabID)
	if len(left) > 0 {
		c.logger.Info("[coordinator] closed tab left its groups", "tab", ev.TabID, "groups", left)
	}
	c.publish()
	return nil, nil
}

// handleTabNavigated follows a navigation: with URL sync on, the other
// members are sent to the same URL; otherwise the tab leaves its group.
// Navigations the coordinator itself requested are not propagated again.
func (c *Coordinator) handleTabNavigated(_ context.Context, msg bus.Message) (any, error) {
	ev, err := bus.Decode[bus.TabEvent](msg)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	expected, wasExpected := c.expectedNav[ev.TabID]
	if wasExpected {
		delete(c.expectedNav, ev.TabID)
	}
	c.mu.Unlock()
	if wasExpected && scrollsync.SamePage(expected, ev.URL) {
		return nil, nil
	}

	g, ok := c.registry.ActiveGroupOf(ev.TabID)
	if !ok {
		return nil, nil
	}
	if !g.URLSyncEnabled {
		c.logger.Info("[coordinator] tab navigated away, leaving group", "tab", ev.TabID, "group", g.ID, "url", ev.URL)
		_, err := c.registry.RemoveTab(g.ID, ev.TabID)
		return nil, err
	}

	for _, tab := range lo.Without(g.MemberTabIDs, ev.TabID) {
		c.mu.Lock()
		c.expectedNav[tab] = ev.URL
		c.mu.Unlock()
		if err := c.send(tab, bus.URLNavigate, bus.NavigatePayload{URL: ev.URL}); err != nil {
			c.scheduleRemoval(g.ID, tab, err)
		}
	}
	return nil, nil
}
