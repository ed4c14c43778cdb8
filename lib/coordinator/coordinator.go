// Package coordinator is the central context of scroll sync. It owns the
// group registry and answers every UI and tab channel on the bus.
package coordinator

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/bus"
	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/clock"
	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/kvstore"
	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/notice"
	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/override"
	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/registry"
	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/relay"
	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/scrollsync"
	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/supervisor"
)

const (
	DefaultRetention     = 30 * time.Second
	DefaultPurgeInterval = 10 * time.Second
)

// Connector establishes sync in tabs; *supervisor.Supervisor implements it.
type Connector interface {
	Connect(ctx context.Context, tabs []scrollsync.TabID) supervisor.Result
}

// Observer receives status snapshots and notices as they happen.
type Observer interface {
	StatusChanged(status bus.StatusResponse)
	Notice(n *notice.Notice)
}

type nopObserver struct{}

func (nopObserver) StatusChanged(bus.StatusResponse) {}
func (nopObserver) Notice(*notice.Notice)            {}

type Options struct {
	Clock         clock.Clock
	Retention     time.Duration
	PurgeInterval time.Duration
	Observer      Observer
}

type Coordinator struct {
	bus       *bus.Bus
	connector Connector
	kv        kvstore.Store
	offsets   *override.Store
	registry  *registry.Registry
	relay     *relay.Relay
	clock     clock.Clock
	opts      Options
	observer  Observer
	logger    *slog.Logger

	endpoint *bus.Endpoint

	mu          sync.RWMutex
	statuses    map[scrollsync.TabID]bus.TabStatus
	manual      map[scrollsync.TabID]bool
	pending     map[scrollsync.TabID]string
	expectedNav map[scrollsync.TabID]string
}

func New(b *bus.Bus, connector Connector, kv kvstore.Store, opts Options, logger *slog.Logger) *Coordinator {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.PurgeInterval <= 0 {
		opts.PurgeInterval = DefaultPurgeInterval
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	c := &Coordinator{
		bus:         b,
		connector:   connector,
		kv:          kv,
		offsets:     override.NewStore(kv),
		clock:       opts.Clock,
		opts:        opts,
		observer:    opts.Observer,
		logger:      logger,
		statuses:    make(map[scrollsync.TabID]bus.TabStatus),
		manual:      make(map[scrollsync.TabID]bool),
		pending:     make(map[scrollsync.TabID]string),
		expectedNav: make(map[scrollsync.TabID]string),
	}
	c.registry = registry.New(notifier{c}, opts.Clock, logger)
	c.relay = relay.New(c.registry, deliverer{c}, c.scheduleRemoval, logger)
	return c
}

// Registry exposes the group records for read access.
func (c *Coordinator) Registry() *registry.Registry { return c.registry }

// Start registers the coordinator on the bus and starts the purge loop. Both
// stop when ctx is cancelled.
func (c *Coordinator) Start(ctx context.Context) error {
	ep, err := c.bus.Register(ctx, bus.Coordinator, c.mux())
	if err != nil {
		return err
	}
	c.endpoint = ep
	go c.purgeLoop(ctx)
	c.logger.Info("[coordinator] started", "retention", c.opts.Retention)
	return nil
}

// Done is closed once the coordinator's endpoint has stopped.
func (c *Coordinator) Done() <-chan struct{} { return c.endpoint.Done() }

func (c *Coordinator) mux() *bus.Mux {
	m := bus.NewMux()
	m.HandleAsync(bus.SyncStart, c.handleStart)
	m.HandleAsync(bus.SyncStop, c.handleStop)
	m.HandleAsync(bus.SyncGetStatus, c.handleStatus)
	m.HandleAsync(bus.SyncResync, c.handleResync)
	m.HandleAsync(bus.SyncAddTab, c.handleAddTab)
	m.Handle(bus.SyncRemoveTab, c.handleRemoveTab)
	m.Handle(bus.SyncModeChanged, c.handleModeChanged)
	m.Handle(bus.SyncURLEnabled, c.handleURLEnabled)
	m.Handle(bus.ScrollSync, c.handleScrollSync)
	m.Handle(bus.ScrollManual, c.handleManual)
	m.Handle(bus.OffsetGet, c.handleOffsetGet)
	m.Handle(bus.OffsetClear, c.handleOffsetClear)
	m.Handle(bus.TabUnreachable, c.handleUnreachable)
	m.Handle(bus.BrowserTabClosed, c.handleTabClosed)
	m.Handle(bus.BrowserTabNavigated, c.handleTabNavigated)
	return m
}

func (c *Coordinator) purgeLoop(ctx context.Context) {
	ticker := time.NewTicker(c.opts.PurgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Purge()
		}
	}
}

// Purge drops inactive groups past retention and forgets tabs that are no
// longer in any group.
func (c *Coordinator) Purge() int {
	n := c.registry.Purge(c.opts.Retention)
	known := make(map[scrollsync.TabID]bool)
	for _, g := range c.registry.List() {
		for _, t := range g.MemberTabIDs {
			known[t] = true
		}
	}
	c.mu.Lock()
	for tab := range c.statuses {
		if !known[tab] {
			delete(c.statuses, tab)
		}
	}
	c.mu.Unlock()
	if n > 0 {
		c.logger.Debug("[coordinator] purged inactive groups", "count", n)
	}
	return n
}

func (c *Coordinator) setStatus(tab scrollsync.TabID, status scrollsync.ConnectionStatus, reason string) {
	c.mu.Lock()
	st := c.statuses[tab]
	st.Status = status
	st.Error = reason
	c.statuses[tab] = st
	c.mu.Unlock()
}

func (c *Coordinator) forgetTab(tab scrollsync.TabID) {
	c.mu.Lock()
	delete(c.statuses, tab)
	delete(c.manual, tab)
	delete(c.pending, tab)
	delete(c.expectedNav, tab)
	c.mu.Unlock()
}

// Status builds the current status snapshot.
func (c *Coordinator) Status() bus.StatusResponse {
	groups := c.registry.List()
	res := bus.StatusResponse{
		ConnectedTabs:      []scrollsync.TabID{},
		ConnectionStatuses: make(map[scrollsync.TabID]bus.TabStatus),
		Groups:             groups,
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	for tab, st := range c.statuses {
		st.ManualOverride = c.manual[tab]
		res.ConnectionStatuses[tab] = st
	}
	for _, g := range groups {
		if !g.IsActive {
			continue
		}
		// The newest active group is the headline group.
		res.IsActive = true
		res.GroupID = g.ID
		res.Mode = g.Mode
		res.URLSyncEnabled = g.URLSyncEnabled
		for _, tab := range g.MemberTabIDs {
			if c.statuses[tab].Status == scrollsync.StatusConnected {
				res.ConnectedTabs = append(res.ConnectedTabs, tab)
			}
		}
	}
	slices.Sort(res.ConnectedTabs)
	res.ConnectedTabs = slices.Compact(res.ConnectedTabs)
	return res
}

func (c *Coordinator) publish() {
	c.observer.StatusChanged(c.Status())
}

func (c *Coordinator) send(tab scrollsync.TabID, ch bus.Channel, payload any) error {
	return c.bus.Send(bus.Coordinator, bus.TabAddress(tab), ch, payload)
}

// scheduleRemoval queues tab for removal from group on the coordinator's
// loop. Repeated failures for the same tab queue it once.
func (c *Coordinator) scheduleRemoval(groupID string, tab scrollsync.TabID, err error) {
	c.mu.Lock()
	if _, queued := c.pending[tab]; queued {
		c.mu.Unlock()
		return
	}
	c.pending[tab] = groupID
	c.mu.Unlock()

	c.logger.Warn("[coordinator] tab unreachable, scheduling removal", "tab", tab, "group", groupID, "err", err)
	if sendErr := c.bus.Send(bus.Coordinator, bus.Coordinator, bus.TabUnreachable, bus.TabEvent{TabID: tab, GroupID: groupID}); sendErr != nil {
		c.logger.Error("[coordinator] could not queue removal", "tab", tab, "err", sendErr)
	}
}

// notifier turns registry changes into tab messages.
type notifier struct{ c *Coordinator }

func (n notifier) GroupUpdated(g scrollsync.SyncGroup) {
	for _, tab := range g.MemberTabIDs {
		if err := n.c.send(tab, bus.GroupUpdated, g.Clone()); err != nil {
			n.c.scheduleRemoval(g.ID, tab, err)
		}
	}
	n.c.publish()
}

func (n notifier) TabsReleased(g scrollsync.SyncGroup, tabs []scrollsync.TabID) {
	c := n.c
	for _, tab := range tabs {
		if err := c.send(tab, bus.SyncStopped, bus.StoppedPayload{GroupID: g.ID}); err != nil {
			c.logger.Debug("[coordinator] stop notice not delivered", "tab", tab, "err", err)
		}
		if _, still := c.registry.ActiveGroupOf(tab); still {
			continue
		}
		c.mu.Lock()
		delete(c.manual, tab)
		if st, ok := c.statuses[tab]; ok && st.Status == scrollsync.StatusConnected {
			st.Status = scrollsync.StatusDisconnected
			c.statuses[tab] = st
		}
		c.mu.Unlock()
		if err := c.offsets.Clear(context.Background(), tab); err != nil {
			c.logger.Warn("[coordinator] failed to clear offset", "tab", tab, "err", err)
		}
	}
	c.publish()
}

// deliverer hands relay instructions to tab endpoints.
type deliverer struct{ c *Coordinator }

func (d deliverer) Deliver(_ context.Context, tab scrollsync.TabID, inst scrollsync.Instruction) error {
	return d.c.send(tab, bus.ScrollApply, bus.ApplyPayload{Instruction: inst})
}
