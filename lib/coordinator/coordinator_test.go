package coordinator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/bus"
	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/clock"
	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/kvstore"
	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/notice"
	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/override"
	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/registry"
	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/scrollsync"
	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/supervisor"
)

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeBrowser connects tabs that have an endpoint and are not marked failing.
type fakeBrowser struct {
	mu   sync.Mutex
	fail map[scrollsync.TabID]string
	tabs map[scrollsync.TabID]bool
}

func (f *fakeBrowser) TabExists(_ context.Context, tab scrollsync.TabID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tabs[tab], nil
}

func (f *fakeBrowser) Inject(_ context.Context, tab scrollsync.TabID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if reason, ok := f.fail[tab]; ok {
		return errors.New(reason)
	}
	return nil
}

// fakeTab records everything the coordinator sends to one tab.
type fakeTab struct {
	mu   sync.Mutex
	msgs []bus.Message
	ep   *bus.Endpoint
}

func (f *fakeTab) record(_ context.Context, msg bus.Message) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msg)
	return nil, nil
}

func (f *fakeTab) on(ch bus.Channel) []bus.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []bus.Message
	for _, m := range f.msgs {
		if m.Channel == ch {
			out = append(out, m)
		}
	}
	return out
}

type recordingObserver struct {
	mu      sync.Mutex
	notices []*notice.Notice
}

func (o *recordingObserver) StatusChanged(bus.StatusResponse) {}

func (o *recordingObserver) Notice(n *notice.Notice) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.notices = append(o.notices, n)
}

type harness struct {
	t        *testing.T
	bus      *bus.Bus
	kv       *kvstore.Memory
	clk      *clock.Fake
	browser  *fakeBrowser
	observer *recordingObserver
	coord    *Coordinator
	tabs     map[scrollsync.TabID]*fakeTab
}

func newHarness(t *testing.T, tabs ...scrollsync.TabID) *harness {
	t.Helper()
	h := &harness{
		t:        t,
		bus:      bus.New(silentLogger()),
		kv:       kvstore.NewMemory(),
		clk:      clock.NewFake(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)),
		browser:  &fakeBrowser{fail: map[scrollsync.TabID]string{}, tabs: map[scrollsync.TabID]bool{}},
		observer: &recordingObserver{},
		tabs:     map[scrollsync.TabID]*fakeTab{},
	}
	sup := supervisor.New(h.browser, h.browser, time.Second, silentLogger())
	h.coord = New(h.bus, sup, h.kv, Options{Clock: h.clk, Observer: h.observer}, silentLogger())
	require.NoError(t, h.coord.Start(t.Context()))

	for _, id := range tabs {
		h.addTab(id)
	}
	return h
}

func (h *harness) addTab(id scrollsync.TabID) *fakeTab {
	ft := &fakeTab{}
	mux := bus.NewMux()
	for _, ch := range []bus.Channel{bus.SyncStarted, bus.SyncStopped, bus.GroupUpdated, bus.ScrollApply, bus.URLNavigate} {
		mux.Handle(ch, ft.record)
	}
	mux.Handle(bus.SessionState, func(context.Context, bus.Message) (any, error) { return nil, nil })
	ep, err := h.bus.Register(h.t.Context(), bus.TabAddress(id), mux)
	require.NoError(h.t, err)
	ft.ep = ep
	h.browser.mu.Lock()
	h.browser.tabs[id] = true
	h.browser.mu.Unlock()
	h.tabs[id] = ft
	return ft
}

// settle waits until the coordinator loop and every tab loop have handled
// what was queued before the call.
func (h *harness) settle() {
	h.t.Helper()
	_, err := h.bus.Request(h.t.Context(), "test", bus.Coordinator, bus.OffsetGet, bus.OffsetRequest{TabID: "none"})
	require.NoError(h.t, err)
	for id, ft := range h.tabs {
		select {
		case <-ft.ep.Done():
			continue
		default:
		}
		_, err := h.bus.Request(h.t.Context(), "test", bus.TabAddress(id), bus.SessionState, nil)
		require.NoError(h.t, err)
	}
}

func (h *harness) start(req bus.StartRequest) bus.StartResponse {
	h.t.Helper()
	res, err := bus.Call[bus.StartResponse](h.t.Context(), h.bus, "test", bus.Coordinator, bus.SyncStart, req)
	require.NoError(h.t, err)
	h.settle()
	return res
}

func (h *harness) stop(tabs ...scrollsync.TabID) bus.StopResponse {
	h.t.Helper()
	res, err := bus.Call[bus.StopResponse](h.t.Context(), h.bus, "test", bus.Coordinator, bus.SyncStop, bus.StopRequest{TabIDs: tabs})
	require.NoError(h.t, err)
	h.settle()
	return res
}

func (h *harness) status() bus.StatusResponse {
	h.t.Helper()
	st, err := bus.Call[bus.StatusResponse](h.t.Context(), h.bus, "test", bus.Coordinator, bus.SyncGetStatus, nil)
	require.NoError(h.t, err)
	return st
}

func (h *harness) sendFrom(tab scrollsync.TabID, ch bus.Channel, payload any) {
	h.t.Helper()
	require.NoError(h.t, h.bus.Send(bus.TabAddress(tab), bus.Coordinator, ch, payload))
	h.settle()
}

func tabs(ids ...scrollsync.TabID) []scrollsync.TabID { return ids }

func TestStartCreatesGroupAndNotifiesMembers(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "A", "B")

	res := h.start(bus.StartRequest{TabIDs: tabs("A", "B"), Mode: scrollsync.ModeElement, CurrentTabID: "A"})
	require.True(t, res.Success)
	require.NotEmpty(t, res.GroupID)
	assert.Equal(t, tabs("A", "B"), res.ConnectedTabs)
	assert.Equal(t, notice.SeverityInfo, res.Notice.Severity)

	for _, id := range tabs("A", "B") {
		started := h.tabs[id].on(bus.SyncStarted)
		require.Len(t, started, 1)
		p := started[0].Payload.(bus.StartedPayload)
		assert.Equal(t, res.GroupID, p.Group.ID)
		assert.Equal(t, scrollsync.ModeElement, p.Group.Mode)
		assert.Equal(t, id, p.Offset.TabID)
	}

	st := h.status()
	assert.True(t, st.IsActive)
	assert.Equal(t, res.GroupID, st.GroupID)
	assert.Equal(t, tabs("A", "B"), st.ConnectedTabs)
	assert.Equal(t, scrollsync.StatusConnected, st.ConnectionStatuses["A"].Status)

	prefs, err := loadPreferences(t.Context(), h.kv)
	require.NoError(t, err)
	assert.Equal(t, scrollsync.ModeElement, prefs.Mode)
	assert.Equal(t, tabs("A", "B"), prefs.SelectedTabIDs)
}

func TestStartWithPartialConnectionFailure(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "A", "B", "C")
	h.browser.fail["C"] = "cannot access chrome:// pages"

	res := h.start(bus.StartRequest{TabIDs: tabs("A", "B", "C")})
	assert.True(t, res.Success)
	assert.Equal(t, tabs("A", "B"), res.ConnectedTabs)
	assert.False(t, res.ConnectionResults["C"].Success)
	assert.Equal(t, notice.SeverityWarning, res.Notice.Severity)
	assert.Contains(t, res.Notice.Message, "chrome://")

	st := h.status()
	assert.Equal(t, scrollsync.StatusError, st.ConnectionStatuses["C"].Status)
	assert.Empty(t, h.tabs["C"].on(bus.SyncStarted))
}

func TestStartWithTooFewTabs(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "A", "B")

	res := h.start(bus.StartRequest{TabIDs: tabs("A")})
	assert.False(t, res.Success)
	assert.Equal(t, notice.SeverityError, res.Notice.Severity)
	assert.Equal(t, notice.ActionRetry, res.Notice.Action)
	assert.Empty(t, res.ConnectionResults)

	h.browser.fail["B"] = "restricted"
	res = h.start(bus.StartRequest{TabIDs: tabs("A", "B")})
	assert.False(t, res.Success)
	assert.Equal(t, notice.ActionRetry, res.Notice.Action)
	assert.True(t, res.ConnectionResults["A"].Success)
	assert.False(t, h.status().IsActive)
}

func TestRelayNeverEchoesToSource(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "A", "B")
	res := h.start(bus.StartRequest{TabIDs: tabs("A", "B")})
	require.True(t, res.Success)

	h.sendFrom("A", bus.ScrollSync, scrollsync.ScrollSample{SourceTabID: "A", ScrollTop: 500, ScrollHeight: 2000, ClientHeight: 1000})

	applied := h.tabs["B"].on(bus.ScrollApply)
	require.Len(t, applied, 1)
	inst := applied[0].Payload.(bus.ApplyPayload).Instruction
	assert.InDelta(t, 0.5, inst.Ratio, 1e-9)
	assert.Equal(t, res.GroupID, inst.GroupID)
	assert.Empty(t, h.tabs["A"].on(bus.ScrollApply))
	assert.False(t, h.status().ConnectionStatuses["A"].LastSampleAt.IsZero())
}

func TestClosedTabDropsGroupBelowMinimum(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "A", "B")
	res := h.start(bus.StartRequest{TabIDs: tabs("A", "B")})
	require.True(t, res.Success)

	h.tabs["A"].ep.Close()
	h.sendFrom("browser", bus.BrowserTabClosed, bus.TabEvent{TabID: "A"})

	stopped := h.tabs["B"].on(bus.SyncStopped)
	require.Len(t, stopped, 1)
	assert.Equal(t, res.GroupID, stopped[0].Payload.(bus.StoppedPayload).GroupID)

	g, ok := h.coord.Registry().Get(res.GroupID)
	require.True(t, ok)
	assert.False(t, g.IsActive)
	assert.False(t, h.status().IsActive)

	h.sendFrom("B", bus.ScrollSync, scrollsync.ScrollSample{SourceTabID: "B", ScrollTop: 10, ScrollHeight: 100, ClientHeight: 50})
	assert.Empty(t, h.tabs["B"].on(bus.ScrollApply))
}

func TestStopIsIdempotent(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "A", "B")
	res := h.start(bus.StartRequest{TabIDs: tabs("A", "B")})
	require.True(t, res.Success)

	assert.True(t, h.stop("A", "B").Success)
	assert.True(t, h.stop("A", "B").Success)

	g, ok := h.coord.Registry().Get(res.GroupID)
	require.True(t, ok, "stopped groups are retained")
	assert.False(t, g.IsActive)
	assert.Len(t, h.tabs["A"].on(bus.SyncStopped), 1)
	assert.Len(t, h.tabs["B"].on(bus.SyncStopped), 1)
	assert.Equal(t, scrollsync.StatusDisconnected, h.status().ConnectionStatuses["A"].Status)
}

func TestUnreachableTabIsRemovedFromGroup(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "A", "B", "C")
	res := h.start(bus.StartRequest{TabIDs: tabs("A", "B", "C")})
	require.True(t, res.Success)

	h.tabs["C"].ep.Close()
	h.sendFrom("A", bus.ScrollSync, scrollsync.ScrollSample{SourceTabID: "A", ScrollTop: 100, ScrollHeight: 1100, ClientHeight: 100})

	require.Eventually(t, func() bool {
		g, _ := h.coord.Registry().Get(res.GroupID)
		return len(g.MemberTabIDs) == 2
	}, 2*time.Second, 5*time.Millisecond)
	g, _ := h.coord.Registry().Get(res.GroupID)
	assert.True(t, g.IsActive)
	assert.Equal(t, tabs("A", "B"), g.MemberTabIDs)
	assert.Len(t, h.tabs["B"].on(bus.ScrollApply), 1)
}

func TestManualOverrideTabIsNotRelayed(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "A", "B")
	require.True(t, h.start(bus.StartRequest{TabIDs: tabs("A", "B")}).Success)

	h.sendFrom("A", bus.ScrollManual, bus.ManualRequest{TabID: "A", Enabled: true})
	assert.True(t, h.status().ConnectionStatuses["A"].ManualOverride)

	h.sendFrom("A", bus.ScrollSync, scrollsync.ScrollSample{SourceTabID: "A", ScrollTop: 10, ScrollHeight: 100, ClientHeight: 50})
	assert.Empty(t, h.tabs["B"].on(bus.ScrollApply))

	h.sendFrom("A", bus.ScrollManual, bus.ManualRequest{TabID: "A", Enabled: false})
	assert.False(t, h.status().ConnectionStatuses["A"].ManualOverride)
}

func TestRestartForgetsManualOverride(t *testing.T) {
	t.Parallel()
	sample := scrollsync.ScrollSample{SourceTabID: "A", ScrollTop: 250, ScrollHeight: 1500, ClientHeight: 1000}

	t.Run("offset clear", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, "A", "B")
		require.True(t, h.start(bus.StartRequest{TabIDs: tabs("A", "B")}).Success)
		h.sendFrom("A", bus.ScrollManual, bus.ManualRequest{TabID: "A", Enabled: true})

		_, err := bus.Call[bus.Ack](t.Context(), h.bus, "test", bus.Coordinator, bus.OffsetClear, bus.OffsetRequest{TabID: "A"})
		require.NoError(t, err)
		h.settle()
		assert.False(t, h.status().ConnectionStatuses["A"].ManualOverride)

		h.sendFrom("A", bus.ScrollSync, sample)
		assert.Len(t, h.tabs["B"].on(bus.ScrollApply), 1)
	})

	t.Run("moved to a new group", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, "A", "B", "C")
		require.True(t, h.start(bus.StartRequest{TabIDs: tabs("A", "B")}).Success)
		h.sendFrom("A", bus.ScrollManual, bus.ManualRequest{TabID: "A", Enabled: true})

		require.True(t, h.start(bus.StartRequest{TabIDs: tabs("A", "C")}).Success)
		assert.False(t, h.status().ConnectionStatuses["A"].ManualOverride)

		h.sendFrom("A", bus.ScrollSync, sample)
		assert.Len(t, h.tabs["C"].on(bus.ScrollApply), 1)
		assert.Empty(t, h.tabs["B"].on(bus.ScrollApply))
	})
}

func TestNavigationWithoutURLSyncLeavesGroup(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "A", "B")
	res := h.start(bus.StartRequest{TabIDs: tabs("A", "B")})
	require.True(t, res.Success)

	h.sendFrom("browser", bus.BrowserTabNavigated, bus.TabEvent{TabID: "A", URL: "https://example.com/other"})
	g, _ := h.coord.Registry().Get(res.GroupID)
	assert.False(t, g.IsActive)
	assert.Empty(t, h.tabs["B"].on(bus.URLNavigate))
}

func TestNavigationWithURLSyncFollows(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "A", "B", "C")
	urlSync := true
	res := h.start(bus.StartRequest{TabIDs: tabs("A", "B", "C"), URLSync: &urlSync})
	require.True(t, res.Success)

	h.sendFrom("browser", bus.BrowserTabNavigated, bus.TabEvent{TabID: "A", URL: "https://example.com/next"})
	for _, id := range tabs("B", "C") {
		nav := h.tabs[id].on(bus.URLNavigate)
		require.Len(t, nav, 1)
		assert.Equal(t, "https://example.com/next", nav[0].Payload.(bus.NavigatePayload).URL)
	}

	// B and C arriving at the requested page do not bounce back to A.
	h.sendFrom("browser", bus.BrowserTabNavigated, bus.TabEvent{TabID: "B", URL: "https://example.com/next#top"})
	h.sendFrom("browser", bus.BrowserTabNavigated, bus.TabEvent{TabID: "C", URL: "https://example.com/next"})
	assert.Empty(t, h.tabs["A"].on(bus.URLNavigate))

	g, _ := h.coord.Registry().Get(res.GroupID)
	assert.True(t, g.IsActive)
	assert.Len(t, g.MemberTabIDs, 3)
}

func TestModeAndURLSyncChangesBroadcast(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "A", "B")
	res := h.start(bus.StartRequest{TabIDs: tabs("A", "B")})
	require.True(t, res.Success)

	g, err := bus.Call[scrollsync.SyncGroup](t.Context(), h.bus, "test", bus.Coordinator, bus.SyncModeChanged, bus.ModeRequest{GroupID: res.GroupID, Mode: scrollsync.ModeElement})
	require.NoError(t, err)
	assert.Equal(t, scrollsync.ModeElement, g.Mode)

	groups, err := bus.Call[[]scrollsync.SyncGroup](t.Context(), h.bus, "test", bus.Coordinator, bus.SyncURLEnabled, bus.URLSyncRequest{Enabled: true})
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.True(t, groups[0].URLSyncEnabled)
	h.settle()

	for _, id := range tabs("A", "B") {
		updates := h.tabs[id].on(bus.GroupUpdated)
		require.Len(t, updates, 2)
		assert.Equal(t, scrollsync.ModeElement, updates[0].Payload.(scrollsync.SyncGroup).Mode)
		assert.True(t, updates[1].Payload.(scrollsync.SyncGroup).URLSyncEnabled)
	}

	// Saved choices become the defaults of the next start.
	h.stop()
	res = h.start(bus.StartRequest{TabIDs: tabs("A", "B")})
	require.True(t, res.Success)
	g, _ = h.coord.Registry().Get(res.GroupID)
	assert.Equal(t, scrollsync.ModeElement, g.Mode)
	assert.True(t, g.URLSyncEnabled)
}

func TestResyncRestartsRetainedGroup(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "A", "B")
	first := h.start(bus.StartRequest{TabIDs: tabs("A", "B"), Mode: scrollsync.ModeElement})
	require.True(t, first.Success)
	h.stop()

	res, err := bus.Call[bus.StartResponse](t.Context(), h.bus, "test", bus.Coordinator, bus.SyncResync, bus.ResyncRequest{GroupID: first.GroupID})
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.NotEqual(t, first.GroupID, res.GroupID)

	_, ok := h.coord.Registry().Get(first.GroupID)
	assert.False(t, ok)
	g, _ := h.coord.Registry().Get(res.GroupID)
	assert.Equal(t, scrollsync.ModeElement, g.Mode)

	_, err = h.bus.Request(t.Context(), "test", bus.Coordinator, bus.SyncResync, bus.ResyncRequest{GroupID: "missing"})
	require.Error(t, err)
}

func TestResyncRejectsActiveGroup(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "A", "B")
	offsets := override.NewStore(h.kv)
	require.NoError(t, offsets.Save(t.Context(), scrollsync.ManualOffset{TabID: "A", OffsetRatio: 0.2}))
	res := h.start(bus.StartRequest{TabIDs: tabs("A", "B")})
	require.True(t, res.Success)

	_, err := h.bus.Request(t.Context(), "test", bus.Coordinator, bus.SyncResync, bus.ResyncRequest{GroupID: res.GroupID})
	require.ErrorIs(t, err, registry.ErrGroupActive)
	h.settle()

	g, ok := h.coord.Registry().Get(res.GroupID)
	require.True(t, ok)
	assert.True(t, g.IsActive)
	assert.Empty(t, h.tabs["A"].on(bus.SyncStopped))
	off, err := offsets.Load(t.Context(), "A")
	require.NoError(t, err)
	assert.Equal(t, 0.2, off.OffsetRatio)
}

func TestAddAndRemoveTab(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "A", "B", "C")
	res := h.start(bus.StartRequest{TabIDs: tabs("A", "B")})
	require.True(t, res.Success)

	g, err := bus.Call[scrollsync.SyncGroup](t.Context(), h.bus, "test", bus.Coordinator, bus.SyncAddTab, bus.MembershipRequest{GroupID: res.GroupID, TabID: "C"})
	require.NoError(t, err)
	assert.Equal(t, tabs("A", "B", "C"), g.MemberTabIDs)
	h.settle()
	assert.Len(t, h.tabs["C"].on(bus.SyncStarted), 1)

	h.browser.fail["D"] = "restricted"
	_, err = h.bus.Request(t.Context(), "test", bus.Coordinator, bus.SyncAddTab, bus.MembershipRequest{GroupID: res.GroupID, TabID: "D"})
	require.ErrorIs(t, err, ErrTabNotConnected)

	g, err = bus.Call[scrollsync.SyncGroup](t.Context(), h.bus, "test", bus.Coordinator, bus.SyncRemoveTab, bus.MembershipRequest{GroupID: res.GroupID, TabID: "C"})
	require.NoError(t, err)
	assert.Equal(t, tabs("A", "B"), g.MemberTabIDs)
	h.settle()
	assert.Len(t, h.tabs["C"].on(bus.SyncStopped), 1)
}

func TestOffsetsClearedWhenTabLeavesAllGroups(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "A", "B")
	offsets := override.NewStore(h.kv)
	require.NoError(t, offsets.Save(t.Context(), scrollsync.ManualOffset{TabID: "A", OffsetRatio: 0.2}))

	require.True(t, h.start(bus.StartRequest{TabIDs: tabs("A", "B")}).Success)
	started := h.tabs["A"].on(bus.SyncStarted)
	require.Len(t, started, 1)
	assert.Equal(t, 0.2, started[0].Payload.(bus.StartedPayload).Offset.OffsetRatio)

	off, err := bus.Call[scrollsync.ManualOffset](t.Context(), h.bus, "test", bus.Coordinator, bus.OffsetGet, bus.OffsetRequest{TabID: "A"})
	require.NoError(t, err)
	assert.Equal(t, 0.2, off.OffsetRatio)

	h.stop()
	_, err = h.kv.Get(t.Context(), override.Key("A"))
	require.ErrorIs(t, err, kvstore.ErrNotFound)
}

func TestOffsetClearRestartsTab(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "A", "B")
	offsets := override.NewStore(h.kv)
	require.NoError(t, offsets.Save(t.Context(), scrollsync.ManualOffset{TabID: "A", OffsetRatio: -0.3}))
	require.True(t, h.start(bus.StartRequest{TabIDs: tabs("A", "B")}).Success)

	ack, err := bus.Call[bus.Ack](t.Context(), h.bus, "test", bus.Coordinator, bus.OffsetClear, bus.OffsetRequest{TabID: "A"})
	require.NoError(t, err)
	assert.True(t, ack.Success)
	h.settle()

	started := h.tabs["A"].on(bus.SyncStarted)
	require.Len(t, started, 2)
	assert.Equal(t, 0.0, started[1].Payload.(bus.StartedPayload).Offset.OffsetRatio)
}

func TestPurgeDropsExpiredGroups(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "A", "B")
	res := h.start(bus.StartRequest{TabIDs: tabs("A", "B")})
	require.True(t, res.Success)
	h.stop()

	h.clk.Advance(10 * time.Second)
	assert.Equal(t, 0, h.coord.Purge())
	h.clk.Advance(25 * time.Second)
	assert.Equal(t, 1, h.coord.Purge())

	_, ok := h.coord.Registry().Get(res.GroupID)
	assert.False(t, ok)
	assert.Empty(t, h.status().ConnectionStatuses)
}

func TestStartMovesTabsOutOfOtherGroups(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "A", "B", "C")
	first := h.start(bus.StartRequest{TabIDs: tabs("A", "B")})
	require.True(t, first.Success)
	second := h.start(bus.StartRequest{TabIDs: tabs("B", "C")})
	require.True(t, second.Success)

	g, _ := h.coord.Registry().Get(first.GroupID)
	assert.False(t, g.IsActive)
	assert.Len(t, h.tabs["A"].on(bus.SyncStopped), 1)

	st := h.status()
	assert.Equal(t, second.GroupID, st.GroupID)
	assert.Equal(t, tabs("B", "C"), st.ConnectedTabs)
	assert.Equal(t, scrollsync.StatusDisconnected, st.ConnectionStatuses["A"].Status)
}
