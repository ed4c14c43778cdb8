// Package agent hosts one tab session per injected tab. It is the
// connection supervisor's view of the browser: it checks that tabs exist,
// injects the content shim, starts sessions on the bus and routes browser
// events to them and to the coordinator.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	retry "github.com/avast/retry-go/v5"

	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/bus"
	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/cdp"
	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/clock"
	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/document"
	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/override"
	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/scrollsync"
	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/tabsession"
)

// Address is the bus address the agent sends from.
const Address bus.Address = "agent"

const injectAttempts = 2

// Page is an attached tab.
type Page interface {
	document.Accessor
	tabsession.Navigator
	SessionID() string
}

// Attacher injects the content shim into a tab.
type Attacher interface {
	Attach(ctx context.Context, tab scrollsync.TabID) (Page, error)
	Detach(ctx context.Context, sessionID string) error
}

// Tabs is the browser tab registry.
type Tabs interface {
	TabExists(ctx context.Context, tab scrollsync.TabID) (bool, error)
	Events() <-chan cdp.TabEvent
}

// Events is the stream of raw protocol events carrying shim reports.
type Events interface {
	Subscribe() (<-chan cdp.Event, func())
}

type injectorAttacher struct{ inj *cdp.Injector }

// FromInjector adapts a CDP injector to Attacher.
func FromInjector(inj *cdp.Injector) Attacher {
	return injectorAttacher{inj: inj}
}

func (i injectorAttacher) Attach(ctx context.Context, tab scrollsync.TabID) (Page, error) {
	p, err := i.inj.Attach(ctx, tab)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (i injectorAttacher) Detach(ctx context.Context, sessionID string) error {
	return i.inj.Detach(ctx, sessionID)
}

type attachment struct {
	page    Page
	session *tabsession.Session
}

type Agent struct {
	bus      *bus.Bus
	tabs     Tabs
	attacher Attacher
	events   Events
	offsets  *override.Store
	clock    clock.Clock
	cfg      tabsession.Config
	logger   *slog.Logger

	ready chan struct{}

	mu        sync.Mutex
	runCtx    context.Context
	attached  map[scrollsync.TabID]*attachment
	bySession map[string]scrollsync.TabID
}

func New(b *bus.Bus, tabs Tabs, attacher Attacher, events Events, offsets *override.Store, clk clock.Clock, cfg tabsession.Config, logger *slog.Logger) *Agent {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Agent{
		bus:       b,
		tabs:      tabs,
		attacher:  attacher,
		events:    events,
		offsets:   offsets,
		clock:     clk,
		cfg:       cfg,
		logger:    logger,
		ready:     make(chan struct{}),
		attached:  make(map[scrollsync.TabID]*attachment),
		bySession: make(map[string]scrollsync.TabID),
	}
}

// TabExists implements supervisor.TabLookup.
func (a *Agent) TabExists(ctx context.Context, tab scrollsync.TabID) (bool, error) {
	return a.tabs.TabExists(ctx, tab)
}

// Inject implements supervisor.Injector. A tab whose session is already
// running is left as is. Transient failures are retried once; restricted
// and missing tabs are not.
func (a *Agent) Inject(ctx context.Context, tab scrollsync.TabID) error {
	select {
	case <-a.ready:
	case <-ctx.Done():
		return ctx.Err()
	}
	a.mu.Lock()
	runCtx := a.runCtx
	_, running := a.attached[tab]
	a.mu.Unlock()
	if running {
		return nil
	}

	var page Page
	err := retry.New(
		retry.Attempts(injectAttempts),
		retry.Delay(200*time.Millisecond),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.RetryIf(func(err error) bool {
			return !errors.Is(err, cdp.ErrRestrictedURL) && !errors.Is(err, cdp.ErrTabNotFound)
		}),
	).Do(func() error {
		p, err := a.attacher.Attach(ctx, tab)
		if err != nil {
			return err
		}
		page = p
		return nil
	})
	if err != nil {
		return err
	}

	session := tabsession.New(tab, a.bus, page, a.offsets, page, a.clock, a.cfg, a.logger)
	if err := session.Start(runCtx); err != nil {
		a.detach(context.WithoutCancel(ctx), page)
		if errors.Is(err, bus.ErrAddressInUse) {
			// Another attempt won the race.
			return nil
		}
		return fmt.Errorf("start session: %w", err)
	}

	a.mu.Lock()
	a.attached[tab] = &attachment{page: page, session: session}
	a.bySession[page.SessionID()] = tab
	a.mu.Unlock()
	return nil
}

// Attached lists the tabs with a running session.
func (a *Agent) Attached() []scrollsync.TabID {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]scrollsync.TabID, 0, len(a.attached))
	for tab := range a.attached {
		out = append(out, tab)
	}
	return out
}

// Detach stops the tab's session and detaches from the tab.
func (a *Agent) Detach(ctx context.Context, tab scrollsync.TabID) {
	at := a.remove(tab)
	if at == nil {
		return
	}
	at.session.Close()
	a.detach(ctx, at.page)
}

func (a *Agent) remove(tab scrollsync.TabID) *attachment {
	a.mu.Lock()
	defer a.mu.Unlock()
	at, ok := a.attached[tab]
	if !ok {
		return nil
	}
	delete(a.attached, tab)
	delete(a.bySession, at.page.SessionID())
	return at
}

func (a *Agent) detach(ctx context.Context, page Page) {
	if err := a.attacher.Detach(ctx, page.SessionID()); err != nil {
		a.logger.Debug("[agent] detach failed", "session", page.SessionID(), "err", err)
	}
}

// Run routes browser events until ctx is done, then closes every session.
// Inject waits for Run to start. Run must be called once.
func (a *Agent) Run(ctx context.Context) error {
	events, cancel := a.events.Subscribe()
	defer cancel()

	a.mu.Lock()
	a.runCtx = ctx
	a.mu.Unlock()
	close(a.ready)
	defer a.shutdown()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return errors.New("browser connection closed")
			}
			a.handleProtocolEvent(ev)
		case ev := <-a.tabs.Events():
			a.handleTabEvent(ev)
		}
	}
}

func (a *Agent) shutdown() {
	a.mu.Lock()
	tabs := make([]scrollsync.TabID, 0, len(a.attached))
	for tab := range a.attached {
		tabs = append(tabs, tab)
	}
	a.mu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for _, tab := range tabs {
		a.Detach(ctx, tab)
	}
}

func (a *Agent) handleProtocolEvent(ev cdp.Event) {
	if sessionID, ok := cdp.DecodeDetached(ev); ok {
		a.mu.Lock()
		tab, known := a.bySession[sessionID]
		a.mu.Unlock()
		if known {
			a.logger.Info("[agent] session detached by browser", "tab", tab)
			if at := a.remove(tab); at != nil {
				at.session.Close()
			}
		}
		return
	}

	b, ok := cdp.DecodeBinding(ev)
	if !ok {
		return
	}
	a.mu.Lock()
	tab, known := a.bySession[b.SessionID]
	a.mu.Unlock()
	if !known {
		return
	}

	var (
		ch      bus.Channel
		payload any
	)
	switch b.Event.Type {
	case cdp.BindingScroll:
		ch = bus.DOMScroll
	case cdp.BindingKeyDown:
		ch, payload = bus.DOMKeyDown, bus.KeyEvent{Key: b.Event.Key}
	case cdp.BindingKeyUp:
		ch, payload = bus.DOMKeyUp, bus.KeyEvent{Key: b.Event.Key}
	case cdp.BindingBlur:
		ch = bus.DOMBlur
	default:
		a.logger.Debug("[agent] unknown shim event", "tab", tab, "type", b.Event.Type)
		return
	}
	if err := a.bus.Send(Address, bus.TabAddress(tab), ch, payload); err != nil {
		a.logger.Debug("[agent] shim event not delivered", "tab", tab, "channel", ch, "err", err)
	}
}

func (a *Agent) handleTabEvent(ev cdp.TabEvent) {
	switch ev.Kind {
	case cdp.TabClosed:
		if at := a.remove(ev.Tab.ID); at != nil {
			at.session.Close()
		}
		a.toCoordinator(bus.BrowserTabClosed, bus.TabEvent{TabID: ev.Tab.ID})
	case cdp.TabNavigated:
		a.toCoordinator(bus.BrowserTabNavigated, bus.TabEvent{TabID: ev.Tab.ID, URL: ev.Tab.URL})
	case cdp.TabActivated:
		a.logger.Debug("[agent] tab activated", "tab", ev.Tab.ID)
	}
}

func (a *Agent) toCoordinator(ch bus.Channel, ev bus.TabEvent) {
	if err := a.bus.Send(Address, bus.Coordinator, ch, ev); err != nil {
		a.logger.Warn("[agent] browser event not delivered", "channel", ch, "tab", ev.TabID, "err", err)
	}
}
