package cdp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/chromedp/cdproto/target"

	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/scrollsync"
)

const (
	eventTargetCreated      = "Target.targetCreated"
	eventTargetDestroyed    = "Target.targetDestroyed"
	eventTargetInfoChanged  = "Target.targetInfoChanged"
	eventDetachedFromTarget = "Target.detachedFromTarget"
	eventBindingCalled      = "Runtime.bindingCalled"

	pageTarget = "page"
)

// Tab is a page target.
type Tab struct {
	ID    scrollsync.TabID `json:"id"`
	URL   string           `json:"url"`
	Title string           `json:"title"`
}

func tabFromInfo(info *target.Info) Tab {
	return Tab{ID: scrollsync.TabID(info.TargetID), URL: info.URL, Title: info.Title}
}

type TabEventKind string

const (
	TabClosed    TabEventKind = "closed"
	TabNavigated TabEventKind = "navigated"
	TabActivated TabEventKind = "activated"
)

// TabEvent reports a change to a page target.
type TabEvent struct {
	Kind        TabEventKind
	Tab         Tab
	PreviousURL string
}

// Browser is the tab registry. It tracks page targets through target
// discovery and reports closes, navigations and activations.
type Browser struct {
	conn   *Conn
	logger *slog.Logger
	events chan TabEvent

	mu   sync.Mutex
	tabs map[scrollsync.TabID]Tab
}

func NewBrowser(conn *Conn, logger *slog.Logger) *Browser {
	return &Browser{
		conn:   conn,
		logger: logger,
		events: make(chan TabEvent, 64),
		tabs:   make(map[scrollsync.TabID]Tab),
	}
}

// Events delivers tab changes. Events are dropped when the consumer falls
// behind.
func (b *Browser) Events() <-chan TabEvent { return b.events }

// Start enables target discovery, loads the current tabs and follows target
// events until ctx is cancelled or the connection closes.
func (b *Browser) Start(ctx context.Context) error {
	events, cancel := b.conn.Subscribe()
	if err := b.conn.Call(ctx, target.CommandSetDiscoverTargets, target.SetDiscoverTargets(true), "", nil); err != nil {
		cancel()
		return fmt.Errorf("enable target discovery: %w", err)
	}
	if _, err := b.List(ctx); err != nil {
		cancel()
		return err
	}
	go func() {
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				b.handleEvent(ev)
			}
		}
	}()
	return nil
}

// List returns the open page targets and refreshes the registry from them.
func (b *Browser) List(ctx context.Context) ([]Tab, error) {
	var res target.GetTargetsReturns
	if err := b.conn.Call(ctx, target.CommandGetTargets, target.GetTargets(), "", &res); err != nil {
		return nil, fmt.Errorf("getTargets: %w", err)
	}
	var tabs []Tab
	for _, info := range res.TargetInfos {
		if info == nil || info.Type != pageTarget {
			continue
		}
		tabs = append(tabs, tabFromInfo(info))
	}

	b.mu.Lock()
	b.tabs = make(map[scrollsync.TabID]Tab, len(tabs))
	for _, t := range tabs {
		b.tabs[t.ID] = t
	}
	b.mu.Unlock()
	return tabs, nil
}

// Get returns one tab, asking the browser when the registry does not know it.
func (b *Browser) Get(ctx context.Context, id scrollsync.TabID) (Tab, bool, error) {
	b.mu.Lock()
	t, ok := b.tabs[id]
	b.mu.Unlock()
	if ok {
		return t, true, nil
	}
	tabs, err := b.List(ctx)
	if err != nil {
		return Tab{}, false, err
	}
	for _, t := range tabs {
		if t.ID == id {
			return t, true, nil
		}
	}
	return Tab{}, false, nil
}

// TabExists reports whether id is an open page target.
func (b *Browser) TabExists(ctx context.Context, id scrollsync.TabID) (bool, error) {
	_, ok, err := b.Get(ctx, id)
	return ok, err
}

// Activate brings a tab to the foreground.
func (b *Browser) Activate(ctx context.Context, id scrollsync.TabID) error {
	if err := b.conn.Call(ctx, target.CommandActivateTarget, target.ActivateTarget(target.ID(id)), "", nil); err != nil {
		return fmt.Errorf("activate %s: %w", id, err)
	}
	b.mu.Lock()
	t, ok := b.tabs[id]
	b.mu.Unlock()
	if !ok {
		t = Tab{ID: id}
	}
	b.emit(TabEvent{Kind: TabActivated, Tab: t})
	return nil
}

func (b *Browser) handleEvent(ev Event) {
	switch ev.Method {
	case eventTargetCreated:
		var params target.EventTargetCreated
		if err := json.Unmarshal(ev.Params, &params); err != nil || params.TargetInfo == nil {
			return
		}
		if params.TargetInfo.Type != pageTarget {
			return
		}
		t := tabFromInfo(params.TargetInfo)
		b.mu.Lock()
		b.tabs[t.ID] = t
		b.mu.Unlock()
		b.logger.Debug("[browser] new page target", "id", t.ID, "url", t.URL)

	case eventTargetInfoChanged:
		var params target.EventTargetInfoChanged
		if err := json.Unmarshal(ev.Params, &params); err != nil || params.TargetInfo == nil {
			return
		}
		if params.TargetInfo.Type != pageTarget {
			return
		}
		t := tabFromInfo(params.TargetInfo)
		b.mu.Lock()
		prev, known := b.tabs[t.ID]
		b.tabs[t.ID] = t
		b.mu.Unlock()
		// Title updates and fragment changes are not navigations.
		if known && prev.URL != "" && !scrollsync.SamePage(prev.URL, t.URL) {
			b.emit(TabEvent{Kind: TabNavigated, Tab: t, PreviousURL: prev.URL})
		}

	case eventTargetDestroyed:
		var params target.EventTargetDestroyed
		if err := json.Unmarshal(ev.Params, &params); err != nil {
			return
		}
		id := scrollsync.TabID(params.TargetID)
		b.mu.Lock()
		t, known := b.tabs[id]
		delete(b.tabs, id)
		b.mu.Unlock()
		if known {
			b.emit(TabEvent{Kind: TabClosed, Tab: t})
		}
	}
}

func (b *Browser) emit(ev TabEvent) {
	select {
	case b.events <- ev:
	default:
		b.logger.Warn("[browser] tab event dropped", "kind", ev.Kind, "tab", ev.Tab.ID)
	}
}
