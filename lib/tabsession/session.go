// Package tabsession runs the per-tab side of scroll sync: it samples the
// tab's position, applies instructions from the group, and turns modifier
// scrolling into a manual offset. All state is owned by the session's bus
// loop.
package tabsession

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/bus"
	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/clock"
	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/document"
	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/matcher"
	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/override"
	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/sampler"
	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/scrollsync"
)

const (
	DefaultSuppressWindow = 100 * time.Millisecond
	DefaultModifierKey    = "Alt"
)

var ErrNoNavigator = errors.New("tab cannot navigate")

// Navigator loads a URL in the tab.
type Navigator interface {
	Navigate(ctx context.Context, url string) error
}

type Config struct {
	SampleInterval time.Duration
	SuppressWindow time.Duration
	TextWindow     int
	ModifierKey    string
}

func (c Config) withDefaults() Config {
	if c.SampleInterval <= 0 {
		c.SampleInterval = sampler.DefaultInterval
	}
	if c.SuppressWindow <= 0 {
		c.SuppressWindow = DefaultSuppressWindow
	}
	if c.TextWindow <= 0 {
		c.TextWindow = matcher.DefaultTextWindow
	}
	if c.ModifierKey == "" {
		c.ModifierKey = DefaultModifierKey
	}
	return c
}

type Session struct {
	tab       scrollsync.TabID
	addr      bus.Address
	bus       *bus.Bus
	doc       document.Accessor
	clock     clock.Clock
	cfg       Config
	logger    *slog.Logger
	sampler   *sampler.Sampler
	matcher   *matcher.Matcher
	tracker   *override.Tracker
	offsets   *override.Store
	navigator Navigator
	throttle  *sampler.Throttle

	endpointMu sync.Mutex
	endpoint   *bus.Endpoint

	// Owned by the loop.
	state          State
	group          scrollsync.SyncGroup
	offset         scrollsync.ManualOffset
	lastGroupRatio float64
	// Scroll events before this instant come from our own ScrollTo and are
	// not reported.
	suppressUntil time.Time
}

// New builds a session for tab. navigator may be nil when URL following is
// not supported.
func New(tab scrollsync.TabID, b *bus.Bus, doc document.Accessor, offsets *override.Store, navigator Navigator, clk clock.Clock, cfg Config, logger *slog.Logger) *Session {
	if clk == nil {
		clk = clock.Real{}
	}
	cfg = cfg.withDefaults()
	logger = logger.With("tab", tab)
	s := &Session{
		tab:       tab,
		addr:      bus.TabAddress(tab),
		bus:       b,
		doc:       doc,
		clock:     clk,
		cfg:       cfg,
		logger:    logger,
		sampler:   sampler.New(tab, doc, clk, sampler.DefaultTextLimit),
		matcher:   matcher.New(cfg.TextWindow),
		tracker:   override.NewTracker(tab, logger),
		offsets:   offsets,
		navigator: navigator,
		offset:    scrollsync.ManualOffset{TabID: tab},
	}
	s.throttle = sampler.NewThrottle(clk, cfg.SampleInterval, s.flush)
	return s
}

// TabID returns the session's tab.
func (s *Session) TabID() scrollsync.TabID { return s.tab }

// Start registers the session on the bus.
func (s *Session) Start(ctx context.Context) error {
	ep, err := s.bus.Register(ctx, s.addr, s.mux())
	if err != nil {
		return fmt.Errorf("register tab session: %w", err)
	}
	s.endpointMu.Lock()
	s.endpoint = ep
	s.endpointMu.Unlock()
	return nil
}

// Close stops sampling and removes the session from the bus.
func (s *Session) Close() {
	s.throttle.Stop()
	s.endpointMu.Lock()
	ep := s.endpoint
	s.endpointMu.Unlock()
	if ep != nil {
		ep.Close()
	}
}

// Done is closed when the session's endpoint stops. It is nil before Start.
func (s *Session) Done() <-chan struct{} {
	s.endpointMu.Lock()
	defer s.endpointMu.Unlock()
	if s.endpoint == nil {
		return nil
	}
	return s.endpoint.Done()
}

func (s *Session) mux() *bus.Mux {
	m := bus.NewMux()
	m.Handle(bus.SyncStarted, s.handleStarted)
	m.Handle(bus.SyncStopped, s.handleStopped)
	m.Handle(bus.GroupUpdated, s.handleGroupUpdated)
	m.Handle(bus.ScrollApply, s.handleApply)
	m.Handle(bus.URLNavigate, s.handleNavigate)
	m.Handle(bus.DOMScroll, s.handleScroll)
	m.Handle(bus.SampleFlush, s.handleFlush)
	m.Handle(bus.DOMKeyDown, s.handleKeyDown)
	m.Handle(bus.DOMKeyUp, s.handleKeyUp)
	m.Handle(bus.DOMBlur, s.handleBlur)
	m.Handle(bus.SessionState, s.handleSnapshot)
	return m
}

func (s *Session) snapshot() Snapshot {
	return Snapshot{
		TabID:          s.tab,
		State:          s.state,
		GroupID:        s.group.ID,
		Mode:           s.group.Mode,
		Offset:         s.offset,
		LastGroupRatio: s.lastGroupRatio,
	}
}

func (s *Session) handleSnapshot(context.Context, bus.Message) (any, error) {
	return s.snapshot(), nil
}

func (s *Session) handleStarted(ctx context.Context, msg bus.Message) (any, error) {
	p, err := bus.Decode[bus.StartedPayload](msg)
	if err != nil {
		return nil, err
	}
	s.cancelOverride()
	s.throttle.Cancel()
	s.group = p.Group.Clone()
	s.offset = p.Offset
	s.offset.TabID = s.tab
	s.state = Syncing
	if m, err := s.doc.Metrics(ctx); err == nil {
		s.lastGroupRatio = groupRatio(m, s.offset.OffsetRatio)
	} else {
		s.lastGroupRatio = 0
		s.logger.Debug("[session] metrics unavailable at start", "err", err)
	}
	s.logger.Info("[session] syncing", "group", s.group.ID, "mode", s.group.Mode, "offset", s.offset.OffsetRatio)
	return nil, nil
}

func (s *Session) handleStopped(_ context.Context, msg bus.Message) (any, error) {
	p, err := bus.Decode[bus.StoppedPayload](msg)
	if err != nil {
		return nil, err
	}
	if s.state == Idle || (p.GroupID != "" && p.GroupID != s.group.ID) {
		return nil, nil
	}
	s.toIdle()
	return nil, nil
}

func (s *Session) toIdle() {
	s.cancelOverride()
	s.throttle.Cancel()
	s.logger.Info("[session] idle", "group", s.group.ID)
	s.state = Idle
	s.group = scrollsync.SyncGroup{}
}

// cancelOverride drops an override in progress without persisting anything
// and tells the coordinator the tab sends samples again.
func (s *Session) cancelOverride() {
	s.tracker.Cancel()
	if s.state == ManualOverride {
		s.state = Syncing
		s.notifyManual(false)
	}
}

func (s *Session) handleGroupUpdated(_ context.Context, msg bus.Message) (any, error) {
	g, err := bus.Decode[scrollsync.SyncGroup](msg)
	if err != nil {
		return nil, err
	}
	if s.state == Idle || g.ID != s.group.ID {
		return nil, nil
	}
	if !g.IsActive || !g.HasMember(s.tab) {
		s.toIdle()
		return nil, nil
	}
	s.group = g.Clone()
	return nil, nil
}

func (s *Session) handleScroll(context.Context, bus.Message) (any, error) {
	if s.state != Syncing || s.suppressed() {
		return nil, nil
	}
	s.throttle.Trigger()
	return nil, nil
}

func (s *Session) suppressed() bool {
	return s.clock.Now().Before(s.suppressUntil)
}

// flush runs on the throttle's timer and hands the sample off to the loop.
func (s *Session) flush() {
	if err := s.bus.Send(s.addr, s.addr, bus.SampleFlush, nil); err != nil {
		s.logger.Debug("[session] drop flush", "err", err)
	}
}

func (s *Session) handleFlush(ctx context.Context, _ bus.Message) (any, error) {
	if s.state != Syncing || s.suppressed() {
		return nil, nil
	}
	sample, err := s.sampler.Sample(ctx, s.group.Mode, s.offset.OffsetRatio)
	if err != nil {
		return nil, fmt.Errorf("sample: %w", err)
	}
	s.lastGroupRatio = sample.GroupRatio()
	if err := s.bus.Send(s.addr, bus.Coordinator, bus.ScrollSync, sample); err != nil {
		s.logger.Warn("[session] sample not delivered", "err", err)
	}
	return nil, nil
}

func (s *Session) handleApply(ctx context.Context, msg bus.Message) (any, error) {
	p, err := bus.Decode[bus.ApplyPayload](msg)
	if err != nil {
		return nil, err
	}
	inst := p.Instruction
	if s.state == Idle || inst.GroupID != s.group.ID || inst.SourceTabID == s.tab {
		return nil, nil
	}
	if s.state == ManualOverride {
		// The baseline is already fixed; keep the newest group position for
		// when override ends.
		s.lastGroupRatio = inst.Ratio
		return nil, nil
	}

	m, err := s.doc.Metrics(ctx)
	if err != nil {
		return nil, fmt.Errorf("read metrics: %w", err)
	}
	top, strategy := s.target(ctx, m, inst)
	left := 0.0
	if m.MaxScrollLeft() > 0 {
		left = scrollsync.Clamp(inst.HorizontalRatio, 0, 1) * m.MaxScrollLeft()
	}
	s.throttle.Cancel()
	if err := s.doc.ScrollTo(ctx, left, top); err != nil {
		return nil, fmt.Errorf("scroll: %w", err)
	}
	s.suppressUntil = s.clock.Now().Add(s.cfg.SuppressWindow)
	s.lastGroupRatio = inst.Ratio
	s.logger.Debug("[session] applied", "from", inst.SourceTabID, "top", top, "strategy", strategy)
	return nil, nil
}

// target resolves where inst puts this tab, including its manual offset.
func (s *Session) target(ctx context.Context, m document.Metrics, inst scrollsync.Instruction) (float64, matcher.Strategy) {
	maxScroll := m.MaxScrollTop()
	if maxScroll <= 0 {
		return 0, matcher.StrategyNone
	}
	personal := s.offset.OffsetRatio * maxScroll

	if inst.Mode == scrollsync.ModeElement && inst.ElementContext != nil {
		ec := inst.ElementContext
		el, strategy, ok, err := s.matcher.Locate(ctx, s.doc, ec.Signature)
		switch {
		case err != nil:
			s.logger.Debug("[session] element lookup failed, using ratio", "err", err)
		case ok:
			into := ec.ScrollTop - ec.ElementTop
			return scrollsync.Clamp(el.Top+into+personal, 0, maxScroll), strategy
		}
	}
	return scrollsync.Clamp(inst.Ratio*maxScroll+personal, 0, maxScroll), matcher.StrategyNone
}

func (s *Session) isModifier(msg bus.Message) bool {
	ev, err := bus.Decode[bus.KeyEvent](msg)
	if err != nil {
		return false
	}
	return strings.EqualFold(ev.Key, s.cfg.ModifierKey)
}

func (s *Session) handleKeyDown(_ context.Context, msg bus.Message) (any, error) {
	if s.state != Syncing || !s.isModifier(msg) {
		return nil, nil
	}
	s.tracker.Begin(s.lastGroupRatio)
	s.state = ManualOverride
	s.throttle.Cancel()
	s.notifyManual(true)
	return nil, nil
}

func (s *Session) handleKeyUp(ctx context.Context, msg bus.Message) (any, error) {
	if !s.isModifier(msg) {
		return nil, nil
	}
	return nil, s.endOverride(ctx)
}

func (s *Session) handleBlur(ctx context.Context, _ bus.Message) (any, error) {
	return nil, s.endOverride(ctx)
}

func (s *Session) endOverride(ctx context.Context) error {
	if s.state != ManualOverride {
		return nil
	}
	m, err := s.doc.Metrics(ctx)
	if err != nil {
		s.tracker.Cancel()
		s.state = Syncing
		s.notifyManual(false)
		return fmt.Errorf("read metrics: %w", err)
	}
	out, _ := s.tracker.End(m)
	if out.Persist {
		if s.offsets != nil {
			if err := s.offsets.Save(ctx, out.Offset); err != nil {
				s.logger.Error("[session] failed to persist offset", "err", err)
			}
		}
		s.offset = out.Offset
		s.logger.Info("[session] manual offset set", "offset", out.Offset.OffsetRatio, "clamped", out.Clamped)
	}
	s.state = Syncing
	s.notifyManual(false)
	return nil
}

func (s *Session) notifyManual(enabled bool) {
	err := s.bus.Send(s.addr, bus.Coordinator, bus.ScrollManual, bus.ManualRequest{TabID: s.tab, Enabled: enabled})
	if err != nil {
		s.logger.Warn("[session] manual state not delivered", "enabled", enabled, "err", err)
	}
}

func (s *Session) handleNavigate(ctx context.Context, msg bus.Message) (any, error) {
	p, err := bus.Decode[bus.NavigatePayload](msg)
	if err != nil {
		return nil, err
	}
	if s.navigator == nil {
		return nil, ErrNoNavigator
	}
	if err := s.navigator.Navigate(ctx, p.URL); err != nil {
		return nil, fmt.Errorf("navigate to %s: %w", p.URL, err)
	}
	return nil, nil
}

func groupRatio(m document.Metrics, offset float64) float64 {
	if m.MaxScrollTop() <= 0 {
		return 0
	}
	return scrollsync.Clamp(m.Ratio()-offset, 0, 1)
}
