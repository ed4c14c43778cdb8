// Package override turns a modifier-held free scroll into a persisted
// per-tab offset relative to the group position.
package override

import (
	"log/slog"

	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/document"
	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/scrollsync"
)

// Outcome is the result of leaving override.
type Outcome struct {
	Offset scrollsync.ManualOffset
	// Raw is the unclamped difference between the exit ratio and the baseline.
	Raw     float64
	Clamped bool
	// Persist is false when the page has nothing to scroll.
	Persist bool
}

// Tracker is owned by one tab session and is not safe for concurrent use.
type Tracker struct {
	tab      scrollsync.TabID
	logger   *slog.Logger
	active   bool
	baseline float64
}

func NewTracker(tab scrollsync.TabID, logger *slog.Logger) *Tracker {
	return &Tracker{tab: tab, logger: logger}
}

// Begin enters override with the last synced group ratio as baseline. It
// must be called from the key-down handler itself, before any other message
// is processed, so an in-flight instruction cannot move the baseline.
// A repeated Begin while active keeps the first baseline.
func (t *Tracker) Begin(baseline float64) {
	if t.active {
		return
	}
	t.active = true
	t.baseline = baseline
}

// Active reports whether override is in progress.
func (t *Tracker) Active() bool { return t.active }

// Baseline returns the ratio captured at Begin.
func (t *Tracker) Baseline() float64 { return t.baseline }

// End leaves override and computes the new offset from the current metrics.
// ok is false if override was not active.
func (t *Tracker) End(m document.Metrics) (Outcome, bool) {
	if !t.active {
		return Outcome{}, false
	}
	t.active = false

	maxScroll := m.MaxScrollTop()
	if maxScroll <= 0 {
		return Outcome{Offset: scrollsync.ManualOffset{TabID: t.tab}}, true
	}
	raw := m.Ratio() - t.baseline
	offset, clamped := scrollsync.ClampOffset(raw)
	if clamped {
		t.logger.Info("[override] offset clamped", "tab", t.tab, "raw", raw, "offset", offset)
	}
	return Outcome{
		Offset: scrollsync.ManualOffset{
			TabID:        t.tab,
			OffsetRatio:  offset,
			OffsetPixels: offset * maxScroll,
		},
		Raw:     raw,
		Clamped: clamped,
		Persist: true,
	}, true
}

// Cancel leaves override without computing anything.
func (t *Tracker) Cancel() { t.active = false }
