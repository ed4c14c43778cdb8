// Package relay fans a tab's scroll sample out to the other members of its
// sync group.
package relay

import (
	"context"
	"log/slog"
	"sync"

	"github.com/samber/lo"

	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/scrollsync"
)

// Groups resolves the active group of a tab.
type Groups interface {
	ActiveGroupOf(tab scrollsync.TabID) (scrollsync.SyncGroup, bool)
}

// Deliverer hands an instruction to one tab. It must not wait for the tab to
// apply it.
type Deliverer interface {
	Deliver(ctx context.Context, tab scrollsync.TabID, inst scrollsync.Instruction) error
}

// FailureFunc is told about every tab a delivery failed for.
type FailureFunc func(groupID string, tab scrollsync.TabID, err error)

// Result summarizes one fan-out.
type Result struct {
	GroupID    string
	Recipients []scrollsync.TabID
	Failed     []scrollsync.TabID
	// Ignored is set when the sample was stale: its source has no active group.
	Ignored bool
}

type Relay struct {
	groups    Groups
	deliverer Deliverer
	onFailure FailureFunc
	logger    *slog.Logger
}

// New returns a relay. onFailure may be nil.
func New(groups Groups, deliverer Deliverer, onFailure FailureFunc, logger *slog.Logger) *Relay {
	if onFailure == nil {
		onFailure = func(string, scrollsync.TabID, error) {}
	}
	return &Relay{groups: groups, deliverer: deliverer, onFailure: onFailure, logger: logger}
}

// Relay delivers sample to every member of the source's active group except
// the source. Deliveries run concurrently; one failing or slow tab does not
// hold back the others.
func (r *Relay) Relay(ctx context.Context, sample scrollsync.ScrollSample) Result {
	g, ok := r.groups.ActiveGroupOf(sample.SourceTabID)
	if !ok {
		r.logger.Debug("[relay] ignoring stale sample", "tab", sample.SourceTabID)
		return Result{Ignored: true}
	}

	inst := BuildInstruction(g, sample)
	recipients := lo.Without(g.MemberTabIDs, sample.SourceTabID)
	res := Result{GroupID: g.ID, Recipients: recipients}

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed = make(map[scrollsync.TabID]bool)
	)
	for _, tab := range recipients {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.deliverer.Deliver(ctx, tab, inst); err != nil {
				r.logger.Warn("[relay] delivery failed", "group", g.ID, "tab", tab, "err", err)
				mu.Lock()
				failed[tab] = true
				mu.Unlock()
				r.onFailure(g.ID, tab, err)
			}
		}()
	}
	wg.Wait()

	res.Failed = lo.Filter(recipients, func(t scrollsync.TabID, _ int) bool { return failed[t] })
	return res
}

// BuildInstruction turns a sample into the instruction sent to the other
// members of g. The element anchor travels only in element mode.
func BuildInstruction(g scrollsync.SyncGroup, sample scrollsync.ScrollSample) scrollsync.Instruction {
	inst := scrollsync.Instruction{
		GroupID:         g.ID,
		SourceTabID:     sample.SourceTabID,
		Mode:            g.Mode,
		Ratio:           sample.GroupRatio(),
		HorizontalRatio: sample.HorizontalRatio(),
		Timestamp:       sample.Timestamp,
	}
	if g.Mode == scrollsync.ModeElement && sample.ElementContext != nil {
		ec := *sample.ElementContext
		inst.ElementContext = &ec
	}
	return inst
}
