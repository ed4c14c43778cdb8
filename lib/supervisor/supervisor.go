// Package supervisor establishes the sync capability in a set of tabs,
// attempting each tab independently.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/scrollsync"
)

// DefaultTimeout bounds a single tab's connection attempt.
const DefaultTimeout = 5 * time.Second

// TabLookup checks that a tab still exists.
type TabLookup interface {
	TabExists(ctx context.Context, tab scrollsync.TabID) (bool, error)
}

// Injector makes sure the sync logic is running in a tab.
type Injector interface {
	Inject(ctx context.Context, tab scrollsync.TabID) error
}

// Result is the aggregate outcome of Connect.
type Result struct {
	Success           bool                                             `json:"success"`
	ConnectedTabs     []scrollsync.TabID                               `json:"connectedTabs"`
	ConnectionResults map[scrollsync.TabID]scrollsync.ConnectionResult `json:"connectionResults"`
}

// Failed lists the tabs that did not connect, sorted.
func (r Result) Failed() []scrollsync.TabID {
	var out []scrollsync.TabID
	for tab, res := range r.ConnectionResults {
		if !res.Success {
			out = append(out, tab)
		}
	}
	slices.Sort(out)
	return out
}

type Supervisor struct {
	lookup   TabLookup
	injector Injector
	timeout  time.Duration
	logger   *slog.Logger
}

func New(lookup TabLookup, injector Injector, timeout time.Duration, logger *slog.Logger) *Supervisor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Supervisor{lookup: lookup, injector: injector, timeout: timeout, logger: logger}
}

// Connect attempts every tab in parallel and waits for all attempts, each
// bounded by the per-tab timeout. Success requires at least two connected
// tabs.
func (s *Supervisor) Connect(ctx context.Context, tabs []scrollsync.TabID) Result {
	tabs = lo.Uniq(lo.Compact(tabs))
	outcomes := make([]scrollsync.ConnectionResult, len(tabs))

	var g errgroup.Group
	for i, tab := range tabs {
		g.Go(func() error {
			outcomes[i] = s.connectOne(ctx, tab)
			return nil
		})
	}
	_ = g.Wait()

	res := Result{
		ConnectedTabs:     []scrollsync.TabID{},
		ConnectionResults: make(map[scrollsync.TabID]scrollsync.ConnectionResult, len(tabs)),
	}
	for i, tab := range tabs {
		res.ConnectionResults[tab] = outcomes[i]
		if outcomes[i].Success {
			res.ConnectedTabs = append(res.ConnectedTabs, tab)
		}
	}
	res.Success = len(res.ConnectedTabs) >= scrollsync.MinGroupSize
	if failed := res.Failed(); len(failed) > 0 {
		s.logger.Warn("[supervisor] some tabs failed to connect", "failed", failed, "connected", res.ConnectedTabs)
	}
	return res
}

func (s *Supervisor) connectOne(ctx context.Context, tab scrollsync.TabID) scrollsync.ConnectionResult {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err := s.withTimeout(ctx, func(ctx context.Context) error {
		exists, err := s.lookup.TabExists(ctx, tab)
		if err != nil {
			return fmt.Errorf("tab lookup failed: %w", err)
		}
		if !exists {
			return errors.New("tab no longer exists")
		}
		return s.injector.Inject(ctx, tab)
	})
	if err != nil {
		s.logger.Debug("[supervisor] connect failed", "tab", tab, "err", err)
		return scrollsync.ConnectionResult{Error: err.Error()}
	}
	return scrollsync.ConnectionResult{Success: true}
}

// withTimeout returns when fn does or ctx ends, whichever is first, so an
// attempt that ignores its context still cannot hold up the aggregate.
func (s *Supervisor) withTimeout(ctx context.Context, fn func(context.Context) error) error {
	done := make(chan error, 1)
	go func() { done <- fn(ctx) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("timed out after %s", s.timeout)
		}
		return ctx.Err()
	}
}
