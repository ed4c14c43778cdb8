// Package registry owns the sync group records. Only the coordinator mutates
// them; everything else receives copies.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/nrednav/cuid2"
	"github.com/samber/lo"

	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/clock"
	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/scrollsync"
)

var (
	ErrTooFewTabs    = fmt.Errorf("a sync group needs at least %d tabs", scrollsync.MinGroupSize)
	ErrGroupNotFound = errors.New("sync group not found")
	ErrGroupInactive = errors.New("sync group is not active")
	ErrGroupActive   = errors.New("sync group is still active")
	ErrInvalidMode   = errors.New("invalid sync mode")
)

// Notifier receives membership and settings changes after the registry lock
// is released.
type Notifier interface {
	// GroupUpdated is called when an active group's mode, URL-sync flag or
	// membership changes.
	GroupUpdated(g scrollsync.SyncGroup)
	// TabsReleased is called when tabs stop syncing in g, either because they
	// left it or because it was deactivated.
	TabsReleased(g scrollsync.SyncGroup, tabs []scrollsync.TabID)
}

type nopNotifier struct{}

func (nopNotifier) GroupUpdated(scrollsync.SyncGroup)                   {}
func (nopNotifier) TabsReleased(scrollsync.SyncGroup, []scrollsync.TabID) {}

type event struct {
	group    scrollsync.SyncGroup
	released []scrollsync.TabID
	updated  bool
}

// Registry stores groups by id.
type Registry struct {
	logger   *slog.Logger
	clock    clock.Clock
	notifier Notifier

	mu     sync.RWMutex
	groups map[string]*scrollsync.SyncGroup
}

// New creates an empty registry. A nil notifier discards notifications.
func New(notifier Notifier, clk clock.Clock, logger *slog.Logger) *Registry {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Registry{
		logger:   logger,
		clock:    clk,
		notifier: notifier,
		groups:   make(map[string]*scrollsync.SyncGroup),
	}
}

func (r *Registry) dispatch(events []event) {
	for _, ev := range events {
		if len(ev.released) > 0 {
			r.notifier.TabsReleased(ev.group, ev.released)
		}
		if ev.updated {
			r.notifier.GroupUpdated(ev.group)
		}
	}
}

// Create builds a new active group. Duplicate ids are collapsed before the
// size check. Each tab is first removed from any other active group.
func (r *Registry) Create(tabIDs []scrollsync.TabID, mode scrollsync.Mode, urlSync bool) (scrollsync.SyncGroup, error) {
	if mode == "" {
		mode = scrollsync.ModeRatio
	}
	if !mode.Valid() {
		return scrollsync.SyncGroup{}, fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
	members := lo.Uniq(lo.Compact(tabIDs))
	if len(members) < scrollsync.MinGroupSize {
		return scrollsync.SyncGroup{}, ErrTooFewTabs
	}

	r.mu.Lock()
	var events []event
	for _, tab := range members {
		if other := r.activeGroupOfLocked(tab); other != nil {
			events = append(events, r.removeLocked(other, tab)...)
		}
	}
	g := &scrollsync.SyncGroup{
		ID:             cuid2.Generate(),
		MemberTabIDs:   members,
		IsActive:       true,
		Mode:           mode,
		URLSyncEnabled: urlSync,
		CreatedAt:      r.clock.Now(),
	}
	r.groups[g.ID] = g
	out := g.Clone()
	r.mu.Unlock()

	r.dispatch(events)
	r.logger.Info("[registry] group created", "group", out.ID, "tabs", out.MemberTabIDs, "mode", out.Mode)
	return out, nil
}

// Get returns a copy of the group.
func (r *Registry) Get(id string) (scrollsync.SyncGroup, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.groups[id]
	if !ok {
		return scrollsync.SyncGroup{}, false
	}
	return g.Clone(), true
}

// ActiveGroupOf returns the active group tab belongs to, if any.
func (r *Registry) ActiveGroupOf(tab scrollsync.TabID) (scrollsync.SyncGroup, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g := r.activeGroupOfLocked(tab)
	if g == nil {
		return scrollsync.SyncGroup{}, false
	}
	return g.Clone(), true
}

func (r *Registry) activeGroupOfLocked(tab scrollsync.TabID) *scrollsync.SyncGroup {
	for _, g := range r.groups {
		if g.IsActive && g.HasMember(tab) {
			return g
		}
	}
	return nil
}

// List returns all groups, active and retained, oldest first.
func (r *Registry) List() []scrollsync.SyncGroup {
	r.mu.RLock()
	out := make([]scrollsync.SyncGroup, 0, len(r.groups))
	for _, g := range r.groups {
		out = append(out, g.Clone())
	}
	r.mu.RUnlock()
	slices.SortFunc(out, func(a, b scrollsync.SyncGroup) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return out
}

// UpdateMode changes the group's positioning mode.
func (r *Registry) UpdateMode(id string, mode scrollsync.Mode) (scrollsync.SyncGroup, error) {
	if !mode.Valid() {
		return scrollsync.SyncGroup{}, fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
	return r.mutate(id, func(g *scrollsync.SyncGroup) bool {
		if g.Mode == mode {
			return false
		}
		g.Mode = mode
		return true
	})
}

// SetURLSync toggles URL following for the group.
func (r *Registry) SetURLSync(id string, enabled bool) (scrollsync.SyncGroup, error) {
	return r.mutate(id, func(g *scrollsync.SyncGroup) bool {
		if g.URLSyncEnabled == enabled {
			return false
		}
		g.URLSyncEnabled = enabled
		return true
	})
}

func (r *Registry) mutate(id string, fn func(g *scrollsync.SyncGroup) bool) (scrollsync.SyncGroup, error) {
	r.mu.Lock()
	g, ok := r.groups[id]
	if !ok {
		r.mu.Unlock()
		return scrollsync.SyncGroup{}, fmt.Errorf("%w: %s", ErrGroupNotFound, id)
	}
	changed := fn(g)
	out := g.Clone()
	r.mu.Unlock()

	if changed && out.IsActive {
		r.notifier.GroupUpdated(out)
	}
	return out, nil
}

// AddTab puts tab into an active group, taking it out of any other active
// group first.
func (r *Registry) AddTab(id string, tab scrollsync.TabID) (scrollsync.SyncGroup, error) {
	r.mu.Lock()
	g, ok := r.groups[id]
	if !ok {
		r.mu.Unlock()
		return scrollsync.SyncGroup{}, fmt.Errorf("%w: %s", ErrGroupNotFound, id)
	}
	if !g.IsActive {
		r.mu.Unlock()
		return scrollsync.SyncGroup{}, fmt.Errorf("%w: %s", ErrGroupInactive, id)
	}
	if g.HasMember(tab) {
		out := g.Clone()
		r.mu.Unlock()
		return out, nil
	}
	var events []event
	if other := r.activeGroupOfLocked(tab); other != nil {
		events = r.removeLocked(other, tab)
	}
	g.MemberTabIDs = append(g.MemberTabIDs, tab)
	out := g.Clone()
	events = append(events, event{group: out, updated: true})
	r.mu.Unlock()

	r.dispatch(events)
	return out, nil
}

// RemoveTab drops tab from the group. A group left with fewer than two
// members is deactivated and every remaining member is released.
func (r *Registry) RemoveTab(id string, tab scrollsync.TabID) (scrollsync.SyncGroup, error) {
	r.mu.Lock()
	g, ok := r.groups[id]
	if !ok {
		r.mu.Unlock()
		return scrollsync.SyncGroup{}, fmt.Errorf("%w: %s", ErrGroupNotFound, id)
	}
	events := r.removeLocked(g, tab)
	out := g.Clone()
	r.mu.Unlock()

	r.dispatch(events)
	return out, nil
}

// RemoveTabEverywhere drops tab from every group it appears in, active or
// retained, and returns the ids of the active groups it left.
func (r *Registry) RemoveTabEverywhere(tab scrollsync.TabID) []string {
	r.mu.Lock()
	var (
		events []event
		left   []string
	)
	for _, g := range r.groups {
		if !g.HasMember(tab) {
			continue
		}
		if g.IsActive {
			left = append(left, g.ID)
		}
		events = append(events, r.removeLocked(g, tab)...)
	}
	r.mu.Unlock()

	r.dispatch(events)
	slices.Sort(left)
	return left
}

func (r *Registry) removeLocked(g *scrollsync.SyncGroup, tab scrollsync.TabID) []event {
	if !g.HasMember(tab) {
		return nil
	}
	g.MemberTabIDs = lo.Without(g.MemberTabIDs, tab)
	if !g.IsActive {
		return nil
	}
	if len(g.MemberTabIDs) < scrollsync.MinGroupSize {
		g.IsActive = false
		g.StoppedAt = r.clock.Now()
		r.logger.Info("[registry] group deactivated, too few members", "group", g.ID, "removed", tab)
		released := append([]scrollsync.TabID{tab}, g.MemberTabIDs...)
		return []event{{group: g.Clone(), released: released}}
	}
	return []event{{group: g.Clone(), released: []scrollsync.TabID{tab}, updated: true}}
}

// Stop deactivates the group and releases its members. The record is kept
// until Purge so the group can be resynced. Stopping an inactive group is a
// no-op.
func (r *Registry) Stop(id string) (scrollsync.SyncGroup, error) {
	r.mu.Lock()
	g, ok := r.groups[id]
	if !ok {
		r.mu.Unlock()
		return scrollsync.SyncGroup{}, fmt.Errorf("%w: %s", ErrGroupNotFound, id)
	}
	wasActive := g.IsActive
	if wasActive {
		g.IsActive = false
		g.StoppedAt = r.clock.Now()
	}
	out := g.Clone()
	r.mu.Unlock()

	if wasActive {
		r.notifier.TabsReleased(out, out.MemberTabIDs)
		r.logger.Info("[registry] group stopped", "group", id)
	}
	return out, nil
}

// Delete forgets a group record. Active groups are stopped first.
func (r *Registry) Delete(id string) {
	if _, err := r.Stop(id); err != nil {
		return
	}
	r.mu.Lock()
	delete(r.groups, id)
	r.mu.Unlock()
}

// Purge deletes inactive groups stopped more than retention ago and returns
// how many were removed.
func (r *Registry) Purge(retention time.Duration) int {
	cutoff := r.clock.Now().Add(-retention)
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, g := range r.groups {
		if !g.IsActive && !g.StoppedAt.After(cutoff) {
			delete(r.groups, id)
			n++
		}
	}
	return n
}
