package override

import (
	"context"
	"errors"

	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/kvstore"
	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/scrollsync"
)

const keyPrefix = "manual-offset:"

// Key is the persistence key of a tab's offset.
func Key(tab scrollsync.TabID) string { return keyPrefix + string(tab) }

// Store persists offsets, one key per tab. Only the tab itself writes its
// key, so last-writer-wins needs no locking.
type Store struct {
	kv kvstore.Store
}

func NewStore(kv kvstore.Store) *Store {
	return &Store{kv: kv}
}

// Load returns the tab's offset, or a zero offset if none was saved.
func (s *Store) Load(ctx context.Context, tab scrollsync.TabID) (scrollsync.ManualOffset, error) {
	var off scrollsync.ManualOffset
	err := kvstore.GetJSON(ctx, s.kv, Key(tab), &off)
	if errors.Is(err, kvstore.ErrNotFound) {
		return scrollsync.ManualOffset{TabID: tab}, nil
	}
	if err != nil {
		return scrollsync.ManualOffset{TabID: tab}, err
	}
	off.TabID = tab
	return off, nil
}

// Save writes off. The ratio is always stored within ±0.5.
func (s *Store) Save(ctx context.Context, off scrollsync.ManualOffset) error {
	off.OffsetRatio, _ = scrollsync.ClampOffset(off.OffsetRatio)
	return kvstore.SetJSON(ctx, s.kv, Key(off.TabID), off)
}

// Clear removes the tab's offset.
func (s *Store) Clear(ctx context.Context, tab scrollsync.TabID) error {
	return s.kv.Delete(ctx, Key(tab))
}
