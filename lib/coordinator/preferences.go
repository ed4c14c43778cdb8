package coordinator

import (
	"context"
	"errors"

	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/kvstore"
	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/scrollsync"
)

const preferencesKey = "preferences"

// Preferences are the user's last sync choices, used as defaults for the
// next start.
type Preferences struct {
	Mode           scrollsync.Mode    `json:"mode"`
	URLSyncEnabled bool               `json:"urlSyncEnabled"`
	SelectedTabIDs []scrollsync.TabID `json:"selectedTabIds"`
}

func defaultPreferences() Preferences {
	return Preferences{Mode: scrollsync.ModeRatio}
}

func loadPreferences(ctx context.Context, kv kvstore.Store) (Preferences, error) {
	p := defaultPreferences()
	err := kvstore.GetJSON(ctx, kv, preferencesKey, &p)
	if errors.Is(err, kvstore.ErrNotFound) {
		return defaultPreferences(), nil
	}
	if err != nil {
		return defaultPreferences(), err
	}
	if !p.Mode.Valid() {
		p.Mode = scrollsync.ModeRatio
	}
	return p, nil
}

func savePreferences(ctx context.Context, kv kvstore.Store, p Preferences) error {
	return kvstore.SetJSON(ctx, kv, preferencesKey, p)
}
