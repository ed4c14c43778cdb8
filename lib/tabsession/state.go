package tabsession

import "github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/scrollsync"

// State is a tab's participation in sync.
type State int

const (
	Idle State = iota
	Syncing
	ManualOverride
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Syncing:
		return "syncing"
	case ManualOverride:
		return "manual-override"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Snapshot is a point-in-time copy of a session's state.
type Snapshot struct {
	TabID          scrollsync.TabID        `json:"tabId"`
	State          State                   `json:"state"`
	GroupID        string                  `json:"groupId,omitempty"`
	Mode           scrollsync.Mode         `json:"mode,omitempty"`
	Offset         scrollsync.ManualOffset `json:"offset"`
	LastGroupRatio float64                 `json:"lastGroupRatio"`
}
