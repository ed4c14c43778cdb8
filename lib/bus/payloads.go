package bus

import (
	"time"

	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/notice"
	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/scrollsync"
)

type StartRequest struct {
	TabIDs       []scrollsync.TabID `json:"tabIds"`
	Mode         scrollsync.Mode    `json:"mode,omitempty"`
	CurrentTabID scrollsync.TabID   `json:"currentTabId,omitempty"`
	// URLSync is nil when the caller wants the saved preference.
	URLSync *bool `json:"urlSync,omitempty"`
}

type StartResponse struct {
	Success           bool                                             `json:"success"`
	GroupID           string                                           `json:"groupId,omitempty"`
	ConnectedTabs     []scrollsync.TabID                               `json:"connectedTabs"`
	ConnectionResults map[scrollsync.TabID]scrollsync.ConnectionResult `json:"connectionResults"`
	Error             string                                           `json:"error,omitempty"`
	Notice            *notice.Notice                                   `json:"notice,omitempty"`
}

type StopRequest struct {
	TabIDs []scrollsync.TabID `json:"tabIds"`
}

// Ack acknowledges a request that has no other result.
type Ack struct {
	Success bool `json:"success"`
}

type StopResponse struct {
	Success bool           `json:"success"`
	Notice  *notice.Notice `json:"notice,omitempty"`
}

type TabStatus struct {
	Status         scrollsync.ConnectionStatus `json:"status"`
	ManualOverride bool                        `json:"manualOverride,omitempty"`
	LastSampleAt   time.Time                   `json:"lastSampleAt,omitzero"`
	Error          string                      `json:"error,omitempty"`
}

type StatusResponse struct {
	IsActive           bool                           `json:"isActive"`
	GroupID            string                         `json:"groupId,omitempty"`
	Mode               scrollsync.Mode                `json:"mode,omitempty"`
	URLSyncEnabled     bool                           `json:"urlSyncEnabled"`
	ConnectedTabs      []scrollsync.TabID             `json:"connectedTabs"`
	ConnectionStatuses map[scrollsync.TabID]TabStatus `json:"connectionStatuses"`
	Groups             []scrollsync.SyncGroup         `json:"groups"`
}

type ManualRequest struct {
	TabID   scrollsync.TabID `json:"tabId"`
	Enabled bool             `json:"enabled"`
}

type URLSyncRequest struct {
	GroupID string `json:"groupId,omitempty"`
	Enabled bool   `json:"enabled"`
}

type ModeRequest struct {
	GroupID string          `json:"groupId"`
	Mode    scrollsync.Mode `json:"mode"`
}

type MembershipRequest struct {
	GroupID string           `json:"groupId"`
	TabID   scrollsync.TabID `json:"tabId"`
}

type ResyncRequest struct {
	GroupID string `json:"groupId"`
}

type OffsetRequest struct {
	TabID scrollsync.TabID `json:"tabId"`
}

type StartedPayload struct {
	Group  scrollsync.SyncGroup    `json:"group"`
	Offset scrollsync.ManualOffset `json:"offset"`
}

type StoppedPayload struct {
	GroupID string `json:"groupId"`
}

type ApplyPayload struct {
	Instruction scrollsync.Instruction `json:"instruction"`
}

type NavigatePayload struct {
	URL string `json:"url"`
}

type TabEvent struct {
	TabID   scrollsync.TabID `json:"tabId"`
	GroupID string           `json:"groupId,omitempty"`
	URL     string           `json:"url,omitempty"`
}

// KeyEvent is a modifier key transition observed in a tab.
type KeyEvent struct {
	Key string `json:"key"`
}
