// Package scrollsync holds the value types shared by the coordinator and the
// per-tab sessions: sync groups, scroll samples, element signatures, manual
// offsets and the instructions the relay sends to tabs.
package scrollsync

import (
	"slices"
	"time"
)

// TabID identifies a browser tab. For CDP-driven tabs it is the page target id.
type TabID string

// Mode is the positioning strategy used by a sync group.
type Mode string

const (
	ModeRatio   Mode = "ratio"
	ModeElement Mode = "element"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeRatio || m == ModeElement
}

// MinGroupSize is the smallest membership a group can keep and stay valid.
const MinGroupSize = 2

// SyncGroup is the coordinator-owned record of tabs kept in correspondence.
// Tabs only ever hold a copy of it.
type SyncGroup struct {
	ID             string    `json:"id"`
	MemberTabIDs   []TabID   `json:"memberTabIds"`
	IsActive       bool      `json:"isActive"`
	Mode           Mode      `json:"mode"`
	URLSyncEnabled bool      `json:"urlSyncEnabled"`
	CreatedAt      time.Time `json:"createdAt"`
	// StoppedAt is set when the group is deactivated and drives retention.
	StoppedAt time.Time `json:"stoppedAt,omitzero"`
}

// HasMember reports whether tab is in the group.
func (g SyncGroup) HasMember(tab TabID) bool {
	return slices.Contains(g.MemberTabIDs, tab)
}

// Clone returns a deep copy safe to hand to another context.
func (g SyncGroup) Clone() SyncGroup {
	g.MemberTabIDs = slices.Clone(g.MemberTabIDs)
	return g
}

// ElementSignature is a compact, serializable description of a DOM element
// used to find an equivalent element in another document.
type ElementSignature struct {
	Tag         string `json:"tag"`
	ID          string `json:"id,omitempty"`
	ClassName   string `json:"className,omitempty"`
	TextContent string `json:"textContent,omitempty"`
	Depth       int    `json:"depth"`
	Index       int    `json:"index"`
}

// ElementContext anchors an element-mode sample to the element nearest the
// viewport top at capture time.
type ElementContext struct {
	Signature  ElementSignature `json:"signature"`
	ScrollTop  float64          `json:"scrollTop"`
	PageHeight float64          `json:"pageHeight"`
	// ElementTop is the anchor's document-relative top; ScrollTop-ElementTop
	// is how far past the anchor the viewport was.
	ElementTop float64 `json:"elementTop"`
}

// ScrollSample is one throttled observation of a tab's scroll position.
type ScrollSample struct {
	SourceTabID    TabID           `json:"sourceTabId"`
	Mode           Mode            `json:"mode"`
	ScrollTop      float64         `json:"scrollTop"`
	ScrollHeight   float64         `json:"scrollHeight"`
	ClientHeight   float64         `json:"clientHeight"`
	ScrollLeft     float64         `json:"scrollLeft"`
	ScrollWidth    float64         `json:"scrollWidth"`
	ClientWidth    float64         `json:"clientWidth"`
	Timestamp      time.Time       `json:"timestamp"`
	ElementContext *ElementContext `json:"elementContext,omitempty"`
	// OffsetRatio is the source tab's manual offset at capture time.
	OffsetRatio float64 `json:"offsetRatio,omitempty"`
}

// GroupRatio is the position the sample reports to the group: the source's
// own vertical ratio with its manual offset removed, kept within [0, 1].
func (s ScrollSample) GroupRatio() float64 {
	if s.ScrollHeight-s.ClientHeight <= 0 {
		return 0
	}
	return Clamp(s.Ratio()-s.OffsetRatio, 0, 1)
}

// Ratio is the sample's vertical position as a fraction of its scrollable range.
func (s ScrollSample) Ratio() float64 {
	return ScrollRatio(s.ScrollTop, s.ScrollHeight, s.ClientHeight)
}

// HorizontalRatio is the sample's horizontal position as a fraction of its range.
func (s ScrollSample) HorizontalRatio() float64 {
	return ScrollRatio(s.ScrollLeft, s.ScrollWidth, s.ClientWidth)
}

// Instruction tells a receiving tab where to scroll.
type Instruction struct {
	GroupID         string          `json:"groupId"`
	SourceTabID     TabID           `json:"sourceTabId"`
	Mode            Mode            `json:"mode"`
	Ratio           float64         `json:"ratio"`
	HorizontalRatio float64         `json:"horizontalRatio"`
	ElementContext  *ElementContext `json:"elementContext,omitempty"`
	Timestamp       time.Time       `json:"timestamp"`
}

// ManualOffset is a tab's persisted personal adjustment relative to the group.
type ManualOffset struct {
	TabID        TabID   `json:"tabId"`
	OffsetRatio  float64 `json:"offsetRatio"`
	OffsetPixels float64 `json:"offsetPixels"`
}

// ConnectionStatus is the coordinator's view of one tab's sync capability.
type ConnectionStatus string

const (
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusError        ConnectionStatus = "error"
)

// ConnectionResult is the per-tab outcome of a connection attempt.
type ConnectionResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}
