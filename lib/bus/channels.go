package bus

import "github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/scrollsync"

// Address names a bus endpoint.
type Address string

// Coordinator is the address of the coordinator context.
const Coordinator Address = "coordinator"

// TabAddress is the address of a tab's session.
func TabAddress(tab scrollsync.TabID) Address {
	return Address("tab:" + string(tab))
}

// Channel names a message kind. Each endpoint has at most one handler per
// channel.
type Channel string

// UI and tab facing channels.
const (
	SyncStart           Channel = "sync:start"
	SyncStop            Channel = "sync:stop"
	SyncGetStatus       Channel = "sync:get-status"
	SyncURLEnabled      Channel = "sync:url-enabled-changed"
	SyncModeChanged     Channel = "sync:mode-changed"
	SyncAddTab          Channel = "sync:add-tab"
	SyncRemoveTab       Channel = "sync:remove-tab"
	SyncResync          Channel = "sync:resync"
	SyncStarted         Channel = "sync:started"
	SyncStopped         Channel = "sync:stopped"
	GroupUpdated        Channel = "group:updated"
	ScrollSync          Channel = "scroll:sync"
	ScrollApply         Channel = "scroll:apply"
	ScrollManual        Channel = "scroll:manual"
	OffsetGet           Channel = "offset:get"
	OffsetClear         Channel = "offset:clear"
	URLNavigate         Channel = "url:navigate"
	TabUnreachable      Channel = "tab:unreachable"
	BrowserTabClosed    Channel = "browser:tab-closed"
	BrowserTabNavigated Channel = "browser:tab-navigated"
)

// Channels carrying browser events into a tab session.
const (
	DOMScroll   Channel = "dom:scroll"
	DOMKeyDown  Channel = "dom:keydown"
	DOMKeyUp    Channel = "dom:keyup"
	DOMBlur     Channel = "dom:blur"
	SampleFlush Channel = "sample:flush"
	// SessionState asks a tab session for a snapshot of its state.
	SessionState Channel = "session:state"
)
