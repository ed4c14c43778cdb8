// Package notice describes user-facing outcome messages for start, stop and
// resync operations.
package notice

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/scrollsync"
)

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Action is an affordance the UI can offer alongside a notice.
type Action string

const ActionRetry Action = "retry"

const (
	DefaultDismiss = 3 * time.Second
	ErrorDismiss   = 5 * time.Second
)

// Notice is a severity-tagged message that auto-dismisses.
type Notice struct {
	Severity       Severity `json:"severity"`
	Message        string   `json:"message"`
	Action         Action   `json:"action,omitempty"`
	DismissAfterMS int64    `json:"dismissAfterMs"`
}

func newNotice(sev Severity, d time.Duration, format string, args ...any) *Notice {
	return &Notice{Severity: sev, Message: fmt.Sprintf(format, args...), DismissAfterMS: d.Milliseconds()}
}

func Info(format string, args ...any) *Notice {
	return newNotice(SeverityInfo, DefaultDismiss, format, args...)
}

func Warning(format string, args ...any) *Notice {
	return newNotice(SeverityWarning, DefaultDismiss, format, args...)
}

func Error(format string, args ...any) *Notice {
	return newNotice(SeverityError, ErrorDismiss, format, args...)
}

// WithRetry marks the notice as offering a retry.
func (n *Notice) WithRetry() *Notice {
	n.Action = ActionRetry
	return n
}

// DismissAfter returns the auto-dismiss delay.
func (n *Notice) DismissAfter() time.Duration {
	return time.Duration(n.DismissAfterMS) * time.Millisecond
}

// ForConnection builds the notice for a start or resync outcome: info when
// every tab connected, a warning naming the failures when enough tabs still
// connected, and a retryable error otherwise.
func ForConnection(connected []scrollsync.TabID, results map[scrollsync.TabID]scrollsync.ConnectionResult) *Notice {
	failures := FailureSummary(results)
	switch {
	case len(connected) < scrollsync.MinGroupSize:
		if failures == "" {
			return Error("Sync needs at least %d tabs", scrollsync.MinGroupSize).WithRetry()
		}
		return Error("Could not connect enough tabs: %s", failures).WithRetry()
	case failures != "":
		return Warning("Syncing %d tabs; some tabs failed: %s", len(connected), failures)
	default:
		return Info("Syncing %d tabs", len(connected))
	}
}

// FailureSummary lists failed tabs with their reasons in tab order.
func FailureSummary(results map[scrollsync.TabID]scrollsync.ConnectionResult) string {
	var parts []string
	tabs := lo.Keys(results)
	slices.Sort(tabs)
	for _, tab := range tabs {
		r := results[tab]
		if r.Success {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s (%s)", tab, r.Error))
	}
	return strings.Join(parts, ", ")
}
