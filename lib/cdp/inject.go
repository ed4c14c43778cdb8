package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"

	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/scrollsync"
)

var (
	// ErrRestrictedURL means the tab shows a page scripts may not run in.
	ErrRestrictedURL = errors.New("restricted url")
	ErrTabNotFound   = errors.New("tab not found")
)

// URLPolicy decides which pages may not be injected.
type URLPolicy interface {
	Restricted(rawURL string) (reason string, restricted bool)
}

// Binding is one content shim report from an attached session.
type Binding struct {
	SessionID string
	Event     BindingEvent
}

// DecodeBinding extracts a content shim report from a protocol event.
func DecodeBinding(ev Event) (Binding, bool) {
	if ev.Method != eventBindingCalled {
		return Binding{}, false
	}
	var params runtime.EventBindingCalled
	if err := json.Unmarshal(ev.Params, &params); err != nil || params.Name != BindingName {
		return Binding{}, false
	}
	var be BindingEvent
	if err := json.Unmarshal([]byte(params.Payload), &be); err != nil {
		return Binding{}, false
	}
	return Binding{SessionID: ev.SessionID, Event: be}, true
}

// DecodeDetached reports the session id of a Target.detachedFromTarget event.
func DecodeDetached(ev Event) (string, bool) {
	if ev.Method != eventDetachedFromTarget {
		return "", false
	}
	var params target.EventDetachedFromTarget
	if err := json.Unmarshal(ev.Params, &params); err != nil {
		return "", false
	}
	return string(params.SessionID), true
}

// Injector attaches to page targets and installs the content shim.
type Injector struct {
	conn    *Conn
	browser *Browser
	policy  URLPolicy
	script  string
	logger  *slog.Logger
}

func NewInjector(conn *Conn, browser *Browser, policy URLPolicy, modifierKey string, logger *slog.Logger) *Injector {
	return &Injector{
		conn:    conn,
		browser: browser,
		policy:  policy,
		script:  shimScript(modifierKey),
		logger:  logger,
	}
}

// Attach checks the tab's URL, attaches to it and installs the shim. The
// returned page stays attached until Detach.
func (i *Injector) Attach(ctx context.Context, tab scrollsync.TabID) (*Page, error) {
	t, ok, err := i.browser.Get(ctx, tab)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTabNotFound, tab)
	}
	if i.policy != nil {
		if reason, restricted := i.policy.Restricted(t.URL); restricted {
			return nil, fmt.Errorf("%w: %s", ErrRestrictedURL, reason)
		}
	}

	var attached target.AttachToTargetReturns
	params := target.AttachToTarget(target.ID(tab)).WithFlatten(true)
	if err := i.conn.Call(ctx, target.CommandAttachToTarget, params, "", &attached); err != nil {
		return nil, fmt.Errorf("attachToTarget: %w", err)
	}
	sessionID := string(attached.SessionID)

	if err := i.setupSession(ctx, sessionID); err != nil {
		if derr := i.Detach(context.WithoutCancel(ctx), sessionID); derr != nil {
			i.logger.Debug("[inject] detach after failed setup", "tab", tab, "err", derr)
		}
		return nil, err
	}
	i.logger.Info("[inject] attached", "tab", tab, "session", sessionID, "url", t.URL)
	return newPage(i.conn, tab, sessionID, i.logger), nil
}

func (i *Injector) setupSession(ctx context.Context, sessionID string) error {
	if err := i.conn.Call(ctx, runtime.CommandAddBinding, runtime.AddBinding(BindingName), sessionID, nil); err != nil {
		return fmt.Errorf("addBinding: %w", err)
	}
	if err := i.conn.Call(ctx, runtime.CommandEnable, runtime.Enable(), sessionID, nil); err != nil {
		return fmt.Errorf("Runtime.enable: %w", err)
	}
	if err := i.conn.Call(ctx, page.CommandEnable, page.Enable(), sessionID, nil); err != nil {
		return fmt.Errorf("Page.enable: %w", err)
	}
	if err := i.conn.Call(ctx, page.CommandAddScriptToEvaluateOnNewDocument, page.AddScriptToEvaluateOnNewDocument(i.script), sessionID, nil); err != nil {
		return fmt.Errorf("addScriptToEvaluateOnNewDocument: %w", err)
	}
	if _, err := evaluate(ctx, i.conn, sessionID, i.script); err != nil {
		return fmt.Errorf("install shim: %w", err)
	}
	return nil
}

// Detach ends an attached session.
func (i *Injector) Detach(ctx context.Context, sessionID string) error {
	params := target.DetachFromTarget().WithSessionID(target.SessionID(sessionID))
	return i.conn.Call(ctx, target.CommandDetachFromTarget, params, "", nil)
}
