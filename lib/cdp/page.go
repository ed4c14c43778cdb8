package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"

	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/document"
	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/scrollsync"
)

// Page is an attached page target. It implements document.Accessor by
// evaluating scripts in the target's session, and navigates the tab.
type Page struct {
	conn      *Conn
	tab       scrollsync.TabID
	sessionID string
	logger    *slog.Logger
}

var _ document.Accessor = (*Page)(nil)

func newPage(conn *Conn, tab scrollsync.TabID, sessionID string, logger *slog.Logger) *Page {
	return &Page{conn: conn, tab: tab, sessionID: sessionID, logger: logger}
}

func (p *Page) TabID() scrollsync.TabID { return p.tab }

// SessionID is the flattened CDP session the page is attached through.
func (p *Page) SessionID() string { return p.sessionID }

func (p *Page) Metrics(ctx context.Context) (document.Metrics, error) {
	var m document.Metrics
	if err := p.evaluateJSON(ctx, metricsScript, &m); err != nil {
		return document.Metrics{}, fmt.Errorf("read metrics: %w", err)
	}
	return m, nil
}

func (p *Page) ElementByID(ctx context.Context, id string) (document.Element, bool, error) {
	if id == "" {
		return document.Element{}, false, nil
	}
	var el *document.Element
	if err := p.evaluateJSON(ctx, elementByIDScript(id), &el); err != nil {
		return document.Element{}, false, err
	}
	if el == nil {
		return document.Element{}, false, nil
	}
	return *el, true, nil
}

func (p *Page) ElementsByTag(ctx context.Context, tag string) ([]document.Element, error) {
	var els []document.Element
	if err := p.evaluateJSON(ctx, elementsByTagScript(tag), &els); err != nil {
		return nil, err
	}
	return els, nil
}

func (p *Page) Candidates(ctx context.Context) ([]document.Element, error) {
	var els []document.Element
	if err := p.evaluateJSON(ctx, candidatesScript(), &els); err != nil {
		return nil, err
	}
	return els, nil
}

func (p *Page) ScrollTo(ctx context.Context, left, top float64) error {
	_, err := p.evaluate(ctx, scrollToScript(left, top))
	return err
}

// Navigate loads url in the tab.
func (p *Page) Navigate(ctx context.Context, url string) error {
	var res page.NavigateReturns
	if err := p.conn.Call(ctx, page.CommandNavigate, page.Navigate(url), p.sessionID, &res); err != nil {
		return err
	}
	if res.ErrorText != "" {
		return fmt.Errorf("navigate: %s", res.ErrorText)
	}
	return nil
}

// evaluateJSON runs a script that returns a JSON string and decodes it.
func (p *Page) evaluateJSON(ctx context.Context, expr string, out any) error {
	raw, err := p.evaluate(ctx, expr)
	if err != nil {
		return err
	}
	var encoded string
	if err := json.Unmarshal(raw, &encoded); err != nil {
		return fmt.Errorf("expected JSON string result: %w", err)
	}
	if err := json.Unmarshal([]byte(encoded), out); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}

func (p *Page) evaluate(ctx context.Context, expr string) (json.RawMessage, error) {
	return evaluate(ctx, p.conn, p.sessionID, expr)
}

func evaluate(ctx context.Context, conn *Conn, sessionID, expr string) (json.RawMessage, error) {
	var res runtime.EvaluateReturns
	params := runtime.Evaluate(expr).WithReturnByValue(true).WithAwaitPromise(true)
	if err := conn.Call(ctx, runtime.CommandEvaluate, params, sessionID, &res); err != nil {
		return nil, err
	}
	if res.ExceptionDetails != nil {
		return nil, exceptionError(res.ExceptionDetails)
	}
	if res.Result == nil {
		return nil, errors.New("evaluate returned no result")
	}
	return json.RawMessage(res.Result.Value), nil
}

func exceptionError(d *runtime.ExceptionDetails) error {
	msg := d.Text
	if d.Exception != nil && d.Exception.Description != "" {
		msg = d.Exception.Description
	}
	return fmt.Errorf("page script error: %s", msg)
}
