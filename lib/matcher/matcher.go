// Package matcher relocates an element described by a signature captured in
// one document inside another document.
package matcher

import (
	"context"
	"fmt"
	"strings"

	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/document"
	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/scrollsync"
)

// DefaultTextWindow is the number of leading characters compared by the
// text-similarity strategy.
const DefaultTextWindow = 40

// Strategy names the rule that produced a match.
type Strategy string

const (
	StrategyNone     Strategy = ""
	StrategyID       Strategy = "id"
	StrategyText     Strategy = "text"
	StrategyClass    Strategy = "class-index"
	StrategyTagIndex Strategy = "tag-index"
)

// Matcher locates elements by signature using a fixed fallback chain:
// id, text similarity, first class token plus index, raw tag index.
type Matcher struct {
	textWindow int
}

// New returns a matcher comparing textWindow leading characters; values
// below 1 use DefaultTextWindow.
func New(textWindow int) *Matcher {
	if textWindow < 1 {
		textWindow = DefaultTextWindow
	}
	return &Matcher{textWindow: textWindow}
}

// Locate returns the best match for sig in doc. ok is false when every
// strategy misses; callers fall back to ratio positioning in that case.
func (m *Matcher) Locate(ctx context.Context, doc document.Accessor, sig scrollsync.ElementSignature) (document.Element, Strategy, bool, error) {
	if sig.ID != "" {
		el, ok, err := doc.ElementByID(ctx, sig.ID)
		if err != nil {
			return document.Element{}, StrategyNone, false, fmt.Errorf("lookup id %q: %w", sig.ID, err)
		}
		if ok {
			return el, StrategyID, true, nil
		}
	}

	tag := strings.ToLower(sig.Tag)
	if tag == "" {
		return document.Element{}, StrategyNone, false, nil
	}
	sameTag, err := doc.ElementsByTag(ctx, tag)
	if err != nil {
		return document.Element{}, StrategyNone, false, fmt.Errorf("list %s elements: %w", tag, err)
	}

	if want := m.window(sig.TextContent); want != "" {
		for _, el := range sameTag {
			if m.textMatches(want, el.Text) {
				return el, StrategyText, true, nil
			}
		}
	}

	if class := document.FirstClass(sig.ClassName); class != "" {
		var sameClass []document.Element
		for _, el := range sameTag {
			if el.FirstClass() == class {
				sameClass = append(sameClass, el)
			}
		}
		if sig.Index >= 0 && sig.Index < len(sameClass) {
			return sameClass[sig.Index], StrategyClass, true, nil
		}
	}

	if sig.Index >= 0 && sig.Index < len(sameTag) {
		return sameTag[sig.Index], StrategyTagIndex, true, nil
	}
	return document.Element{}, StrategyNone, false, nil
}

// textMatches compares the leading windows of both texts: equal, or one is a
// prefix of the other. The comparison is case-sensitive.
func (m *Matcher) textMatches(want, candidate string) bool {
	got := m.window(candidate)
	if got == "" {
		return false
	}
	return got == want || strings.HasPrefix(got, want) || strings.HasPrefix(want, got)
}

func (m *Matcher) window(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) > m.textWindow {
		r = r[:m.textWindow]
	}
	return string(r)
}
