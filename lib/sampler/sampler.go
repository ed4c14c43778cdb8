// Package sampler turns a page's scroll state into ScrollSamples and rate
// limits how often a tab reports them.
package sampler

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/clock"
	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/document"
	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/scrollsync"
)

// DefaultTextLimit bounds the text prefix stored in a signature.
const DefaultTextLimit = 100

// Sampler reads one tab's document.
type Sampler struct {
	tab       scrollsync.TabID
	doc       document.Accessor
	clock     clock.Clock
	textLimit int
}

// New returns a sampler for tab reading doc.
func New(tab scrollsync.TabID, doc document.Accessor, clk clock.Clock, textLimit int) *Sampler {
	if textLimit < 1 {
		textLimit = DefaultTextLimit
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Sampler{tab: tab, doc: doc, clock: clk, textLimit: textLimit}
}

// Sample captures the current position. offsetRatio is the tab's manual
// offset, carried so the group position excludes it. In element mode the
// nearest candidate is attached when one exists.
func (s *Sampler) Sample(ctx context.Context, mode scrollsync.Mode, offsetRatio float64) (scrollsync.ScrollSample, error) {
	m, err := s.doc.Metrics(ctx)
	if err != nil {
		return scrollsync.ScrollSample{}, fmt.Errorf("read metrics: %w", err)
	}
	sample := scrollsync.ScrollSample{
		SourceTabID:  s.tab,
		Mode:         mode,
		ScrollTop:    m.ScrollTop,
		ScrollHeight: m.ScrollHeight,
		ClientHeight: m.ClientHeight,
		ScrollLeft:   m.ScrollLeft,
		ScrollWidth:  m.ScrollWidth,
		ClientWidth:  m.ClientWidth,
		Timestamp:    s.clock.Now(),
	}
	if m.MaxScrollTop() > 0 {
		sample.OffsetRatio = offsetRatio
	}

	if mode != scrollsync.ModeElement {
		return sample, nil
	}
	el, ok, err := s.nearest(ctx, m.ScrollTop)
	if err != nil {
		return scrollsync.ScrollSample{}, err
	}
	if ok {
		sample.ElementContext = &scrollsync.ElementContext{
			Signature:  s.Signature(el),
			ScrollTop:  m.ScrollTop,
			PageHeight: m.ScrollHeight,
			ElementTop: el.Top,
		}
	}
	return sample, nil
}

// Signature describes el for matching in another document.
func (s *Sampler) Signature(el document.Element) scrollsync.ElementSignature {
	return scrollsync.ElementSignature{
		Tag:         strings.ToLower(el.Tag),
		ID:          el.ID,
		ClassName:   strings.TrimSpace(el.ClassName),
		TextContent: truncate(el.Text, s.textLimit),
		Depth:       el.Depth,
		Index:       el.Index,
	}
}

// nearest returns the candidate whose top is closest to scrollTop. Ties go
// to the earlier candidate.
func (s *Sampler) nearest(ctx context.Context, scrollTop float64) (document.Element, bool, error) {
	cands, err := s.doc.Candidates(ctx)
	if err != nil {
		return document.Element{}, false, fmt.Errorf("list anchor candidates: %w", err)
	}
	best, bestDist := -1, math.Inf(1)
	for i, el := range cands {
		if d := math.Abs(el.Top - scrollTop); d < bestDist {
			best, bestDist = i, d
		}
	}
	if best < 0 {
		return document.Element{}, false, nil
	}
	return cands[best], true, nil
}

func truncate(s string, limit int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) > limit {
		return string(r[:limit])
	}
	return s
}
