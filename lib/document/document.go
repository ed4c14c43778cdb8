// Package document abstracts the parts of a page the scroll-sync logic needs:
// scroll geometry, element lookup and programmatic scrolling. Sampling and
// matching are written against Accessor so they can run over a live page
// (see lib/cdp) or an in-memory Snapshot.
package document

import (
	"context"
	"slices"
	"strings"

	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/scrollsync"
)

// Element is a read-only view of one DOM element.
type Element struct {
	// Ref is an accessor-specific handle; empty for elements that only exist
	// as a description.
	Ref       string  `json:"ref,omitempty"`
	Tag       string  `json:"tag"`
	ID        string  `json:"id,omitempty"`
	ClassName string  `json:"className,omitempty"`
	Text      string  `json:"text,omitempty"`
	Depth     int     `json:"depth"`
	Index     int     `json:"index"`
	Top       float64 `json:"top"`
}

// FirstClass returns the first whitespace-separated class token.
func (e Element) FirstClass() string {
	return FirstClass(e.ClassName)
}

// FirstClass returns the first whitespace-separated token of a class attribute.
func FirstClass(className string) string {
	fields := strings.Fields(className)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// Metrics is the document's scroll geometry.
type Metrics struct {
	ScrollTop    float64 `json:"scrollTop"`
	ScrollLeft   float64 `json:"scrollLeft"`
	ScrollHeight float64 `json:"scrollHeight"`
	ScrollWidth  float64 `json:"scrollWidth"`
	ClientHeight float64 `json:"clientHeight"`
	ClientWidth  float64 `json:"clientWidth"`
}

// MaxScrollTop is the largest reachable vertical offset (never negative).
func (m Metrics) MaxScrollTop() float64 {
	return max(m.ScrollHeight-m.ClientHeight, 0)
}

// MaxScrollLeft is the largest reachable horizontal offset (never negative).
func (m Metrics) MaxScrollLeft() float64 {
	return max(m.ScrollWidth-m.ClientWidth, 0)
}

// Ratio is the vertical scroll ratio; 0 when nothing scrolls.
func (m Metrics) Ratio() float64 {
	return scrollsync.ScrollRatio(m.ScrollTop, m.ScrollHeight, m.ClientHeight)
}

// HorizontalRatio is the horizontal scroll ratio; 0 when nothing scrolls.
func (m Metrics) HorizontalRatio() float64 {
	return scrollsync.ScrollRatio(m.ScrollLeft, m.ScrollWidth, m.ClientWidth)
}

// Accessor is the capability the sampler and matcher use to read and move a page.
type Accessor interface {
	Metrics(ctx context.Context) (Metrics, error)
	// ElementByID resolves a DOM id directly.
	ElementByID(ctx context.Context, id string) (Element, bool, error)
	// ElementsByTag returns all elements with the tag in document order.
	ElementsByTag(ctx context.Context, tag string) ([]Element, error)
	// Candidates returns the anchor candidates ordered by vertical position.
	Candidates(ctx context.Context) ([]Element, error)
	ScrollTo(ctx context.Context, left, top float64) error
}

// CandidateTags is the fixed set of elements considered as scroll anchors:
// headings, paragraphs, images, tables, sections and semantic containers.
var CandidateTags = []string{
	"h1", "h2", "h3", "h4", "h5", "h6",
	"p", "img", "table", "pre", "blockquote", "figure",
	"section", "article", "main", "header", "footer", "aside", "nav",
}

// IsCandidateTag reports whether tag belongs to CandidateTags.
func IsCandidateTag(tag string) bool {
	return slices.Contains(CandidateTags, strings.ToLower(tag))
}
