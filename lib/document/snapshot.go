package document

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
)

// Snapshot is an in-memory document: a flat list of elements in document
// order plus scroll geometry. ScrollTo moves the snapshot's own metrics, so
// it can stand in for a live page.
type Snapshot struct {
	mu       sync.Mutex
	metrics  Metrics
	elements []Element
	scrolls  int
}

// NewSnapshot builds a snapshot from elements listed in document order.
// Tags are lower-cased, per-tag indexes are recomputed and missing refs are
// filled in.
func NewSnapshot(m Metrics, elements []Element) *Snapshot {
	els := slices.Clone(elements)
	counts := map[string]int{}
	for i := range els {
		els[i].Tag = strings.ToLower(els[i].Tag)
		els[i].Index = counts[els[i].Tag]
		counts[els[i].Tag]++
		if els[i].Ref == "" {
			els[i].Ref = fmt.Sprintf("%s#%d", els[i].Tag, els[i].Index)
		}
	}
	return &Snapshot{metrics: m, elements: els}
}

// Metrics implements Accessor.
func (s *Snapshot) Metrics(context.Context) (Metrics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metrics, nil
}

// SetMetrics replaces the geometry, e.g. after the user scrolls.
func (s *Snapshot) SetMetrics(m Metrics) {
	s.mu.Lock()
	s.metrics = m
	s.mu.Unlock()
}

// ElementByID implements Accessor. The first element carrying the id wins,
// as with getElementById.
func (s *Snapshot) ElementByID(_ context.Context, id string) (Element, bool, error) {
	if id == "" {
		return Element{}, false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, el := range s.elements {
		if el.ID == id {
			return el, true, nil
		}
	}
	return Element{}, false, nil
}

// ElementsByTag implements Accessor.
func (s *Snapshot) ElementsByTag(_ context.Context, tag string) ([]Element, error) {
	tag = strings.ToLower(tag)
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Element
	for _, el := range s.elements {
		if el.Tag == tag {
			out = append(out, el)
		}
	}
	return out, nil
}

// Candidates implements Accessor.
func (s *Snapshot) Candidates(context.Context) ([]Element, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Element
	for _, el := range s.elements {
		if IsCandidateTag(el.Tag) {
			out = append(out, el)
		}
	}
	slices.SortStableFunc(out, func(a, b Element) int { return cmp.Compare(a.Top, b.Top) })
	return out, nil
}

// ScrollTo implements Accessor, clamping into the scrollable range.
func (s *Snapshot) ScrollTo(_ context.Context, left, top float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics.ScrollTop = min(max(top, 0), s.metrics.MaxScrollTop())
	s.metrics.ScrollLeft = min(max(left, 0), s.metrics.MaxScrollLeft())
	s.scrolls++
	return nil
}

// ScrollCount reports how many times ScrollTo was called.
func (s *Snapshot) ScrollCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scrolls
}
