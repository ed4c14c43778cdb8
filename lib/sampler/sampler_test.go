package sampler

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/clock"
	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/document"
	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/scrollsync"
)

func TestSampleRatioMode(t *testing.T) {
	t.Parallel()
	clk := clock.NewFake(time.Unix(100, 0))
	doc := document.NewSnapshot(document.Metrics{ScrollTop: 500, ScrollHeight: 2000, ClientHeight: 1000}, []document.Element{{Tag: "p", Top: 480}})
	s := New("A", doc, clk, 0)

	sample, err := s.Sample(t.Context(), scrollsync.ModeRatio, 0)
	require.NoError(t, err)
	assert.Equal(t, scrollsync.TabID("A"), sample.SourceTabID)
	assert.InDelta(t, 0.5, sample.Ratio(), 1e-9)
	assert.InDelta(t, 0.5, sample.GroupRatio(), 1e-9)
	assert.Nil(t, sample.ElementContext)
	assert.Equal(t, clk.Now(), sample.Timestamp)
}

func TestSampleRemovesManualOffsetFromGroupRatio(t *testing.T) {
	t.Parallel()
	doc := document.NewSnapshot(document.Metrics{ScrollTop: 400, ScrollHeight: 2000, ClientHeight: 1000}, nil)
	s := New("A", doc, nil, 0)

	sample, err := s.Sample(t.Context(), scrollsync.ModeRatio, 0.1)
	require.NoError(t, err)
	assert.InDelta(t, 0.4, sample.Ratio(), 1e-9)
	assert.InDelta(t, 0.3, sample.GroupRatio(), 1e-9)

	sample, err = s.Sample(t.Context(), scrollsync.ModeRatio, 0.5)
	require.NoError(t, err)
	assert.Equal(t, 0.0, sample.GroupRatio())
}

func TestSampleZeroScrollableRange(t *testing.T) {
	t.Parallel()
	doc := document.NewSnapshot(document.Metrics{ScrollTop: 0, ScrollHeight: 1000, ClientHeight: 1000}, nil)
	sample, err := New("A", doc, nil, 0).Sample(t.Context(), scrollsync.ModeRatio, 0.2)
	require.NoError(t, err)
	assert.Equal(t, 0.0, sample.Ratio())
	assert.Equal(t, 0.0, sample.GroupRatio())
	assert.False(t, math.IsNaN(sample.Ratio()))
}

func TestSampleElementModePicksNearestCandidate(t *testing.T) {
	t.Parallel()
	long := strings.Repeat("word ", 50)
	doc := document.NewSnapshot(document.Metrics{ScrollTop: 620, ScrollHeight: 3000, ClientHeight: 1000}, []document.Element{
		{Tag: "h1", ID: "top", Top: 0, Depth: 3},
		{Tag: "p", Top: 300, Text: "first"},
		{Tag: "div", Top: 610},
		{Tag: "p", ClassName: " lead ", Top: 650, Text: long, Depth: 5},
		{Tag: "img", Top: 900},
	})
	s := New("A", doc, nil, 20)

	sample, err := s.Sample(t.Context(), scrollsync.ModeElement, 0)
	require.NoError(t, err)
	require.NotNil(t, sample.ElementContext)
	sig := sample.ElementContext.Signature
	assert.Equal(t, "p", sig.Tag)
	assert.Equal(t, 1, sig.Index)
	assert.Equal(t, 5, sig.Depth)
	assert.Equal(t, "lead", sig.ClassName)
	assert.Len(t, []rune(sig.TextContent), 20)
	assert.Equal(t, 620.0, sample.ElementContext.ScrollTop)
	assert.Equal(t, 3000.0, sample.ElementContext.PageHeight)
	assert.Equal(t, 650.0, sample.ElementContext.ElementTop)
}

func TestSampleElementModeWithoutCandidates(t *testing.T) {
	t.Parallel()
	doc := document.NewSnapshot(document.Metrics{ScrollTop: 10, ScrollHeight: 3000, ClientHeight: 1000}, []document.Element{{Tag: "div"}})
	sample, err := New("A", doc, nil, 0).Sample(t.Context(), scrollsync.ModeElement, 0)
	require.NoError(t, err)
	assert.Nil(t, sample.ElementContext)
	assert.Equal(t, scrollsync.ModeElement, sample.Mode)
}

func TestThrottleTrailingEdge(t *testing.T) {
	t.Parallel()
	clk := clock.NewFake(time.Unix(0, 0))
	fired := 0
	th := NewThrottle(clk, 50*time.Millisecond, func() { fired++ })

	th.Trigger()
	clk.Advance(20 * time.Millisecond)
	th.Trigger()
	th.Trigger()
	assert.Equal(t, 0, fired, "nothing fires on the leading edge")

	clk.Advance(30 * time.Millisecond)
	assert.Equal(t, 1, fired, "one call for the whole window")

	clk.Advance(100 * time.Millisecond)
	assert.Equal(t, 1, fired, "quiet period fires nothing")

	th.Trigger()
	clk.Advance(49 * time.Millisecond)
	assert.Equal(t, 1, fired)
	clk.Advance(time.Millisecond)
	assert.Equal(t, 2, fired)
}

func TestThrottleCancelAndStop(t *testing.T) {
	t.Parallel()
	clk := clock.NewFake(time.Unix(0, 0))
	fired := 0
	th := NewThrottle(clk, 0, func() { fired++ })

	th.Trigger()
	th.Cancel()
	clk.Advance(time.Second)
	assert.Equal(t, 0, fired)

	th.Stop()
	th.Trigger()
	clk.Advance(time.Second)
	assert.Equal(t, 0, fired)
	assert.Equal(t, 0, clk.Pending())
}
