package matcher

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/document"
	"github.com/jaem1n207/synchronize-tab-scrolling-sub000/lib/scrollsync"
)

func page() *document.Snapshot {
	return document.NewSnapshot(document.Metrics{ScrollHeight: 5000, ClientHeight: 1000}, []document.Element{
		{Tag: "h2", Text: "Installation", Top: 100},
		{Tag: "p", ClassName: "lead intro", Text: "Welcome to the guide for the scroll sync extension", Top: 200},
		{Tag: "p", ClassName: "note", Text: "Remember to pin the extension", Top: 400},
		{Tag: "p", ID: "usage", Text: "Select two or more tabs", Top: 600},
		{Tag: "p", ClassName: "note", Text: "Hold Alt to adjust one tab", Top: 800},
	})
}

func TestLocateIDWinsOverTextAndIndex(t *testing.T) {
	t.Parallel()
	m := New(0)
	// Text and index both point at other paragraphs; the id must still win.
	sig := scrollsync.ElementSignature{Tag: "p", ID: "usage", TextContent: "Remember to pin the extension", Index: 0}

	el, strategy, ok, err := m.Locate(t.Context(), page(), sig)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StrategyID, strategy)
	assert.Equal(t, 600.0, el.Top)
}

func TestLocateTextSimilarity(t *testing.T) {
	t.Parallel()
	m := New(30)

	tests := []struct {
		name string
		text string
		top  float64
	}{
		{"exact", "Remember to pin the extension", 400},
		{"signature is prefix of candidate", "Welcome to the guide", 200},
		{"candidate is prefix of signature", "Installation and setup", 100},
		{"differs only after the window", "Welcome to the guide for the sXXXXXXXXXX", 200},
		{"whitespace collapsed", "Select   two or\nmore tabs", 600},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			tag := "p"
			if tc.top == 100 {
				tag = "h2"
			}
			el, strategy, ok, err := m.Locate(t.Context(), page(), scrollsync.ElementSignature{Tag: tag, TextContent: tc.text, Index: 99})
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, StrategyText, strategy)
			assert.Equal(t, tc.top, el.Top)
		})
	}
}

func TestLocateTextIsCaseSensitive(t *testing.T) {
	t.Parallel()
	el, strategy, ok, err := New(0).Locate(t.Context(), page(), scrollsync.ElementSignature{Tag: "p", TextContent: "remember to pin", Index: 0})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StrategyTagIndex, strategy)
	assert.Equal(t, 200.0, el.Top)
}

func TestLocateClassIndex(t *testing.T) {
	t.Parallel()
	sig := scrollsync.ElementSignature{Tag: "p", ClassName: "note extra", TextContent: "changed copy", Index: 1}
	el, strategy, ok, err := New(0).Locate(t.Context(), page(), sig)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StrategyClass, strategy)
	assert.Equal(t, 800.0, el.Top)
}

func TestLocateTagIndexFallback(t *testing.T) {
	t.Parallel()
	sig := scrollsync.ElementSignature{Tag: "P", ClassName: "missing", Index: 2}
	el, strategy, ok, err := New(0).Locate(t.Context(), page(), sig)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StrategyTagIndex, strategy)
	assert.Equal(t, 600.0, el.Top)
}

func TestLocateOutOfBoundsReturnsNoMatch(t *testing.T) {
	t.Parallel()
	for _, sig := range []scrollsync.ElementSignature{
		{Tag: "p", Index: 10},
		{Tag: "p", Index: -1},
		{Tag: "table", Index: 0},
		{Tag: "", ID: "nope"},
	} {
		_, strategy, ok, err := New(0).Locate(t.Context(), page(), sig)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, StrategyNone, strategy)
	}
}

type failingDoc struct{ document.Accessor }

func (failingDoc) ElementByID(context.Context, string) (document.Element, bool, error) {
	return document.Element{}, false, errors.New("session detached")
}

func TestLocatePropagatesAccessorErrors(t *testing.T) {
	t.Parallel()
	_, _, ok, err := New(0).Locate(t.Context(), failingDoc{}, scrollsync.ElementSignature{Tag: "p", ID: "x"})
	require.Error(t, err)
	assert.False(t, ok)
}
