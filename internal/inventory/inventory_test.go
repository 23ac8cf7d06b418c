package inventory

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveTitle(t *testing.T) {
	testCases := []struct {
		name     string
		display  string
		title    string
		expected string
	}{
		{name: "display name wins", display: "Widget Pro", title: "Widget", expected: "Widget Pro"},
		{name: "falls back to title", display: "", title: "Widget", expected: "Widget"},
		{name: "placeholder title", display: "", title: "Default Title", expected: UnknownTitle},
		{name: "placeholder display name", display: "Default Title", title: "Widget", expected: "Widget"},
		{name: "whitespace only", display: "  ", title: "", expected: UnknownTitle},
		{name: "nothing", expected: UnknownTitle},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.expected, ResolveTitle(tc.display, tc.title))
		})
	}
}

func TestKeyScopedBySite(t *testing.T) {
	a := Item{ID: "1", Site: "https://a.example/products/x"}
	b := Item{ID: "1", Site: "https://b.example/products/x"}
	require.NotEqual(t, a.Key(), b.Key())
	require.Equal(t, a.Key(), Item{ID: "1", Site: a.Site, Title: "other"}.Key())
}

func TestEventKindNames(t *testing.T) {
	for kind, name := range eventKindNames {
		parsed, err := ParseEventKind(name)
		require.NoError(t, err)
		require.Equal(t, kind, parsed)
		require.Equal(t, name, kind.String())
	}

	_, err := ParseEventKind("Price_Changed")
	require.True(t, errors.Is(err, ErrUnsupportedEventKind))

	require.False(t, EventKind(99).Valid())
	require.False(t, EventFalsePositive.Notifiable())
	require.True(t, EventStatusUpdate.Notifiable())
}

func TestEventSubject(t *testing.T) {
	before := Item{ID: "1", Title: "before"}
	after := Item{ID: "1", Title: "after"}

	subject, ok := Event{Kind: EventQuantityChanged, Before: &before, After: &after}.Subject()
	require.True(t, ok)
	require.Equal(t, "after", subject.Title)

	subject, ok = Event{Kind: EventItemRemoved, Before: &before}.Subject()
	require.True(t, ok)
	require.Equal(t, "before", subject.Title)

	_, ok = Event{}.Subject()
	require.False(t, ok)
}

func TestRankByTitle(t *testing.T) {
	items := []Item{
		{ID: "1", Title: "GMK Olivia Keycaps"},
		{ID: "2", Title: "Gateron Yellow Switches"},
		{ID: "3", Title: "GMK Oliva"},
		{ID: "4", Title: "Desk Mat"},
	}

	matches := RankByTitle("olivia", items, 0.7)
	require.NotEmpty(t, matches)
	require.Equal(t, "1", matches[0].Item.ID)
	for _, m := range matches {
		require.NotEqual(t, "4", m.Item.ID)
	}

	require.Nil(t, RankByTitle("  ", items, 0))
}
