package transport

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFilterMatches(t *testing.T) {
	f := Filter{Kinds: []int{1, 2}, Issuers: []string{"alice"}}
	require.True(t, f.Matches(1, "alice"))
	require.False(t, f.Matches(3, "alice"))
	require.False(t, f.Matches(1, "bob"))

	require.True(t, Filter{}.Matches(999, "anyone"))
}

func TestSeenCacheDedup(t *testing.T) {
	c := newSeenCache(2)
	require.False(t, c.SeenBefore("a"))
	require.True(t, c.SeenBefore("a"))
}

func TestSeenCacheEvictsOldest(t *testing.T) {
	c := newSeenCache(2)
	c.SeenBefore("a")
	c.SeenBefore("b")
	c.SeenBefore("c") // evicts "a"

	require.True(t, c.SeenBefore("b"))
	require.False(t, c.SeenBefore("a")) // re-admitted, was evicted
}

func TestDispatchDropsDuplicateAndFiltered(t *testing.T) {
	wt := &WSTransport{seen: newSeenCache(16)}
	var delivered []Event
	wt.subs = []subscription{{
		filter:  Filter{Kinds: []int{7}},
		handler: func(ev Event) { delivered = append(delivered, ev) },
	}}

	wt.dispatch([]byte("hello"))
	wt.dispatch([]byte("hello")) // duplicate, dropped by seenCache before filter even applies

	require.Len(t, delivered, 0) // kind defaults to 0, filter wants 7
}
