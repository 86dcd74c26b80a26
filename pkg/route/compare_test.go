package route

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entry(t *testing.T, origin Origin, peer uint32, nexthop string, opts ...Option) *Entry {
	t.Helper()
	e, err := New(origin, peer, PrefixText("10.0.0.0/8"), nexthop, opts...)
	require.NoError(t, err)
	return e
}

func TestCompareKeys(t *testing.T) {
	tests := []struct {
		name          string
		better, worse *Entry
	}{
		{
			name:   "higher preference wins over shorter path",
			better: entry(t, OriginIGP, 1, "a", WithPreference(200), WithASPath(1, 2, 3)),
			worse:  entry(t, OriginIGP, 1, "a", WithPreference(100), WithASPath(1)),
		},
		{
			name:   "shorter as path",
			better: entry(t, OriginIncomplete, 9, "z", WithASPath(9)),
			worse:  entry(t, OriginIGP, 1, "a", WithASPath(1, 2)),
		},
		{
			name:   "lower origin",
			better: entry(t, OriginIGP, 9, "z"),
			worse:  entry(t, OriginEGP, 1, "a"),
		},
		{
			name:   "lower peer",
			better: entry(t, OriginIGP, 1, "z"),
			worse:  entry(t, OriginIGP, 2, "a"),
		},
		{
			name:   "nexthop text",
			better: entry(t, OriginIGP, 1, "192.0.2.1"),
			worse:  entry(t, OriginIGP, 1, "192.0.2.2"),
		},
		{
			name:   "as path elements",
			better: entry(t, OriginIGP, 1, "a", WithASPath(1, 2)),
			worse:  entry(t, OriginIGP, 1, "a", WithASPath(1, 3)),
		},
		{
			name:   "smaller as set",
			better: entry(t, OriginIGP, 1, "a", WithASSet(9)),
			worse:  entry(t, OriginIGP, 1, "a", WithASSet(1, 2)),
		},
		{
			name:   "as set contents",
			better: entry(t, OriginIGP, 1, "a", WithASSet(5, 1)),
			worse:  entry(t, OriginIGP, 1, "a", WithASSet(2, 3)),
		},
		{
			name:   "communities",
			better: entry(t, OriginIGP, 1, "a", WithCommunities(Community{1, 1})),
			worse:  entry(t, OriginIGP, 1, "a", WithCommunities(Community{1, 2})),
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, -1, Compare(tc.better, tc.worse))
			assert.Equal(t, 1, Compare(tc.worse, tc.better))
			assert.True(t, Less(tc.better, tc.worse))
		})
	}
}

func TestCompareTreatsSetsAsSets(t *testing.T) {
	a := entry(t, OriginIGP, 1, "a", WithASSet(1, 2, 3), WithCommunities(Community{1, 1}, Community{2, 2}))
	b := entry(t, OriginIGP, 1, "a", WithASSet(3, 1, 2), WithCommunities(Community{2, 2}, Community{1, 1}))
	assert.Equal(t, 0, Compare(a, b))
	assert.False(t, a.Equal(b))
	assert.Equal(t, []uint32{1, 2, 3}, a.ASSet(), "comparison leaves storage order alone")
}

func TestCompareIgnoresPrefix(t *testing.T) {
	a := entry(t, OriginIGP, 1, "a")
	b, err := New(OriginIGP, 1, PrefixText("192.0.2.0/24"), "a")
	require.NoError(t, err)
	assert.Equal(t, 0, Compare(a, b))
}

func TestSortAndBest(t *testing.T) {
	low := entry(t, OriginIGP, 3, "a", WithPreference(50))
	mid := entry(t, OriginIGP, 2, "a")
	high := entry(t, OriginIGP, 1, "a", WithPreference(300))

	entries := []*Entry{low, mid, high}
	Sort(entries)
	assert.Equal(t, []*Entry{high, mid, low}, entries)
	assert.Same(t, high, Best([]*Entry{mid, low, high}))
	assert.Nil(t, Best(nil))
}
