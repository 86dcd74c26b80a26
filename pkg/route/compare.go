package route

import (
	"cmp"
	"slices"
	"strings"
)

// Compare ranks two entries for the same prefix. A negative result means a is
// preferred. Keys are applied in order:
//
//	higher preference, shorter AS path, lower origin, lower peer,
//	nexthop text, AS path elements, AS set, communities.
//
// AS sets and communities are compared as sets: by size, then by their sorted
// contents. The prefix does not take part
func Compare(a, b *Entry) int {
	if c := cmp.Compare(b.preference, a.preference); c != 0 {
		return c
	}
	if c := cmp.Compare(len(a.asPath), len(b.asPath)); c != 0 {
		return c
	}
	if c := cmp.Compare(a.origin, b.origin); c != 0 {
		return c
	}
	if c := cmp.Compare(a.peer, b.peer); c != 0 {
		return c
	}
	if c := strings.Compare(a.nexthop, b.nexthop); c != 0 {
		return c
	}
	if c := slices.Compare(a.asPath, b.asPath); c != 0 {
		return c
	}
	if c := compareSets(a.asSet, b.asSet); c != 0 {
		return c
	}
	return compareCommunitySets(a.Communities(), b.Communities())
}

func compareSets(a, b []uint32) int {
	if c := cmp.Compare(len(a), len(b)); c != 0 {
		return c
	}
	a, b = slices.Clone(a), slices.Clone(b)
	slices.Sort(a)
	slices.Sort(b)
	return slices.Compare(a, b)
}

func compareCommunitySets(a, b []Community) int {
	if c := cmp.Compare(len(a), len(b)); c != 0 {
		return c
	}
	slices.SortFunc(a, compareCommunity)
	slices.SortFunc(b, compareCommunity)
	return slices.CompareFunc(a, b, compareCommunity)
}

// Less reports whether a is preferred over b
func Less(a, b *Entry) bool {
	return Compare(a, b) < 0
}

// Sort orders entries from most to least preferred
func Sort(entries []*Entry) {
	slices.SortStableFunc(entries, Compare)
}

// Best returns the most preferred entry or nil
func Best(entries []*Entry) *Entry {
	if len(entries) == 0 {
		return nil
	}
	return slices.MinFunc(entries, Compare)
}
