package rib

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bgp_controller/pkg/prefix"
	"bgp_controller/pkg/route"
)

func newEntry(t *testing.T, pfx string, peer uint32, opts ...route.Option) *route.Entry {
	t.Helper()
	e, err := route.New(route.OriginIGP, peer, route.PrefixText(pfx), "192.0.2.1", opts...)
	require.NoError(t, err)
	return e
}

type recorder struct {
	mu      sync.Mutex
	changes []string
}

func (r *recorder) record(p prefix.Prefix, best *route.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if best == nil {
		r.changes = append(r.changes, p.String()+" withdrawn")
		return
	}
	r.changes = append(r.changes, best.String())
}

func TestUpdateSelectsBest(t *testing.T) {
	rec := &recorder{}
	tbl := New(OnBestChange(rec.record))

	require.NoError(t, tbl.Update(newEntry(t, "10.0.0.0/8", 2, route.WithASPath(2, 3))))
	require.NoError(t, tbl.Update(newEntry(t, "10.0.0.0/8", 1, route.WithASPath(1, 3, 4))))
	require.NoError(t, tbl.Update(newEntry(t, "10.0.0.0/8", 3, route.WithASPath(3), route.WithPreference(50))))

	best, ok := tbl.Best(prefix.MustParse("10.0.0.0/8"))
	require.True(t, ok)
	assert.Equal(t, uint32(2), best.Peer())

	cands := tbl.Candidates(prefix.MustParse("10.0.0.0/8"))
	require.Len(t, cands, 3)
	assert.Equal(t, []uint32{2, 1, 3}, []uint32{cands[0].Peer(), cands[1].Peer(), cands[2].Peer()})

	// only the first insert changed the best path
	assert.Len(t, rec.changes, 1)
	assert.Equal(t, 1, tbl.Len())
}

func TestUpdateReplacesPeerCandidate(t *testing.T) {
	rec := &recorder{}
	tbl := New(OnBestChange(rec.record))
	require.NoError(t, tbl.Update(newEntry(t, "10.0.0.0/8", 1)))
	require.NoError(t, tbl.Update(newEntry(t, "10.0.0.0/8", 1, route.WithPreference(300))))

	assert.Len(t, tbl.Candidates(prefix.MustParse("10.0.0.0/8")), 1)
	best, ok := tbl.Best(prefix.MustParse("10.0.0.0/8"))
	require.True(t, ok)
	assert.Equal(t, uint32(300), best.Preference())
	assert.Len(t, rec.changes, 2)
}

func TestStoredEntriesAreCopies(t *testing.T) {
	tbl := New()
	e := newEntry(t, "10.0.0.0/8", 1)
	require.NoError(t, tbl.Update(e))
	e.SetNexthop("203.0.113.9")

	best, ok := tbl.Best(prefix.MustParse("10.0.0.0/8"))
	require.True(t, ok)
	assert.Equal(t, "192.0.2.1", best.Nexthop())

	best.SetNexthop("203.0.113.10")
	again, _ := tbl.Best(prefix.MustParse("10.0.0.0/8"))
	assert.Equal(t, "192.0.2.1", again.Nexthop())
}

func TestWithdraw(t *testing.T) {
	rec := &recorder{}
	tbl := New(OnBestChange(rec.record))
	p := prefix.MustParse("2001:db8::/32")
	require.NoError(t, tbl.Update(newEntry(t, p.String(), 1)))
	require.NoError(t, tbl.Update(newEntry(t, p.String(), 2)))

	assert.False(t, tbl.Withdraw(9, p))
	assert.True(t, tbl.Withdraw(1, p))
	best, ok := tbl.Best(p)
	require.True(t, ok)
	assert.Equal(t, uint32(2), best.Peer())

	assert.True(t, tbl.Withdraw(2, p))
	_, ok = tbl.Best(p)
	assert.False(t, ok)
	assert.Equal(t, 0, tbl.Len())
	assert.Equal(t, "2001:db8::/32 withdrawn", rec.changes[len(rec.changes)-1])
	assert.False(t, tbl.Withdraw(2, p))
}

func TestFlushPeer(t *testing.T) {
	tbl := New()
	require.NoError(t, tbl.Update(newEntry(t, "10.0.0.0/8", 1)))
	require.NoError(t, tbl.Update(newEntry(t, "10.1.0.0/16", 1)))
	require.NoError(t, tbl.Update(newEntry(t, "10.1.0.0/16", 2)))

	assert.Equal(t, 2, tbl.FlushPeer(1))
	assert.Equal(t, []prefix.Prefix{prefix.MustParse("10.1.0.0/16")}, tbl.Prefixes())
	assert.Equal(t, 0, tbl.FlushPeer(1))
}

func TestLookup(t *testing.T) {
	tbl := New()
	require.NoError(t, tbl.Update(newEntry(t, "10.0.0.0/8", 1)))
	require.NoError(t, tbl.Update(newEntry(t, "10.1.0.0/16", 2)))

	e, ok, err := tbl.Lookup("10.1.2.3")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "10.1.0.0/16", e.Prefix().String())

	e, ok, err = tbl.Lookup("10.2.0.1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "10.0.0.0/8", e.Prefix().String())

	_, ok, err = tbl.Lookup("192.0.2.1")
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = tbl.Lookup("nope")
	assert.ErrorIs(t, err, ErrInvalidAddress)
}

func TestPrefixesSorted(t *testing.T) {
	tbl := New()
	for _, p := range []string{"2001:db8::/32", "10.1.0.0/16", "10.0.0.0/8", "192.0.2.0/24"} {
		require.NoError(t, tbl.Update(newEntry(t, p, 1)))
	}
	var got []string
	for _, p := range tbl.Prefixes() {
		got = append(got, p.String())
	}
	assert.Equal(t, []string{"10.0.0.0/8", "10.1.0.0/16", "192.0.2.0/24", "2001:db8::/32"}, got)
	assert.Len(t, tbl.BestRoutes(), 4)
}

func TestExportSkipsLoops(t *testing.T) {
	tbl := New()
	require.NoError(t, tbl.Update(newEntry(t, "10.0.0.0/8", 1, route.WithASPath(65001, 65002))))
	require.NoError(t, tbl.Update(newEntry(t, "10.1.0.0/16", 1, route.WithASPath(65001), route.WithASSet(65003))))
	require.NoError(t, tbl.Update(newEntry(t, "10.2.0.0/16", 1, route.WithASPath(65004))))

	var got []string
	for _, e := range tbl.Export(65003) {
		got = append(got, e.Prefix().String())
	}
	assert.Equal(t, []string{"10.0.0.0/8", "10.2.0.0/16"}, got)
	assert.Len(t, tbl.Export(65001), 1)
}

func TestConcurrentUpdates(t *testing.T) {
	tbl := New()
	var wg sync.WaitGroup
	for peer := uint32(1); peer <= 8; peer++ {
		wg.Add(1)
		go func(peer uint32) {
			defer wg.Done()
			for _, p := range []string{"10.0.0.0/8", "10.1.0.0/16", "2001:db8::/32"} {
				e, err := route.New(route.OriginIGP, peer, route.PrefixText(p), "")
				if err != nil {
					t.Error(err)
					return
				}
				_ = tbl.Update(e)
				_, _ = tbl.Best(e.Prefix())
			}
		}(peer)
	}
	wg.Wait()
	assert.Equal(t, 3, tbl.Len())
	best, ok := tbl.Best(prefix.MustParse("10.0.0.0/8"))
	require.True(t, ok)
	assert.Equal(t, uint32(1), best.Peer())
}
