// Package rib keeps candidate routes per prefix and tracks the best path
package rib

import (
	"net/netip"
	"slices"
	"sync"

	"github.com/gaissmai/bart"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"bgp_controller/pkg/metrics"
	"bgp_controller/pkg/prefix"
	"bgp_controller/pkg/route"
)

var ErrInvalidAddress = errors.New("invalid address")

// BestChangeFunc is called after the best route of a prefix changed. best is
// nil when the last candidate was withdrawn
type BestChangeFunc func(p prefix.Prefix, best *route.Entry)

type destination struct {
	prefix prefix.Prefix
	byPeer map[uint32]*route.Entry
	best   *route.Entry
}

func (d *destination) candidates() []*route.Entry {
	out := make([]*route.Entry, 0, len(d.byPeer))
	for _, e := range d.byPeer {
		out = append(out, e)
	}
	route.Sort(out)
	return out
}

// Table is a routing table keyed by prefix with one candidate per peer.
// Prefixes are stored with host bits cleared. Entries handed in are copied and
// entries handed out are copies
type Table struct {
	mu         sync.RWMutex
	routes     bart.Table[*destination]
	prefixes4  int
	prefixes6  int
	candidates int
	logger     *log.Entry

	onBestChange BestChangeFunc
}

type Option func(*Table)

func WithLogger(logger *log.Logger) Option {
	return func(t *Table) { t.logger = logger.WithField("component", "rib") }
}

// OnBestChange registers fn. It runs outside the table lock
func OnBestChange(fn BestChangeFunc) Option {
	return func(t *Table) { t.onBestChange = fn }
}

func New(opts ...Option) *Table {
	t := &Table{logger: log.WithField("component", "rib")}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func key(p prefix.Prefix) netip.Prefix {
	return p.Masked().NetipPrefix()
}

// Update stores e as the candidate of its peer, replacing the previous one
func (t *Table) Update(e *route.Entry) error {
	if !e.Prefix().IsValid() {
		return errors.Wrap(route.ErrTypeMismatch, "entry without a prefix")
	}
	e = e.DeepCopy()
	k := key(e.Prefix())

	t.mu.Lock()
	d, ok := t.routes.Get(k)
	if !ok {
		d = &destination{prefix: e.Prefix().Masked(), byPeer: make(map[uint32]*route.Entry)}
		t.routes.Insert(k, d)
		t.countPrefix(k, 1)
	}
	if _, exists := d.byPeer[e.Peer()]; !exists {
		t.candidates++
	}
	d.byPeer[e.Peer()] = e
	changed, best, kind := t.reselect(d)
	t.publish()
	t.mu.Unlock()

	if changed {
		t.notify(d.prefix, best, kind)
	}
	return nil
}

// Withdraw removes the candidate of peer for p. It reports whether a
// candidate was removed
func (t *Table) Withdraw(peer uint32, p prefix.Prefix) bool {
	k := key(p)

	t.mu.Lock()
	d, ok := t.routes.Get(k)
	if !ok {
		t.mu.Unlock()
		return false
	}
	if _, exists := d.byPeer[peer]; !exists {
		t.mu.Unlock()
		return false
	}
	delete(d.byPeer, peer)
	t.candidates--
	if len(d.byPeer) == 0 {
		t.routes.Delete(k)
		t.countPrefix(k, -1)
	}
	changed, best, kind := t.reselect(d)
	t.publish()
	t.mu.Unlock()

	if changed {
		t.notify(d.prefix, best, kind)
	}
	return true
}

type change struct {
	prefix prefix.Prefix
	best   *route.Entry
	kind   string
}

// FlushPeer withdraws every candidate of peer and returns how many were
// removed
func (t *Table) FlushPeer(peer uint32) int {
	var (
		changes []change
		empty   []netip.Prefix
		removed int
	)

	t.mu.Lock()
	for k, d := range t.routes.All() {
		if _, ok := d.byPeer[peer]; !ok {
			continue
		}
		delete(d.byPeer, peer)
		removed++
		if len(d.byPeer) == 0 {
			empty = append(empty, k)
		}
		if changed, best, kind := t.reselect(d); changed {
			changes = append(changes, change{prefix: d.prefix, best: best, kind: kind})
		}
	}
	for _, k := range empty {
		t.routes.Delete(k)
		t.countPrefix(k, -1)
	}
	t.candidates -= removed
	t.publish()
	t.mu.Unlock()

	for _, c := range changes {
		t.notify(c.prefix, c.best, c.kind)
	}
	if removed > 0 {
		t.logger.WithFields(log.Fields{"peer": peer, "routes": removed}).Info("flushed peer routes")
	}
	return removed
}

// reselect recomputes the best route of d and returns a copy of it when it
// changed. Callers hold the write lock
func (t *Table) reselect(d *destination) (changed bool, best *route.Entry, kind string) {
	next := route.Best(d.candidates())
	prev := d.best
	d.best = next

	switch {
	case prev == nil && next == nil:
		return false, nil, ""
	case prev == nil:
		kind = "new"
	case next == nil:
		return true, nil, "withdraw"
	case prev.Equal(next):
		return false, nil, ""
	default:
		kind = "replace"
	}
	return true, next.DeepCopy(), kind
}

func (t *Table) notify(p prefix.Prefix, best *route.Entry, kind string) {
	metrics.BestPathChanged(p.Family().String(), kind)
	t.logger.WithFields(log.Fields{"prefix": p.String(), "change": kind}).Debug("best path changed")
	if t.onBestChange != nil {
		t.onBestChange(p, best)
	}
}

func (t *Table) countPrefix(k netip.Prefix, delta int) {
	if k.Addr().Is4() {
		t.prefixes4 += delta
	} else {
		t.prefixes6 += delta
	}
}

func (t *Table) publish() {
	metrics.SetRIBSize(t.prefixes4, t.prefixes6, t.candidates)
}

// Best returns a copy of the best route for p
func (t *Table) Best(p prefix.Prefix) (*route.Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	d, ok := t.routes.Get(key(p))
	if !ok || d.best == nil {
		return nil, false
	}
	return d.best.DeepCopy(), true
}

// Candidates returns copies of all candidates for p, most preferred first
func (t *Table) Candidates(p prefix.Prefix) []*route.Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	d, ok := t.routes.Get(key(p))
	if !ok {
		return nil
	}
	out := d.candidates()
	for i, e := range out {
		out[i] = e.DeepCopy()
	}
	return out
}

// Lookup returns the best route of the longest prefix covering addr
func (t *Table) Lookup(addr string) (*route.Entry, bool, error) {
	ip, err := netip.ParseAddr(addr)
	if err != nil {
		return nil, false, errors.Wrapf(ErrInvalidAddress, "%q", addr)
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	d, ok := t.routes.Lookup(ip)
	if !ok || d.best == nil {
		return nil, false, nil
	}
	return d.best.DeepCopy(), true, nil
}

// Prefixes returns the stored prefixes in prefix order
func (t *Table) Prefixes() []prefix.Prefix {
	t.mu.RLock()
	out := make([]prefix.Prefix, 0, t.prefixes4+t.prefixes6)
	for _, d := range t.routes.All() {
		out = append(out, d.prefix)
	}
	t.mu.RUnlock()
	slices.SortFunc(out, prefix.Compare)
	return out
}

// BestRoutes returns a copy of every best route in prefix order
func (t *Table) BestRoutes() []*route.Entry {
	t.mu.RLock()
	out := make([]*route.Entry, 0, t.prefixes4+t.prefixes6)
	for _, d := range t.routes.All() {
		if d.best != nil {
			out = append(out, d.best.DeepCopy())
		}
	}
	t.mu.RUnlock()
	slices.SortFunc(out, func(a, b *route.Entry) int {
		return prefix.Compare(a.Prefix(), b.Prefix())
	})
	return out
}

// Export returns the best routes that may be sent to a peer with asn. Routes
// whose AS path or AS set already contains asn are left out
func (t *Table) Export(asn uint32) []*route.Entry {
	best := t.BestRoutes()
	out := best[:0]
	for _, e := range best {
		if e.HasASN(asn) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Len returns the number of prefixes
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.prefixes4 + t.prefixes6
}
