package route

import (
	"encoding/binary"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"

	"bgp_controller/pkg/prefix"
)

var (
	ErrTypeMismatch    = errors.New("type mismatch")
	ErrInvalidFormat   = errors.New("invalid format")
	ErrOutOfRange      = errors.New("out of range")
	ErrAllocation      = errors.New("allocation failure")
	ErrBufferTooSmall  = errors.New("buffer too small")
	ErrTruncatedBuffer = errors.New("truncated buffer")
)

// maxWords bounds every variable length field; counts travel as u16 on the wire
const maxWords = math.MaxUint16

// DefaultPreference is used when no preference is given
const DefaultPreference = 100

// Origin is the BGP ORIGIN attribute
type Origin uint8

const (
	OriginIGP Origin = iota
	OriginEGP
	OriginIncomplete
)

func (o Origin) String() string {
	switch o {
	case OriginIGP:
		return "igp"
	case OriginEGP:
		return "egp"
	case OriginIncomplete:
		return "incomplete"
	}
	return "origin(" + strconv.Itoa(int(o)) + ")"
}

// ParseOrigin accepts the names printed by Origin.String and their numbers
func ParseOrigin(s string) (Origin, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "igp", "i", "0":
		return OriginIGP, nil
	case "egp", "e", "1":
		return OriginEGP, nil
	case "incomplete", "?", "2":
		return OriginIncomplete, nil
	}
	return 0, errors.Wrapf(ErrInvalidFormat, "origin %q", s)
}

// Community is a pair of opaque 32-bit values written "high:low"
type Community struct {
	High uint32
	Low  uint32
}

func (c Community) String() string {
	return strconv.FormatUint(uint64(c.High), 10) + ":" + strconv.FormatUint(uint64(c.Low), 10)
}

func compareCommunity(a, b Community) int {
	if a.High != b.High {
		if a.High < b.High {
			return -1
		}
		return 1
	}
	switch {
	case a.Low < b.Low:
		return -1
	case a.Low > b.Low:
		return 1
	}
	return 0
}

// CommunityParser turns community text into pairs. It is supplied by the
// caller so the route package stays free of text policy
type CommunityParser func(text string) ([]Community, error)

type prefixKind uint8

const (
	prefixUnset prefixKind = iota
	prefixValue
	prefixText
)

// PrefixInput is either an already parsed prefix or prefix text
type PrefixInput struct {
	kind  prefixKind
	value prefix.Prefix
	text  string
}

func PrefixValue(p prefix.Prefix) PrefixInput { return PrefixInput{kind: prefixValue, value: p} }
func PrefixText(s string) PrefixInput         { return PrefixInput{kind: prefixText, text: s} }

// Resolve returns the prefix the input denotes
func (in PrefixInput) Resolve() (prefix.Prefix, error) {
	switch in.kind {
	case prefixValue:
		if !in.value.IsValid() {
			return prefix.Prefix{}, errors.Wrap(ErrTypeMismatch, "prefix value is not a valid prefix")
		}
		return in.value, nil
	case prefixText:
		return prefix.Parse(in.text)
	}
	return prefix.Prefix{}, errors.Wrap(ErrTypeMismatch, "prefix must be a prefix value or text")
}

// NexthopValue returns v when it is a string and "" for anything else.
// Nexthops read from loosely typed input never fail construction
func NexthopValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

type options struct {
	preference    uint32
	asPath        []uint32
	asPathText    []string
	asSet         []uint32
	communities   []Community
	parse         CommunityParser
	communityText string
}

// Option configures an Entry built by New
type Option func(*options)

// WithPreference sets the local preference
func WithPreference(pref uint32) Option {
	return func(o *options) { o.preference = pref }
}

// WithASPath sets the AS path
func WithASPath(path ...uint32) Option {
	return func(o *options) { o.asPath, o.asPathText = path, nil }
}

// WithASPathText sets the AS path from decimal ASN text
func WithASPathText(path ...string) Option {
	return func(o *options) { o.asPathText, o.asPath = path, nil }
}

// WithASSet adds ASNs to the AS set. Values already present in the AS path
// are skipped
func WithASSet(set ...uint32) Option {
	return func(o *options) { o.asSet = append(o.asSet, set...) }
}

func WithCommunities(communities ...Community) Option {
	return func(o *options) { o.communities = append(o.communities, communities...) }
}

// WithCommunityText parses text with parse and adds the result
func WithCommunityText(parse CommunityParser, text string) Option {
	return func(o *options) { o.parse, o.communityText = parse, text }
}

// Entry is one candidate route for a prefix as learned from a peer.
// Origin, peer, prefix and preference are fixed at construction
type Entry struct {
	origin     Origin
	peer       uint32
	prefix     prefix.Prefix
	preference uint32

	nexthop     string
	asPath      []uint32
	asSet       []uint32
	communities []uint32 // flattened high, low pairs
}

// New builds an entry. The AS path is applied before the AS set so that set
// members already on the path are dropped regardless of option order
func New(origin Origin, peer uint32, pfx PrefixInput, nexthop string, opts ...Option) (*Entry, error) {
	if origin > OriginIncomplete {
		return nil, errors.Wrapf(ErrOutOfRange, "origin %d", origin)
	}
	p, err := pfx.Resolve()
	if err != nil {
		return nil, errors.WithMessage(err, "new route entry")
	}

	o := options{preference: DefaultPreference}
	for _, opt := range opts {
		opt(&o)
	}

	e := &Entry{
		origin:     origin,
		peer:       peer,
		prefix:     p,
		preference: o.preference,
		nexthop:    nexthop,
	}
	if o.asPathText != nil {
		err = e.SetASPathText(o.asPathText)
	} else if o.asPath != nil {
		err = e.SetASPath(o.asPath)
	}
	if err != nil {
		return nil, err
	}
	if err := e.AddToASSet(o.asSet); err != nil {
		return nil, err
	}
	if err := e.AddCommunities(o.communities); err != nil {
		return nil, err
	}
	if o.parse != nil && o.communityText != "" {
		communities, err := o.parse(o.communityText)
		if err != nil {
			return nil, errors.WithMessage(err, "parse communities")
		}
		if err := e.AddCommunities(communities); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func (e *Entry) Origin() Origin        { return e.origin }
func (e *Entry) Peer() uint32          { return e.peer }
func (e *Entry) Prefix() prefix.Prefix { return e.prefix }
func (e *Entry) Preference() uint32    { return e.preference }
func (e *Entry) Nexthop() string       { return e.nexthop }

// SetNexthop replaces the nexthop. The value is not validated as an address
func (e *Entry) SetNexthop(nexthop string) {
	e.nexthop = nexthop
}

// SetNexthopValue sets the nexthop from loosely typed input, see NexthopValue
func (e *Entry) SetNexthopValue(v any) {
	e.nexthop = NexthopValue(v)
}

// ASPath returns a copy of the AS path
func (e *Entry) ASPath() []uint32 { return slices.Clone(e.asPath) }

// ASSet returns a copy of the AS set in insertion order
func (e *Entry) ASSet() []uint32 { return slices.Clone(e.asSet) }

// Communities returns the communities in storage order
func (e *Entry) Communities() []Community {
	out := make([]Community, 0, len(e.communities)/2)
	for i := 0; i+1 < len(e.communities); i += 2 {
		out = append(out, Community{High: e.communities[i], Low: e.communities[i+1]})
	}
	return out
}

// HasASN reports whether asn appears in the AS path or the AS set
func (e *Entry) HasASN(asn uint32) bool {
	return slices.Contains(e.asPath, asn) || slices.Contains(e.asSet, asn)
}

// SetASPath replaces the AS path
func (e *Entry) SetASPath(path []uint32) error {
	if len(path) > maxWords {
		return errors.Wrapf(ErrAllocation, "as path of %d entries", len(path))
	}
	if len(path) == 0 {
		e.asPath = nil
		return nil
	}
	e.asPath = slices.Clone(path)
	return nil
}

// SetASPathText replaces the AS path from decimal text. On error the path is
// left unchanged
func (e *Entry) SetASPathText(path []string) error {
	asns := make([]uint32, 0, len(path))
	for i, s := range path {
		asn, err := ParseASN(s)
		if err != nil {
			return errors.WithMessagef(err, "as path element %d", i)
		}
		asns = append(asns, asn)
	}
	return e.SetASPath(asns)
}

// ParseASN parses a decimal ASN in [0, 2^32-1]
func ParseASN(s string) (uint32, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		if errors.Is(err, strconv.ErrRange) {
			return 0, errors.Wrapf(ErrOutOfRange, "asn %q", s)
		}
		return 0, errors.Wrapf(ErrInvalidFormat, "asn %q", s)
	}
	if v < 0 || v > math.MaxUint32 {
		return 0, errors.Wrapf(ErrOutOfRange, "asn %q", s)
	}
	return uint32(v), nil
}

// AddToASSet appends ASNs that are neither in the set nor on the path
func (e *Entry) AddToASSet(asns []uint32) error {
	if len(asns) == 0 {
		return nil
	}
	seen := make(map[uint32]struct{}, len(e.asSet)+len(e.asPath)+len(asns))
	for _, asn := range e.asPath {
		seen[asn] = struct{}{}
	}
	for _, asn := range e.asSet {
		seen[asn] = struct{}{}
	}
	added := make([]uint32, 0, len(asns))
	for _, asn := range asns {
		if _, ok := seen[asn]; ok {
			continue
		}
		seen[asn] = struct{}{}
		added = append(added, asn)
	}
	if len(added) == 0 {
		return nil
	}
	if len(e.asSet)+len(added) > maxWords {
		return errors.Wrapf(ErrAllocation, "as set of %d entries", len(e.asSet)+len(added))
	}
	e.asSet = append(e.asSet, added...)
	return nil
}

func (e *Entry) indexOfCommunity(c Community) int {
	for i := 0; i+1 < len(e.communities); i += 2 {
		if e.communities[i] == c.High && e.communities[i+1] == c.Low {
			return i
		}
	}
	return -1
}

// AddCommunities appends communities not yet present
func (e *Entry) AddCommunities(communities []Community) error {
	added := make([]uint32, 0, 2*len(communities))
	for _, c := range communities {
		if e.indexOfCommunity(c) >= 0 || containsPair(added, c) {
			continue
		}
		added = append(added, c.High, c.Low)
	}
	if len(added) == 0 {
		return nil
	}
	if len(e.communities)+len(added) > maxWords {
		return errors.Wrapf(ErrAllocation, "%d community words", len(e.communities)+len(added))
	}
	e.communities = append(e.communities, added...)
	return nil
}

func containsPair(words []uint32, c Community) bool {
	for i := 0; i+1 < len(words); i += 2 {
		if words[i] == c.High && words[i+1] == c.Low {
			return true
		}
	}
	return false
}

// RemoveCommunities deletes the given communities. The last pair is moved
// into each freed slot, so storage order is not preserved
func (e *Entry) RemoveCommunities(communities []Community) {
	for _, c := range communities {
		i := e.indexOfCommunity(c)
		if i < 0 {
			continue
		}
		last := len(e.communities) - 2
		e.communities[i], e.communities[i+1] = e.communities[last], e.communities[last+1]
		e.communities = e.communities[:last]
	}
	if len(e.communities) == 0 {
		e.communities = nil
	}
}

// DeepCopy returns an independent copy. The prefix is a value and is shared
func (e *Entry) DeepCopy() *Entry {
	c := *e
	c.asPath = slices.Clone(e.asPath)
	c.asSet = slices.Clone(e.asSet)
	c.communities = slices.Clone(e.communities)
	return &c
}

// Equal reports field by field equality, slice order included
func (e *Entry) Equal(other *Entry) bool {
	if e == nil || other == nil {
		return e == other
	}
	return e.origin == other.origin &&
		e.peer == other.peer &&
		e.prefix == other.prefix &&
		e.preference == other.preference &&
		e.nexthop == other.nexthop &&
		slices.Equal(e.asPath, other.asPath) &&
		slices.Equal(e.asSet, other.asSet) &&
		slices.Equal(e.communities, other.communities)
}

// Hash covers prefix, peer, nexthop and origin. Entries that differ only in
// attributes collide on purpose
func (e *Entry) Hash() uint64 {
	d := xxhash.New()
	var b [13]byte
	binary.BigEndian.PutUint64(b[:8], e.prefix.Hash())
	binary.BigEndian.PutUint32(b[8:12], e.peer)
	b[12] = byte(e.origin)
	_, _ = d.Write(b[:])
	_, _ = d.WriteString(e.nexthop)
	return d.Sum64()
}

func joinASNs(asns []uint32) string {
	parts := make([]string, len(asns))
	for i, asn := range asns {
		parts[i] = strconv.FormatUint(uint64(asn), 10)
	}
	return strings.Join(parts, " ")
}

// AnnounceASPathText renders the AS path in announcement syntax, for example
// "as-path [100 200 (300 )]", or "as-path []" without a path
func (e *Entry) AnnounceASPathText() string {
	text := "as-path [" + joinASNs(e.asPath)
	if len(e.asSet) > 0 {
		text += " (" + joinASNs(e.asSet) + " )"
	}
	return text + "]"
}

// AnnounceCommunitiesText renders "community [a:b c:d]" or ""
func (e *Entry) AnnounceCommunitiesText() string {
	communities := e.Communities()
	if len(communities) == 0 {
		return ""
	}
	parts := make([]string, len(communities))
	for i, c := range communities {
		parts[i] = c.String()
	}
	return "community [" + strings.Join(parts, " ") + "]"
}

func (e *Entry) String() string {
	return fmt.Sprintf("%s peer %d (nexthop: %s %v)", e.prefix, e.peer, e.nexthop, e.ASPath())
}
