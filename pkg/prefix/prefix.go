package prefix

import (
	"cmp"
	"encoding/binary"
	"net/netip"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
)

// Family identifies the address family of a prefix
type Family uint8

const (
	IPv4 Family = 4
	IPv6 Family = 6
)

func (f Family) String() string {
	switch f {
	case IPv4:
		return "ipv4"
	case IPv6:
		return "ipv6"
	}
	return "unknown"
}

const (
	MaxLengthIPv4 = 32
	MaxLengthIPv6 = 128

	// AFI values as carried in BGP multiprotocol attributes
	AFIIPv4 = 1
	AFIIPv6 = 2
	// SAFIUnicast is returned for every prefix; no other SAFI is derived
	SAFIUnicast = 1
)

var (
	ErrInvalidFormat = errors.New("invalid format")
	ErrOutOfRange    = errors.New("out of range")
)

// Prefix is an immutable IPv4 or IPv6 network prefix. IPv4 addresses are
// held in the low 32 bits of the lower word. Prefix values are comparable and
// can be used as map keys; the zero value is not a valid prefix
type Prefix struct {
	family Family
	upper  uint64
	lower  uint64
	length uint8
}

// NewIPv4 builds an IPv4 prefix from a host-order address
func NewIPv4(ip uint32, length uint8) (Prefix, error) {
	if length > MaxLengthIPv4 {
		return Prefix{}, errors.Wrapf(ErrOutOfRange, "ipv4 prefix length %d", length)
	}
	return Prefix{family: IPv4, lower: uint64(ip), length: length}, nil
}

// NewIPv6 builds an IPv6 prefix from the high and low 64 bits of the address
func NewIPv6(upper, lower uint64, length uint8) (Prefix, error) {
	if length > MaxLengthIPv6 {
		return Prefix{}, errors.Wrapf(ErrOutOfRange, "ipv6 prefix length %d", length)
	}
	return Prefix{family: IPv6, upper: upper, lower: lower, length: length}, nil
}

// Parse parses an address with an optional "/N" length. Without a length the
// family maximum is used
func Parse(s string) (Prefix, error) {
	return parse(s, -1)
}

// ParseWithLength parses an address and overrides any "/N" in the text with
// length
func ParseWithLength(s string, length int) (Prefix, error) {
	if length < 0 {
		return Prefix{}, errors.Wrapf(ErrOutOfRange, "prefix length %d", length)
	}
	return parse(s, length)
}

// MustParse is like Parse but panics on error
func MustParse(s string) Prefix {
	p, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return p
}

func parse(s string, length int) (Prefix, error) {
	addr, lengthText, hasLength := strings.Cut(s, "/")

	var (
		p   Prefix
		err error
	)
	if strings.Contains(s, ":") {
		p.family = IPv6
		p.upper, p.lower, err = parseIPv6(addr)
	} else {
		var ip uint32
		p.family = IPv4
		ip, err = parseIPv4(addr)
		p.lower = uint64(ip)
	}
	if err != nil {
		return Prefix{}, errors.WithMessagef(err, "parse prefix %q", s)
	}

	if length < 0 {
		length = p.MaxLength()
		if hasLength {
			length, err = parseLength(lengthText)
			if err != nil {
				return Prefix{}, errors.WithMessagef(err, "parse prefix %q", s)
			}
		}
	}
	if length > p.MaxLength() {
		return Prefix{}, errors.Wrapf(ErrOutOfRange, "prefix length %d exceeds %d", length, p.MaxLength())
	}
	p.length = uint8(length)
	return p, nil
}

func parseLength(s string) (int, error) {
	if s == "" || strings.TrimLeft(s, "0123456789") != "" {
		return 0, errors.Wrapf(ErrInvalidFormat, "prefix length %q", s)
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, errors.Wrapf(ErrOutOfRange, "prefix length %q", s)
	}
	return v, nil
}

// parseIPv4 accepts exactly four decimal octets separated by three dots
func parseIPv4(s string) (uint32, error) {
	octets := strings.Split(s, ".")
	if len(octets) != 4 {
		return 0, errors.Wrapf(ErrInvalidFormat, "ipv4 address %q needs four octets", s)
	}
	var ip uint32
	for _, octet := range octets {
		if octet == "" || len(octet) > 3 || strings.TrimLeft(octet, "0123456789") != "" {
			return 0, errors.Wrapf(ErrInvalidFormat, "ipv4 octet %q", octet)
		}
		v, _ := strconv.Atoi(octet)
		if v > 255 {
			return 0, errors.Wrapf(ErrInvalidFormat, "ipv4 octet %q", octet)
		}
		ip = ip<<8 | uint32(v)
	}
	return ip, nil
}

func parseIPv6(s string) (upper, lower uint64, err error) {
	if s == "" {
		return 0, 0, errors.Wrap(ErrInvalidFormat, "empty ipv6 address")
	}
	head, tail, compressed := strings.Cut(s, "::")
	if compressed && strings.Contains(tail, "::") {
		return 0, 0, errors.Wrapf(ErrInvalidFormat, "ipv6 address %q has more than one '::'", s)
	}

	headGroups, err := parseHextets(head, !compressed)
	if err != nil {
		return 0, 0, err
	}
	var tailGroups []uint16
	if compressed {
		if tailGroups, err = parseHextets(tail, true); err != nil {
			return 0, 0, err
		}
	}

	n := len(headGroups) + len(tailGroups)
	switch {
	case compressed && n > 7:
		return 0, 0, errors.Wrapf(ErrInvalidFormat, "ipv6 address %q has too many groups", s)
	case !compressed && n != 8:
		return 0, 0, errors.Wrapf(ErrInvalidFormat, "ipv6 address %q needs eight groups", s)
	}

	var groups [8]uint16
	copy(groups[:], headGroups)
	copy(groups[8-len(tailGroups):], tailGroups)
	for i := 0; i < 4; i++ {
		upper = upper<<16 | uint64(groups[i])
		lower = lower<<16 | uint64(groups[i+4])
	}
	return upper, lower, nil
}

// parseHextets parses colon separated groups. The last group may be a dotted
// quad when allowIPv4 is set, in which case it counts as two groups
func parseHextets(s string, allowIPv4 bool) ([]uint16, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ":")
	groups := make([]uint16, 0, len(parts)+1)
	for i, part := range parts {
		if allowIPv4 && i == len(parts)-1 && strings.Contains(part, ".") {
			v4, err := parseIPv4(part)
			if err != nil {
				return nil, err
			}
			groups = append(groups, uint16(v4>>16), uint16(v4))
			continue
		}
		if part == "" || len(part) > 4 {
			return nil, errors.Wrapf(ErrInvalidFormat, "ipv6 group %q", part)
		}
		v, err := strconv.ParseUint(part, 16, 16)
		if err != nil {
			return nil, errors.Wrapf(ErrInvalidFormat, "ipv6 group %q", part)
		}
		groups = append(groups, uint16(v))
	}
	if len(groups) > 8 {
		return nil, errors.Wrapf(ErrInvalidFormat, "ipv6 address %q has too many groups", s)
	}
	return groups, nil
}

// FromNetip converts a netip.Prefix. IPv4-mapped IPv6 addresses stay IPv6
func FromNetip(p netip.Prefix) (Prefix, error) {
	if !p.IsValid() {
		return Prefix{}, errors.Wrapf(ErrInvalidFormat, "netip prefix %v", p)
	}
	addr := p.Addr()
	if addr.Is4() {
		b := addr.As4()
		return NewIPv4(binary.BigEndian.Uint32(b[:]), uint8(p.Bits()))
	}
	b := addr.As16()
	return NewIPv6(binary.BigEndian.Uint64(b[:8]), binary.BigEndian.Uint64(b[8:]), uint8(p.Bits()))
}

func (p Prefix) IsValid() bool { return p.family == IPv4 || p.family == IPv6 }
func (p Prefix) Family() Family { return p.family }
func (p Prefix) Is4() bool     { return p.family == IPv4 }
func (p Prefix) Is6() bool     { return p.family == IPv6 }
func (p Prefix) Length() uint8 { return p.length }

// IPv4 returns the host-order IPv4 address. It is zero for IPv6 prefixes
func (p Prefix) IPv4() uint32 {
	if p.family != IPv4 {
		return 0
	}
	return uint32(p.lower)
}

// Upper returns the high 64 bits of an IPv6 address
func (p Prefix) Upper() uint64 { return p.upper }

// Lower returns the low 64 bits of an IPv6 address, or the IPv4 address
func (p Prefix) Lower() uint64 { return p.lower }

func (p Prefix) MaxLength() int {
	if p.family == IPv6 {
		return MaxLengthIPv6
	}
	return MaxLengthIPv4
}

func (p Prefix) AFI() int {
	if p.family == IPv6 {
		return AFIIPv6
	}
	return AFIIPv4
}

// SAFI is always unicast. The subsequent address family is not derived from
// the prefix
func (p Prefix) SAFI() int {
	return SAFIUnicast
}

// Netmask returns the mask of the prefix split in two 64-bit words. For IPv4
// the mask is in the low 32 bits of lower and upper is zero
func (p Prefix) Netmask() (upper, lower uint64) {
	if p.family == IPv4 {
		return 0, uint64(Netmask4(p.length))
	}
	return Netmask6(p.length)
}

// NetmaskFromLength returns the mask for length in the family of p
func (p Prefix) NetmaskFromLength(length int) (upper, lower uint64, err error) {
	if length < 0 || length > p.MaxLength() {
		return 0, 0, errors.Wrapf(ErrOutOfRange, "prefix length %d", length)
	}
	q := p
	q.length = uint8(length)
	upper, lower = q.Netmask()
	return upper, lower, nil
}

// Netmask4 returns an IPv4 netmask with length leading one bits
func Netmask4(length uint8) uint32 {
	switch {
	case length == 0:
		return 0
	case length >= MaxLengthIPv4:
		return ^uint32(0)
	}
	return ^uint32(0) << (MaxLengthIPv4 - length)
}

// Netmask6 returns an IPv6 netmask with length leading one bits, split in
// independently clamped upper and lower halves
func Netmask6(length uint8) (upper, lower uint64) {
	if length > 64 {
		return mask64(64), mask64(length - 64)
	}
	return mask64(length), 0
}

func mask64(length uint8) uint64 {
	switch {
	case length == 0:
		return 0
	case length >= 64:
		return ^uint64(0)
	}
	return ^uint64(0) << (64 - length)
}

// Masked returns p with the host bits cleared
func (p Prefix) Masked() Prefix {
	mu, ml := p.Netmask()
	p.upper &= mu
	p.lower &= ml
	return p
}

// Contains reports whether other lies within p. Prefixes of different
// families never contain each other
func (p Prefix) Contains(other Prefix) bool {
	if !p.IsValid() || p.family != other.family {
		return false
	}
	mu, ml := p.Netmask()
	return other.upper&mu == p.upper && other.lower&ml == p.lower
}

// Compare orders IPv4 before IPv6, then by address, then by length
func Compare(a, b Prefix) int {
	if c := cmp.Compare(a.family, b.family); c != 0 {
		return c
	}
	if c := cmp.Compare(a.upper, b.upper); c != 0 {
		return c
	}
	if c := cmp.Compare(a.lower, b.lower); c != 0 {
		return c
	}
	return cmp.Compare(a.length, b.length)
}

func (p Prefix) Compare(other Prefix) int { return Compare(p, other) }
func (p Prefix) Less(other Prefix) bool   { return Compare(p, other) < 0 }

// Hash is derived from family, address and length
func (p Prefix) Hash() uint64 {
	var b [18]byte
	b[0] = byte(p.family)
	binary.BigEndian.PutUint64(b[1:], p.upper)
	binary.BigEndian.PutUint64(b[9:], p.lower)
	b[17] = p.length
	return xxhash.Sum64(b[:])
}

// Addr returns the prefix address as a netip.Addr
func (p Prefix) Addr() netip.Addr {
	switch p.family {
	case IPv4:
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], uint32(p.lower))
		return netip.AddrFrom4(b)
	case IPv6:
		var b [16]byte
		binary.BigEndian.PutUint64(b[:8], p.upper)
		binary.BigEndian.PutUint64(b[8:], p.lower)
		return netip.AddrFrom16(b)
	}
	return netip.Addr{}
}

// NetipPrefix returns the prefix as a netip.Prefix, host bits included
func (p Prefix) NetipPrefix() netip.Prefix {
	if !p.IsValid() {
		return netip.Prefix{}
	}
	return netip.PrefixFrom(p.Addr(), int(p.length))
}

// IP returns the address without the prefix length
func (p Prefix) IP() string {
	switch p.family {
	case IPv4:
		ip := uint32(p.lower)
		var b strings.Builder
		for i := 3; i >= 0; i-- {
			b.WriteString(strconv.Itoa(int(ip >> (8 * i) & 0xff)))
			if i > 0 {
				b.WriteByte('.')
			}
		}
		return b.String()
	case IPv6:
		return formatIPv6(p.upper, p.lower)
	}
	return "invalid"
}

// formatIPv6 writes lowercase groups without leading zeros and replaces the
// longest run of two or more zero groups (the first one on a tie) with "::"
func formatIPv6(upper, lower uint64) string {
	var groups [8]uint16
	for i := 0; i < 4; i++ {
		groups[i] = uint16(upper >> (48 - 16*i))
		groups[i+4] = uint16(lower >> (48 - 16*i))
	}

	bestStart, bestLen := -1, 1
	for i := 0; i < 8; {
		if groups[i] != 0 {
			i++
			continue
		}
		j := i
		for j < 8 && groups[j] == 0 {
			j++
		}
		if j-i > bestLen {
			bestStart, bestLen = i, j-i
		}
		i = j
	}

	var b strings.Builder
	for i := 0; i < 8; i++ {
		if i == bestStart {
			b.WriteString("::")
			i += bestLen - 1
			continue
		}
		if i > 0 && i != bestStart+bestLen {
			b.WriteByte(':')
		}
		b.WriteString(strconv.FormatUint(uint64(groups[i]), 16))
	}
	return b.String()
}

func (p Prefix) String() string {
	if !p.IsValid() {
		return "invalid"
	}
	return p.IP() + "/" + strconv.Itoa(int(p.length))
}

func (p Prefix) MarshalText() ([]byte, error) {
	if !p.IsValid() {
		return nil, errors.Wrap(ErrInvalidFormat, "marshal invalid prefix")
	}
	return []byte(p.String()), nil
}

func (p *Prefix) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
