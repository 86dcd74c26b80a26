package route

import (
	"bytes"
	"encoding/binary"
	"strings"
	"unicode/utf8"

	"github.com/pkg/errors"

	"bgp_controller/pkg/prefix"
)

// Address family tags on the wire
const (
	familyINET  = 2
	familyINET6 = 10
)

// Size returns the number of bytes Encode writes for e
func Size(e *Entry) int {
	n := 1
	if e.prefix.Is6() {
		n += 8 + 8 + 1
	} else {
		n += 4 + 1
	}
	n += 4 + 4 + 1
	n += len(e.nexthop) + 1
	n += 2 + 4*len(e.asPath)
	n += 2 + 4*len(e.asSet)
	n += 2 + 4*len(e.communities)
	return n
}

type writer struct {
	buf []byte
	off int
}

func (w *writer) u8(v uint8) {
	w.buf[w.off] = v
	w.off++
}

func (w *writer) u16(v uint16) {
	binary.NativeEndian.PutUint16(w.buf[w.off:], v)
	w.off += 2
}

func (w *writer) u32(v uint32) {
	binary.NativeEndian.PutUint32(w.buf[w.off:], v)
	w.off += 4
}

func (w *writer) u64(v uint64) {
	binary.NativeEndian.PutUint64(w.buf[w.off:], v)
	w.off += 8
}

func (w *writer) cstring(s string) {
	w.off += copy(w.buf[w.off:], s)
	w.u8(0)
}

func (w *writer) words(v []uint32) {
	w.u16(uint16(len(v)))
	for _, x := range v {
		w.u32(x)
	}
}

// Encode writes e into buf and returns the number of bytes written. Integers
// use the host byte order
func Encode(e *Entry, buf []byte) (int, error) {
	if strings.IndexByte(e.nexthop, 0) >= 0 {
		return 0, errors.Wrap(ErrInvalidFormat, "nexthop contains a NUL byte")
	}
	for _, field := range [][]uint32{e.asPath, e.asSet, e.communities} {
		if len(field) > maxWords {
			return 0, errors.Wrapf(ErrOutOfRange, "field of %d words", len(field))
		}
	}
	size := Size(e)
	if len(buf) < size {
		return 0, errors.Wrapf(ErrBufferTooSmall, "need %d bytes, have %d", size, len(buf))
	}

	w := writer{buf: buf}
	if e.prefix.Is6() {
		w.u8(familyINET6)
		w.u64(e.prefix.Upper())
		w.u64(e.prefix.Lower())
	} else {
		w.u8(familyINET)
		w.u32(e.prefix.IPv4())
	}
	w.u8(e.prefix.Length())
	w.u32(e.peer)
	w.u32(e.preference)
	w.u8(uint8(e.origin))
	w.cstring(e.nexthop)
	w.words(e.asPath)
	w.words(e.asSet)
	w.words(e.communities)
	return w.off, nil
}

// Marshal returns the encoding of e in a new slice
func Marshal(e *Entry) ([]byte, error) {
	buf := make([]byte, Size(e))
	n, err := Encode(e, buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

type reader struct {
	buf []byte
	off int
}

func (r *reader) need(n int, field string) error {
	if len(r.buf)-r.off < n {
		return errors.Wrapf(ErrTruncatedBuffer, "%s: need %d bytes at offset %d, have %d", field, n, r.off, len(r.buf)-r.off)
	}
	return nil
}

func (r *reader) u8(field string) (uint8, error) {
	if err := r.need(1, field); err != nil {
		return 0, err
	}
	v := r.buf[r.off]
	r.off++
	return v, nil
}

func (r *reader) u16(field string) (uint16, error) {
	if err := r.need(2, field); err != nil {
		return 0, err
	}
	v := binary.NativeEndian.Uint16(r.buf[r.off:])
	r.off += 2
	return v, nil
}

func (r *reader) u32(field string) (uint32, error) {
	if err := r.need(4, field); err != nil {
		return 0, err
	}
	v := binary.NativeEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v, nil
}

func (r *reader) u64(field string) (uint64, error) {
	if err := r.need(8, field); err != nil {
		return 0, err
	}
	v := binary.NativeEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return v, nil
}

func (r *reader) cstring(field string) (string, error) {
	i := bytes.IndexByte(r.buf[r.off:], 0)
	if i < 0 {
		return "", errors.Wrapf(ErrTruncatedBuffer, "%s: no terminator after offset %d", field, r.off)
	}
	s := string(r.buf[r.off : r.off+i])
	r.off += i + 1
	return s, nil
}

func (r *reader) words(field string) ([]uint32, error) {
	n, err := r.u16(field + " count")
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	if err := r.need(4*int(n), field); err != nil {
		return nil, err
	}
	out := make([]uint32, n)
	for i := range out {
		out[i] = binary.NativeEndian.Uint32(r.buf[r.off:])
		r.off += 4
	}
	return out, nil
}

// Decode reads one entry from the front of buf and returns it with the
// number of bytes consumed
func Decode(buf []byte) (*Entry, int, error) {
	r := reader{buf: buf}
	e, err := r.entry()
	if err != nil {
		return nil, 0, err
	}
	return e, r.off, nil
}

// Unmarshal decodes exactly one entry and rejects trailing bytes
func Unmarshal(buf []byte) (*Entry, error) {
	e, n, err := Decode(buf)
	if err != nil {
		return nil, err
	}
	if n != len(buf) {
		return nil, errors.Wrapf(ErrInvalidFormat, "%d trailing bytes", len(buf)-n)
	}
	return e, nil
}

func (r *reader) entry() (*Entry, error) {
	family, err := r.u8("family")
	if err != nil {
		return nil, err
	}

	var p prefix.Prefix
	switch family {
	case familyINET:
		ip, err := r.u32("ipv4 address")
		if err != nil {
			return nil, err
		}
		length, err := r.u8("prefix length")
		if err != nil {
			return nil, err
		}
		if p, err = prefix.NewIPv4(ip, length); err != nil {
			return nil, errors.Wrap(ErrInvalidFormat, err.Error())
		}
	case familyINET6:
		upper, err := r.u64("ipv6 address")
		if err != nil {
			return nil, err
		}
		lower, err := r.u64("ipv6 address")
		if err != nil {
			return nil, err
		}
		length, err := r.u8("prefix length")
		if err != nil {
			return nil, err
		}
		if p, err = prefix.NewIPv6(upper, lower, length); err != nil {
			return nil, errors.Wrap(ErrInvalidFormat, err.Error())
		}
	default:
		return nil, errors.Wrapf(ErrInvalidFormat, "unknown address family %d", family)
	}

	e := &Entry{prefix: p}
	if e.peer, err = r.u32("peer"); err != nil {
		return nil, err
	}
	if e.preference, err = r.u32("preference"); err != nil {
		return nil, err
	}
	origin, err := r.u8("origin")
	if err != nil {
		return nil, err
	}
	if Origin(origin) > OriginIncomplete {
		return nil, errors.Wrapf(ErrInvalidFormat, "origin %d", origin)
	}
	e.origin = Origin(origin)
	if e.nexthop, err = r.cstring("nexthop"); err != nil {
		return nil, err
	}
	if !utf8.ValidString(e.nexthop) {
		return nil, errors.Wrap(ErrInvalidFormat, "nexthop is not valid utf-8")
	}
	if e.asPath, err = r.words("as path"); err != nil {
		return nil, err
	}
	if e.asSet, err = r.words("as set"); err != nil {
		return nil, err
	}
	if e.communities, err = r.words("communities"); err != nil {
		return nil, err
	}
	if len(e.communities)%2 != 0 {
		return nil, errors.Wrapf(ErrInvalidFormat, "odd community word count %d", len(e.communities))
	}
	return e, nil
}
