package route

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// WireVersion is the version byte of an update frame
const WireVersion = 1

const (
	updateHeaderLen = 1 + 1 + 4
	flagDone        = 1 << 0
)

// AppendEntry appends the encoding of e to dst
func AppendEntry(dst []byte, e *Entry) ([]byte, error) {
	off := len(dst)
	dst = append(dst, make([]byte, Size(e))...)
	n, err := Encode(e, dst[off:])
	if err != nil {
		return dst[:off], err
	}
	return dst[:off+n], nil
}

// EncodeBatch concatenates the encodings of entries
func EncodeBatch(entries []*Entry) ([]byte, error) {
	size := 0
	for _, e := range entries {
		size += Size(e)
	}
	buf := make([]byte, 0, size)
	for i, e := range entries {
		var err error
		if buf, err = AppendEntry(buf, e); err != nil {
			return nil, errors.WithMessagef(err, "entry %d", i)
		}
	}
	return buf, nil
}

// DecodeAll decodes back to back entries until buf is consumed
func DecodeAll(buf []byte) ([]*Entry, error) {
	var entries []*Entry
	for off := 0; off < len(buf); {
		e, n, err := Decode(buf[off:])
		if err != nil {
			return nil, errors.WithMessagef(err, "entry %d at offset %d", len(entries), off)
		}
		entries = append(entries, e)
		off += n
	}
	return entries, nil
}

// MarshalUpdate frames a batch of entries. The header carries the wire
// version, a done flag marking the last batch of a table dump and the entry
// count, followed by the concatenated entries
func MarshalUpdate(entries []*Entry, done bool) ([]byte, error) {
	body, err := EncodeBatch(entries)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, updateHeaderLen, updateHeaderLen+len(body))
	buf[0] = WireVersion
	if done {
		buf[1] |= flagDone
	}
	binary.NativeEndian.PutUint32(buf[2:], uint32(len(entries)))
	return append(buf, body...), nil
}

// UnmarshalUpdate parses a frame built by MarshalUpdate
func UnmarshalUpdate(buf []byte) (entries []*Entry, done bool, err error) {
	if len(buf) < updateHeaderLen {
		return nil, false, errors.Wrapf(ErrTruncatedBuffer, "update header needs %d bytes, have %d", updateHeaderLen, len(buf))
	}
	if buf[0] != WireVersion {
		return nil, false, errors.Wrapf(ErrInvalidFormat, "unsupported wire version %d", buf[0])
	}
	done = buf[1]&flagDone != 0
	count := binary.NativeEndian.Uint32(buf[2:])

	entries, err = DecodeAll(buf[updateHeaderLen:])
	if err != nil {
		return nil, false, err
	}
	if uint32(len(entries)) != count {
		return nil, false, errors.Wrapf(ErrInvalidFormat, "header announces %d entries, found %d", count, len(entries))
	}
	return entries, done, nil
}
