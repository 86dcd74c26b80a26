package pkg

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"bgp_controller/pkg/metrics"
	"bgp_controller/pkg/route"
)

// maxFrame bounds a single update frame read from a stream
const maxFrame = 64 << 20

// DefaultBatchSize is the number of entries per update frame
const DefaultBatchSize = 256

var codecReasons = map[string]error{
	"buffer_too_small": route.ErrBufferTooSmall,
	"truncated":        route.ErrTruncatedBuffer,
	"invalid_format":   route.ErrInvalidFormat,
	"out_of_range":     route.ErrOutOfRange,
}

// UpdateWriter writes length prefixed update frames
type UpdateWriter struct {
	w io.Writer
}

func NewUpdateWriter(w io.Writer) *UpdateWriter {
	return &UpdateWriter{w: w}
}

// WriteUpdate writes one frame holding entries
func (u *UpdateWriter) WriteUpdate(entries []*route.Entry, done bool) error {
	frame, err := route.MarshalUpdate(entries, done)
	if err != nil {
		metrics.CodecError(err, codecReasons)
		return err
	}
	var length [4]byte
	binary.NativeEndian.PutUint32(length[:], uint32(len(frame)))
	if _, err := u.w.Write(length[:]); err != nil {
		return errors.Wrap(err, "write frame length")
	}
	if _, err := u.w.Write(frame); err != nil {
		return errors.Wrap(err, "write frame")
	}
	metrics.EntriesEncoded(len(entries))
	metrics.UpdateFrame(len(frame))
	return nil
}

// WriteTable writes entries in batches and marks the last frame done
func (u *UpdateWriter) WriteTable(entries []*route.Entry, batchSize int) error {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	for start := 0; ; start += batchSize {
		end := min(start+batchSize, len(entries))
		done := end == len(entries)
		if err := u.WriteUpdate(entries[start:end], done); err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

// UpdateReader reads frames written by UpdateWriter
type UpdateReader struct {
	r *bufio.Reader
}

func NewUpdateReader(r io.Reader) *UpdateReader {
	return &UpdateReader{r: bufio.NewReader(r)}
}

// ReadUpdate returns the entries of the next frame. It returns io.EOF when the
// stream ends between frames
func (u *UpdateReader) ReadUpdate() ([]*route.Entry, bool, error) {
	var length [4]byte
	if _, err := io.ReadFull(u.r, length[:]); err != nil {
		if err == io.EOF {
			return nil, false, io.EOF
		}
		return nil, false, errors.Wrap(route.ErrTruncatedBuffer, "frame length")
	}
	n := binary.NativeEndian.Uint32(length[:])
	if n > maxFrame {
		return nil, false, errors.Wrapf(route.ErrInvalidFormat, "frame of %d bytes", n)
	}
	frame := make([]byte, n)
	if _, err := io.ReadFull(u.r, frame); err != nil {
		return nil, false, errors.Wrapf(route.ErrTruncatedBuffer, "frame body of %d bytes", n)
	}
	entries, done, err := route.UnmarshalUpdate(frame)
	if err != nil {
		metrics.CodecError(err, codecReasons)
		return nil, false, err
	}
	metrics.EntriesDecoded(len(entries))
	return entries, done, nil
}

// ReadTable reads frames until one is marked done
func (u *UpdateReader) ReadTable() ([]*route.Entry, error) {
	var table []*route.Entry
	for {
		entries, done, err := u.ReadUpdate()
		if err != nil {
			if err == io.EOF {
				return nil, errors.Wrap(route.ErrTruncatedBuffer, "stream ended before the last frame")
			}
			return nil, err
		}
		table = append(table, entries...)
		if done {
			return table, nil
		}
	}
}
