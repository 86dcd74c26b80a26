package route

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodecRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		opts   []Option
	}{
		{name: "bare ipv4", prefix: "10.0.0.0/8"},
		{name: "ipv4 full", prefix: "192.0.2.0/24", opts: []Option{
			WithASPath(65001, 65002), WithASSet(64512), WithCommunities(Community{65000, 100}, Community{65000, 200}), WithPreference(150),
		}},
		{name: "ipv6", prefix: "2001:db8::/32", opts: []Option{WithASPath(4200000000)}},
		{name: "ipv6 host", prefix: "2001:db8::1", opts: []Option{WithCommunities(Community{4294967295, 0})}},
		{name: "ipv6 full", prefix: "2001:db8::/48", opts: []Option{
			WithASPath(1, 2), WithASSet(3), WithCommunities(Community{4, 5}), WithPreference(90),
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e, err := New(OriginEGP, 65001, PrefixText(tc.prefix), "198.51.100.7", tc.opts...)
			require.NoError(t, err)

			buf := make([]byte, Size(e)+8)
			n, err := Encode(e, buf)
			require.NoError(t, err)
			assert.Equal(t, Size(e), n)

			got, consumed, err := Decode(buf[:n])
			require.NoError(t, err)
			assert.Equal(t, n, consumed)
			assert.True(t, e.Equal(got), "decoded %v, want %v", got, e)
		})
	}
}

func TestEncodeLayout(t *testing.T) {
	e, err := New(OriginIncomplete, 7, PrefixText("10.1.0.0/16"), "nh", WithASPath(9), WithPreference(5))
	require.NoError(t, err)
	buf, err := Marshal(e)
	require.NoError(t, err)

	ne := binary.NativeEndian
	want := []byte{familyINET}
	want = ne.AppendUint32(want, 0x0a010000)
	want = append(want, 16)
	want = ne.AppendUint32(want, 7)
	want = ne.AppendUint32(want, 5)
	want = append(want, 2, 'n', 'h', 0)
	want = ne.AppendUint16(want, 1)
	want = ne.AppendUint32(want, 9)
	want = ne.AppendUint16(want, 0)
	want = ne.AppendUint16(want, 0)
	assert.Equal(t, want, buf)
}

func TestEncodeBufferTooSmall(t *testing.T) {
	e := mustNew(t, "10.0.0.0/8", WithASPath(1, 2, 3))
	buf := make([]byte, Size(e)-1)
	_, err := Encode(e, buf)
	assert.ErrorIs(t, err, ErrBufferTooSmall)
}

func TestEncodeRejectsNulInNexthop(t *testing.T) {
	e := mustNew(t, "10.0.0.0/8")
	e.SetNexthop("a\x00b")
	_, err := Marshal(e)
	assert.ErrorIs(t, err, ErrInvalidFormat)
}

func TestDecodeTruncated(t *testing.T) {
	for _, pfx := range []string{"10.0.0.0/8", "2001:db8::/48"} {
		e := mustNew(t, pfx, WithASPath(1, 2), WithASSet(3), WithCommunities(Community{4, 5}))
		buf, err := Marshal(e)
		require.NoError(t, err)

		for n := 0; n < len(buf); n++ {
			_, _, err := Decode(buf[:n])
			assert.ErrorIs(t, err, ErrTruncatedBuffer, "%s cut at %d", pfx, n)
		}
	}
}

func TestDecodeInvalid(t *testing.T) {
	e := mustNew(t, "10.0.0.0/8", WithCommunities(Community{1, 2}))
	good, err := Marshal(e)
	require.NoError(t, err)

	badFamily := append([]byte(nil), good...)
	badFamily[0] = 7
	_, _, err = Decode(badFamily)
	assert.ErrorIs(t, err, ErrInvalidFormat)

	badLength := append([]byte(nil), good...)
	badLength[5] = 33
	_, _, err = Decode(badLength)
	assert.ErrorIs(t, err, ErrInvalidFormat)

	badOrigin := append([]byte(nil), good...)
	badOrigin[14] = 9
	_, _, err = Decode(badOrigin)
	assert.ErrorIs(t, err, ErrInvalidFormat)

	// Community count of one word followed by that word.
	odd := append([]byte(nil), good[:len(good)-10]...)
	odd = binary.NativeEndian.AppendUint16(odd, 1)
	odd = binary.NativeEndian.AppendUint32(odd, 1)
	_, _, err = Decode(odd)
	assert.ErrorIs(t, err, ErrInvalidFormat)

	_, err = Unmarshal(append(good, 0))
	assert.ErrorIs(t, err, ErrInvalidFormat)
}

func TestBatch(t *testing.T) {
	entries := []*Entry{
		mustNew(t, "10.0.0.0/8", WithASPath(1)),
		mustNew(t, "2001:db8::/32", WithASSet(2)),
		mustNew(t, "192.0.2.0/24", WithCommunities(Community{3, 4})),
	}
	buf, err := EncodeBatch(entries)
	require.NoError(t, err)

	got, err := DecodeAll(buf)
	require.NoError(t, err)
	require.Len(t, got, len(entries))
	for i := range entries {
		assert.True(t, entries[i].Equal(got[i]), "entry %d", i)
	}

	_, err = DecodeAll(buf[:len(buf)-1])
	assert.ErrorIs(t, err, ErrTruncatedBuffer)

	empty, err := DecodeAll(nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestUpdateFrame(t *testing.T) {
	entries := []*Entry{
		mustNew(t, "10.0.0.0/8"),
		mustNew(t, "10.1.0.0/16"),
	}
	frame, err := MarshalUpdate(entries, true)
	require.NoError(t, err)

	got, done, err := UnmarshalUpdate(frame)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Len(t, got, 2)

	frame, err = MarshalUpdate(nil, false)
	require.NoError(t, err)
	got, done, err = UnmarshalUpdate(frame)
	require.NoError(t, err)
	assert.False(t, done)
	assert.Empty(t, got)

	bad := append([]byte(nil), frame...)
	bad[0] = WireVersion + 1
	_, _, err = UnmarshalUpdate(bad)
	assert.ErrorIs(t, err, ErrInvalidFormat)

	_, _, err = UnmarshalUpdate(frame[:3])
	assert.ErrorIs(t, err, ErrTruncatedBuffer)

	miscounted, err := MarshalUpdate(entries, false)
	require.NoError(t, err)
	binary.NativeEndian.PutUint32(miscounted[2:], 5)
	_, _, err = UnmarshalUpdate(miscounted)
	assert.ErrorIs(t, err, ErrInvalidFormat)
}
