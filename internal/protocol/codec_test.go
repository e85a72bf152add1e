package protocol

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func knownSet(addrs ...string) func(string) bool {
	m := make(map[string]bool, len(addrs))
	for _, a := range addrs {
		m[a] = true
	}
	return func(a string) bool { return m[a] }
}

func TestEncodeFirstScenario(t *testing.T) {
	got := EncodeFirst("/ip4/127.0.0.1/tcp/0", "alice", "hi")
	assert.Equal(t, "/ip4/127.0.0.1/tcp/0*@alice*@hi", string(got))
}

func TestDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		addr string
		user string
		text string
	}{
		{"plain", "/ip4/10.0.0.2/tcp/4001", "bob", "hello"},
		{"empty text", "/ip4/10.0.0.2/tcp/4001", "bob", ""},
		{"separator in text", "/ip4/10.0.0.2/tcp/4001", "bob", "a*@b*@c"},
		{"unicode", "/ip6/::1/tcp/1", "zoë", "héllo wörld"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			first, err := Decode(EncodeFirst(tt.addr, tt.user, tt.text), knownSet())
			require.NoError(t, err)
			assert.Equal(t, Frame{Address: tt.addr, Username: tt.user, Text: tt.text, First: true}, first)

			next, err := Decode(EncodeNext(tt.addr, tt.text), knownSet(tt.addr))
			require.NoError(t, err)
			assert.Equal(t, Frame{Address: tt.addr, Text: tt.text}, next)
		})
	}
}

func TestDecodeKnownPeerKeepsSeparators(t *testing.T) {
	f, err := Decode([]byte("A*@how are you"), knownSet("A"))
	require.NoError(t, err)
	assert.Equal(t, "how are you", f.Text)

	f, err = Decode([]byte("A*@x*@y*@z"), knownSet("A"))
	require.NoError(t, err)
	assert.Equal(t, "x*@y*@z", f.Text)
	assert.False(t, f.First)
}

func TestDecodeUnseenPeer(t *testing.T) {
	f, err := Decode([]byte("A*@bob*@hello"), knownSet())
	require.NoError(t, err)
	assert.True(t, f.First)
	assert.Equal(t, "A", f.Address)
	assert.Equal(t, "bob", f.Username)
	assert.Equal(t, "hello", f.Text)
}

func TestDecodeErrors(t *testing.T) {
	_, err := Decode([]byte("no separator here"), knownSet())
	assert.ErrorIs(t, err, ErrMalformed)

	f, err := Decode([]byte("A*@only text"), knownSet())
	assert.ErrorIs(t, err, ErrUnknownShortForm)
	assert.Equal(t, "A", f.Address)
}

func TestTextLossy(t *testing.T) {
	s, lossy := Text([]byte("fine"))
	assert.False(t, lossy)
	assert.Equal(t, "fine", s)

	s, lossy = Text([]byte{'A', '*', '@', 0xff, 'x'})
	assert.True(t, lossy)
	assert.Equal(t, "A*@�x", s)

	// decoding never fails on invalid bytes
	f, err := Decode([]byte{'A', '*', '@', 'b', '*', '@', 0xc3}, knownSet())
	require.NoError(t, err)
	assert.Equal(t, "�", f.Text)
}

func TestMessageIDVerifies(t *testing.T) {
	payloads := [][]byte{
		[]byte(""),
		[]byte("/ip4/127.0.0.1/tcp/0*@alice*@hi"),
		{0x00, 0xff, 0x10},
	}
	for _, p := range payloads {
		for _, ts := range []int64{0, 1700000000, 9999999999} {
			id := MessageID(p, time.Unix(ts, 0))
			v := Verify(p, id)
			assert.True(t, v.OK, "payload %q at %d", p, ts)
			got, err := IDTime(id)
			require.NoError(t, err)
			assert.Equal(t, ts, got)
		}
	}
}

func TestMessageIDFixedWidth(t *testing.T) {
	id := MessageID([]byte("x"), time.Unix(42, 0))
	assert.Equal(t, "0000000042", id[:TimeWidth])
	assert.Equal(t, DigestPrefix([]byte("x")), id[TimeWidth:])
}

func TestMessageIDDiffersAcrossSeconds(t *testing.T) {
	p := []byte("same text")
	a := MessageID(p, time.Unix(1700000000, 0))
	b := MessageID(p, time.Unix(1700000001, 0))
	c := MessageID(p, time.Unix(1700000000, 0))
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, c)
}

func TestVerifyDetectsTampering(t *testing.T) {
	id := MessageID([]byte("A*@bob*@hello"), time.Unix(1700000000, 0))
	tampered := []byte("A*@bob*@goodbye")

	v := Verify(tampered, id)
	assert.False(t, v.OK)
	assert.NotEqual(t, v.Computed, v.Received)

	// the payload still decodes unchanged
	f, err := Decode(tampered, knownSet())
	require.NoError(t, err)
	assert.Equal(t, "goodbye", f.Text)
}

func TestVerifyShortID(t *testing.T) {
	v := Verify([]byte("x"), "123")
	assert.False(t, v.OK)
	assert.Empty(t, v.Received)
}

func TestDigestPrefixKnownValue(t *testing.T) {
	// SHA3-256("") begins a7 ff c6 f8 bf 1e d7 66 51 c1 47 56 a0 61 d6 62
	assert.Equal(t, "167255198248191302151028119371861609721498", DigestPrefix(nil))
}
