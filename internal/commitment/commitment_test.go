package commitment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/wagerengine/internal/domain"
)

func saltBytes(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i)
	}
	return b
}

func TestCommit_GoldenVectors(t *testing.T) {
	tests := []struct {
		name              string
		low, high, target int64
		salt              []byte
		want              string
	}{
		{
			name:   "positive range",
			low:    149_000_000,
			high:   151_000_000,
			target: 150_000_000,
			salt:   []byte("swiv-salt"),
			want:   "0x3a19910f5f215434ade9e27a281ae4bf2eb43606f76f1c944edc87b266624fcb",
		},
		{
			name:   "negative low",
			low:    -5,
			high:   5,
			target: 0,
			salt:   saltBytes(32),
			want:   "0xdd0ca42e6400f994aa37cf1bc138ca11f9b59fcee7142bf37ec11419a6e4ea44",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Commit(tt.low, tt.high, tt.target, tt.salt)
			assert.Equal(t, tt.want, got.Hex())
		})
	}
}

func TestPreimage_EncodeLayout(t *testing.T) {
	p := Preimage{Low: 1, High: -1, Target: 256, Salt: []byte{0xAA}}
	enc := p.Encode()

	require.Len(t, enc, 25)
	assert.Equal(t, []byte{1, 0, 0, 0, 0, 0, 0, 0}, enc[0:8])
	assert.Equal(t, []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}, enc[8:16])
	assert.Equal(t, []byte{0, 1, 0, 0, 0, 0, 0, 0}, enc[16:24])
	assert.Equal(t, byte(0xAA), enc[24])
}

func TestVerify_RoundTrip(t *testing.T) {
	salt, err := NewSalt()
	require.NoError(t, err)
	require.Len(t, salt, SaltSize)

	cases := [][3]int64{
		{0, 0, 0},
		{-1 << 63, 1<<63 - 1, 42},
		{100, 200, 150},
	}
	for _, c := range cases {
		d := Commit(c[0], c[1], c[2], salt)
		assert.True(t, Verify(d, c[0], c[1], c[2], salt))
	}
}

func TestVerify_EmptySalt(t *testing.T) {
	d := Commit(1, 2, 3, nil)
	assert.True(t, Verify(d, 1, 2, 3, []byte{}))
}

func TestVerify_SingleBitMutation(t *testing.T) {
	low, high, target := int64(149_000_000), int64(151_000_000), int64(150_000_000)
	salt := saltBytes(16)
	digest := Commit(low, high, target, salt)

	for bit := 0; bit < 64; bit++ {
		flip := int64(1) << bit
		assert.False(t, Verify(digest, low^flip, high, target, salt), "low bit %d", bit)
		assert.False(t, Verify(digest, low, high^flip, target, salt), "high bit %d", bit)
		assert.False(t, Verify(digest, low, high, target^flip, salt), "target bit %d", bit)
	}

	for i := range salt {
		for bit := 0; bit < 8; bit++ {
			mutated := append([]byte(nil), salt...)
			mutated[i] ^= 1 << bit
			assert.False(t, Verify(digest, low, high, target, mutated), "salt byte %d bit %d", i, bit)
		}
	}

	for i := 0; i < len(digest); i++ {
		mutated := digest
		mutated[i] ^= 0x01
		assert.False(t, Verify(mutated, low, high, target, salt), "digest byte %d", i)
	}
}

func TestVerify_SaltLengthMatters(t *testing.T) {
	salt := saltBytes(8)
	digest := Commit(1, 2, 3, salt)

	assert.False(t, Verify(digest, 1, 2, 3, salt[:7]))
	assert.False(t, Verify(digest, 1, 2, 3, append(append([]byte(nil), salt...), 0)))
}

func TestDigest_HexRoundTrip(t *testing.T) {
	d := Commit(7, 8, 9, []byte("x"))
	parsed, err := domain.ParseDigest(d.Hex())
	require.NoError(t, err)
	assert.Equal(t, d, parsed)

	_, err = domain.ParseDigest("0x1234")
	assert.Error(t, err)
}
