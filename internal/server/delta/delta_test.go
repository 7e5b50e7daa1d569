package delta

import (
	"bytes"
	"strings"
	"testing"

	"github.com/dmitrijs2005/vaultnode/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"lukechampine.com/frand"
)

func roundTrip(t *testing.T, base, target []byte, blockSize int) Stats {
	t.Helper()
	sigs, err := Signatures(bytes.NewReader(base), blockSize)
	require.NoError(t, err)

	var d bytes.Buffer
	stats, err := Encode(bytes.NewReader(target), sigs, blockSize, &d)
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, Apply(bytes.NewReader(base), &d, &out))
	require.True(t, bytes.Equal(target, out.Bytes()), "reconstructed target differs")
	return stats
}

func TestRollingMatchesFresh(t *testing.T) {
	data := frand.Bytes(3000)
	const n = 512
	r := newRolling(data[:n])
	for i := 1; i+n <= len(data); i++ {
		r.roll(data[i-1], data[i+n-1])
		if r.value() != Weak(data[i:i+n]) {
			t.Fatalf("rolled checksum diverged at offset %d", i)
		}
	}
}

func TestValidBlockSize(t *testing.T) {
	assert.True(t, ValidBlockSize(4096))
	assert.False(t, ValidBlockSize(4095))
	assert.False(t, ValidBlockSize(256))
	assert.False(t, ValidBlockSize(2<<20))
}

func TestSharedPrefix(t *testing.T) {
	base := frand.Bytes(10000)
	target := append(append([]byte{}, base[:4096]...), frand.Bytes(10000-4096)...)

	sigs, err := Signatures(bytes.NewReader(base), 4096)
	require.NoError(t, err)
	require.Len(t, sigs, 3)

	stats := roundTrip(t, base, target, 4096)
	assert.EqualValues(t, 1, stats.Blocks)
	assert.EqualValues(t, 1, stats.LiteralRuns)
	assert.EqualValues(t, 10000-4096, stats.LiteralBytes)
}

func TestIdenticalAndShortTail(t *testing.T) {
	base := frand.Bytes(3*1024 + 100)
	stats := roundTrip(t, base, base, 1024)
	assert.EqualValues(t, 4, stats.Blocks)
	assert.Zero(t, stats.LiteralBytes)
}

func TestShiftedContent(t *testing.T) {
	base := frand.Bytes(8192)
	target := append([]byte("inserted prefix"), base...)
	stats := roundTrip(t, base, target, 1024)
	assert.EqualValues(t, 8, stats.Blocks)
	assert.EqualValues(t, len("inserted prefix"), stats.LiteralBytes)
}

func TestReorderedBlocks(t *testing.T) {
	base := frand.Bytes(4 * 512)
	var target []byte
	for _, i := range []int{3, 0, 2, 1, 0} {
		target = append(target, base[i*512:(i+1)*512]...)
	}
	stats := roundTrip(t, base, target, 512)
	assert.EqualValues(t, 5, stats.Blocks)
}

func TestRandomRoundTrips(t *testing.T) {
	for i := 0; i < 20; i++ {
		blockSize := 512 << frand.Intn(4)
		base := frand.Bytes(frand.Intn(20000))
		target := mutate(base)
		roundTrip(t, base, target, blockSize)
	}
}

func mutate(b []byte) []byte {
	out := append([]byte{}, b...)
	for k := frand.Intn(5); k > 0 && len(out) > 0; k-- {
		pos := frand.Intn(len(out))
		switch frand.Intn(3) {
		case 0:
			out[pos] ^= 0xff
		case 1:
			out = append(out[:pos], append(frand.Bytes(frand.Intn(300)), out[pos:]...)...)
		default:
			cut := pos + frand.Intn(len(out)-pos)
			out = append(out[:pos], out[cut:]...)
		}
	}
	return out
}

func TestEmptyInputs(t *testing.T) {
	roundTrip(t, nil, nil, 512)
	roundTrip(t, nil, []byte("new"), 512)
	roundTrip(t, []byte("old"), nil, 512)
}

func TestLongLiteralRunsAreSplit(t *testing.T) {
	target := frand.Bytes(maxLiteral*2 + 10)
	stats := roundTrip(t, nil, target, 4096)
	assert.EqualValues(t, 3, stats.LiteralRuns)
}

func TestSignatureWireFormat(t *testing.T) {
	sigs, err := Signatures(bytes.NewReader(frand.Bytes(2000)), 512)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteSignatures(&buf, sigs))
	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	require.Len(t, lines, 4)
	assert.Regexp(t, `^\d+,[0-9a-f]{64}$`, lines[0])

	back, err := ReadSignatures(&buf)
	require.NoError(t, err)
	assert.Equal(t, sigs, back)

	for _, bad := range []string{"12\n", "x,00\n", "1,zz\n", "1,abcd\n"} {
		_, err := ReadSignatures(strings.NewReader(bad))
		assert.ErrorIs(t, err, common.ErrorBadRequest, bad)
	}
}

func TestApplyRejectsMalformed(t *testing.T) {
	base := bytes.NewReader([]byte("base"))
	for name, d := range map[string][]byte{
		"no magic":   []byte("XXXX\x00\x00\x10\x00\x00"),
		"block size": []byte("VDLT\x00\x00\x00\x03\x00"),
		"truncated":  []byte("VDLT\x00\x00\x10\x00\x02\x05ab"),
		"no end":     []byte("VDLT\x00\x00\x10\x00"),
		"past end":   []byte("VDLT\x00\x00\x10\x00\x01\x07\x00"),
		"unknown op": []byte("VDLT\x00\x00\x10\x00\x09"),
	} {
		err := Apply(base, bytes.NewReader(d), &bytes.Buffer{})
		assert.ErrorIs(t, err, common.ErrorBadRequest, name)
	}
}
