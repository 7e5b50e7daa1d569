// Package delta implements block signatures and delta encoding in the
// rsync manner: a rolling weak checksum nominates candidate blocks and
// SHA-256 confirms them.
package delta

// DefaultBlockSize is used when no block size is configured.
const DefaultBlockSize = 4096

const (
	minBlockSize = 512
	maxBlockSize = 1 << 20
)

// ValidBlockSize accepts powers of two between 512 bytes and 1 MiB.
func ValidBlockSize(n int) bool {
	return n >= minBlockSize && n <= maxBlockSize && n&(n-1) == 0
}

// rolling is the weak checksum over a window: a is the byte sum and b the
// position-weighted sum, both kept modulo 2^16.
type rolling struct {
	a, b uint32
	n    uint32
}

func newRolling(window []byte) rolling {
	r := rolling{n: uint32(len(window))}
	for i, c := range window {
		r.a += uint32(c)
		r.b += uint32(len(window)-i) * uint32(c)
	}
	r.a &= 0xffff
	r.b &= 0xffff
	return r
}

// roll drops out from the front of the window and appends in.
func (r *rolling) roll(out, in byte) {
	r.a = (r.a - uint32(out) + uint32(in)) & 0xffff
	r.b = (r.b - r.n*uint32(out) + r.a) & 0xffff
}

func (r rolling) value() uint32 { return r.b<<16 | r.a }

// Weak is the weak checksum of a whole block.
func Weak(block []byte) uint32 {
	return newRolling(block).value()
}
