package delta

import (
	"bufio"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/dmitrijs2005/vaultnode/internal/common"
)

// Wire framing: magic, uint32 big-endian block size, then items until
// opEnd.
var magic = [4]byte{'V', 'D', 'L', 'T'}

const (
	opEnd     byte = 0x00
	opCopy    byte = 0x01
	opLiteral byte = 0x02

	// maxLiteral bounds one literal run on the wire.
	maxLiteral = 64 << 10
)

// Stats summarises an encoded delta.
type Stats struct {
	Blocks       int64
	LiteralRuns  int64
	LiteralBytes int64
}

type writer struct {
	w     *bufio.Writer
	lit   []byte
	stats Stats
	tmp   [binary.MaxVarintLen64]byte
}

func (e *writer) literal(c byte) error {
	e.lit = append(e.lit, c)
	if len(e.lit) == maxLiteral {
		return e.flush()
	}
	return nil
}

func (e *writer) literalRun(p []byte) error {
	for _, c := range p {
		if err := e.literal(c); err != nil {
			return err
		}
	}
	return nil
}

func (e *writer) flush() error {
	if len(e.lit) == 0 {
		return nil
	}
	if err := e.w.WriteByte(opLiteral); err != nil {
		return err
	}
	n := binary.PutUvarint(e.tmp[:], uint64(len(e.lit)))
	if _, err := e.w.Write(e.tmp[:n]); err != nil {
		return err
	}
	if _, err := e.w.Write(e.lit); err != nil {
		return err
	}
	e.stats.LiteralRuns++
	e.stats.LiteralBytes += int64(len(e.lit))
	e.lit = e.lit[:0]
	return nil
}

func (e *writer) block(index int) error {
	if err := e.flush(); err != nil {
		return err
	}
	if err := e.w.WriteByte(opCopy); err != nil {
		return err
	}
	n := binary.PutUvarint(e.tmp[:], uint64(index))
	_, err := e.w.Write(e.tmp[:n])
	e.stats.Blocks++
	return err
}

// index maps weak checksums to block indices in ascending order.
type index struct {
	sigs   []Signature
	byWeak map[uint32][]int
}

func newIndex(sigs []Signature) *index {
	ix := &index{sigs: sigs, byWeak: make(map[uint32][]int, len(sigs))}
	for i, s := range sigs {
		ix.byWeak[s.Weak] = append(ix.byWeak[s.Weak], i)
	}
	return ix
}

// find returns the block whose signature matches window. Candidates after
// the last matched block are tried first, then the earlier ones.
func (ix *index) find(weak uint32, window []byte, last int) (int, bool) {
	cands := ix.byWeak[weak]
	if len(cands) == 0 {
		return 0, false
	}
	strong := sha256.Sum256(window)
	start := 0
	for start < len(cands) && cands[start] <= last {
		start++
	}
	for k := 0; k < len(cands); k++ {
		i := cands[(start+k)%len(cands)]
		if ix.sigs[i].Strong == strong {
			return i, true
		}
	}
	return 0, false
}

// Encode writes the delta that rebuilds src from the file described by
// sigs. Memory is bounded by two blocks, one literal run and the index.
func Encode(src io.Reader, sigs []Signature, blockSize int, w io.Writer) (Stats, error) {
	if !ValidBlockSize(blockSize) {
		return Stats{}, common.BadRequestf("invalid block size %d", blockSize)
	}

	enc := &writer{w: bufio.NewWriter(w), lit: make([]byte, 0, maxLiteral)}
	if _, err := enc.w.Write(magic[:]); err != nil {
		return Stats{}, err
	}
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(blockSize))
	if _, err := enc.w.Write(hdr[:]); err != nil {
		return Stats{}, err
	}

	ix := newIndex(sigs)
	br := bufio.NewReaderSize(src, 64<<10)

	buf := make([]byte, 2*blockSize)
	start, end := 0, 0
	last := -1

	// fill reads up to one block into buf[start:end].
	fill := func() (bool, error) {
		start, end = 0, 0
		n, err := io.ReadFull(br, buf[:blockSize])
		end = n
		if err == nil {
			return true, nil
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return false, nil
		}
		return false, err
	}

	full, err := fill()
	if err != nil {
		return Stats{}, err
	}
	var roll rolling
	if full {
		roll = newRolling(buf[start:end])
	}

	for full {
		if i, ok := ix.find(roll.value(), buf[start:end], last); ok {
			if err := enc.block(i); err != nil {
				return Stats{}, err
			}
			last = i
			if full, err = fill(); err != nil {
				return Stats{}, err
			}
			if full {
				roll = newRolling(buf[start:end])
			}
			continue
		}

		c, err := br.ReadByte()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				return Stats{}, err
			}
			break
		}
		out := buf[start]
		if err := enc.literal(out); err != nil {
			return Stats{}, err
		}
		if end == len(buf) {
			copy(buf, buf[start:end])
			end -= start
			start = 0
		}
		buf[end] = c
		end++
		start++
		roll.roll(out, c)
	}

	// Tail shorter than a block: only the final signature can be short.
	if tail := buf[start:end]; len(tail) > 0 {
		n := len(sigs)
		matched := false
		if n > 0 && len(tail) < blockSize {
			s := sigs[n-1]
			if s.Weak == Weak(tail) && s.Strong == sha256.Sum256(tail) {
				if err := enc.block(n - 1); err != nil {
					return Stats{}, err
				}
				matched = true
			}
		}
		if !matched {
			if err := enc.literalRun(tail); err != nil {
				return Stats{}, err
			}
		}
	}

	if err := enc.flush(); err != nil {
		return Stats{}, err
	}
	if err := enc.w.WriteByte(opEnd); err != nil {
		return Stats{}, err
	}
	return enc.stats, enc.w.Flush()
}

// Apply rebuilds the target from base and a delta produced by Encode.
func Apply(base io.ReaderAt, delta io.Reader, w io.Writer) error {
	br := bufio.NewReader(delta)

	var hdr [8]byte
	if _, err := io.ReadFull(br, hdr[:]); err != nil {
		return common.BadRequestf("delta header: %v", err)
	}
	if [4]byte(hdr[:4]) != magic {
		return common.BadRequestf("not a delta stream")
	}
	blockSize := int64(binary.BigEndian.Uint32(hdr[4:]))
	if !ValidBlockSize(int(blockSize)) {
		return common.BadRequestf("invalid block size %d", blockSize)
	}

	for {
		op, err := br.ReadByte()
		if err != nil {
			return common.BadRequestf("truncated delta")
		}
		switch op {
		case opEnd:
			return nil
		case opCopy:
			idx, err := binary.ReadUvarint(br)
			if err != nil {
				return common.BadRequestf("truncated delta")
			}
			n, err := io.Copy(w, io.NewSectionReader(base, int64(idx)*blockSize, blockSize))
			if err != nil {
				return fmt.Errorf("copy block %d: %w", idx, err)
			}
			if n == 0 {
				return common.BadRequestf("block %d is past the end of the base", idx)
			}
		case opLiteral:
			n, err := binary.ReadUvarint(br)
			if err != nil || n == 0 || n > maxLiteral {
				return common.BadRequestf("bad literal length")
			}
			if _, err := io.CopyN(w, br, int64(n)); err != nil {
				if errors.Is(err, io.EOF) {
					return common.BadRequestf("truncated delta")
				}
				return err
			}
		default:
			return common.BadRequestf("unknown delta item 0x%02x", op)
		}
	}
}
