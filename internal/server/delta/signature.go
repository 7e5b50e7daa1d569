package delta

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/vaultnode/internal/common"
)

// Signature identifies one block of a file.
type Signature struct {
	Weak   uint32
	Strong [sha256.Size]byte
}

// Signatures reads r to EOF and returns one signature per block; the last
// block may be short.
func Signatures(r io.Reader, blockSize int) ([]Signature, error) {
	if !ValidBlockSize(blockSize) {
		return nil, common.BadRequestf("invalid block size %d", blockSize)
	}
	var out []Signature
	buf := make([]byte, blockSize)
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			out = append(out, Signature{Weak: Weak(buf[:n]), Strong: sha256.Sum256(buf[:n])})
		}
		switch {
		case err == nil:
			continue
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			return out, nil
		default:
			return nil, err
		}
	}
}

// WriteSignatures writes one "weak,strong_hex" line per signature.
func WriteSignatures(w io.Writer, sigs []Signature) error {
	bw := bufio.NewWriter(w)
	for _, s := range sigs {
		if _, err := fmt.Fprintf(bw, "%d,%s\n", s.Weak, hex.EncodeToString(s.Strong[:])); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// ReadSignatures parses the line format written by WriteSignatures.
func ReadSignatures(r io.Reader) ([]Signature, error) {
	var out []Signature
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		weakPart, strongPart, ok := strings.Cut(text, ",")
		if !ok {
			return nil, common.BadRequestf("signature line %d: missing comma", line)
		}
		weak, err := strconv.ParseUint(weakPart, 10, 32)
		if err != nil {
			return nil, common.BadRequestf("signature line %d: %v", line, err)
		}
		strong, err := hex.DecodeString(strongPart)
		if err != nil || len(strong) != sha256.Size {
			return nil, common.BadRequestf("signature line %d: bad strong hash", line)
		}
		s := Signature{Weak: uint32(weak)}
		copy(s.Strong[:], strong)
		out = append(out, s)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
