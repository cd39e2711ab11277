// Package delta computes reversible byte-level diffs between successive
// payloads of one logical stream, shrinking wire size for payloads that
// change incrementally (entity state, scene snapshots, telemetry).
//
// A delta is a stream of two operations against the previous payload:
//
//	copy:   [0x00][offset: uvarint][length: uvarint]  bytes from the base
//	insert: [0x01][bytes: len-prefixed]               literal bytes
//
// Replaying the operations against the base reconstructs the next payload
// exactly: ApplyDelta(base, ComputeDelta(base, next)) == next for all
// inputs.
package delta

import (
	"errors"
	"fmt"

	"github.com/gamebridge-dev/gamebridge/pkg/protocol"
)

// blockSize is the granularity of base matching. Smaller blocks find more
// matches at the cost of a larger index.
const blockSize = 32

// Delta op codes.
const (
	opCopy   = 0x00
	opInsert = 0x01
)

// Errors surfaced while applying deltas.
var (
	ErrCorruptDelta   = errors.New("delta: corrupt delta stream")
	ErrResyncRequired = errors.New("delta: base out of sync, full payload required")
)

// ComputeDelta produces a delta that transforms prev into cur. The result
// is correct for any pair of inputs; it is only profitable when the inputs
// share content. Callers should fall back to sending cur directly when the
// delta is not smaller (StreamEncoder does this automatically).
func ComputeDelta(prev, cur []byte) []byte {
	e := protocol.NewEncoderWithCap(len(cur)/4 + 16)

	// Index prev by block content. First occurrence wins.
	index := make(map[string]int, len(prev)/blockSize+1)
	for i := 0; i+blockSize <= len(prev); i += blockSize {
		key := string(prev[i : i+blockSize])
		if _, ok := index[key]; !ok {
			index[key] = i
		}
	}

	var lit []byte
	flushLit := func() {
		if len(lit) > 0 {
			e.WriteByte(opInsert)
			e.WriteLenBytes(lit)
			lit = lit[:0]
		}
	}

	pos := 0
	for pos < len(cur) {
		if pos+blockSize <= len(cur) {
			if off, ok := index[string(cur[pos:pos+blockSize])]; ok {
				// Extend the match beyond the block boundary.
				n := blockSize
				for off+n < len(prev) && pos+n < len(cur) && prev[off+n] == cur[pos+n] {
					n++
				}
				flushLit()
				e.WriteByte(opCopy)
				e.WriteUvarint(uint64(off))
				e.WriteUvarint(uint64(n))
				pos += n
				continue
			}
		}
		lit = append(lit, cur[pos])
		pos++
	}
	flushLit()

	out := make([]byte, e.Len())
	copy(out, e.Bytes())
	return out
}

// ApplyDelta reconstructs the next payload from base and a delta produced
// by ComputeDelta. A copy range that falls outside base means the caller's
// base diverged from the sender's; that surfaces as ErrResyncRequired.
func ApplyDelta(base, diff []byte) ([]byte, error) {
	d := protocol.NewDecoder(diff)
	var out []byte

	for !d.EOF() {
		op, err := d.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptDelta, err)
		}
		switch op {
		case opCopy:
			off, err := d.ReadUvarint()
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrCorruptDelta, err)
			}
			n, err := d.ReadUvarint()
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrCorruptDelta, err)
			}
			// Checked as subtractions so huge off or n cannot wrap the sum.
			if off > uint64(len(base)) || n > uint64(len(base))-off {
				return nil, fmt.Errorf("%w: copy at %d of %d bytes beyond base of %d bytes",
					ErrResyncRequired, off, n, len(base))
			}
			if n > protocol.DefaultMaxAllocation-uint64(len(out)) {
				return nil, fmt.Errorf("%w: output exceeds allocation limit", ErrCorruptDelta)
			}
			out = append(out, base[off:off+n]...)

		case opInsert:
			b, err := d.ReadLenBytes()
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrCorruptDelta, err)
			}
			if len(out)+len(b) > protocol.DefaultMaxAllocation {
				return nil, fmt.Errorf("%w: output exceeds allocation limit", ErrCorruptDelta)
			}
			out = append(out, b...)

		default:
			return nil, fmt.Errorf("%w: unknown op 0x%02x", ErrCorruptDelta, op)
		}
	}

	if out == nil {
		out = []byte{}
	}
	return out, nil
}
