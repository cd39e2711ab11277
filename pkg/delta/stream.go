package delta

import (
	"fmt"

	"github.com/gamebridge-dev/gamebridge/pkg/protocol"
)

// Stream payload flag bits.
const (
	flagReset = 0x01 // payload carries a full base, not a diff
)

// StreamEncoder tracks the last full payload of one logical stream and
// emits either a delta against it or a "reset" carrying the full payload.
// A reset is sent when no base exists yet or when the delta would not be
// smaller than the payload itself.
//
// Stream payload format:
//
//	[flags: uint8][seq: uvarint][body: len-prefixed bytes]
//
// where body is the full payload for resets and a delta op stream
// otherwise.
type StreamEncoder struct {
	base []byte
	seq  uint64
}

// NewStreamEncoder creates an encoder with no base; the first Encode call
// always emits a reset.
func NewStreamEncoder() *StreamEncoder {
	return &StreamEncoder{}
}

// Encode produces the stream payload for cur and records cur as the new
// base.
func (s *StreamEncoder) Encode(cur []byte) []byte {
	var flags byte
	body := cur

	if s.base != nil {
		if diff := ComputeDelta(s.base, cur); len(diff) < len(cur) {
			body = diff
		} else {
			flags = flagReset
		}
	} else {
		flags = flagReset
	}

	s.seq++
	s.base = append(s.base[:0], cur...)

	e := protocol.NewEncoderWithCap(len(body) + 12)
	e.WriteByte(flags)
	e.WriteUvarint(s.seq)
	e.WriteLenBytes(body)

	out := make([]byte, e.Len())
	copy(out, e.Bytes())
	return out
}

// Reset forgets the base; the next Encode emits a full payload.
func (s *StreamEncoder) Reset() {
	s.base = nil
}

// StreamDecoder is the receive side of a delta stream. A delta arriving
// without a prior base, or with a gap in sequence numbers, surfaces as
// ErrResyncRequired; the sender must then emit a reset.
type StreamDecoder struct {
	base []byte
	seq  uint64
}

// NewStreamDecoder creates a decoder with no base.
func NewStreamDecoder() *StreamDecoder {
	return &StreamDecoder{}
}

// Apply decodes one stream payload and returns the reconstructed full
// payload.
func (s *StreamDecoder) Apply(payload []byte) ([]byte, error) {
	d := protocol.NewDecoder(payload)

	flags, err := d.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptDelta, err)
	}
	seq, err := d.ReadUvarint()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptDelta, err)
	}
	body, err := d.ReadLenBytes()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptDelta, err)
	}

	if flags&flagReset != 0 {
		s.base = append(s.base[:0], body...)
		s.seq = seq
		return body, nil
	}

	if s.base == nil {
		return nil, fmt.Errorf("%w: delta before any base", ErrResyncRequired)
	}
	if seq != s.seq+1 {
		return nil, fmt.Errorf("%w: sequence gap, got %d after %d", ErrResyncRequired, seq, s.seq)
	}

	full, err := ApplyDelta(s.base, body)
	if err != nil {
		return nil, err
	}

	s.base = append(s.base[:0], full...)
	s.seq = seq
	return full, nil
}

// Reset forgets the base; subsequent deltas fail with ErrResyncRequired
// until a reset payload arrives.
func (s *StreamDecoder) Reset() {
	s.base = nil
	s.seq = 0
}
