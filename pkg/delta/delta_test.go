package delta

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"math/rand"
	"testing"
)

// TestRoundTripLaw checks ApplyDelta(base, ComputeDelta(base, next)) == next
// across representative payload shapes.
func TestRoundTripLaw(t *testing.T) {
	tests := []struct {
		name string
		prev []byte
		cur  []byte
	}{
		{"both_empty", []byte{}, []byte{}},
		{"empty_base", []byte{}, []byte("fresh payload")},
		{"empty_next", []byte("old payload"), []byte{}},
		{"identical", bytes.Repeat([]byte("state "), 100), bytes.Repeat([]byte("state "), 100)},
		{"append_only", []byte("position:1,2,3"), []byte("position:1,2,3;velocity:0,0,1")},
		{"prefix_change", append([]byte("v2|"), bytes.Repeat([]byte("x"), 500)...), append([]byte("v3|"), bytes.Repeat([]byte("x"), 500)...)},
		{"middle_edit", bytes.Repeat([]byte("abcdefgh"), 64), append(append(append([]byte{}, bytes.Repeat([]byte("abcdefgh"), 30)...), []byte("EDITED")...), bytes.Repeat([]byte("abcdefgh"), 34)...)},
		{"unrelated", []byte("completely different"), []byte("no shared content at all here")},
		{"shorter_than_block", []byte("tiny"), []byte("tinier")},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			diff := ComputeDelta(tc.prev, tc.cur)
			got, err := ApplyDelta(tc.prev, diff)
			if err != nil {
				t.Fatalf("ApplyDelta() error = %v", err)
			}
			if !bytes.Equal(got, tc.cur) {
				t.Fatalf("round trip mismatch: got %d bytes, want %d", len(got), len(tc.cur))
			}
		})
	}
}

func TestRoundTripLawRandom(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 50; i++ {
		prev := make([]byte, rng.Intn(4096))
		rng.Read(prev)

		// Mutate a copy: random in-place edits, insertions, truncation.
		cur := append([]byte{}, prev...)
		for j := 0; j < rng.Intn(8); j++ {
			if len(cur) == 0 {
				break
			}
			cur[rng.Intn(len(cur))] ^= byte(1 + rng.Intn(255))
		}
		if rng.Intn(2) == 0 {
			extra := make([]byte, rng.Intn(256))
			rng.Read(extra)
			cur = append(cur, extra...)
		}
		if len(cur) > 0 && rng.Intn(4) == 0 {
			cur = cur[:rng.Intn(len(cur))]
		}

		diff := ComputeDelta(prev, cur)
		got, err := ApplyDelta(prev, diff)
		if err != nil {
			t.Fatalf("iteration %d: ApplyDelta() error = %v", i, err)
		}
		if !bytes.Equal(got, cur) {
			t.Fatalf("iteration %d: round trip mismatch", i)
		}
	}
}

func TestDeltaShrinksSimilarPayloads(t *testing.T) {
	prev := bytes.Repeat([]byte("entity:12,pos:3.14,2.71,hp:100;"), 50)
	cur := bytes.Replace(prev, []byte("hp:100"), []byte("hp:099"), 3)

	diff := ComputeDelta(prev, cur)
	if len(diff) >= len(cur) {
		t.Errorf("delta of near-identical payloads is %d bytes, payload is %d", len(diff), len(cur))
	}
}

func TestApplyDeltaErrors(t *testing.T) {
	base := []byte("base payload")

	t.Run("unknown_op", func(t *testing.T) {
		if _, err := ApplyDelta(base, []byte{0x7E}); !errors.Is(err, ErrCorruptDelta) {
			t.Errorf("error = %v, want ErrCorruptDelta", err)
		}
	})

	t.Run("truncated_copy", func(t *testing.T) {
		if _, err := ApplyDelta(base, []byte{opCopy, 0x00}); !errors.Is(err, ErrCorruptDelta) {
			t.Errorf("error = %v, want ErrCorruptDelta", err)
		}
	})

	t.Run("copy_beyond_base", func(t *testing.T) {
		// copy offset 0 length 200 against a 12-byte base
		diff := []byte{opCopy, 0x00, 0xC8, 0x01}
		if _, err := ApplyDelta(base, diff); !errors.Is(err, ErrResyncRequired) {
			t.Errorf("error = %v, want ErrResyncRequired", err)
		}
	})

	t.Run("copy_offset_overflow", func(t *testing.T) {
		// offset 2^64-2, length 4: the sum wraps to 2, which would slip
		// past a naive off+n bounds check and panic on the slice.
		diff := []byte{opCopy}
		diff = binary.AppendUvarint(diff, math.MaxUint64-1)
		diff = binary.AppendUvarint(diff, 4)
		if _, err := ApplyDelta(base, diff); !errors.Is(err, ErrResyncRequired) {
			t.Errorf("error = %v, want ErrResyncRequired", err)
		}
	})

	t.Run("copy_length_overflow", func(t *testing.T) {
		diff := []byte{opCopy}
		diff = binary.AppendUvarint(diff, 0)
		diff = binary.AppendUvarint(diff, math.MaxUint64)
		if _, err := ApplyDelta(base, diff); !errors.Is(err, ErrResyncRequired) {
			t.Errorf("error = %v, want ErrResyncRequired", err)
		}
	})
}

// FuzzApplyDelta feeds arbitrary bytes as a delta against a fixed base.
// Any outcome is acceptable except a panic.
func FuzzApplyDelta(f *testing.F) {
	f.Add([]byte{opCopy, 0x00, 0x04})
	f.Add([]byte{opInsert, 0x03, 'a', 'b', 'c'})
	f.Add(binary.AppendUvarint([]byte{opCopy, 0x02}, math.MaxUint64-1))
	f.Fuzz(func(t *testing.T, diff []byte) {
		base := []byte("0123456789")
		out, err := ApplyDelta(base, diff)
		if err == nil && out == nil {
			t.Error("nil output with nil error")
		}
	})
}

func TestStreamEncoderDecoderFlow(t *testing.T) {
	enc := NewStreamEncoder()
	dec := NewStreamDecoder()

	payloads := [][]byte{
		bytes.Repeat([]byte("scene-a "), 100),
		bytes.Repeat([]byte("scene-a "), 99),
		append(bytes.Repeat([]byte("scene-a "), 99), []byte("tail")...),
		[]byte("entirely new scene"),
	}

	for i, p := range payloads {
		wire := enc.Encode(p)
		got, err := dec.Apply(wire)
		if err != nil {
			t.Fatalf("payload %d: Apply() error = %v", i, err)
		}
		if !bytes.Equal(got, p) {
			t.Fatalf("payload %d: reconstruction mismatch", i)
		}
	}
}

func TestStreamFirstPayloadIsReset(t *testing.T) {
	enc := NewStreamEncoder()
	wire := enc.Encode([]byte("first"))
	if wire[0]&flagReset == 0 {
		t.Error("first stream payload should carry the reset flag")
	}
}

func TestStreamDeltaWithoutBase(t *testing.T) {
	enc := NewStreamEncoder()
	dec := NewStreamDecoder()

	// Establish a base on the encoder only, then send a delta to a
	// decoder that never saw it.
	enc.Encode(bytes.Repeat([]byte("base "), 100))
	wire := enc.Encode(bytes.Repeat([]byte("base "), 101))

	if _, err := dec.Apply(wire); !errors.Is(err, ErrResyncRequired) {
		t.Errorf("Apply() error = %v, want ErrResyncRequired", err)
	}
}

func TestStreamSequenceGap(t *testing.T) {
	enc := NewStreamEncoder()
	dec := NewStreamDecoder()

	big := bytes.Repeat([]byte("state "), 200)
	if _, err := dec.Apply(enc.Encode(big)); err != nil {
		t.Fatalf("Apply(reset) error = %v", err)
	}

	// Drop one delta on the floor.
	lost := append(big, []byte("v2")...)
	_ = enc.Encode(lost)

	next := append(big, []byte("v3")...)
	if _, err := dec.Apply(enc.Encode(next)); !errors.Is(err, ErrResyncRequired) {
		t.Errorf("Apply() after gap error = %v, want ErrResyncRequired", err)
	}

	// Recovery: encoder resets, decoder accepts the full payload.
	enc.Reset()
	got, err := dec.Apply(enc.Encode(next))
	if err != nil {
		t.Fatalf("Apply(recovery reset) error = %v", err)
	}
	if !bytes.Equal(got, next) {
		t.Fatal("recovery payload mismatch")
	}
}

func TestStreamDecoderReset(t *testing.T) {
	enc := NewStreamEncoder()
	dec := NewStreamDecoder()

	big := bytes.Repeat([]byte("x"), 1000)
	if _, err := dec.Apply(enc.Encode(big)); err != nil {
		t.Fatal(err)
	}

	dec.Reset()

	wire := enc.Encode(append(big, 'y'))
	if _, err := dec.Apply(wire); !errors.Is(err, ErrResyncRequired) {
		t.Errorf("Apply() after decoder reset error = %v, want ErrResyncRequired", err)
	}
}

func BenchmarkComputeDelta(b *testing.B) {
	prev := bytes.Repeat([]byte("entity:12,pos:3.14,2.71,hp:100;"), 200)
	cur := bytes.Replace(prev, []byte("hp:100"), []byte("hp:042"), 10)

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		ComputeDelta(prev, cur)
	}
}

func BenchmarkApplyDelta(b *testing.B) {
	prev := bytes.Repeat([]byte("entity:12,pos:3.14,2.71,hp:100;"), 200)
	cur := bytes.Replace(prev, []byte("hp:100"), []byte("hp:042"), 10)
	diff := ComputeDelta(prev, cur)

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := ApplyDelta(prev, diff); err != nil {
			b.Fatal(err)
		}
	}
}
