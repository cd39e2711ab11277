package protocol

import (
	"bytes"
	"errors"
	"io"
	"math"
	"testing"
)

func TestUvarintRoundTrip(t *testing.T) {
	values := []uint64{
		0, 1, 127, 128, 255, 256, 16383, 16384,
		1<<32 - 1, 1 << 32, math.MaxUint64,
	}

	for _, v := range values {
		e := NewEncoder()
		e.WriteUvarint(v)

		d := NewDecoder(e.Bytes())
		got, err := d.ReadUvarint()
		if err != nil {
			t.Fatalf("ReadUvarint(%d) error = %v", v, err)
		}
		if got != v {
			t.Errorf("ReadUvarint() = %d, want %d", got, v)
		}
		if !d.EOF() {
			t.Errorf("decoder not at EOF after value %d", v)
		}
	}
}

func TestSvarintRoundTrip(t *testing.T) {
	values := []int64{
		0, 1, -1, 63, -64, 64, -65,
		math.MaxInt64, math.MinInt64,
	}

	for _, v := range values {
		e := NewEncoder()
		e.WriteSvarint(v)

		d := NewDecoder(e.Bytes())
		got, err := d.ReadSvarint()
		if err != nil {
			t.Fatalf("ReadSvarint(%d) error = %v", v, err)
		}
		if got != v {
			t.Errorf("ReadSvarint() = %d, want %d", got, v)
		}
	}
}

func TestUvarintOverflow(t *testing.T) {
	// 10 continuation bytes overflow a uint64.
	buf := bytes.Repeat([]byte{0xFF}, 10)
	d := NewDecoder(buf)
	if _, err := d.ReadUvarint(); !errors.Is(err, ErrVarintOverflow) {
		t.Errorf("ReadUvarint() error = %v, want ErrVarintOverflow", err)
	}
}

func TestStringAndBytesRoundTrip(t *testing.T) {
	e := NewEncoder()
	e.WriteString("GameManager")
	e.WriteString("")
	e.WriteLenBytes([]byte{1, 2, 3})
	e.WriteLenBytes(nil)
	e.WriteBool(true)
	e.WriteBool(false)

	d := NewDecoder(e.Bytes())

	s, err := d.ReadString()
	if err != nil || s != "GameManager" {
		t.Fatalf("ReadString() = %q, %v", s, err)
	}
	s, err = d.ReadString()
	if err != nil || s != "" {
		t.Fatalf("ReadString() = %q, %v", s, err)
	}
	b, err := d.ReadLenBytes()
	if err != nil || !bytes.Equal(b, []byte{1, 2, 3}) {
		t.Fatalf("ReadLenBytes() = %v, %v", b, err)
	}
	b, err = d.ReadLenBytes()
	if err != nil || len(b) != 0 {
		t.Fatalf("ReadLenBytes() = %v, %v", b, err)
	}
	for _, want := range []bool{true, false} {
		got, err := d.ReadBool()
		if err != nil || got != want {
			t.Fatalf("ReadBool() = %v, %v, want %v", got, err, want)
		}
	}
	if !d.EOF() {
		t.Error("decoder not at EOF")
	}
}

func TestFixedWidthLittleEndian(t *testing.T) {
	e := NewEncoder()
	e.WriteUint16(0x0102)
	e.WriteUint32(0x01020304)
	e.WriteUint64(0x0102030405060708)

	want := []byte{
		0x02, 0x01,
		0x04, 0x03, 0x02, 0x01,
		0x08, 0x07, 0x06, 0x05, 0x04, 0x03, 0x02, 0x01,
	}
	if !bytes.Equal(e.Bytes(), want) {
		t.Fatalf("little-endian layout mismatch\n got  %#v\n want %#v", e.Bytes(), want)
	}

	d := NewDecoder(e.Bytes())
	if v, _ := d.ReadUint16(); v != 0x0102 {
		t.Errorf("ReadUint16() = %#x", v)
	}
	if v, _ := d.ReadUint32(); v != 0x01020304 {
		t.Errorf("ReadUint32() = %#x", v)
	}
	if v, _ := d.ReadUint64(); v != uint64(0x0102030405060708) {
		t.Errorf("ReadUint64() = %#x", v)
	}
}

func TestDecoderTruncation(t *testing.T) {
	e := NewEncoder()
	e.WriteString("hello")

	// Chop one byte off the end; the length prefix now overruns.
	buf := e.Bytes()[:e.Len()-1]
	d := NewDecoder(buf)
	if _, err := d.ReadString(); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("ReadString() error = %v, want ErrUnexpectedEOF", err)
	}
}

func TestBatchCountLimit(t *testing.T) {
	e := NewEncoder()
	e.WriteUvarint(MaxBatchCount + 1)
	e.WriteBytes(make([]byte, 32))

	d := NewDecoder(e.Bytes())
	if _, err := d.ReadBatchCount(); !errors.Is(err, ErrBatchTooLarge) {
		t.Errorf("ReadBatchCount() error = %v, want ErrBatchTooLarge", err)
	}
}

func TestEncoderReset(t *testing.T) {
	e := NewEncoder()
	e.WriteString("junk")
	e.Reset()
	if e.Len() != 0 {
		t.Errorf("Len() after Reset = %d", e.Len())
	}
	e.WriteByte(0x7F)
	if !bytes.Equal(e.Bytes(), []byte{0x7F}) {
		t.Errorf("Bytes() = %v", e.Bytes())
	}
}
