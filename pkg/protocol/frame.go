package protocol

import (
	"errors"
	"io"
)

// Frame constants.
const (
	// Version is the wire protocol version emitted by this implementation.
	Version = 1

	// FrameHeaderSize is the size of the frame header in bytes.
	FrameHeaderSize = 14

	// DefaultMaxFrameSize is the default maximum size of an encoded frame,
	// header included. Logical payloads that do not fit are chunked.
	DefaultMaxFrameSize = 16 * 1024
)

// FrameFlags are per-frame option bits.
type FrameFlags uint8

const (
	FlagCompressed FrameFlags = 0x01 // Logical payload is gzip compressed
	FlagChunked    FrameFlags = 0x02 // Frame is one chunk of a larger payload

	// flagReserved covers the bits that must be zero on the wire.
	flagReserved FrameFlags = ^(FlagCompressed | FlagChunked)
)

// Has returns true if the flags contain the specified flag.
func (ff FrameFlags) Has(flag FrameFlags) bool {
	return ff&flag != 0
}

// Framing errors.
var (
	ErrFrameTooLarge    = errors.New("protocol: frame payload too large")
	ErrBadVersion       = errors.New("protocol: unsupported frame version")
	ErrReservedFlags    = errors.New("protocol: reserved flag bits set")
	ErrShortFrame       = errors.New("protocol: truncated frame")
	ErrChunkOutOfRange  = errors.New("protocol: chunk index out of range")
	ErrChunkOutOfOrder  = errors.New("protocol: chunk received out of order")
	ErrChunkCountChange = errors.New("protocol: chunk count changed mid-sequence")
	ErrZeroChunkCount   = errors.New("protocol: chunk count is zero")
)

// Frame is a single wire frame: a fixed header plus up to one chunk of a
// logical payload.
//
// Wire format (14-byte header, all integers little-endian):
//
//	version:uint8 flags:uint8 seq:uint32 chunkIndex:uint16
//	chunkCount:uint16 payloadLength:uint32 payload:bytes
type Frame struct {
	Version    uint8
	Flags      FrameFlags
	Seq        uint32
	ChunkIndex uint16
	ChunkCount uint16
	Payload    []byte
}

// MarshalBinary encodes the frame, header included.
func (f *Frame) MarshalBinary() []byte {
	length := len(f.Payload)
	buf := make([]byte, FrameHeaderSize+length)
	buf[0] = f.Version
	buf[1] = byte(f.Flags)
	putUint32LE(buf[2:], f.Seq)
	putUint16LE(buf[6:], f.ChunkIndex)
	putUint16LE(buf[8:], f.ChunkCount)
	putUint32LE(buf[10:], uint32(length))
	copy(buf[FrameHeaderSize:], f.Payload)
	return buf
}

// AppendBinary appends the encoded frame to dst and returns the result.
func (f *Frame) AppendBinary(dst []byte) []byte {
	return append(dst, f.MarshalBinary()...)
}

// ParseFrame decodes one frame from the front of data and returns it along
// with the number of bytes consumed. The payload is copied and safe to
// retain.
func ParseFrame(data []byte) (*Frame, int, error) {
	if len(data) < FrameHeaderSize {
		return nil, 0, ErrShortFrame
	}

	f := &Frame{
		Version:    data[0],
		Flags:      FrameFlags(data[1]),
		Seq:        uint32LE(data[2:]),
		ChunkIndex: uint16LE(data[6:]),
		ChunkCount: uint16LE(data[8:]),
	}
	length := int(uint32LE(data[10:]))

	if f.Version != Version {
		return nil, 0, ErrBadVersion
	}
	if f.Flags&flagReserved != 0 {
		return nil, 0, ErrReservedFlags
	}
	if length > DefaultMaxAllocation {
		return nil, 0, ErrAllocationTooLarge
	}
	if len(data) < FrameHeaderSize+length {
		return nil, 0, ErrShortFrame
	}

	f.Payload = make([]byte, length)
	copy(f.Payload, data[FrameHeaderSize:FrameHeaderSize+length])
	return f, FrameHeaderSize + length, nil
}

// ReadFrame reads one complete frame from an io.Reader.
func ReadFrame(r io.Reader) (*Frame, error) {
	header := make([]byte, FrameHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	length := int(uint32LE(header[10:]))
	if length > DefaultMaxAllocation {
		return nil, ErrAllocationTooLarge
	}

	buf := make([]byte, FrameHeaderSize+length)
	copy(buf, header)
	if length > 0 {
		if _, err := io.ReadFull(r, buf[FrameHeaderSize:]); err != nil {
			return nil, err
		}
	}

	f, _, err := ParseFrame(buf)
	return f, err
}

// WriteFrame writes a complete frame to an io.Writer.
func WriteFrame(w io.Writer, f *Frame) error {
	_, err := w.Write(f.MarshalBinary())
	return err
}

func putUint16LE(b []byte, v uint16) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
}

func putUint32LE(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func uint16LE(b []byte) uint16 {
	return uint16(b[0]) | uint16(b[1])<<8
}

func uint32LE(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
