package protocol

import (
	"errors"
	"fmt"
)

// Codec errors beyond the framing sentinels in frame.go.
var (
	ErrEmptyBatch         = errors.New("protocol: empty batch")
	ErrTooManyPendingSeqs = errors.New("protocol: too many pending sequences")
)

// maxPendingSequences bounds the number of partially reassembled logical
// payloads held at once. The transport is ordered, so in practice only a
// handful of sequences interleave.
const maxPendingSequences = 64

// MarshalOptions control how logical payloads become frames.
type MarshalOptions struct {
	// MaxFrameSize is the maximum encoded frame size, header included.
	// Zero means DefaultMaxFrameSize.
	MaxFrameSize int

	// Compress enables gzip over the logical payload before chunking.
	Compress bool

	// CompressThreshold is the minimum logical payload size, in bytes,
	// before compression is attempted. Zero means compress everything
	// when Compress is set.
	CompressThreshold int
}

func (o MarshalOptions) maxChunk() int {
	max := o.MaxFrameSize
	if max <= 0 {
		max = DefaultMaxFrameSize
	}
	if max <= FrameHeaderSize {
		max = FrameHeaderSize + 1
	}
	return max - FrameHeaderSize
}

// Marshaller turns batches of messages into wire frames, assigning each
// logical payload a fresh sequence id. Not safe for concurrent use; the
// outbound path has a single owner.
type Marshaller struct {
	opts MarshalOptions
	seq  uint32
}

// NewMarshaller creates a Marshaller with the given options.
func NewMarshaller(opts MarshalOptions) *Marshaller {
	return &Marshaller{opts: opts}
}

// Marshal encodes msgs into one logical payload and splits it into frames.
// A payload that fits in one frame produces a single unchunked frame.
func (m *Marshaller) Marshal(msgs []Message) ([]*Frame, error) {
	if len(msgs) == 0 {
		return nil, ErrEmptyBatch
	}
	payload := EncodeBatch(msgs)
	return m.MarshalPayload(payload)
}

// MarshalPayload frames an already encoded logical payload.
func (m *Marshaller) MarshalPayload(payload []byte) ([]*Frame, error) {
	var flags FrameFlags

	if m.opts.Compress && len(payload) >= m.opts.CompressThreshold {
		if packed, ok := compressPayload(payload); ok {
			payload = packed
			flags |= FlagCompressed
		}
	}

	seq := m.seq
	m.seq++

	chunkSize := m.opts.maxChunk()
	if len(payload) <= chunkSize {
		return []*Frame{{
			Version:    Version,
			Flags:      flags,
			Seq:        seq,
			ChunkIndex: 0,
			ChunkCount: 1,
			Payload:    payload,
		}}, nil
	}

	count := (len(payload) + chunkSize - 1) / chunkSize
	if count > 0xFFFF {
		return nil, ErrFrameTooLarge
	}

	flags |= FlagChunked
	frames := make([]*Frame, 0, count)
	for i := 0; i < count; i++ {
		start := i * chunkSize
		end := start + chunkSize
		if end > len(payload) {
			end = len(payload)
		}
		frames = append(frames, &Frame{
			Version:    Version,
			Flags:      flags,
			Seq:        seq,
			ChunkIndex: uint16(i),
			ChunkCount: uint16(count),
			Payload:    payload[start:end],
		})
	}
	return frames, nil
}

// EncodeFrames marshals msgs and concatenates the frames into one buffer,
// suitable for a single transport write.
func (m *Marshaller) EncodeFrames(msgs []Message) ([]byte, error) {
	frames, err := m.Marshal(msgs)
	if err != nil {
		return nil, err
	}
	var buf []byte
	for _, f := range frames {
		buf = f.AppendBinary(buf)
	}
	return buf, nil
}

// pendingSeq buffers the chunks of one logical payload.
type pendingSeq struct {
	flags      FrameFlags
	chunkCount uint16
	next       uint16
	buf        []byte
}

// Reassembler is the receive side of the codec. It accepts frames, buffers
// chunked sequences keyed by sequence id, and returns each logical payload
// once complete. Frames of different sequences may interleave; chunks
// within one sequence must arrive in index order (the transport is ordered).
//
// Not safe for concurrent use; the inbound path has a single owner.
type Reassembler struct {
	pending map[uint32]*pendingSeq
}

// NewReassembler creates an empty Reassembler.
func NewReassembler() *Reassembler {
	return &Reassembler{pending: make(map[uint32]*pendingSeq)}
}

// Feed accepts one frame. It returns the complete, decompressed logical
// payload when the frame finishes a sequence, or nil while chunks are still
// outstanding. Framing errors leave the offending sequence discarded.
func (r *Reassembler) Feed(f *Frame) ([]byte, error) {
	if !f.Flags.Has(FlagChunked) {
		// Single-frame payload. An open sequence with the same id means
		// the sender restarted mid-payload; drop the stale partial.
		delete(r.pending, f.Seq)
		if f.ChunkCount == 0 {
			return nil, ErrZeroChunkCount
		}
		if f.ChunkCount != 1 || f.ChunkIndex != 0 {
			return nil, ErrChunkOutOfRange
		}
		return r.finish(f.Flags, f.Payload)
	}

	if f.ChunkCount == 0 {
		return nil, ErrZeroChunkCount
	}
	if f.ChunkIndex >= f.ChunkCount {
		delete(r.pending, f.Seq)
		return nil, ErrChunkOutOfRange
	}

	p, ok := r.pending[f.Seq]
	if !ok {
		if f.ChunkIndex != 0 {
			return nil, fmt.Errorf("%w: first chunk has index %d", ErrChunkOutOfOrder, f.ChunkIndex)
		}
		if len(r.pending) >= maxPendingSequences {
			return nil, ErrTooManyPendingSeqs
		}
		p = &pendingSeq{flags: f.Flags, chunkCount: f.ChunkCount}
		r.pending[f.Seq] = p
	} else {
		if f.ChunkCount != p.chunkCount {
			delete(r.pending, f.Seq)
			return nil, ErrChunkCountChange
		}
		if f.ChunkIndex != p.next {
			delete(r.pending, f.Seq)
			return nil, fmt.Errorf("%w: got %d, want %d", ErrChunkOutOfOrder, f.ChunkIndex, p.next)
		}
	}

	if len(p.buf)+len(f.Payload) > DefaultMaxAllocation {
		delete(r.pending, f.Seq)
		return nil, ErrAllocationTooLarge
	}
	p.buf = append(p.buf, f.Payload...)
	p.next++

	if p.next < p.chunkCount {
		return nil, nil
	}

	delete(r.pending, f.Seq)
	return r.finish(p.flags, p.buf)
}

// FeedBytes parses consecutive frames from buf (one transport read may
// carry several) and returns every logical payload completed by them.
func (r *Reassembler) FeedBytes(buf []byte) ([][]byte, error) {
	var complete [][]byte
	for len(buf) > 0 {
		f, n, err := ParseFrame(buf)
		if err != nil {
			return complete, err
		}
		buf = buf[n:]

		payload, err := r.Feed(f)
		if err != nil {
			return complete, err
		}
		if payload != nil {
			complete = append(complete, payload)
		}
	}
	return complete, nil
}

// PendingSequences returns the number of partially reassembled payloads.
func (r *Reassembler) PendingSequences() int {
	return len(r.pending)
}

// Reset discards all partially reassembled payloads.
func (r *Reassembler) Reset() {
	clear(r.pending)
}

func (r *Reassembler) finish(flags FrameFlags, payload []byte) ([]byte, error) {
	if flags.Has(FlagCompressed) {
		return decompressPayload(payload)
	}
	return payload, nil
}
