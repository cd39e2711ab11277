// Package protocol implements the binary wire protocol spoken between the
// UI host and the embedded engine runtime.
//
// The protocol is optimized for a narrow, high-latency, message-oriented
// channel: payloads are packed with varints and length prefixes, oversized
// logical payloads are split into ordered chunks, and compression is applied
// to the whole logical payload before chunking.
//
// # Wire Format
//
// Every frame starts with a fixed 14-byte header. All integers are
// little-endian; this layout is shared with the engine-side implementation
// and must not change:
//
//	┌──────────┬────────┬─────────────┬────────────┬────────────┬───────────────┐
//	│ Version  │ Flags  │ Sequence ID │ ChunkIndex │ ChunkCount │ PayloadLength │
//	│ (uint8)  │ (uint8)│ (uint32 LE) │ (uint16 LE)│ (uint16 LE)│ (uint32 LE)   │
//	└──────────┴────────┴─────────────┴────────────┴────────────┴───────────────┘
//	│ Payload (PayloadLength bytes)                                             │
//	└───────────────────────────────────────────────────────────────────────────┘
//
// Flag bit 0 marks a compressed logical payload, bit 1 marks a chunked one.
// The remaining bits are reserved and must be zero.
//
// # Chunking
//
// A logical payload larger than the configured frame size is split into
// chunks that share one sequence id and carry indices 0..ChunkCount-1. The
// transport is ordered, so chunks of one sequence arrive in index order,
// though frames of different sequences may interleave. Reassembler buffers
// per sequence id and reports a complete payload only once every chunk has
// arrived.
//
// # Compression
//
// Compression (gzip) runs over the full logical payload before chunking, so
// the receiver decompresses only after reassembly. The compressed form is
// used only when it is actually smaller than the original.
//
// # Messages
//
// One logical payload carries a batch of one or more messages, each with a
// target, method, flags, and payload:
//
//	[count: uvarint] then per message:
//	[target: string][method: string][flags: uint8][payload: len-bytes]
//
// Strings and byte slices are varint length-prefixed as in the Encoder and
// Decoder primitives.
package protocol
