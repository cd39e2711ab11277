package protocol

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
)

// compressPayload gzips the logical payload. Returns the compressed bytes
// and true only when compression actually shrank the payload.
func compressPayload(payload []byte) ([]byte, bool) {
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestSpeed)
	if err != nil {
		return nil, false
	}
	if _, err := zw.Write(payload); err != nil {
		return nil, false
	}
	if err := zw.Close(); err != nil {
		return nil, false
	}
	if buf.Len() >= len(payload) {
		return nil, false
	}
	return buf.Bytes(), true
}

// decompressPayload reverses compressPayload, bounded by the allocation
// limit so a corrupt stream cannot balloon memory.
func decompressPayload(payload []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("protocol: decompress: %w", err)
	}
	defer zr.Close()

	out, err := io.ReadAll(io.LimitReader(zr, DefaultMaxAllocation+1))
	if err != nil {
		return nil, fmt.Errorf("protocol: decompress: %w", err)
	}
	if len(out) > DefaultMaxAllocation {
		return nil, ErrAllocationTooLarge
	}
	return out, nil
}
