package bridge

import (
	"log/slog"
	"time"

	"github.com/gamebridge-dev/gamebridge/pkg/throttle"
)

// Config holds bridge configuration.
type Config struct {
	// Framing

	// MaxFrameSize is the maximum encoded wire frame, header included.
	// Larger logical payloads are chunked. Default: 16KB.
	MaxFrameSize int

	// CompressionEnabled gzips logical payloads before chunking when the
	// result is smaller. Default: true.
	CompressionEnabled bool

	// CompressThreshold is the minimum logical payload size before
	// compression is attempted. Default: 512 bytes.
	CompressThreshold int

	// Routing

	// QueueUnknownTargets queues inbound messages whose target is not
	// yet registered. Default: true.
	QueueUnknownTargets bool

	// MaxQueueSize bounds the pre-ready message queue. Default: 1000.
	MaxQueueSize int

	// Outbound

	// BatchWindow is the outbound flush interval. Default: 16ms, one
	// 60Hz frame.
	BatchWindow time.Duration

	// BatchMaxMessages flushes a batch early once it holds this many
	// messages. Default: 256.
	BatchMaxMessages int

	// BatchMaxBytes flushes a batch early once it reaches this many
	// payload bytes. Default: 256KB.
	BatchMaxBytes int

	// Throttle configures per-method admission control. Nil uses
	// throttle.DefaultConfig (unlimited until policies are set).
	Throttle *throttle.Config

	// Logger is the root logger; component loggers derive from it.
	// Defaults to slog.Default.
	Logger *slog.Logger
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxFrameSize:        16 * 1024,
		CompressionEnabled:  true,
		CompressThreshold:   512,
		QueueUnknownTargets: true,
		MaxQueueSize:        1000,
		BatchWindow:         16 * time.Millisecond,
		BatchMaxMessages:    256,
		BatchMaxBytes:       256 * 1024,
	}
}

// Clone returns a copy of the Config.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	if c.Throttle != nil {
		tc := *c.Throttle
		clone.Throttle = &tc
	}
	return &clone
}
