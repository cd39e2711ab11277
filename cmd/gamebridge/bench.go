package main

import (
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/gamebridge-dev/gamebridge/pkg/bridge"
)

// loopback joins two in-process bridges; sends deliver synchronously to
// the peer's receive callback.
type loopback struct {
	mu        sync.Mutex
	peer      *loopback
	onReceive func([]byte)
	closed    bool
	bytes     int64
	sends     int64
}

func loopbackPair() (*loopback, *loopback) {
	a := &loopback{}
	b := &loopback{}
	a.peer = b
	b.peer = a
	return a, b
}

func (l *loopback) Send(data []byte) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return fmt.Errorf("loopback closed")
	}
	l.sends++
	l.bytes += int64(len(data))
	l.mu.Unlock()

	l.peer.mu.Lock()
	fn := l.peer.onReceive
	l.peer.mu.Unlock()
	if fn != nil {
		fn(data)
	}
	return nil
}

func (l *loopback) OnReceive(fn func(data []byte)) {
	l.mu.Lock()
	l.onReceive = fn
	l.mu.Unlock()
}

func (l *loopback) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	return nil
}

func benchCmd() *cobra.Command {
	var (
		count   int
		size    int
		deltas  bool
		churn   float64
		binary  bool
		verbose bool
	)

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Measure bridge throughput over an in-process loopback",
		Long: `Bench links two bridges with an in-memory transport, pushes a stream
of messages through the full pipeline (throttle, batch, codec, route),
and reports throughput plus the wire amplification of the encoding.

With --deltas each payload is a mutation of the previous one, which
exercises the delta stream encoder; --churn controls the fraction of
bytes changed between payloads.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := slog.New(slog.NewTextHandler(io.Discard, nil))
			if verbose {
				logger = slog.Default()
			}

			cfg := bridge.DefaultConfig()
			cfg.BatchWindow = 0 // flush explicitly for deterministic timing
			cfg.Logger = logger

			hostT, engineT := loopbackPair()
			host := bridge.New(hostT, cfg)
			engine := bridge.New(engineT, cfg)
			defer host.Dispose()
			defer engine.Dispose()

			var delivered int64
			engine.Router().RegisterTarget("World", struct{}{}, true)
			engine.Router().RegisterMethod("World", "state", func(method, payload string) {
				delivered++
			})
			engine.Router().RegisterBinaryMethod("World", "state", func(method string, payload []byte) {
				delivered++
			})

			if deltas {
				host.EnableDeltaStream("World", "state")
				engine.EnableDeltaStream("World", "state")
			}

			rng := rand.New(rand.NewSource(1))
			payload := make([]byte, size)
			rng.Read(payload)
			mutations := int(float64(size) * churn)
			if mutations < 1 {
				mutations = 1
			}

			var payloadBytes int64
			start := time.Now()
			for i := 0; i < count; i++ {
				for j := 0; j < mutations; j++ {
					payload[rng.Intn(size)] = byte(rng.Intn(256))
				}
				payloadBytes += int64(size)
				if binary {
					host.CallBinary("World", "state", payload)
				} else {
					host.Call("World", "state", string(payload))
				}
				host.Flush()
			}
			elapsed := time.Since(start)

			hostT.mu.Lock()
			wireBytes := hostT.bytes
			wireSends := hostT.sends
			hostT.mu.Unlock()

			fmt.Printf("messages:      %d (%d delivered)\n", count, delivered)
			fmt.Printf("elapsed:       %v\n", elapsed.Round(time.Microsecond))
			fmt.Printf("throughput:    %.0f msg/s\n", float64(count)/elapsed.Seconds())
			fmt.Printf("payload bytes: %d\n", payloadBytes)
			fmt.Printf("wire bytes:    %d (%.2fx, %d sends)\n",
				wireBytes, float64(wireBytes)/float64(payloadBytes), wireSends)
			if deltas {
				s := engine.Stats()
				fmt.Printf("resyncs:       %d\n", s.Resyncs)
			}
			if delivered != int64(count) {
				return fmt.Errorf("delivered %d of %d messages", delivered, count)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&count, "count", "n", 10000, "Messages to send")
	cmd.Flags().IntVar(&size, "size", 1024, "Payload size in bytes")
	cmd.Flags().BoolVar(&deltas, "deltas", false, "Delta-encode the payload stream")
	cmd.Flags().Float64Var(&churn, "churn", 0.05, "Fraction of payload bytes mutated per message")
	cmd.Flags().BoolVar(&binary, "binary", true, "Send binary payloads")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging")

	return cmd
}
