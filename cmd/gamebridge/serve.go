package main

import (
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/gamebridge-dev/gamebridge/pkg/bridge"
)

func serveCmd() *cobra.Command {
	var (
		addr        string
		maxFrame    int
		batchWindow time.Duration
		compress    bool
		verbose     bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a websocket bridge endpoint with an echo target",
		Long: `Serve accepts websocket connections on /ws and runs one bridge per
connection. Each bridge registers an "Echo" target whose "say" and
"blob" methods send the payload straight back, which makes the endpoint
useful for engine-side integration testing.

Prometheus metrics are exposed on /metrics and a liveness probe on
/healthz.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
			slog.SetDefault(logger)

			cfg := bridge.DefaultConfig()
			cfg.MaxFrameSize = maxFrame
			cfg.BatchWindow = batchWindow
			cfg.CompressionEnabled = compress
			cfg.Logger = logger

			upgrader := websocket.Upgrader{
				ReadBufferSize:  4096,
				WriteBufferSize: 4096,
				CheckOrigin:     func(*http.Request) bool { return true },
			}

			r := chi.NewRouter()
			r.Use(chimw.Recoverer)
			if verbose {
				r.Use(chimw.Logger)
			}

			r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
				w.Write([]byte("OK"))
			})
			r.Handle("/metrics", promhttp.Handler())
			r.Get("/ws", func(w http.ResponseWriter, req *http.Request) {
				conn, err := upgrader.Upgrade(w, req, nil)
				if err != nil {
					logger.Error("upgrade failed", "error", err)
					return
				}
				serveBridge(conn, cfg, logger)
			})

			logger.Info("listening", "addr", addr)
			return http.ListenAndServe(addr, r)
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", ":8090", "Address to listen on")
	cmd.Flags().IntVar(&maxFrame, "max-frame", 16*1024, "Maximum wire frame size in bytes")
	cmd.Flags().DurationVar(&batchWindow, "batch-window", 16*time.Millisecond, "Outbound batch flush interval")
	cmd.Flags().BoolVar(&compress, "compress", true, "Compress large payloads")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging")

	return cmd
}

var connSeq atomic.Int64

// serveBridge runs one bridge for the lifetime of a websocket connection.
func serveBridge(conn *websocket.Conn, cfg *bridge.Config, logger *slog.Logger) {
	remote := conn.RemoteAddr().String()
	connID := strconv.FormatInt(connSeq.Add(1), 10)
	logger.Info("connection open", "remote", remote, "conn", connID)

	transport := bridge.NewWebSocketTransport(conn, &bridge.WebSocketConfig{
		ReadTimeout:  0, // engines may idle between frames
		WriteTimeout: 10 * time.Second,
		Logger:       logger,
	})

	br := bridge.New(transport, cfg)
	defer br.Dispose()

	// Const labels keep per-connection series distinct in the shared
	// registry.
	bridge.Instrument(br, bridge.WithConstLabels(prometheus.Labels{"conn": connID}))

	br.Router().RegisterTarget("Echo", struct{}{}, true)
	br.Router().RegisterMethod("Echo", "say", func(method, payload string) {
		br.Call("Echo", "say", payload)
	})
	br.Router().RegisterBinaryMethod("Echo", "blob", func(method string, payload []byte) {
		br.CallBinary("Echo", "blob", payload)
	})
	br.Ready()

	transport.Start()
	<-transport.Done()

	s := br.Stats()
	logger.Info("connection closed",
		"remote", remote,
		"routed", s.Router.MessagesRouted,
		"dropped", s.Router.MessagesDropped,
		"sent_bytes", s.BytesSent,
		"received_bytes", s.BytesReceived,
		"decode_errors", s.DecodeErrors,
	)
}
