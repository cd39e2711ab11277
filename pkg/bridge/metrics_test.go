package bridge

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func gatherValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		var total float64
		for _, m := range mf.GetMetric() {
			switch {
			case m.Counter != nil:
				total += m.GetCounter().GetValue()
			case m.Gauge != nil:
				total += m.GetGauge().GetValue()
			}
		}
		return total
	}
	t.Fatalf("metric %q not found", name)
	return 0
}

func gatherLabelValue(t *testing.T, reg *prometheus.Registry, name, label, value string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == label && lp.GetValue() == value {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	t.Fatalf("metric %q{%s=%q} not found", name, label, value)
	return 0
}

func hasLabelPair(m *dto.Metric, name, value string) bool {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name && lp.GetValue() == value {
			return true
		}
	}
	return false
}

func TestInstrumentCountsTraffic(t *testing.T) {
	reg := prometheus.NewRegistry()

	a, b := newPair(t, quietConfig(), quietConfig())
	Instrument(b, WithRegistry(reg))

	b.Router().RegisterTarget("GameManager", struct{}{}, true)
	b.Router().RegisterMethod("GameManager", "loadLevel", func(method, payload string) {})

	a.Call("GameManager", "loadLevel", "1")
	a.Call("GameManager", "loadLevel", "2")
	a.Flush()

	if got := gatherLabelValue(t, reg, "gamebridge_dispatches_total", "target", "GameManager"); got != 2 {
		t.Errorf("dispatches_total = %v, want 2", got)
	}
	if got := gatherValue(t, reg, "gamebridge_messages_routed_total"); got != 2 {
		t.Errorf("messages_routed_total = %v, want 2", got)
	}
	if got := gatherValue(t, reg, "gamebridge_received_bytes_total"); got == 0 {
		t.Error("received_bytes_total = 0, want > 0")
	}
	if got := gatherValue(t, reg, "gamebridge_registered_targets"); got != 1 {
		t.Errorf("registered_targets = %v, want 1", got)
	}
}

func TestInstrumentCountsQueuedAndDropped(t *testing.T) {
	reg := prometheus.NewRegistry()

	a, b := newPair(t, quietConfig(), quietConfig())
	Instrument(b, WithRegistry(reg))

	// No target registered on the receiving side: the message queues.
	a.Call("GameManager", "start", "x")
	a.Flush()

	if got := gatherValue(t, reg, "gamebridge_queued_messages"); got != 1 {
		t.Errorf("queued_messages = %v, want 1", got)
	}

	// A registered target without the method drops.
	b.Router().RegisterTarget("HUD", struct{}{}, true)
	a.Call("HUD", "nonexistent", "x")
	a.Flush()

	if got := gatherValue(t, reg, "gamebridge_messages_dropped_total"); got != 1 {
		t.Errorf("messages_dropped_total = %v, want 1", got)
	}
}

func TestInstrumentConstLabels(t *testing.T) {
	reg := prometheus.NewRegistry()

	_, b := newPair(t, quietConfig(), quietConfig())
	Instrument(b, WithRegistry(reg), WithConstLabels(prometheus.Labels{"side": "engine"}))

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			if !hasLabelPair(m, "side", "engine") {
				t.Fatalf("metric %s missing const label", mf.GetName())
			}
		}
	}
}

func TestInstrumentSendHook(t *testing.T) {
	reg := prometheus.NewRegistry()

	a, _ := newPair(t, quietConfig(), quietConfig())
	Instrument(a, WithRegistry(reg))

	a.Call("Game", "tick", "1")
	a.Flush()

	if got := gatherValue(t, reg, "gamebridge_sends_total"); got != 1 {
		t.Errorf("sends_total = %v, want 1", got)
	}
	if got := gatherValue(t, reg, "gamebridge_sent_bytes_total"); got == 0 {
		t.Error("sent_bytes_total = 0, want > 0")
	}
}
