package adminhttp

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Counter is a monotonically increasing value.
type Counter struct {
	value int64
}

func (c *Counter) Inc()         { atomic.AddInt64(&c.value, 1) }
func (c *Counter) Add(n int64)  { atomic.AddInt64(&c.value, n) }
func (c *Counter) Value() int64 { return atomic.LoadInt64(&c.value) }

// Gauge is a value that can go up and down.
type Gauge struct {
	value int64 // stored as micros for float-like precision
}

func (g *Gauge) Set(v float64)  { atomic.StoreInt64(&g.value, int64(v*1e6)) }
func (g *Gauge) Inc()           { atomic.AddInt64(&g.value, 1e6) }
func (g *Gauge) Dec()           { atomic.AddInt64(&g.value, -1e6) }
func (g *Gauge) Value() float64 { return float64(atomic.LoadInt64(&g.value)) / 1e6 }

func labelKey(labels map[string]string) string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%q", k, labels[k])
	}
	return strings.Join(parts, ",")
}

// Metrics is the station's Prometheus-compatible metrics registry —
// counters and gauges only (no request-latency histograms: the admin
// surface serves a few low-traffic endpoints, not a proxy hot path).
type Metrics struct {
	mu       sync.RWMutex
	logger   zerolog.Logger
	counters map[string]map[string]*Counter
	gauges   map[string]map[string]*Gauge
}

func NewMetrics(logger zerolog.Logger) *Metrics {
	return &Metrics{
		logger:   logger.With().Str("component", "metrics").Logger(),
		counters: make(map[string]map[string]*Counter),
		gauges:   make(map[string]map[string]*Gauge),
	}
}

func (m *Metrics) CounterInc(name string, labels map[string]string) {
	m.getCounter(name, labels).Inc()
}

func (m *Metrics) getCounter(name string, labels map[string]string) *Counter {
	key := labelKey(labels)
	m.mu.RLock()
	if byName, ok := m.counters[name]; ok {
		if c, ok := byName[key]; ok {
			m.mu.RUnlock()
			return c
		}
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.counters[name]; !ok {
		m.counters[name] = make(map[string]*Counter)
	}
	if _, ok := m.counters[name][key]; !ok {
		m.counters[name][key] = &Counter{}
	}
	return m.counters[name][key]
}

func (m *Metrics) GaugeSet(name string, labels map[string]string, v float64) {
	m.getGauge(name, labels).Set(v)
}

func (m *Metrics) getGauge(name string, labels map[string]string) *Gauge {
	key := labelKey(labels)
	m.mu.RLock()
	if byName, ok := m.gauges[name]; ok {
		if g, ok := byName[key]; ok {
			m.mu.RUnlock()
			return g
		}
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.gauges[name]; !ok {
		m.gauges[name] = make(map[string]*Gauge)
	}
	if _, ok := m.gauges[name][key]; !ok {
		m.gauges[name][key] = &Gauge{}
	}
	return m.gauges[name][key]
}

// TrackPairingExchange records a pairing-code exchange attempt.
func (m *Metrics) TrackPairingExchange(outcome string) {
	m.CounterInc("mirs_pairing_exchanges_total", map[string]string{"outcome": outcome})
}

// TrackOTATick records the outcome of one OTA scheduler tick.
func (m *Metrics) TrackOTATick(outcome string) {
	m.CounterInc("mirs_ota_ticks_total", map[string]string{"outcome": outcome})
}

// TrackEventAppended records a successful event-store append.
func (m *Metrics) TrackEventAppended(entityType, eventType string) {
	m.CounterInc("mirs_events_appended_total", map[string]string{
		"entity_type": entityType, "event_type": eventType,
	})
}

// SetOpenCases sets the mirs_open_cases gauge: 1 when any case is open,
// else 0.
func (m *Metrics) SetOpenCases(open bool) {
	v := 0.0
	if open {
		v = 1.0
	}
	m.GaugeSet("mirs_open_cases", nil, v)
}

// Handler returns an http.HandlerFunc that serves /metrics in
// Prometheus text exposition format.
func (m *Metrics) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		var sb strings.Builder
		sb.WriteString(fmt.Sprintf("# MIRS station metrics - %s\n\n", time.Now().UTC().Format(time.RFC3339)))

		m.mu.RLock()
		defer m.mu.RUnlock()

		for name, byLabel := range m.counters {
			sb.WriteString(fmt.Sprintf("# TYPE %s counter\n", name))
			for lk, c := range byLabel {
				if lk == "" {
					sb.WriteString(fmt.Sprintf("%s %d\n", name, c.Value()))
				} else {
					sb.WriteString(fmt.Sprintf("%s{%s} %d\n", name, lk, c.Value()))
				}
			}
			sb.WriteString("\n")
		}

		for name, byLabel := range m.gauges {
			sb.WriteString(fmt.Sprintf("# TYPE %s gauge\n", name))
			for lk, g := range byLabel {
				if lk == "" {
					sb.WriteString(fmt.Sprintf("%s %f\n", name, g.Value()))
				} else {
					sb.WriteString(fmt.Sprintf("%s{%s} %f\n", name, lk, g.Value()))
				}
			}
			sb.WriteString("\n")
		}

		_, _ = w.Write([]byte(sb.String()))
	}
}
