package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics of the collector and agent output.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RequestSize     *prometheus.HistogramVec

	// Ingest metrics
	MessagesTotal   *prometheus.CounterVec
	BytesIngested   *prometheus.CounterVec
	ChunksIndexed   prometheus.Counter
	ProtocolErrors  *prometheus.CounterVec
	DecodeDuration  prometheus.Histogram
	SessionsActive  prometheus.Gauge
	SessionsEvicted prometheus.Counter

	// Store metrics
	StoreChunks    prometheus.Gauge
	StoreBytes     prometheus.Gauge
	StoreEvictions prometheus.Counter

	// Output worker metrics
	QueueDepth     prometheus.Gauge
	RecordsDropped prometheus.Counter
	RecordsLost    prometheus.Counter
	RecordsSent    prometheus.Counter
	SendRetries    prometheus.Counter

	// WebSocket metrics
	WSConnections prometheus.Gauge

	Uptime    prometheus.GaugeFunc
	startTime time.Time

	snapshot Snapshot
	mu       sync.RWMutex
}

// Snapshot holds current values for the JSON stats endpoint.
type Snapshot struct {
	TotalRequests  int64   `json:"total_requests"`
	TotalErrors    int64   `json:"total_errors"`
	ChunksIndexed  int64   `json:"chunks_indexed"`
	BytesIngested  int64   `json:"bytes_ingested"`
	ProtocolErrors int64   `json:"protocol_errors"`
	ActiveSessions int64   `json:"active_sessions"`
	StoreChunks    int64   `json:"store_chunks"`
	StoreBytes     int64   `json:"store_bytes"`
	UptimeSeconds  float64 `json:"uptime_seconds"`
}

// NewMetrics creates a metrics collector registered on a private registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.NewRegistry())
}

// NewMetricsWith creates a metrics collector registered on reg.
func NewMetricsWith(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		RequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracepipe_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tracepipe_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		RequestSize: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tracepipe_http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000, 10000000},
			},
			[]string{"method", "path"},
		),

		MessagesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracepipe_ingest_messages_total",
				Help: "Agent messages received, by kind and transport",
			},
			[]string{"kind", "transport"},
		),
		BytesIngested: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracepipe_ingest_bytes_total",
				Help: "Decoded payload bytes received, by kind",
			},
			[]string{"kind"},
		),
		ChunksIndexed: f.NewCounter(prometheus.CounterOpts{
			Name: "tracepipe_chunks_indexed_total",
			Help: "Trace chunks produced by the metadata indexer",
		}),
		ProtocolErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracepipe_protocol_errors_total",
				Help: "Rejected agent messages, by reason",
			},
			[]string{"reason"},
		),
		DecodeDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "tracepipe_decode_duration_seconds",
			Help:    "Time spent decoding and indexing one trace-data message",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
		}),
		SessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "tracepipe_sessions_active",
			Help: "Number of live agent sessions",
		}),
		SessionsEvicted: f.NewCounter(prometheus.CounterOpts{
			Name: "tracepipe_sessions_evicted_total",
			Help: "Agent sessions removed by the idle sweep",
		}),

		StoreChunks: f.NewGauge(prometheus.GaugeOpts{
			Name: "tracepipe_store_chunks",
			Help: "Chunks currently held by the store",
		}),
		StoreBytes: f.NewGauge(prometheus.GaugeOpts{
			Name: "tracepipe_store_bytes",
			Help: "Accounted size of chunks currently held by the store",
		}),
		StoreEvictions: f.NewCounter(prometheus.CounterOpts{
			Name: "tracepipe_store_evicted_chunks_total",
			Help: "Chunks trimmed from the store to stay within capacity",
		}),

		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "tracepipe_output_queue_depth",
			Help: "Records waiting in the output worker queue",
		}),
		RecordsDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "tracepipe_output_dropped_total",
			Help: "Records rejected because the output queue was full",
		}),
		RecordsLost: f.NewCounter(prometheus.CounterOpts{
			Name: "tracepipe_output_lost_total",
			Help: "Records discarded after exhausting send retries",
		}),
		RecordsSent: f.NewCounter(prometheus.CounterOpts{
			Name: "tracepipe_output_sent_total",
			Help: "Records delivered to the collector",
		}),
		SendRetries: f.NewCounter(prometheus.CounterOpts{
			Name: "tracepipe_output_retries_total",
			Help: "Send attempts repeated after a transport failure",
		}),

		WSConnections: f.NewGauge(prometheus.GaugeOpts{
			Name: "tracepipe_ws_connections",
			Help: "Number of live chunk feed subscribers",
		}),
	}

	m.Uptime = f.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "tracepipe_uptime_seconds",
		Help: "Process uptime in seconds",
	}, func() float64 { return time.Since(m.startTime).Seconds() })

	return m
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return prometheus.NewRegistry()
	}
	return m.registry
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration, reqSize int64) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.RequestSize.WithLabelValues(method, path).Observe(float64(reqSize))

	m.mu.Lock()
	m.snapshot.TotalRequests++
	if len(status) > 0 && (status[0] == '4' || status[0] == '5') {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// RecordMessage records one accepted agent message.
func (m *Metrics) RecordMessage(kind, transport string, size int) {
	if m == nil {
		return
	}
	m.MessagesTotal.WithLabelValues(kind, transport).Inc()
	m.BytesIngested.WithLabelValues(kind).Add(float64(size))

	m.mu.Lock()
	m.snapshot.BytesIngested += int64(size)
	m.mu.Unlock()
}

// RecordProtocolError records a rejected agent message.
func (m *Metrics) RecordProtocolError(reason string) {
	if m == nil {
		return
	}
	m.ProtocolErrors.WithLabelValues(reason).Inc()

	m.mu.Lock()
	m.snapshot.ProtocolErrors++
	m.mu.Unlock()
}

// RecordDecode records the time spent indexing a trace-data message and the
// number of chunks it produced.
func (m *Metrics) RecordDecode(duration time.Duration, chunks int) {
	if m == nil {
		return
	}
	m.DecodeDuration.Observe(duration.Seconds())
	m.ChunksIndexed.Add(float64(chunks))

	m.mu.Lock()
	m.snapshot.ChunksIndexed += int64(chunks)
	m.mu.Unlock()
}

// SetSessionsActive sets the number of live sessions
func (m *Metrics) SetSessionsActive(count int) {
	if m == nil {
		return
	}
	m.SessionsActive.Set(float64(count))
	m.mu.Lock()
	m.snapshot.ActiveSessions = int64(count)
	m.mu.Unlock()
}

// AddSessionsEvicted counts sessions removed by the sweep
func (m *Metrics) AddSessionsEvicted(n int) {
	if m == nil || n == 0 {
		return
	}
	m.SessionsEvicted.Add(float64(n))
}

// SetStoreSize publishes store occupancy
func (m *Metrics) SetStoreSize(chunks int, bytes int64) {
	if m == nil {
		return
	}
	m.StoreChunks.Set(float64(chunks))
	m.StoreBytes.Set(float64(bytes))
	m.mu.Lock()
	m.snapshot.StoreChunks = int64(chunks)
	m.snapshot.StoreBytes = bytes
	m.mu.Unlock()
}

// AddStoreEvictions counts chunks trimmed from the store
func (m *Metrics) AddStoreEvictions(n int) {
	if m == nil || n == 0 {
		return
	}
	m.StoreEvictions.Add(float64(n))
}

// SetQueueDepth publishes the output queue length
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

// IncDropped counts a record rejected by a full queue
func (m *Metrics) IncDropped() {
	if m == nil {
		return
	}
	m.RecordsDropped.Inc()
}

// AddLost counts records discarded after retries ran out
func (m *Metrics) AddLost(n int) {
	if m == nil {
		return
	}
	m.RecordsLost.Add(float64(n))
}

// AddSent counts records delivered
func (m *Metrics) AddSent(n int) {
	if m == nil {
		return
	}
	m.RecordsSent.Add(float64(n))
}

// IncRetries counts a repeated send attempt
func (m *Metrics) IncRetries() {
	if m == nil {
		return
	}
	m.SendRetries.Inc()
}

// IncWSConnections increments feed subscribers
func (m *Metrics) IncWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Inc()
}

// DecWSConnections decrements feed subscribers
func (m *Metrics) DecWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Dec()
}

// Snapshot returns a copy of the JSON snapshot
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.snapshot
	s.UptimeSeconds = time.Since(m.startTime).Seconds()
	return s
}
