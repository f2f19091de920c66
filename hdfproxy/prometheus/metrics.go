// Package prometheus implements hdfproxy.Metrics with Prometheus collectors.
package prometheus

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/pithecene-io/hdfproxy/hdfproxy"
)

// Metrics is the Prometheus implementation of hdfproxy.Metrics.
type Metrics struct {
	messagesTotal *prometheus.CounterVec
	payloadBytes  *prometheus.CounterVec
	leavesTotal   prometheus.Counter
	leafElements  prometheus.Histogram
	waitDuration  *prometheus.HistogramVec
	waitsTotal    *prometheus.CounterVec
}

var _ hdfproxy.Metrics = (*Metrics)(nil)

// New creates the proxy collectors and registers them with reg.
// A nil reg registers with prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		messagesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hdfproxy_messages_sent_total",
				Help: "Total number of messages handed to the channel by message type",
			},
			[]string{"type"},
		),
		payloadBytes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hdfproxy_payload_bytes_total",
				Help: "Total source bytes carried by sent messages by message type",
			},
			[]string{"type"},
		),
		leavesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "hdfproxy_chunk_leaves_total",
				Help: "Total number of leaf chunks written as sub-arrays",
			},
		),
		leafElements: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "hdfproxy_chunk_leaf_elements",
				Help:    "Distribution of elements per leaf chunk",
				Buckets: prometheus.ExponentialBuckets(1, 4, 12),
			},
		),
		waitDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "hdfproxy_response_wait_duration_milliseconds",
				Help: "Time spent blocked waiting for a response in milliseconds",
				Buckets: []float64{
					1,     // in-process channels
					10,    // 10ms
					50,    // 50ms
					100,   // 100ms
					500,   // 500ms
					1000,  // 1s
					5000,  // 5s
					30000, // 30s - default budget
				},
			},
			[]string{"type"},
		),
		waitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hdfproxy_response_waits_total",
				Help: "Total number of blocking waits by message type and outcome",
			},
			[]string{"type", "status"},
		),
	}
}

func (m *Metrics) RecordSend(mt hdfproxy.MessageType, payloadBytes int64) {
	m.messagesTotal.WithLabelValues(mt.String()).Inc()
	if payloadBytes > 0 {
		m.payloadBytes.WithLabelValues(mt.String()).Add(float64(payloadBytes))
	}
}

func (m *Metrics) RecordLeaf(elements int64) {
	m.leavesTotal.Inc()
	m.leafElements.Observe(float64(elements))
}

func (m *Metrics) ObserveWait(mt hdfproxy.MessageType, d time.Duration, err error) {
	m.waitDuration.WithLabelValues(mt.String()).Observe(float64(d.Microseconds()) / 1000)
	m.waitsTotal.WithLabelValues(mt.String(), status(err)).Inc()
}

func status(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, hdfproxy.ErrTimeout):
		return "timeout"
	case errors.Is(err, hdfproxy.ErrProtocol):
		return "exception"
	default:
		return "error"
	}
}
