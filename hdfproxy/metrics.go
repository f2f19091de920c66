package hdfproxy

import "time"

// Metrics receives proxy activity. Implementations must be safe for
// concurrent use. See package hdfproxy/prometheus for a Prometheus-backed
// implementation.
type Metrics interface {
	// RecordSend records one message handed to the channel with the size of
	// its payload in source bytes (0 for messages without a payload).
	RecordSend(mt MessageType, payloadBytes int64)

	// RecordLeaf records one leaf chunk of a chunked write.
	RecordLeaf(elements int64)

	// ObserveWait records a blocking wait for a response and its outcome.
	ObserveWait(mt MessageType, d time.Duration, err error)
}

type noopMetrics struct{}

func (noopMetrics) RecordSend(MessageType, int64)                 {}
func (noopMetrics) RecordLeaf(int64)                              {}
func (noopMetrics) ObserveWait(MessageType, time.Duration, error) {}
