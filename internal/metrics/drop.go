package metrics

import "liqrelay/logger"

// DropMetric identifies the metric name emitted when something is discarded.
type DropMetric string

const (
	// DropMetricStreamNotice records events dropped because the stream's
	// notice channel was full.
	DropMetricStreamNotice DropMetric = "stream_notices_dropped"
	// DropMetricPayload records outbound payloads dropped after the retry cap
	// or a permanent rejection.
	DropMetricPayload DropMetric = "payloads_dropped"
	// DropMetricUndeliverable records messages discarded while delivery is
	// disabled.
	DropMetricUndeliverable DropMetric = "messages_undeliverable"
)

// EmitDropMetric emits a single drop. Optional metadata (exchange, reason) is
// added to the metric fields when provided.
func EmitDropMetric(log *logger.Log, metric DropMetric, exchange, reason string) {
	fields := logger.Fields{}
	if exchange != "" {
		fields["exchange"] = exchange
	}
	if reason != "" {
		fields["reason"] = reason
	}

	EmitMetric(log, "drops", string(metric), 1, TypeCounter, fields)
}
