package metrics

// Metric names emitted by the relay. Every name is dispatched to the
// registered handlers; Prometheus and CloudWatch both subscribe.
const (
	MetricEventsReceived    = "liquidation_events_received"
	MetricEventsFiltered    = "liquidation_events_filtered"
	MetricFramesMalformed   = "stream_frames_malformed"
	MetricStreamConnects    = "stream_connects"
	MetricStreamDisconnects = "stream_disconnects"
	MetricMessagesEnqueued  = "messages_enqueued"
	MetricMessagesSent      = "messages_sent"
	MetricPayloadsSent      = "payloads_sent"
	MetricPayloadsThrottled = "payloads_throttled"
	MetricQueueDepth        = "queue_depth"
)

const (
	TypeCounter = "counter"
	TypeGauge   = "gauge"
)
