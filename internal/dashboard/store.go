package dashboard

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"liqrelay/internal/metrics"
)

// activityStore keeps the receipt times of liquidation events per exchange
// for the recent counts shown by /health. It is safe for concurrent use.
type activityStore struct {
	mu      sync.Mutex
	horizon time.Duration
	seen    map[string][]time.Time
}

func newActivityStore(horizon time.Duration) *activityStore {
	if horizon <= 0 {
		horizon = time.Hour
	}
	return &activityStore{horizon: horizon, seen: make(map[string][]time.Time)}
}

func (s *activityStore) handle(metric metrics.Metric) {
	if metric.Name != metrics.MetricEventsReceived {
		return
	}
	exchange, _ := metric.Fields["exchange"].(string)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen[exchange] = append(prune(s.seen[exchange], metric.Timestamp.Add(-s.horizon)), metric.Timestamp)
}

// counts reports events per exchange within the last d.
func (s *activityStore) counts(d time.Duration, now time.Time) map[string]int {
	cutoff := now.Add(-d)

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]int, len(s.seen))
	for exchange, times := range s.seen {
		s.seen[exchange] = prune(times, now.Add(-s.horizon))
		n := 0
		for _, t := range s.seen[exchange] {
			if t.After(cutoff) {
				n++
			}
		}
		out[exchange] = n
	}
	return out
}

// prune drops leading entries at or before cutoff; times are appended in
// emission order.
func prune(times []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(times) && !times[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return times
	}
	return append([]time.Time(nil), times[i:]...)
}

// logRecord is the serialisable representation of a captured log entry.
type logRecord struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Component string                 `json:"component,omitempty"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// logStore retains the most recent warnings and errors that flow through the
// global logger. It is attached as a logrus hook.
type logStore struct {
	mu      sync.RWMutex
	items   []logRecord
	limit   int
	enabled atomic.Bool
}

func newLogStore(limit int) *logStore {
	if limit <= 0 {
		limit = 200
	}
	ls := &logStore{limit: limit}
	ls.enabled.Store(true)
	return ls
}

func (s *logStore) Levels() []logrus.Level {
	return []logrus.Level{logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel, logrus.WarnLevel}
}

func (s *logStore) Fire(entry *logrus.Entry) error {
	if !s.enabled.Load() {
		return nil
	}

	record := logRecord{
		Timestamp: entry.Time,
		Level:     entry.Level.String(),
		Message:   entry.Message,
	}

	if component, ok := entry.Data["component"].(string); ok {
		record.Component = component
	}

	if len(entry.Data) > 0 {
		record.Fields = make(map[string]interface{}, len(entry.Data))
		for k, v := range entry.Data {
			if k == "component" {
				continue
			}

			switch val := v.(type) {
			case error:
				record.Fields[k] = val.Error()
			case fmt.Stringer:
				record.Fields[k] = val.String()
			default:
				record.Fields[k] = val
			}
		}
	}

	s.mu.Lock()
	s.items = append(s.items, record)
	if len(s.items) > s.limit {
		s.items = append([]logRecord(nil), s.items[len(s.items)-s.limit:]...)
	}
	s.mu.Unlock()
	return nil
}

func (s *logStore) snapshot() []logRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]logRecord, len(s.items))
	copy(out, s.items)
	return out
}

func (s *logStore) close() {
	s.enabled.Store(false)
}
