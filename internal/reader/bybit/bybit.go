package bybit

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	appconfig "liqrelay/config"
	"liqrelay/internal/models"
	"liqrelay/internal/processor"
	"liqrelay/internal/reader"
)

const (
	DefaultURL          = "wss://stream.bybit.com/v5/public/linear"
	DefaultPingInterval = 20 * time.Second
	// Bybit rejects subscribe requests with more args than this.
	maxArgsPerRequest = 10
)

// NewVenue subscribes to allLiquidation for the configured symbols.
func NewVenue(cfg appconfig.VenueConfig) reader.Venue {
	url := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if url == "" {
		url = DefaultURL
	}
	interval := cfg.PingInterval
	if interval <= 0 {
		interval = DefaultPingInterval
	}
	return reader.Venue{
		Exchange:     models.ExchangeBybit,
		URL:          url,
		KeepAlive:    reader.KeepAliveMessage,
		PingInterval: interval,
		PingPayload:  []byte(`{"op":"ping"}`),
		Subscribe:    subscribe,
		Control:      control,
		Decode:       processor.NormalizeBybit,
	}
}

// Topics maps symbols to allLiquidation topics.
func Topics(symbols []string) []string {
	topics := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		topics = append(topics, "allLiquidation."+s)
	}
	return topics
}

func subscribe(topics []string) ([][]byte, error) {
	var frames [][]byte
	for start := 0; start < len(topics); start += maxArgsPerRequest {
		end := start + maxArgsPerRequest
		if end > len(topics) {
			end = len(topics)
		}
		b, err := json.Marshal(struct {
			Op    string   `json:"op"`
			Args  []string `json:"args"`
			ReqID string   `json:"req_id"`
		}{
			Op:    "subscribe",
			Args:  topics[start:end],
			ReqID: fmt.Sprintf("liq-%d", start/maxArgsPerRequest),
		})
		if err != nil {
			return nil, err
		}
		frames = append(frames, b)
	}
	return frames, nil
}

// control consumes ping replies and subscription acknowledgements.
func control(frame []byte) ([]byte, bool) {
	var ack struct {
		Op string `json:"op"`
	}
	if err := json.Unmarshal(frame, &ack); err != nil {
		return nil, false
	}
	switch ack.Op {
	case "ping", "pong", "subscribe":
		return nil, true
	}
	return nil, false
}
