package binance

import (
	"encoding/json"
	"strings"
	"time"

	appconfig "liqrelay/config"
	"liqrelay/internal/models"
	"liqrelay/internal/processor"
	"liqrelay/internal/reader"
)

const (
	DefaultURL          = "wss://fstream.binance.com/ws"
	DefaultPingInterval = 30 * time.Second
	allMarketStream     = "!forceOrder@arr"
)

// NewVenue subscribes to the all-market force order stream.
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
		Exchange:     models.ExchangeBinance,
		URL:          url,
		KeepAlive:    reader.KeepAlivePingFrame,
		PingInterval: interval,
		Subscribe:    subscribe,
		Control:      control,
		Decode:       processor.NormalizeBinance,
	}
}

func subscribe([]string) ([][]byte, error) {
	b, err := json.Marshal(map[string]any{
		"method": "SUBSCRIBE",
		"params": []string{allMarketStream},
		"id":     1,
	})
	if err != nil {
		return nil, err
	}
	return [][]byte{b}, nil
}

// control consumes {"result":null,"id":1} style acknowledgements.
func control(frame []byte) ([]byte, bool) {
	var ack struct {
		ID    *int64 `json:"id"`
		Event string `json:"e"`
	}
	if err := json.Unmarshal(frame, &ack); err != nil {
		return nil, false
	}
	return nil, ack.ID != nil && ack.Event == ""
}
