package okx

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
	DefaultURL          = "wss://ws.okx.com:8443/ws/v5/public"
	DefaultPingInterval = 25 * time.Second
)

// NewVenue subscribes to liquidation-orders for every SWAP instrument. OKX
// drops idle connections after 30s, so a text "ping" is sent and the "pong"
// reply consumed.
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
		Exchange:     models.ExchangeOKX,
		URL:          url,
		KeepAlive:    reader.KeepAliveMessage,
		PingInterval: interval,
		PingPayload:  []byte("ping"),
		Subscribe:    subscribe,
		Control:      control,
		Decode:       processor.NormalizeOKX,
	}
}

func subscribe([]string) ([][]byte, error) {
	msg := map[string]any{
		"op": "subscribe",
		"args": []map[string]string{
			{
				"channel":  "liquidation-orders",
				"instType": "SWAP",
			},
		},
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return [][]byte{b}, nil
}

func control(frame []byte) ([]byte, bool) {
	return nil, strings.TrimSpace(string(frame)) == "pong"
}
