package huobi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	appconfig "liqrelay/config"
	"liqrelay/internal/models"
	"liqrelay/internal/processor"
	"liqrelay/internal/reader"
)

const DefaultURL = "wss://api.hbdm.com/linear-swap-notification"

// NewVenue reads gzip frames and answers the server's pings. Subscriptions
// are one per contract; the contract list comes from a PairSource.
func NewVenue(cfg appconfig.HuobiConfig) reader.Venue {
	url := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if url == "" {
		url = DefaultURL
	}
	return reader.Venue{
		Exchange:   models.ExchangeHuobi,
		URL:        url,
		KeepAlive:  reader.KeepAliveServer,
		Compressed: true,
		Subscribe:  subscribe,
		Control:    control,
		Decode:     processor.NormalizeHuobi,
	}
}

// Topics maps contract codes to liquidation topics.
func Topics(contracts []string) []string {
	topics := make([]string, 0, len(contracts))
	for _, c := range contracts {
		topics = append(topics, fmt.Sprintf("public.%s.liquidation_orders", c))
	}
	return topics
}

func subscribe(topics []string) ([][]byte, error) {
	frames := make([][]byte, 0, len(topics))
	for i, topic := range topics {
		b, err := json.Marshal(map[string]string{
			"op":    "sub",
			"cid":   fmt.Sprintf("liq-%d", i),
			"topic": topic,
		})
		if err != nil {
			return nil, err
		}
		frames = append(frames, b)
	}
	return frames, nil
}

// control answers {"op":"ping","ts":..} with {"op":"pong","ts":..} and
// {"ping":..} with {"pong":..}, echoing the timestamp verbatim. Subscription
// acknowledgements are consumed.
func control(frame []byte) ([]byte, bool) {
	var msg struct {
		Op   string          `json:"op"`
		Ts   json.RawMessage `json:"ts"`
		Ping json.RawMessage `json:"ping"`
	}
	if err := json.Unmarshal(frame, &msg); err != nil {
		return nil, false
	}
	switch {
	case len(msg.Ping) > 0:
		return pong(`{"pong":`, msg.Ping), true
	case msg.Op == "ping":
		return pong(`{"op":"pong","ts":`, msg.Ts), true
	case msg.Op == "sub" || msg.Op == "unsub":
		return nil, true
	}
	return nil, false
}

func pong(prefix string, ts json.RawMessage) []byte {
	if len(bytes.TrimSpace(ts)) == 0 {
		ts = json.RawMessage(`0`)
	}
	var b bytes.Buffer
	b.WriteString(prefix)
	b.Write(ts)
	b.WriteByte('}')
	return b.Bytes()
}
