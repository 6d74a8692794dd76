package okx

import (
	"encoding/json"
	"testing"

	appconfig "liqrelay/config"
	"liqrelay/internal/models"
	"liqrelay/internal/reader"
)

func TestNewVenueDefaults(t *testing.T) {
	v := NewVenue(appconfig.VenueConfig{Enabled: true})
	if v.URL != DefaultURL || v.PingInterval != DefaultPingInterval {
		t.Fatalf("unexpected defaults: %s %v", v.URL, v.PingInterval)
	}
	if v.Exchange != models.ExchangeOKX || v.KeepAlive != reader.KeepAliveMessage || string(v.PingPayload) != "ping" {
		t.Fatalf("unexpected venue: %+v", v)
	}
	if v.Decode == nil || v.Subscribe == nil || v.Control == nil {
		t.Fatalf("expected decode, subscribe and control to be set")
	}
}

func TestSubscribeFrame(t *testing.T) {
	frames, err := subscribe(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("expected one frame, got %d", len(frames))
	}
	var msg struct {
		Op   string              `json:"op"`
		Args []map[string]string `json:"args"`
	}
	if err := json.Unmarshal(frames[0], &msg); err != nil {
		t.Fatalf("invalid frame: %v", err)
	}
	if msg.Op != "subscribe" || len(msg.Args) != 1 || msg.Args[0]["channel"] != "liquidation-orders" || msg.Args[0]["instType"] != "SWAP" {
		t.Fatalf("unexpected subscribe frame %s", frames[0])
	}
}

func TestControlConsumesPong(t *testing.T) {
	if reply, handled := control([]byte("pong")); !handled || reply != nil {
		t.Fatalf("expected pong to be consumed silently")
	}
	if _, handled := control([]byte(`{"arg":{}}`)); handled {
		t.Fatalf("expected data frames to pass through")
	}
}
