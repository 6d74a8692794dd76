package processor

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"

	"liqrelay/internal/models"
)

// ErrMalformed is returned when a frame cannot be decoded at all. A frame that
// decodes but is not a liquidation yields no events and no error.
var ErrMalformed = errors.New("malformed frame")

// Normalizer maps one decoded frame to zero or more events.
type Normalizer func(frame []byte, receivedAt time.Time) ([]models.LiquidationEvent, error)

// NormalizeOKX handles liquidation-orders pushes. Each push carries one entry
// per instrument with one or more details.
// Price: fillPx, then bkPx. Quantity: fillSz, then sz.
func NormalizeOKX(frame []byte, receivedAt time.Time) ([]models.LiquidationEvent, error) {
	var msg struct {
		Arg struct {
			Channel  string `json:"channel"`
			InstType string `json:"instType"`
		} `json:"arg"`
		Event string `json:"event"`
		Data  []struct {
			InstID  string `json:"instId"`
			Details []struct {
				Side    string          `json:"side"`
				PosSide string          `json:"posSide"`
				FillPx  json.RawMessage `json:"fillPx"`
				BkPx    json.RawMessage `json:"bkPx"`
				FillSz  json.RawMessage `json:"fillSz"`
				Sz      json.RawMessage `json:"sz"`
				Ts      json.RawMessage `json:"ts"`
			} `json:"details"`
		} `json:"data"`
	}
	if err := json.Unmarshal(frame, &msg); err != nil {
		return nil, fmt.Errorf("okx: %w: %v", ErrMalformed, err)
	}
	if msg.Event != "" || msg.Arg.Channel != "liquidation-orders" {
		return nil, nil
	}

	var events []models.LiquidationEvent
	for _, d := range msg.Data {
		inst := strings.TrimSuffix(d.InstID, "-SWAP")
		if inst == "" {
			continue
		}
		for _, det := range d.Details {
			side, ok := models.ParseSide(det.Side)
			if !ok {
				side, ok = models.ParseSide(det.PosSide)
			}
			if !ok {
				continue
			}
			events = append(events, models.LiquidationEvent{
				Exchange:   models.ExchangeOKX,
				Instrument: inst,
				Side:       side,
				Price:      firstPositive(det.FillPx, det.BkPx),
				Quantity:   firstPositive(det.FillSz, det.Sz),
				ObservedAt: observedAt(receivedAt, det.Ts),
				ReceivedAt: receivedAt,
			})
		}
	}
	return events, nil
}

// NormalizeBinance handles forceOrder events.
// Price: ap, then p. Quantity: z, then q. Time: T, then E.
func NormalizeBinance(frame []byte, receivedAt time.Time) ([]models.LiquidationEvent, error) {
	var evt futures.WsLiquidationOrderEvent
	if err := json.Unmarshal(frame, &evt); err != nil {
		return nil, fmt.Errorf("binance: %w: %v", ErrMalformed, err)
	}
	if evt.Event != "forceOrder" {
		return nil, nil
	}
	o := evt.LiquidationOrder
	side, ok := models.ParseSide(string(o.Side))
	if !ok || o.Symbol == "" {
		return nil, nil
	}

	ts := o.TradeTime
	if ts <= 0 {
		ts = evt.Time
	}
	observed := receivedAt
	if ts > 0 {
		observed = time.UnixMilli(ts).UTC()
	}

	return []models.LiquidationEvent{{
		Exchange:   models.ExchangeBinance,
		Instrument: o.Symbol,
		Side:       side,
		Price:      firstPositiveString(o.AvgPrice, o.Price),
		Quantity:   firstPositiveString(o.AccumulatedFilledQty, o.OrigQuantity),
		ObservedAt: observed,
		ReceivedAt: receivedAt,
	}}, nil
}

// NormalizeHuobi handles public.<contract>.liquidation_orders notifications.
// Price: price. Quantity: amount (base currency), then volume (contracts).
func NormalizeHuobi(frame []byte, receivedAt time.Time) ([]models.LiquidationEvent, error) {
	var msg struct {
		Op    string          `json:"op"`
		Topic string          `json:"topic"`
		Ts    json.RawMessage `json:"ts"`
		Data  []struct {
			ContractCode string          `json:"contract_code"`
			Direction    string          `json:"direction"`
			Price        json.RawMessage `json:"price"`
			Amount       json.RawMessage `json:"amount"`
			Volume       json.RawMessage `json:"volume"`
			CreatedAt    json.RawMessage `json:"created_at"`
		} `json:"data"`
	}
	if err := json.Unmarshal(frame, &msg); err != nil {
		return nil, fmt.Errorf("huobi: %w: %v", ErrMalformed, err)
	}
	if msg.Op != "notify" || !strings.HasSuffix(msg.Topic, ".liquidation_orders") {
		return nil, nil
	}

	var events []models.LiquidationEvent
	for _, d := range msg.Data {
		side, ok := models.ParseSide(d.Direction)
		if !ok || d.ContractCode == "" {
			continue
		}
		ts := d.CreatedAt
		if _, ok := parseMillis(ts); !ok {
			ts = msg.Ts
		}
		events = append(events, models.LiquidationEvent{
			Exchange:   models.ExchangeHuobi,
			Instrument: d.ContractCode,
			Side:       side,
			Price:      firstPositive(d.Price),
			Quantity:   firstPositive(d.Amount, d.Volume),
			ObservedAt: observedAt(receivedAt, ts),
			ReceivedAt: receivedAt,
		})
	}
	return events, nil
}

// NormalizeBybit handles allLiquidation.<symbol> pushes. S is the side of the
// liquidated position, so Buy maps to a forced SELL.
func NormalizeBybit(frame []byte, receivedAt time.Time) ([]models.LiquidationEvent, error) {
	var msg struct {
		Op    string          `json:"op"`
		Topic string          `json:"topic"`
		Ts    json.RawMessage `json:"ts"`
		Data  []struct {
			T json.RawMessage `json:"T"`
			S string          `json:"s"`
			// position side
			PosSide string          `json:"S"`
			V       json.RawMessage `json:"v"`
			P       json.RawMessage `json:"p"`
		} `json:"data"`
	}
	if err := json.Unmarshal(frame, &msg); err != nil {
		return nil, fmt.Errorf("bybit: %w: %v", ErrMalformed, err)
	}
	if msg.Op != "" || !strings.HasPrefix(msg.Topic, "allLiquidation.") {
		return nil, nil
	}

	var events []models.LiquidationEvent
	for _, d := range msg.Data {
		var side models.Side
		switch strings.ToLower(d.PosSide) {
		case "buy":
			side = models.SideSell
		case "sell":
			side = models.SideBuy
		default:
			continue
		}
		inst := d.S
		if inst == "" {
			inst = strings.TrimPrefix(msg.Topic, "allLiquidation.")
		}
		ts := d.T
		if _, ok := parseMillis(ts); !ok {
			ts = msg.Ts
		}
		events = append(events, models.LiquidationEvent{
			Exchange:   models.ExchangeBybit,
			Instrument: inst,
			Side:       side,
			Price:      firstPositive(d.P),
			Quantity:   firstPositive(d.V),
			ObservedAt: observedAt(receivedAt, ts),
			ReceivedAt: receivedAt,
		})
	}
	return events, nil
}

// firstPositive walks the candidates in priority order. Venues report zero for
// fields that are not filled yet, so zero counts as absent.
func firstPositive(candidates ...json.RawMessage) decimal.NullDecimal {
	for _, raw := range candidates {
		if v := parseDecimal(raw); v.Valid {
			return v
		}
	}
	return decimal.NullDecimal{}
}

func firstPositiveString(candidates ...string) decimal.NullDecimal {
	for _, s := range candidates {
		if v := parseDecimalString(s); v.Valid {
			return v
		}
	}
	return decimal.NullDecimal{}
}

func parseDecimal(raw json.RawMessage) decimal.NullDecimal {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return decimal.NullDecimal{}
	}
	return parseDecimalString(string(bytes.Trim(raw, `"`)))
}

func parseDecimalString(s string) decimal.NullDecimal {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(s)
	if err != nil || !d.IsPositive() {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}
}

func parseMillis(raw json.RawMessage) (int64, bool) {
	s := string(bytes.Trim(bytes.TrimSpace(raw), `"`))
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

func observedAt(receivedAt time.Time, raw json.RawMessage) time.Time {
	if ms, ok := parseMillis(raw); ok {
		return time.UnixMilli(ms).UTC()
	}
	return receivedAt
}
