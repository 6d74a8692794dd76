package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Exchange identifies a venue publishing liquidation orders.
type Exchange string

const (
	ExchangeOKX     Exchange = "okx"
	ExchangeBinance Exchange = "binance"
	ExchangeHuobi   Exchange = "huobi"
	ExchangeBybit   Exchange = "bybit"
)

// DisplayName is the label used in chat messages.
func (e Exchange) DisplayName() string {
	switch e {
	case ExchangeOKX:
		return "OKX"
	case ExchangeHuobi:
		return "Huobi"
	case ExchangeBinance:
		return "Binance"
	case ExchangeBybit:
		return "Bybit"
	default:
		return strings.ToUpper(string(e))
	}
}

// Side is the side of the forced order, not of the liquidated position.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ParseSide canonicalizes venue vocabulary. "long" and "short" name the
// liquidated position, which is closed by an order on the opposite side.
func ParseSide(raw string) (Side, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "buy":
		return SideBuy, true
	case "sell":
		return SideSell, true
	case "long":
		return SideSell, true
	case "short":
		return SideBuy, true
	default:
		return "", false
	}
}

// LiquidationEvent is the canonical form of one forced order.
type LiquidationEvent struct {
	Exchange   Exchange
	Instrument string
	Side       Side
	// Price and Quantity are invalid when the venue did not report a usable
	// number.
	Price    decimal.NullDecimal
	Quantity decimal.NullDecimal
	// ObservedAt is the exchange event time when supplied, else ReceivedAt.
	ObservedAt time.Time
	ReceivedAt time.Time
}

// NotionalUSD is price × quantity, invalid when either factor is unknown.
func (e LiquidationEvent) NotionalUSD() decimal.NullDecimal {
	if !e.Price.Valid || !e.Quantity.Valid {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: e.Price.Decimal.Mul(e.Quantity.Decimal), Valid: true}
}

// ConnectionStatus is the state of one venue stream.
type ConnectionStatus int

const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
)

func (s ConnectionStatus) String() string {
	switch s {
	case StatusConnecting:
		return "CONNECTING"
	case StatusConnected:
		return "CONNECTED"
	default:
		return "DISCONNECTED"
	}
}

// StreamNoticeKind tags what a stream reports to its owner.
type StreamNoticeKind int

const (
	NoticeConnected StreamNoticeKind = iota
	NoticeEvent
	NoticeDisconnected
)

// StreamNotice is sent by a stream for every connect, event and disconnect.
type StreamNotice struct {
	Kind     StreamNoticeKind
	Exchange Exchange
	Event    LiquidationEvent
	// Reason and RetryIn are set on NoticeDisconnected.
	Reason  error
	RetryIn time.Duration
}

// OutboundMessage is one text queued for delivery.
type OutboundMessage struct {
	Text       string
	EnqueuedAt time.Time
}
