package processor

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"

	"liqrelay/internal/models"
)

const (
	MarkerSuccess = "🟢"
	MarkerDanger  = "🔴"

	// UnknownNotional renders a notional whose price or quantity is unknown.
	UnknownNotional = "$–"
	unknownNumber   = "–"
)

// SideLabel names the liquidated position: a forced SELL closes a long.
func SideLabel(side models.Side) string {
	if side == models.SideSell {
		return "Long"
	}
	return "Short"
}

// SideMarker is danger for liquidated longs and success for liquidated shorts.
func SideMarker(side models.Side) string {
	if side == models.SideSell {
		return MarkerDanger
	}
	return MarkerSuccess
}

// FormatNotional renders a USD amount with thousands separators. Positive
// amounts that round to zero cents render as "<$0.01".
func FormatNotional(n decimal.NullDecimal) string {
	if !n.Valid {
		return UnknownNotional
	}
	v := n.Decimal.Round(2)
	if v.IsZero() && n.Decimal.IsPositive() {
		return "<$0.01"
	}
	if v.GreaterThanOrEqual(decimal.NewFromInt(1000)) {
		return "$" + humanize.Comma(v.Round(0).IntPart())
	}
	return "$" + humanize.CommafWithDigits(v.InexactFloat64(), 2)
}

func formatNumber(n decimal.NullDecimal) string {
	if !n.Valid {
		return unknownNumber
	}
	return n.Decimal.String()
}

// FormatEvent renders one event as a single chat line, e.g.
//
//	🔴 Binance #BTCUSDT Long liquidated: $21,605 (0.5 @ 43210) 14:03:05 UTC
func FormatEvent(evt models.LiquidationEvent) string {
	return fmt.Sprintf("%s %s #%s %s liquidated: %s (%s @ %s) %s UTC",
		SideMarker(evt.Side),
		evt.Exchange.DisplayName(),
		evt.Instrument,
		SideLabel(evt.Side),
		FormatNotional(evt.NotionalUSD()),
		formatNumber(evt.Quantity),
		formatNumber(evt.Price),
		evt.ObservedAt.UTC().Format("15:04:05"),
	)
}

// FormatConnected and FormatDisconnected render stream state transitions.
func FormatConnected(exchange models.Exchange) string {
	return fmt.Sprintf("%s %s stream connected", MarkerSuccess, exchange.DisplayName())
}

func FormatDisconnected(exchange models.Exchange, reason error, retryIn time.Duration) string {
	msg := fmt.Sprintf("%s %s stream disconnected", MarkerDanger, exchange.DisplayName())
	if reason != nil {
		msg += ": " + reason.Error()
	}
	if retryIn > 0 {
		msg += ", retry in " + retryIn.String()
	}
	return msg
}
