package stats

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"liqrelay/internal/models"
)

var hundred = decimal.NewFromInt(100)

// Summary is the content of one window at the time it was read.
type Summary struct {
	Horizon    time.Duration
	Total      int
	BuyCount   int
	SellCount  int
	BuyPercent decimal.Decimal
	// SellPercent is 100 - BuyPercent so the pair always sums to 100.0.
	SellPercent decimal.Decimal
}

// Aggregator holds one window per horizon. Entries are timestamped with the
// local receipt time of each event regardless of venue.
type Aggregator struct {
	mu      sync.Mutex
	windows map[time.Duration]*SlidingWindow
	now     func() time.Time
}

func NewAggregator(horizons ...time.Duration) *Aggregator {
	a := &Aggregator{
		windows: make(map[time.Duration]*SlidingWindow, len(horizons)),
		now:     time.Now,
	}
	for _, h := range horizons {
		if h > 0 {
			a.windows[h] = NewSlidingWindow(h)
		}
	}
	return a
}

// WithClock replaces the time source.
func (a *Aggregator) WithClock(now func() time.Time) *Aggregator {
	a.now = now
	return a
}

func (a *Aggregator) RecordEvent(evt models.LiquidationEvent) {
	at := evt.ReceivedAt
	a.mu.Lock()
	defer a.mu.Unlock()
	now := a.now()
	if at.IsZero() {
		at = now
	}
	for _, w := range a.windows {
		w.Add(at, evt.Side, now)
	}
}

// Summarize returns false when the horizon is unknown or its window is empty.
func (a *Aggregator) Summarize(horizon time.Duration) (Summary, bool) {
	a.mu.Lock()
	w, ok := a.windows[horizon]
	if !ok {
		a.mu.Unlock()
		return Summary{}, false
	}
	buy, sell := w.Counts(a.now())
	a.mu.Unlock()

	total := buy + sell
	if total == 0 {
		return Summary{}, false
	}
	buyPct := decimal.NewFromInt(int64(buy)).Mul(hundred).Div(decimal.NewFromInt(int64(total))).Round(1)
	return Summary{
		Horizon:     horizon,
		Total:       total,
		BuyCount:    buy,
		SellCount:   sell,
		BuyPercent:  buyPct,
		SellPercent: hundred.Sub(buyPct),
	}, true
}

// FormatSummary renders a summary for the chat, e.g.
//
//	📊 Liquidations, last 5m: 4
//	🟢 Shorts (BUY): 3 (75.0%)
//	🔴 Longs (SELL): 1 (25.0%)
func FormatSummary(s Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📊 Liquidations, last %s: %d\n", formatHorizon(s.Horizon), s.Total)
	fmt.Fprintf(&b, "🟢 Shorts (BUY): %d (%s%%)\n", s.BuyCount, s.BuyPercent.StringFixed(1))
	fmt.Fprintf(&b, "🔴 Longs (SELL): %d (%s%%)", s.SellCount, s.SellPercent.StringFixed(1))
	return b.String()
}

// FormatSummaries joins the summaries of one emission group.
func FormatSummaries(summaries []Summary) string {
	parts := make([]string, 0, len(summaries))
	for _, s := range summaries {
		parts = append(parts, FormatSummary(s))
	}
	return strings.Join(parts, "\n\n")
}

func formatHorizon(d time.Duration) string {
	switch {
	case d >= time.Hour && d%time.Hour == 0:
		return fmt.Sprintf("%dh", d/time.Hour)
	case d >= time.Minute && d%time.Minute == 0:
		return fmt.Sprintf("%dm", d/time.Minute)
	default:
		return d.String()
	}
}
