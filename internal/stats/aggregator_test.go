package stats

import (
	"strings"
	"testing"
	"time"

	"liqrelay/internal/models"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func event(side models.Side, at time.Time) models.LiquidationEvent {
	return models.LiquidationEvent{Exchange: models.ExchangeOKX, Instrument: "BTC-USDT", Side: side, ReceivedAt: at}
}

func TestSummarizeThreeBuysOneSell(t *testing.T) {
	clock := newClock()
	agg := NewAggregator(5 * time.Minute).WithClock(clock.now)

	for i, side := range []models.Side{models.SideBuy, models.SideSell, models.SideBuy, models.SideBuy} {
		agg.RecordEvent(event(side, clock.t.Add(time.Duration(i)*time.Minute)))
	}
	clock.advance(4 * time.Minute)

	s, ok := agg.Summarize(5 * time.Minute)
	if !ok {
		t.Fatalf("expected a summary")
	}
	if s.Total != 4 || s.BuyCount != 3 || s.SellCount != 1 {
		t.Fatalf("unexpected counts: %+v", s)
	}
	if s.BuyPercent.StringFixed(1) != "75.0" || s.SellPercent.StringFixed(1) != "25.0" {
		t.Fatalf("unexpected percentages: %s / %s", s.BuyPercent, s.SellPercent)
	}

	text := FormatSummary(s)
	for _, want := range []string{"last 5m: 4", "Shorts (BUY): 3 (75.0%)", "Longs (SELL): 1 (25.0%)"} {
		if !strings.Contains(text, want) {
			t.Fatalf("summary %q missing %q", text, want)
		}
	}
}

func TestSummarizeEmptyWindowIsOmitted(t *testing.T) {
	clock := newClock()
	agg := NewAggregator(5 * time.Minute).WithClock(clock.now)

	if _, ok := agg.Summarize(5 * time.Minute); ok {
		t.Fatalf("expected no summary for an empty window")
	}

	agg.RecordEvent(event(models.SideBuy, clock.t))
	clock.advance(5*time.Minute + time.Second)
	if _, ok := agg.Summarize(5 * time.Minute); ok {
		t.Fatalf("expected stale entries to be pruned")
	}

	if _, ok := agg.Summarize(time.Hour); ok {
		t.Fatalf("expected no summary for an unknown horizon")
	}
}

func TestSummarizeSingleSided(t *testing.T) {
	clock := newClock()
	agg := NewAggregator(15 * time.Minute).WithClock(clock.now)
	agg.RecordEvent(event(models.SideSell, clock.t))
	agg.RecordEvent(event(models.SideSell, clock.t))

	s, ok := agg.Summarize(15 * time.Minute)
	if !ok {
		t.Fatalf("expected a summary")
	}
	if s.BuyPercent.StringFixed(1) != "0.0" || s.SellPercent.StringFixed(1) != "100.0" {
		t.Fatalf("unexpected percentages: %s / %s", s.BuyPercent, s.SellPercent)
	}
}

func TestSummarizePercentagesSumToHundred(t *testing.T) {
	clock := newClock()
	for total := 1; total <= 25; total++ {
		for buys := 0; buys <= total; buys++ {
			agg := NewAggregator(time.Hour).WithClock(clock.now)
			for i := 0; i < total; i++ {
				side := models.SideSell
				if i < buys {
					side = models.SideBuy
				}
				agg.RecordEvent(event(side, clock.t))
			}
			s, ok := agg.Summarize(time.Hour)
			if !ok {
				t.Fatalf("expected summary for %d/%d", buys, total)
			}
			if sum := s.BuyPercent.Add(s.SellPercent).StringFixed(1); sum != "100.0" {
				t.Fatalf("%d/%d: percentages sum to %s", buys, total, sum)
			}
		}
	}
}

func TestWindowsPruneIndependently(t *testing.T) {
	clock := newClock()
	agg := NewAggregator(5*time.Minute, 30*time.Minute).WithClock(clock.now)

	agg.RecordEvent(event(models.SideBuy, clock.t))
	clock.advance(10 * time.Minute)
	agg.RecordEvent(event(models.SideSell, clock.t))

	short, ok := agg.Summarize(5 * time.Minute)
	if !ok || short.Total != 1 || short.SellCount != 1 {
		t.Fatalf("unexpected short window: %+v", short)
	}
	long, ok := agg.Summarize(30 * time.Minute)
	if !ok || long.Total != 2 {
		t.Fatalf("unexpected long window: %+v", long)
	}
}

func TestSlidingWindowOutOfOrderInsert(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	w := NewSlidingWindow(time.Minute)
	w.Add(now, models.SideBuy, now)
	w.Add(now.Add(-2*time.Minute), models.SideSell, now)

	if n := w.Len(now); n != 1 {
		t.Fatalf("expected stale entry behind a fresh one to be pruned, got %d", n)
	}
}

func TestFormatHorizon(t *testing.T) {
	cases := map[time.Duration]string{
		5 * time.Minute:  "5m",
		60 * time.Minute: "1h",
		90 * time.Second: "1m30s",
	}
	for in, want := range cases {
		if got := formatHorizon(in); got != want {
			t.Fatalf("formatHorizon(%s) = %q, want %q", in, got, want)
		}
	}
}
