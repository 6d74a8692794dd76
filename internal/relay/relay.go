package relay

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	appconfig "liqrelay/config"
	liq "liqrelay/internal/channel/liq"
	"liqrelay/internal/dashboard"
	metrics "liqrelay/internal/metrics"
	"liqrelay/internal/models"
	"liqrelay/internal/processor"
	"liqrelay/internal/reader"
	"liqrelay/internal/reader/binance"
	"liqrelay/internal/reader/bybit"
	"liqrelay/internal/reader/huobi"
	"liqrelay/internal/reader/okx"
	"liqrelay/internal/stats"
	"liqrelay/internal/writer"
	"liqrelay/logger"
)

// pairFetcher lists the Huobi contracts to subscribe to.
type pairFetcher interface {
	Fetch(ctx context.Context) ([]string, error)
}

// resubscriber is the part of a Stream the pair refresh needs.
type resubscriber interface {
	Resubscribe(topics []string)
}

type feed struct {
	stream *reader.Stream
	out    *liq.Channels
}

// Relay owns one stream per enabled exchange and routes what they report to
// the statistics windows and the delivery queue.
type Relay struct {
	cfg        *appconfig.Config
	log        *logger.Log
	queue      *writer.Queue
	aggregator *stats.Aggregator
	feeds      []feed

	huobiStream resubscriber
	huobiPairs  pairFetcher
	huobiCodes  []string

	deliveryEnabled bool
	minNotional     decimal.Decimal
}

// New builds the relay from configuration. transport carries outbound
// payloads; it is only used when delivery is enabled.
func New(cfg *appconfig.Config, transport writer.Transport) (*Relay, error) {
	policy, err := writer.NewPolicy(cfg.Delivery)
	if err != nil {
		return nil, fmt.Errorf("rate policy: %w", err)
	}

	var horizons []time.Duration
	for _, g := range cfg.Stats.Groups {
		horizons = append(horizons, g.Horizons...)
	}

	r := &Relay{
		cfg:             cfg,
		log:             logger.GetLogger(),
		queue:           writer.NewQueue(transport, policy, writer.OptionsFromConfig(cfg.Delivery)),
		aggregator:      stats.NewAggregator(horizons...),
		deliveryEnabled: cfg.Delivery.Enabled,
		minNotional:     decimal.NewFromFloat(cfg.Relay.MinNotionalUSD),
	}

	bo := reader.Backoff{Base: cfg.Source.Reconnect.BaseDelay, MaxExponent: cfg.Source.Reconnect.MaxExponent}
	src := cfg.Source
	if src.Okx.Enabled {
		r.addFeed(okx.NewVenue(src.Okx), bo, nil)
	}
	if src.Binance.Enabled {
		r.addFeed(binance.NewVenue(src.Binance), bo, nil)
	}
	if src.Huobi.Enabled {
		s := r.addFeed(huobi.NewVenue(src.Huobi), bo, huobi.Topics(normalizeSymbols(src.Huobi.Symbols)))
		r.huobiStream = s
		r.huobiCodes = normalizeSymbols(src.Huobi.Symbols)
		if src.Huobi.ContractsURL != "" {
			r.huobiPairs = huobi.NewPairSource(src.Huobi)
		}
	}
	if src.Bybit.Enabled {
		r.addFeed(bybit.NewVenue(src.Bybit), bo, bybit.Topics(normalizeSymbols(src.Bybit.Symbols)))
	}
	if len(r.feeds) == 0 {
		return nil, fmt.Errorf("no exchange enabled")
	}
	return r, nil
}

func (r *Relay) addFeed(v reader.Venue, bo reader.Backoff, topics []string) *reader.Stream {
	out := liq.NewChannels(v.Exchange, r.cfg.Relay.EventBuffer)
	s := reader.NewStream(v, out, bo)
	s.SetTopics(topics)
	r.feeds = append(r.feeds, feed{stream: s, out: out})
	return s
}

// Queue exposes the delivery queue.
func (r *Relay) Queue() *writer.Queue { return r.queue }

// Exchanges lists the enabled exchanges in start order.
func (r *Relay) Exchanges() []models.Exchange {
	out := make([]models.Exchange, 0, len(r.feeds))
	for _, f := range r.feeds {
		out = append(out, f.stream.Exchange())
	}
	return out
}

// Run blocks until ctx ends, then stops the streams and attempts one final
// drain of the queue.
func (r *Relay) Run(ctx context.Context) error {
	log := r.log.WithComponent("relay")

	names := make([]string, 0, len(r.feeds))
	for _, ex := range r.Exchanges() {
		names = append(names, string(ex))
	}
	log.WithFields(logger.Fields{
		"exchanges":        names,
		"delivery_enabled": r.deliveryEnabled,
		"rate_policy":      r.cfg.Delivery.RatePolicy,
	}).Info("starting relay")
	if !r.deliveryEnabled {
		log.Error("delivery credentials missing, notifications will be dropped")
	}

	r.enqueue(startupMessage(names), "")

	var wg sync.WaitGroup
	for _, f := range r.feeds {
		f := f
		wg.Add(2)
		go func() {
			defer wg.Done()
			if err := f.stream.Run(ctx); err != nil {
				log.WithError(err).WithField("exchange", string(f.stream.Exchange())).Error("stream failed")
			}
		}()
		go func() {
			defer wg.Done()
			r.consume(ctx, f.out)
		}()
	}

	for _, g := range r.cfg.Stats.Groups {
		g := g
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.runStatsGroup(ctx, g)
		}()
	}

	if r.huobiPairs != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.runHuobiRefresh(ctx, r.cfg.Source.Huobi.RefreshInterval, log)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		r.queue.Run(ctx, r.cfg.Delivery.DrainInterval)
	}()

	<-ctx.Done()
	log.Info("stopping relay")
	wg.Wait()
	for _, f := range r.feeds {
		f.out.Close()
	}
	log.WithField("queue_depth", r.queue.Len()).Info("relay stopped")
	return nil
}

func (r *Relay) consume(ctx context.Context, out *liq.Channels) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-out.Notices:
			if !ok {
				return
			}
			r.handleNotice(n)
		}
	}
}

func (r *Relay) handleNotice(n models.StreamNotice) {
	exchange := string(n.Exchange)
	switch n.Kind {
	case models.NoticeEvent:
		r.aggregator.RecordEvent(n.Event)
		metrics.Count("relay", metrics.MetricEventsReceived, logger.Fields{"exchange": exchange})
		if r.belowMinimum(n.Event) {
			metrics.Count("relay", metrics.MetricEventsFiltered, logger.Fields{"exchange": exchange})
			return
		}
		r.enqueue(processor.FormatEvent(n.Event), exchange)
	case models.NoticeConnected:
		r.enqueue(processor.FormatConnected(n.Exchange), exchange)
	case models.NoticeDisconnected:
		r.enqueue(processor.FormatDisconnected(n.Exchange, n.Reason, n.RetryIn), exchange)
	}
}

// belowMinimum reports whether a known notional is under the configured floor.
// Unknown notionals always pass.
func (r *Relay) belowMinimum(evt models.LiquidationEvent) bool {
	if !r.minNotional.IsPositive() {
		return false
	}
	n := evt.NotionalUSD()
	return n.Valid && n.Decimal.LessThan(r.minNotional)
}

func (r *Relay) enqueue(text, exchange string) {
	if !r.deliveryEnabled {
		metrics.EmitDropMetric(r.log, metrics.DropMetricUndeliverable, exchange, "delivery_disabled")
		return
	}
	r.queue.Enqueue(text)
}

func (r *Relay) runStatsGroup(ctx context.Context, g appconfig.StatsGroupConfig) {
	ticker := time.NewTicker(g.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.emitStats(g.Horizons)
		}
	}
}

// emitStats enqueues one message for the group; empty windows are left out
// and nothing is sent when every window is empty.
func (r *Relay) emitStats(horizons []time.Duration) {
	summaries := make([]stats.Summary, 0, len(horizons))
	for _, h := range horizons {
		if s, ok := r.aggregator.Summarize(h); ok {
			summaries = append(summaries, s)
		}
	}
	if len(summaries) == 0 {
		return
	}
	r.enqueue(stats.FormatSummaries(summaries), "")
}

func (r *Relay) runHuobiRefresh(ctx context.Context, interval time.Duration, log *logger.Entry) {
	if interval <= 0 {
		interval = time.Hour
	}
	// The stream starts on the configured symbols; the first fetch replaces them.
	r.refreshHuobi(ctx, log)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.refreshHuobi(ctx, log)
		}
	}
}

// refreshHuobi reopens the Huobi stream when the contract list changed. A
// failed fetch keeps the current subscriptions.
func (r *Relay) refreshHuobi(ctx context.Context, log *logger.Entry) {
	fetchCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	codes, err := r.huobiPairs.Fetch(fetchCtx)
	if err != nil {
		log.WithError(err).Warn("huobi contract refresh failed, keeping current subscriptions")
		return
	}
	if len(codes) == 0 {
		log.Warn("huobi contract refresh returned no contracts, keeping current subscriptions")
		return
	}
	if slices.Equal(codes, r.huobiCodes) {
		return
	}
	log.WithFields(logger.Fields{
		"previous": len(r.huobiCodes),
		"current":  len(codes),
	}).Info("huobi contracts changed, resubscribing")
	r.huobiCodes = codes
	r.huobiStream.Resubscribe(huobi.Topics(codes))
}

// Health reports the live state for the health endpoint.
func (r *Relay) Health() dashboard.Health {
	h := dashboard.Health{
		DeliveryEnabled: r.deliveryEnabled,
		QueueDepth:      r.queue.Len(),
		Connections:     make([]dashboard.ConnectionHealth, 0, len(r.feeds)),
	}
	for _, f := range r.feeds {
		st := f.stream.Status()
		ch := f.out.GetStats()
		h.Connections = append(h.Connections, dashboard.ConnectionHealth{
			Exchange:          string(f.stream.Exchange()),
			Status:            st.Status.String(),
			ReconnectAttempts: st.ReconnectAttempts,
			ConnectedAt:       st.ConnectedAt,
			LastEventAt:       st.LastEventAt,
			Events:            st.Events,
			EventsSent:        ch.EventsSent,
			EventsDropped:     ch.EventsDropped,
		})
	}
	return h
}

func startupMessage(exchanges []string) string {
	return "🚀 liquidation relay started: " + strings.Join(exchanges, ", ")
}

func normalizeSymbols(symbols []string) []string {
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
