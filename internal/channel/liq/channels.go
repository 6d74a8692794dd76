package liq

import (
	"context"
	"sync"

	"liqrelay/internal/models"
	"liqrelay/logger"
)

type ChannelStats struct {
	EventsSent    int64
	EventsDropped int64
	StateSent     int64
}

// Channels carries stream notices from one venue connection to the relay.
// Events are dropped when the buffer is full; state transitions wait for room.
type Channels struct {
	Notices chan models.StreamNotice

	exchange   models.Exchange
	stats      ChannelStats
	statsMutex sync.RWMutex
	log        *logger.Log
}

func NewChannels(exchange models.Exchange, bufferSize int) *Channels {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	log := logger.GetLogger()
	c := &Channels{
		Notices:  make(chan models.StreamNotice, bufferSize),
		exchange: exchange,
		log:      log,
	}

	log.WithComponent("liq_channels").WithFields(logger.Fields{
		"exchange":    string(exchange),
		"buffer_size": bufferSize,
	}).Debug("liquidation channels initialized")

	return c
}

func (c *Channels) Close() {
	close(c.Notices)
	c.log.WithComponent("liq_channels").WithFields(logger.Fields{
		"exchange": string(c.exchange),
	}).Debug("liquidation channels closed")
}

// SendEvent forwards an event without blocking and reports whether it was
// accepted.
func (c *Channels) SendEvent(ctx context.Context, event models.LiquidationEvent) bool {
	n := models.StreamNotice{Kind: models.NoticeEvent, Exchange: c.exchange, Event: event}
	select {
	case <-ctx.Done():
		return false
	default:
	}
	select {
	case c.Notices <- n:
		c.statsMutex.Lock()
		c.stats.EventsSent++
		c.statsMutex.Unlock()
		return true
	default:
		c.statsMutex.Lock()
		c.stats.EventsDropped++
		c.statsMutex.Unlock()
		return false
	}
}

// SendState forwards a connected or disconnected notice, blocking until the
// consumer takes it or ctx ends.
func (c *Channels) SendState(ctx context.Context, n models.StreamNotice) bool {
	n.Exchange = c.exchange
	select {
	case c.Notices <- n:
		c.statsMutex.Lock()
		c.stats.StateSent++
		c.statsMutex.Unlock()
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Channels) GetStats() ChannelStats {
	c.statsMutex.RLock()
	defer c.statsMutex.RUnlock()
	return c.stats
}
