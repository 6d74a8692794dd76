package reader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/gzip"

	liq "liqrelay/internal/channel/liq"
	metrics "liqrelay/internal/metrics"
	"liqrelay/internal/models"
	"liqrelay/logger"
)

// ErrStreamRunning is returned by Run when the stream is already running.
var ErrStreamRunning = errors.New("stream already running")

var errReopen = errors.New("reopening with new subscriptions")

const (
	defaultReadTimeout  = 90 * time.Second
	defaultWriteTimeout = 5 * time.Second
	maxInflatedFrame    = 4 << 20
)

// ConnectionState is owned by one Stream; Status returns a copy.
type ConnectionState struct {
	Status            models.ConnectionStatus
	ReconnectAttempts int
	LastPingSentAt    time.Time
	ConnectedAt       time.Time
	LastEventAt       time.Time
	Events            int64
}

// Stream keeps one venue connection alive and reports connects, events and
// disconnects on its Channels. Frames of one connection are handled strictly
// in order on the goroutine running Run.
type Stream struct {
	venue   Venue
	out     *liq.Channels
	backoff Backoff
	dialer  *websocket.Dialer
	log     *logger.Log

	mu      sync.Mutex
	state   ConnectionState
	topics  []string
	running bool
	reopen  chan struct{}

	readTimeout time.Duration
	wait        func(ctx context.Context, d time.Duration) bool
	now         func() time.Time
}

func NewStream(venue Venue, out *liq.Channels, bo Backoff) *Stream {
	return &Stream{
		venue:       venue,
		out:         out,
		backoff:     bo,
		dialer:      websocket.DefaultDialer,
		log:         logger.GetLogger(),
		reopen:      make(chan struct{}, 1),
		readTimeout: defaultReadTimeout,
		wait:        waitForReconnect,
		now:         time.Now,
	}
}

func (s *Stream) Exchange() models.Exchange { return s.venue.Exchange }

// Status returns a snapshot of the connection state.
func (s *Stream) Status() ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetTopics replaces the subscription set used by the next open.
func (s *Stream) SetTopics(topics []string) {
	s.mu.Lock()
	s.topics = append([]string(nil), topics...)
	s.mu.Unlock()
}

// Resubscribe replaces the subscription set and, when connected, closes the
// connection so it reopens with the new set without backoff.
func (s *Stream) Resubscribe(topics []string) {
	s.SetTopics(topics)
	select {
	case s.reopen <- struct{}{}:
	default:
	}
}

// Run blocks until ctx ends.
func (s *Stream) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrStreamRunning
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	log := s.log.WithComponent("stream").WithFields(logger.Fields{
		"exchange": string(s.venue.Exchange),
		"url":      s.venue.URL,
	})
	log.Info("starting stream")

	for ctx.Err() == nil {
		err := s.connectOnce(ctx, log)
		s.setStatus(models.StatusDisconnected)
		if ctx.Err() != nil {
			break
		}
		if errors.Is(err, errReopen) {
			log.Info("reopening stream with refreshed subscriptions")
			continue
		}

		s.mu.Lock()
		delay := s.backoff.Delay(s.state.ReconnectAttempts)
		s.state.ReconnectAttempts++
		attempts := s.state.ReconnectAttempts
		wasConnected := !s.state.ConnectedAt.IsZero()
		s.state.ConnectedAt = time.Time{}
		s.mu.Unlock()

		log.WithError(err).WithFields(logger.Fields{
			"attempts": attempts,
			"retry_in": delay.String(),
		}).Warn("stream disconnected, reconnecting")

		if wasConnected {
			metrics.Count("stream", metrics.MetricStreamDisconnects, logger.Fields{"exchange": string(s.venue.Exchange)})
			s.out.SendState(ctx, models.StreamNotice{Kind: models.NoticeDisconnected, Reason: err, RetryIn: delay})
		}

		if s.wait(ctx, delay) {
			break
		}
	}

	log.Info("stream stopped")
	return nil
}

// connectOnce dials, subscribes and reads until the connection ends. The
// returned error is the reason it ended.
func (s *Stream) connectOnce(ctx context.Context, log *logger.Entry) error {
	s.setStatus(models.StatusConnecting)
	// a refresh requested while disconnected is served by this open
	select {
	case <-s.reopen:
	default:
	}

	conn, _, err := s.dialer.DialContext(ctx, s.venue.URL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	s.mu.Lock()
	s.state.Status = models.StatusConnected
	s.state.ReconnectAttempts = 0
	s.state.ConnectedAt = s.now()
	topics := append([]string(nil), s.topics...)
	s.mu.Unlock()

	log.WithField("topics", len(topics)).Info("stream connected")
	metrics.Count("stream", metrics.MetricStreamConnects, logger.Fields{"exchange": string(s.venue.Exchange)})
	s.out.SendState(ctx, models.StreamNotice{Kind: models.NoticeConnected})

	var writeMu sync.Mutex
	write := func(msgType int, data []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(defaultWriteTimeout))
		return conn.WriteMessage(msgType, data)
	}

	if s.venue.Subscribe != nil {
		frames, err := s.venue.Subscribe(topics)
		if err != nil {
			return fmt.Errorf("build subscribe: %w", err)
		}
		for _, f := range frames {
			if err := write(websocket.TextMessage, f); err != nil {
				return fmt.Errorf("subscribe: %w", err)
			}
		}
	}

	_ = conn.SetReadDeadline(time.Now().Add(s.readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.readTimeout))
	})

	sessionCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	// the keep-alive and watcher must be gone before a reconnect is scheduled
	defer wg.Wait()
	defer cancel()

	if s.venue.KeepAlive != KeepAliveServer && s.venue.PingInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.keepAlive(sessionCtx, conn, write, log)
		}()
	}

	var reopened bool
	var reopenMu sync.Mutex
	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case <-sessionCtx.Done():
		case <-s.reopen:
			reopenMu.Lock()
			reopened = true
			reopenMu.Unlock()
		}
		_ = conn.Close()
	}()

	err = s.readLoop(ctx, conn, write, log)
	reopenMu.Lock()
	defer reopenMu.Unlock()
	if reopened {
		return errReopen
	}
	return err
}

func (s *Stream) keepAlive(ctx context.Context, conn *websocket.Conn, write func(int, []byte) error, log *logger.Entry) {
	ticker := time.NewTicker(s.venue.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			s.state.LastPingSentAt = s.now()
			s.mu.Unlock()

			var err error
			if s.venue.KeepAlive == KeepAlivePingFrame {
				err = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(defaultWriteTimeout))
			} else {
				err = write(websocket.TextMessage, s.venue.PingPayload)
			}
			if err != nil {
				log.WithError(err).Warn("failed to send keep-alive ping")
				_ = conn.Close()
				return
			}
		}
	}
}

func (s *Stream) readLoop(ctx context.Context, conn *websocket.Conn, write func(int, []byte) error, log *logger.Entry) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		msgType, frame, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(s.readTimeout))

		if s.venue.Compressed && msgType == websocket.BinaryMessage {
			frame, err = inflate(frame)
			if err != nil {
				log.WithError(err).Debug("dropping undecompressable frame")
				s.countMalformed()
				continue
			}
		}

		if s.venue.Control != nil {
			if reply, handled := s.venue.Control(frame); handled {
				if reply != nil {
					if err := write(websocket.TextMessage, reply); err != nil {
						return fmt.Errorf("keep-alive reply: %w", err)
					}
				}
				continue
			}
		}

		s.handleFrame(ctx, frame, log)
	}
}

func (s *Stream) handleFrame(ctx context.Context, frame []byte, log *logger.Entry) {
	if s.venue.Decode == nil {
		return
	}
	received := s.now()
	events, err := s.venue.Decode(frame, received)
	if err != nil {
		log.WithError(err).WithField("payload_bytes", len(frame)).Debug("dropping malformed frame")
		s.countMalformed()
		return
	}
	if len(events) == 0 {
		return
	}

	s.mu.Lock()
	s.state.LastEventAt = received
	s.state.Events += int64(len(events))
	s.mu.Unlock()

	for _, evt := range events {
		if !s.out.SendEvent(ctx, evt) && ctx.Err() == nil {
			metrics.EmitDropMetric(s.log, metrics.DropMetricStreamNotice, string(s.venue.Exchange), "channel_full")
			log.Warn("notice channel full, dropping liquidation event")
		}
	}
}

func (s *Stream) countMalformed() {
	metrics.Count("stream", metrics.MetricFramesMalformed, logger.Fields{"exchange": string(s.venue.Exchange)})
}

func (s *Stream) setStatus(status models.ConnectionStatus) {
	s.mu.Lock()
	s.state.Status = status
	s.mu.Unlock()
}

func inflate(frame []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(frame))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(io.LimitReader(zr, maxInflatedFrame))
}
