package reader

import (
	"time"

	"liqrelay/internal/models"
	"liqrelay/internal/processor"
)

// KeepAlive selects how a connection is kept open.
type KeepAlive int

const (
	// KeepAliveServer means the server pings and Control answers.
	KeepAliveServer KeepAlive = iota
	// KeepAlivePingFrame sends websocket protocol pings.
	KeepAlivePingFrame
	// KeepAliveMessage sends PingPayload as an application text message.
	KeepAliveMessage
)

// Venue describes everything that differs between exchanges. Stream does the
// rest.
type Venue struct {
	Exchange     models.Exchange
	URL          string
	KeepAlive    KeepAlive
	PingInterval time.Duration
	PingPayload  []byte
	// Compressed frames are gzip streams sent as binary messages.
	Compressed bool
	// Subscribe returns the frames to send after each open, in order.
	Subscribe func(topics []string) ([][]byte, error)
	// Control consumes keep-alive and acknowledgement frames. A non-nil reply
	// is written back on the same connection.
	Control func(frame []byte) (reply []byte, handled bool)
	Decode  processor.Normalizer
}
