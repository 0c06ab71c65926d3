package connector

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"pair-trader/internal/infrastructure"
	"pair-trader/internal/model"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// TickStream subscribes to the bridge's websocket tick feed and hands every
// tick to sink. It keeps the shared tick cache warm between polls.
type TickStream struct {
	url     string
	symbols []string
	logger  *zap.Logger
}

// NewTickStream derives ws://host/ws/ticks from the bridge base URL.
func NewTickStream(bridgeURL string, symbols []string, logger *zap.Logger) (*TickStream, error) {
	u, err := url.Parse(bridgeURL)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/ticks"
	q := u.Query()
	q.Set("symbols", strings.Join(symbols, ","))
	u.RawQuery = q.Encode()
	return &TickStream{url: u.String(), symbols: symbols, logger: logger}, nil
}

func (s *TickStream) Run(ctx context.Context, sink func(model.Tick)) {
	backoff := time.Second

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		s.logger.Info("connecting to tick stream", zap.String("url", s.url))
		dialer := websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		}
		conn, _, err := dialer.DialContext(ctx, s.url, nil)
		if err != nil {
			s.logger.Error("failed to connect to tick stream", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = increaseBackoff(backoff)
			continue
		}

		backoff = time.Second
		s.logger.Info("connected to tick stream", zap.Strings("symbols", s.symbols))
		infrastructure.WSConnections.Inc()

		if err := s.handleConnection(ctx, conn, sink); err != nil {
			s.logger.Error("tick stream closed with error", zap.Error(err))
		}
		infrastructure.WSConnections.Dec()
		conn.Close()
	}
}

func (s *TickStream) handleConnection(ctx context.Context, conn *websocket.Conn, sink func(model.Tick)) error {
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	// unblock ReadMessage on shutdown
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))

		var raw bridgeTick
		if err := json.Unmarshal(message, &raw); err != nil {
			s.logger.Error("failed to unmarshal tick event", zap.Error(err))
			continue
		}
		if raw.Symbol == "" {
			continue
		}
		sink(convertTick(raw.Symbol, raw))
	}
}

func increaseBackoff(current time.Duration) time.Duration {
	next := current * 2
	if next > time.Minute {
		return time.Minute
	}
	return next
}
