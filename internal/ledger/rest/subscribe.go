package rest

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/arhansuba/zr-don-pay/internal/ledger"
	"github.com/arhansuba/zr-don-pay/pkg/errors"
)

const (
	pongWait   = 60 * time.Second
	writeWait  = 10 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

type subscription struct {
	conn   *websocket.Conn
	cancel context.CancelFunc
	done   chan struct{}

	closeOnce sync.Once
	writeMu   sync.Mutex
	mu        sync.Mutex
	err       error
}

// Subscribe opens the node's event stream for channel. Events are handed to
// handler on a single goroutine, in order. The subscription lives until
// Close is called, ctx is done or the stream breaks.
func (c *Client) Subscribe(ctx context.Context, channel string, handler ledger.Handler) (ledger.Subscription, error) {
	u := *c.baseURL
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path += "/events/stream"
	u.RawQuery = url.Values{"channel": []string{channel}}.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open event stream")
	}

	subCtx, cancel := context.WithCancel(ctx)
	s := &subscription{conn: conn, cancel: cancel, done: make(chan struct{})}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go s.readLoop(subCtx, handler, c)
	go s.pingLoop(subCtx)
	go func() {
		<-subCtx.Done()
		s.shutdown(ctx.Err())
	}()

	return s, nil
}

func (s *subscription) readLoop(ctx context.Context, handler ledger.Handler, c *Client) {
	for {
		var view ledger.EventView
		if err := s.conn.ReadJSON(&view); err != nil {
			s.shutdown(err)
			return
		}
		if err := handler.Handle(ctx, view.Event()); err != nil {
			c.logger.Warn("Event handler failed", map[string]interface{}{
				"channel": view.Type,
				"error":   err.Error(),
			})
		}
	}
}

func (s *subscription) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			s.writeMu.Unlock()
			if err != nil {
				s.shutdown(err)
				return
			}
		}
	}
}

// shutdown tears the subscription down once; the first cause wins.
func (s *subscription) shutdown(cause error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.err = cause
		s.mu.Unlock()

		s.cancel()
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		s.writeMu.Unlock()
		_ = s.conn.Close()
		close(s.done)
	})
}

func (s *subscription) Close() error {
	s.shutdown(nil)
	return nil
}

func (s *subscription) Done() <-chan struct{} {
	return s.done
}

func (s *subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
