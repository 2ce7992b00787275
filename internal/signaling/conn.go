package signaling

import (
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/webrtc-room-signaling/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-room-signaling/internal/ratelimit"
)

const wsWriteWait = 1 * time.Second

// wsConn is the Handle for one browser WebSocket. readPump is the only reader
// and writePump the only writer of conn.
type wsConn struct {
	id      string
	conn    *websocket.Conn
	hub     *Hub
	log     *slog.Logger
	metrics *metrics.Metrics
	limiter *ratelimit.TokenBucket

	idleTimeout  time.Duration
	pingInterval time.Duration

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (c *wsConn) Send(frame []byte) error {
	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}
	select {
	case c.send <- frame:
		return nil
	default:
		return ErrSendQueueFull
	}
}

func (c *wsConn) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// readPump processes frames in arrival order until the transport fails, then
// runs the disconnect path.
func (c *wsConn) readPump() {
	defer func() {
		c.Close()
		if err := c.hub.Unregister(c.id); err != nil {
			c.log.Error("unregister signaling connection", "conn_id", c.id, "err", err)
		}
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(c.idleTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.idleTimeout))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			switch {
			case isTimeout(err):
				c.log.Info("signaling connection idle, closing", "conn_id", c.id)
			case websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
				c.log.Debug("signaling connection read failed", "conn_id", c.id, "err", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(c.idleTimeout))

		// Read before limiting so the socket buffer keeps draining.
		if !c.limiter.Allow(1) {
			c.metrics.IncRelayDropped(metrics.DropReasonRateLimited)
			c.log.Debug("signaling message rate limited", "conn_id", c.id)
			continue
		}
		c.handle(data)
	}
}

func (c *wsConn) handle(data []byte) {
	msg, err := ParseInbound(data)
	if err != nil {
		c.metrics.IncMalformed()
		c.log.Warn("malformed signaling message", "conn_id", c.id, "err", err)
		return
	}

	switch m := msg.(type) {
	case *JoinRoom:
		c.metrics.IncMessage(string(MessageTypeJoinRoom))
		err = c.hub.Join(c.id, m.RoomID, m.VideoEnabled, m.AudioEnabled)
	case *RelayMessage:
		c.metrics.IncMessage(string(m.Type))
		err = c.hub.Relay(c.id, m.TargetID, m.Type, m.Payload)
	case *Toggle:
		c.metrics.IncMessage(string(m.Type))
		err = c.hub.Toggle(c.id, m.Type, m.Value)
	case *Unrecognized:
		c.metrics.IncMessage("unknown")
		c.log.Warn("unknown signaling message type", "conn_id", c.id, "type", m.Type)
	}
	if err != nil {
		c.log.Debug("signaling message not applied", "conn_id", c.id, "type", msg.MessageType(), "err", err)
	}
}

func (c *wsConn) writePump() {
	ticker := time.NewTicker(c.pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.log.Debug("signaling write failed", "conn_id", c.id, "err", err)
				c.Close()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			c.flush()
			return
		}
	}
}

// flush writes whatever is already queued (e.g. error-restart-server) under a
// single deadline, then sends a close frame.
func (c *wsConn) flush() {
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	for {
		select {
		case frame := <-c.send:
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		default:
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
