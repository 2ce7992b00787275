package signaling

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/webrtc-room-signaling/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-room-signaling/internal/ratelimit"
)

const (
	defaultIdleTimeout       = 60 * time.Second
	defaultPingInterval      = 20 * time.Second
	defaultMaxMessageBytes   = 64 * 1024
	defaultMessagesPerSecond = 50
	defaultSendQueueLength   = 256
)

// Config wires the WebSocket transport to a Hub. Zero values fall back to
// the package defaults.
type Config struct {
	Hub     *Hub
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	SignalingWSIdleTimeout  time.Duration
	SignalingWSPingInterval time.Duration

	MaxSignalingMessageBytes      int64
	MaxSignalingMessagesPerSecond int
	SendQueueLength               int

	// MaxConnections rejects upgrades with 503 once the hub holds this many
	// connections. <= 0 means unlimited.
	MaxConnections int

	// NewID overrides uuid.NewString for connection ids.
	NewID func() string
}

// Server upgrades requests to signaling WebSockets and attaches each one to
// the Hub.
type Server struct {
	cfg      Config
	hub      *Hub
	log      *slog.Logger
	upgrader websocket.Upgrader

	wg sync.WaitGroup
}

func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Hub == nil {
		cfg.Hub = NewHub(HubConfig{Logger: cfg.Logger, Metrics: cfg.Metrics, MaxConnections: cfg.MaxConnections})
	}
	if cfg.SignalingWSIdleTimeout <= 0 {
		cfg.SignalingWSIdleTimeout = defaultIdleTimeout
	}
	if cfg.SignalingWSPingInterval <= 0 {
		cfg.SignalingWSPingInterval = defaultPingInterval
	}
	if cfg.SignalingWSPingInterval >= cfg.SignalingWSIdleTimeout {
		cfg.SignalingWSPingInterval = cfg.SignalingWSIdleTimeout / 3
	}
	if cfg.MaxSignalingMessageBytes <= 0 {
		cfg.MaxSignalingMessageBytes = defaultMaxMessageBytes
	}
	if cfg.MaxSignalingMessagesPerSecond <= 0 {
		cfg.MaxSignalingMessagesPerSecond = defaultMessagesPerSecond
	}
	if cfg.SendQueueLength <= 0 {
		cfg.SendQueueLength = defaultSendQueueLength
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}

	return &Server{
		cfg: cfg,
		hub: cfg.Hub,
		log: cfg.Logger,
		upgrader: websocket.Upgrader{
			// Origin checks are enforced by the outer httpserver origin middleware.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (s *Server) Hub() *Hub { return s.hub }

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.cfg.MaxConnections > 0 && s.hub.Stats().Connections >= s.cfg.MaxConnections {
		s.cfg.Metrics.IncRejectedUpgrade("max_connections")
		s.log.Warn("rejecting signaling connection: too many connections", "max_connections", s.cfg.MaxConnections)
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		s.cfg.Metrics.IncRejectedUpgrade("bad_handshake")
		return
	}
	conn.SetReadLimit(s.cfg.MaxSignalingMessageBytes)

	q := r.URL.Query()
	p := Participant{
		ID:           s.cfg.NewID(),
		Name:         q.Get("name"),
		AvatarURL:    q.Get("avatarUrl"),
		VideoEnabled: queryBool(q.Get("isVideoEnabled"), true),
		AudioEnabled: queryBool(q.Get("isAudioEnabled"), true),
	}
	log := s.log.With("conn_id", p.ID)
	if q.Has("clientId") {
		log.Debug("ignoring client-supplied clientId", "client_id", q.Get("clientId"))
	}

	c := &wsConn{
		id:           p.ID,
		conn:         conn,
		hub:          s.hub,
		log:          s.log,
		metrics:      s.cfg.Metrics,
		limiter:      ratelimit.NewPerSecond(s.cfg.MaxSignalingMessagesPerSecond),
		idleTimeout:  s.cfg.SignalingWSIdleTimeout,
		pingInterval: s.cfg.SignalingWSPingInterval,
		send:         make(chan []byte, s.cfg.SendQueueLength),
		done:         make(chan struct{}),
	}

	if err := s.hub.Register(p, c); err != nil {
		code, reason := websocket.CloseInternalServerErr, "internal error"
		switch {
		case errors.Is(err, ErrHubClosed):
			code, reason = websocket.CloseServiceRestart, "server restarting"
		case errors.Is(err, ErrHubFull):
			code, reason = websocket.CloseTryAgainLater, "too many connections"
			s.cfg.Metrics.IncRejectedUpgrade("max_connections")
		}
		log.Warn("signaling connection rejected", "err", err)
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
		_ = conn.Close()
		return
	}

	log.Info("signaling connection opened",
		"remote_addr", r.RemoteAddr,
		"has_token", q.Get("token") != "",
	)

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		c.writePump()
	}()
	go func() {
		defer s.wg.Done()
		c.readPump()
		log.Info("signaling connection closed")
	}()
}

// Wait blocks until every connection's pumps have exited or ctx is done.
func (s *Server) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// queryBool parses a flag like isVideoEnabled; anything unparsable keeps def.
func queryBool(raw string, def bool) bool {
	if raw == "" {
		return def
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return b
}
