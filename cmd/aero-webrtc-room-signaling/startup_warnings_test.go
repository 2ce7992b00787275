package main

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-room-signaling/internal/config"
)

type recordedLog struct {
	level slog.Level
	msg   string
	attrs map[string]any
}

type recordingHandler struct {
	mu      *sync.Mutex
	records *[]recordedLog
	attrs   []slog.Attr
}

func newRecordingLogger() (*slog.Logger, func() []recordedLog) {
	mu := &sync.Mutex{}
	records := &[]recordedLog{}
	logger := slog.New(&recordingHandler{mu: mu, records: records})
	return logger, func() []recordedLog {
		mu.Lock()
		defer mu.Unlock()
		return append([]recordedLog(nil), *records...)
	}
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	rec := recordedLog{level: r.Level, msg: r.Message, attrs: map[string]any{}}
	for _, a := range h.attrs {
		rec.attrs[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		rec.attrs[a.Key] = a.Value.Any()
		return true
	})

	h.mu.Lock()
	*h.records = append(*h.records, rec)
	h.mu.Unlock()
	return nil
}

func (h *recordingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &recordingHandler{mu: h.mu, records: h.records, attrs: append(append([]slog.Attr(nil), h.attrs...), attrs...)}
}

func (h *recordingHandler) WithGroup(string) slog.Handler { return h }

func warningCodes(records []recordedLog) map[string]bool {
	codes := map[string]bool{}
	for _, r := range records {
		if r.level != slog.LevelWarn {
			continue
		}
		if code, ok := r.attrs["warning_code"].(string); ok {
			codes[code] = true
		}
	}
	return codes
}

func quietConfig() config.Config {
	return config.Config{
		Mode:                     config.ModeProd,
		AllowedOrigins:           []string{"https://app.example.com"},
		MaxConnections:           1000,
		MaxSignalingMessageBytes: 64 * 1024,
		ICEServers:               []webrtc.ICEServer{{URLs: []string{"stun:stun.example.com:3478"}}},
	}
}

func TestStartupSecurityWarnings_QuietConfig(t *testing.T) {
	logger, records := newRecordingLogger()
	logStartupSecurityWarnings(logger, quietConfig())
	if codes := warningCodes(records()); len(codes) != 0 {
		t.Fatalf("unexpected warnings: %v", codes)
	}
}

func TestStartupSecurityWarnings(t *testing.T) {
	for _, tc := range []struct {
		code   string
		mutate func(*config.Config)
	}{
		{"allowed_origins_wildcard", func(c *config.Config) { c.AllowedOrigins = []string{"*"} }},
		{"max_connections_unlimited_in_prod", func(c *config.Config) { c.MaxConnections = 0 }},
		{"signaling_message_bytes_large", func(c *config.Config) { c.MaxSignalingMessageBytes = 4 << 20 }},
		{"turn_rest_ttl_large", func(c *config.Config) {
			c.TURNREST = config.TurnRESTConfig{SharedSecret: "s", TTLSeconds: 7 * 24 * 3600, UsernamePrefix: "aero"}
		}},
		{"ice_servers_empty", func(c *config.Config) { c.ICEServers = nil }},
	} {
		t.Run(tc.code, func(t *testing.T) {
			logger, records := newRecordingLogger()
			cfg := quietConfig()
			tc.mutate(&cfg)

			logStartupSecurityWarnings(logger, cfg)

			codes := warningCodes(records())
			if !codes[tc.code] || len(codes) != 1 {
				t.Fatalf("warnings=%v, want only %s", codes, tc.code)
			}
		})
	}
}

func TestStartupSecurityWarnings_UnlimitedConnectionsOKInDev(t *testing.T) {
	logger, records := newRecordingLogger()
	cfg := quietConfig()
	cfg.Mode = config.ModeDev
	cfg.MaxConnections = 0

	logStartupSecurityWarnings(logger, cfg)

	if codes := warningCodes(records()); codes["max_connections_unlimited_in_prod"] {
		t.Fatalf("unexpected prod warning in dev: %v", codes)
	}
}
