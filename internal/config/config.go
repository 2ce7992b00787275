package config

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-room-signaling/internal/origin"
)

const (
	envVarListenAddr      = "AERO_WEBRTC_SIGNALING_LISTEN_ADDR"
	envVarPort            = "PORT"
	envVarAllowedOrigins  = "ALLOWED_ORIGINS"
	envVarLogFormat       = "AERO_WEBRTC_SIGNALING_LOG_FORMAT"
	envVarLogLevel        = "AERO_WEBRTC_SIGNALING_LOG_LEVEL"
	envVarShutdownTimeout = "AERO_WEBRTC_SIGNALING_SHUTDOWN_TIMEOUT"
	envVarMode            = "AERO_WEBRTC_SIGNALING_MODE"

	// Signaling WebSocket hardening.
	envVarSignalingWSIdleTimeout        = "SIGNALING_WS_IDLE_TIMEOUT"
	envVarSignalingWSPingInterval       = "SIGNALING_WS_PING_INTERVAL"
	envVarMaxSignalingMessageBytes      = "MAX_SIGNALING_MESSAGE_BYTES"
	envVarMaxSignalingMessagesPerSecond = "MAX_SIGNALING_MESSAGES_PER_SECOND"
	envVarSendQueueLength               = "SIGNALING_SEND_QUEUE_LENGTH"
	envVarMaxConnections                = "MAX_CONNECTIONS"
	envVarRestartCause                  = "SIGNALING_RESTART_CAUSE"

	// coturn TURN REST (ephemeral) credentials handed out by GET /webrtc/ice.
	envVarTURNRESTSharedSecret   = "TURN_REST_SHARED_SECRET"
	envVarTURNRESTTTLSeconds     = "TURN_REST_TTL_SECONDS"
	envVarTURNRESTUsernamePrefix = "TURN_REST_USERNAME_PREFIX"
	envVarTURNRESTRealm          = "TURN_REST_REALM"

	DefaultListenAddr                  = ":3001"
	DefaultShutdown                    = 15 * time.Second
	DefaultMode                   Mode = ModeDev
	DefaultAllowedOrigins              = "*"
	DefaultRestartCause                = "server restarting"
	DefaultSignalingWSIdleTimeout      = 60 * time.Second
	DefaultSignalingWSPingInterval     = 20 * time.Second
	DefaultMaxSignalingMessageBytes    = int64(64 * 1024)
	DefaultMaxSignalingMessagesPerSec  = 50
	DefaultSendQueueLength             = 256
	DefaultTURNRESTTTLSeconds    int64 = 3600
	DefaultTURNRESTUsernamePrefix      = "aero"
)

type TurnRESTConfig struct {
	SharedSecret   string
	TTLSeconds     int64
	UsernamePrefix string
	Realm          string
}

func (c TurnRESTConfig) Enabled() bool {
	return strings.TrimSpace(c.SharedSecret) != ""
}

type Config struct {
	ListenAddr      string
	AllowedOrigins  []string
	LogFormat       LogFormat
	LogLevel        slog.Level
	ShutdownTimeout time.Duration
	Mode            Mode

	// SignalingWSIdleTimeout closes a connection that has sent nothing (not even
	// a pong) for this long. It is the only dead-peer detection the relay has.
	SignalingWSIdleTimeout  time.Duration
	SignalingWSPingInterval time.Duration

	MaxSignalingMessageBytes      int64
	MaxSignalingMessagesPerSecond int

	// SendQueueLength is the number of outbound frames buffered per connection.
	// A connection whose queue is full is treated as not writable and closed.
	SendQueueLength int

	// MaxConnections caps concurrently registered connections. <= 0 means
	// unlimited.
	MaxConnections int

	// RestartCause is sent as error-restart-server.cause when the process shuts
	// down with live connections.
	RestartCause string

	ICEServers []webrtc.ICEServer
	TURNREST   TurnRESTConfig
}

// Load reads the environment, then lets command-line flags override it.
// flag.ErrHelp is returned unchanged for -h.
func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	env := envReader{lookup: lookup}

	listenAddr := DefaultListenAddr
	if port := env.str(envVarPort, ""); port != "" {
		p, err := strconv.ParseUint(port, 10, 16)
		if err != nil || p == 0 {
			return Config{}, fmt.Errorf("invalid %s %q (expected 1-65535)", envVarPort, port)
		}
		listenAddr = ":" + strconv.FormatUint(p, 10)
	}

	var (
		modeStr      = env.str(envVarMode, string(DefaultMode))
		logFormatStr = env.str(envVarLogFormat, "")
		logLevelStr  = env.str(envVarLogLevel, "")

		allowedOriginsStr = env.str(envVarAllowedOrigins, DefaultAllowedOrigins)
		restartCause      = env.str(envVarRestartCause, DefaultRestartCause)

		shutdownTimeout = env.duration(envVarShutdownTimeout, DefaultShutdown)
		idleTimeout     = env.duration(envVarSignalingWSIdleTimeout, DefaultSignalingWSIdleTimeout)
		pingInterval    = env.duration(envVarSignalingWSPingInterval, DefaultSignalingWSPingInterval)

		maxMessageBytes      = env.int64(envVarMaxSignalingMessageBytes, DefaultMaxSignalingMessageBytes)
		maxMessagesPerSecond = env.int(envVarMaxSignalingMessagesPerSecond, DefaultMaxSignalingMessagesPerSec)
		sendQueueLength      = env.int(envVarSendQueueLength, DefaultSendQueueLength)
		maxConnections       = env.int(envVarMaxConnections, 0)

		ice = iceValues{
			json:       env.str(envICEServersJSON, ""),
			stun:       env.str(envStunURLs, ""),
			turn:       env.str(envTurnURLs, ""),
			username:   env.str(envTurnUsername, ""),
			credential: env.str(envTurnCredential, ""),
		}

		turnREST = TurnRESTConfig{
			SharedSecret:   env.str(envVarTURNRESTSharedSecret, ""),
			TTLSeconds:     env.int64(envVarTURNRESTTTLSeconds, DefaultTURNRESTTTLSeconds),
			UsernamePrefix: env.str(envVarTURNRESTUsernamePrefix, DefaultTURNRESTUsernamePrefix),
			Realm:          env.str(envVarTURNRESTRealm, ""),
		}
	)
	listenAddr = env.str(envVarListenAddr, listenAddr)
	if err := env.err(); err != nil {
		return Config{}, err
	}

	fs := flag.NewFlagSet("aero-webrtc-room-signaling", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	fs.StringVar(&listenAddr, "listen-addr", listenAddr, "HTTP/WebSocket listen address (host:port; env "+envVarListenAddr+" or "+envVarPort+")")
	fs.StringVar(&allowedOriginsStr, "allowed-origins", allowedOriginsStr, "Comma-separated list of allowed browser origins, or * (env "+envVarAllowedOrigins+")")
	fs.StringVar(&modeStr, "mode", modeStr, "Run mode: dev or prod (env "+envVarMode+")")
	fs.StringVar(&logFormatStr, "log-format", logFormatStr, "Log format: text or json (default depends on --mode)")
	fs.StringVar(&logLevelStr, "log-level", logLevelStr, "Log level: debug, info, warn, error (default depends on --mode)")
	fs.DurationVar(&shutdownTimeout, "shutdown-timeout", shutdownTimeout, "Graceful shutdown timeout (e.g. 15s)")
	fs.DurationVar(&idleTimeout, "signaling-ws-idle-timeout", idleTimeout, "Close signaling connections that send nothing for this long (env "+envVarSignalingWSIdleTimeout+")")
	fs.DurationVar(&pingInterval, "signaling-ws-ping-interval", pingInterval, "Ping interval for signaling connections (must be < --signaling-ws-idle-timeout; env "+envVarSignalingWSPingInterval+")")
	fs.Int64Var(&maxMessageBytes, "max-signaling-message-bytes", maxMessageBytes, "Max inbound signaling message size in bytes (env "+envVarMaxSignalingMessageBytes+")")
	fs.IntVar(&maxMessagesPerSecond, "max-signaling-messages-per-second", maxMessagesPerSecond, "Max inbound signaling messages per second per connection (env "+envVarMaxSignalingMessagesPerSecond+")")
	fs.IntVar(&sendQueueLength, "send-queue-length", sendQueueLength, "Outbound frames buffered per connection (env "+envVarSendQueueLength+")")
	fs.IntVar(&maxConnections, "max-connections", maxConnections, "Max concurrent signaling connections, 0 = unlimited (env "+envVarMaxConnections+")")
	fs.StringVar(&restartCause, "restart-cause", restartCause, "Cause sent to clients in error-restart-server on shutdown (env "+envVarRestartCause+")")
	fs.StringVar(&ice.json, "ice-servers-json", ice.json, "ICE server JSON config ("+envICEServersJSON+")")
	fs.StringVar(&ice.stun, "stun-urls", ice.stun, "comma-separated STUN URLs ("+envStunURLs+")")
	fs.StringVar(&ice.turn, "turn-urls", ice.turn, "comma-separated TURN URLs ("+envTurnURLs+")")
	fs.StringVar(&ice.username, "turn-username", ice.username, "TURN username ("+envTurnUsername+")")
	fs.StringVar(&ice.credential, "turn-credential", ice.credential, "TURN credential ("+envTurnCredential+")")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	mode, err := parseMode(modeStr)
	if err != nil {
		return Config{}, err
	}
	logFormat, level, err := resolveLogging(mode, logFormatStr, logLevelStr)
	if err != nil {
		return Config{}, err
	}

	allowedOrigins, err := parseAllowedOrigins(allowedOriginsStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid %s/--allowed-origins: %w", envVarAllowedOrigins, err)
	}

	var problems []error
	check := func(ok bool, format string, a ...any) {
		if !ok {
			problems = append(problems, fmt.Errorf(format, a...))
		}
	}
	check(strings.TrimSpace(listenAddr) != "", "listen address must not be empty")
	check(shutdownTimeout > 0, "shutdown timeout must be > 0")
	check(idleTimeout > 0, "%s/--signaling-ws-idle-timeout must be > 0", envVarSignalingWSIdleTimeout)
	check(pingInterval > 0, "%s/--signaling-ws-ping-interval must be > 0", envVarSignalingWSPingInterval)
	check(pingInterval < idleTimeout, "%s/--signaling-ws-ping-interval must be < %s/--signaling-ws-idle-timeout", envVarSignalingWSPingInterval, envVarSignalingWSIdleTimeout)
	check(maxMessageBytes > 0, "%s/--max-signaling-message-bytes must be > 0", envVarMaxSignalingMessageBytes)
	check(maxMessagesPerSecond > 0, "%s/--max-signaling-messages-per-second must be > 0", envVarMaxSignalingMessagesPerSecond)
	check(sendQueueLength > 0, "%s/--send-queue-length must be > 0", envVarSendQueueLength)
	check(maxConnections >= 0, "%s/--max-connections must be >= 0", envVarMaxConnections)
	if turnREST.Enabled() {
		check(turnREST.TTLSeconds > 0, "%s must be > 0 when %s is set", envVarTURNRESTTTLSeconds, envVarTURNRESTSharedSecret)
		check(strings.TrimSpace(turnREST.UsernamePrefix) != "", "%s must be non-empty when %s is set", envVarTURNRESTUsernamePrefix, envVarTURNRESTSharedSecret)
		check(!strings.Contains(turnREST.UsernamePrefix, ":"), "%s must not contain ':'", envVarTURNRESTUsernamePrefix)
	}
	if err := errors.Join(problems...); err != nil {
		return Config{}, err
	}

	iceServers, err := parseICEServersFromValues(ice.json, ice.stun, ice.turn, ice.username, ice.credential, turnREST.Enabled())
	if err != nil {
		return Config{}, err
	}

	return Config{
		ListenAddr:                    listenAddr,
		AllowedOrigins:                allowedOrigins,
		LogFormat:                     logFormat,
		LogLevel:                      level,
		ShutdownTimeout:               shutdownTimeout,
		Mode:                          mode,
		SignalingWSIdleTimeout:        idleTimeout,
		SignalingWSPingInterval:       pingInterval,
		MaxSignalingMessageBytes:      maxMessageBytes,
		MaxSignalingMessagesPerSecond: maxMessagesPerSecond,
		SendQueueLength:               sendQueueLength,
		MaxConnections:                maxConnections,
		RestartCause:                  strings.TrimSpace(restartCause),
		ICEServers:                    iceServers,
		TURNREST:                      turnREST,
	}, nil
}

type iceValues struct {
	json, stun, turn, username, credential string
}

// envReader reads typed values from the environment. Parse failures are
// collected and reported together by err.
type envReader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *envReader) str(key, fallback string) string {
	if v, ok := e.lookup(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func (e *envReader) int(key string, fallback int) int {
	raw := e.str(key, "")
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("invalid %s %q: %w", key, raw, err))
		return fallback
	}
	return n
}

func (e *envReader) int64(key string, fallback int64) int64 {
	raw := e.str(key, "")
	if raw == "" {
		return fallback
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("invalid %s %q: %w", key, raw, err))
		return fallback
	}
	return n
}

func (e *envReader) duration(key string, fallback time.Duration) time.Duration {
	raw := e.str(key, "")
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("invalid %s %q: %w", key, raw, err))
		return fallback
	}
	return d
}

func (e *envReader) err() error { return errors.Join(e.errs...) }

// parseAllowedOrigins accepts "*" or a comma-separated list of full origins.
// An empty value restricts browsers to the relay's own host.
func parseAllowedOrigins(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	var out []string
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		switch entry {
		case "":
			continue
		case "*":
			out = append(out, entry)
			continue
		}

		normalized, _, ok := origin.NormalizeHeader(entry)
		if !ok {
			return nil, fmt.Errorf("invalid origin %q (expected full origin like https://example.com)", entry)
		}
		out = append(out, normalized)
	}
	return out, nil
}
