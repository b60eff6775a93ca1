package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	authtoken "carelink/cmd/internal/auth/token"
	v1 "carelink/contracts/realtime/v1"

	"github.com/coder/websocket"
)

const (
	wsSubprotocolV1 = "carelink.realtime.v1"

	wsDefaultSendQueueSize = 256
	wsMinSendQueueSize     = 32

	wsDefaultWriteTimeout = 5 * time.Second
	wsCloseGrace          = 1 * time.Second

	wsMaxPingFailures = 3

	// Security defaults:
	// - Origin is required by default.
	// - Only localhost is allowed by default (secure-by-default for dev).
	wsDefaultOriginRequired = true
	wsDefaultAllowedOrigins = "http://localhost,http://127.0.0.1"
)

// AccessVerifier validates access tokens before the websocket upgrade.
type AccessVerifier interface {
	VerifyAccess(ctx context.Context, token string, now time.Time) (authtoken.AccessClaims, error)
}

// Metrics receives gateway connection events. Implementations must be
// non-blocking; a nil Metrics disables instrumentation.
type Metrics interface {
	WSConnected()
	WSDisconnected()
	WSEvicted()
}

// WSGateway is the WebSocket entrypoint for Carelink realtime.
//
// It authenticates the handshake before the upgrade, enforces origin policy,
// subprotocol selection, rate limits, and heartbeats, registers the
// connection in the presence registry (evicting any prior connection for the
// same identity), and answers liveness pings.
type WSGateway struct {
	log      *slog.Logger
	verifier AccessVerifier
	presence *Presence
	metrics  Metrics

	devInsecure    bool
	originRequired bool
	allowedOrigins []string

	// Derived for websocket.Accept origin checks.
	// Accept() authorizes same-host origins by default, but for cross-origin it requires OriginPatterns.
	originPatterns []string

	writeTimeout    time.Duration
	readIdleTimeout time.Duration
	sendQueueSize   int

	heartbeatEvery   time.Duration
	heartbeatTimeout time.Duration

	rateEvents int
	rateWindow time.Duration
}

// NewWSGateway constructs a gateway with secure defaults.
// When presence is nil, a fresh registry is created (single-gateway dev runs).
func NewWSGateway(log *slog.Logger, verifier AccessVerifier, presence *Presence, metrics Metrics) *WSGateway {
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if presence == nil {
		presence = NewPresence()
	}

	g := &WSGateway{log: log, verifier: verifier, presence: presence, metrics: metrics}

	// NOTE: InsecureSkipVerify is a dev-only knob (TLS verification). It is not an origin policy.
	g.devInsecure = envBoolWS("CARELINK_WS_DEV_INSECURE", false)

	g.originRequired = envBoolWS("CARELINK_WS_ORIGIN_REQUIRED", wsDefaultOriginRequired)
	g.allowedOrigins = envCSVWS("CARELINK_WS_ALLOWED_ORIGINS", wsDefaultAllowedOrigins)

	// IMPORTANT:
	// websocket.Accept enforces its own origin policy:
	// - same-host is ok
	// - cross-origin requires OriginPatterns (host patterns)
	// We derive these patterns from allowed origins so the two layers agree.
	g.originPatterns = deriveOriginPatternsFromAllowedOrigins(g.allowedOrigins)

	g.writeTimeout = envDurationWS("CARELINK_WS_WRITE_TIMEOUT", wsDefaultWriteTimeout)
	g.readIdleTimeout = envDurationWS("CARELINK_WS_READ_IDLE_TIMEOUT", clientLivenessWindow)

	g.sendQueueSize = envIntWS("CARELINK_WS_SEND_QUEUE", wsDefaultSendQueueSize)
	if g.sendQueueSize < wsMinSendQueueSize {
		g.sendQueueSize = wsMinSendQueueSize
	}

	g.heartbeatEvery = envDurationWS("CARELINK_WS_HEARTBEAT_INTERVAL", heartbeatInterval)
	g.heartbeatTimeout = envDurationWS("CARELINK_WS_HEARTBEAT_TIMEOUT", heartbeatTimeout)

	g.rateEvents = envIntWS("CARELINK_WS_RATE_EVENTS", rateLimitEvents)
	g.rateWindow = envDurationWS("CARELINK_WS_RATE_WINDOW", rateLimitWindow)

	return g
}

// Presence exposes the registry for the notification push path.
func (g *WSGateway) Presence() *Presence { return g.presence }

// ServeHTTP adapter so it can be mounted as http.Handler.
func (g *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS authenticates the request, upgrades it to a WebSocket session,
// and runs the realtime loop.
func (g *WSGateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	// Authenticate BEFORE the upgrade so rejects stay plain HTTP statuses.
	now := time.Now().UTC()
	claims, err := g.authenticate(r, now)
	if err != nil {
		if authtoken.IsTransient(err) {
			g.log.Error("ws.reject.transient", "err", err)
			http.Error(w, "service unavailable", http.StatusServiceUnavailable)
			return
		}
		g.log.Info("ws.reject.token", "err", err, "remote", r.RemoteAddr)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: []string{wsSubprotocolV1},

		// Authorize allowed origin hosts (e.g. localhost) for cross-origin requests.
		OriginPatterns: g.originPatterns,

		// Dev-only escape hatch.
		InsecureSkipVerify: g.devInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != wsSubprotocolV1 {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", wsSubprotocolV1)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	conn.SetReadLimit(maxFrameBytes)

	sessionID := NewRandomHex(10)
	client := NewClient(sessionID, claims.IdentityID, claims.Role, "", now, g.sendQueueSize)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// shutdown is idempotent. It does NOT close client.Send.
	// Push safety: client.Send remains open and the guarded presence removal
	// happens before client.Close, so a stale disconnect can never unregister
	// its replacement.
	var closeOnce sync.Once
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			g.presence.Remove(client.IdentityID, client)
			client.Close()
			_ = conn.Close(code, reason)
			cancel()
			if g.metrics != nil {
				g.metrics.WSDisconnected()
			}
		})
	}
	client.SetEvict(shutdown)

	// Single-active-connection: a newer login replaces this identity's prior
	// connection, which is told apart from a network drop by the close code.
	if prior := g.presence.Register(client); prior != nil {
		g.log.Info("ws.evict.superseded", "identity_id", client.IdentityID, "old_session", prior.SessionID, "new_session", sessionID)
		prior.Evict(websocket.StatusCode(v1.CloseSuperseded), "signed in elsewhere")
		if g.metrics != nil {
			g.metrics.WSEvicted()
		}
	}
	if g.metrics != nil {
		g.metrics.WSConnected()
	}
	g.log.Info("ws.connected", "identity_id", client.IdentityID, "role", client.Role, "session_id", sessionID)

	rl := NewRateLimiter(g.rateEvents, g.rateWindow)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case env := <-client.Send:
				if err := writeEnvelope(ctx, conn, env, g.writeTimeout); err != nil {
					g.log.Info("ws.write.fail", "session_id", sessionID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.heartbeatEvery)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.heartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					g.log.Info("ws.ping.fail", "session_id", sessionID, "failures", failures, "err", err)
					if failures >= wsMaxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

	// Connected ack so the client knows presence is established.
	ackPayload, _ := json.Marshal(v1.ConnectedPayload{
		IdentityID:  client.IdentityID,
		Role:        client.Role,
		DisplayName: client.DisplayName,
		ServerTS:    now,
	})
	if !g.enqueue(ctx, client, newEnvelope(v1.TypeConnected, ackPayload, now)) {
		shutdown(websocket.StatusAbnormalClosure, "backpressure: connected ack")
	}

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.readIdleTimeout)
		env, err := readEnvelope(readCtx, conn)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
				break readLoop
			case readErrCtxDone:
				if ctx.Err() == nil {
					// The parent is alive, so the read deadline fired: the
					// client stopped pinging inside the liveness window.
					g.log.Info("ws.close.idle", "identity_id", client.IdentityID, "session_id", sessionID, "last_seen", client.LastSeen())
					shutdown(websocket.StatusCode(v1.CloseIdle), "liveness window elapsed")
				} else {
					shutdown(websocket.StatusNormalClosure, "context done")
				}
				break readLoop
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
				break readLoop
			case readErrBadJSON:
				g.trySendError(ctx, client, "bad_json", "invalid JSON")
				continue readLoop
			default:
				g.log.Info("ws.read.fail", "session_id", sessionID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
				break readLoop
			}
		}

		now := time.Now().UTC()
		if !rl.Allow(now) {
			g.trySendError(ctx, client, "rate_limited", "too many events")
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		if err := env.Validate(); err != nil {
			g.trySendError(ctx, client, "bad_envelope", err.Error())
			continue readLoop
		}

		switch env.Type {
		case v1.TypePing:
			g.onPing(ctx, client, env, now)

		default:
			// Inbound traffic is liveness pings only.
			g.trySendError(ctx, client, "unsupported", fmt.Sprintf("unsupported type: %s", env.Type))
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
}

// ---- handshake auth ----

func (g *WSGateway) authenticate(r *http.Request, now time.Time) (authtoken.AccessClaims, error) {
	tok := handshakeToken(r)
	if tok == "" {
		return authtoken.AccessClaims{}, authtoken.ErrUnauthenticated
	}
	return g.verifier.VerifyAccess(r.Context(), tok, now)
}

// handshakeToken extracts the access token from the query string
// (access_token, for browser WebSocket clients that cannot set headers) or
// the Authorization bearer header.
func handshakeToken(r *http.Request) string {
	if tok := strings.TrimSpace(r.URL.Query().Get("access_token")); tok != "" {
		return tok
	}

	h := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "bearer "
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return strings.TrimSpace(h[len(prefix):])
	}
	return ""
}

// ---- handlers ----

func (g *WSGateway) onPing(ctx context.Context, client *Client, env v1.Envelope, now time.Time) {
	var p v1.PingPayload
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			g.trySendError(ctx, client, "bad_payload", "invalid ping payload")
			return
		}
	}

	g.presence.Touch(client.IdentityID, now)

	pongPayload, _ := json.Marshal(v1.PongPayload{Seq: p.Seq, ServerTS: now})
	_ = g.enqueue(ctx, client, newEnvelope(v1.TypePong, pongPayload, now))
}

// ---- send helpers ----

func (g *WSGateway) trySendError(ctx context.Context, client *Client, code, msg string) {
	p, _ := json.Marshal(v1.ErrorPayload{Code: code, Message: msg})
	env := newEnvelope(v1.TypeError, p, time.Now().UTC())
	_ = g.enqueue(ctx, client, env)
}

func (g *WSGateway) enqueue(ctx context.Context, client *Client, env v1.Envelope) bool {
	select {
	case <-ctx.Done():
		return false
	case <-client.Done():
		return false
	case client.Send <- env:
		return true
	default:
		return false
	}
}

// ---- envelope IO ----

func newEnvelope(typ string, payload json.RawMessage, ts time.Time) v1.Envelope {
	return v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      NewRandomHex(10),
		TS:      ts,
		Payload: payload,
	}
}

func readEnvelope(ctx context.Context, conn *websocket.Conn) (v1.Envelope, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return v1.Envelope{}, fmt.Errorf("unsupported message type: %v", mt)
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, err
	}
	return env, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env v1.Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrBadJSON
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}

	// JSON decode errors are typically returned by json.Unmarshal, not conn.Read.
	// This fallback exists for robustness when error strings are propagated.
	s := err.Error()
	if strings.Contains(s, "unexpected end of JSON input") || strings.Contains(s, "invalid character") {
		return readErrBadJSON
	}
	return readErrUnknown
}

// ---- origin policy ----

func (g *WSGateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.originRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	if len(g.allowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)

	for _, a := range g.allowedOrigins {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if a == "*" {
			// Strongly discouraged, but honored if explicitly configured.
			return nil
		}

		// Full origin match (scheme + host + optional port).
		if origin == a {
			return nil
		}

		// Host match fallback (ignores port/scheme).
		if originHost != "" && originHost == originHostOnly(a) {
			return nil
		}
	}

	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	// URL form.
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		h := strings.TrimSpace(u.Host)
		if h == "" {
			return ""
		}
		if host, _, err := net.SplitHostPort(h); err == nil {
			return strings.ToLower(host)
		}
		return strings.ToLower(h)
	}

	// host[:port] form.
	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

func deriveOriginPatternsFromAllowedOrigins(allowed []string) []string {
	// websocket.Accept matches OriginPatterns against the origin host using filepath.Match patterns.
	// We keep this strict: only hosts extracted from allowlist are accepted.
	seen := make(map[string]struct{}, len(allowed))

	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" || h == "*" {
			continue
		}
		seen[h] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}

	sort.Strings(out)
	return out
}

// ---- env helpers ----

func envBoolWS(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envIntWS(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDurationWS(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func envCSVWS(key string, def string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		raw = def
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
