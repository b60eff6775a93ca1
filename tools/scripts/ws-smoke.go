// Package main provides a CI-friendly WebSocket smoke test for Carelink realtime.
//
// It validates:
//   - login -> access token
//   - handshake + subprotocol selection (token on the query string, browser-style)
//   - connected ack with the authenticated identity
//   - ping -> pong with seq echo
//   - single-active-connection: a second login supersedes the first (close code 4001)
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	v1 "carelink/contracts/realtime/v1"

	"github.com/coder/websocket"
)

const (
	subprotocol  = "carelink.realtime.v1"
	maxReadBytes = 1 << 20 // 1MiB
)

type smokeClient struct {
	name string
	conn *websocket.Conn

	inbox chan v1.Envelope
	errCh chan error
}

func main() {
	var (
		apiURL   = flag.String("api", "http://127.0.0.1:8080", "HTTP base URL for /auth/login")
		wsURL    = flag.String("url", "ws://127.0.0.1:8080/realtime", "WebSocket URL")
		origin   = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		email    = flag.String("email", "", "Login email (required)")
		password = flag.String("password", "", "Login password (required)")
		timeout  = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose  = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}
	if strings.TrimSpace(*email) == "" || *password == "" {
		fatalf("-email and -password are required")
	}

	root := context.Background()

	token, identityID := mustLogin(root, *apiURL, *email, *password, *timeout)
	if *verbose {
		fmt.Printf("logged in: identity_id=%s\n", identityID)
	}

	a := mustConnect(root, "A", *wsURL, *origin, token, identityID, *timeout)
	defer closeWS(a.conn)

	mustPingPong(root, a, 1, *timeout)
	mustPingPong(root, a, 2, *timeout)

	// A second authenticated connection for the same identity must evict the
	// first with the superseded close code, not a generic drop.
	b := mustConnect(root, "B", *wsURL, *origin, token, identityID, *timeout)
	defer closeWS(b.conn)

	mustObserveClose(root, a, v1.CloseSuperseded, *timeout)
	mustPingPong(root, b, 3, *timeout)

	fmt.Printf("OK: identity_id=%s superseded=4001 ping_pong=ok\n", identityID)
}

func mustLogin(parent context.Context, apiURL, email, password string, stepTimeout time.Duration) (token, identityID string) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	body, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		fatalf("marshal login body: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(apiURL, "/")+"/auth/login", bytes.NewReader(body))
	if err != nil {
		fatalf("build login request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatalf("login request: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		fatalf("login failed: status=%d", resp.StatusCode)
	}

	var out struct {
		Identity struct {
			ID string `json:"id"`
		} `json:"identity"`
		Credentials struct {
			AccessToken string `json:"access_token"`
		} `json:"credentials"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		fatalf("decode login response: %v", err)
	}
	if strings.TrimSpace(out.Credentials.AccessToken) == "" {
		fatalf("login response missing access_token")
	}
	return out.Credentials.AccessToken, out.Identity.ID
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	if strings.TrimSpace(u.Path) == "" {
		return errors.New("missing path")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func mustConnect(parent context.Context, name, wsURL, origin, token, wantIdentityID string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	u, err := url.Parse(wsURL)
	if err != nil {
		fatalf("parse ws url: %v", err)
	}
	q := u.Query()
	q.Set("access_token", token)
	u.RawQuery = q.Encode()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{
		Subprotocols: []string{subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	if err != nil {
		fatalf("connect %s: %v", name, err)
	}

	assertSubprotocol(resp, subprotocol)

	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		name:  name,
		conn:  conn,
		inbox: make(chan v1.Envelope, 64),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()

	connected := c.mustReadUntilType(parent, v1.TypeConnected, stepTimeout)

	var p v1.ConnectedPayload
	if err := json.Unmarshal(connected.Payload, &p); err != nil {
		fatalf("unmarshal connected payload (%s): %v", name, err)
	}
	if wantIdentityID != "" && p.IdentityID != wantIdentityID {
		fatalf("connected identity mismatch (%s): got=%q want=%q", name, p.IdentityID, wantIdentityID)
	}
	if strings.TrimSpace(p.Role) == "" {
		fatalf("connected missing role (%s)", name)
	}
	if p.ServerTS.IsZero() {
		fatalf("connected server_ts missing/zero (%s)", name)
	}

	return c
}

func assertSubprotocol(resp *http.Response, want string) {
	if resp == nil {
		return
	}
	got := strings.TrimSpace(resp.Header.Get("Sec-WebSocket-Protocol"))
	if got == "" {
		return
	}
	if got != want {
		fatalf("subprotocol mismatch: got=%q want=%q", got, want)
	}
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			mt, data, err := c.conn.Read(context.Background())
			if err != nil {
				select {
				case c.errCh <- err:
				default:
				}
				return
			}

			if mt != websocket.MessageText && mt != websocket.MessageBinary {
				select {
				case c.errCh <- fmt.Errorf("unsupported message type: %v", mt):
				default:
				}
				return
			}

			var env v1.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad json: %w", err):
				default:
				}
				return
			}
			if err := env.Validate(); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad envelope: %w", err):
				default:
				}
				return
			}

			select {
			case c.inbox <- env:
			default:
				select {
				case c.errCh <- errors.New("inbox overflow: consumer too slow"):
				default:
				}
				return
			}
		}
	}()
}

func mustPingPong(parent context.Context, c *smokeClient, seq int64, stepTimeout time.Duration) {
	env := v1.Envelope{
		V:       v1.Version,
		Type:    v1.TypePing,
		ID:      fmt.Sprintf("%s-ping-%d", c.name, seq),
		TS:      time.Now().UTC(),
		Payload: mustJSON(v1.PingPayload{Seq: seq}),
	}
	mustWriteWithTimeout(parent, c.conn, env, stepTimeout)

	pong := c.mustReadUntilType(parent, v1.TypePong, stepTimeout)

	var p v1.PongPayload
	if err := json.Unmarshal(pong.Payload, &p); err != nil {
		fatalf("unmarshal pong payload (%s): %v", c.name, err)
	}
	if p.Seq != seq {
		fatalf("pong seq mismatch (%s): got=%d want=%d", c.name, p.Seq, seq)
	}
	if p.ServerTS.IsZero() {
		fatalf("pong server_ts missing/zero (%s)", c.name)
	}
}

func mustObserveClose(parent context.Context, c *smokeClient, wantCode int, wait time.Duration) {
	ctx, cancel := context.WithTimeout(parent, wait)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for close code %d (%s)", wantCode, c.name)
		case err := <-c.errCh:
			code := websocket.CloseStatus(err)
			if int(code) != wantCode {
				fatalf("close code mismatch (%s): got=%d want=%d (err=%v)", c.name, code, wantCode, err)
			}
			return
		case _, ok := <-c.inbox:
			if !ok {
				// Read loop exited; the close error follows on errCh.
				continue
			}
		}
	}
}

func (c *smokeClient) mustReadUntilType(parent context.Context, wantType string, stepTimeout time.Duration) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q (%s): %v", wantType, c.name, ctx.Err())
		case err := <-c.errCh:
			if err == nil {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			fatalf("connection error while waiting for %q (%s): %v", wantType, c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			if env.Type == wantType {
				return env
			}
			if env.Type == v1.TypeError {
				var ep v1.ErrorPayload
				_ = json.Unmarshal(env.Payload, &ep)
				fatalf("server error (%s): code=%q msg=%q", c.name, ep.Code, ep.Message)
			}
			// Out-of-band notifications can arrive at any time; skip them.
			if env.Type == v1.TypeNotification {
				continue
			}
			fatalf("unexpected envelope type (%s): got=%q want=%q", c.name, env.Type, wantType)
		}
	}
}

func mustWriteWithTimeout(parent context.Context, conn *websocket.Conn, env v1.Envelope, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		fatalf("marshal envelope: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write failed: %v", err)
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
