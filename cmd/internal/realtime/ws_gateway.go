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
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	v1 "github.com/akinsuyitaiwo/financial-management-system/shared/contracts/realtime/v1"
)

const (
	wsCloseGrace      = 1 * time.Second
	wsMaxPingFailures = 3

	wsTokenQueryParam = "access_token"
)

var errBadJSON = errors.New("realtime: invalid JSON")

// WSGateway is the WebSocket entrypoint for tally realtime.
//
// It enforces origin policy, authentication, subprotocol selection, rate limits and
// heartbeats, and routes validated envelopes to the Hub.
type WSGateway struct {
	log     *slog.Logger
	hub     *Hub
	auth    Authenticator
	members MembershipChecker
	cfg     Config

	// Derived for websocket.Accept origin checks.
	// Accept() authorizes same-host origins by default, but for cross-origin it requires OriginPatterns.
	originPatterns []string
}

// GatewayOption customizes a WSGateway.
type GatewayOption func(*WSGateway)

// WithMembershipChecker enables the membership check used when cfg.RequireMembership is set.
func WithMembershipChecker(m MembershipChecker) GatewayOption {
	return func(g *WSGateway) { g.members = m }
}

// NewWSGateway constructs a gateway. auth may be nil only when cfg.RequireAuth is false.
func NewWSGateway(log *slog.Logger, hub *Hub, auth Authenticator, cfg Config, opts ...GatewayOption) (*WSGateway, error) {
	if hub == nil {
		return nil, errors.New("realtime: nil hub")
	}
	if auth == nil && cfg.RequireAuth {
		return nil, errors.New("realtime: authenticator required when auth is required")
	}
	if log == nil {
		log = slog.Default()
	}

	g := &WSGateway{
		log:  log,
		hub:  hub,
		auth: auth,
		cfg:  cfg.normalized(),
	}
	for _, o := range opts {
		if o != nil {
			o(g)
		}
	}
	if g.cfg.RequireMembership && g.members == nil {
		return nil, errors.New("realtime: membership checker required when membership is required")
	}

	// websocket.Accept enforces its own origin policy; derive its patterns from the
	// allowlist so the two layers agree.
	g.originPatterns = deriveOriginPatternsFromAllowedOrigins(g.cfg.AllowedOrigins)
	return g, nil
}

// ServeHTTP adapter so it can be mounted as http.Handler.
func (g *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS upgrades an HTTP request to a WebSocket session and runs the realtime loop.
func (g *WSGateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	userID, err := g.authenticate(r)
	if err != nil {
		g.log.Info("ws.reject.auth", "err", err, "remote", r.RemoteAddr)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{v1.Subprotocol},
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.cfg.DevInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != v1.Subprotocol {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", v1.Subprotocol)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	conn.SetReadLimit(maxFrameBytes)

	client := NewClient(userID, g.cfg.SendQueueSize)
	g.hub.Register(client)
	defer g.hub.Disconnect(client)

	log := g.log.With("connection_id", client.ID, "user_id", userID)
	log.Info("ws.connect")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var closeOnce sync.Once

	// shutdown is idempotent. It does NOT close client.Send; channel removal happens in
	// hub.Disconnect before the client is closed.
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			g.hub.Disconnect(client)
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	rl := NewRateLimiter(g.cfg.RateEvents, g.cfg.RateWindow)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				// Closed by the hub (server shutdown) rather than by this handler.
				shutdown(websocket.StatusGoingAway, "server closing")
				return
			case env := <-client.Send:
				if err := writeEnvelope(ctx, conn, env, g.cfg.WriteTimeout); err != nil {
					log.Info("ws.write.fail", "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.cfg.HeartbeatInterval)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.cfg.HeartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					log.Info("ws.ping.fail", "failures", failures, "err", err)
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

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.cfg.ReadIdleTimeout)
		env, err := readEnvelope(readCtx, conn)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
				break readLoop
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
				break readLoop
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
				break readLoop
			case readErrBadJSON:
				g.trySendError(ctx, client, v1.ErrCodeBadRequest, "invalid JSON")
				continue readLoop
			default:
				log.Info("ws.read.fail", "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
				break readLoop
			}
		}

		if now := time.Now().UTC(); !rl.Allow(now) {
			g.trySendError(ctx, client, v1.ErrCodeRateLimited,
				fmt.Sprintf("too many events, retry in %s", rl.RetryAfter(now).Round(time.Millisecond)))
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		if err := env.Validate(); err != nil {
			g.trySendError(ctx, client, v1.ErrCodeBadRequest, err.Error())
			continue readLoop
		}

		switch env.Type {
		case v1.TypeHello:
			g.onHello(ctx, client)

		case v1.TypeJoinTransactionRoom:
			if err := g.onJoin(ctx, client, env); err != nil {
				g.sendFailure(ctx, client, err)
			}

		case v1.TypeLeaveTransactionRoom:
			if err := g.onLeave(ctx, client, env); err != nil {
				g.sendFailure(ctx, client, err)
			}

		default:
			g.trySendError(ctx, client, v1.ErrCodeUnsupported, fmt.Sprintf("unsupported type: %s", env.Type))
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
	log.Info("ws.disconnect")
}

// ---- auth ----

// authenticate returns the token's user id, or "" for an allowed anonymous connection.
func (g *WSGateway) authenticate(r *http.Request) (string, error) {
	token := requestToken(r)
	if token == "" {
		if g.cfg.RequireAuth {
			return "", errors.New("missing access token")
		}
		return "", nil
	}
	if g.auth == nil {
		return "", errors.New("token presented but no authenticator configured")
	}
	return g.auth.Authenticate(r.Context(), token)
}

// requestToken reads a bearer header, falling back to the access_token query
// parameter since browsers cannot set headers on a websocket handshake.
func requestToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		if t := strings.TrimSpace(h[7:]); t != "" {
			return t
		}
	}
	return strings.TrimSpace(r.URL.Query().Get(wsTokenQueryParam))
}

// ---- handlers ----

type handlerError struct {
	code string
	msg  string
}

func (e handlerError) Error() string { return e.code + ": " + e.msg }

func (g *WSGateway) onHello(ctx context.Context, client *Client) {
	p, _ := json.Marshal(v1.HelloAckPayload{
		ConnectionID: client.ID,
		UserID:       client.UserID,
		Groups:       g.hub.Groups(client),
	})
	if !g.enqueue(ctx, client, newEnvelope(v1.TypeHelloAck, p, time.Now().UTC())) {
		g.log.Debug("ws.enqueue.drop", "connection_id", client.ID, "type", v1.TypeHelloAck)
	}
}

func (g *WSGateway) onJoin(ctx context.Context, client *Client, env v1.Envelope) error {
	groupID, err := roomFromPayload(env.Payload)
	if err != nil {
		return err
	}

	if g.cfg.RequireMembership {
		if client.UserID == "" {
			return handlerError{v1.ErrCodeUnauthorized, "authentication required"}
		}
		ok, err := g.members.IsMember(ctx, client.UserID, groupID)
		if err != nil {
			g.log.Error("ws.membership.fail", "connection_id", client.ID, "group_id", groupID, "err", err)
			return handlerError{v1.ErrCodeBadRequest, "membership check failed"}
		}
		if !ok {
			return handlerError{v1.ErrCodeUnauthorized, "not a member of group"}
		}
	}

	g.hub.Join(client, groupID)

	p, _ := json.Marshal(v1.RoomPayload{GroupID: groupID})
	if !g.enqueue(ctx, client, newEnvelope(v1.TypeJoinedTransactionRoom, p, time.Now().UTC())) {
		g.log.Debug("ws.enqueue.drop", "connection_id", client.ID, "type", v1.TypeJoinedTransactionRoom)
	}
	return nil
}

func (g *WSGateway) onLeave(ctx context.Context, client *Client, env v1.Envelope) error {
	groupID, err := roomFromPayload(env.Payload)
	if err != nil {
		return err
	}

	g.hub.Leave(client, groupID)

	p, _ := json.Marshal(v1.RoomPayload{GroupID: groupID})
	if !g.enqueue(ctx, client, newEnvelope(v1.TypeLeftTransactionRoom, p, time.Now().UTC())) {
		g.log.Debug("ws.enqueue.drop", "connection_id", client.ID, "type", v1.TypeLeftTransactionRoom)
	}
	return nil
}

func roomFromPayload(raw json.RawMessage) (string, error) {
	var p v1.RoomPayload
	if len(raw) == 0 {
		return "", handlerError{v1.ErrCodeBadRequest, "missing payload"}
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return "", handlerError{v1.ErrCodeBadRequest, "invalid payload"}
	}
	groupID := strings.TrimSpace(p.GroupID)
	if groupID == "" {
		return "", handlerError{v1.ErrCodeBadRequest, "missing group_id"}
	}
	if len(groupID) > maxGroupIDLen {
		return "", handlerError{v1.ErrCodeBadRequest, "group_id too long"}
	}
	return groupID, nil
}

// ---- send helpers ----

func (g *WSGateway) sendFailure(ctx context.Context, client *Client, err error) {
	var he handlerError
	if errors.As(err, &he) {
		g.trySendError(ctx, client, he.code, he.msg)
		return
	}
	g.trySendError(ctx, client, v1.ErrCodeBadRequest, err.Error())
}

func (g *WSGateway) trySendError(ctx context.Context, client *Client, code, msg string) {
	p, _ := json.Marshal(v1.ErrorPayload{Code: code, Message: msg})
	_ = g.enqueue(ctx, client, newEnvelope(v1.TypeError, p, time.Now().UTC()))
}

func (g *WSGateway) enqueue(ctx context.Context, client *Client, env v1.Envelope) bool {
	select {
	case <-ctx.Done():
		return false
	default:
	}
	return client.offer(env)
}

// ---- envelope IO ----

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
		return v1.Envelope{}, fmt.Errorf("%w: %v", errBadJSON, err)
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
	if errors.Is(err, errBadJSON) {
		return readErrBadJSON
	}
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}
	return readErrUnknown
}

// ---- origin policy ----

func (g *WSGateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.cfg.OriginRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	if len(g.cfg.AllowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)

	for _, a := range g.cfg.AllowedOrigins {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if a == "*" {
			return nil
		}
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

	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

// deriveOriginPatternsFromAllowedOrigins returns the sorted unique hosts of allowed.
// websocket.Accept matches OriginPatterns against the origin host with filepath.Match.
func deriveOriginPatternsFromAllowedOrigins(allowed []string) []string {
	seen := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" {
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
