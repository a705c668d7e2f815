// Package main provides a CI-friendly end-to-end smoke test for tally realtime.
//
// Against a running server it registers two users, puts them in a fresh group, connects
// both over websocket and checks that REST mutations by one reach the other:
//   - handshake + subprotocol selection
//   - hello/ack with the login group already joined
//   - transaction_created / transaction_updated fan-out
//   - leaveTransactionRoom stops delivery
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"

	v1 "github.com/akinsuyitaiwo/financial-management-system/shared/contracts/realtime/v1"
)

const maxReadBytes = 1 << 20 // 1MiB

type smokeClient struct {
	name   string
	userID string
	token  string
	conn   *websocket.Conn

	inbox chan v1.Envelope
	errCh chan error
}

type restClient struct {
	base string
	http *http.Client
}

func main() {
	var (
		baseURL  = flag.String("url", "http://127.0.0.1:8080", "server base URL")
		origin   = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		password = flag.String("password", "smoke-pass-1", "password for the throwaway users")
		timeout  = flag.Duration("timeout", 7*time.Second, "per-step timeout")
		verbose  = flag.Bool("v", false, "verbose output")
	)
	flag.Parse()

	wsURL, err := toWSURL(*baseURL)
	if err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}

	root := context.Background()
	api := &restClient{base: strings.TrimRight(*baseURL, "/"), http: &http.Client{Timeout: *timeout}}
	run := time.Now().UnixNano()

	a := &smokeClient{name: "A"}
	b := &smokeClient{name: "B"}
	for _, c := range []*smokeClient{a, b} {
		email := fmt.Sprintf("smoke-%s-%d@example.com", strings.ToLower(c.name), run)
		api.mustDo(http.MethodPost, "/user", "", map[string]any{
			"name": "smoke " + c.name, "email": email, "password": *password,
		}, http.StatusCreated, nil)

		var login struct {
			AccessToken string `json:"access_token"`
			User        struct {
				ID string `json:"id"`
			} `json:"user"`
		}
		api.mustDo(http.MethodPost, "/auth/login", "", map[string]any{
			"email": email, "password": *password,
		}, http.StatusOK, &login)
		c.userID, c.token = login.User.ID, login.AccessToken
	}

	var group struct {
		ID string `json:"id"`
	}
	api.mustDo(http.MethodPost, "/group", a.token, map[string]any{"name": fmt.Sprintf("smoke %d", run)}, http.StatusCreated, &group)
	for _, c := range []*smokeClient{a, b} {
		api.mustDo(http.MethodPost, "/group/join", c.token, map[string]any{"group_id": group.ID}, http.StatusOK, nil)
	}

	for _, c := range []*smokeClient{a, b} {
		mustConnect(root, c, wsURL, *origin, group.ID, *timeout)
		defer closeWS(c.conn)
	}
	if *verbose {
		fmt.Printf("connected: A=%s B=%s group=%s\n", a.userID, b.userID, group.ID)
	}

	var created struct {
		ID string `json:"id"`
	}
	api.mustDo(http.MethodPost, "/transaction", a.token, map[string]any{
		"amount": "42.00", "description": "smoke", "category": "expense", "group_id": group.ID,
	}, http.StatusCreated, &created)
	mustAssertTransaction(root, b, v1.TypeTransactionCreated, created.ID, *timeout)
	mustAssertTransaction(root, a, v1.TypeTransactionCreated, created.ID, *timeout)

	api.mustDo(http.MethodPatch, "/transaction/"+created.ID, b.token, map[string]any{"amount": "43.00"}, http.StatusOK, nil)
	mustAssertTransaction(root, a, v1.TypeTransactionUpdated, created.ID, *timeout)
	mustAssertTransaction(root, b, v1.TypeTransactionUpdated, created.ID, *timeout)

	mustLeave(root, b, group.ID, *timeout)

	api.mustDo(http.MethodDelete, "/transaction/"+created.ID+"?groupId="+url.QueryEscape(group.ID), a.token, nil, http.StatusOK, nil)
	mustAssertTransaction(root, a, v1.TypeTransactionDeleted, created.ID, *timeout)
	mustAssertNoType(root, b, v1.TypeTransactionDeleted, 1200*time.Millisecond)

	fmt.Printf("OK: A=%s B=%s group=%s transaction=%s\n", a.userID, b.userID, group.ID, created.ID)
}

func (r *restClient) mustDo(method, path, token string, body any, wantStatus int, out any) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(mustJSON(body))
	}
	req, err := http.NewRequest(method, r.base+path, rd)
	if err != nil {
		fatalf("%s %s: %v", method, path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := r.http.Do(req)
	if err != nil {
		fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxReadBytes))
	if resp.StatusCode != wantStatus {
		fatalf("%s %s: status=%d want=%d body=%s", method, path, resp.StatusCode, wantStatus, strings.TrimSpace(string(raw)))
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			fatalf("%s %s: decode: %v", method, path, err)
		}
	}
}

func toWSURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", errors.New("missing host")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String(), nil
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

func mustConnect(parent context.Context, c *smokeClient, wsURL, origin, groupID string, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	h.Set("Authorization", "Bearer "+c.token)
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect %s: %v", c.name, err)
	}
	assertSubprotocol(resp, v1.Subprotocol)

	conn.SetReadLimit(maxReadBytes)
	c.conn = conn
	c.inbox = make(chan v1.Envelope, 512)
	c.errCh = make(chan error, 1)
	c.startReadLoop()

	mustWriteWithTimeout(parent, conn, v1.Envelope{
		V:       v1.Version,
		Type:    v1.TypeHello,
		ID:      c.name + "-hello",
		TS:      time.Now().UTC(),
		Payload: mustJSON(v1.HelloPayload{}),
	}, stepTimeout)

	ack := c.mustReadUntilType(parent, v1.TypeHelloAck, stepTimeout, nil)

	var p v1.HelloAckPayload
	if err := json.Unmarshal(ack.Payload, &p); err != nil {
		fatalf("unmarshal hello_ack payload (%s): %v", c.name, err)
	}
	if p.UserID != c.userID {
		fatalf("hello_ack user mismatch (%s): got=%q want=%q", c.name, p.UserID, c.userID)
	}
	for _, g := range p.Groups {
		if g == groupID {
			return
		}
	}
	fatalf("hello_ack groups %v missing login group %s (%s)", p.Groups, groupID, c.name)
}

func assertSubprotocol(resp *http.Response, want string) {
	if resp == nil {
		return
	}
	got := strings.TrimSpace(resp.Header.Get("Sec-WebSocket-Protocol"))
	if got != "" && got != want {
		fatalf("subprotocol mismatch: got=%q want=%q", got, want)
	}
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			_, data, err := c.conn.Read(context.Background())
			if err != nil {
				c.fail(err)
				return
			}

			var env v1.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				c.fail(fmt.Errorf("bad json: %w", err))
				return
			}
			if err := env.Validate(); err != nil {
				c.fail(fmt.Errorf("bad envelope: %w", err))
				return
			}

			select {
			case c.inbox <- env:
			default:
				c.fail(errors.New("inbox overflow: consumer too slow"))
				return
			}
		}
	}()
}

func (c *smokeClient) fail(err error) {
	select {
	case c.errCh <- err:
	default:
	}
}

func mustLeave(parent context.Context, c *smokeClient, groupID string, stepTimeout time.Duration) {
	mustWriteWithTimeout(parent, c.conn, v1.Envelope{
		V:       v1.Version,
		Type:    v1.TypeLeaveTransactionRoom,
		ID:      c.name + "-leave",
		TS:      time.Now().UTC(),
		Payload: mustJSON(v1.RoomPayload{GroupID: groupID}),
	}, stepTimeout)

	ack := c.mustReadUntilType(parent, v1.TypeLeftTransactionRoom, stepTimeout, nil)

	var p v1.RoomPayload
	if err := json.Unmarshal(ack.Payload, &p); err != nil {
		fatalf("unmarshal leave ack payload (%s): %v", c.name, err)
	}
	if p.GroupID != groupID {
		fatalf("leave ack group mismatch (%s): got=%q want=%q", c.name, p.GroupID, groupID)
	}
}

func mustAssertTransaction(parent context.Context, c *smokeClient, typ, txID string, stepTimeout time.Duration) {
	env := c.mustReadUntilType(parent, typ, stepTimeout, nil)

	var p struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		fatalf("unmarshal %s payload (%s): %v", typ, c.name, err)
	}
	if p.ID != txID {
		fatalf("%s id mismatch (%s): got=%q want=%q", typ, c.name, p.ID, txID)
	}
}

func mustAssertNoType(parent context.Context, c *smokeClient, forbiddenType string, wait time.Duration) {
	ctx, cancel := context.WithTimeout(parent, wait)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-c.errCh:
			fatalf("connection closed unexpectedly (%s): %v", c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed unexpectedly (%s)", c.name)
			}
			if env.Type == forbiddenType {
				fatalf("unexpected %s received (%s)", forbiddenType, c.name)
			}
		}
	}
}

func (c *smokeClient) mustReadUntilType(parent context.Context, wantType string, stepTimeout time.Duration, skipTypes map[string]struct{}) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q (%s): %v", wantType, c.name, ctx.Err())
		case err := <-c.errCh:
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
			if _, ok := skipTypes[env.Type]; ok {
				continue
			}
			fatalf("unexpected envelope type (%s): got=%q want=%q", c.name, env.Type, wantType)
		}
	}
}

func mustWriteWithTimeout(parent context.Context, conn *websocket.Conn, env v1.Envelope, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	if err := conn.Write(ctx, websocket.MessageText, mustJSON(env)); err != nil {
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
