package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	v1 "github.com/akinsuyitaiwo/financial-management-system/shared/contracts/realtime/v1"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	t.Setenv("TALLY_AUTH_JWT_SECRET", testSecret)
	cfg := LoadConfig(NewViper())
	cfg.Passwords.Cost = bcrypt.MinCost
	cfg.Realtime.OriginRequired = false
	require.NoError(t, cfg.Validate())
	return cfg
}

func newTestApp(t *testing.T, cfg Config) (*App, *httptest.Server) {
	t.Helper()
	a, err := New(context.Background(), cfg, discardLogger())
	require.NoError(t, err)
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(func() {
		srv.Close()
		_ = a.Close()
	})
	return a, srv
}

func call(t *testing.T, srv *httptest.Server, method, path, token string, body any, out any) int {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, srv.URL+path, rd)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestApp_Probes(t *testing.T) {
	_, srv := newTestApp(t, testConfig(t))

	for _, p := range []string{"/healthz", "/readyz"} {
		resp, err := srv.Client().Get(srv.URL + p)
		require.NoError(t, err)
		_ = resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, p)
		assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	}

	resp, err := srv.Client().Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), "tally_http_requests_total")
	assert.Contains(t, string(body), "tally_realtime_connections")
	assert.Contains(t, string(body), "go_goroutines")
}

func TestApp_SQLiteBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Backend = "sqlite"
	cfg.Storage.SQLitePath = filepath.Join(t.TempDir(), "tally.db")

	a, srv := newTestApp(t, cfg)
	assert.Equal(t, "sqlite", a.backend.name)

	resp, err := srv.Client().Get(srv.URL + "/readyz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	status := call(t, srv, http.MethodPost, "/user", "", map[string]any{
		"name": "Ada", "email": "ada@example.com", "password": "secret1",
	}, nil)
	assert.Equal(t, http.StatusCreated, status)
}

// TestApp_RealtimeFlow drives the whole stack: REST mutations reach a websocket
// subscribed to the user's group.
func TestApp_RealtimeFlow(t *testing.T) {
	a, srv := newTestApp(t, testConfig(t))

	require.Equal(t, http.StatusCreated, call(t, srv, http.MethodPost, "/user", "", map[string]any{
		"name": "Ada", "email": "ada@example.com", "password": "secret1",
	}, nil))

	var login struct {
		AccessToken string `json:"access_token"`
	}
	require.Equal(t, http.StatusOK, call(t, srv, http.MethodPost, "/auth/login", "",
		map[string]any{"email": "ada@example.com", "password": "secret1"}, &login))

	var group struct {
		ID string `json:"id"`
	}
	require.Equal(t, http.StatusCreated, call(t, srv, http.MethodPost, "/group", login.AccessToken,
		map[string]any{"name": "Family Finances"}, &group))
	require.Equal(t, http.StatusOK, call(t, srv, http.MethodPost, "/group/join", login.AccessToken,
		map[string]any{"group_id": group.ID}, nil))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?access_token=" + login.AccessToken
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{Subprotocols: []string{v1.Subprotocol}})
	require.NoError(t, err)
	defer func() { _ = conn.CloseNow() }()

	// The hello round trip guarantees registration, which joins the user's group.
	hello, err := json.Marshal(v1.Envelope{V: v1.Version, Type: v1.TypeHello, Payload: json.RawMessage(`{}`)})
	require.NoError(t, err)
	require.NoError(t, conn.Write(ctx, websocket.MessageText, hello))

	ack := readEnvelope(ctx, t, conn)
	require.Equal(t, v1.TypeHelloAck, ack.Type)
	var ackPayload v1.HelloAckPayload
	require.NoError(t, json.Unmarshal(ack.Payload, &ackPayload))
	assert.Equal(t, []string{group.ID}, ackPayload.Groups)

	var created struct {
		ID string `json:"id"`
	}
	require.Equal(t, http.StatusCreated, call(t, srv, http.MethodPost, "/transaction", login.AccessToken,
		map[string]any{"amount": "12.50", "category": "expense", "description": "Lunch", "group_id": group.ID}, &created))

	env := readEnvelope(ctx, t, conn)
	assert.Equal(t, v1.TypeTransactionCreated, env.Type)
	assert.Contains(t, string(env.Payload), created.ID)

	require.Equal(t, http.StatusOK, call(t, srv, http.MethodDelete, "/transaction/"+created.ID, login.AccessToken, nil, nil))
	env = readEnvelope(ctx, t, conn)
	assert.Equal(t, v1.TypeTransactionDeleted, env.Type)

	// Server shutdown closes live sockets with 1001.
	a.Hub().CloseAll()
	_, _, err = conn.Read(ctx)
	assert.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(err))
}

func readEnvelope(ctx context.Context, t *testing.T, conn *websocket.Conn) v1.Envelope {
	t.Helper()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var env v1.Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}
