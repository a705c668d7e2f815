package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1 "github.com/akinsuyitaiwo/financial-management-system/shared/contracts/realtime/v1"
)

type staticAuth map[string]string

func (a staticAuth) Authenticate(_ context.Context, token string) (string, error) {
	if id, ok := a[token]; ok {
		return id, nil
	}
	return "", errors.New("bad token")
}

type staticMembers map[string]string

func (m staticMembers) IsMember(_ context.Context, userID, groupID string) (bool, error) {
	return m[userID] == groupID, nil
}

func testGatewayConfig() Config {
	cfg := DefaultConfig()
	cfg.OriginRequired = false
	return cfg
}

func newTestGateway(t *testing.T, cfg Config, opts ...GatewayOption) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(testLogger(), nil)
	gw, err := NewWSGateway(testLogger(), hub, staticAuth{"tok-ada": "u-ada", "tok-bob": "u-bob"}, cfg, opts...)
	require.NoError(t, err)
	srv := httptest.NewServer(gw)
	t.Cleanup(srv.Close)
	return hub, srv
}

func wsURL(srv *httptest.Server, token string) string {
	u := "ws" + strings.TrimPrefix(srv.URL, "http")
	if token != "" {
		u += "/?access_token=" + token
	}
	return u
}

func dial(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(srv, token), &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.CloseNow() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, typ string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	b, err := json.Marshal(v1.Envelope{V: v1.Version, Type: typ, Payload: raw})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, b))
}

func recv(t *testing.T, conn *websocket.Conn) v1.Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var env v1.Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func TestWSGateway_RejectsMissingAndInvalidToken(t *testing.T) {
	_, srv := newTestGateway(t, testGatewayConfig())

	for _, token := range []string{"", "nope"} {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_, resp, err := websocket.Dial(ctx, wsURL(srv, token), &websocket.DialOptions{
			Subprotocols: []string{v1.Subprotocol},
		})
		cancel()
		require.Error(t, err, "token %q", token)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}
}

func TestWSGateway_RejectsDisallowedOrigin(t *testing.T) {
	cfg := testGatewayConfig()
	cfg.OriginRequired = true
	_, srv := newTestGateway(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, resp, err := websocket.Dial(ctx, wsURL(srv, "tok-ada"), &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   http.Header{"Origin": []string{"https://evil.example"}},
	})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestWSGateway_HelloJoinPublishLeave(t *testing.T) {
	hub, srv := newTestGateway(t, testGatewayConfig())
	hub.JoinUser("u-ada", "g-home")

	conn := dial(t, srv, "tok-ada")

	send(t, conn, v1.TypeHello, v1.HelloPayload{})
	ack := recv(t, conn)
	require.Equal(t, v1.TypeHelloAck, ack.Type)
	var hello v1.HelloAckPayload
	require.NoError(t, json.Unmarshal(ack.Payload, &hello))
	assert.NotEmpty(t, hello.ConnectionID)
	assert.Equal(t, "u-ada", hello.UserID)
	assert.Equal(t, []string{"g-home"}, hello.Groups)

	send(t, conn, v1.TypeJoinTransactionRoom, v1.RoomPayload{GroupID: "g-trip"})
	joined := recv(t, conn)
	require.Equal(t, v1.TypeJoinedTransactionRoom, joined.Type)
	assert.JSONEq(t, `{"group_id":"g-trip"}`, string(joined.Payload))
	assert.Equal(t, 1, hub.ChannelSize("g-trip"))

	hub.Publish("g-trip", v1.TypeTransactionCreated, map[string]string{"id": "t1"})
	ev := recv(t, conn)
	assert.Equal(t, v1.TypeTransactionCreated, ev.Type)
	assert.JSONEq(t, `{"id":"t1"}`, string(ev.Payload))

	send(t, conn, v1.TypeLeaveTransactionRoom, v1.RoomPayload{GroupID: "g-trip"})
	left := recv(t, conn)
	require.Equal(t, v1.TypeLeftTransactionRoom, left.Type)
	assert.Equal(t, 0, hub.ChannelSize("g-trip"))
}

func TestWSGateway_ErrorReplies(t *testing.T) {
	_, srv := newTestGateway(t, testGatewayConfig())
	conn := dial(t, srv, "tok-bob")

	errCode := func(env v1.Envelope) string {
		t.Helper()
		require.Equal(t, v1.TypeError, env.Type)
		var p v1.ErrorPayload
		require.NoError(t, json.Unmarshal(env.Payload, &p))
		return p.Code
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte("{not json")))
	assert.Equal(t, v1.ErrCodeBadRequest, errCode(recv(t, conn)))

	send(t, conn, "bogus", struct{}{})
	assert.Equal(t, v1.ErrCodeBadRequest, errCode(recv(t, conn)))

	send(t, conn, v1.TypeTransactionCreated, struct{}{})
	assert.Equal(t, v1.ErrCodeUnsupported, errCode(recv(t, conn)))

	send(t, conn, v1.TypeJoinTransactionRoom, v1.RoomPayload{})
	assert.Equal(t, v1.ErrCodeBadRequest, errCode(recv(t, conn)))

	// The connection survives recoverable errors.
	send(t, conn, v1.TypeHello, v1.HelloPayload{})
	assert.Equal(t, v1.TypeHelloAck, recv(t, conn).Type)
}

func TestWSGateway_RequireMembership(t *testing.T) {
	cfg := testGatewayConfig()
	cfg.RequireMembership = true
	hub, srv := newTestGateway(t, cfg, WithMembershipChecker(staticMembers{"u-ada": "g-home"}))
	conn := dial(t, srv, "tok-ada")

	send(t, conn, v1.TypeJoinTransactionRoom, v1.RoomPayload{GroupID: "g-other"})
	denied := recv(t, conn)
	require.Equal(t, v1.TypeError, denied.Type)
	assert.Contains(t, string(denied.Payload), v1.ErrCodeUnauthorized)
	assert.Equal(t, 0, hub.ChannelSize("g-other"))

	send(t, conn, v1.TypeJoinTransactionRoom, v1.RoomPayload{GroupID: "g-home"})
	assert.Equal(t, v1.TypeJoinedTransactionRoom, recv(t, conn).Type)
}

func TestWSGateway_AnonymousWhenAuthOptional(t *testing.T) {
	cfg := testGatewayConfig()
	cfg.RequireAuth = false
	hub, srv := newTestGateway(t, cfg)
	conn := dial(t, srv, "")

	send(t, conn, v1.TypeJoinTransactionRoom, v1.RoomPayload{GroupID: "g1"})
	assert.Equal(t, v1.TypeJoinedTransactionRoom, recv(t, conn).Type)
	assert.Equal(t, 1, hub.ChannelSize("g1"))
}

func TestWSGateway_DisconnectLeavesChannels(t *testing.T) {
	hub, srv := newTestGateway(t, testGatewayConfig())
	conn := dial(t, srv, "tok-ada")

	send(t, conn, v1.TypeJoinTransactionRoom, v1.RoomPayload{GroupID: "g1"})
	require.Equal(t, v1.TypeJoinedTransactionRoom, recv(t, conn).Type)

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, "done"))

	require.Eventually(t, func() bool {
		return hub.Connections() == 0 && hub.ChannelSize("g1") == 0
	}, 3*time.Second, 20*time.Millisecond)
}

func TestWSGateway_RateLimited(t *testing.T) {
	cfg := testGatewayConfig()
	cfg.RateEvents = 2
	cfg.RateWindow = time.Minute
	_, srv := newTestGateway(t, cfg)
	conn := dial(t, srv, "tok-ada")

	send(t, conn, v1.TypeHello, v1.HelloPayload{})
	require.Equal(t, v1.TypeHelloAck, recv(t, conn).Type)
	send(t, conn, v1.TypeHello, v1.HelloPayload{})
	require.Equal(t, v1.TypeHelloAck, recv(t, conn).Type)

	send(t, conn, v1.TypeHello, v1.HelloPayload{})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	for {
		_, _, err := conn.Read(ctx)
		if err != nil {
			assert.Equal(t, websocket.StatusPolicyViolation, websocket.CloseStatus(err))
			return
		}
	}
}

func TestNewWSGateway_Validation(t *testing.T) {
	hub := NewHub(testLogger(), nil)

	_, err := NewWSGateway(testLogger(), nil, staticAuth{}, DefaultConfig())
	assert.Error(t, err)

	_, err = NewWSGateway(testLogger(), hub, nil, DefaultConfig())
	assert.Error(t, err)

	cfg := DefaultConfig()
	cfg.RequireMembership = true
	_, err = NewWSGateway(testLogger(), hub, staticAuth{}, cfg)
	assert.Error(t, err)
}

func TestDeriveOriginPatterns(t *testing.T) {
	got := deriveOriginPatternsFromAllowedOrigins([]string{
		"http://localhost:5173", "https://app.example.com", "http://LOCALHOST", "",
	})
	assert.Equal(t, []string{"app.example.com", "localhost"}, got)
}

func TestRequestToken(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws?access_token=q", nil)
	assert.Equal(t, "q", requestToken(r))

	r.Header.Set("Authorization", "Bearer h")
	assert.Equal(t, "h", requestToken(r))
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.HeartbeatTimeout = cfg.HeartbeatInterval
	assert.Error(t, cfg.Validate())
}
