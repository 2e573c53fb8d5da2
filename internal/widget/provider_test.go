package widget

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/kite-relay/internal/event"
	"github.com/npezzotti/kite-relay/internal/server"
	"github.com/npezzotti/kite-relay/internal/stats"
	"github.com/npezzotti/kite-relay/internal/testutil"
	"github.com/npezzotti/kite-relay/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testChannel = "support_team_1"

type testEnv struct {
	provider *Provider
	handler  *server.MockCommandHandler
	events   chan event.Event
	srv      *httptest.Server
}

func newTestEnv(t *testing.T, origins ...string) *testEnv {
	t.Helper()
	logger := testutil.TestLogger(t)

	su := &stats.MockStatsUpdater{}
	su.On("RegisterMetric", stats.WidgetConnections).Return()
	su.On("Incr", stats.WidgetConnections).Return()
	su.On("Decr", stats.WidgetConnections).Return().Maybe()

	events := make(chan event.Event, 16)
	d := event.NewDispatcher(logger)
	d.Subscribe("capture", func(_ context.Context, e event.Event) error {
		events <- e
		return nil
	})

	handler := &server.MockCommandHandler{}
	p := NewProvider(logger, handler, d, NewTokenIssuer([]byte("secret")), su, origins)
	srv := httptest.NewServer(p)
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		p.Shutdown(ctx)
	})

	return &testEnv{provider: p, handler: handler, events: events, srv: srv}
}

func (e *testEnv) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(e.srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) ServerFrame {
	t.Helper()
	var f ServerFrame
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func isJoin(c types.ExecuteCommand) bool { return c.Command == "join" }

func (e *testEnv) join(t *testing.T, conn *websocket.Conn, token string) (types.ExecuteCommand, ServerFrame) {
	t.Helper()
	var got types.ExecuteCommand
	e.handler.On("Handle", mock.Anything, mock.MatchedBy(isJoin)).
		Run(func(args mock.Arguments) { got = args.Get(1).(types.ExecuteCommand) }).
		Return(types.Info("You joined channel %s", testChannel), nil).Once()

	require.NoError(t, conn.WriteJSON(ClientFrame{
		BaseFrame: BaseFrame{Id: "join-1"},
		Join:      &Join{Channel: testChannel, UserName: "alice", Token: token},
	}))
	f := readFrame(t, conn)
	require.NotNil(t, f.Response)

	n := readFrame(t, conn)
	require.NotNil(t, n.Notification, "expected the join notification after the response")
	assert.Equal(t, "You joined channel "+testChannel, n.Notification.Text)
	return got, f
}

func TestProvider_JoinIssuesToken(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t)

	cmd, f := env.join(t, conn, "")

	assert.Equal(t, "join-1", f.Id)
	assert.Equal(t, http.StatusOK, f.Response.ResponseCode)
	assert.Equal(t, cmd.MemberId, f.Response.Data["member_id"])
	assert.Equal(t, testChannel, cmd.Args)
	assert.Equal(t, "alice", cmd.MemberName)
	assert.Equal(t, ProviderId, cmd.Origin.Provider)

	id, err := env.provider.tokens.Verify(f.Response.Data["token"].(string))
	require.NoError(t, err)
	assert.Equal(t, types.NewMemberId(testChannel, cmd.MemberId), id)
}

func TestProvider_RejoinWithToken(t *testing.T) {
	env := newTestEnv(t)

	first, f := env.join(t, env.dial(t), "")
	token := f.Response.Data["token"].(string)

	second, _ := env.join(t, env.dial(t), token)
	assert.Equal(t, first.MemberId, second.MemberId)
	assert.NotEqual(t, first.Origin, second.Origin)
}

func TestProvider_ReconnectHasNoNotification(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t)
	env.handler.On("Handle", mock.Anything, mock.MatchedBy(isJoin)).Return(nil, nil).Once()

	require.NoError(t, conn.WriteJSON(ClientFrame{
		BaseFrame: BaseFrame{Id: "j"},
		Join:      &Join{Channel: testChannel, UserName: "alice"},
	}))
	f := readFrame(t, conn)
	require.NotNil(t, f.Response)
	assert.Equal(t, http.StatusOK, f.Response.ResponseCode)

	require.NoError(t, conn.WriteJSON(ClientFrame{BaseFrame: BaseFrame{Id: "p"}, Ping: &struct{}{}}))
	f = readFrame(t, conn)
	require.NotNil(t, f.Response, "expected the ping response to follow the join response")
	assert.Equal(t, "p", f.Id)
}

func TestProvider_TokenForOtherChannelIgnored(t *testing.T) {
	env := newTestEnv(t)
	token, err := env.provider.tokens.Issue(types.NewMemberId("another_channel", "bob"))
	require.NoError(t, err)

	cmd, _ := env.join(t, env.dial(t), token)
	assert.NotEqual(t, "bob", cmd.MemberId)
}

func TestProvider_JoinError(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t)
	env.handler.On("Handle", mock.Anything, mock.MatchedBy(isJoin)).
		Return(nil, types.NotFoundf("Channel not found: %s", testChannel))

	require.NoError(t, conn.WriteJSON(ClientFrame{
		BaseFrame: BaseFrame{Id: "j"},
		Join:      &Join{Channel: testChannel, UserName: "alice"},
	}))
	f := readFrame(t, conn)
	require.NotNil(t, f.Response)
	assert.Equal(t, http.StatusNotFound, f.Response.ResponseCode)
	assert.Equal(t, "Channel not found: "+testChannel, f.Response.Error)
}

func TestProvider_TextRequiresJoin(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t)

	require.NoError(t, conn.WriteJSON(ClientFrame{
		BaseFrame: BaseFrame{Id: "t1"},
		Text:      &Text{Text: "hello"},
	}))
	f := readFrame(t, conn)
	require.NotNil(t, f.Response)
	assert.Equal(t, http.StatusConflict, f.Response.ResponseCode)
	env.handler.AssertNotCalled(t, "Handle", mock.Anything, mock.Anything)
}

func TestProvider_InvalidFrame(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	f := readFrame(t, conn)
	require.NotNil(t, f.Response)
	assert.Equal(t, http.StatusBadRequest, f.Response.ResponseCode)

	require.NoError(t, conn.WriteJSON(ClientFrame{BaseFrame: BaseFrame{Id: "empty"}}))
	f = readFrame(t, conn)
	require.NotNil(t, f.Response)
	assert.Equal(t, "empty", f.Id)
	assert.Equal(t, http.StatusBadRequest, f.Response.ResponseCode)
}

func TestProvider_RoutesText(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t)
	joined, _ := env.join(t, conn, "")

	var routed types.RouteMessage
	env.handler.On("Handle", mock.Anything, mock.AnythingOfType("types.RouteMessage")).
		Run(func(args mock.Arguments) { routed = args.Get(1).(types.RouteMessage) }).
		Return(types.Ack{MessageId: "m1", OverrideMessageId: "tg-7"}, nil).Once()

	require.NoError(t, conn.WriteJSON(ClientFrame{
		BaseFrame: BaseFrame{Id: "t1"},
		Text:      &Text{MessageId: "m1", Text: "hello"},
	}))
	f := readFrame(t, conn)
	require.NotNil(t, f.Response)
	assert.Equal(t, http.StatusOK, f.Response.ResponseCode)
	assert.Equal(t, "tg-7", f.Response.Data["override_message_id"])

	assert.Equal(t, joined.Origin, routed.Origin)
	assert.Equal(t, joined.MemberId, routed.MemberId)
	text, ok := routed.Payload.(types.SendText)
	require.True(t, ok)
	assert.Equal(t, "m1", text.Id)
	assert.Equal(t, "hello", text.Text)
	assert.Equal(t, types.ModeNew, text.Mode)
}

func TestProvider_GeneratesMessageId(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t)
	env.join(t, conn, "")

	var routed types.RouteMessage
	env.handler.On("Handle", mock.Anything, mock.AnythingOfType("types.RouteMessage")).
		Run(func(args mock.Arguments) { routed = args.Get(1).(types.RouteMessage) }).
		Return(nil, nil).Once()

	require.NoError(t, conn.WriteJSON(ClientFrame{Text: &Text{Text: "no id"}}))
	f := readFrame(t, conn)
	require.NotNil(t, f.Response)
	assert.NotEmpty(t, routed.Payload.Meta().Id)
	assert.Equal(t, routed.Payload.Meta().Id, f.Response.Data["message_id"])
}

func TestProvider_Command(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t)
	env.handler.On("Handle", mock.Anything, mock.MatchedBy(func(c types.ExecuteCommand) bool {
		return c.Command == "help"
	})).Return(types.Plain("help text"), nil).Once()

	require.NoError(t, conn.WriteJSON(ClientFrame{
		BaseFrame: BaseFrame{Id: "c1"},
		Command:   &Command{Line: "/help"},
	}))

	f := readFrame(t, conn)
	require.NotNil(t, f.Response)
	assert.Equal(t, http.StatusOK, f.Response.ResponseCode)

	f = readFrame(t, conn)
	require.NotNil(t, f.Notification)
	assert.Equal(t, "help text", f.Notification.Text)
}

func TestProvider_Send(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t)
	joined, _ := env.join(t, conn, "")

	resp, err := env.provider.Send(context.Background(), joined.Origin, types.NewText("m2", "hi there", types.Now()))
	require.NoError(t, err)
	assert.Nil(t, resp)

	f := readFrame(t, conn)
	require.NotNil(t, f.Message)
	assert.Equal(t, "m2", f.Message.MessageId)
	assert.Equal(t, "hi there", f.Message.Text)

	_, err = env.provider.Send(context.Background(), types.NewRoute(ProviderId, "gone"), types.NewText("m3", "x", types.Now()))
	assert.True(t, types.IsRouting(err))
}

func TestProvider_DisconnectPublishesEvent(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t)
	joined, _ := env.join(t, conn, "")

	require.NoError(t, conn.Close())

	select {
	case e := <-env.events:
		disconnected, ok := e.(event.MemberDisconnected)
		require.True(t, ok)
		assert.Equal(t, types.NewMemberId(testChannel, joined.MemberId), disconnected.MemberId)
		assert.Equal(t, joined.Origin, disconnected.Route)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for disconnect event")
	}
}

func TestProvider_CheckOrigin(t *testing.T) {
	env := newTestEnv(t, "https://allowed.example")
	url := "ws" + strings.TrimPrefix(env.srv.URL, "http")

	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://allowed.example"}})
	require.NoError(t, err)
	conn.Close()

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
