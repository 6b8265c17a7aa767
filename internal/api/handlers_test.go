package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skillnest/realtime/internal/auth"
	"github.com/skillnest/realtime/internal/broadcast"
	"github.com/skillnest/realtime/internal/chat"
	"github.com/skillnest/realtime/internal/config"
	"github.com/skillnest/realtime/internal/database"
	"github.com/skillnest/realtime/internal/meeting"
	"github.com/skillnest/realtime/internal/notify"
	"github.com/skillnest/realtime/internal/presence"
	"github.com/skillnest/realtime/internal/rooms"
	"github.com/skillnest/realtime/internal/server"
	"github.com/skillnest/realtime/internal/stats"
	"github.com/skillnest/realtime/internal/testutil"
	"github.com/skillnest/realtime/internal/types"
)

const testCookie = "access_token"

var testKey = []byte("0123456789abcdef0123456789abcdef")

type testApp struct {
	app     *GoChatApp
	repo    *database.GormRepository
	backend *broadcast.MemoryBackend
	issuer  *auth.TokenIssuer
}

// newTestApp wires the full stack over SQLite and the in-memory broker.
// Community 10 is owned by alice (1) with bob (2) as member; mallory (3) is
// an outsider.
func newTestApp(t *testing.T) *testApp {
	t.Helper()

	logger := testutil.TestLogger(t)
	repo := testutil.NewTestDB(t)
	testutil.SeedUser(t, repo.DB(), 1, "alice")
	testutil.SeedUser(t, repo.DB(), 2, "bob")
	testutil.SeedUser(t, repo.DB(), 3, "mallory")
	testutil.SeedCommunity(t, repo.DB(), 10, 1, "gophers", 2)

	cfg := &config.Config{
		ServerAddr:     "localhost:0",
		SigningKey:     testKey,
		CookieName:     testCookie,
		AllowedOrigins: []string{"http://localhost:5173"},
	}

	validator, err := auth.NewValidator(auth.ValidatorConfig{SigningKey: testKey, CookieName: testCookie})
	require.NoError(t, err)
	tokens, err := auth.NewMeetingTokens(auth.MeetingTokenConfig{
		AppId:  "skillnest",
		Domain: "meet.example.com",
		Secret: testKey,
		TTL:    time.Hour,
	})
	require.NoError(t, err)

	sp := stats.NopStats{}
	backend := broadcast.NewMemoryBackend()
	router := broadcast.NewRouter(backend, "node-test", logger, sp)
	t.Cleanup(func() { router.Close() })

	registry := presence.NewRegistry(repo, logger, nil)
	authorizer := rooms.NewAuthorizer(repo, registry, logger)
	store := chat.NewStore(repo, logger, chat.StoreOptions{})
	gateway := server.NewGateway(logger, validator, repo, authorizer, router, registry, store, sp,
		server.GatewayOptions{AllowedOrigins: cfg.AllowedOrigins})

	app := NewGoChatApp(http.NewServeMux(), logger, Services{
		DB:         repo,
		Validator:  validator,
		Gateway:    gateway,
		Router:     router,
		Authorizer: authorizer,
		Store:      store,
		Meetings:   meeting.NewService(repo, authorizer, router, tokens, logger, sp),
		Notifier:   notify.NewService(repo, router, logger, sp),
	}, cfg)

	return &testApp{
		app:     app,
		repo:    repo,
		backend: backend,
		issuer:  auth.NewTokenIssuer(testKey, time.Hour, nil),
	}
}

func (ta *testApp) do(t *testing.T, userId int, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if userId > 0 {
		token, err := ta.issuer.Issue(userId)
		require.NoError(t, err)
		req.AddCookie(&http.Cookie{Name: testCookie, Value: token})
	}

	rr := httptest.NewRecorder()
	ta.app.Handler().ServeHTTP(rr, req)
	return rr
}

func (ta *testApp) roomId(t *testing.T) string {
	t.Helper()

	rr := ta.do(t, 1, http.MethodGet, "/api/communities/10/room", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var room types.Room
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &room))
	return room.Id
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func Test_healthCheck(t *testing.T) {
	ta := newTestApp(t)

	rr := ta.do(t, 0, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "OK", rr.Body.String())

	require.NoError(t, ta.backend.Close())
	rr = ta.do(t, 0, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func Test_getCommunityRoom(t *testing.T) {
	tcases := []struct {
		name   string
		userId int
		path   string
		status int
	}{
		{"creator", 1, "/api/communities/10/room", http.StatusOK},
		{"member", 2, "/api/communities/10/room", http.StatusOK},
		{"outsider", 3, "/api/communities/10/room", http.StatusForbidden},
		{"unauthenticated", 0, "/api/communities/10/room", http.StatusUnauthorized},
		{"unknown community", 1, "/api/communities/99/room", http.StatusNotFound},
		{"bad id", 1, "/api/communities/abc/room", http.StatusBadRequest},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			ta := newTestApp(t)
			rr := ta.do(t, tc.userId, http.MethodGet, tc.path, nil)
			assert.Equal(t, tc.status, rr.Code, rr.Body.String())
		})
	}

	t.Run("same room for every member", func(t *testing.T) {
		ta := newTestApp(t)
		first := decode[types.Room](t, ta.do(t, 1, http.MethodGet, "/api/communities/10/room", nil))
		second := decode[types.Room](t, ta.do(t, 2, http.MethodGet, "/api/communities/10/room", nil))
		assert.Equal(t, first.Id, second.Id)
		assert.Equal(t, 10, first.CommunityId)
	})
}

func TestMessagesHandlers(t *testing.T) {
	ta := newTestApp(t)
	roomId := ta.roomId(t)
	path := "/api/rooms/" + roomId + "/messages"

	for _, content := range []string{"one", "two", "three"} {
		rr := ta.do(t, 1, http.MethodPost, path, CreateMessageRequest{Content: content, MessageType: "text"})
		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
		msg := decode[types.Message](t, rr)
		assert.Equal(t, content, msg.Content)
		assert.Equal(t, "alice", msg.Sender.Username)
	}

	t.Run("latest page", func(t *testing.T) {
		page := decode[types.MessagePage](t, ta.do(t, 2, http.MethodGet, path+"?limit=2", nil))
		require.Len(t, page.Messages, 2)
		assert.Equal(t, "two", page.Messages[0].Content)
		assert.Equal(t, "three", page.Messages[1].Content)
		assert.True(t, page.HasMore)
		require.NotEmpty(t, page.NextCursor)

		older := decode[types.MessagePage](t, ta.do(t, 2, http.MethodGet, path+"?limit=2&before="+page.NextCursor, nil))
		require.Len(t, older.Messages, 1)
		assert.Equal(t, "one", older.Messages[0].Content)
		assert.False(t, older.HasMore)
	})

	t.Run("validation", func(t *testing.T) {
		tcases := []struct {
			name   string
			userId int
			method string
			path   string
			body   any
			status int
		}{
			{"empty content", 1, http.MethodPost, path, CreateMessageRequest{MessageType: "text"}, http.StatusBadRequest},
			{"system type", 2, http.MethodPost, path, CreateMessageRequest{Content: "alice left the room", MessageType: "system"}, http.StatusBadRequest},
			{"bad json", 1, http.MethodPost, path, "nope", http.StatusBadRequest},
			{"outsider post", 3, http.MethodPost, path, CreateMessageRequest{Content: "hi"}, http.StatusForbidden},
			{"outsider read", 3, http.MethodGet, path, nil, http.StatusForbidden},
			{"bad cursor", 1, http.MethodGet, path + "?before=!!", nil, http.StatusBadRequest},
			{"both cursors", 1, http.MethodGet, path + "?before=MTox&after=MTox", nil, http.StatusBadRequest},
			{"bad limit", 1, http.MethodGet, path + "?limit=x", nil, http.StatusBadRequest},
			{"unknown room", 1, http.MethodGet, "/api/rooms/nope/messages", nil, http.StatusNotFound},
		}

		for _, tc := range tcases {
			t.Run(tc.name, func(t *testing.T) {
				rr := ta.do(t, tc.userId, tc.method, tc.path, tc.body)
				assert.Equal(t, tc.status, rr.Code, rr.Body.String())
			})
		}

		page := decode[types.MessagePage](t, ta.do(t, 1, http.MethodGet, path+"?limit=10", nil))
		assert.Len(t, page.Messages, 3, "rejected posts are not stored")
	})
}

func Test_editMessage(t *testing.T) {
	ta := newTestApp(t)
	roomId := ta.roomId(t)

	rr := ta.do(t, 1, http.MethodPost, "/api/rooms/"+roomId+"/messages", CreateMessageRequest{Content: "helo"})
	require.Equal(t, http.StatusCreated, rr.Code)
	msg := decode[types.Message](t, rr)

	rr = ta.do(t, 2, http.MethodPatch, "/api/messages/"+msg.Id, EditMessageRequest{Content: "hacked"})
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = ta.do(t, 1, http.MethodPatch, "/api/messages/"+msg.Id, EditMessageRequest{Content: "hello"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	edited := decode[types.Message](t, rr)
	assert.Equal(t, "hello", edited.Content)
	assert.True(t, edited.IsEdited)
	assert.NotNil(t, edited.EditedAt)

	rr = ta.do(t, 1, http.MethodPatch, "/api/messages/missing", EditMessageRequest{Content: "x"})
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func Test_getMembers(t *testing.T) {
	ta := newTestApp(t)
	roomId := ta.roomId(t)

	members := decode[[]types.Member](t, ta.do(t, 2, http.MethodGet, "/api/rooms/"+roomId+"/members", nil))
	require.Len(t, members, 2)
	assert.Equal(t, "alice", members[0].Username)
	assert.True(t, members[0].IsCreator)
	assert.Equal(t, "bob", members[1].Username)
	assert.False(t, members[1].IsOnline)

	rr := ta.do(t, 3, http.MethodGet, "/api/rooms/"+roomId+"/members", nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestMeetingHandlers(t *testing.T) {
	ta := newTestApp(t)

	rr := ta.do(t, 0, http.MethodGet, "/api/communities/10/meeting", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = ta.do(t, 1, http.MethodGet, "/api/communities/10/meeting", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = ta.do(t, 2, http.MethodPost, "/api/meetings", CreateMeetingRequest{CommunityId: 10})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	created := decode[types.JoinInfo](t, rr)
	assert.False(t, created.AlreadyActive)
	assert.Equal(t, "skillnest", created.AppId)
	assert.Equal(t, "meet.example.com", created.Domain)
	assert.NotEmpty(t, created.Token)
	assert.Contains(t, created.RoomName, "skillnest-10-")

	rr = ta.do(t, 1, http.MethodPost, "/api/meetings", CreateMeetingRequest{CommunityId: 10})
	require.Equal(t, http.StatusOK, rr.Code)
	again := decode[types.JoinInfo](t, rr)
	assert.True(t, again.AlreadyActive)
	assert.Equal(t, created.MeetingId, again.MeetingId)

	active := decode[types.JoinInfo](t, ta.do(t, 1, http.MethodGet, "/api/communities/10/meeting", nil))
	assert.Equal(t, created.MeetingId, active.MeetingId)

	rr = ta.do(t, 3, http.MethodPost, "/api/meetings", CreateMeetingRequest{CommunityId: 10})
	assert.Equal(t, http.StatusForbidden, rr.Code)
	rr = ta.do(t, 1, http.MethodPost, "/api/meetings", CreateMeetingRequest{})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	// bob hosts, so alice ends it as community creator.
	rr = ta.do(t, 1, http.MethodPatch, "/api/meetings/"+created.MeetingId, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	ended := decode[types.Meeting](t, rr)
	assert.False(t, ended.IsActive)
	require.NotNil(t, ended.EndedAt)

	rr = ta.do(t, 1, http.MethodGet, "/api/communities/10/meeting", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	rr = ta.do(t, 1, http.MethodPatch, "/api/meetings/unknown", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestNotificationHandlers(t *testing.T) {
	ta := newTestApp(t)
	postId := 7

	rr := ta.do(t, 1, http.MethodPost, "/api/notifications", CreateNotificationRequest{RecipientId: 2, Type: "like", PostId: &postId})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	created := decode[types.Notification](t, rr)
	assert.Equal(t, "alice", created.Sender.Username)
	assert.Equal(t, "like", created.Type)

	rr = ta.do(t, 1, http.MethodPost, "/api/notifications", CreateNotificationRequest{RecipientId: 2, Type: "comment"})
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = ta.do(t, 1, http.MethodPost, "/api/notifications", CreateNotificationRequest{RecipientId: 2, Type: "poke"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	list := decode[NotificationList](t, ta.do(t, 2, http.MethodGet, "/api/notifications?unread=true", nil))
	assert.Len(t, list.Notifications, 2)
	assert.EqualValues(t, 2, list.UnreadCount)

	readFalse := false
	rr = ta.do(t, 2, http.MethodPatch, "/api/notifications/"+strconv.Itoa(created.Id), MarkReadRequest{})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.True(t, decode[types.Notification](t, rr).Read)

	rr = ta.do(t, 2, http.MethodPatch, "/api/notifications/"+strconv.Itoa(created.Id), MarkReadRequest{Read: &readFalse})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.False(t, decode[types.Notification](t, rr).Read)

	rr = ta.do(t, 1, http.MethodPatch, "/api/notifications/"+strconv.Itoa(created.Id), MarkReadRequest{})
	assert.Equal(t, http.StatusNotFound, rr.Code, "only the recipient may mark a notification")

	rr = ta.do(t, 2, http.MethodPost, "/api/notifications/read-all", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.EqualValues(t, 2, decode[map[string]int64](t, rr)["updated"])

	list = decode[NotificationList](t, ta.do(t, 2, http.MethodGet, "/api/notifications?unread=true", nil))
	assert.Empty(t, list.Notifications)
	assert.EqualValues(t, 0, list.UnreadCount)

	rr = ta.do(t, 2, http.MethodGet, "/api/notifications?unread=maybe", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestServeWsRefusesWithoutCookie(t *testing.T) {
	ta := newTestApp(t)
	roomId := ta.roomId(t)

	srv := httptest.NewServer(ta.app.Handler())
	defer srv.Close()

	for _, path := range []string{
		"/ws/community/" + roomId + "/",
		"/ws/community/10/meeting/",
		"/ws/notifications/",
	} {
		t.Run(path, func(t *testing.T) {
			req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, srv.URL+path, nil)
			require.NoError(t, err)
			req.Header.Set("Connection", "Upgrade")
			req.Header.Set("Upgrade", "websocket")
			req.Header.Set("Sec-WebSocket-Version", "13")
			req.Header.Set("Sec-WebSocket-Key", "dGhlIHNhbXBsZSBub25jZQ==")

			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
			var ce server.ConnectError
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&ce))
			assert.Equal(t, server.CloseAuthenticationFailed, ce.CloseCode)
		})
	}
}
