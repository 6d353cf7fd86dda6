package handlers_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/sessions"
	"github.com/labstack/echo-contrib/session"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfrund/roomchat/internal/chat"
	"github.com/nfrund/roomchat/internal/database/memory"
	"github.com/nfrund/roomchat/internal/domain"
	"github.com/nfrund/roomchat/internal/events"
	"github.com/nfrund/roomchat/internal/handlers"
	"github.com/nfrund/roomchat/internal/middleware"
)

const testSessionSecret = "a-very-secret-key-for-testing-!"

type fakeAuth map[string]domain.Identity

func (a fakeAuth) VerifyCredential(_ context.Context, token string) (domain.Identity, error) {
	if id, ok := a[token]; ok {
		return id, nil
	}
	return domain.Identity{}, domain.Authf("unknown token")
}

type published struct {
	roomID  string
	kind    events.Kind
	payload any
}

// recordingPublisher captures room broadcasts.
type recordingPublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *recordingPublisher) Publish(_ context.Context, roomID string, kind events.Kind, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{roomID, kind, payload})
	return nil
}

func (p *recordingPublisher) kinds() []events.Kind {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.Kind
	for _, e := range p.events {
		out = append(out, e.kind)
	}
	return out
}

type fakePresence map[string]bool

func (f fakePresence) IsOnlineAnywhere(_ context.Context, userID string) bool { return f[userID] }
func (f fakePresence) OnlineUsers() []string {
	var out []string
	for id, on := range f {
		if on {
			out = append(out, id)
		}
	}
	return out
}

type testAPI struct {
	e   *echo.Echo
	pub *recordingPublisher
	svc *chat.Service
}

func setupAPI(t *testing.T) *testAPI {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()
	for _, u := range []domain.User{{ID: "alice", Username: "Alice"}, {ID: "bob", Username: "Bob"}, {ID: "carol", Username: "Carol"}} {
		require.NoError(t, store.Users().Put(ctx, u))
	}
	svc := chat.NewService(store.Rooms(), store.Messages(), store.Users())
	pub := &recordingPublisher{}
	auth := fakeAuth{
		"a": {UserID: "alice", Username: "Alice"},
		"b": {UserID: "bob", Username: "Bob"},
		"c": {UserID: "carol", Username: "Carol"},
	}

	e := echo.New()
	e.Validator = handlers.NewValidator()
	e.HTTPErrorHandler = handlers.ErrorHandler
	e.Use(session.Middleware(sessions.NewCookieStore([]byte(testSessionSecret))))

	e.GET("/healthz", handlers.NewHealthHandler("test", nil).Get)
	sh := handlers.NewSessionHandler(auth)
	rh := handlers.NewRoomHandler(svc, pub)
	mh := handlers.NewMessageHandler(svc, pub)
	uh := handlers.NewUserHandler(svc, fakePresence{"bob": true})

	api := e.Group("/api")
	api.POST("/session", sh.Create)
	api.DELETE("/session", sh.Delete)

	authed := api.Group("", middleware.Auth(auth))
	authed.POST("/rooms", rh.Create)
	authed.GET("/rooms", rh.List)
	authed.GET("/rooms/:id", rh.Get)
	authed.PATCH("/rooms/:id", rh.Update)
	authed.DELETE("/rooms/:id", rh.Delete)
	authed.POST("/rooms/:id/participants", rh.AddParticipant)
	authed.DELETE("/rooms/:id/participants/:userId", rh.RemoveParticipant)
	authed.GET("/rooms/:id/messages", rh.Messages)
	authed.PATCH("/messages/:id", mh.Edit)
	authed.DELETE("/messages/:id", mh.Delete)
	authed.POST("/messages/:id/restore", mh.Restore)
	authed.GET("/me/messages", mh.Mine)
	authed.GET("/users/:id", uh.Get)
	authed.GET("/presence", uh.Online)

	return &testAPI{e: e, pub: pub, svc: svc}
}

func (a *testAPI) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = strings.NewReader(string(data))
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (a *testAPI) createRoom(t *testing.T, token, name string, others ...string) domain.Room {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/api/rooms", token, map[string]any{"name": name, "participantIds": others})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[domain.Room](t, rec)
}

func TestHealth(t *testing.T) {
	a := setupAPI(t)
	rec := a.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[handlers.HealthResponse](t, rec).Status)

	e := echo.New()
	e.GET("/healthz", handlers.NewHealthHandler("i-1", map[string]handlers.HealthCheck{
		"store":  func(context.Context) error { return nil },
		"broker": func(context.Context) error { return errors.New("redis: connection refused") },
	}).Get)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decode[handlers.HealthResponse](t, rec)
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, "ok", body.Checks["store"])
	assert.Contains(t, body.Checks["broker"], "connection refused")
}

func TestErrorResponses(t *testing.T) {
	a := setupAPI(t)

	rec := a.do(t, http.MethodGet, "/api/rooms", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, domain.CodeAuth, decode[handlers.ErrorResponse](t, rec).Code)

	rec = a.do(t, http.MethodGet, "/api/rooms/missing", "a", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, domain.CodeNotFound, decode[handlers.ErrorResponse](t, rec).Code)

	rec = a.do(t, http.MethodPost, "/api/rooms", "a", map[string]any{"name": " "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, domain.CodeValidation, decode[handlers.ErrorResponse](t, rec).Code)

	a.createRoom(t, "a", "general")
	rec = a.do(t, http.MethodPost, "/api/rooms", "b", map[string]any{"name": "general"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = a.do(t, http.MethodGet, "/api/rooms?limit=9999", "a", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(t, http.MethodGet, "/api/nowhere", "a", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusForbidden, handlers.StatusFor(domain.Forbiddenf("x")))
	assert.Equal(t, http.StatusInternalServerError, handlers.StatusFor(io.EOF))
	assert.Equal(t, http.StatusTeapot, handlers.StatusFor(echo.NewHTTPError(http.StatusTeapot)))
}

func TestRoomRoutes(t *testing.T) {
	a := setupAPI(t)
	room := a.createRoom(t, "a", "general", "bob")
	assert.ElementsMatch(t, []string{"alice", "bob"}, room.ParticipantIDs)

	rec := a.do(t, http.MethodGet, "/api/rooms", "b", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[domain.Page[domain.Room]](t, rec)
	require.Len(t, page.Items, 1)
	assert.Equal(t, room.ID, page.Items[0].ID)

	rec = a.do(t, http.MethodGet, "/api/rooms/"+room.ID, "c", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = a.do(t, http.MethodPatch, "/api/rooms/"+room.ID, "b", map[string]any{"name": "hijacked"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = a.do(t, http.MethodPatch, "/api/rooms/"+room.ID, "a", map[string]any{"name": "lobby"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "lobby", decode[domain.Room](t, rec).Name)

	rec = a.do(t, http.MethodPost, "/api/rooms/"+room.ID+"/participants", "b", map[string]any{"userId": "carol"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, decode[domain.Room](t, rec).ParticipantIDs, "carol")

	rec = a.do(t, http.MethodDelete, "/api/rooms/"+room.ID+"/participants/carol", "c", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	// Removing a non-participant succeeds without a broadcast.
	rec = a.do(t, http.MethodDelete, "/api/rooms/"+room.ID+"/participants/carol", "a", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = a.do(t, http.MethodDelete, "/api/rooms/"+room.ID+"?hard=maybe", "a", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = a.do(t, http.MethodDelete, "/api/rooms/"+room.ID, "a", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = a.do(t, http.MethodGet, "/api/rooms/"+room.ID, "a", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	assert.Equal(t, []events.Kind{
		events.KindRoomUpdated,
		events.KindParticipantAdded,
		events.KindParticipantRemoved,
		events.KindRoomUpdated,
	}, a.pub.kinds())
}

func TestMessageRoutes(t *testing.T) {
	ctx := context.Background()
	a := setupAPI(t)
	room := a.createRoom(t, "a", "general", "bob")

	hello, err := a.svc.SendMessage(ctx, domain.Identity{UserID: "alice"}, room.ID, "hello")
	require.NoError(t, err)
	world, err := a.svc.SendMessage(ctx, domain.Identity{UserID: "bob"}, room.ID, "world")
	require.NoError(t, err)

	rec := a.do(t, http.MethodGet, "/api/rooms/"+room.ID+"/messages", "b", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[domain.Page[domain.MessageWithAuthor]](t, rec)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "hello", page.Items[0].Content)
	assert.Equal(t, "Alice", page.Items[0].Author.Username)

	rec = a.do(t, http.MethodGet, "/api/rooms/"+room.ID+"/messages?order=desc&limit=1", "b", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page = decode[domain.Page[domain.MessageWithAuthor]](t, rec)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "world", page.Items[0].Content)
	assert.True(t, page.HasMore)

	rec = a.do(t, http.MethodPatch, "/api/messages/"+hello.ID, "b", map[string]any{"content": "nope"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = a.do(t, http.MethodPatch, "/api/messages/"+hello.ID, "a", map[string]any{"content": "hello!"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hello!", decode[domain.Message](t, rec).Content)

	rec = a.do(t, http.MethodDelete, "/api/messages/"+hello.ID, "a", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[domain.Message](t, rec).IsDeleted)

	rec = a.do(t, http.MethodGet, "/api/rooms/"+room.ID+"/messages?visibleOnly=true", "a", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[domain.Page[domain.MessageWithAuthor]](t, rec).Items, 1)

	rec = a.do(t, http.MethodPost, "/api/messages/"+hello.ID+"/restore", "a", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[domain.Message](t, rec).IsDeleted)

	rec = a.do(t, http.MethodDelete, "/api/messages/"+world.ID+"?purge=true", "b", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = a.do(t, http.MethodGet, "/api/me/messages", "a", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[domain.Page[domain.Message]](t, rec).Total)

	kinds := a.pub.kinds()
	assert.Len(t, kinds, 4)
	for _, k := range kinds {
		assert.Equal(t, events.KindMessageUpdated, k)
	}
	a.pub.mu.Lock()
	last := a.pub.events[len(a.pub.events)-1].payload.(events.MessageUpdatedEvent)
	a.pub.mu.Unlock()
	assert.True(t, last.Purged)
	assert.Equal(t, world.ID, last.Message.ID)
}

func TestUserRoutes(t *testing.T) {
	a := setupAPI(t)

	rec := a.do(t, http.MethodGet, "/api/users/bob", "a", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	user := decode[domain.User](t, rec)
	assert.Equal(t, "Bob", user.Username)
	assert.True(t, user.IsOnline)

	rec = a.do(t, http.MethodGet, "/api/users/carol", "a", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[domain.User](t, rec).IsOnline)

	rec = a.do(t, http.MethodGet, "/api/users/nobody", "a", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = a.do(t, http.MethodGet, "/api/presence", "a", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{"bob"}, decode[map[string]any](t, rec)["onlineUsers"])
}

func TestSessionRoutes(t *testing.T) {
	a := setupAPI(t)

	rec := a.do(t, http.MethodPost, "/api/session", "", map[string]any{"token": "bad"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = a.do(t, http.MethodPost, "/api/session", "", map[string]any{"token": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(t, http.MethodPost, "/api/session", "", map[string]any{"token": "a"})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "alice", decode[handlers.IdentityResponse](t, rec).UserID)
	cookies := rec.Result().Cookies()
	require.NotEmpty(t, cookies)

	req := httptest.NewRequest(http.MethodGet, "/api/rooms", nil)
	for _, ck := range cookies {
		req.AddCookie(ck)
	}
	rec = httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodDelete, "/api/session", nil)
	for _, ck := range cookies {
		req.AddCookie(ck)
	}
	rec = httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
