package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lovelink/realtime-relay/internal/auth"
	"github.com/lovelink/realtime-relay/internal/core"
	"github.com/lovelink/realtime-relay/internal/store"
)

type failingPinger struct{}

func (failingPinger) Ping(ctx context.Context) error { return errors.New("down") }

func newTestRouter(t *testing.T, ds *store.MemoryStore, redis Pinger, jwtSecret string) (http.Handler, *core.PresenceService) {
	t.Helper()
	log := zerolog.Nop()
	hub := NewHub(nil, jwtSecret, log)
	presence := core.NewPresenceService(core.NewRoster(), core.NewAIPresence(time.Minute), nil, hub, core.SystemClock{}, log)
	handler := NewAPIHandler(presence, ds, redis, jwtSecret, log)
	return NewRouter(handler, hub, nil, log), presence
}

func doRequest(h http.Handler, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	router, _ := newTestRouter(t, store.NewMemoryStore(), nil, "")

	rec := doRequest(router, "/api/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "pass", resp.Checks["store"].Status)
	assert.NotContains(t, resp.Checks, "redis")
}

func TestHealthDegraded(t *testing.T) {
	router, _ := newTestRouter(t, store.NewMemoryStore(), failingPinger{}, "")

	rec := doRequest(router, "/api/health", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "fail", resp.Checks["redis"].Status)
}

func TestPresenceEndpoint(t *testing.T) {
	router, presence := newTestRouter(t, store.NewMemoryStore(), nil, "")
	presence.AddUser("alice", "c1")
	presence.TouchPersona("persona-2")

	rec := doRequest(router, "/api/presence", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var records []core.PresenceRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
	assert.Equal(t, []core.PresenceRecord{
		{UserID: "alice", SocketID: "c1"},
		{UserID: "persona-2", SocketID: "ai-persona-2", IsAI: true},
	}, records)
}

func TestPresenceEndpointRequiresToken(t *testing.T) {
	router, _ := newTestRouter(t, store.NewMemoryStore(), nil, "s3cret")

	assert.Equal(t, http.StatusUnauthorized, doRequest(router, "/api/presence", "").Code)
	assert.Equal(t, http.StatusUnauthorized, doRequest(router, "/api/presence", "garbage").Code)

	token, err := auth.GenerateJWT("s3cret", "alice", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, doRequest(router, "/api/presence", token).Code)

	assert.Equal(t, http.StatusOK, doRequest(router, "/api/health", "").Code, "health stays public")
}

func TestMatchMessages(t *testing.T) {
	ctx := context.Background()
	ds := store.NewMemoryStore()
	match := &store.Match{User1ID: "alice", User2ID: "bob"}
	require.NoError(t, ds.CreateMatch(ctx, match))
	for i, content := range []string{"one", "two", "three"} {
		require.NoError(t, ds.CreateMessage(ctx, &store.Message{
			MatchID:    match.ID,
			SenderID:   "alice",
			ReceiverID: "bob",
			Content:    content,
			CreatedAt:  time.Date(2024, 3, 1, 12, i, 0, 0, time.UTC),
		}))
	}
	router, _ := newTestRouter(t, ds, nil, "")

	rec := doRequest(router, "/api/matches/"+match.ID+"/messages?limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var messages []store.Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &messages))
	require.Len(t, messages, 2)
	assert.Equal(t, "one", messages[0].Content)
	assert.Equal(t, "two", messages[1].Content)

	assert.Equal(t, http.StatusNotFound, doRequest(router, "/api/matches/missing/messages", "").Code)
	assert.Equal(t, http.StatusBadRequest, doRequest(router, "/api/matches/"+match.ID+"/messages?limit=-1", "").Code)
}

func TestMatchMessagesEmpty(t *testing.T) {
	ctx := context.Background()
	ds := store.NewMemoryStore()
	match := &store.Match{User1ID: "alice", User2ID: "bob"}
	require.NoError(t, ds.CreateMatch(ctx, match))
	router, _ := newTestRouter(t, ds, nil, "")

	rec := doRequest(router, "/api/matches/"+match.ID+"/messages", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestMatchMessagesOnlyForParticipants(t *testing.T) {
	ctx := context.Background()
	ds := store.NewMemoryStore()
	match := &store.Match{User1ID: "alice", User2ID: "bob"}
	require.NoError(t, ds.CreateMatch(ctx, match))
	router, _ := newTestRouter(t, ds, nil, "s3cret")

	mallory, err := auth.GenerateJWT("s3cret", "mallory", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, doRequest(router, "/api/matches/"+match.ID+"/messages", mallory).Code)

	bob, err := auth.GenerateJWT("s3cret", "bob", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, doRequest(router, "/api/matches/"+match.ID+"/messages", bob).Code)
}

func TestMetricsEndpoint(t *testing.T) {
	router, _ := newTestRouter(t, store.NewMemoryStore(), nil, "")
	doRequest(router, "/api/health", "")

	rec := doRequest(router, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "relay_http_requests_total")
}
