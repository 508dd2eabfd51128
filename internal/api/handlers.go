package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/lovelink/realtime-relay/internal/auth"
	"github.com/lovelink/realtime-relay/internal/core"
	"github.com/lovelink/realtime-relay/internal/store"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// Pinger is anything the health check can probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

type APIHandler struct {
	presence  *core.PresenceService
	store     store.DataStore
	redis     Pinger
	jwtSecret string
	log       zerolog.Logger
}

// NewAPIHandler wires the HTTP handlers. redis may be nil when no rate limiter is configured.
func NewAPIHandler(presence *core.PresenceService, ds store.DataStore, redis Pinger, jwtSecret string, log zerolog.Logger) *APIHandler {
	return &APIHandler{
		presence:  presence,
		store:     ds,
		redis:     redis,
		jwtSecret: jwtSecret,
		log:       log.With().Str("component", "http").Logger(),
	}
}

func bearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(authHeader, "Bearer ")
}

// JWTAuthMiddleware requires a valid bearer token when a secret is configured and puts
// the token subject on the request context.
func (h *APIHandler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.jwtSecret == "" {
			next.ServeHTTP(w, r)
			return
		}

		tokenString := bearerToken(r)
		if tokenString == "" {
			http.Error(w, "Authorization header is required", http.StatusUnauthorized)
			return
		}
		userID, err := auth.ValidateJWT(h.jwtSecret, tokenString)
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithSubject(r.Context(), userID)))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type Check struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Message string `json:"message,omitempty"`
}

type HealthResponse struct {
	Status    string           `json:"status"`
	Checks    map[string]Check `json:"checks"`
	Timestamp string           `json:"timestamp"`
}

func probe(ctx context.Context, p Pinger) Check {
	start := time.Now()
	if err := p.Ping(ctx); err != nil {
		return Check{Status: "fail", Message: "connection failed"}
	}
	return Check{Status: "pass", Latency: time.Since(start).String()}
}

// Health reports the store and, when configured, Redis.
func (h *APIHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]Check{"store": probe(ctx, h.store)}
	if h.redis != nil {
		checks["redis"] = probe(ctx, h.redis)
	}

	status, code := "healthy", http.StatusOK
	for _, c := range checks {
		if c.Status != "pass" {
			status, code = "degraded", http.StatusServiceUnavailable
		}
	}
	writeJSON(w, code, HealthResponse{
		Status:    status,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Presence returns the same listing the sockets receive as get-users.
func (h *APIHandler) Presence(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.presence.Snapshot())
}

// MatchMessages returns the newest limit messages of a match, oldest first. With auth enabled only
// participants may read it.
func (h *APIHandler) MatchMessages(w http.ResponseWriter, r *http.Request) {
	matchID := chi.URLParam(r, "matchID")

	match, err := h.store.FindMatchByID(r.Context(), matchID)
	if err != nil {
		h.log.Error().Err(err).Str("match_id", matchID).Msg("failed to load match")
		http.Error(w, "Failed to load match", http.StatusInternalServerError)
		return
	}
	if match == nil {
		http.Error(w, "Match not found", http.StatusNotFound)
		return
	}
	if subject, ok := auth.SubjectFromContext(r.Context()); ok && subject != match.User1ID && subject != match.User2ID {
		http.Error(w, "Match not found", http.StatusNotFound)
		return
	}

	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	messages, err := h.store.ListMessages(r.Context(), matchID, limit)
	if err != nil {
		h.log.Error().Err(err).Str("match_id", matchID).Msg("failed to list messages")
		http.Error(w, "Failed to list messages", http.StatusInternalServerError)
		return
	}
	if messages == nil {
		messages = []store.Message{}
	}
	writeJSON(w, http.StatusOK, messages)
}
