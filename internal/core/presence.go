package core

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lovelink/realtime-relay/internal/metrics"
)

const EventGetUsers = "get-users"

// aiSocketPrefix marks the synthetic connection id of a persona presence record.
const aiSocketPrefix = "ai-"

// PresenceRecord is one entry of the get-users push.
type PresenceRecord struct {
	UserID   string `json:"userId"`
	SocketID string `json:"socketId"`
	IsAI     bool   `json:"isAI,omitempty"`
}

// PresenceService owns the roster and the AI presence table and pushes the combined
// listing to every connection whenever either changes.
type PresenceService struct {
	roster       *Roster
	ai           *AIPresence
	users        UserStore
	emitter      Emitter
	clock        Clock
	log          zerolog.Logger
	storeTimeout time.Duration
}

func NewPresenceService(roster *Roster, ai *AIPresence, users UserStore, emitter Emitter, clock Clock, log zerolog.Logger) *PresenceService {
	if clock == nil {
		clock = SystemClock{}
	}
	return &PresenceService{
		roster:       roster,
		ai:           ai,
		users:        users,
		emitter:      emitter,
		clock:        clock,
		log:          log.With().Str("component", "presence").Logger(),
		storeTimeout: 5 * time.Second,
	}
}

// SetStoreTimeout bounds the best-effort online/offline writes.
func (s *PresenceService) SetStoreTimeout(d time.Duration) {
	if d > 0 {
		s.storeTimeout = d
	}
}

// AddUser registers userID on connID, marks the user online in the store and rebroadcasts.
// A different user displaced from connID is marked offline.
func (s *PresenceService) AddUser(userID, connID string) {
	displaced, ok := s.roster.Register(userID, connID)
	metrics.RosterSize.Set(float64(s.roster.Len()))
	s.log.Debug().Str("user_id", userID).Str("conn_id", connID).Msg("user registered")

	if ok {
		s.log.Debug().Str("user_id", displaced).Str("conn_id", connID).Msg("user displaced from connection")
		go s.recordOffline(displaced, s.clock.Now())
	}
	go s.recordOnline(userID)
	s.Broadcast()
}

// RemoveConnection drops the registration held by connID. When one existed, the user is marked
// offline in the store and the roster is rebroadcast.
func (s *PresenceService) RemoveConnection(connID string) (string, bool) {
	userID, ok := s.roster.Unregister(connID)
	if !ok {
		return "", false
	}
	metrics.RosterSize.Set(float64(s.roster.Len()))
	s.log.Debug().Str("user_id", userID).Str("conn_id", connID).Msg("user unregistered")

	go s.recordOffline(userID, s.clock.Now())
	s.Broadcast()
	return userID, true
}

// Find returns the connection of a registered user.
func (s *PresenceService) Find(userID string) (string, bool) {
	return s.roster.Find(userID)
}

// UserFor returns the user registered on connID.
func (s *PresenceService) UserFor(connID string) (string, bool) {
	return s.roster.UserFor(connID)
}

// TouchPersona refreshes the persona's presence and rebroadcasts.
func (s *PresenceService) TouchPersona(personaID string) {
	s.ai.MarkOnline(personaID, s.clock.Now())
	s.Broadcast()
}

// Snapshot returns connected users followed by live personas. A persona that is also
// connected for real appears once, with its real connection.
func (s *PresenceService) Snapshot() []PresenceRecord {
	regs := s.roster.List()
	records := make([]PresenceRecord, 0, len(regs))
	connected := make(map[string]bool, len(regs))
	for _, r := range regs {
		records = append(records, PresenceRecord{UserID: r.UserID, SocketID: r.ConnID})
		connected[r.UserID] = true
	}
	for _, id := range s.ai.ListOnline(s.clock.Now()) {
		if connected[id] {
			continue
		}
		records = append(records, PresenceRecord{UserID: id, SocketID: aiSocketPrefix + id, IsAI: true})
	}
	return records
}

// Broadcast pushes the snapshot to every connection. Nothing is acknowledged or retried.
func (s *PresenceService) Broadcast() {
	metrics.PresenceBroadcasts.Inc()
	s.emitter.EmitAll(EventGetUsers, s.Snapshot())
}

// PushTo sends the snapshot to a single connection.
func (s *PresenceService) PushTo(connID string) bool {
	return s.emitter.Emit(connID, EventGetUsers, s.Snapshot())
}

// Sweep expires stale personas and rebroadcasts if any were dropped.
func (s *PresenceService) Sweep() bool {
	if !s.ai.Sweep(s.clock.Now()) {
		return false
	}
	s.Broadcast()
	return true
}

// RunSweeper sweeps every interval on the service clock until ctx is cancelled.
func (s *PresenceService) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultAISweepInterval
	}

	var (
		mu    sync.Mutex
		timer Timer
		tick  func()
	)
	schedule := func() {
		mu.Lock()
		defer mu.Unlock()
		if ctx.Err() != nil {
			return
		}
		timer = s.clock.AfterFunc(interval, tick)
	}
	tick = func() {
		if ctx.Err() != nil {
			return
		}
		if s.Sweep() {
			s.log.Debug().Msg("expired AI personas swept")
		}
		schedule()
	}

	schedule()
	<-ctx.Done()

	mu.Lock()
	defer mu.Unlock()
	if timer != nil {
		timer.Stop()
	}
}

func (s *PresenceService) recordOnline(userID string) {
	if s.users == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.storeTimeout)
	defer cancel()

	if err := s.users.SetOnlineStatus(ctx, userID, true); err != nil {
		metrics.StoreErrors.WithLabelValues("set_online").Inc()
		s.log.Warn().Err(err).Str("user_id", userID).Msg("failed to mark user online")
	}
}

func (s *PresenceService) recordOffline(userID string, at time.Time) {
	if s.users == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.storeTimeout)
	defer cancel()

	if err := s.users.SetOnlineStatus(ctx, userID, false); err != nil {
		metrics.StoreErrors.WithLabelValues("set_offline").Inc()
		s.log.Warn().Err(err).Str("user_id", userID).Msg("failed to mark user offline")
	}
	if err := s.users.SetLastActive(ctx, userID, at); err != nil {
		metrics.StoreErrors.WithLabelValues("set_last_active").Inc()
		s.log.Warn().Err(err).Str("user_id", userID).Msg("failed to record last active")
	}
}
