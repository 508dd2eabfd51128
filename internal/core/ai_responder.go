package core

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/lovelink/realtime-relay/internal/metrics"
	"github.com/lovelink/realtime-relay/internal/store"
)

// ErrMissingConversation rejects AI-directed messages that carry no conversation id. Replies
// are threaded on that id, so inventing one would orphan the reply.
var ErrMissingConversation = errors.New("AI-directed message has no conversation id")

// AIRequest is one inbound message addressed to a persona that is not connected.
type AIRequest struct {
	Text           string
	PersonaID      string
	SenderConnID   string
	SenderUserID   string
	ConversationID string
	MessageID      string
}

type ResponderDelays struct {
	ReadReceipt time.Duration
	ReplyMin    time.Duration
	ReplyMax    time.Duration
	Fallback    time.Duration
}

var DefaultResponderDelays = ResponderDelays{
	ReadReceipt: time.Second,
	ReplyMin:    3 * time.Second,
	ReplyMax:    6 * time.Second,
	Fallback:    2 * time.Second,
}

type ResponderOptions struct {
	Presence     *PresenceService
	Provider     Provider
	Personas     *PersonaSelector
	Language     *LanguageDetector
	Messages     MessageStore
	Matches      MatchStore
	Emitter      Emitter
	Clock        Clock
	Delays       ResponderDelays
	StoreTimeout time.Duration
	Logger       zerolog.Logger
}

// Responder impersonates personas. Each Respond call is independent of every other: two quick
// messages to the same persona get two replies in no guaranteed order.
type Responder struct {
	presence     *PresenceService
	provider     Provider
	personas     *PersonaSelector
	language     *LanguageDetector
	messages     MessageStore
	matches      MatchStore
	emitter      Emitter
	clock        Clock
	delays       ResponderDelays
	storeTimeout time.Duration
	log          zerolog.Logger

	jitter func(min, max time.Duration) time.Duration
	spawn  func(func())
}

func NewResponder(opts ResponderOptions) *Responder {
	r := &Responder{
		presence:     opts.Presence,
		provider:     opts.Provider,
		personas:     opts.Personas,
		language:     opts.Language,
		messages:     opts.Messages,
		matches:      opts.Matches,
		emitter:      opts.Emitter,
		clock:        opts.Clock,
		delays:       opts.Delays,
		storeTimeout: opts.StoreTimeout,
		log:          opts.Logger.With().Str("component", "ai_responder").Logger(),
		jitter:       uniformDelay,
		spawn:        func(f func()) { go f() },
	}
	if r.clock == nil {
		r.clock = SystemClock{}
	}
	if r.delays == (ResponderDelays{}) {
		r.delays = DefaultResponderDelays
	}
	if r.storeTimeout <= 0 {
		r.storeTimeout = 5 * time.Second
	}
	if r.personas == nil {
		r.personas = &PersonaSelector{}
	}
	if r.language == nil {
		r.language = NewLanguageDetector(nil)
	}
	return r
}

func uniformDelay(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + rand.N(max-min+1)
}

// Respond refreshes the persona's presence, schedules the read receipt and starts generation.
// It returns once the provider call has been handed off.
func (r *Responder) Respond(req AIRequest) error {
	if req.ConversationID == "" {
		metrics.AIReplies.WithLabelValues("rejected").Inc()
		return ErrMissingConversation
	}

	r.presence.TouchPersona(req.PersonaID)
	r.presence.PushTo(req.SenderConnID)

	r.clock.AfterFunc(r.delays.ReadReceipt, func() {
		r.emitter.Emit(r.senderConn(req), EventUpdateMessage, MessageUpdate{
			MessageID: req.MessageID,
			Updates:   map[string]any{"isRead": true},
		})
	})

	r.spawn(func() { r.generate(req) })
	return nil
}

// senderConn prefers the sender's current registration so a reply follows a reconnect.
func (r *Responder) senderConn(req AIRequest) string {
	if connID, ok := r.presence.Find(req.SenderUserID); ok {
		return connID
	}
	return req.SenderConnID
}

func (r *Responder) generate(req AIRequest) {
	persona := r.personas.Select(req.PersonaID)
	prompt := BuildSystemPrompt(persona, r.language.IsLocal(req.Text))

	start := time.Now()
	text, err := r.provider.Generate(context.Background(), prompt, req.Text)
	metrics.ProviderLatency.WithLabelValues(r.provider.Name()).Observe(time.Since(start).Seconds())

	if err == nil {
		var ok bool
		if text, ok = CleanReply(text); !ok {
			err = &ProviderError{
				Provider: r.provider.Name(),
				Details:  fmt.Sprintf("reply %q rejected", text),
				Err:      ErrUnusableReply,
			}
		}
	}
	if err != nil {
		r.fallback(req, err)
		return
	}

	r.clock.AfterFunc(r.jitter(r.delays.ReplyMin, r.delays.ReplyMax), func() {
		r.deliver(req, text)
	})
}

// deliver persists the generated reply, updates the match and pushes the stored document.
// Store failures are logged and the reply is still pushed.
func (r *Responder) deliver(req AIRequest, text string) {
	log := r.log.With().
		Str("persona_id", req.PersonaID).
		Str("match_id", req.ConversationID).
		Logger()

	now := r.clock.Now().UTC()
	msg := &store.Message{
		ID:         uuid.NewString(),
		MatchID:    req.ConversationID,
		SenderID:   req.PersonaID,
		ReceiverID: req.SenderUserID,
		Content:    text,
		Type:       store.MessageTypeText,
		CreatedAt:  now,
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.storeTimeout)
	defer cancel()

	if err := r.messages.CreateMessage(ctx, msg); err != nil {
		metrics.StoreErrors.WithLabelValues("create_message").Inc()
		log.Error().Err(err).Msg("failed to persist AI reply")
	}
	if err := r.matches.TouchLastMessageAt(ctx, req.ConversationID, now); err != nil {
		metrics.StoreErrors.WithLabelValues("touch_match").Inc()
		log.Warn().Err(err).Msg("failed to update match activity")
	}
	if err := r.matches.IncrementUnread(ctx, req.ConversationID, req.SenderUserID); err != nil {
		metrics.StoreErrors.WithLabelValues("increment_unread").Inc()
		log.Warn().Err(err).Msg("failed to increment unread count")
	}

	metrics.AIReplies.WithLabelValues("success").Inc()
	r.emitter.Emit(r.senderConn(req), EventReceiveMessage, msg)
}

// fallback sends a scripted reply in the register of the original message. It is relay-only:
// nothing is written to the store.
func (r *Responder) fallback(req AIRequest, cause error) {
	ev := r.log.Warn().
		Err(cause).
		Str("error_type", fmt.Sprintf("%T", cause)).
		Str("persona_id", req.PersonaID).
		Str("match_id", req.ConversationID)
	var perr *ProviderError
	if errors.As(cause, &perr) {
		ev = ev.Str("provider", perr.Provider)
		if perr.Status != 0 {
			ev = ev.Int("status", perr.Status)
		}
		if perr.Details != "" {
			ev = ev.Str("details", perr.Details)
		}
	}
	ev.Msg("AI reply failed, sending fallback")

	content := r.language.Fallback(req.Text)
	r.clock.AfterFunc(r.delays.Fallback, func() {
		metrics.AIReplies.WithLabelValues("fallback").Inc()
		r.emitter.Emit(r.senderConn(req), EventReceiveMessage, &store.Message{
			ID:          ulid.Make().String(),
			MatchID:     req.ConversationID,
			SenderID:    req.PersonaID,
			ReceiverID:  req.SenderUserID,
			Content:     content,
			Type:        store.MessageTypeText,
			IsDelivered: true,
			CreatedAt:   r.clock.Now().UTC(),
		})
	})
}
