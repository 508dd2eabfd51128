package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/lovelink/realtime-relay/internal/auth"
	"github.com/lovelink/realtime-relay/internal/metrics"
)

var (
	ErrUnknownEvent  = errors.New("unknown event")
	ErrUserMismatch  = errors.New("userId does not match the authenticated subject")
	ErrMissingUserID = errors.New("userId is required")
)

// AIResponder is the part of Responder the dispatcher depends on.
type AIResponder interface {
	Respond(req AIRequest) error
}

// Dispatcher routes inbound socket events to their destination connection.
//
// Delivery is best effort and real time only: when the destination is not connected (and is not
// an AI persona) the event is dropped and the sender is not told. Messages are made durable by the
// HTTP API writing to the document store, not by this relay, so there is no queue to add here.
type Dispatcher struct {
	presence     *PresenceService
	responder    AIResponder
	matches      MatchStore
	emitter      Emitter
	limiter      SendLimiter
	storeTimeout time.Duration
	log          zerolog.Logger
}

func NewDispatcher(presence *PresenceService, responder AIResponder, matches MatchStore, emitter Emitter, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		presence:     presence,
		responder:    responder,
		matches:      matches,
		emitter:      emitter,
		storeTimeout: 5 * time.Second,
		log:          log.With().Str("component", "relay").Logger(),
	}
}

// SetLimiter installs a per-sender limit on AI-directed sends.
func (d *Dispatcher) SetLimiter(l SendLimiter) {
	d.limiter = l
}

func (d *Dispatcher) SetStoreTimeout(t time.Duration) {
	if t > 0 {
		d.storeTimeout = t
	}
}

// HandleEvent dispatches one inbound event received on connID.
func (d *Dispatcher) HandleEvent(ctx context.Context, connID, event string, data json.RawMessage) error {
	switch event {
	case EventAddUser:
		metrics.InboundEvents.WithLabelValues(event).Inc()
		return d.addUser(ctx, connID, data)
	case EventSendMessage:
		metrics.InboundEvents.WithLabelValues(event).Inc()
		return d.sendMessage(ctx, connID, data)
	case EventUpdateMessage:
		metrics.InboundEvents.WithLabelValues(event).Inc()
		p, err := decode[UpdateMessagePayload](event, data)
		if err != nil {
			return err
		}
		d.forward(event, p.To, EventUpdateMessage, MessageUpdate{MessageID: p.MessageID, Updates: p.Updates})
		return nil
	case EventSendNotification:
		metrics.InboundEvents.WithLabelValues(event).Inc()
		p, err := decode[NotificationPayload](event, data)
		if err != nil {
			return err
		}
		d.forward(event, p.To, EventReceiveNotification, p.Notification)
		return nil
	case EventRequestVoicePermission:
		metrics.InboundEvents.WithLabelValues(event).Inc()
		p, err := decode[VoicePermissionPayload](event, data)
		if err != nil {
			return err
		}
		d.forward(event, p.To, EventVoicePermissionRequested, VoicePermissionRequest{From: p.From, Name: p.Name})
		return nil
	case EventVoicePermissionAccepted:
		metrics.InboundEvents.WithLabelValues(event).Inc()
		return d.voicePermissionAccepted(ctx, data)
	case EventVoicePermissionRejected:
		metrics.InboundEvents.WithLabelValues(event).Inc()
		p, err := decode[VoicePermissionPayload](event, data)
		if err != nil {
			return err
		}
		d.forward(event, p.To, EventVoicePermissionDenied, VoicePermissionReply{From: p.From})
		return nil
	case EventCallUser:
		metrics.InboundEvents.WithLabelValues(event).Inc()
		p, err := decode[CallUserPayload](event, data)
		if err != nil {
			return err
		}
		d.forward(event, p.UserToCall, EventCallMade, CallMade{Signal: p.SignalData, From: p.From, Name: p.Name})
		return nil
	case EventAnswerCall:
		metrics.InboundEvents.WithLabelValues(event).Inc()
		p, err := decode[AnswerCallPayload](event, data)
		if err != nil {
			return err
		}
		d.forward(event, p.To, EventCallAnswered, CallAnswered{Signal: p.Signal})
		return nil
	case EventRejectCall:
		metrics.InboundEvents.WithLabelValues(event).Inc()
		p, err := decode[RejectCallPayload](event, data)
		if err != nil {
			return err
		}
		from, _ := d.presence.UserFor(connID)
		d.forward(event, p.To, EventCallRejected, CallRejected{From: from})
		return nil
	case EventICECandidate:
		metrics.InboundEvents.WithLabelValues(event).Inc()
		p, err := decode[ICECandidatePayload](event, data)
		if err != nil {
			return err
		}
		d.forward(event, p.To, EventICECandidate, ICECandidate{Candidate: p.Candidate})
		return nil
	default:
		metrics.InboundEvents.WithLabelValues("unknown").Inc()
		return fmt.Errorf("%w: %q", ErrUnknownEvent, event)
	}
}

// HandleDisconnect runs when the transport connection closes.
func (d *Dispatcher) HandleDisconnect(connID string) {
	d.presence.RemoveConnection(connID)
}

func (d *Dispatcher) addUser(ctx context.Context, connID string, data json.RawMessage) error {
	p, err := decode[AddUserPayload](EventAddUser, data)
	if err != nil {
		return err
	}
	if p.UserID == "" {
		return ErrMissingUserID
	}
	if subject, ok := auth.SubjectFromContext(ctx); ok && subject != p.UserID {
		return ErrUserMismatch
	}
	d.presence.AddUser(p.UserID, connID)
	return nil
}

func (d *Dispatcher) sendMessage(ctx context.Context, connID string, data json.RawMessage) error {
	msg, err := decode[ChatMessage](EventSendMessage, data)
	if err != nil {
		return err
	}

	if dest, ok := d.presence.Find(msg.To); ok {
		if !d.emitter.Emit(dest, EventReceiveMessage, data) {
			metrics.RelayDrops.WithLabelValues(EventSendMessage).Inc()
		}
		return nil
	}
	if !msg.IsAI {
		d.drop(EventSendMessage, msg.To)
		return nil
	}

	sender := msg.SenderID
	if registered, ok := d.presence.UserFor(connID); ok {
		sender = registered
	}

	if d.limiter != nil {
		allowed, err := d.limiter.Allow(ctx, sender)
		if err != nil {
			d.log.Warn().Err(err).Str("user_id", sender).Msg("rate limiter unavailable, allowing AI send")
		} else if !allowed {
			metrics.AIReplies.WithLabelValues("rate_limited").Inc()
			d.log.Info().Str("user_id", sender).Str("persona_id", msg.To).Msg("AI send rate limited, dropped")
			return nil
		}
	}

	return d.responder.Respond(AIRequest{
		Text:           msg.Content,
		PersonaID:      msg.To,
		SenderConnID:   connID,
		SenderUserID:   sender,
		ConversationID: msg.MatchID,
		MessageID:      msg.ID,
	})
}

// voicePermissionAccepted enables voice calls on the pair's match before relaying the grant.
// The store update happens whether or not the requester is still connected.
func (d *Dispatcher) voicePermissionAccepted(ctx context.Context, data json.RawMessage) error {
	p, err := decode[VoicePermissionPayload](EventVoicePermissionAccepted, data)
	if err != nil {
		return err
	}

	storeCtx, cancel := context.WithTimeout(ctx, d.storeTimeout)
	defer cancel()

	log := d.log.With().Str("from", p.From).Str("to", p.To).Logger()
	match, err := d.matches.FindMatchByParticipants(storeCtx, p.To, p.From)
	switch {
	case err != nil:
		metrics.StoreErrors.WithLabelValues("find_match").Inc()
		log.Warn().Err(err).Msg("failed to look up match for voice permission")
	case match == nil:
		log.Warn().Msg("no match between voice call participants")
	default:
		if err := d.matches.SetVoiceCallEnabled(storeCtx, match.ID, true); err != nil {
			metrics.StoreErrors.WithLabelValues("enable_voice").Inc()
			log.Warn().Err(err).Str("match_id", match.ID).Msg("failed to enable voice calls")
		}
	}

	d.forward(EventVoicePermissionAccepted, p.To, EventVoicePermissionGranted, VoicePermissionReply{From: p.From})
	return nil
}

func (d *Dispatcher) forward(event, to, outEvent string, payload any) {
	dest, ok := d.presence.Find(to)
	if !ok {
		d.drop(event, to)
		return
	}
	if !d.emitter.Emit(dest, outEvent, payload) {
		metrics.RelayDrops.WithLabelValues(event).Inc()
	}
}

func (d *Dispatcher) drop(event, to string) {
	metrics.RelayDrops.WithLabelValues(event).Inc()
	d.log.Debug().Str("event", event).Str("to", to).Msg("destination offline, dropped")
}

func decode[T any](event string, data json.RawMessage) (T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("invalid %s payload: %w", event, err)
	}
	return v, nil
}
