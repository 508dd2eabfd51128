package core

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lovelink/realtime-relay/internal/store"
)

type responderFixture struct {
	responder *Responder
	presence  *PresenceService
	provider  *fakeProvider
	emitter   *recordingEmitter
	clock     *fakeClock
	store     *store.MemoryStore
	match     *store.Match
}

func newResponderFixture(t *testing.T, provider *fakeProvider) *responderFixture {
	t.Helper()
	ctx := context.Background()

	clock := newFakeClock()
	emitter := newRecordingEmitter()
	ds := store.NewMemoryStore()
	presence := NewPresenceService(NewRoster(), NewAIPresence(5*time.Minute), nil, emitter, clock, nopLogger())

	match := &store.Match{User1ID: "alice", User2ID: "persona-2"}
	require.NoError(t, ds.CreateMatch(ctx, match))

	personas, err := NewPersonaSelector(nil)
	require.NoError(t, err)

	r := NewResponder(ResponderOptions{
		Presence: presence,
		Provider: provider,
		Personas: personas,
		Language: NewLanguageDetector(nil),
		Messages: ds,
		Matches:  ds,
		Emitter:  emitter,
		Clock:    clock,
		Logger:   nopLogger(),
	})
	r.spawn = func(f func()) { f() }
	r.jitter = func(min, max time.Duration) time.Duration { return max }

	presence.AddUser("alice", "c1")

	return &responderFixture{
		responder: r,
		presence:  presence,
		provider:  provider,
		emitter:   emitter,
		clock:     clock,
		store:     ds,
		match:     match,
	}
}

func (f *responderFixture) request(text string) AIRequest {
	return AIRequest{
		Text:           text,
		PersonaID:      "persona-2",
		SenderConnID:   "c1",
		SenderUserID:   "alice",
		ConversationID: f.match.ID,
		MessageID:      "m1",
	}
}

func TestResponderDeliversGeneratedReply(t *testing.T) {
	f := newResponderFixture(t, &fakeProvider{reply: "  \"hi! how was your day?\" "})
	ctx := context.Background()

	require.NoError(t, f.responder.Respond(f.request("hello")))

	f.clock.Advance(time.Second)
	receipts := f.emitter.To("c1", EventUpdateMessage)
	require.Len(t, receipts, 1)
	assert.Equal(t, MessageUpdate{MessageID: "m1", Updates: map[string]any{"isRead": true}}, receipts[0])
	assert.Empty(t, f.emitter.To("c1", EventReceiveMessage), "reply waits for its delay")

	f.clock.Advance(5 * time.Second)
	replies := f.emitter.To("c1", EventReceiveMessage)
	require.Len(t, replies, 1)
	msg := replies[0].(*store.Message)
	assert.Equal(t, "hi! how was your day?", msg.Content)
	assert.Equal(t, f.match.ID, msg.MatchID)
	assert.Equal(t, "persona-2", msg.SenderID)
	assert.Equal(t, "alice", msg.ReceiverID)
	assert.Equal(t, store.MessageTypeText, msg.Type)
	assert.False(t, msg.IsRead)
	assert.Equal(t, testEpoch.Add(6*time.Second), msg.CreatedAt)

	stored, err := f.store.ListMessages(ctx, f.match.ID, 10)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, msg.ID, stored[0].ID)

	m, err := f.store.FindMatchByID(ctx, f.match.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, m.UnreadCount1, "the human participant gets the unread count")
	assert.Equal(t, 0, m.UnreadCount2)
	assert.Equal(t, testEpoch.Add(6*time.Second), m.LastMessageAt)
}

func TestResponderMarksPersonaOnline(t *testing.T) {
	f := newResponderFixture(t, &fakeProvider{reply: "hey"})

	require.NoError(t, f.responder.Respond(f.request("hello")))

	want := []PresenceRecord{
		{UserID: "alice", SocketID: "c1"},
		{UserID: "persona-2", SocketID: "ai-persona-2", IsAI: true},
	}
	assert.Equal(t, want, f.emitter.LastBroadcast())
	pushed := f.emitter.To("c1", EventGetUsers)
	require.NotEmpty(t, pushed)
	assert.Equal(t, want, pushed[len(pushed)-1])
}

func TestResponderFallbackOnProviderError(t *testing.T) {
	provider := &fakeProvider{err: &ProviderError{Provider: "fake", Status: http.StatusServiceUnavailable, Details: "overloaded"}}
	f := newResponderFixture(t, provider)

	require.NoError(t, f.responder.Respond(f.request("are you there?")))

	f.clock.Advance(time.Second)
	assert.Len(t, f.emitter.To("c1", EventUpdateMessage), 1, "read receipt fires on the failure path too")
	assert.Empty(t, f.emitter.To("c1", EventReceiveMessage))

	f.clock.Advance(time.Second)
	replies := f.emitter.To("c1", EventReceiveMessage)
	require.Len(t, replies, 1)
	msg := replies[0].(*store.Message)
	assert.Equal(t, FallbackEnglish, msg.Content)
	assert.Equal(t, f.match.ID, msg.MatchID)
	assert.Equal(t, "persona-2", msg.SenderID)
	assert.Equal(t, "alice", msg.ReceiverID)
	assert.True(t, msg.IsDelivered)
	assert.NotEmpty(t, msg.ID)

	stored, err := f.store.ListMessages(context.Background(), f.match.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, stored, "fallback replies are not persisted")
	assert.Zero(t, f.clock.Pending())
}

func TestResponderFallbackMatchesRegister(t *testing.T) {
	f := newResponderFixture(t, &fakeProvider{err: errors.New("network down")})

	require.NoError(t, f.responder.Respond(f.request("kaise ho yaar")))
	f.clock.Advance(2 * time.Second)

	replies := f.emitter.To("c1", EventReceiveMessage)
	require.Len(t, replies, 1)
	assert.Equal(t, FallbackLocal, replies[0].(*store.Message).Content)
}

func TestResponderRejectsUnusableReply(t *testing.T) {
	f := newResponderFixture(t, &fakeProvider{reply: " . "})

	require.NoError(t, f.responder.Respond(f.request("hello")))
	f.clock.Advance(10 * time.Second)

	replies := f.emitter.To("c1", EventReceiveMessage)
	require.Len(t, replies, 1)
	assert.Equal(t, FallbackEnglish, replies[0].(*store.Message).Content)
}

func TestResponderPromptFollowsPersonaAndRegister(t *testing.T) {
	f := newResponderFixture(t, &fakeProvider{reply: "sure thing"})

	require.NoError(t, f.responder.Respond(f.request("hello there")))
	req := f.request("tum kya kar rahe ho")
	req.PersonaID = "persona-3"
	require.NoError(t, f.responder.Respond(req))

	prompts := f.provider.Prompts()
	require.Len(t, prompts, 2)
	assert.Equal(t, BuildSystemPrompt(PersonaFemale, false), prompts[0])
	assert.Equal(t, BuildSystemPrompt(PersonaMale, true), prompts[1])
}

func TestResponderRejectsMissingConversation(t *testing.T) {
	f := newResponderFixture(t, &fakeProvider{reply: "hey"})
	broadcasts := len(f.emitter.Broadcasts())

	req := f.request("hello")
	req.ConversationID = ""
	err := f.responder.Respond(req)

	assert.ErrorIs(t, err, ErrMissingConversation)
	assert.Empty(t, f.provider.Prompts())
	assert.Len(t, f.emitter.Broadcasts(), broadcasts)
	assert.Zero(t, f.clock.Pending())
}

func TestResponderRepliesFollowReconnect(t *testing.T) {
	f := newResponderFixture(t, &fakeProvider{reply: "welcome back"})

	require.NoError(t, f.responder.Respond(f.request("hello")))
	f.presence.AddUser("alice", "c2")
	f.clock.Advance(6 * time.Second)

	assert.Empty(t, f.emitter.To("c1", EventReceiveMessage))
	assert.Len(t, f.emitter.To("c2", EventReceiveMessage), 1)
}

func TestResponderIndependentReplies(t *testing.T) {
	f := newResponderFixture(t, &fakeProvider{reply: "one more"})

	first := f.request("first")
	second := f.request("second")
	second.MessageID = "m2"
	require.NoError(t, f.responder.Respond(first))
	require.NoError(t, f.responder.Respond(second))
	f.clock.Advance(6 * time.Second)

	assert.Len(t, f.emitter.To("c1", EventReceiveMessage), 2)
	assert.Len(t, f.emitter.To("c1", EventUpdateMessage), 2)
}

func TestSendMessageThreadsMatchIDThroughReply(t *testing.T) {
	tests := []struct {
		name      string
		provider  *fakeProvider
		content   string
		persisted int
	}{
		{"generated reply", &fakeProvider{reply: "sounds fun"}, "sounds fun", 1},
		{"fallback reply", &fakeProvider{err: errors.New("quota exhausted")}, FallbackEnglish, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newResponderFixture(t, tt.provider)
			ctx := context.Background()
			require.NoError(t, f.store.CreateMatch(ctx, &store.Match{ID: "m1", User1ID: "alice", User2ID: "persona-2"}))
			d := NewDispatcher(f.presence, f.responder, f.store, f.emitter, nopLogger())

			data, err := json.Marshal(ChatMessage{ID: "msg-7", MatchID: "m1", SenderID: "alice", To: "persona-2", Content: "want to grab coffee?", IsAI: true})
			require.NoError(t, err)
			require.NoError(t, d.HandleEvent(ctx, "c1", EventSendMessage, data))
			f.clock.Advance(10 * time.Second)

			receipts := f.emitter.To("c1", EventUpdateMessage)
			require.Len(t, receipts, 1)
			assert.Equal(t, "msg-7", receipts[0].(MessageUpdate).MessageID)

			replies := f.emitter.To("c1", EventReceiveMessage)
			require.Len(t, replies, 1)
			reply := replies[0].(*store.Message)
			assert.Equal(t, "m1", reply.MatchID)
			assert.Equal(t, tt.content, reply.Content)
			assert.Equal(t, "persona-2", reply.SenderID)
			assert.Equal(t, "alice", reply.ReceiverID)

			stored, err := f.store.ListMessages(ctx, "m1", 10)
			require.NoError(t, err)
			require.Len(t, stored, tt.persisted)
			for _, m := range stored {
				assert.Equal(t, "m1", m.MatchID)
				assert.Equal(t, reply.ID, m.ID)
			}
		})
	}
}

func TestUniformDelayBounds(t *testing.T) {
	for i := 0; i < 200; i++ {
		d := uniformDelay(3*time.Second, 6*time.Second)
		assert.GreaterOrEqual(t, d, 3*time.Second)
		assert.LessOrEqual(t, d, 6*time.Second)
	}
	assert.Equal(t, time.Second, uniformDelay(time.Second, time.Second))
}
