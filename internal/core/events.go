package core

import "encoding/json"

// Inbound socket events.
const (
	EventAddUser                 = "add-user"
	EventSendMessage             = "send-message"
	EventUpdateMessage           = "update-message"
	EventSendNotification        = "send-notification"
	EventRequestVoicePermission  = "request-voice-permission"
	EventVoicePermissionAccepted = "voice-permission-accepted"
	EventVoicePermissionRejected = "voice-permission-rejected"
	EventCallUser                = "call-user"
	EventAnswerCall              = "answer-call"
	EventRejectCall              = "reject-call"
	EventICECandidate            = "ice-candidate"
)

// Outbound socket events. update-message and ice-candidate keep their inbound names.
const (
	EventReceiveMessage           = "receive-message"
	EventReceiveNotification      = "receive-notification"
	EventVoicePermissionRequested = "voice-permission-requested"
	EventVoicePermissionGranted   = "voice-permission-granted"
	EventVoicePermissionDenied    = "voice-permission-denied"
	EventCallMade                 = "call-made"
	EventCallAnswered             = "call-answered"
	EventCallRejected             = "call-rejected"
)

type AddUserPayload struct {
	UserID string `json:"userId"`
}

// ChatMessage is a message as relayed between sockets, not the stored document.
type ChatMessage struct {
	ID        string          `json:"id"`
	MatchID   string          `json:"matchId"`
	SenderID  string          `json:"senderId"`
	To        string          `json:"to"`
	Content   string          `json:"content"`
	Type      string          `json:"type"`
	IsAI      bool            `json:"isAI"`
	Timestamp json.RawMessage `json:"timestamp,omitempty"`
}

type UpdateMessagePayload struct {
	To        string         `json:"to"`
	MessageID string         `json:"messageId"`
	Updates   map[string]any `json:"updates"`
}

// MessageUpdate is the update-message push.
type MessageUpdate struct {
	MessageID string         `json:"messageId"`
	Updates   map[string]any `json:"updates"`
}

type NotificationPayload struct {
	To           string          `json:"to"`
	Notification json.RawMessage `json:"notification"`
}

type VoicePermissionPayload struct {
	To   string `json:"to"`
	From string `json:"from"`
	Name string `json:"name,omitempty"`
}

type VoicePermissionRequest struct {
	From string `json:"from"`
	Name string `json:"name,omitempty"`
}

type VoicePermissionReply struct {
	From string `json:"from"`
}

type CallUserPayload struct {
	UserToCall string          `json:"userToCall"`
	SignalData json.RawMessage `json:"signalData"`
	From       string          `json:"from"`
	Name       string          `json:"name,omitempty"`
}

type CallMade struct {
	Signal json.RawMessage `json:"signal"`
	From   string          `json:"from"`
	Name   string          `json:"name,omitempty"`
}

type AnswerCallPayload struct {
	Signal json.RawMessage `json:"signal"`
	To     string          `json:"to"`
}

type CallAnswered struct {
	Signal json.RawMessage `json:"signal"`
}

type RejectCallPayload struct {
	To string `json:"to"`
}

type CallRejected struct {
	From string `json:"from,omitempty"`
}

type ICECandidatePayload struct {
	Candidate json.RawMessage `json:"candidate"`
	To        string          `json:"to"`
}

type ICECandidate struct {
	Candidate json.RawMessage `json:"candidate"`
}
