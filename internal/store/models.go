package store

import "time"

type User struct {
	ID         string    `json:"id" bson:"_id"`
	Name       string    `json:"name" bson:"name"`
	IsAI       bool      `json:"isAI" bson:"isAI"`
	IsOnline   bool      `json:"isOnline" bson:"isOnline"`
	LastActive time.Time `json:"lastActive" bson:"lastActive"`
	CreatedAt  time.Time `json:"createdAt" bson:"createdAt"`
}

// Match is the conversation between two users. Messages thread on its ID.
type Match struct {
	ID               string    `json:"id" bson:"_id"`
	User1ID          string    `json:"user1Id" bson:"user1Id"`
	User2ID          string    `json:"user2Id" bson:"user2Id"`
	VoiceCallEnabled bool      `json:"voiceCallEnabled" bson:"voiceCallEnabled"`
	LastMessageAt    time.Time `json:"lastMessageAt" bson:"lastMessageAt"`
	UnreadCount1     int       `json:"unreadCount1" bson:"unreadCount1"` // unread for User1ID
	UnreadCount2     int       `json:"unreadCount2" bson:"unreadCount2"` // unread for User2ID
	CreatedAt        time.Time `json:"createdAt" bson:"createdAt"`
}

// UnreadFieldFor reports which unread counter belongs to userID.
func (m *Match) UnreadFieldFor(userID string) (string, bool) {
	switch userID {
	case m.User1ID:
		return "unreadCount1", true
	case m.User2ID:
		return "unreadCount2", true
	}
	return "", false
}

type Message struct {
	ID          string    `json:"id" bson:"_id"`
	MatchID     string    `json:"matchId" bson:"matchId"`
	SenderID    string    `json:"senderId" bson:"senderId"`
	ReceiverID  string    `json:"receiverId" bson:"receiverId"`
	Content     string    `json:"content" bson:"content"`
	Type        string    `json:"type" bson:"type"`
	IsRead      bool      `json:"isRead" bson:"isRead"`
	IsDelivered bool      `json:"isDelivered" bson:"isDelivered"`
	CreatedAt   time.Time `json:"createdAt" bson:"createdAt"`
}

const MessageTypeText = "text"
