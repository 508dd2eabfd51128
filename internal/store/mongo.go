package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// MongoStore keeps users, matches and messages as documents, one collection each.
type MongoStore struct {
	client   *mongo.Client
	users    *mongo.Collection
	matches  *mongo.Collection
	messages *mongo.Collection
}

func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	db := client.Database(database)
	return &MongoStore{
		client:   client,
		users:    db.Collection("users"),
		matches:  db.Collection("matches"),
		messages: db.Collection("messages"),
	}, nil
}

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// InitSchema creates the lookup indexes; collections are created on first write.
func (s *MongoStore) InitSchema(ctx context.Context) error {
	_, err := s.matches.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "user1Id", Value: 1}, {Key: "user2Id", Value: 1}}},
		{Keys: bson.D{{Key: "user2Id", Value: 1}, {Key: "user1Id", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create match indexes: %w", err)
	}
	_, err = s.messages.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "matchId", Value: 1}, {Key: "createdAt", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create message index: %w", err)
	}
	return nil
}

func (s *MongoStore) CreateUser(ctx context.Context, user *User) error {
	prepareUser(user)
	if _, err := s.users.InsertOne(ctx, user); err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

func (s *MongoStore) FindUserByID(ctx context.Context, id string) (*User, error) {
	var user User
	if err := s.users.FindOne(ctx, bson.M{"_id": id}).Decode(&user); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return &user, nil
}

func (s *MongoStore) SetOnlineStatus(ctx context.Context, id string, online bool) error {
	return updateOne(ctx, s.users, bson.M{"_id": id}, bson.M{"$set": bson.M{"isOnline": online}})
}

func (s *MongoStore) SetLastActive(ctx context.Context, id string, at time.Time) error {
	return updateOne(ctx, s.users, bson.M{"_id": id}, bson.M{"$set": bson.M{"lastActive": at.UTC()}})
}

func (s *MongoStore) CreateMatch(ctx context.Context, match *Match) error {
	prepareMatch(match)
	if _, err := s.matches.InsertOne(ctx, match); err != nil {
		return fmt.Errorf("failed to insert match: %w", err)
	}
	return nil
}

func (s *MongoStore) FindMatchByID(ctx context.Context, id string) (*Match, error) {
	return s.findMatch(ctx, bson.M{"_id": id})
}

func (s *MongoStore) FindMatchByParticipants(ctx context.Context, a, b string) (*Match, error) {
	return s.findMatch(ctx, bson.M{"$or": bson.A{
		bson.M{"user1Id": a, "user2Id": b},
		bson.M{"user1Id": b, "user2Id": a},
	}})
}

func (s *MongoStore) findMatch(ctx context.Context, filter bson.M) (*Match, error) {
	var match Match
	opts := options.FindOne().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	if err := s.matches.FindOne(ctx, filter, opts).Decode(&match); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query match: %w", err)
	}
	return &match, nil
}

func (s *MongoStore) SetVoiceCallEnabled(ctx context.Context, matchID string, enabled bool) error {
	return updateOne(ctx, s.matches, bson.M{"_id": matchID}, bson.M{"$set": bson.M{"voiceCallEnabled": enabled}})
}

func (s *MongoStore) TouchLastMessageAt(ctx context.Context, matchID string, at time.Time) error {
	return updateOne(ctx, s.matches, bson.M{"_id": matchID}, bson.M{"$set": bson.M{"lastMessageAt": at.UTC()}})
}

func (s *MongoStore) IncrementUnread(ctx context.Context, matchID, userID string) error {
	match, err := s.FindMatchByID(ctx, matchID)
	if err != nil {
		return err
	}
	if match == nil {
		return ErrNotFound
	}
	field, ok := match.UnreadFieldFor(userID)
	if !ok {
		return ErrNotFound
	}
	return updateOne(ctx, s.matches, bson.M{"_id": matchID}, bson.M{"$inc": bson.M{field: 1}})
}

func (s *MongoStore) CreateMessage(ctx context.Context, msg *Message) error {
	prepareMessage(msg)
	if _, err := s.messages.InsertOne(ctx, msg); err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

func (s *MongoStore) ListMessages(ctx context.Context, matchID string, limit int) ([]Message, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetLimit(int64(limit))
	cursor, err := s.messages.Find(ctx, bson.M{"matchId": matchID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}

	var messages []Message
	if err := cursor.All(ctx, &messages); err != nil {
		return nil, fmt.Errorf("failed to decode messages: %w", err)
	}
	slices.Reverse(messages)
	return messages, nil
}

func updateOne(ctx context.Context, coll *mongo.Collection, filter, update bson.M) error {
	res, err := coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", coll.Name(), err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}
