package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/edmondsbay/consult/dialog"
	"github.com/edmondsbay/consult/memory"
)

// MongoConfig holds MongoDB connection settings.
type MongoConfig struct {
	URI        string
	Database   string
	Collection string
}

// DefaultMongoConfig returns local-development defaults.
func DefaultMongoConfig() *MongoConfig {
	return &MongoConfig{
		URI:        "mongodb://localhost:27017",
		Database:   "consult",
		Collection: "conversations",
	}
}

// mongoHistory is the document shape, keyed by conversation id.
type mongoHistory struct {
	ID        string        `bson:"_id"`
	Turns     []dialog.Turn `bson:"turns"`
	UpdatedAt time.Time     `bson:"updated_at"`
}

// MongoStore keeps one document per conversation.
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// NewMongoStore connects and verifies the connection.
func NewMongoStore(ctx context.Context, config *MongoConfig) (*MongoStore, error) {
	if config == nil {
		config = DefaultMongoConfig()
	}
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(config.URI))
	if err != nil {
		return nil, fmt.Errorf("connect to MongoDB: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		return nil, fmt.Errorf("ping MongoDB: %w", err)
	}

	collection := client.Database(config.Database).Collection(config.Collection)
	s := &MongoStore{client: client, collection: collection}
	if err := s.createIndexes(ctx); err != nil {
		return nil, fmt.Errorf("create indexes: %w", err)
	}
	return s, nil
}

func (s *MongoStore) createIndexes(ctx context.Context) error {
	_, err := s.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "updated_at", Value: -1}},
	})
	return err
}

// Load returns the stored history; a missing document yields an empty context.
func (s *MongoStore) Load(ctx context.Context, conversationID string) (dialog.Context, error) {
	var doc mongoHistory
	err := s.collection.FindOne(ctx, bson.M{"_id": conversationID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return dialog.Context{ConversationID: conversationID}, nil
	}
	if err != nil {
		return dialog.Context{}, fmt.Errorf("find history: %w", err)
	}
	return dialog.Context{ConversationID: doc.ID, Turns: doc.Turns}, nil
}

// Save upserts the conversation document.
func (s *MongoStore) Save(ctx context.Context, history dialog.Context) error {
	doc := mongoHistory{
		ID:        history.ConversationID,
		Turns:     history.Turns,
		UpdatedAt: time.Now(),
	}
	_, err := s.collection.ReplaceOne(ctx,
		bson.M{"_id": history.ConversationID},
		doc,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("upsert history: %w", err)
	}
	return nil
}

// Delete removes a conversation document.
func (s *MongoStore) Delete(ctx context.Context, conversationID string) error {
	_, err := s.collection.DeleteOne(ctx, bson.M{"_id": conversationID})
	if err != nil {
		return fmt.Errorf("delete history: %w", err)
	}
	return nil
}

// Close disconnects the client.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

var _ memory.Store = (*MongoStore)(nil)
