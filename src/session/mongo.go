package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const mongoCloseTimeout = 5 * time.Second

// MongoService stores sessions and events in two collections.
type MongoService struct {
	client   *mongo.Client
	sessions *mongo.Collection
	events   *mongo.Collection
}

type mongoSession struct {
	Key       `bson:",inline"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

type mongoEvent struct {
	Key   `bson:",inline"`
	Event `bson:",inline"`
}

func NewMongoService(ctx context.Context, uri, database string) (*MongoService, error) {
	if uri == "" {
		return nil, errors.New("mongo uri is required")
	}
	if database == "" {
		database = "agentflow"
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	db := client.Database(database)
	ms := &MongoService{
		client:   client,
		sessions: db.Collection("sessions"),
		events:   db.Collection("session_events"),
	}
	if err := ms.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return ms, nil
}

func (ms *MongoService) ensureIndexes(ctx context.Context) error {
	if _, err := ms.sessions.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "app", Value: 1}, {Key: "user", Value: 1}, {Key: "id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return fmt.Errorf("session index: %w", err)
	}
	if _, err := ms.events.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "app", Value: 1}, {Key: "user", Value: 1}, {Key: "id", Value: 1}, {Key: "created_at", Value: 1}},
	}); err != nil {
		return fmt.Errorf("event index: %w", err)
	}
	return nil
}

func keyFilter(key Key) bson.M {
	return bson.M{"app": key.App, "user": key.User, "id": key.ID}
}

func (ms *MongoService) Get(ctx context.Context, key Key) (*Session, error) {
	var doc mongoSession
	err := ms.sessions.FindOne(ctx, keyFilter(key)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &Session{Key: doc.Key, CreatedAt: doc.CreatedAt, UpdatedAt: doc.UpdatedAt}, nil
}

func (ms *MongoService) Create(ctx context.Context, key Key) (*Session, error) {
	if err := key.validate(); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	_, err := ms.sessions.InsertOne(ctx, mongoSession{Key: key, CreatedAt: now, UpdatedAt: now})
	if mongo.IsDuplicateKeyError(err) {
		return nil, ErrExists
	}
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return &Session{Key: key, CreatedAt: now, UpdatedAt: now}, nil
}

func (ms *MongoService) AppendEvent(ctx context.Context, key Key, ev Event) error {
	ev = stamp(ev)
	res, err := ms.sessions.UpdateOne(ctx, keyFilter(key), bson.M{"$set": bson.M{"updated_at": ev.CreatedAt}})
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	if _, err := ms.events.InsertOne(ctx, mongoEvent{Key: key, Event: ev}); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

func (ms *MongoService) Events(ctx context.Context, key Key, limit int) ([]Event, error) {
	sess, err := ms.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrNotFound
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := ms.events.Find(ctx, keyFilter(key), opts)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	var docs []mongoEvent
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]Event, len(docs))
	for i, d := range docs {
		out[len(docs)-1-i] = d.Event
	}
	return out, nil
}

func (ms *MongoService) Delete(ctx context.Context, key Key) error {
	if _, err := ms.events.DeleteMany(ctx, keyFilter(key)); err != nil {
		return err
	}
	_, err := ms.sessions.DeleteOne(ctx, keyFilter(key))
	return err
}

func (ms *MongoService) Close() error {
	if ms == nil || ms.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), mongoCloseTimeout)
	defer cancel()
	return ms.client.Disconnect(ctx)
}

var _ Service = (*MongoService)(nil)
