package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/manpreetbhatti/whiteboard/backend/internal/metrics"
	"github.com/manpreetbhatti/whiteboard/backend/internal/room"
)

const backendMongo = "mongo"

const (
	DefaultMongoDatabase   = "whiteBoard_Collaborative"
	DefaultMongoCollection = "Connection_Info"
)

// MongoConfig selects the deployment and collection holding room histories
type MongoConfig struct {
	URI        string
	Database   string
	Collection string
}

// MongoStore keeps one document per room:
// {"room_id": ..., "undoArr": [...], "redoArr": [...]}
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// historyDocument is the persisted shape of a room
type historyDocument struct {
	RoomID    string    `bson:"room_id"`
	UndoArr   []string  `bson:"undoArr"`
	RedoArr   []string  `bson:"redoArr"`
	CreatedAt time.Time `bson:"created_at,omitempty"`
	UpdatedAt time.Time `bson:"updated_at,omitempty"`
}

func (doc historyDocument) history() room.History {
	return room.History{Undo: doc.UndoArr, Redo: doc.RedoArr}.Normalize()
}

// NewMongo connects, verifies the deployment answers, and ensures the
// unique room_id index that makes concurrent first joins safe.
func NewMongo(ctx context.Context, cfg MongoConfig) (*MongoStore, error) {
	if cfg.Database == "" {
		cfg.Database = DefaultMongoDatabase
	}
	if cfg.Collection == "" {
		cfg.Collection = DefaultMongoCollection
	}

	client, err := mongo.Connect(options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	coll := client.Database(cfg.Database).Collection(cfg.Collection)
	_, err = coll.Indexes().CreateOne(pingCtx, mongo.IndexModel{
		Keys:    bson.D{{Key: "room_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("create room_id index: %w", err)
	}

	return &MongoStore{client: client, coll: coll}, nil
}

func (s *MongoStore) CreateIfAbsent(ctx context.Context, roomID string) (h room.History, created bool, err error) {
	done := metrics.ObserveStore(backendMongo, "create_if_absent")
	defer func() { done(err) }()

	now := time.Now().UTC()
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"room_id": roomID},
		bson.M{"$setOnInsert": bson.M{
			"undoArr":    bson.A{},
			"redoArr":    bson.A{},
			"created_at": now,
			"updated_at": now,
		}},
		options.UpdateOne().SetUpsert(true),
	)
	switch {
	case err == nil:
		created = res.UpsertedCount == 1
	case mongo.IsDuplicateKeyError(err):
		// Lost the upsert race to another first join; the record exists now
		created = false
	default:
		return room.History{}, false, unavailable("create room history", err)
	}

	h, err = s.load(ctx, roomID)
	if err != nil {
		return room.History{}, false, err
	}
	return h, created, nil
}

func (s *MongoStore) Get(ctx context.Context, roomID string) (h room.History, err error) {
	done := metrics.ObserveStore(backendMongo, "get")
	defer func() {
		if errors.Is(err, ErrNotFound) {
			done(nil)
			return
		}
		done(err)
	}()

	return s.load(ctx, roomID)
}

func (s *MongoStore) load(ctx context.Context, roomID string) (room.History, error) {
	var doc historyDocument
	err := s.coll.FindOne(ctx, bson.M{"room_id": roomID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return room.History{}, ErrNotFound
	}
	if err != nil {
		return room.History{}, unavailable("get room history", err)
	}
	return doc.history(), nil
}

// Put replaces both stacks. Last writer wins.
func (s *MongoStore) Put(ctx context.Context, roomID string, h room.History) (err error) {
	done := metrics.ObserveStore(backendMongo, "put")
	defer func() { done(err) }()

	h = h.Normalize()
	now := time.Now().UTC()
	_, err = s.coll.UpdateOne(ctx,
		bson.M{"room_id": roomID},
		bson.M{
			"$set": bson.M{
				"undoArr":    h.Undo,
				"redoArr":    h.Redo,
				"updated_at": now,
			},
			"$setOnInsert": bson.M{"created_at": now},
		},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return unavailable("put room history", err)
	}
	return nil
}

// ListRooms returns persisted rooms, most recently updated first
func (s *MongoStore) ListRooms(ctx context.Context, limit, offset int) ([]RoomRecord, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "updated_at", Value: -1}, {Key: "room_id", Value: 1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))

	cursor, err := s.coll.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, unavailable("list rooms", err)
	}
	defer cursor.Close(ctx)

	var rooms []RoomRecord
	for cursor.Next(ctx) {
		var doc historyDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, unavailable("list rooms", err)
		}
		rooms = append(rooms, RoomRecord{
			ID:        doc.RoomID,
			History:   doc.history(),
			CreatedAt: doc.CreatedAt,
			UpdatedAt: doc.UpdatedAt,
		})
	}
	if err := cursor.Err(); err != nil {
		return nil, unavailable("list rooms", err)
	}
	return rooms, nil
}

func (s *MongoStore) Stats(ctx context.Context) (Stats, error) {
	count, err := s.coll.CountDocuments(ctx, bson.M{})
	if err != nil {
		return Stats{}, unavailable("stats", err)
	}

	cursor, err := s.coll.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: nil},
			{Key: "total", Value: bson.D{{Key: "$sum", Value: bson.D{{Key: "$add", Value: bson.A{
				bson.D{{Key: "$size", Value: bson.D{{Key: "$ifNull", Value: bson.A{"$undoArr", bson.A{}}}}}},
				bson.D{{Key: "$size", Value: bson.D{{Key: "$ifNull", Value: bson.A{"$redoArr", bson.A{}}}}}},
			}}}}}},
		}}},
	})
	if err != nil {
		return Stats{}, unavailable("stats", err)
	}
	defer cursor.Close(ctx)

	stats := Stats{RoomCount: int(count)}
	if cursor.Next(ctx) {
		var row struct {
			Total int64 `bson:"total"`
		}
		if err := cursor.Decode(&row); err != nil {
			return Stats{}, unavailable("stats", err)
		}
		stats.SnapshotCount = int(row.Total)
	}
	if err := cursor.Err(); err != nil {
		return Stats{}, unavailable("stats", err)
	}
	return stats, nil
}

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
