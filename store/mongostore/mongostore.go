// Package mongostore is a MongoDB-backed store.BufferedManager. Grounded on
// the teacher's mongodb/mongodb.go cache, adapted from a raw []byte Cache
// (with fire-and-forget, error-swallowing Get/Set/Delete) to a
// store.Entry-aware BufferedManager that surfaces errors through the
// context.Context-threaded interface the rest of this tree uses.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/cachekit/httpcache/engine"
	"github.com/cachekit/httpcache/store"
)

// Config holds MongoDB connection settings, mirroring the teacher's
// mongodb.Config shape.
type Config struct {
	URI           string
	Database      string
	Collection    string
	KeyPrefix     string
	Timeout       time.Duration
	TTL           time.Duration
	ClientOptions *options.ClientOptions
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Collection: "cachekit_entries",
		KeyPrefix:  "cache:",
		Timeout:    5 * time.Second,
	}
}

type entryDoc struct {
	Key       string    `bson:"_id"`
	Data      []byte    `bson:"data"`
	CreatedAt time.Time `bson:"createdAt"`
}

// Store is a MongoDB-backed BufferedManager.
type Store struct {
	client     *mongo.Client
	collection *mongo.Collection
	keyPrefix  string
	timeout    time.Duration
}

func (s *Store) cacheKey(key string) string {
	return s.keyPrefix + key
}

func (s *Store) Get(ctx context.Context, key string) (*store.Entry, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var doc entryDoc
	err := s.collection.FindOne(ctx, bson.M{"_id": s.cacheKey(key)}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("mongostore: get %q: %w", key, err)
	}

	entry, err := store.DecodeEntry(doc.Data)
	if err != nil {
		return nil, false, err
	}
	return entry, true, nil
}

func (s *Store) Put(ctx context.Context, key string, entry *store.Entry) (*store.Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	raw, decoded, err := store.EncodeEntry(entry)
	if err != nil {
		return nil, err
	}

	doc := entryDoc{Key: s.cacheKey(key), Data: raw, CreatedAt: time.Now()}
	opts := options.Replace().SetUpsert(true)
	if _, err := s.collection.ReplaceOne(ctx, bson.M{"_id": doc.Key}, doc, opts); err != nil {
		return nil, fmt.Errorf("mongostore: set %q: %w", key, err)
	}
	return decoded, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if _, err := s.collection.DeleteOne(ctx, bson.M{"_id": s.cacheKey(key)}); err != nil {
		return fmt.Errorf("mongostore: delete %q: %w", key, err)
	}
	return nil
}

// Close disconnects from MongoDB. A no-op for stores built with
// NewWithClient, which don't own the connection.
func (s *Store) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// New connects to MongoDB, pings it, and creates the collection's TTL index
// when config.TTL is set.
func New(ctx context.Context, config Config) (*Store, error) {
	if config.URI == "" {
		return nil, fmt.Errorf("mongostore: URI is required")
	}
	if config.Database == "" {
		return nil, fmt.Errorf("mongostore: database name is required")
	}
	def := DefaultConfig()
	if config.Collection == "" {
		config.Collection = def.Collection
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = def.KeyPrefix
	}
	if config.Timeout == 0 {
		config.Timeout = def.Timeout
	}

	clientOpts := options.Client().ApplyURI(config.URI)
	if config.ClientOptions != nil {
		clientOpts = config.ClientOptions.ApplyURI(config.URI)
	}

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("mongostore: connect: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, config.Timeout)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		if dErr := client.Disconnect(ctx); dErr != nil {
			engine.GetLogger().Warn("failed to disconnect after ping error", "error", dErr)
		}
		return nil, fmt.Errorf("mongostore: ping: %w", err)
	}

	s := &Store{
		client:     client,
		collection: client.Database(config.Database).Collection(config.Collection),
		keyPrefix:  config.KeyPrefix,
		timeout:    config.Timeout,
	}

	if config.TTL > 0 {
		if err := s.createTTLIndex(ctx, config.TTL); err != nil {
			if dErr := client.Disconnect(ctx); dErr != nil {
				engine.GetLogger().Warn("failed to disconnect after TTL index error", "error", dErr)
			}
			return nil, fmt.Errorf("mongostore: create TTL index: %w", err)
		}
	}

	return s, nil
}

// NewWithClient wraps an already-configured *mongo.Client. The returned
// Store does not own the client and Close is a no-op.
func NewWithClient(client *mongo.Client, database, collection string, config Config) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("mongostore: client is required")
	}
	if database == "" {
		return nil, fmt.Errorf("mongostore: database name is required")
	}
	def := DefaultConfig()
	if collection == "" {
		collection = def.Collection
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = def.KeyPrefix
	}
	if config.Timeout == 0 {
		config.Timeout = def.Timeout
	}
	return &Store{
		collection: client.Database(database).Collection(collection),
		keyPrefix:  config.KeyPrefix,
		timeout:    config.Timeout,
	}, nil
}

func (s *Store) createTTLIndex(ctx context.Context, ttl time.Duration) error {
	indexModel := mongo.IndexModel{
		Keys: bson.D{{Key: "createdAt", Value: 1}},
		Options: options.Index().
			SetExpireAfterSeconds(int32(ttl.Seconds())).
			SetName("cachekit_ttl"),
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	_, err := s.collection.Indexes().CreateOne(ctx, indexModel)
	return err
}
