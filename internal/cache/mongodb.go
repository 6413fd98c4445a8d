package cache

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

type mongoCacheDocument struct {
	Key       string    `bson:"_id"`
	Value     []byte    `bson:"value"`
	ExpiresAt time.Time `bson:"expires_at"`
}

// MongoDBCache implements Durable on the cache_entries collection.
// A TTL index lets MongoDB reap expired documents on its own schedule.
type MongoDBCache struct {
	collection *mongo.Collection
	now        func() time.Time
}

// NewMongoDBCache creates the collection's TTL index if needed.
func NewMongoDBCache(database *mongo.Database) (*MongoDBCache, error) {
	if database == nil {
		return nil, fmt.Errorf("database is required")
	}

	coll := database.Collection("cache_entries")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	index := mongo.IndexModel{
		Keys:    bson.D{{Key: "expires_at", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(0),
	}
	if _, err := coll.Indexes().CreateOne(ctx, index); err != nil {
		return nil, fmt.Errorf("create cache_entries ttl index: %w", err)
	}

	return &MongoDBCache{collection: coll, now: time.Now}, nil
}

// Get returns a live value. Documents the TTL monitor has not reaped yet are filtered out.
func (c *MongoDBCache) Get(ctx context.Context, key string) ([]byte, error) {
	var doc mongoCacheDocument
	filter := bson.D{
		{Key: "_id", Value: key},
		{Key: "expires_at", Value: bson.D{{Key: "$gte", Value: c.now()}}},
	}
	if err := c.collection.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find cache entry: %w", err)
	}
	return doc.Value, nil
}

// Set upserts value.
func (c *MongoDBCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	doc := mongoCacheDocument{
		Key:       key,
		Value:     value,
		ExpiresAt: c.now().Add(ttl),
	}
	_, err := c.collection.ReplaceOne(ctx, bson.D{{Key: "_id", Value: key}}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upsert cache entry: %w", err)
	}
	return nil
}

// Delete removes a key.
func (c *MongoDBCache) Delete(ctx context.Context, key string) error {
	if _, err := c.collection.DeleteOne(ctx, bson.D{{Key: "_id", Value: key}}); err != nil {
		return fmt.Errorf("delete cache entry: %w", err)
	}
	return nil
}

// DeletePrefix removes every key starting with prefix.
func (c *MongoDBCache) DeletePrefix(ctx context.Context, prefix string) error {
	filter := bson.D{{Key: "_id", Value: bson.Regex{Pattern: "^" + regexp.QuoteMeta(prefix)}}}
	if _, err := c.collection.DeleteMany(ctx, filter); err != nil {
		return fmt.Errorf("delete cache prefix: %w", err)
	}
	return nil
}

// Close is a no-op; the client is owned by the storage layer.
func (c *MongoDBCache) Close() error {
	return nil
}

var _ Durable = (*MongoDBCache)(nil)
