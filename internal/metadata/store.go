package metadata

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// CollectionName is the MongoDB collection holding Document records.
const CollectionName = "pdf_metadata"

// Store reads and writes Document records in MongoDB.
type Store struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// Connect dials MongoDB, verifies the connection and ensures indexes exist.
func Connect(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	s := &Store{
		client:     client,
		collection: client.Database(database).Collection(CollectionName),
	}

	if err := s.Ping(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

// ensureIndexes makes collection_name unique (one record per ingested document)
// and indexes user_id for listing.
func (s *Store) ensureIndexes(ctx context.Context) error {
	_, err := s.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "collection_name", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "upload_time", Value: -1}},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}

// Ping checks the primary is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnhealthy, err)
	}
	return nil
}

// Health satisfies the health checker interfaces used by the HTTP and MCP servers.
func (s *Store) Health(ctx context.Context) error {
	return s.Ping(ctx)
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Insert writes a record. A record for the same collection already present is
// treated as success, so a job retried after a lost acknowledgement does not fail.
func (s *Store) Insert(ctx context.Context, doc *Document) error {
	if err := doc.Validate(); err != nil {
		return err
	}

	_, err := s.collection.InsertOne(ctx, doc)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil
		}
		return fmt.Errorf("failed to insert metadata for %s: %w", doc.CollectionName, err)
	}
	return nil
}

// FindByCollection returns the caller's record for a collection, or ErrNotFound.
func (s *Store) FindByCollection(ctx context.Context, userID, collectionName string) (*Document, error) {
	var doc Document
	err := s.collection.FindOne(ctx, bson.M{
		"user_id":         userID,
		"collection_name": collectionName,
	}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find metadata for %s: %w", collectionName, err)
	}
	return &doc, nil
}

// ListByUser returns the user's records, newest upload first.
func (s *Store) ListByUser(ctx context.Context, userID string) ([]Document, error) {
	cursor, err := s.collection.Find(ctx,
		bson.M{"user_id": userID},
		options.Find().SetSort(bson.D{{Key: "upload_time", Value: -1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list metadata: %w", err)
	}

	docs := []Document{}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	return docs, nil
}

// Delete removes the caller's record for a collection. Returns ErrNotFound if
// there was nothing to delete.
func (s *Store) Delete(ctx context.Context, userID, collectionName string) error {
	res, err := s.collection.DeleteOne(ctx, bson.M{
		"user_id":         userID,
		"collection_name": collectionName,
	})
	if err != nil {
		return fmt.Errorf("failed to delete metadata for %s: %w", collectionName, err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// CountByUser returns how many documents the user has.
func (s *Store) CountByUser(ctx context.Context, userID string) (int64, error) {
	n, err := s.collection.CountDocuments(ctx, bson.M{"user_id": userID})
	if err != nil {
		return 0, fmt.Errorf("failed to count metadata: %w", err)
	}
	return n, nil
}

// Exists reports whether any user has a record for the collection.
func (s *Store) Exists(ctx context.Context, collectionName string) (bool, error) {
	n, err := s.collection.CountDocuments(ctx,
		bson.M{"collection_name": collectionName},
		options.Count().SetLimit(1),
	)
	if err != nil {
		return false, fmt.Errorf("failed to check metadata for %s: %w", collectionName, err)
	}
	return n > 0, nil
}

// FileReferenced reports whether any record still points at the upload file.
func (s *Store) FileReferenced(ctx context.Context, path string) (bool, error) {
	n, err := s.collection.CountDocuments(ctx,
		bson.M{"file_path": path},
		options.Count().SetLimit(1),
	)
	if err != nil {
		return false, fmt.Errorf("failed to check metadata for file %s: %w", path, err)
	}
	return n > 0, nil
}
