package repository

import (
	"context"
	"fmt"
	"time"

	"solar_monitor/internal/config"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// RawBatch is one ingest request exactly as it was received
type RawBatch struct {
	ID         primitive.ObjectID       `bson:"_id,omitempty" json:"id"`
	RequestID  string                   `bson:"request_id,omitempty" json:"request_id,omitempty"`
	SourceID   string                   `bson:"source_id" json:"source_id"`
	SiteID     string                   `bson:"site_id" json:"site_id"`
	VendorType string                   `bson:"vendor_type" json:"vendor_type"`
	Records    []map[string]interface{} `bson:"records" json:"records"`
	Timestamp  time.Time                `bson:"timestamp" json:"timestamp"`
	SourceIP   string                   `bson:"source_ip,omitempty" json:"source_ip,omitempty"`
	Processed  bool                     `bson:"processed" json:"processed"`
	Dropped    int                      `bson:"dropped" json:"dropped"`
	Error      string                   `bson:"error,omitempty" json:"error,omitempty"`
}

// RawTelemetryRepo stores raw ingest batches in the raw_telemetry collection
type RawTelemetryRepo struct {
	collection *mongo.Collection
}

func NewRawTelemetryRepo(ctx context.Context, db *config.MongoDatabase) (*RawTelemetryRepo, error) {
	collection := db.Database.Collection("raw_telemetry")

	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "timestamp", Value: -1}},
		},
		{
			Keys: bson.D{
				{Key: "processed", Value: 1},
				{Key: "timestamp", Value: 1},
			},
		},
		{
			Keys: bson.D{{Key: "request_id", Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetSparse(true),
		},
	}
	if _, err := collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return nil, fmt.Errorf("create raw telemetry indexes: %w", err)
	}

	return &RawTelemetryRepo{collection: collection}, nil
}

// Insert saves the batch and returns its id
func (r *RawTelemetryRepo) Insert(ctx context.Context, batch RawBatch) (string, error) {
	batch.ID = primitive.NewObjectID()
	if batch.RequestID == "" {
		batch.RequestID = batch.ID.Hex()
	}
	if batch.Timestamp.IsZero() {
		batch.Timestamp = time.Now()
	}
	records := make([]map[string]interface{}, len(batch.Records))
	for i, rec := range batch.Records {
		records[i] = cloneMap(rec)
	}
	batch.Records = records
	batch.Processed = false

	if _, err := r.collection.InsertOne(ctx, batch); err != nil {
		return "", err
	}
	return batch.ID.Hex(), nil
}

// MarkProcessed flags the batch as normalized
func (r *RawTelemetryRepo) MarkProcessed(ctx context.Context, id string, dropped int) error {
	objectID, err := toObjectID(id)
	if err != nil {
		return err
	}

	update := bson.M{
		"$set": bson.M{
			"processed": true,
			"dropped":   dropped,
		},
	}
	_, err = r.collection.UpdateOne(ctx, bson.M{"_id": objectID}, update)
	return err
}

// MarkError records why the batch could not be processed
func (r *RawTelemetryRepo) MarkError(ctx context.Context, id string, errorMsg string) error {
	objectID, err := toObjectID(id)
	if err != nil {
		return err
	}

	update := bson.M{
		"$set": bson.M{
			"processed": false,
			"error":     errorMsg,
		},
	}
	_, err = r.collection.UpdateOne(ctx, bson.M{"_id": objectID}, update)
	return err
}

// CountUnprocessed returns batches not yet normalized
func (r *RawTelemetryRepo) CountUnprocessed(ctx context.Context) (int64, error) {
	return r.collection.CountDocuments(ctx, bson.M{"processed": false})
}

// Cleanup removes processed batches older than the cutoff
func (r *RawTelemetryRepo) Cleanup(ctx context.Context, olderThan time.Time) (int64, error) {
	filter := bson.M{
		"processed": true,
		"timestamp": bson.M{"$lt": olderThan},
	}

	result, err := r.collection.DeleteMany(ctx, filter)
	if err != nil {
		return 0, err
	}
	return result.DeletedCount, nil
}

func toObjectID(id string) (primitive.ObjectID, error) {
	if id == "" {
		return primitive.NilObjectID, fmt.Errorf("raw batch id cannot be empty")
	}

	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("invalid raw batch id %q: %w", id, err)
	}
	return objectID, nil
}

func cloneMap(data map[string]interface{}) map[string]interface{} {
	if data == nil {
		return nil
	}

	cloned := make(map[string]interface{}, len(data))
	for k, v := range data {
		if nested, ok := v.(map[string]interface{}); ok {
			cloned[k] = cloneMap(nested)
			continue
		}
		cloned[k] = v
	}
	return cloned
}
