package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"solar_monitor/internal/config"
	"solar_monitor/internal/domain"
	"solar_monitor/pkg/logger"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	alertsCollection     = "alerts"
	productionCollection = "daily_production"
	sitesCollection      = "sites"
)

// MongoAlertRepo implements AlertRepository for MongoDB
type MongoAlertRepo struct {
	collection *mongo.Collection
}

// NewMongoAlertRepo creates the repo and its indexes
func NewMongoAlertRepo(ctx context.Context, db *config.MongoDatabase) (*MongoAlertRepo, error) {
	collection := db.Database.Collection(alertsCollection)

	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "timestamp", Value: -1}}},
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "resolved_at", Value: 1}}},
		{Keys: bson.D{{Key: "site_id", Value: 1}}},
	}
	if _, err := collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return nil, fmt.Errorf("create alert indexes: %w", err)
	}
	return &MongoAlertRepo{collection: collection}, nil
}

func (r *MongoAlertRepo) Create(ctx context.Context, alert domain.Alert) error {
	if _, err := r.collection.InsertOne(ctx, alert); err != nil {
		logger.Error(fmt.Sprintf("MongoDB alert insert failed: %v", err))
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

func (r *MongoAlertRepo) Get(ctx context.Context, id string) (domain.Alert, error) {
	var alert domain.Alert
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&alert)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.Alert{}, domain.ErrAlertNotFound
	}
	if err != nil {
		return domain.Alert{}, fmt.Errorf("find alert %s: %w", id, err)
	}
	return alert, nil
}

// Acknowledge updates only an unresolved document, so a concurrent resolve
// is never overwritten.
func (r *MongoAlertRepo) Acknowledge(ctx context.Context, id, userID string, at time.Time) (domain.Alert, error) {
	alert, matched, err := r.updateOpen(ctx, id, acknowledgeUpdate(userID, at))
	if err != nil {
		return domain.Alert{}, fmt.Errorf("acknowledge alert %s: %w", id, err)
	}
	if !matched {
		return alert, domain.ErrAlertResolved
	}
	return alert, nil
}

func (r *MongoAlertRepo) Resolve(ctx context.Context, id string, auto bool, at time.Time) (domain.Alert, bool, error) {
	alert, matched, err := r.updateOpen(ctx, id, resolveUpdate(auto, at))
	if err != nil {
		return domain.Alert{}, false, fmt.Errorf("resolve alert %s: %w", id, err)
	}
	return alert, matched, nil
}

// updateOpen applies update to the alert while resolved_at is unset. When
// nothing matches it returns the stored alert with matched=false, or
// domain.ErrAlertNotFound when the id is unknown.
func (r *MongoAlertRepo) updateOpen(ctx context.Context, id string, update bson.M) (domain.Alert, bool, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var alert domain.Alert
	err := r.collection.FindOneAndUpdate(ctx, openAlertFilter(id), update, opts).Decode(&alert)
	if err == nil {
		return alert, true, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return domain.Alert{}, false, err
	}

	alert, err = r.Get(ctx, id)
	if err != nil {
		return domain.Alert{}, false, err
	}
	return alert, false, nil
}

func openAlertFilter(id string) bson.M {
	return bson.M{"_id": id, "resolved_at": nil}
}

func acknowledgeUpdate(userID string, at time.Time) bson.M {
	return bson.M{"$set": bson.M{
		"acknowledged":    true,
		"acknowledged_at": at,
		"acknowledged_by": userID,
	}}
}

func resolveUpdate(auto bool, at time.Time) bson.M {
	return bson.M{"$set": bson.M{
		"resolved_at":   at,
		"auto_resolved": auto,
	}}
}

func (r *MongoAlertRepo) Delete(ctx context.Context, id string) error {
	res, err := r.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("delete alert %s: %w", id, err)
	}
	if res.DeletedCount == 0 {
		return domain.ErrAlertNotFound
	}
	return nil
}

func (r *MongoAlertRepo) DeleteAll(ctx context.Context, userID string) (int64, error) {
	res, err := r.collection.DeleteMany(ctx, bson.M{"user_id": userID})
	if err != nil {
		return 0, fmt.Errorf("delete alerts for %s: %w", userID, err)
	}
	return res.DeletedCount, nil
}

func (r *MongoAlertRepo) List(ctx context.Context, filter domain.AlertFilter) ([]domain.Alert, error) {
	query := alertQuery(filter)

	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}, {Key: "_id", Value: 1}})
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}

	cursor, err := r.collection.Find(ctx, query, opts)
	if err != nil {
		logger.Error(fmt.Sprintf("Alert query failed: %v", err))
		return nil, err
	}
	defer cursor.Close(ctx)

	results := []domain.Alert{}
	if err := cursor.All(ctx, &results); err != nil {
		logger.Error(fmt.Sprintf("Alert cursor decode failed: %v", err))
		return nil, err
	}
	return results, nil
}

func (r *MongoAlertRepo) Type() string {
	return "mongo"
}

func alertQuery(filter domain.AlertFilter) bson.M {
	query := bson.M{}
	if filter.UserID != "" {
		query["user_id"] = filter.UserID
	}
	if filter.UnresolvedOnly {
		// matches both a missing field and an explicit null
		query["resolved_at"] = nil
	}
	if len(filter.SiteIDs) > 0 {
		query["site_id"] = bson.M{"$in": filter.SiteIDs}
	}
	return query
}

// MongoProductionRepo implements ProductionRepository for MongoDB.
// Documents are keyed by date in _id.
type MongoProductionRepo struct {
	collection *mongo.Collection
}

func NewMongoProductionRepo(db *config.MongoDatabase) *MongoProductionRepo {
	return &MongoProductionRepo{collection: db.Database.Collection(productionCollection)}
}

func (r *MongoProductionRepo) Get(ctx context.Context, date string) (*domain.DailyProductionRecord, error) {
	var rec domain.DailyProductionRecord
	err := r.collection.FindOne(ctx, bson.M{"_id": date}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find daily record %s: %w", date, err)
	}
	return &rec, nil
}

// Merge performs the partial write as a single upsert: sites and summary
// are replaced, the counter incremented and createdAt set only on insert.
func (r *MongoProductionRepo) Merge(ctx context.Context, patch domain.ProductionPatch) (domain.DailyProductionRecord, error) {
	update := productionUpdate(patch)

	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var rec domain.DailyProductionRecord
	err := r.collection.FindOneAndUpdate(ctx, bson.M{"_id": patch.Date}, update, opts).Decode(&rec)
	if err != nil {
		logger.Error(fmt.Sprintf("Daily record upsert failed for %s: %v", patch.Date, err))
		return domain.DailyProductionRecord{}, fmt.Errorf("merge daily record %s: %w", patch.Date, err)
	}
	return rec, nil
}

func productionUpdate(patch domain.ProductionPatch) bson.M {
	sites := patch.Sites
	if sites == nil {
		sites = []domain.SiteProductionSnapshot{}
	}
	set := bson.M{
		"sites":                 sites,
		"summary":               patch.Summary,
		"metadata.updated_at":   patch.At,
		"metadata.saved_at":     patch.At,
		"metadata.saved_method": patch.Method,
	}
	if patch.Realtime {
		set["metadata.last_realtime_update"] = patch.At
	}
	return bson.M{
		"$set":         set,
		"$inc":         bson.M{"metadata.total_updates": 1},
		"$setOnInsert": bson.M{"metadata.created_at": patch.At},
	}
}

func (r *MongoProductionRepo) List(ctx context.Context, from, to string) ([]domain.DailyProductionRecord, error) {
	rng := bson.M{}
	if from != "" {
		rng["$gte"] = from
	}
	if to != "" {
		rng["$lte"] = to
	}
	query := bson.M{}
	if len(rng) > 0 {
		query["_id"] = rng
	}

	cursor, err := r.collection.Find(ctx, query, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list daily records: %w", err)
	}
	defer cursor.Close(ctx)

	var results []domain.DailyProductionRecord
	if err := cursor.All(ctx, &results); err != nil {
		return nil, fmt.Errorf("decode daily records: %w", err)
	}
	return results, nil
}

func (r *MongoProductionRepo) Type() string {
	return "mongo"
}

// MongoSiteRepo reads the registry from the sites collection
type MongoSiteRepo struct {
	collection *mongo.Collection
}

func NewMongoSiteRepo(db *config.MongoDatabase) *MongoSiteRepo {
	return &MongoSiteRepo{collection: db.Database.Collection(sitesCollection)}
}

func (r *MongoSiteRepo) List(ctx context.Context) ([]domain.Site, error) {
	cursor, err := r.collection.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "site_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list sites: %w", err)
	}
	defer cursor.Close(ctx)

	var sites []domain.Site
	if err := cursor.All(ctx, &sites); err != nil {
		return nil, fmt.Errorf("decode sites: %w", err)
	}
	return sites, nil
}
