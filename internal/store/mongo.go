package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/BetterCallFirewall/authlandscape/internal/models"
)

// Collection names mirror the per-kind collections original_source's
// brain/config/mongodb.py opens off a single database handle.
const (
	collectionScans       = "scans"
	collectionTasks       = "tasks"
	collectionResults     = "results"
	collectionTags        = "tags"
	collectionTopSites    = "top_sites_lists"
	collectionGroundTruth = "ground_truth"
)

// MongoStore is the production Store backed by a MongoDB database. Each
// document kind lives in its own collection, keyed by its natural ID field
// rather than Mongo's ObjectID, so dispatcher code can address documents by
// the same scan_id/task_id strings used on the wire.
type MongoStore struct {
	db *mongo.Database
}

// NewMongoStore wraps an already-connected *mongo.Database. Connection
// lifecycle (Connect/Disconnect, credentials, replica set config) is the
// caller's concern, matching how original_source's MongoDB config module
// hands a ready client to the rest of the app.
func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{db: db}
}

func (s *MongoStore) scans() *mongo.Collection   { return s.db.Collection(collectionScans) }
func (s *MongoStore) tasks() *mongo.Collection   { return s.db.Collection(collectionTasks) }
func (s *MongoStore) results() *mongo.Collection { return s.db.Collection(collectionResults) }
func (s *MongoStore) tags() *mongo.Collection    { return s.db.Collection(collectionTags) }
func (s *MongoStore) topSites() *mongo.Collection    { return s.db.Collection(collectionTopSites) }
func (s *MongoStore) groundTruth() *mongo.Collection { return s.db.Collection(collectionGroundTruth) }

func (s *MongoStore) SaveScan(ctx context.Context, scan models.Scan) error {
	opts := options.Replace().SetUpsert(true)
	_, err := s.scans().ReplaceOne(ctx, bson.M{"scan_id": scan.ScanID}, scan, opts)
	if err != nil {
		return fmt.Errorf("store: save scan %s: %w", scan.ScanID, err)
	}
	return nil
}

func (s *MongoStore) GetScan(ctx context.Context, scanID string) (models.Scan, error) {
	var scan models.Scan
	err := s.scans().FindOne(ctx, bson.M{"scan_id": scanID}).Decode(&scan)
	if err == mongo.ErrNoDocuments {
		return models.Scan{}, ErrNotFound
	}
	if err != nil {
		return models.Scan{}, fmt.Errorf("store: get scan %s: %w", scanID, err)
	}
	return scan, nil
}

// DeleteScan removes the scan document and every task/result belonging to
// it. Blob cleanup for those results is the dispatcher's responsibility
// (§7): it must resolve and remove blobs before or after calling this,
// since MongoStore has no knowledge of the blob store.
func (s *MongoStore) DeleteScan(ctx context.Context, scanID string) error {
	if _, err := s.scans().DeleteOne(ctx, bson.M{"scan_id": scanID}); err != nil {
		return fmt.Errorf("store: delete scan %s: %w", scanID, err)
	}

	taskIDs, err := s.taskIDsForScan(ctx, scanID)
	if err != nil {
		return err
	}

	if _, err := s.tasks().DeleteMany(ctx, bson.M{"scan_id": scanID}); err != nil {
		return fmt.Errorf("store: delete tasks for scan %s: %w", scanID, err)
	}
	if _, err := s.results().DeleteMany(ctx, bson.M{"task_id": bson.M{"$in": taskIDs}}); err != nil {
		return fmt.Errorf("store: delete results for scan %s: %w", scanID, err)
	}
	return nil
}

func (s *MongoStore) taskIDsForScan(ctx context.Context, scanID string) ([]string, error) {
	cursor, err := s.tasks().Find(ctx, bson.M{"scan_id": scanID}, options.Find().SetProjection(bson.M{"task_id": 1}))
	if err != nil {
		return nil, fmt.Errorf("store: list task ids for scan %s: %w", scanID, err)
	}
	defer cursor.Close(ctx)

	var ids []string
	for cursor.Next(ctx) {
		var doc struct {
			TaskID string `bson:"task_id"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("store: decode task id: %w", err)
		}
		ids = append(ids, doc.TaskID)
	}
	return ids, cursor.Err()
}

func (s *MongoStore) SaveTask(ctx context.Context, task models.Task) error {
	opts := options.Replace().SetUpsert(true)
	_, err := s.tasks().ReplaceOne(ctx, bson.M{"task_id": task.TaskID}, task, opts)
	if err != nil {
		return fmt.Errorf("store: save task %s: %w", task.TaskID, err)
	}
	return nil
}

func (s *MongoStore) GetTask(ctx context.Context, taskID string) (models.Task, error) {
	var task models.Task
	err := s.tasks().FindOne(ctx, bson.M{"task_id": taskID}).Decode(&task)
	if err == mongo.ErrNoDocuments {
		return models.Task{}, ErrNotFound
	}
	if err != nil {
		return models.Task{}, fmt.Errorf("store: get task %s: %w", taskID, err)
	}
	return task, nil
}

func (s *MongoStore) DeleteTask(ctx context.Context, taskID string) error {
	if _, err := s.tasks().DeleteOne(ctx, bson.M{"task_id": taskID}); err != nil {
		return fmt.Errorf("store: delete task %s: %w", taskID, err)
	}
	return nil
}

func (s *MongoStore) ListTasksByScan(ctx context.Context, scanID string) ([]models.Task, error) {
	cursor, err := s.tasks().Find(ctx, bson.M{"scan_id": scanID})
	if err != nil {
		return nil, fmt.Errorf("store: list tasks for scan %s: %w", scanID, err)
	}
	defer cursor.Close(ctx)

	var out []models.Task
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("store: decode tasks for scan %s: %w", scanID, err)
	}
	return out, nil
}

func (s *MongoStore) ListStuckTasks(ctx context.Context, now time.Time, budget time.Duration) ([]models.Task, error) {
	cutoff := now.Add(-budget)
	filter := bson.M{
		"task_state":                        bson.M{"$ne": models.TaskResponseReceived},
		"task_timestamp_request_sent": bson.M{"$lt": cutoff},
	}
	cursor, err := s.tasks().Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("store: list stuck tasks: %w", err)
	}
	defer cursor.Close(ctx)

	var out []models.Task
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("store: decode stuck tasks: %w", err)
	}
	return out, nil
}

func (s *MongoStore) SaveResult(ctx context.Context, result models.TaskResult) error {
	opts := options.Replace().SetUpsert(true)
	_, err := s.results().ReplaceOne(ctx, bson.M{"task_id": result.TaskID}, result, opts)
	if err != nil {
		return fmt.Errorf("store: save result %s: %w", result.TaskID, err)
	}
	return nil
}

func (s *MongoStore) GetResult(ctx context.Context, taskID string) (models.TaskResult, error) {
	var result models.TaskResult
	err := s.results().FindOne(ctx, bson.M{"task_id": taskID}).Decode(&result)
	if err == mongo.ErrNoDocuments {
		return models.TaskResult{}, ErrNotFound
	}
	if err != nil {
		return models.TaskResult{}, fmt.Errorf("store: get result %s: %w", taskID, err)
	}
	return result, nil
}

func (s *MongoStore) ListResultsByScan(ctx context.Context, scanID string) ([]models.TaskResult, error) {
	cursor, err := s.results().Find(ctx, bson.M{"scan_id": scanID})
	if err != nil {
		return nil, fmt.Errorf("store: list results for scan %s: %w", scanID, err)
	}
	defer cursor.Close(ctx)

	var out []models.TaskResult
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("store: decode results for scan %s: %w", scanID, err)
	}
	return out, nil
}

func (s *MongoStore) DeleteResult(ctx context.Context, taskID string) error {
	if _, err := s.results().DeleteOne(ctx, bson.M{"task_id": taskID}); err != nil {
		return fmt.Errorf("store: delete result %s: %w", taskID, err)
	}
	return nil
}

func (s *MongoStore) SaveTag(ctx context.Context, tag models.ScanTag) error {
	opts := options.Replace().SetUpsert(true)
	_, err := s.tags().ReplaceOne(ctx, bson.M{"tag_name": tag.TagName}, tag, opts)
	if err != nil {
		return fmt.Errorf("store: save tag %s: %w", tag.TagName, err)
	}
	return nil
}

func (s *MongoStore) GetTag(ctx context.Context, tagName string) (models.ScanTag, error) {
	var tag models.ScanTag
	err := s.tags().FindOne(ctx, bson.M{"tag_name": tagName}).Decode(&tag)
	if err == mongo.ErrNoDocuments {
		return models.ScanTag{}, ErrNotFound
	}
	if err != nil {
		return models.ScanTag{}, fmt.Errorf("store: get tag %s: %w", tagName, err)
	}
	return tag, nil
}

// ListTopSitesRange reads the [offset, offset+limit) rank window of a
// top-sites list (§4.9 `range` scan type).
func (s *MongoStore) ListTopSitesRange(ctx context.Context, listID string, offset, limit int) ([]models.TopSitesEntry, error) {
	filter := bson.M{"list_id": listID, "rank": bson.M{"$gte": offset, "$lt": offset + limit}}
	cursor, err := s.topSites().Find(ctx, filter, options.Find().SetSort(bson.M{"rank": 1}))
	if err != nil {
		return nil, fmt.Errorf("store: list top sites %s[%d:%d]: %w", listID, offset, offset+limit, err)
	}
	defer cursor.Close(ctx)

	out := make([]models.TopSitesEntry, 0, limit)
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("store: decode top sites %s: %w", listID, err)
	}
	return out, nil
}

func (s *MongoStore) RankOf(ctx context.Context, listID, domain string) (int, bool, error) {
	var entry models.TopSitesEntry
	err := s.topSites().FindOne(ctx, bson.M{"list_id": listID, "domain": domain}).Decode(&entry)
	if err == mongo.ErrNoDocuments {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("store: rank of %s in %s: %w", domain, listID, err)
	}
	return entry.Rank, true, nil
}

// ListGroundTruth reads the [offset, offset+limit) window of a ground-truth
// collection's rows (§4.9 `ground-truth` scan type); limit<=0 reads to the
// end.
func (s *MongoStore) ListGroundTruth(ctx context.Context, gtID string, offset, limit int) ([]models.GroundTruthRow, error) {
	opts := options.Find().SetSkip(int64(offset))
	if limit > 0 {
		opts = opts.SetLimit(int64(limit))
	}
	cursor, err := s.groundTruth().Find(ctx, bson.M{"gt_id": gtID}, opts)
	if err != nil {
		return nil, fmt.Errorf("store: list ground truth %s: %w", gtID, err)
	}
	defer cursor.Close(ctx)

	var out []models.GroundTruthRow
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("store: decode ground truth %s: %w", gtID, err)
	}
	return out, nil
}

var _ Store = (*MongoStore)(nil)
