package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/batch"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/job"
)

// CreateBatch persists the batch and all its jobs as one unit.
// MongoDB standalone deployments have no multi-document transactions,
// so a failed job insert compensates by deleting the batch document and
// any jobs already inserted.
func (s *Store) CreateBatch(ctx context.Context, b *batch.Batch, jobs []*job.Job) error {
	bm := toBatchModel(b)
	if _, err := s.db.Collection(colBatches).InsertOne(ctx, bm); err != nil {
		if isDuplicateKey(err) {
			return conveyor.ErrBatchAlreadyExists
		}
		return fmt.Errorf("conveyor/mongo: create batch: %w", err)
	}

	if len(jobs) == 0 {
		return nil
	}

	docs := make([]any, 0, len(jobs))
	for _, j := range jobs {
		docs = append(docs, toJobModel(j))
	}

	if _, err := s.db.Collection(colJobs).InsertMany(ctx, docs); err != nil {
		// Compensate: remove the batch and whatever jobs made it in.
		_, _ = s.db.Collection(colJobs).DeleteMany(ctx, bson.M{"batch_id": bm.ID})
		_, _ = s.db.Collection(colBatches).DeleteOne(ctx, bson.M{"_id": bm.ID})
		if isDuplicateKey(err) {
			return conveyor.ErrJobAlreadyExists
		}
		return fmt.Errorf("conveyor/mongo: create batch jobs: %w", err)
	}
	return nil
}

// GetBatch retrieves a batch by ID.
func (s *Store) GetBatch(ctx context.Context, batchID id.BatchID) (*batch.Batch, error) {
	var m batchModel
	err := s.db.Collection(colBatches).FindOne(ctx, bson.M{"_id": batchID.String()}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, conveyor.ErrBatchNotFound
		}
		return nil, fmt.Errorf("conveyor/mongo: get batch: %w", err)
	}
	return fromBatchModel(&m)
}

// UpdateBatch persists changes to an existing batch. The webhook
// sub-document is deliberately excluded: a counter overwrite must not
// clobber a concurrent ClaimWebhook. Webhook changes go through
// UpdateWebhook.
func (s *Store) UpdateBatch(ctx context.Context, b *batch.Batch) error {
	m := toBatchModel(b)
	res, err := s.db.Collection(colBatches).UpdateOne(ctx,
		bson.M{"_id": m.ID},
		bson.M{"$set": bson.M{
			"name":           m.Name,
			"job_ids":        m.JobIDs,
			"is_active":      m.IsActive,
			"archived":       m.Archived,
			"owner_id":       m.OwnerID,
			"completed_jobs": m.CompletedJobs,
			"failed_jobs":    m.FailedJobs,
			"updated_at":     now(),
		}},
	)
	if err != nil {
		return fmt.Errorf("conveyor/mongo: update batch: %w", err)
	}
	if res.MatchedCount == 0 {
		return conveyor.ErrBatchNotFound
	}
	return nil
}

// UpdateBatchCounters writes back only the derived counters.
func (s *Store) UpdateBatchCounters(ctx context.Context, batchID id.BatchID, completed, failed int) error {
	res, err := s.db.Collection(colBatches).UpdateOne(ctx,
		bson.M{"_id": batchID.String()},
		bson.M{"$set": bson.M{
			"completed_jobs": completed,
			"failed_jobs":    failed,
			"updated_at":     now(),
		}},
	)
	if err != nil {
		return fmt.Errorf("conveyor/mongo: update batch counters: %w", err)
	}
	if res.MatchedCount == 0 {
		return conveyor.ErrBatchNotFound
	}
	return nil
}

// DeleteBatch removes a batch and cascades to all its jobs.
func (s *Store) DeleteBatch(ctx context.Context, batchID id.BatchID) error {
	res, err := s.db.Collection(colBatches).DeleteOne(ctx, bson.M{"_id": batchID.String()})
	if err != nil {
		return fmt.Errorf("conveyor/mongo: delete batch: %w", err)
	}
	if res.DeletedCount == 0 {
		return conveyor.ErrBatchNotFound
	}
	if _, err := s.db.Collection(colJobs).DeleteMany(ctx, bson.M{"batch_id": batchID.String()}); err != nil {
		return fmt.Errorf("conveyor/mongo: delete batch jobs: %w", err)
	}
	return nil
}

// ListBatches returns batches; archived ones are excluded unless
// requested.
func (s *Store) ListBatches(ctx context.Context, opts batch.ListOpts) ([]*batch.Batch, error) {
	filter := bson.M{}
	if !opts.IncludeArchived {
		filter["archived"] = false
	}
	if opts.OwnerID != "" {
		filter["owner_id"] = opts.OwnerID
	}

	findOpts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		findOpts.SetSkip(int64(opts.Offset))
	}

	cursor, err := s.db.Collection(colBatches).Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("conveyor/mongo: list batches: %w", err)
	}
	defer cursor.Close(ctx)

	var models []batchModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("conveyor/mongo: list batches decode: %w", err)
	}

	batches := make([]*batch.Batch, 0, len(models))
	for i := range models {
		b, convErr := fromBatchModel(&models[i])
		if convErr != nil {
			return nil, fmt.Errorf("conveyor/mongo: list batches convert: %w", convErr)
		}
		batches = append(batches, b)
	}
	return batches, nil
}

// SetBatchActive toggles whether the batch's jobs may be claimed.
func (s *Store) SetBatchActive(ctx context.Context, batchID id.BatchID, active bool) error {
	res, err := s.db.Collection(colBatches).UpdateOne(ctx,
		bson.M{"_id": batchID.String()},
		bson.M{"$set": bson.M{
			"is_active":  active,
			"updated_at": now(),
		}},
	)
	if err != nil {
		return fmt.Errorf("conveyor/mongo: set batch active: %w", err)
	}
	if res.MatchedCount == 0 {
		return conveyor.ErrBatchNotFound
	}
	return nil
}

// ArchiveBatch marks the batch archived and archives its pending jobs;
// running jobs finish normally.
func (s *Store) ArchiveBatch(ctx context.Context, batchID id.BatchID) error {
	t := now()
	res, err := s.db.Collection(colBatches).UpdateOne(ctx,
		bson.M{"_id": batchID.String()},
		bson.M{"$set": bson.M{
			"archived":   true,
			"updated_at": t,
		}},
	)
	if err != nil {
		return fmt.Errorf("conveyor/mongo: archive batch: %w", err)
	}
	if res.MatchedCount == 0 {
		return conveyor.ErrBatchNotFound
	}

	_, err = s.db.Collection(colJobs).UpdateMany(ctx,
		bson.M{
			"batch_id": batchID.String(),
			"state":    string(job.StatePending),
		},
		bson.M{"$set": bson.M{
			"state":      string(job.StateArchived),
			"updated_at": t,
		}},
	)
	if err != nil {
		return fmt.Errorf("conveyor/mongo: archive batch jobs: %w", err)
	}
	return nil
}

// ClaimWebhook atomically marks webhook delivery as started. The filter
// on an unset started_at makes this a CAS: exactly one caller wins.
func (s *Store) ClaimWebhook(ctx context.Context, batchID id.BatchID) (bool, error) {
	res, err := s.db.Collection(colBatches).UpdateOne(ctx,
		bson.M{
			"_id":                batchID.String(),
			"webhook":            bson.M{"$ne": nil},
			"webhook.started_at": bson.M{"$exists": false},
		},
		bson.M{"$set": bson.M{
			"webhook.started_at": now(),
			"updated_at":         now(),
		}},
	)
	if err != nil {
		return false, fmt.Errorf("conveyor/mongo: claim webhook: %w", err)
	}
	if res.MatchedCount == 0 {
		// Already claimed, no webhook configured, or no such batch.
		// The last case surfaces as ErrBatchNotFound.
		if _, getErr := s.GetBatch(ctx, batchID); getErr != nil {
			return false, getErr
		}
		return false, nil
	}
	return true, nil
}

// UpdateWebhook persists delivery bookkeeping for the batch's webhook.
// Fields are $set individually so webhook.started_at — owned by the
// ClaimWebhook CAS — is never overwritten by a delivery loop.
func (s *Store) UpdateWebhook(ctx context.Context, batchID id.BatchID, w *batch.Webhook) error {
	res, err := s.db.Collection(colBatches).UpdateOne(ctx,
		bson.M{"_id": batchID.String()},
		bson.M{"$set": bson.M{
			"webhook.url":          w.URL,
			"webhook.state":        string(w.State),
			"webhook.attempts":     w.Attempts,
			"webhook.last_error":   w.LastError,
			"webhook.delivered_at": w.DeliveredAt,
			"updated_at":           now(),
		}},
	)
	if err != nil {
		return fmt.Errorf("conveyor/mongo: update webhook: %w", err)
	}
	if res.MatchedCount == 0 {
		return conveyor.ErrBatchNotFound
	}
	return nil
}
