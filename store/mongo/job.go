package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/job"
)

// CreateJob persists a new job in pending state.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	m := toJobModel(j)
	_, err := s.db.Collection(colJobs).InsertOne(ctx, m)
	if err != nil {
		if isDuplicateKey(err) {
			return conveyor.ErrJobAlreadyExists
		}
		return fmt.Errorf("conveyor/mongo: create job: %w", err)
	}
	return nil
}

// ClaimPending atomically claims up to limit eligible pending jobs.
// Uses FindOneAndUpdate conditioned on state = pending so two
// concurrent claimers can never take the same job.
func (s *Store) ClaimPending(ctx context.Context, workerID id.WorkerID, kinds []string, limit int) ([]*job.Job, error) {
	t := now()
	col := s.db.Collection(colJobs)

	// Jobs of inactive or archived batches are never claimable. The
	// blocked set is read first; a batch toggled between the two
	// queries is picked up on the next poll.
	blocked, err := s.blockedBatchIDs(ctx)
	if err != nil {
		return nil, err
	}

	filter := bson.M{
		"state":  string(job.StatePending),
		"run_at": bson.M{"$lte": t},
	}
	if len(kinds) > 0 {
		filter["kind"] = bson.M{"$in": kinds}
	}
	if len(blocked) > 0 {
		filter["batch_id"] = bson.M{"$nin": blocked}
	}

	update := bson.M{
		"$set": bson.M{
			"state":        string(job.StateRunning),
			"worker_id":    workerID.String(),
			"started_at":   t,
			"heartbeat_at": t,
			"updated_at":   t,
		},
	}

	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetSort(bson.D{
			{Key: "created_at", Value: 1},
			{Key: "_id", Value: 1},
		})

	jobs := make([]*job.Job, 0, limit)
	for i := 0; i < limit; i++ {
		var m jobModel
		err := col.FindOneAndUpdate(ctx, filter, update, opts).Decode(&m)
		if err != nil {
			if isNoDocuments(err) {
				break
			}
			return nil, fmt.Errorf("conveyor/mongo: claim pending: %w", err)
		}

		j, convErr := fromJobModel(&m)
		if convErr != nil {
			return nil, fmt.Errorf("conveyor/mongo: claim convert: %w", convErr)
		}
		jobs = append(jobs, j)
	}

	return jobs, nil
}

// blockedBatchIDs returns the IDs of batches whose jobs must not be
// claimed: inactive or archived ones.
func (s *Store) blockedBatchIDs(ctx context.Context) ([]string, error) {
	col := s.db.Collection(colBatches)
	cursor, err := col.Find(ctx,
		bson.M{"$or": []bson.M{
			{"is_active": false},
			{"archived": true},
		}},
		options.Find().SetProjection(bson.M{"_id": 1}),
	)
	if err != nil {
		return nil, fmt.Errorf("conveyor/mongo: blocked batches: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []struct {
		ID string `bson:"_id"`
	}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("conveyor/mongo: blocked batches decode: %w", err)
	}

	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID)
	}
	return ids, nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	var m jobModel
	err := s.db.Collection(colJobs).FindOne(ctx, bson.M{"_id": jobID.String()}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, conveyor.ErrJobNotFound
		}
		return nil, fmt.Errorf("conveyor/mongo: get job: %w", err)
	}
	return fromJobModel(&m)
}

// UpdateJob persists changes to an existing job after validating the
// state transition against the stored state.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	existing, err := s.GetJob(ctx, j.ID)
	if err != nil {
		return err
	}
	if err := job.CheckTransition(existing.State, j.State); err != nil {
		return err
	}

	m := toJobModel(j)
	m.UpdatedAt = now()

	// Guard on the observed state so a concurrent transition loses
	// cleanly instead of being silently overwritten.
	res, err := s.db.Collection(colJobs).ReplaceOne(ctx,
		bson.M{"_id": m.ID, "state": string(existing.State)},
		m,
	)
	if err != nil {
		return fmt.Errorf("conveyor/mongo: update job: %w", err)
	}
	if res.MatchedCount == 0 {
		return conveyor.ErrInvalidTransition
	}
	return nil
}

// RestartJob returns a terminal job to pending with cleared result,
// error, and progress. Each restart counts against the retry budget.
func (s *Store) RestartJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	t := now()
	terminal := []string{
		string(job.StateSuccess),
		string(job.StateFailed),
		string(job.StateArchived),
	}

	update := bson.M{
		"$set": bson.M{
			"state":      string(job.StatePending),
			"progress":   0,
			"run_at":     t,
			"updated_at": t,
		},
		"$inc": bson.M{"retry_count": 1},
		"$unset": bson.M{
			"result":       "",
			"error":        "",
			"worker_id":    "",
			"started_at":   "",
			"completed_at": "",
			"heartbeat_at": "",
		},
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var m jobModel
	err := s.db.Collection(colJobs).FindOneAndUpdate(ctx,
		bson.M{"_id": jobID.String(), "state": bson.M{"$in": terminal}},
		update,
		opts,
	).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			// Distinguish a missing job from a non-terminal one.
			if _, getErr := s.GetJob(ctx, jobID); getErr != nil {
				return nil, getErr
			}
			return nil, conveyor.ErrNotTerminal
		}
		return nil, fmt.Errorf("conveyor/mongo: restart job: %w", err)
	}
	return fromJobModel(&m)
}

// SetProgress records execution progress for a running job. $max keeps
// it monotonic under concurrent reports.
func (s *Store) SetProgress(ctx context.Context, jobID id.JobID, progress int) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}

	res, err := s.db.Collection(colJobs).UpdateOne(ctx,
		bson.M{"_id": jobID.String()},
		bson.M{
			"$max": bson.M{"progress": progress},
			"$set": bson.M{"updated_at": now()},
		},
	)
	if err != nil {
		return fmt.Errorf("conveyor/mongo: set progress: %w", err)
	}
	if res.MatchedCount == 0 {
		return conveyor.ErrJobNotFound
	}
	return nil
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	res, err := s.db.Collection(colJobs).DeleteOne(ctx, bson.M{"_id": jobID.String()})
	if err != nil {
		return fmt.Errorf("conveyor/mongo: delete job: %w", err)
	}
	if res.DeletedCount == 0 {
		return conveyor.ErrJobNotFound
	}
	return nil
}

// ListJobsByBatch returns all jobs referencing the batch, in submission
// order.
func (s *Store) ListJobsByBatch(ctx context.Context, batchID id.BatchID) ([]*job.Job, error) {
	b, err := s.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}

	cursor, err := s.db.Collection(colJobs).Find(ctx, bson.M{"batch_id": batchID.String()})
	if err != nil {
		return nil, fmt.Errorf("conveyor/mongo: list jobs by batch: %w", err)
	}
	defer cursor.Close(ctx)

	var models []jobModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("conveyor/mongo: list jobs by batch decode: %w", err)
	}

	byID := make(map[string]*job.Job, len(models))
	for i := range models {
		j, convErr := fromJobModel(&models[i])
		if convErr != nil {
			return nil, fmt.Errorf("conveyor/mongo: list jobs by batch convert: %w", convErr)
		}
		byID[j.ID.String()] = j
	}

	// The batch's JobIDs slice is the submission order of record.
	jobs := make([]*job.Job, 0, len(byID))
	for _, jobID := range b.JobIDs {
		if j, ok := byID[jobID.String()]; ok {
			jobs = append(jobs, j)
		}
	}
	return jobs, nil
}

// ListJobsByState returns jobs matching the given state.
func (s *Store) ListJobsByState(ctx context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	filter := bson.M{"state": string(state)}
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

	cursor, err := s.db.Collection(colJobs).Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("conveyor/mongo: list jobs by state: %w", err)
	}
	defer cursor.Close(ctx)

	var models []jobModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("conveyor/mongo: list jobs decode: %w", err)
	}

	jobs := make([]*job.Job, 0, len(models))
	for i := range models {
		j, convErr := fromJobModel(&models[i])
		if convErr != nil {
			return nil, fmt.Errorf("conveyor/mongo: list jobs convert: %w", convErr)
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// CountJobs returns the number of jobs matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	filter := bson.M{}
	if opts.Kind != "" {
		filter["kind"] = opts.Kind
	}
	if opts.State != "" {
		filter["state"] = string(opts.State)
	}

	count, err := s.db.Collection(colJobs).CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("conveyor/mongo: count jobs: %w", err)
	}
	return count, nil
}

// HeartbeatJob renews the lease on a running job. A heartbeat from a
// worker that no longer holds the claim is a silent no-op: a stale
// heartbeat must not resurrect a reaped or reassigned job.
func (s *Store) HeartbeatJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error {
	t := now()
	_, err := s.db.Collection(colJobs).UpdateOne(ctx,
		bson.M{
			"_id":       jobID.String(),
			"state":     string(job.StateRunning),
			"worker_id": workerID.String(),
		},
		bson.M{"$set": bson.M{
			"heartbeat_at": t,
			"updated_at":   t,
		}},
	)
	if err != nil {
		return fmt.Errorf("conveyor/mongo: heartbeat job: %w", err)
	}
	return nil
}

// ReapStaleJobs returns running jobs whose last heartbeat is older than
// the given threshold.
func (s *Store) ReapStaleJobs(ctx context.Context, threshold time.Duration) ([]*job.Job, error) {
	cutoff := now().Add(-threshold)

	cursor, err := s.db.Collection(colJobs).Find(ctx, bson.M{
		"state":        string(job.StateRunning),
		"heartbeat_at": bson.M{"$ne": nil, "$lt": cutoff},
	})
	if err != nil {
		return nil, fmt.Errorf("conveyor/mongo: reap stale jobs: %w", err)
	}
	defer cursor.Close(ctx)

	var models []jobModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("conveyor/mongo: reap stale decode: %w", err)
	}

	jobs := make([]*job.Job, 0, len(models))
	for i := range models {
		j, convErr := fromJobModel(&models[i])
		if convErr != nil {
			return nil, fmt.Errorf("conveyor/mongo: reap stale convert: %w", convErr)
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}
