package db

import (
	"context"
	"encoding/json"
	"time"

	"geowatch/internal/types"
)

// JobLockRepository hands out time-boxed leases from the job_locks table so
// only one replica runs a periodic job (the retry sweep) in a given window.
type JobLockRepository struct {
	db    DBTX
	clock types.Clock
}

// NewJobLockRepository creates a JobLockRepository.
func NewJobLockRepository(db DBTX, clock types.Clock) *JobLockRepository {
	if clock == nil {
		clock = types.RealClock{}
	}
	return &JobLockRepository{db: db, clock: clock}
}

// Acquire takes lockID for ttl. It returns false when another worker holds an
// unexpired lease. An expired lease is taken over atomically:
//
//	INSERT ... ON CONFLICT (id) DO UPDATE ... WHERE job_locks.expires_at < now
//
// Timestamps are computed in Go so Postgres never parses a Go duration string.
func (r *JobLockRepository) Acquire(ctx context.Context, lockID, workerID string, ttl time.Duration) (bool, error) {
	now := r.clock.Now()
	tag, err := r.db.Exec(ctx,
		`INSERT INTO job_locks (id, worker_id, locked_at, expires_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE
		   SET worker_id = EXCLUDED.worker_id,
		       locked_at = EXCLUDED.locked_at,
		       expires_at = EXCLUDED.expires_at
		   WHERE job_locks.expires_at < $3`,
		lockID,
		workerID,
		now,
		now.Add(ttl),
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to acquire job lock", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Release drops the lease early if workerID still holds it.
func (r *JobLockRepository) Release(ctx context.Context, lockID, workerID string) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM job_locks WHERE id = $1 AND worker_id = $2`,
		lockID, workerID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to release job lock", err)
	}
	return nil
}

// JobHistoryRepository records periodic job runs in job_history. Each run
// stores its counters as a jsonb details column.
type JobHistoryRepository struct {
	db    DBTX
	clock types.Clock
}

// NewJobHistoryRepository creates a JobHistoryRepository.
func NewJobHistoryRepository(db DBTX, clock types.Clock) *JobHistoryRepository {
	if clock == nil {
		clock = types.RealClock{}
	}
	return &JobHistoryRepository{db: db, clock: clock}
}

// Start opens a 'running' entry and returns its ID.
func (r *JobHistoryRepository) Start(ctx context.Context, job string) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx,
		`INSERT INTO job_history (job_type, started_at, status)
		 VALUES ($1, $2, 'running')
		 RETURNING id`,
		job, r.clock.Now(),
	).Scan(&id)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to start job history entry", err)
	}
	return id, nil
}

// Finish closes run id. A non-nil runErr marks it 'failed' and keeps the
// message; counts land in details.
func (r *JobHistoryRepository) Finish(ctx context.Context, id int64, counts map[string]int, runErr error) error {
	status, msg := "success", (*string)(nil)
	if runErr != nil {
		status = "failed"
		m := runErr.Error()
		msg = &m
	}
	details, err := json.Marshal(counts)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode job details", err)
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE job_history
		 SET finished_at = $2, status = $3, details = $4, error = $5
		 WHERE id = $1 AND status = 'running'`,
		id, r.clock.Now(), status, details, msg,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to finish job history entry", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "no running job history entry", nil)
	}
	return nil
}
