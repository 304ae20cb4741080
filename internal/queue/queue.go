// Package queue manages the postgres-backed geocoding work queue that
// feeds addresses to the geocoding job.
package queue

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/geocode-pipeline/internal/db"
	"github.com/sells-group/geocode-pipeline/internal/model"
)

// Processor runs the geocoding job for one address. A false return means
// the attempt failed and was already logged.
type Processor interface {
	Process(ctx context.Context, addr *model.Address) bool
}

// AddressGetter fetches addresses by id.
type AddressGetter interface {
	GetAddress(ctx context.Context, id int64) (*model.Address, error)
}

// Queue claims pending geocode work with FOR UPDATE SKIP LOCKED so that
// multiple workers can run concurrently without double-processing.
type Queue struct {
	pool        db.Pool
	store       AddressGetter
	job         Processor
	batchSize   int
	concurrency int
	maxAttempts int
}

// Option configures the Queue.
type Option func(*Queue)

// WithBatchSize sets how many rows one ProcessBatch call claims.
func WithBatchSize(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.batchSize = n
		}
	}
}

// WithConcurrency sets how many claimed addresses are geocoded in parallel.
// The default of 1 keeps processing sequential within a batch.
func WithConcurrency(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.concurrency = n
		}
	}
}

// WithMaxAttempts sets how many failed attempts park a queue row in the
// error state instead of re-queuing it.
func WithMaxAttempts(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.maxAttempts = n
		}
	}
}

// New creates a Queue.
func New(pool db.Pool, store AddressGetter, job Processor, opts ...Option) *Queue {
	q := &Queue{
		pool:        pool,
		store:       store,
		job:         job,
		batchSize:   100,
		concurrency: 1,
		maxAttempts: 3,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue inserts or re-arms a single address in the geocode queue.
func (q *Queue) Enqueue(ctx context.Context, addressID int64) error {
	_, err := q.pool.Exec(ctx, `
		INSERT INTO geocode_queue (address_id, status, attempts, created_at, updated_at)
		VALUES ($1, 'pending', 0, now(), now())
		ON CONFLICT (address_id) DO UPDATE SET
			status = 'pending',
			attempts = 0,
			error = NULL,
			updated_at = now()`,
		addressID,
	)
	return eris.Wrap(err, "queue: enqueue")
}

// EnqueueBatch inserts multiple addresses into the geocode queue in one
// transaction.
func (q *Queue) EnqueueBatch(ctx context.Context, addressIDs []int64) error {
	if len(addressIDs) == 0 {
		return nil
	}

	tx, err := q.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "queue: begin tx for batch enqueue")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, id := range addressIDs {
		_, err := tx.Exec(ctx, `
			INSERT INTO geocode_queue (address_id, status, attempts, created_at, updated_at)
			VALUES ($1, 'pending', 0, now(), now())
			ON CONFLICT (address_id) DO UPDATE SET
				status = 'pending',
				attempts = 0,
				error = NULL,
				updated_at = now()`,
			id,
		)
		if err != nil {
			return eris.Wrapf(err, "queue: enqueue batch item %d", id)
		}
	}

	return eris.Wrap(tx.Commit(ctx), "queue: commit batch enqueue")
}

// claimedRow holds a row claimed from the geocode queue.
type claimedRow struct {
	ID        int64
	AddressID int64
}

// ProcessBatch claims up to batchSize pending rows, geocodes them, and
// updates their queue status. Returns the number of rows processed.
func (q *Queue) ProcessBatch(ctx context.Context) (int, error) {
	claimed, err := q.claim(ctx)
	if err != nil {
		return 0, err
	}
	if len(claimed) == 0 {
		return 0, nil
	}

	log := zap.L().With(zap.String("component", "queue"))

	eg, gCtx := errgroup.WithContext(ctx)
	eg.SetLimit(q.concurrency)
	for _, row := range claimed {
		row := row
		eg.Go(func() error {
			addr, err := q.store.GetAddress(gCtx, row.AddressID)
			if err != nil {
				q.finishError(gCtx, row.ID, err.Error())
				return nil //nolint:nilerr // per-row failures don't fail the batch
			}
			if addr == nil {
				q.finishError(gCtx, row.ID, "address not found")
				return nil
			}

			if q.job.Process(gCtx, addr) {
				q.finishDone(gCtx, row.ID)
			} else {
				q.finishError(gCtx, row.ID, "geocoding failed")
			}
			return nil
		})
	}
	_ = eg.Wait()

	log.Info("queue batch processed", zap.Int("claimed", len(claimed)))
	return len(claimed), nil
}

// claim locks up to batchSize pending rows and marks them processing.
func (q *Queue) claim(ctx context.Context) ([]claimedRow, error) {
	tx, err := q.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "queue: begin claim tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	rows, err := tx.Query(ctx, `
		SELECT id, address_id
		FROM geocode_queue
		WHERE status = 'pending'
		ORDER BY created_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED`,
		q.batchSize,
	)
	if err != nil {
		return nil, eris.Wrap(err, "queue: claim rows")
	}

	var claimed []claimedRow
	for rows.Next() {
		var r claimedRow
		if err := rows.Scan(&r.ID, &r.AddressID); err != nil {
			rows.Close()
			return nil, eris.Wrap(err, "queue: scan claimed row")
		}
		claimed = append(claimed, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "queue: iterate claimed rows")
	}

	if len(claimed) == 0 {
		_ = tx.Commit(ctx)
		return nil, nil
	}

	ids := make([]int64, len(claimed))
	for i, r := range claimed {
		ids[i] = r.ID
	}
	_, err = tx.Exec(ctx,
		`UPDATE geocode_queue SET status = 'processing', updated_at = now() WHERE id = ANY($1)`,
		ids,
	)
	if err != nil {
		return nil, eris.Wrap(err, "queue: mark processing")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "queue: commit claim")
	}
	return claimed, nil
}

func (q *Queue) finishDone(ctx context.Context, id int64) {
	_, err := q.pool.Exec(ctx,
		`UPDATE geocode_queue SET status = 'done', error = NULL, updated_at = now() WHERE id = $1`,
		id,
	)
	if err != nil {
		zap.L().Error("queue: failed to mark row done", zap.Int64("queue_id", id), zap.Error(err))
	}
}

// finishError bumps the attempt counter and either re-queues the row or
// parks it in the error state once the attempt ceiling is reached.
func (q *Queue) finishError(ctx context.Context, id int64, msg string) {
	_, err := q.pool.Exec(ctx, `
		UPDATE geocode_queue SET
			attempts = attempts + 1,
			status = CASE WHEN attempts + 1 >= $2 THEN 'error' ELSE 'pending' END,
			error = $3,
			updated_at = now()
		WHERE id = $1`,
		id, q.maxAttempts, msg,
	)
	if err != nil {
		zap.L().Error("queue: failed to mark row errored", zap.Int64("queue_id", id), zap.Error(err))
	}
}
