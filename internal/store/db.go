package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"mailprobe/internal/models"
)

// Store persists bulk verification jobs and their per-address results.
type Store struct {
	pool *pgxpool.Pool
}

// Job mirrors one row of the jobs table.
type Job struct {
	ID             string     `json:"id"`
	Status         string     `json:"status"`
	TotalCount     int        `json:"total_count"`
	ProcessedCount int        `json:"processed_count"`
	CreatedAt      time.Time  `json:"created_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// ResultRow is one verified address as returned by the results API.
type ResultRow struct {
	Email    string          `json:"email"`
	Status   string          `json:"status"`
	SMTPCode int             `json:"smtp_code"`
	Data     json.RawMessage `json:"data"`
}

// Open connects to Postgres and applies migrations.
func Open(connString string) (*Store, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	s := &Store{pool: pool}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	queryJobs := `
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		total_count INT DEFAULT 0,
		processed_count INT DEFAULT 0,
		created_at TIMESTAMP DEFAULT NOW(),
		completed_at TIMESTAMP
	);`

	// The full Result is kept as JSONB next to the columns the API
	// filters on, so verdicts can be re-examined without re-probing.
	queryResults := `
	CREATE TABLE IF NOT EXISTS results (
		id SERIAL PRIMARY KEY,
		job_id TEXT NOT NULL REFERENCES jobs(id),
		email TEXT NOT NULL,
		status TEXT NOT NULL,
		smtp_code INT NOT NULL DEFAULT 0,
		data JSONB NOT NULL
	);`

	queryIndex := `
	CREATE INDEX IF NOT EXISTS idx_results_job_id_id ON results (job_id, id);`

	for _, q := range []string{queryJobs, queryResults, queryIndex} {
		if _, err := s.pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// CreateJob registers a pending bulk job.
func (s *Store) CreateJob(ctx context.Context, jobID string, total int) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO jobs (id, status, total_count, created_at) VALUES ($1, 'pending', $2, $3)`,
		jobID, total, time.Now())
	return err
}

// GetJob fetches one job's progress.
func (s *Store) GetJob(ctx context.Context, jobID string) (*Job, error) {
	var job Job
	err := s.pool.QueryRow(ctx, `
		SELECT id, status, total_count, processed_count, created_at, completed_at
		FROM jobs
		WHERE id = $1
	`, jobID).Scan(&job.ID, &job.Status, &job.TotalCount, &job.ProcessedCount,
		&job.CreatedAt, &job.CompletedAt)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// SaveResult inserts one verdict and bumps the owning job's progress in a
// single transaction, flipping the job to completed when the last address
// lands.
func (s *Store) SaveResult(ctx context.Context, jobID string, result models.Result) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result for %s: %w", result.Email, err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	// Rollback is a no-op once Commit succeeds.
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO results (job_id, email, status, smtp_code, data)
		VALUES ($1, $2, $3, $4, $5)
	`, jobID, result.Email, string(result.Status), result.SMTPCode, data)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		UPDATE jobs
		SET processed_count = processed_count + 1,
		    status = CASE WHEN processed_count + 1 >= total_count THEN 'completed' ELSE status END,
		    completed_at = CASE WHEN processed_count + 1 >= total_count THEN NOW() ELSE completed_at END
		WHERE id = $1
	`, jobID)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// ResultsPage returns one page of a job's results plus the job's total so
// callers can paginate without a separate count query. The composite
// (job_id, id) index resolves this without a sort step.
func (s *Store) ResultsPage(ctx context.Context, jobID string, page, pageSize int) (total int, rows []ResultRow, err error) {
	err = s.pool.QueryRow(ctx,
		`SELECT total_count FROM jobs WHERE id = $1`, jobID,
	).Scan(&total)
	if err != nil {
		return 0, nil, err
	}

	offset := (page - 1) * pageSize
	res, err := s.pool.Query(ctx, `
		SELECT email, status, smtp_code, data
		FROM   results
		WHERE  job_id = $1
		ORDER  BY id ASC
		LIMIT  $2
		OFFSET $3
	`, jobID, pageSize, offset)
	if err != nil {
		return 0, nil, err
	}
	defer res.Close()

	rows = make([]ResultRow, 0, pageSize)
	for res.Next() {
		var row ResultRow
		if err := res.Scan(&row.Email, &row.Status, &row.SMTPCode, &row.Data); err != nil {
			continue
		}
		rows = append(rows, row)
	}
	if err := res.Err(); err != nil {
		return 0, nil, err
	}
	return total, rows, nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}
