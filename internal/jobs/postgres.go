package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"server/internal/domain"
)

// PostgresRegistry is the durable registry variant. The transition guard is
// expressed as a conditional UPDATE so the database serializes racing
// callers per row.
type PostgresRegistry struct {
	pool *pgxpool.Pool
}

// NewPostgresRegistry creates a registry backed by PostgreSQL.
func NewPostgresRegistry(pool *pgxpool.Pool) *PostgresRegistry {
	return &PostgresRegistry{pool: pool}
}

const jobColumns = `id, model_id, client_id, state, provider_handle, result_json, error_kind, error_message, submitted_at, updated_at, delivered`

// Create implements Registry.
func (r *PostgresRegistry) Create(ctx context.Context, modelID, clientID string) (*domain.Job, error) {
	query := `
INSERT INTO generation_jobs (id, model_id, client_id, state)
VALUES ($1, $2, $3, $4)
RETURNING ` + jobColumns + `;
`
	row := r.pool.QueryRow(ctx, query, uuid.NewString(), modelID, clientID, domain.JobStatePending)
	return scanJob(row)
}

// Get implements Registry.
func (r *PostgresRegistry) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM generation_jobs WHERE id = $1;`
	job, err := scanJob(r.pool.QueryRow(ctx, query, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", domain.ErrJobNotFound, jobID)
		}
		return nil, err
	}
	return job, nil
}

// Transition implements Registry. The WHERE state = ANY($from) clause is the
// compare-and-swap: a racing caller whose from-state no longer holds updates
// zero rows.
func (r *PostgresRegistry) Transition(ctx context.Context, jobID string, from []domain.JobState, to domain.JobState, patch Patch) (*domain.Job, error) {
	var resultJSON []byte
	if patch.Result != nil {
		var err error
		resultJSON, err = json.Marshal(patch.Result)
		if err != nil {
			return nil, fmt.Errorf("encode result: %w", err)
		}
	}
	query := `
UPDATE generation_jobs
SET state = $2,
    updated_at = NOW(),
    provider_handle = COALESCE($3, provider_handle),
    result_json = COALESCE($4, result_json),
    error_kind = COALESCE($5, error_kind),
    error_message = COALESCE($6, error_message)
WHERE id = $1 AND state = ANY($7)
RETURNING ` + jobColumns + `;
`
	// Terminal states never exit, whatever from-set the caller names.
	fromStates := make([]string, 0, len(from))
	for _, s := range from {
		if !s.Terminal() {
			fromStates = append(fromStates, string(s))
		}
	}
	row := r.pool.QueryRow(ctx, query, jobID, to, patch.ProviderHandle, nullableBytes(resultJSON), patch.ErrorKind, patch.ErrorMessage, fromStates)
	job, err := scanJob(row)
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	// Zero rows: either the job is gone or the guard rejected the swap.
	current, getErr := r.Get(ctx, jobID)
	if getErr != nil {
		return nil, getErr
	}
	return nil, fmt.Errorf("%w: %s -> %s (job %s)", domain.ErrInvalidTransition, current.State, to, jobID)
}

// ListByClient implements Registry.
func (r *PostgresRegistry) ListByClient(ctx context.Context, clientID string) ([]*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM generation_jobs WHERE client_id = $1 ORDER BY submitted_at, id;`
	rows, err := r.pool.Query(ctx, query, clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

// MarkDelivered implements Registry.
func (r *PostgresRegistry) MarkDelivered(ctx context.Context, jobID string) error {
	query := `
UPDATE generation_jobs
SET delivered = TRUE
WHERE id = $1 AND state = ANY($2);
`
	terminal := []string{
		string(domain.JobStateSucceeded),
		string(domain.JobStateFailed),
		string(domain.JobStateCancelled),
		string(domain.JobStateTimedOut),
	}
	_, err := r.pool.Exec(ctx, query, jobID, terminal)
	return err
}

// ListStale implements Registry.
func (r *PostgresRegistry) ListStale(ctx context.Context, maxAge time.Duration) ([]*domain.Job, error) {
	query := `
SELECT ` + jobColumns + `
FROM generation_jobs
WHERE state = ANY($1) AND submitted_at < NOW() - $2::interval;
`
	nonTerminal := make([]string, len(domain.NonTerminalStates))
	for i, s := range domain.NonTerminalStates {
		nonTerminal[i] = string(s)
	}
	rows, err := r.pool.Query(ctx, query, nonTerminal, maxAge.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

// EvictExpired implements Registry.
func (r *PostgresRegistry) EvictExpired(ctx context.Context, retention time.Duration) (int, error) {
	query := `
DELETE FROM generation_jobs
WHERE state = ANY($1)
  AND (
    (delivered AND updated_at < NOW() - $2::interval)
    OR updated_at < NOW() - ($2::interval * 2)
  );
`
	terminal := []string{
		string(domain.JobStateSucceeded),
		string(domain.JobStateFailed),
		string(domain.JobStateCancelled),
		string(domain.JobStateTimedOut),
	}
	tag, err := r.pool.Exec(ctx, query, terminal, retention.String())
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var job domain.Job
	var handle, errorKind, errorMessage *string
	var resultJSON []byte
	if err := row.Scan(
		&job.ID,
		&job.ModelID,
		&job.ClientID,
		&job.State,
		&handle,
		&resultJSON,
		&errorKind,
		&errorMessage,
		&job.SubmittedAt,
		&job.UpdatedAt,
		&job.Delivered,
	); err != nil {
		return nil, err
	}
	if handle != nil {
		job.ProviderHandle = *handle
	}
	if errorKind != nil {
		job.ErrorKind = *errorKind
	}
	if errorMessage != nil {
		job.ErrorMessage = *errorMessage
	}
	if len(resultJSON) > 0 {
		var result domain.NormalizedResult
		if err := json.Unmarshal(resultJSON, &result); err != nil {
			return nil, fmt.Errorf("decode result: %w", err)
		}
		job.Result = &result
	}
	return &job, nil
}

func nullableBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}

var _ Registry = (*PostgresRegistry)(nil)
