package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/sourcefinder/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- API Keys ---

const apiKeyColumns = `id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at`

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	return collectAPIKeys(rows)
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, name, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		key.ID, key.Name, key.KeyHash, key.KeyPrefix, key.Scopes, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAPIKeys(ctx context.Context) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE deleted_at IS NULL ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	return collectAPIKeys(rows)
}

func (s *PostgresStore) RevokeAPIKey(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET deleted_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func collectAPIKeys(rows pgx.Rows) ([]*models.APIKey, error) {
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

// --- Search Jobs ---

const jobColumns = `id, client_id, sequence, search_mode, database_name, phase, elapsed_ticks,
	status_label, result, error_message, submitted_at, finished_at, created_at, updated_at`

func (s *PostgresStore) SaveJob(ctx context.Context, rec *models.JobRecord) error {
	var result []byte
	if rec.Result != nil {
		var err error
		if result, err = json.Marshal(rec.Result); err != nil {
			return fmt.Errorf("encode job result: %w", err)
		}
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO search_jobs (id, client_id, sequence, search_mode, database_name, phase, elapsed_ticks,
		   status_label, result, error_message, submitted_at, finished_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW(), NOW())
		 ON CONFLICT (id) DO UPDATE SET
		   phase = EXCLUDED.phase,
		   elapsed_ticks = EXCLUDED.elapsed_ticks,
		   status_label = EXCLUDED.status_label,
		   result = EXCLUDED.result,
		   error_message = EXCLUDED.error_message,
		   finished_at = EXCLUDED.finished_at,
		   updated_at = NOW()
		 WHERE search_jobs.client_id = EXCLUDED.client_id`,
		rec.ID, rec.ClientID, rec.Sequence, rec.SearchMode, rec.Database, rec.Phase, rec.ElapsedTicks,
		rec.StatusLabel, result, rec.ErrorMessage, rec.SubmittedAt, rec.FinishedAt)
	if err != nil {
		return fmt.Errorf("save job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID, clientID uuid.UUID) (*models.JobRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM search_jobs WHERE id = $1 AND client_id = $2`, id, clientID)
	rec, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]*models.JobRecord, int, error) {
	conditions := []string{"client_id = $1"}
	args := []any{filter.ClientID}
	argIdx := 2

	if filter.Phase != "" {
		conditions = append(conditions, fmt.Sprintf("phase = $%d", argIdx))
		args = append(args, filter.Phase)
		argIdx++
	}

	where := strings.Join(conditions, " AND ")

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM search_jobs WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * limit

	query := fmt.Sprintf(
		`SELECT `+jobColumns+` FROM search_jobs WHERE %s ORDER BY submitted_at DESC, id LIMIT $%d OFFSET $%d`,
		where, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []*models.JobRecord{}
	for rows.Next() {
		rec, err := scanJob(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, rec)
	}
	return jobs, total, rows.Err()
}

func scanJob(row pgx.Row) (*models.JobRecord, error) {
	var rec models.JobRecord
	var result []byte
	if err := row.Scan(&rec.ID, &rec.ClientID, &rec.Sequence, &rec.SearchMode, &rec.Database,
		&rec.Phase, &rec.ElapsedTicks, &rec.StatusLabel, &result, &rec.ErrorMessage,
		&rec.SubmittedAt, &rec.FinishedAt, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	if len(result) > 0 {
		var b models.ResultBundle
		if err := json.Unmarshal(result, &b); err != nil {
			return nil, fmt.Errorf("decode job result: %w", err)
		}
		rec.Result = &b
	}
	return &rec, nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
