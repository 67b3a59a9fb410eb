package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/sourcefinder/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID) error

	// SaveJob inserts or updates the history entry for rec.ID.
	SaveJob(ctx context.Context, rec *models.JobRecord) error
	GetJob(ctx context.Context, id uuid.UUID, clientID uuid.UUID) (*models.JobRecord, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*models.JobRecord, int, error)
}

// JobFilter selects a page of a client's job history, newest first.
type JobFilter struct {
	ClientID uuid.UUID
	Phase    models.Phase
	Page     int
	Limit    int
}
