package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Experiment represents an A/B test experiment
type Experiment struct {
	ID          uuid.UUID `json:"id"`
	EnvID       uuid.UUID `json:"env_id"`
	FlagKey     string    `json:"flag_key"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Status      string    `json:"status"` // draft, running, completed, archived
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ExperimentRepository handles experiment persistence (placeholder)
type ExperimentRepository struct {
	db     *pgxpool.Pool
	logger zerolog.Logger
}

// NewExperimentRepository creates a new experiment repository
func NewExperimentRepository(db *pgxpool.Pool, logger zerolog.Logger) *ExperimentRepository {
	return &ExperimentRepository{
		db:     db,
		logger: logger.With().Str("repository", "experiment").Logger(),
	}
}

// TODO: Implement experiment methods
func (r *ExperimentRepository) Create(ctx context.Context, experiment *Experiment) error {
	// Placeholder implementation
	return nil
}

func (r *ExperimentRepository) GetByID(ctx context.Context, id uuid.UUID) (*Experiment, error) {
	// Placeholder implementation
	return nil, nil
}

func (r *ExperimentRepository) List(ctx context.Context, envID uuid.UUID) ([]*Experiment, error) {
	// Placeholder implementation
	return []*Experiment{}, nil
}
