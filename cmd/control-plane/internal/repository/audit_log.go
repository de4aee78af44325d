package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// AuditLog represents an audit log entry
type AuditLog struct {
	ID         uuid.UUID `json:"id"`
	UserID     uuid.UUID `json:"user_id"`
	Action     string    `json:"action"`
	Resource   string    `json:"resource"`
	ResourceID string    `json:"resource_id"`
	Details    string    `json:"details,omitempty"`
	IPAddress  string    `json:"ip_address,omitempty"`
	UserAgent  string    `json:"user_agent,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// AuditLogRepository handles audit log persistence (placeholder)
type AuditLogRepository struct {
	db     *pgxpool.Pool
	logger zerolog.Logger
}

// NewAuditLogRepository creates a new audit log repository
func NewAuditLogRepository(db *pgxpool.Pool, logger zerolog.Logger) *AuditLogRepository {
	return &AuditLogRepository{
		db:     db,
		logger: logger.With().Str("repository", "audit_log").Logger(),
	}
}

// TODO: Implement audit log methods
func (r *AuditLogRepository) Create(ctx context.Context, log *AuditLog) error {
	// Placeholder implementation
	return nil
}

func (r *AuditLogRepository) List(ctx context.Context, filters map[string]interface{}) ([]*AuditLog, error) {
	// Placeholder implementation
	return []*AuditLog{}, nil
}
