package relationship

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/google/uuid"

	"github.com/federated-memory/federated-memory/internal/ferrors"
	"github.com/federated-memory/federated-memory/internal/model"
)

// Postgres persists relationships in a single flat table, mirroring
// userstore.Postgres's single-connection-pool shape.
type Postgres struct {
	db *gorm.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		return nil, fmt.Errorf("relationship: connect: %w", err)
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) EnsureSchema(ctx context.Context) error {
	return p.db.WithContext(ctx).Exec(`
		CREATE TABLE IF NOT EXISTS relationships (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			source_module TEXT NOT NULL,
			source_memory_id TEXT NOT NULL,
			target_module TEXT NOT NULL,
			target_memory_id TEXT NOT NULL,
			relationship_type TEXT NOT NULL DEFAULT '',
			strength DOUBLE PRECISION NOT NULL DEFAULT 0,
			metadata JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS relationships_source_idx ON relationships (user_id, source_module, source_memory_id);
		CREATE INDEX IF NOT EXISTS relationships_target_idx ON relationships (user_id, target_module, target_memory_id);
	`).Error
}

func (p *Postgres) Link(ctx context.Context, rel model.Relationship) (model.Relationship, error) {
	if rel.ID == "" {
		rel.ID = uuid.NewString()
	}
	if rel.CreatedAt.IsZero() {
		rel.CreatedAt = time.Now()
	}
	metaJSON, err := json.Marshal(rel.Metadata)
	if err != nil {
		return model.Relationship{}, fmt.Errorf("relationship: marshal metadata: %w", err)
	}
	if err := p.db.WithContext(ctx).Exec(`
		INSERT INTO relationships
			(id, user_id, source_module, source_memory_id, target_module, target_memory_id, relationship_type, strength, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?::jsonb, ?)`,
		rel.ID, rel.UserID, rel.SourceModule, rel.SourceMemoryID, rel.TargetModule, rel.TargetMemoryID,
		rel.RelationshipType, rel.Strength, string(metaJSON), rel.CreatedAt,
	).Error; err != nil {
		return model.Relationship{}, &ferrors.StorageFailureError{Op: "relationship.Link", Cause: err}
	}
	return rel, nil
}

func (p *Postgres) Unlink(ctx context.Context, userID, id string) error {
	result := p.db.WithContext(ctx).Exec(
		`DELETE FROM relationships WHERE user_id = ? AND id = ?`, userID, id,
	)
	if result.Error != nil {
		return &ferrors.StorageFailureError{Op: "relationship.Unlink", Cause: result.Error}
	}
	if result.RowsAffected == 0 {
		return &ferrors.NotFoundError{Resource: "relationship", ID: id}
	}
	return nil
}

func (p *Postgres) RelatedTo(ctx context.Context, userID, moduleID, memoryID string) ([]model.Relationship, error) {
	rows, err := p.db.WithContext(ctx).Raw(`
		SELECT id, user_id, source_module, source_memory_id, target_module, target_memory_id,
			relationship_type, strength, metadata, created_at
		FROM relationships
		WHERE user_id = ?
			AND ((source_module = ? AND source_memory_id = ?) OR (target_module = ? AND target_memory_id = ?))`,
		userID, moduleID, memoryID, moduleID, memoryID,
	).Rows()
	if err != nil {
		return nil, &ferrors.StorageFailureError{Op: "relationship.RelatedTo", Cause: err}
	}
	defer rows.Close()
	return scanRelationships(rows)
}

func (p *Postgres) DeleteForMemory(ctx context.Context, userID, moduleID, memoryID string) error {
	if err := p.db.WithContext(ctx).Exec(`
		DELETE FROM relationships
		WHERE user_id = ?
			AND ((source_module = ? AND source_memory_id = ?) OR (target_module = ? AND target_memory_id = ?))`,
		userID, moduleID, memoryID, moduleID, memoryID,
	).Error; err != nil {
		return &ferrors.StorageFailureError{Op: "relationship.DeleteForMemory", Cause: err}
	}
	return nil
}

type sqlRows interface {
	Next() bool
	Scan(dest ...interface{}) error
}

func scanRelationships(rows sqlRows) ([]model.Relationship, error) {
	var out []model.Relationship
	for rows.Next() {
		var rel model.Relationship
		var metaJSON string
		if err := rows.Scan(
			&rel.ID, &rel.UserID, &rel.SourceModule, &rel.SourceMemoryID, &rel.TargetModule, &rel.TargetMemoryID,
			&rel.RelationshipType, &rel.Strength, &metaJSON, &rel.CreatedAt,
		); err != nil {
			return nil, &ferrors.StorageFailureError{Op: "relationship.scan", Cause: err}
		}
		if metaJSON != "" {
			_ = json.Unmarshal([]byte(metaJSON), &rel.Metadata)
		}
		out = append(out, rel)
	}
	return out, nil
}

var _ Store = (*Postgres)(nil)
