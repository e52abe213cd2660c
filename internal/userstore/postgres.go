package userstore

import (
	"context"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/federated-memory/federated-memory/internal/model"
)

// Postgres persists users in a single flat table. One instance is shared
// across the process, mirroring the pgvector Store's single-connection-pool
// shape.
type Postgres struct {
	db *gorm.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		return nil, fmt.Errorf("userstore: connect: %w", err)
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) EnsureSchema(ctx context.Context) error {
	return p.db.WithContext(ctx).Exec(`
		CREATE TABLE IF NOT EXISTS users (
			user_id TEXT PRIMARY KEY,
			email TEXT NOT NULL DEFAULT '',
			display_name TEXT NOT NULL DEFAULT '',
			password_hash TEXT NOT NULL DEFAULT '',
			opaque_token TEXT UNIQUE,
			is_active BOOLEAN NOT NULL DEFAULT true
		)`).Error
}

func (p *Postgres) GetByID(ctx context.Context, userID string) (model.User, error) {
	var u model.User
	row := p.db.WithContext(ctx).Raw(
		`SELECT user_id, email, display_name, password_hash, coalesce(opaque_token, ''), is_active FROM users WHERE user_id = ?`,
		userID,
	).Row()
	if err := row.Scan(&u.UserID, &u.Email, &u.DisplayName, &u.PasswordHash, &u.OpaqueToken, &u.IsActive); err != nil {
		return model.User{}, err
	}
	return u, nil
}

func (p *Postgres) GetByOpaqueToken(ctx context.Context, token string) (model.User, error) {
	var u model.User
	row := p.db.WithContext(ctx).Raw(
		`SELECT user_id, email, display_name, password_hash, coalesce(opaque_token, ''), is_active FROM users WHERE opaque_token = ?`,
		token,
	).Row()
	if err := row.Scan(&u.UserID, &u.Email, &u.DisplayName, &u.PasswordHash, &u.OpaqueToken, &u.IsActive); err != nil {
		return model.User{}, err
	}
	return u, nil
}

func (p *Postgres) Upsert(ctx context.Context, user model.User) error {
	return p.db.WithContext(ctx).Exec(`
		INSERT INTO users (user_id, email, display_name, password_hash, opaque_token, is_active)
		VALUES (?, ?, ?, ?, NULLIF(?, ''), ?)
		ON CONFLICT (user_id) DO UPDATE SET
			email = EXCLUDED.email,
			display_name = EXCLUDED.display_name,
			password_hash = EXCLUDED.password_hash,
			opaque_token = EXCLUDED.opaque_token,
			is_active = EXCLUDED.is_active`,
		user.UserID, user.Email, user.DisplayName, user.PasswordHash, user.OpaqueToken, user.IsActive,
	).Error
}

func (p *Postgres) ListIDs(ctx context.Context) ([]string, error) {
	rows, err := p.db.WithContext(ctx).Raw(`SELECT user_id FROM users WHERE is_active`).Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

var _ Store = (*Postgres)(nil)
