// Package pgvector implements the generic Vector Store Adapter (C2) against
// Postgres + the pgvector extension. One Store instance serves every module
// table and the CMI table; callers distinguish them via TableConfig.
package pgvector

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/federated-memory/federated-memory/internal/config"
	registrymigrate "github.com/federated-memory/federated-memory/internal/registry/migrate"
	registryvector "github.com/federated-memory/federated-memory/internal/registry/vector"
	pgvec "github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
)

//go:embed db/pgvector-extension.sql
var extensionSQL string

var identifierRE = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// pgvectorMigrator enables the pgvector extension once at startup; per-table
// DDL happens lazily through EnsureTable, since table names are only known
// once module descriptors are registered.
type pgvectorMigrator struct{}

func (m *pgvectorMigrator) Name() string { return "pgvector" }
func (m *pgvectorMigrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg == nil || !cfg.VectorMigrateAtStart || cfg.VectorType != "pgvector" || cfg.DatabaseURL == "" {
		return nil
	}
	log.Info("Running migration", "name", m.Name())
	db, err := openDB(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("pgvector migrate: %w", err)
	}
	return db.Exec(extensionSQL).Error
}

func init() {
	registryvector.Register(registryvector.Plugin{
		Name:   "pgvector",
		Loader: load,
	})
	registrymigrate.Register(registrymigrate.Plugin{Order: 200, Migrator: &pgvectorMigrator{}})
}

func load(ctx context.Context) (registryvector.Store, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("pgvector: DATABASE_URL is required")
	}
	db, err := openDB(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("pgvector: %w", err)
	}
	return &Store{db: db}, nil
}

func openDB(dbURL string) (*gorm.DB, error) {
	return openGormDB(dbURL)
}

// Store implements registryvector.Store using the pgvector extension. Tables
// are addressed by name (validated against identifierRE since gorm/database-sql
// cannot parameterize identifiers).
type Store struct {
	db *gorm.DB
}

func (s *Store) Name() string { return "pgvector" }

func validTable(name string) error {
	if !identifierRE.MatchString(name) {
		return fmt.Errorf("pgvector: invalid table name %q", name)
	}
	return nil
}

func (s *Store) EnsureTable(ctx context.Context, table registryvector.TableConfig) error {
	if err := validTable(table.Name); err != nil {
		return err
	}
	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			content TEXT NOT NULL,
			embedding vector(%d) NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS %s_user_id_idx ON %s (user_id);
		CREATE INDEX IF NOT EXISTS %s_metadata_idx ON %s USING GIN (metadata);
	`, table.Name, table.EmbeddingDimension, table.Name, table.Name, table.Name, table.Name)
	return s.db.WithContext(ctx).Exec(ddl).Error
}

func (s *Store) Insert(ctx context.Context, table registryvector.TableConfig, rec registryvector.Record) error {
	if err := validTable(table.Name); err != nil {
		return err
	}
	metadata, err := marshalMetadata(rec.Metadata)
	if err != nil {
		return err
	}
	vec := pgvec.NewVector(rec.Embedding)
	return s.db.WithContext(ctx).Exec(fmt.Sprintf(`
		INSERT INTO %s (id, user_id, content, embedding, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?::jsonb, ?, ?)`, table.Name),
		rec.ID, rec.UserID, rec.Content, vec, metadata, rec.CreatedAt, rec.UpdatedAt,
	).Error
}

func (s *Store) Update(ctx context.Context, table registryvector.TableConfig, rec registryvector.Record) error {
	if err := validTable(table.Name); err != nil {
		return err
	}
	metadata, err := marshalMetadata(rec.Metadata)
	if err != nil {
		return err
	}
	vec := pgvec.NewVector(rec.Embedding)
	return s.db.WithContext(ctx).Exec(fmt.Sprintf(`
		UPDATE %s SET content = ?, embedding = ?, metadata = ?::jsonb, updated_at = ?
		WHERE id = ? AND user_id = ?`, table.Name),
		rec.Content, vec, metadata, rec.UpdatedAt, rec.ID, rec.UserID,
	).Error
}

func (s *Store) Delete(ctx context.Context, table registryvector.TableConfig, userID, id string) error {
	if err := validTable(table.Name); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Exec(fmt.Sprintf(
		`DELETE FROM %s WHERE id = ? AND user_id = ?`, table.Name),
		id, userID,
	).Error
}

func (s *Store) GetByID(ctx context.Context, table registryvector.TableConfig, userID, id string) (registryvector.Record, error) {
	if err := validTable(table.Name); err != nil {
		return registryvector.Record{}, err
	}
	row := s.db.WithContext(ctx).Raw(fmt.Sprintf(
		`SELECT id, user_id, content, metadata, created_at, updated_at FROM %s WHERE id = ? AND user_id = ?`, table.Name),
		id, userID,
	).Row()
	var rec registryvector.Record
	var metadataJSON string
	if err := row.Scan(&rec.ID, &rec.UserID, &rec.Content, &metadataJSON, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return registryvector.Record{}, registryvector.ErrNotFound
		}
		return registryvector.Record{}, err
	}
	meta, err := unmarshalMetadata(metadataJSON)
	if err != nil {
		return registryvector.Record{}, err
	}
	rec.Metadata = meta
	return rec, nil
}

func (s *Store) GetMany(ctx context.Context, table registryvector.TableConfig, userID string, ids []string) ([]registryvector.Record, error) {
	if err := validTable(table.Name); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.db.WithContext(ctx).Raw(fmt.Sprintf(
		`SELECT id, user_id, content, metadata, created_at, updated_at FROM %s WHERE user_id = ? AND id = ANY(?)
		 ORDER BY updated_at DESC, id ASC`, table.Name),
		userID, ids,
	).Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (s *Store) KNNSearch(ctx context.Context, table registryvector.TableConfig, userID string, queryEmbedding []float32, k int, filters []registryvector.Filter) ([]registryvector.Hit, error) {
	if err := validTable(table.Name); err != nil {
		return nil, err
	}
	vec := pgvec.NewVector(queryEmbedding)
	where, args := buildFilterSQL(userID, filters)
	query := fmt.Sprintf(`
		SELECT id, user_id, content, metadata, created_at, updated_at,
		       1 - (embedding <=> ?) AS similarity
		FROM %s
		WHERE %s
		ORDER BY embedding <=> ?, updated_at DESC, id ASC
		LIMIT ?`, table.Name, where)
	queryArgs := append([]interface{}{vec}, args...)
	queryArgs = append(queryArgs, vec, k)

	rows, err := s.db.WithContext(ctx).Raw(query, queryArgs...).Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []registryvector.Hit
	for rows.Next() {
		var rec registryvector.Record
		var metadataJSON string
		var sim float64
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Content, &metadataJSON, &rec.CreatedAt, &rec.UpdatedAt, &sim); err != nil {
			return nil, err
		}
		meta, err := unmarshalMetadata(metadataJSON)
		if err != nil {
			return nil, err
		}
		rec.Metadata = meta
		hits = append(hits, registryvector.Hit{Record: rec, Similarity: clampSimilarity(sim)})
	}
	return hits, nil
}

// clampSimilarity bounds a `1 - cosine distance` score to [0, 1] (§4.2 "the
// score reported upward is clamped to [0, 1]"); cosine distance ranges over
// [0, 2], so the raw score can go negative for near-opposite vectors.
func clampSimilarity(sim float64) float64 {
	if sim < 0 {
		return 0
	}
	if sim > 1 {
		return 1
	}
	return sim
}

func (s *Store) FilterScan(ctx context.Context, table registryvector.TableConfig, userID string, filters []registryvector.Filter, limit int) ([]registryvector.Record, error) {
	if err := validTable(table.Name); err != nil {
		return nil, err
	}
	where, args := buildFilterSQL(userID, filters)
	limitClause := ""
	if limit > 0 {
		limitClause = "LIMIT ?"
		args = append(args, limit)
	}
	query := fmt.Sprintf(`
		SELECT id, user_id, content, metadata, created_at, updated_at
		FROM %s
		WHERE %s
		ORDER BY updated_at DESC, id ASC
		%s`, table.Name, where, limitClause)

	rows, err := s.db.WithContext(ctx).Raw(query, args...).Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

func buildFilterSQL(userID string, filters []registryvector.Filter) (string, []interface{}) {
	clauses := []string{"user_id = ?"}
	args := []interface{}{userID}
	for _, f := range filters {
		switch f.Op {
		case registryvector.FilterContains:
			clauses = append(clauses, "metadata ->> ? ILIKE ?")
			args = append(args, f.Field, "%"+fmt.Sprintf("%v", f.Value)+"%")
		default:
			clauses = append(clauses, "metadata ->> ? = ?")
			args = append(args, f.Field, fmt.Sprintf("%v", f.Value))
		}
	}
	return strings.Join(clauses, " AND "), args
}

type rowScanner interface {
	Next() bool
	Scan(dest ...interface{}) error
}

func scanRecords(rows rowScanner) ([]registryvector.Record, error) {
	var records []registryvector.Record
	for rows.Next() {
		var rec registryvector.Record
		var metadataJSON string
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Content, &metadataJSON, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		meta, err := unmarshalMetadata(metadataJSON)
		if err != nil {
			return nil, err
		}
		rec.Metadata = meta
		records = append(records, rec)
	}
	return records, nil
}

var _ registryvector.Store = (*Store)(nil)
