// Package store persists the CKAN API token of each user and the datasets
// published through the service in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS usuario (
    id_usuario INTEGER PRIMARY KEY,
    token_ckan TEXT
);

CREATE TABLE IF NOT EXISTS dataset (
    id_dataset INTEGER PRIMARY KEY AUTOINCREMENT,
    id_usuario INTEGER NOT NULL,
    nombre TEXT NOT NULL,
    ckan_id TEXT NOT NULL UNIQUE,
    ckan_name TEXT,
    organizacion TEXT,
    fecha_creacion TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_dataset_usuario ON dataset(id_usuario);
`

// ErrNotFound is returned when a dataset is not recorded.
var ErrNotFound = errors.New("dataset not found")

// Dataset is a dataset published to the catalog.
type Dataset struct {
	ID             int64
	UserID         int
	Name           string
	CKANID         string
	CKANName       string
	OrganizationID string
	CreatedAt      time.Time
}

type Store struct {
	db *sql.DB
}

// Open opens or creates the database at dsn and applies the schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SetToken stores the CKAN API token of userID.
func (s *Store) SetToken(ctx context.Context, userID int, token string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO usuario (id_usuario, token_ckan) VALUES (?, ?)
		 ON CONFLICT(id_usuario) DO UPDATE SET token_ckan = excluded.token_ckan`,
		userID, token)
	return err
}

// Token returns the CKAN API token of userID, or "" when none is stored.
func (s *Store) Token(ctx context.Context, userID int) (string, error) {
	var token sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT token_ckan FROM usuario WHERE id_usuario = ?`, userID).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return token.String, nil
}

// TokenFor returns a token lookup for userID that falls back to fallback when
// the user has no stored token.
func (s *Store) TokenFor(userID int, fallback string) func(context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		token, err := s.Token(ctx, userID)
		if err != nil {
			return "", err
		}
		if token == "" {
			return fallback, nil
		}
		return token, nil
	}
}

// RecordDataset inserts d, or refreshes name and organization when the CKAN
// id is already known.
func (s *Store) RecordDataset(ctx context.Context, d Dataset) (Dataset, error) {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dataset (id_usuario, nombre, ckan_id, ckan_name, organizacion, fecha_creacion)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(ckan_id) DO UPDATE SET
		   nombre = excluded.nombre,
		   ckan_name = excluded.ckan_name,
		   organizacion = COALESCE(NULLIF(excluded.organizacion, ''), dataset.organizacion)`,
		d.UserID, d.Name, d.CKANID, d.CKANName, d.OrganizationID, d.CreatedAt)
	if err != nil {
		return Dataset{}, err
	}
	return s.GetDataset(ctx, d.CKANID)
}

// GetDataset looks a dataset up by its CKAN id.
func (s *Store) GetDataset(ctx context.Context, ckanID string) (Dataset, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id_dataset, id_usuario, nombre, ckan_id, COALESCE(ckan_name, ''), COALESCE(organizacion, ''), fecha_creacion
		 FROM dataset WHERE ckan_id = ?`, ckanID)
	d, err := scanDataset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Dataset{}, ErrNotFound
	}
	return d, err
}

// ListDatasets returns the datasets of userID, newest first.
func (s *Store) ListDatasets(ctx context.Context, userID int) ([]Dataset, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id_dataset, id_usuario, nombre, ckan_id, COALESCE(ckan_name, ''), COALESCE(organizacion, ''), fecha_creacion
		 FROM dataset WHERE id_usuario = ? ORDER BY fecha_creacion DESC, id_dataset DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Dataset
	for rows.Next() {
		d, err := scanDataset(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// DeleteDataset forgets a dataset. Deleting an unknown id returns ErrNotFound.
func (s *Store) DeleteDataset(ctx context.Context, ckanID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM dataset WHERE ckan_id = ?`, ckanID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDataset(row scanner) (Dataset, error) {
	var d Dataset
	err := row.Scan(&d.ID, &d.UserID, &d.Name, &d.CKANID, &d.CKANName, &d.OrganizationID, &d.CreatedAt)
	return d, err
}
