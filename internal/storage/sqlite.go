package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/hyperjump/storyhook/internal/models"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// draftStatusList renders models.DraftLikeStatuses as an SQL list literal.
func draftStatusList() string {
	quoted := make([]string, len(models.DraftLikeStatuses))
	for i, s := range models.DraftLikeStatuses {
		quoted[i] = "'" + string(s) + "'"
	}
	return "(" + strings.Join(quoted, ", ") + ")"
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL DEFAULT '',
		body_html TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		author_id TEXT NOT NULL DEFAULT '',
		source_project_id TEXT NOT NULL DEFAULT '',
		source_document_id TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_records_source
		ON records(source_project_id, source_document_id, status);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_records_open_draft
		ON records(source_project_id, source_document_id)
		WHERE status IN ` + draftStatusList() + ` AND source_document_id <> '';

	CREATE TABLE IF NOT EXISTS assets (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		record_id INTEGER NOT NULL,
		author_id TEXT NOT NULL DEFAULT '',
		origin_url TEXT NOT NULL,
		local_url TEXT NOT NULL,
		file_path TEXT NOT NULL,
		mime_type TEXT NOT NULL DEFAULT '',
		size INTEGER NOT NULL DEFAULT 0,
		metadata TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (record_id) REFERENCES records(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_assets_record_id ON assets(record_id);

	CREATE TABLE IF NOT EXISTS credentials (
		identity TEXT PRIMARY KEY,
		ciphertext BLOB NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS connections (
		identity TEXT PRIMARY KEY,
		email TEXT NOT NULL DEFAULT '',
		target_id TEXT NOT NULL DEFAULT '',
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	`
	_, err := db.Exec(schema)
	return err
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique
}

// CreateRecord inserts rec and sets its ID. An empty status becomes draft.
func (s *SQLiteStorage) CreateRecord(ctx context.Context, rec *models.ContentRecord) error {
	if rec.Status == "" {
		rec.Status = models.StatusDraft
	}
	now := time.Now()
	rec.CreatedAt = now
	rec.UpdatedAt = now

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO records (title, body_html, status, author_id, source_project_id, source_document_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Title, rec.BodyHTML, string(rec.Status), rec.AuthorID,
		rec.SourceProjectID, rec.SourceDocumentID, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: project %s document %s", ErrDuplicateDraft, rec.SourceProjectID, rec.SourceDocumentID)
		}
		return err
	}
	rec.ID, err = res.LastInsertId()
	return err
}

// GetRecord returns a record by ID.
func (s *SQLiteStorage) GetRecord(ctx context.Context, id int64) (*models.ContentRecord, error) {
	var rec models.ContentRecord
	var status string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, body_html, status, author_id, source_project_id, source_document_id, created_at, updated_at
		 FROM records WHERE id = ?`, id,
	).Scan(&rec.ID, &rec.Title, &rec.BodyHTML, &status, &rec.AuthorID,
		&rec.SourceProjectID, &rec.SourceDocumentID, &rec.CreatedAt, &rec.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("record %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	rec.Status = models.Status(status)
	return &rec, nil
}

// UpdateRecordBody replaces the body of record id. Title, author and source ids are untouched.
func (s *SQLiteStorage) UpdateRecordBody(ctx context.Context, id int64, bodyHTML string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE records SET body_html = ?, updated_at = ? WHERE id = ?`,
		bodyHTML, time.Now(), id,
	)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("record %d: %w", id, ErrNotFound)
	}
	return nil
}

// SetStatus changes the status of record id.
func (s *SQLiteStorage) SetStatus(ctx context.Context, id int64, status models.Status) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE records SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now(), id,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("record %d: %w", id, ErrDuplicateDraft)
		}
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("record %d: %w", id, ErrNotFound)
	}
	return nil
}

// FindDraft returns the oldest draft-like record for the source pair, or 0 when there is none.
func (s *SQLiteStorage) FindDraft(ctx context.Context, projectID, documentID string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM records
		 WHERE source_project_id = ? AND source_document_id = ? AND status IN `+draftStatusList()+`
		 ORDER BY created_at ASC, id ASC LIMIT 1`,
		projectID, documentID,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return id, nil
}

// ListRecords returns records, newest first.
func (s *SQLiteStorage) ListRecords(ctx context.Context, offset, limit int) ([]*models.ContentRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, body_html, status, author_id, source_project_id, source_document_id, created_at, updated_at
		 FROM records ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []*models.ContentRecord
	for rows.Next() {
		var rec models.ContentRecord
		var status string
		if err := rows.Scan(&rec.ID, &rec.Title, &rec.BodyHTML, &status, &rec.AuthorID,
			&rec.SourceProjectID, &rec.SourceDocumentID, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		rec.Status = models.Status(status)
		recs = append(recs, &rec)
	}
	return recs, rows.Err()
}

// CountRecords returns the total number of records.
func (s *SQLiteStorage) CountRecords(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&count)
	return count, err
}

// CreateAsset inserts asset and sets its ID. The record must exist.
func (s *SQLiteStorage) CreateAsset(ctx context.Context, asset *models.Asset) error {
	metadataJSON, err := json.Marshal(asset.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	asset.CreatedAt = time.Now()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO assets (record_id, author_id, origin_url, local_url, file_path, mime_type, size, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		asset.RecordID, asset.AuthorID, asset.OriginURL, asset.LocalURL, asset.FilePath,
		asset.MIMEType, asset.Size, string(metadataJSON), asset.CreatedAt,
	)
	if err != nil {
		return err
	}
	asset.ID, err = res.LastInsertId()
	return err
}

// ListAssets returns the assets attached to recordID in insertion order.
func (s *SQLiteStorage) ListAssets(ctx context.Context, recordID int64) ([]*models.Asset, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, record_id, author_id, origin_url, local_url, file_path, mime_type, size, metadata, created_at
		 FROM assets WHERE record_id = ? ORDER BY id`,
		recordID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assets []*models.Asset
	for rows.Next() {
		var a models.Asset
		var metadataJSON sql.NullString
		if err := rows.Scan(&a.ID, &a.RecordID, &a.AuthorID, &a.OriginURL, &a.LocalURL, &a.FilePath,
			&a.MIMEType, &a.Size, &metadataJSON, &a.CreatedAt); err != nil {
			return nil, err
		}
		if metadataJSON.Valid && metadataJSON.String != "" && metadataJSON.String != "null" {
			if err := json.Unmarshal([]byte(metadataJSON.String), &a.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
		}
		assets = append(assets, &a)
	}
	return assets, rows.Err()
}

// CountAssets returns the total number of assets.
func (s *SQLiteStorage) CountAssets(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM assets`).Scan(&count)
	return count, err
}

// GetConnection returns the connection for identity.
func (s *SQLiteStorage) GetConnection(ctx context.Context, identity string) (*models.Connection, error) {
	var c models.Connection
	err := s.db.QueryRowContext(ctx,
		`SELECT identity, email, target_id, updated_at FROM connections WHERE identity = ?`, identity,
	).Scan(&c.Identity, &c.Email, &c.TargetID, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("connection %s: %w", identity, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// SaveConnection inserts or replaces the connection for conn.Identity.
func (s *SQLiteStorage) SaveConnection(ctx context.Context, conn *models.Connection) error {
	conn.UpdatedAt = time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO connections (identity, email, target_id, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(identity) DO UPDATE SET email = excluded.email, target_id = excluded.target_id, updated_at = excluded.updated_at`,
		conn.Identity, conn.Email, conn.TargetID, conn.UpdatedAt,
	)
	return err
}

// DeleteConnection removes the connection for identity and reports whether one existed.
func (s *SQLiteStorage) DeleteConnection(ctx context.Context, identity string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM connections WHERE identity = ?`, identity)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ListConnections returns every stored connection ordered by identity.
func (s *SQLiteStorage) ListConnections(ctx context.Context) ([]*models.Connection, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT identity, email, target_id, updated_at FROM connections ORDER BY identity`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conns []*models.Connection
	for rows.Next() {
		var c models.Connection
		if err := rows.Scan(&c.Identity, &c.Email, &c.TargetID, &c.UpdatedAt); err != nil {
			return nil, err
		}
		conns = append(conns, &c)
	}
	return conns, rows.Err()
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
