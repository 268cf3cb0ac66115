package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/marcboeker/go-duckdb"
	"github.com/valuedesk/backend/internal/models"
)

// ErrNotFound is returned for unknown file ids.
var ErrNotFound = errors.New("file not found")

// Store defines the interface for stored files and their extraction results.
type Store interface {
	Save(ctx context.Context, name, mimeType string, r io.Reader) (*models.FileInfo, error)
	Get(ctx context.Context, id string) (*models.FileInfo, error)
	List(ctx context.Context, limit int) ([]*models.FileInfo, error)
	Delete(ctx context.Context, id string) error
	Rename(ctx context.Context, id string, newName string) (*models.FileInfo, error)
	Open(ctx context.Context, id string) (io.ReadCloser, error)
	SaveExtraction(ctx context.Context, id string, result *models.ExtractionResult) error
	GetExtraction(ctx context.Context, id string) (*models.ExtractionResult, error)
}

const (
	StatusUploaded  = "uploaded"
	StatusExtracted = "extracted"
)

// Catalog implements Store with a DuckDB metadata index and a blob backend.
type Catalog struct {
	db    *sql.DB
	blobs Blobs
}

// NewCatalog opens (or creates) the metadata index at indexPath. An empty
// indexPath keeps the index in memory.
func NewCatalog(indexPath string, blobs Blobs) (*Catalog, error) {
	connector, err := duckdb.NewConnector(indexPath, nil)
	if err != nil {
		return nil, fmt.Errorf("creating DuckDB connector: %w", err)
	}
	db := sql.OpenDB(connector)

	schema := []string{
		`CREATE TABLE IF NOT EXISTS files (
			id          VARCHAR PRIMARY KEY,
			name        VARCHAR NOT NULL,
			mime_type   VARCHAR NOT NULL,
			size        BIGINT NOT NULL,
			uploaded_at TIMESTAMP NOT NULL,
			status      VARCHAR NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS extractions (
			file_id      VARCHAR PRIMARY KEY,
			text         VARCHAR NOT NULL,
			confidence   DOUBLE NOT NULL,
			data         VARCHAR,
			extracted_at TIMESTAMP NOT NULL
		)`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("creating catalog schema: %w", err)
		}
	}

	return &Catalog{db: db, blobs: blobs}, nil
}

// NewLocalStore creates a Catalog keeping blobs under uploadDir.
func NewLocalStore(uploadDir, indexPath string) (*Catalog, error) {
	blobs, err := NewDiskBlobs(uploadDir)
	if err != nil {
		return nil, err
	}
	return NewCatalog(indexPath, blobs)
}

// Save stores the content and records its metadata.
func (s *Catalog) Save(ctx context.Context, name, mimeType string, r io.Reader) (*models.FileInfo, error) {
	id := uuid.New().String()

	size, err := s.blobs.Put(ctx, id, mimeType, r)
	if err != nil {
		return nil, fmt.Errorf("writing file: %w", err)
	}

	info := &models.FileInfo{
		ID:         id,
		Name:       name,
		MimeType:   mimeType,
		Size:       size,
		UploadedAt: time.Now().UTC(),
		Status:     StatusUploaded,
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO files (id, name, mime_type, size, uploaded_at, status) VALUES (?, ?, ?, ?, ?, ?)`,
		info.ID, info.Name, info.MimeType, info.Size, info.UploadedAt, info.Status)
	if err != nil {
		s.blobs.Delete(context.WithoutCancel(ctx), id)
		return nil, fmt.Errorf("recording file: %w", err)
	}

	return info, nil
}

// Get retrieves file metadata by ID.
func (s *Catalog) Get(ctx context.Context, id string) (*models.FileInfo, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, mime_type, size, uploaded_at, status FROM files WHERE id = ?`, id)

	info, err := scanFileInfo(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("reading file %s: %w", id, err)
	}
	return info, nil
}

// List returns the most recent files.
func (s *Catalog) List(ctx context.Context, limit int) ([]*models.FileInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, mime_type, size, uploaded_at, status FROM files ORDER BY uploaded_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing files: %w", err)
	}
	defer rows.Close()

	list := make([]*models.FileInfo, 0)
	for rows.Next() {
		info, err := scanFileInfo(rows)
		if err != nil {
			return nil, fmt.Errorf("listing files: %w", err)
		}
		list = append(list, info)
	}
	return list, rows.Err()
}

// Delete removes a file, its content and any extraction result.
func (s *Catalog) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting file: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM extractions WHERE file_id = ?`, id); err != nil {
		return fmt.Errorf("deleting extraction: %w", err)
	}
	if err := s.blobs.Delete(ctx, id); err != nil {
		return fmt.Errorf("deleting file content: %w", err)
	}
	return nil
}

// Rename updates the display name of a file.
func (s *Catalog) Rename(ctx context.Context, id string, newName string) (*models.FileInfo, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE files SET name = ? WHERE id = ?`, newName, id)
	if err != nil {
		return nil, fmt.Errorf("renaming file: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s.Get(ctx, id)
}

// Open returns a reader over the file content.
func (s *Catalog) Open(ctx context.Context, id string) (io.ReadCloser, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.blobs.Open(ctx, id)
}

// SaveExtraction caches the extraction result for a file.
func (s *Catalog) SaveExtraction(ctx context.Context, id string, result *models.ExtractionResult) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}

	var data []byte
	if len(result.ExtractedData) > 0 {
		var err error
		if data, err = json.Marshal(result.ExtractedData); err != nil {
			return fmt.Errorf("encoding extracted data: %w", err)
		}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO extractions (file_id, text, confidence, data, extracted_at) VALUES (?, ?, ?, ?, ?)`,
		id, result.Text, result.Confidence, string(data), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("recording extraction: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `UPDATE files SET status = ? WHERE id = ?`, StatusExtracted, id); err != nil {
		return fmt.Errorf("updating file status: %w", err)
	}
	return nil
}

// GetExtraction returns the cached extraction result for a file.
func (s *Catalog) GetExtraction(ctx context.Context, id string) (*models.ExtractionResult, error) {
	var (
		result models.ExtractionResult
		data   sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT text, confidence, data FROM extractions WHERE file_id = ?`, id).
		Scan(&result.Text, &result.Confidence, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no extraction for %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("reading extraction: %w", err)
	}

	if data.Valid && data.String != "" {
		if err := json.Unmarshal([]byte(data.String), &result.ExtractedData); err != nil {
			return nil, fmt.Errorf("decoding extracted data: %w", err)
		}
	}
	return &result, nil
}

// Close releases the index.
func (s *Catalog) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFileInfo(row rowScanner) (*models.FileInfo, error) {
	var info models.FileInfo
	if err := row.Scan(&info.ID, &info.Name, &info.MimeType, &info.Size, &info.UploadedAt, &info.Status); err != nil {
		return nil, err
	}
	return &info, nil
}
