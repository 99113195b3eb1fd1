package files

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrFileNotFound is returned when no file metadata matches.
var ErrFileNotFound = errors.New("file not found")

// File is the metadata row for one stored blob.
type File struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	ContentType  string    `json:"content_type"`
	SizeBytes    int64     `json:"size_bytes"`
	StorageKey   string    `json:"-"`
	DepartmentID *int64    `json:"department_id,omitempty"`
	UploadedBy   int64     `json:"uploaded_by"`
	CreatedAt    time.Time `json:"created_at"`
}

// Store persists file metadata.
type Store struct {
	db *sql.DB
}

// NewStore creates a file metadata store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const fileColumns = `id, name, content_type, size_bytes, storage_key, department_id, uploaded_by, created_at`

// Create inserts a metadata row.
func (s *Store) Create(ctx context.Context, f *File) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO files (name, content_type, size_bytes, storage_key, department_id, uploaded_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`, f.Name, f.ContentType, f.SizeBytes, f.StorageKey, f.DepartmentID, f.UploadedBy,
	).Scan(&f.ID, &f.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create file record: %w", err)
	}
	return nil
}

// Get loads file metadata by ID.
func (s *Store) Get(ctx context.Context, id int64) (*File, error) {
	var f File
	var departmentID sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT `+fileColumns+` FROM files WHERE id = $1`, id,
	).Scan(&f.ID, &f.Name, &f.ContentType, &f.SizeBytes, &f.StorageKey,
		&departmentID, &f.UploadedBy, &f.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrFileNotFound
		}
		return nil, fmt.Errorf("failed to get file: %w", err)
	}
	if departmentID.Valid {
		f.DepartmentID = &departmentID.Int64
	}
	return &f, nil
}

// List returns file metadata newest first, optionally scoped to a
// department.
func (s *Store) List(ctx context.Context, departmentID *int64, limit, offset int) ([]*File, int64, error) {
	where := ""
	args := []interface{}{}
	if departmentID != nil {
		where = " WHERE department_id = $1"
		args = append(args, *departmentID)
	}

	var total int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM files`+where, args...).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count files: %w", err)
	}

	query := fmt.Sprintf(
		`SELECT %s FROM files%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		fileColumns, where, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list files: %w", err)
	}
	defer rows.Close()

	filesOut := []*File{}
	for rows.Next() {
		var f File
		var dept sql.NullInt64
		err := rows.Scan(&f.ID, &f.Name, &f.ContentType, &f.SizeBytes, &f.StorageKey,
			&dept, &f.UploadedBy, &f.CreatedAt)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan file: %w", err)
		}
		if dept.Valid {
			f.DepartmentID = &dept.Int64
		}
		filesOut = append(filesOut, &f)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to read files: %w", err)
	}
	return filesOut, total, nil
}

// Delete removes a metadata row.
func (s *Store) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete file record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete file record: %w", err)
	}
	if n == 0 {
		return ErrFileNotFound
	}
	return nil
}
