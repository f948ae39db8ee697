package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bnema/transcoder/internal/domain"
)

const fileColumns = `id, user_id, original_name, size, mime_type, storage_path, checksum,
	status, uploaded_at, expires_at`

func (s *Store) CreateFile(ctx context.Context, f *domain.File) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO files (`+fileColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.UserID, f.OriginalName, int64(f.Size), f.MimeType, f.StoragePath, f.Checksum,
		string(f.Status), f.UploadedAt, f.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("insert file: %w", err)
	}
	return nil
}

func (s *Store) GetFile(ctx context.Context, id string) (*domain.File, error) {
	f, err := scanFile(s.db.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM files WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get file %s: %w", id, err)
	}
	return f, nil
}

func scanFile(row rowScanner) (*domain.File, error) {
	var f domain.File
	var size int64
	var status string
	if err := row.Scan(
		&f.ID, &f.UserID, &f.OriginalName, &size, &f.MimeType, &f.StoragePath, &f.Checksum,
		&status, &f.UploadedAt, &f.ExpiresAt,
	); err != nil {
		return nil, err
	}
	f.Size = uint64(size)
	f.Status = domain.FileStatus(status)
	return &f, nil
}

const activeInputClause = `EXISTS (SELECT 1 FROM jobs j WHERE j.input_file_id = files.id
	AND j.status IN ('pending', 'processing'))`

func (s *Store) ListExpiredFiles(ctx context.Context, now time.Time, limit int) ([]*domain.File, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+fileColumns+` FROM files
		WHERE expires_at < ? AND NOT `+activeInputClause+`
		ORDER BY expires_at LIMIT ?`, now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("list expired files: %w", err)
	}
	defer rows.Close()

	var files []*domain.File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

func (s *Store) PurgeFile(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin purge: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var active int
	err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM files WHERE id = ? AND `+activeInputClause, id).Scan(&active)
	if err != nil {
		return fmt.Errorf("check file %s: %w", id, err)
	}
	if active > 0 {
		return domain.ErrFileInUse
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM jobs WHERE input_file_id = ? OR output_file_id = ?`, id, id); err != nil {
		return fmt.Errorf("delete jobs of file %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM files WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete file %s: %w", id, err)
	}
	return tx.Commit()
}

func (s *Store) DeleteFile(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete file %s: %w", id, err)
	}
	return nil
}

// SaveMetadata inserts or replaces the metadata of a file.
func (s *Store) SaveMetadata(ctx context.Context, m *domain.FileMetadata) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO file_metadata (file_id, title, artist, album, duration, bitrate, codec,
			sample_rate, channels, resolution, frame_rate, thumbnail_path, raw_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(file_id) DO UPDATE SET
			title = excluded.title,
			artist = excluded.artist,
			album = excluded.album,
			duration = excluded.duration,
			bitrate = excluded.bitrate,
			codec = excluded.codec,
			sample_rate = excluded.sample_rate,
			channels = excluded.channels,
			resolution = excluded.resolution,
			frame_rate = excluded.frame_rate,
			thumbnail_path = excluded.thumbnail_path,
			raw_json = excluded.raw_json`,
		m.FileID, m.Title, m.Artist, m.Album, m.Duration, m.Bitrate, m.Codec,
		m.SampleRate, m.Channels, m.Resolution, m.FrameRate, m.ThumbnailPath, m.RawJSON,
	)
	if err != nil {
		return fmt.Errorf("save metadata for %s: %w", m.FileID, err)
	}
	return nil
}

func (s *Store) GetMetadata(ctx context.Context, fileID string) (*domain.FileMetadata, error) {
	var m domain.FileMetadata
	err := s.db.QueryRowContext(ctx, `
		SELECT file_id, title, artist, album, duration, bitrate, codec, sample_rate, channels,
			resolution, frame_rate, thumbnail_path, raw_json
		FROM file_metadata WHERE file_id = ?`, fileID).Scan(
		&m.FileID, &m.Title, &m.Artist, &m.Album, &m.Duration, &m.Bitrate, &m.Codec,
		&m.SampleRate, &m.Channels, &m.Resolution, &m.FrameRate, &m.ThumbnailPath, &m.RawJSON,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get metadata for %s: %w", fileID, err)
	}
	return &m, nil
}
