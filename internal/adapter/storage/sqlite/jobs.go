package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/bnema/transcoder/internal/domain"
	"github.com/bnema/transcoder/internal/port"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

const jobColumns = `id, user_id, input_file_id, output_file_id, type, input_format,
	output_format, quality, options, status, progress, error_message, retry_count,
	worker_id, created_at, started_at, completed_at`

func (s *Store) CreateJob(ctx context.Context, j *domain.Job) error {
	opts, err := json.Marshal(j.Options)
	if err != nil {
		return fmt.Errorf("encode job options: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs (`+jobColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.UserID, j.InputFileID, j.OutputFileID, string(j.Type), j.InputFormat,
		string(j.OutputFormat), string(j.Quality), string(opts), string(j.Status), j.Progress,
		j.ErrorMessage, j.RetryCount, j.WorkerID, j.CreatedAt, j.StartedAt, j.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return j, nil
}

func (s *Store) UpdateJob(ctx context.Context, id string, upd port.JobUpdate) (bool, error) {
	var sets []string
	var args []any

	set := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	if upd.Status != nil {
		set("status", string(*upd.Status))
	}
	if upd.Progress != nil {
		set("progress", *upd.Progress)
	}
	if upd.ErrorMessage != nil {
		set("error_message", *upd.ErrorMessage)
	}
	if upd.OutputFileID != nil {
		set("output_file_id", *upd.OutputFileID)
	}
	if upd.WorkerID != nil {
		set("worker_id", *upd.WorkerID)
	}
	if upd.RetryCount != nil {
		set("retry_count", *upd.RetryCount)
	}
	if upd.StartedAt != nil {
		set("started_at", *upd.StartedAt)
	}
	if upd.CompletedAt != nil {
		set("completed_at", *upd.CompletedAt)
	}
	if len(sets) == 0 {
		return false, fmt.Errorf("update job %s: nothing to update", id)
	}

	query := `UPDATE jobs SET ` + strings.Join(sets, ", ") + ` WHERE id = ?`
	args = append(args, id)
	if upd.From != "" {
		query += ` AND status = ?`
		args = append(args, string(upd.From))
	}
	if upd.ForwardOnly && upd.Progress != nil {
		query += ` AND progress < ?`
		args = append(args, *upd.Progress)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("update job %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update job %s: %w", id, err)
	}
	if n > 0 {
		return true, nil
	}

	// Nothing matched: either the job is gone or a guard failed.
	var one int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM jobs WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, domain.ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("check job %s: %w", id, err)
	}
	return false, nil
}

func (s *Store) ListJobs(ctx context.Context, filter port.JobFilter) ([]*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1 = 1`
	var args []any
	if filter.UserID != "" {
		query += ` AND user_id = ?`
		args = append(args, filter.UserID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (s *Store) DeleteJob(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete job %s: %w", id, err)
	}
	return nil
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var j domain.Job
	var typ, format, quality, opts, status string
	err := row.Scan(
		&j.ID, &j.UserID, &j.InputFileID, &j.OutputFileID, &typ, &j.InputFormat,
		&format, &quality, &opts, &status, &j.Progress, &j.ErrorMessage, &j.RetryCount,
		&j.WorkerID, &j.CreatedAt, &j.StartedAt, &j.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	j.Type = domain.JobType(typ)
	j.OutputFormat = domain.OutputFormat(format)
	j.Quality = domain.Quality(quality)
	j.Status = domain.JobStatus(status)
	if err := json.Unmarshal([]byte(opts), &j.Options); err != nil {
		return nil, fmt.Errorf("decode options of job %s: %w", j.ID, err)
	}
	return &j, nil
}
