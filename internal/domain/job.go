package domain

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type JobType string

const (
	JobTypeTranscode JobType = "transcode"
)

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// transitions lists the only legal status changes. Progress updates are a
// processing -> processing self-transition.
var transitions = map[JobStatus][]JobStatus{
	JobStatusPending:    {JobStatusProcessing},
	JobStatusProcessing: {JobStatusProcessing, JobStatusCompleted, JobStatusFailed},
	JobStatusFailed:     {JobStatusPending},
}

func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type Job struct {
	ID           string       `json:"id"`
	UserID       string       `json:"user_id"`
	InputFileID  string       `json:"input_file_id"`
	OutputFileID string       `json:"output_file_id,omitempty"`
	Type         JobType      `json:"job_type"`
	InputFormat  string       `json:"input_format"`
	OutputFormat OutputFormat `json:"output_format"`
	Quality      Quality      `json:"quality_preset"`
	Options      JobOptions   `json:"options"`
	Status       JobStatus    `json:"status"`
	Progress     int          `json:"progress"`
	ErrorMessage string       `json:"error_message,omitempty"`
	RetryCount   int          `json:"retry_count"`
	WorkerID     string       `json:"worker_id,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	StartedAt    sql.NullTime `json:"-"`
	CompletedAt  sql.NullTime `json:"-"`
}

func NewJob(userID, inputFileID, inputFormat string, format OutputFormat, quality Quality, opts JobOptions) *Job {
	return &Job{
		ID:           uuid.NewString(),
		UserID:       userID,
		InputFileID:  inputFileID,
		Type:         JobTypeTranscode,
		InputFormat:  inputFormat,
		OutputFormat: format,
		Quality:      quality,
		Options:      opts,
		Status:       JobStatusPending,
		CreatedAt:    time.Now().UTC(),
	}
}

// Payload builds the queue message for this job.
func (j *Job) Payload(inputPath string) Payload {
	return Payload{
		JobID:         j.ID,
		InputFilePath: inputPath,
		OutputFormat:  j.OutputFormat,
		QualityPreset: j.Quality,
		Options:       j.Options,
	}
}

// CheckInvariants reports the first violated record invariant, if any.
func (j *Job) CheckInvariants() error {
	if !j.Status.Valid() {
		return fmt.Errorf("unknown status %q", j.Status)
	}
	if j.Progress < 0 || j.Progress > 100 {
		return fmt.Errorf("progress %d out of range", j.Progress)
	}
	if (j.OutputFileID != "") != (j.Status == JobStatusCompleted) {
		return fmt.Errorf("output file set=%t with status %s", j.OutputFileID != "", j.Status)
	}
	if (j.ErrorMessage != "") != (j.Status == JobStatusFailed) {
		return fmt.Errorf("error message set=%t with status %s", j.ErrorMessage != "", j.Status)
	}
	return nil
}
