package domain

import "time"

type EventType string

const (
	EventCreated   EventType = "created"
	EventProgress  EventType = "progress"
	EventCompleted EventType = "completed"
	EventFailed    EventType = "failed"
)

type Event struct {
	Type         EventType `json:"type"`
	JobID        string    `json:"job_id"`
	Status       JobStatus `json:"status"`
	Progress     int       `json:"progress"`
	Message      string    `json:"message,omitempty"`
	OutputFileID string    `json:"output_file_id,omitempty"`
	At           time.Time `json:"at"`
}

func (e Event) IsTerminal() bool {
	return e.Type == EventCompleted || e.Type == EventFailed
}

// EventFor snapshots a job into an event of the given type.
func EventFor(t EventType, j *Job) Event {
	return Event{
		Type:         t,
		JobID:        j.ID,
		Status:       j.Status,
		Progress:     j.Progress,
		Message:      j.ErrorMessage,
		OutputFileID: j.OutputFileID,
		At:           time.Now().UTC(),
	}
}
