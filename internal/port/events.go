package port

import "github.com/bnema/transcoder/internal/domain"

type EventPublisher interface {
	Publish(jobID string, event domain.Event)
}
