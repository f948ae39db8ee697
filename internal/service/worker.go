package service

import (
	"context"
	"errors"

	"github.com/bnema/transcoder/internal/domain"
	"github.com/bnema/transcoder/internal/infrastructure/logger"
	"github.com/bnema/transcoder/internal/queue"
)

// Consumer delivers queued payloads to a handler until ctx is cancelled.
type Consumer interface {
	Consume(ctx context.Context, concurrency int, h queue.Handler) error
}

type PayloadHandler interface {
	HandlePayload(ctx context.Context, p domain.Payload) error
}

// WorkerPool runs up to workers transcodes at once from the queue.
type WorkerPool struct {
	consumer Consumer
	handler  PayloadHandler
	workers  int
}

func NewWorkerPool(consumer Consumer, handler PayloadHandler, workers int) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	return &WorkerPool{consumer: consumer, handler: handler, workers: workers}
}

// Run blocks until ctx is cancelled and every in-flight job has finished.
func (wp *WorkerPool) Run(ctx context.Context) error {
	logger.Info.Printf("started %d workers", wp.workers)
	err := wp.consumer.Consume(ctx, wp.workers, wp.handler.HandlePayload)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info.Printf("workers stopped")
	return nil
}
