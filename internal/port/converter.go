package port

import (
	"context"

	"github.com/bnema/transcoder/internal/domain"
)

type EngineRequest struct {
	InputPath  string
	OutputPath string
	Params     domain.EncodeParams
	// Extra holds engine-specific pass-through options.
	Extra map[string]any
}

// ProgressFunc receives percent-complete estimates in [0,100].
type ProgressFunc func(percent float64)

// Engine is the binding to the external transcoding engine.
type Engine interface {
	Transcode(ctx context.Context, req EngineRequest, progress ProgressFunc) error
	Probe(ctx context.Context, inputPath string) (*domain.ProbeResult, error)
	Thumbnail(ctx context.Context, inputPath, outputPath string) error
}
