package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bnema/transcoder/internal/domain"
	"github.com/bnema/transcoder/internal/infrastructure/logger"
	"github.com/bnema/transcoder/internal/port"
)

type ExecRequest struct {
	JobID     string
	InputPath string
	Format    domain.OutputFormat
	Quality   domain.Quality
	Options   domain.JobOptions
}

type ExecResult struct {
	Path     string
	Size     uint64
	Checksum string
	MimeType string
}

// Executor runs one transcode through the engine and owns the files it
// produces. It never touches job records.
type Executor struct {
	engine      port.Engine
	resolver    *PathResolver
	storageRoot string
}

func NewExecutor(engine port.Engine, resolver *PathResolver) *Executor {
	return &Executor{
		engine:      engine,
		resolver:    resolver,
		storageRoot: resolver.StorageRoot,
	}
}

// ResolveStored locates a client-supplied input, accepting only files kept
// under the storage directories.
func (e *Executor) ResolveStored(path string) (string, error) {
	return e.resolver.ResolveStored(path)
}

// Execute transcodes req.InputPath into a new file under the storage root.
// progress, when non-nil, receives percentages from the engine's goroutine.
func (e *Executor) Execute(ctx context.Context, req ExecRequest, progress func(int)) (*ExecResult, error) {
	params, err := domain.PresetFor(req.Format, req.Quality)
	if err != nil {
		return nil, err
	}

	input, err := e.resolver.Resolve(req.InputPath)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(e.storageRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	output := e.outputPath(input, req.JobID, req.Format)

	logger.Info.Printf("job %s: transcoding %s -> %s (%s/%s)", req.JobID, input, output, req.Format, req.Quality)

	engineReq := port.EngineRequest{
		InputPath:  input,
		OutputPath: output,
		Params:     params,
		Extra:      req.Options.Extra,
	}
	err = e.engine.Transcode(ctx, engineReq, func(pct float64) {
		if progress != nil {
			progress(int(pct))
		}
	})
	if err != nil {
		removePartial(output)
		if !errors.Is(err, domain.ErrEngineFailure) {
			err = fmt.Errorf("%w: %v", domain.ErrEngineFailure, err)
		}
		return nil, err
	}

	checksum, size, err := FileChecksum(output)
	if err != nil {
		removePartial(output)
		return nil, fmt.Errorf("read output: %w", err)
	}

	return &ExecResult{
		Path:     output,
		Size:     size,
		Checksum: checksum,
		MimeType: req.Format.MimeType(),
	}, nil
}

// Probe reads technical metadata of a finished file.
func (e *Executor) Probe(ctx context.Context, path string) (*domain.ProbeResult, error) {
	p, err := e.engine.Probe(ctx, path)
	if err != nil {
		if !errors.Is(err, domain.ErrMetadataProbe) {
			err = fmt.Errorf("%w: %v", domain.ErrMetadataProbe, err)
		}
		return nil, err
	}
	return p, nil
}

// Thumbnail writes a still next to a video file and returns its path.
func (e *Executor) Thumbnail(ctx context.Context, videoPath string) (string, error) {
	thumb := strings.TrimSuffix(videoPath, filepath.Ext(videoPath)) + "_thumb.jpg"
	if err := e.engine.Thumbnail(ctx, videoPath, thumb); err != nil {
		removePartial(thumb)
		return "", err
	}
	return thumb, nil
}

// outputPath names the output <stem>_<job id prefix>_converted.<format>,
// adding a counter rather than overwriting an existing file.
func (e *Executor) outputPath(input, jobID string, format domain.OutputFormat) string {
	stem := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	short := jobID
	if len(short) > 8 {
		short = short[:8]
	}
	base := fmt.Sprintf("%s_%s_converted", stem, short)

	candidate := filepath.Join(e.storageRoot, base+"."+string(format))
	for n := 1; fileExists(candidate); n++ {
		candidate = filepath.Join(e.storageRoot, base+"_"+strconv.Itoa(n)+"."+string(format))
	}
	return candidate
}

// FileChecksum returns the hex sha256 digest and size of the file at path.
func FileChecksum(path string) (string, uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), uint64(n), nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func removePartial(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.Warn.Printf("remove partial output %s: %v", path, err)
	}
}
