package ffmpeg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/bnema/transcoder/internal/domain"
	"github.com/bnema/transcoder/internal/infrastructure/logger"
	"github.com/bnema/transcoder/internal/port"
)

var (
	ErrEmptyPath   = errors.New("path is empty")
	ErrInvalidPath = errors.New("path contains null byte")
)

// stderrTailSize bounds how much ffmpeg diagnostics end up in error messages.
const stderrTailSize = 4096

func validatePath(path string) error {
	if path == "" {
		return ErrEmptyPath
	}
	if strings.ContainsRune(path, 0) {
		return ErrInvalidPath
	}
	return nil
}

type Engine struct {
	ffmpeg  string
	ffprobe string
}

func NewEngine(ffmpegPath, ffprobePath string) *Engine {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &Engine{ffmpeg: ffmpegPath, ffprobe: ffprobePath}
}

func (e *Engine) Transcode(ctx context.Context, req port.EngineRequest, progress port.ProgressFunc) error {
	if err := validatePath(req.InputPath); err != nil {
		return fmt.Errorf("invalid input path: %w", err)
	}
	if err := validatePath(req.OutputPath); err != nil {
		return fmt.Errorf("invalid output path: %w", err)
	}

	// Without a duration there is nothing to measure progress against; the
	// final 100 is still reported.
	var duration float64
	if probe, err := e.Probe(ctx, req.InputPath); err != nil {
		logger.Debug.Printf("probe %s for duration: %v", logger.SanitizeForLog(req.InputPath), err)
	} else {
		duration = probe.DurationSeconds()
	}

	cmd := exec.CommandContext(ctx, e.ffmpeg, buildArgs(req)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrEngineFailure, err)
	}
	stderr := newTailBuffer(stderrTailSize)
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: start ffmpeg: %v", domain.ErrEngineFailure, err)
	}

	parser := newProgressParser(duration, progress)
	parser.consume(stdout)

	if err := cmd.Wait(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			return fmt.Errorf("%w: %v", domain.ErrEngineFailure, err)
		}
		return fmt.Errorf("%w: %v: %s", domain.ErrEngineFailure, err, detail)
	}

	parser.finish()
	return nil
}

func buildArgs(req port.EngineRequest) []string {
	p := req.Params
	args := []string{
		"-hide_banner",
		"-nostats",
		"-progress", "pipe:1",
		"-y",
		"-i", req.InputPath,
	}

	if p.Kind == domain.MediaKindAudio {
		args = append(args, "-vn", "-c:a", p.AudioCodec)
		if p.Format != domain.FormatWAV && p.Format != domain.FormatFLAC && p.AudioBitrate != "" {
			args = append(args, "-b:a", p.AudioBitrate)
		}
	} else {
		args = append(args, "-c:v", p.VideoCodec)
		if p.VideoBitrate != "" {
			args = append(args, "-b:v", p.VideoBitrate)
		}
		if size := p.FrameSize(); size != "" {
			args = append(args, "-s", size)
		}
		args = append(args, "-c:a", p.AudioCodec)
		if p.AudioBitrate != "" {
			args = append(args, "-b:a", p.AudioBitrate)
		}
		if p.Format == domain.FormatMP4 {
			args = append(args, "-movflags", "+faststart")
		}
	}

	for _, opt := range []struct{ key, flag string }{
		{"fps", "-r"},
		{"audioChannels", "-ac"},
		{"sampleRate", "-ar"},
	} {
		if v, ok := numericOption(req.Extra[opt.key]); ok {
			args = append(args, opt.flag, v)
		}
	}

	return append(args, req.OutputPath)
}

// numericOption renders a positive numeric pass-through option as an ffmpeg
// argument. Anything else is ignored.
func numericOption(v any) (string, bool) {
	switch n := v.(type) {
	case float64:
		if n > 0 {
			return strconv.FormatFloat(n, 'f', -1, 64), true
		}
	case int:
		if n > 0 {
			return strconv.Itoa(n), true
		}
	case string:
		if f, err := strconv.ParseFloat(n, 64); err == nil && f > 0 {
			return strconv.FormatFloat(f, 'f', -1, 64), true
		}
	}
	return "", false
}

func (e *Engine) Thumbnail(ctx context.Context, inputPath, outputPath string) error {
	if err := validatePath(inputPath); err != nil {
		return fmt.Errorf("invalid input path: %w", err)
	}
	if err := validatePath(outputPath); err != nil {
		return fmt.Errorf("invalid output path: %w", err)
	}

	args := []string{
		"-i", inputPath,
		"-vframes", "1",
		"-ss", "00:00:01",
		"-f", "image2",
		"-y",
		outputPath,
	}
	cmd := exec.CommandContext(ctx, e.ffmpeg, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%w: thumbnail: %v: %s", domain.ErrEngineFailure, err, lastBytes(out, stderrTailSize))
	}
	return nil
}

func (e *Engine) Probe(ctx context.Context, inputPath string) (*domain.ProbeResult, error) {
	if err := validatePath(inputPath); err != nil {
		return nil, fmt.Errorf("invalid input path: %w", err)
	}

	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		inputPath,
	}
	cmd := exec.CommandContext(ctx, e.ffprobe, args...)

	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%w: ffprobe: %v", domain.ErrMetadataProbe, err)
	}

	result, err := parseProbe(output)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func parseProbe(output []byte) (*domain.ProbeResult, error) {
	var result domain.ProbeResult
	if err := json.Unmarshal(output, &result); err != nil {
		return nil, fmt.Errorf("%w: parse ffprobe output: %v", domain.ErrMetadataProbe, err)
	}
	result.RawJSON = string(output)
	return &result, nil
}

func lastBytes(b []byte, n int) string {
	if len(b) > n {
		b = b[len(b)-n:]
	}
	return strings.TrimSpace(string(b))
}

var _ port.Engine = (*Engine)(nil)
