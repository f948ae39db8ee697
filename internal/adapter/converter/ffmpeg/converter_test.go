package ffmpeg

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/transcoder/internal/domain"
	"github.com/bnema/transcoder/internal/port"
)

func TestValidatePath(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		wantErr error
	}{
		{name: "valid path", path: "/tmp/video.mp4"},
		{name: "valid path with spaces", path: "/tmp/my video.mp4"},
		{name: "valid relative path", path: "video.mp4"},
		{name: "empty path", path: "", wantErr: ErrEmptyPath},
		{name: "path with null byte at start", path: "\x00/tmp/video.mp4", wantErr: ErrInvalidPath},
		{name: "path with null byte in middle", path: "/tmp/\x00video.mp4", wantErr: ErrInvalidPath},
		{name: "path with null byte at end", path: "/tmp/video.mp4\x00", wantErr: ErrInvalidPath},
		{name: "path with multiple null bytes", path: "/tmp/\x00video\x00.mp4", wantErr: ErrInvalidPath},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validatePath(tt.path)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestEngine_Transcode_PathValidation(t *testing.T) {
	e := NewEngine("", "")
	params, err := domain.PresetFor(domain.FormatMP3, domain.QualityMedium)
	require.NoError(t, err)

	tests := []struct {
		name   string
		input  string
		output string
		errMsg string
	}{
		{"empty input path", "", "/tmp/out.mp3", "invalid input path"},
		{"empty output path", "/tmp/in.wav", "", "invalid output path"},
		{"null byte in input path", "/tmp/\x00in.wav", "/tmp/out.mp3", "invalid input path"},
		{"null byte in output path", "/tmp/in.wav", "/tmp/\x00out.mp3", "invalid output path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := e.Transcode(context.Background(), port.EngineRequest{
				InputPath: tt.input, OutputPath: tt.output, Params: params,
			}, nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestEngine_Transcode_MissingBinary(t *testing.T) {
	e := NewEngine("/nonexistent/ffmpeg", "/nonexistent/ffprobe")
	params, err := domain.PresetFor(domain.FormatMP3, domain.QualityMedium)
	require.NoError(t, err)

	err = e.Transcode(context.Background(), port.EngineRequest{
		InputPath: "/tmp/in.wav", OutputPath: "/tmp/out.mp3", Params: params,
	}, nil)
	assert.ErrorIs(t, err, domain.ErrEngineFailure)
}

func writeScript(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func TestEngine_Transcode_FailureAfterEndReportsNoCompletion(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
	ffprobe := writeScript(t, "ffprobe", `printf '{"format":{"duration":"10"},"streams":[]}'`)
	ffmpeg := writeScript(t, "ffmpeg", `printf 'out_time_us=5000000\nprogress=end\n'
echo "Error writing trailer" >&2
exit 1`)
	e := NewEngine(ffmpeg, ffprobe)
	params, err := domain.PresetFor(domain.FormatMP3, domain.QualityMedium)
	require.NoError(t, err)

	var got []float64
	err = e.Transcode(context.Background(), port.EngineRequest{
		InputPath: "/tmp/in.wav", OutputPath: "/tmp/out.mp3", Params: params,
	}, func(p float64) { got = append(got, p) })

	require.ErrorIs(t, err, domain.ErrEngineFailure)
	assert.Contains(t, err.Error(), "Error writing trailer")
	assert.Equal(t, []float64{50}, got)
}

func TestEngine_Transcode_CleanExitReportsCompletion(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
	ffprobe := writeScript(t, "ffprobe", `printf '{"format":{"duration":"10"},"streams":[]}'`)
	ffmpeg := writeScript(t, "ffmpeg", `printf 'out_time_us=5000000\nprogress=end\n'`)
	e := NewEngine(ffmpeg, ffprobe)
	params, err := domain.PresetFor(domain.FormatMP3, domain.QualityMedium)
	require.NoError(t, err)

	var got []float64
	err = e.Transcode(context.Background(), port.EngineRequest{
		InputPath: "/tmp/in.wav", OutputPath: "/tmp/out.mp3", Params: params,
	}, func(p float64) { got = append(got, p) })

	require.NoError(t, err)
	assert.Equal(t, []float64{50, 100}, got)
}

func TestEngine_Probe_MissingBinary(t *testing.T) {
	e := NewEngine("/nonexistent/ffmpeg", "/nonexistent/ffprobe")
	_, err := e.Probe(context.Background(), "/tmp/in.wav")
	assert.ErrorIs(t, err, domain.ErrMetadataProbe)
}

func TestBuildArgs_Audio(t *testing.T) {
	params, err := domain.PresetFor(domain.FormatMP3, domain.QualityHigh)
	require.NoError(t, err)

	args := buildArgs(port.EngineRequest{
		InputPath:  "/in/a.wav",
		OutputPath: "/out/a.mp3",
		Params:     params,
		Extra:      map[string]any{"sampleRate": float64(44100), "audioChannels": 2, "ignored": "x"},
	})

	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "-progress pipe:1")
	assert.Contains(t, joined, "-i /in/a.wav")
	assert.Contains(t, joined, "-vn -c:a libmp3lame -b:a 256k")
	assert.Contains(t, joined, "-ac 2")
	assert.Contains(t, joined, "-ar 44100")
	assert.NotContains(t, joined, "-c:v")
	assert.Equal(t, "/out/a.mp3", args[len(args)-1])
}

func TestBuildArgs_LosslessAudioHasNoBitrate(t *testing.T) {
	params, err := domain.PresetFor(domain.FormatFLAC, domain.QualityUltra)
	require.NoError(t, err)

	args := buildArgs(port.EngineRequest{InputPath: "/in/a.wav", OutputPath: "/out/a.flac", Params: params})
	assert.NotContains(t, args, "-b:a")
	assert.Contains(t, strings.Join(args, " "), "-c:a flac")
}

func TestBuildArgs_Video(t *testing.T) {
	tests := []struct {
		format domain.OutputFormat
		want   []string
	}{
		{domain.FormatMP4, []string{"-c:v libx264", "-b:v 1000k", "-s 1280x720", "-c:a aac", "-movflags +faststart"}},
		{domain.FormatWebM, []string{"-c:v libvpx", "-c:a libvorbis"}},
		{domain.FormatMKV, []string{"-c:v libx264", "-c:a aac"}},
	}

	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			params, err := domain.PresetFor(tt.format, domain.QualityMedium)
			require.NoError(t, err)

			joined := strings.Join(buildArgs(port.EngineRequest{
				InputPath: "/in/v.mov", OutputPath: "/out/v." + string(tt.format), Params: params,
				Extra: map[string]any{"fps": "30"},
			}), " ")
			for _, w := range tt.want {
				assert.Contains(t, joined, w)
			}
			assert.Contains(t, joined, "-r 30")
		})
	}
}

func TestNumericOption(t *testing.T) {
	v, ok := numericOption(float64(29.97))
	assert.True(t, ok)
	assert.Equal(t, "29.97", v)

	_, ok = numericOption(float64(0))
	assert.False(t, ok)
	_, ok = numericOption("fast")
	assert.False(t, ok)
	_, ok = numericOption(nil)
	assert.False(t, ok)
}

func TestParseProbe(t *testing.T) {
	raw := []byte(`{"format":{"duration":"10.5","bit_rate":"128000"},"streams":[{"codec_type":"audio","codec_name":"aac","sample_rate":"48000","channels":2}]}`)

	p, err := parseProbe(raw)
	require.NoError(t, err)
	assert.Equal(t, 10.5, p.DurationSeconds())
	assert.Equal(t, string(raw), p.RawJSON)
	require.NotNil(t, p.AudioStream())
	assert.Equal(t, "aac", p.AudioStream().CodecName)

	_, err = parseProbe([]byte("not json"))
	assert.ErrorIs(t, err, domain.ErrMetadataProbe)
}
