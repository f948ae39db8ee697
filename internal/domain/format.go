package domain

import (
	"fmt"
	"path/filepath"
	"strings"
)

type MediaKind string

const (
	MediaKindAudio MediaKind = "audio"
	MediaKindVideo MediaKind = "video"
)

type OutputFormat string

const (
	FormatMP3  OutputFormat = "mp3"
	FormatWAV  OutputFormat = "wav"
	FormatAAC  OutputFormat = "aac"
	FormatFLAC OutputFormat = "flac"
	FormatOGG  OutputFormat = "ogg"
	FormatMP4  OutputFormat = "mp4"
	FormatWebM OutputFormat = "webm"
	FormatMKV  OutputFormat = "mkv"
)

var AudioFormats = []OutputFormat{FormatMP3, FormatWAV, FormatAAC, FormatFLAC, FormatOGG}
var VideoFormats = []OutputFormat{FormatMP4, FormatWebM, FormatMKV}

func ParseOutputFormat(s string) (OutputFormat, error) {
	f := OutputFormat(strings.ToLower(strings.TrimSpace(s)))
	if f.Kind() == "" {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
	}
	return f, nil
}

func (f OutputFormat) Kind() MediaKind {
	for _, a := range AudioFormats {
		if f == a {
			return MediaKindAudio
		}
	}
	for _, v := range VideoFormats {
		if f == v {
			return MediaKindVideo
		}
	}
	return ""
}

func (f OutputFormat) MimeType() string {
	return string(f.Kind()) + "/" + string(f)
}

type Quality string

const (
	QualityLow    Quality = "low"
	QualityMedium Quality = "medium"
	QualityHigh   Quality = "high"
	QualityUltra  Quality = "ultra"
)

var Qualities = []Quality{QualityLow, QualityMedium, QualityHigh, QualityUltra}

// ParseQuality accepts an empty string as the default (medium) preset.
func ParseQuality(s string) (Quality, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return QualityMedium, nil
	}
	for _, q := range Qualities {
		if Quality(s) == q {
			return q, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidQuality, s)
}

type presetValues struct {
	audioBitrate string
	videoBitrate string
	width        int
	height       int
}

var presets = map[Quality]presetValues{
	QualityLow:    {audioBitrate: "128k", videoBitrate: "500k", width: 640, height: 360},
	QualityMedium: {audioBitrate: "192k", videoBitrate: "1000k", width: 1280, height: 720},
	QualityHigh:   {audioBitrate: "256k", videoBitrate: "2500k", width: 1920, height: 1080},
	QualityUltra:  {audioBitrate: "320k", videoBitrate: "5000k", width: 2560, height: 1440},
}

// EncodeParams are the concrete engine settings for one output.
type EncodeParams struct {
	Format       OutputFormat
	Kind         MediaKind
	AudioCodec   string
	AudioBitrate string
	VideoCodec   string
	VideoBitrate string
	Width        int
	Height       int
}

func (p EncodeParams) FrameSize() string {
	if p.Width == 0 || p.Height == 0 {
		return ""
	}
	return fmt.Sprintf("%dx%d", p.Width, p.Height)
}

var audioCodecs = map[OutputFormat]string{
	FormatMP3:  "libmp3lame",
	FormatWAV:  "pcm_s16le",
	FormatAAC:  "aac",
	FormatFLAC: "flac",
	FormatOGG:  "libvorbis",
}

// PresetFor maps a format and quality preset to encode parameters. Audio
// outputs carry no video stream; video outputs always carry audio.
func PresetFor(format OutputFormat, quality Quality) (EncodeParams, error) {
	kind := format.Kind()
	if kind == "" {
		return EncodeParams{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	pv, ok := presets[quality]
	if !ok {
		return EncodeParams{}, fmt.Errorf("%w: %q", ErrInvalidQuality, quality)
	}

	p := EncodeParams{Format: format, Kind: kind}
	if kind == MediaKindAudio {
		p.AudioCodec = audioCodecs[format]
		p.AudioBitrate = pv.audioBitrate
		return p, nil
	}

	p.VideoBitrate = pv.videoBitrate
	p.Width = pv.width
	p.Height = pv.height
	p.AudioBitrate = pv.audioBitrate
	switch format {
	case FormatWebM:
		p.VideoCodec = "libvpx"
		p.AudioCodec = "libvorbis"
	default:
		p.VideoCodec = "libx264"
		p.AudioCodec = "aac"
	}
	return p, nil
}

// InputFormatOf derives the input format label from a MIME type, falling
// back to the file extension.
func InputFormatOf(mimeType, filename string) string {
	if _, sub, ok := strings.Cut(mimeType, "/"); ok && sub != "" && sub != "octet-stream" {
		return sub
	}
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
}

var extMimeTypes = map[string]string{
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".aac":  "audio/aac",
	".m4a":  "audio/mp4",
	".flac": "audio/flac",
	".ogg":  "audio/ogg",
	".opus": "audio/opus",
	".mp4":  "video/mp4",
	".webm": "video/webm",
	".mkv":  "video/x-matroska",
	".mov":  "video/quicktime",
	".avi":  "video/x-msvideo",
}

// DetectMimeType guesses a MIME type from a file name.
func DetectMimeType(filename string) string {
	if m, ok := extMimeTypes[strings.ToLower(filepath.Ext(filename))]; ok {
		return m
	}
	return "application/octet-stream"
}
