package domain

import (
	"fmt"
	"strconv"
	"strings"
)

type ProbeFormat struct {
	FormatName string            `json:"format_name"`
	FormatLong string            `json:"format_long_name"`
	Duration   string            `json:"duration"`
	Size       string            `json:"size"`
	BitRate    string            `json:"bit_rate"`
	NbStreams  int               `json:"nb_streams"`
	Tags       map[string]string `json:"tags"`
}

type ProbeStream struct {
	Index         int               `json:"index"`
	CodecType     string            `json:"codec_type"`
	CodecName     string            `json:"codec_name"`
	CodecLong     string            `json:"codec_long_name"`
	Width         int               `json:"width"`
	Height        int               `json:"height"`
	PixFmt        string            `json:"pix_fmt"`
	RFrameRate    string            `json:"r_frame_rate"`
	AvgFrameRate  string            `json:"avg_frame_rate"`
	Duration      string            `json:"duration"`
	BitRate       string            `json:"bit_rate"`
	SampleRate    string            `json:"sample_rate"`
	Channels      int               `json:"channels"`
	ChannelLayout string            `json:"channel_layout"`
	Tags          map[string]string `json:"tags"`
}

type ProbeResult struct {
	Format  ProbeFormat   `json:"format"`
	Streams []ProbeStream `json:"streams"`
	RawJSON string        `json:"-"`
}

func (p *ProbeResult) VideoStream() *ProbeStream {
	return p.firstStream("video")
}

func (p *ProbeResult) AudioStream() *ProbeStream {
	return p.firstStream("audio")
}

func (p *ProbeResult) firstStream(codecType string) *ProbeStream {
	for i := range p.Streams {
		if p.Streams[i].CodecType == codecType {
			return &p.Streams[i]
		}
	}
	return nil
}

func (p *ProbeResult) Dimensions() (width, height int) {
	if vs := p.VideoStream(); vs != nil {
		return vs.Width, vs.Height
	}
	return 0, 0
}

// DurationSeconds returns the container duration, falling back to the
// longest stream duration.
func (p *ProbeResult) DurationSeconds() float64 {
	if d := ParseDuration(p.Format.Duration); d > 0 {
		return d
	}
	var longest float64
	for _, s := range p.Streams {
		if d := ParseDuration(s.Duration); d > longest {
			longest = d
		}
	}
	return longest
}

// tag looks a container tag up case-insensitively.
func (p *ProbeResult) tag(name string) string {
	for k, v := range p.Format.Tags {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

func ParseFrameRate(fraction string) float64 {
	if fraction == "" || fraction == "0/0" {
		return 0
	}
	var num, den int
	if _, err := fmt.Sscanf(fraction, "%d/%d", &num, &den); err == nil && den > 0 {
		return float64(num) / float64(den)
	}
	if f, err := strconv.ParseFloat(fraction, 64); err == nil {
		return f
	}
	return 0
}

func ParseDuration(durationStr string) float64 {
	if durationStr == "" || durationStr == "N/A" {
		return 0
	}
	duration, err := strconv.ParseFloat(durationStr, 64)
	if err != nil {
		return 0
	}
	return duration
}

// MetadataFromProbe derives the stored technical metadata of a file. The
// codec reported is the video codec when present, otherwise the audio one.
func MetadataFromProbe(fileID string, p *ProbeResult) *FileMetadata {
	m := &FileMetadata{
		FileID:   fileID,
		Title:    p.tag("title"),
		Artist:   p.tag("artist"),
		Album:    p.tag("album"),
		Duration: p.DurationSeconds(),
		RawJSON:  p.RawJSON,
	}
	if br, err := strconv.ParseInt(p.Format.BitRate, 10, 64); err == nil {
		m.Bitrate = br
	}

	audio := p.AudioStream()
	video := p.VideoStream()

	if video != nil {
		m.Codec = video.CodecName
		if video.Width > 0 && video.Height > 0 {
			m.Resolution = fmt.Sprintf("%dx%d", video.Width, video.Height)
		}
		m.FrameRate = ParseFrameRate(video.RFrameRate)
	} else if audio != nil {
		m.Codec = audio.CodecName
	}
	if audio != nil {
		if sr, err := strconv.Atoi(audio.SampleRate); err == nil {
			m.SampleRate = sr
		}
		m.Channels = audio.Channels
	}
	return m
}
