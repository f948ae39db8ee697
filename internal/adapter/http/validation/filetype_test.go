package validation

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pad(magic []byte) []byte {
	out := make([]byte, sniffLen)
	copy(out, magic)
	return out
}

func riff(form string) []byte {
	return append([]byte("RIFF\x00\x00\x00\x00"), form...)
}

func ftyp(brand string) []byte {
	return append([]byte{0x00, 0x00, 0x00, 0x18, 'f', 't', 'y', 'p'}, brand...)
}

func TestValidateMedia_Accepted(t *testing.T) {
	tests := []struct {
		name  string
		magic []byte
		mime  string
	}{
		{"mp4", ftyp("isom"), "video/mp4"},
		{"quicktime", ftyp("qt  "), "video/quicktime"},
		{"m4a", ftyp("M4A "), "audio/mp4"},
		{"webm", append([]byte{0x1A, 0x45, 0xDF, 0xA3, 0x01, 0x42, 0x82, 0x84}, "webm"...), "video/webm"},
		{"matroska", append([]byte{0x1A, 0x45, 0xDF, 0xA3, 0x01, 0x42, 0x82, 0x88}, "matroska"...), "video/x-matroska"},
		{"avi", riff("AVI "), "video/x-msvideo"},
		{"mpeg program stream", []byte{0x00, 0x00, 0x01, 0xBA, 0x44}, "video/mpeg"},
		{"mp3 frame", []byte{0xFF, 0xFB, 0x90, 0x00}, "audio/mpeg"},
		{"mp3 id3", []byte("ID3\x04\x00\x00"), "audio/mpeg"},
		{"aac adts", []byte{0xFF, 0xF1, 0x50, 0x80}, "audio/aac"},
		{"wav", riff("WAVE"), "audio/wav"},
		{"ogg", []byte("OggS\x00\x02"), "audio/ogg"},
		{"flac", []byte("fLaC"), "audio/flac"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mime, err := ValidateMedia(bytes.NewReader(pad(tt.magic)))
			require.NoError(t, err)
			assert.Equal(t, tt.mime, mime)
		})
	}
}

func TestValidateMedia_Rejected(t *testing.T) {
	tests := []struct {
		name    string
		content []byte
	}{
		{"php", []byte("<?php echo 'hello'; ?>")},
		{"html", []byte("<!DOCTYPE html><html><body></body></html>")},
		{"exe", []byte{0x4D, 0x5A, 0x90, 0x00, 0x03, 0x00, 0x00, 0x00}},
		{"png", []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}},
		{"webp", riff("WEBP")},
		{"empty", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateMedia(bytes.NewReader(tt.content))
			assert.ErrorIs(t, err, ErrDisallowedFileType)
		})
	}
}

func TestDetectMediaType_RewindsReader(t *testing.T) {
	content := pad([]byte("fLaC"))
	r := bytes.NewReader(content)

	_, err := DetectMediaType(r)
	require.NoError(t, err)

	all, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, content, all)
}

func TestDetectMediaType_ShortInput(t *testing.T) {
	mime, err := DetectMediaType(bytes.NewReader([]byte{0xFF}))
	require.NoError(t, err)
	assert.NotEmpty(t, mime)
}
