// Package validation checks what clients send before it reaches the job
// pipeline.
package validation

import (
	"bytes"
	"errors"
	"io"
	"net/http"
)

// ErrDisallowedFileType is returned when content is not audio or video the
// engine accepts as input.
var ErrDisallowedFileType = errors.New("file type not allowed")

// sniffLen is how much of the content is inspected.
const sniffLen = 512

var allowedInputTypes = map[string]bool{
	"video/mp4":        true,
	"video/mpeg":       true,
	"video/quicktime":  true,
	"video/x-msvideo":  true,
	"video/x-matroska": true,
	"video/webm":       true,
	"audio/mpeg":       true,
	"audio/wav":        true,
	"audio/aac":        true,
	"audio/mp4":        true,
	"audio/ogg":        true,
	"audio/flac":       true,
}

// aliases maps names returned by http.DetectContentType onto the names used
// in the allowlist.
var aliases = map[string]string{
	"audio/wave":      "audio/wav",
	"audio/x-wav":     "audio/wav",
	"application/ogg": "audio/ogg",
	"video/avi":       "video/x-msvideo",
}

// DetectMediaType reads the first bytes of r and returns the MIME type they
// indicate. The reader is rewound before returning.
func DetectMediaType(r io.ReadSeeker) (string, error) {
	buf := make([]byte, sniffLen)
	n, err := io.ReadFull(r, buf)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return "", err
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	if n == 0 {
		return "application/octet-stream", nil
	}
	buf = buf[:n]

	mime := sniffMedia(buf)
	if mime == "" {
		mime = http.DetectContentType(buf)
	}
	if canonical, ok := aliases[mime]; ok {
		mime = canonical
	}
	return mime, nil
}

// ValidateMedia returns the detected MIME type of r, or ErrDisallowedFileType
// when it is not an accepted input.
func ValidateMedia(r io.ReadSeeker) (string, error) {
	mime, err := DetectMediaType(r)
	if err != nil {
		return "", err
	}
	if !allowedInputTypes[mime] {
		return mime, ErrDisallowedFileType
	}
	return mime, nil
}

func sniffMedia(buf []byte) string {
	if len(buf) < 4 {
		return ""
	}

	switch {
	case bytes.HasPrefix(buf, []byte{0x1A, 0x45, 0xDF, 0xA3}):
		// EBML: the DocType tells WebM from Matroska.
		if bytes.Contains(buf, []byte("webm")) {
			return "video/webm"
		}
		return "video/x-matroska"
	case bytes.HasPrefix(buf, []byte("fLaC")):
		return "audio/flac"
	case bytes.HasPrefix(buf, []byte("ID3")):
		return "audio/mpeg"
	case bytes.HasPrefix(buf, []byte("OggS")):
		return "audio/ogg"
	case bytes.HasPrefix(buf, []byte{0x00, 0x00, 0x01, 0xBA}), bytes.HasPrefix(buf, []byte{0x00, 0x00, 0x01, 0xB3}):
		return "video/mpeg"
	}

	if buf[0] == 0xFF {
		switch {
		case buf[1]&0xF6 == 0xF0:
			// ADTS sync word with layer 0.
			return "audio/aac"
		case buf[1]&0xE6 == 0xE2:
			// MPEG audio layer III frame sync.
			return "audio/mpeg"
		}
	}

	if len(buf) >= 12 && bytes.Equal(buf[0:4], []byte("RIFF")) {
		switch string(buf[8:12]) {
		case "WAVE":
			return "audio/wav"
		case "AVI ":
			return "video/x-msvideo"
		}
	}

	if len(buf) >= 12 && bytes.Equal(buf[4:8], []byte("ftyp")) {
		switch string(buf[8:12]) {
		case "qt  ":
			return "video/quicktime"
		case "M4A ", "M4B ":
			return "audio/mp4"
		default:
			return "video/mp4"
		}
	}
	return ""
}
