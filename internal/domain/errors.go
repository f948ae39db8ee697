package domain

import (
	"errors"
	"unicode/utf8"
)

var (
	ErrNotFound             = errors.New("resource not found")
	ErrInputNotFound        = errors.New("input file not found")
	ErrEngineFailure        = errors.New("transcoding engine failure")
	ErrTransportUnavailable = errors.New("queue transport unavailable")
	ErrInvalidTransition    = errors.New("invalid job state transition")
	ErrMetadataProbe        = errors.New("metadata probe failed")
	ErrUnsupportedFormat    = errors.New("unsupported output format")
	ErrInvalidQuality       = errors.New("invalid quality preset")
	ErrInvalidPriority      = errors.New("invalid priority")
	ErrFetchFailed          = errors.New("remote fetch failed")
	ErrFileInUse            = errors.New("file is used by an active job")
	ErrInterrupted          = errors.New("processing interrupted")
)

// MaxErrorMessageLen bounds the error text persisted on a failed job.
const MaxErrorMessageLen = 2000

const truncatedSuffix = "…(truncated)"

// TruncateError shortens msg to at most MaxErrorMessageLen bytes without
// splitting a UTF-8 sequence.
func TruncateError(msg string) string {
	if len(msg) <= MaxErrorMessageLen {
		return msg
	}
	cut := MaxErrorMessageLen - len(truncatedSuffix)
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut] + truncatedSuffix
}
