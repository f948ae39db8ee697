package domain

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// FileRetention is how long a stored file is kept after upload.
const FileRetention = 48 * time.Hour

type FileStatus string

const (
	FileStatusUploaded  FileStatus = "uploaded"
	FileStatusCompleted FileStatus = "completed"
)

type File struct {
	ID           string     `json:"id"`
	UserID       string     `json:"user_id"`
	OriginalName string     `json:"original_filename"`
	Size         uint64     `json:"file_size"`
	MimeType     string     `json:"mime_type"`
	StoragePath  string     `json:"-"`
	Checksum     string     `json:"checksum"`
	Status       FileStatus `json:"status"`
	UploadedAt   time.Time  `json:"uploaded_at"`
	ExpiresAt    time.Time  `json:"expires_at"`
}

// NewFile builds a file record. The checksum is fixed here and never
// recomputed; the storage path must already be absolute.
func NewFile(userID, originalName, storagePath, mimeType, checksum string, size uint64, status FileStatus) (*File, error) {
	if !filepath.IsAbs(storagePath) {
		return nil, fmt.Errorf("storage path %q is not absolute", storagePath)
	}
	now := time.Now().UTC()
	return &File{
		ID:           uuid.NewString(),
		UserID:       userID,
		OriginalName: originalName,
		Size:         size,
		MimeType:     mimeType,
		StoragePath:  storagePath,
		Checksum:     checksum,
		Status:       status,
		UploadedAt:   now,
		ExpiresAt:    now.Add(FileRetention),
	}, nil
}

func (f *File) IsExpired() bool {
	return time.Now().After(f.ExpiresAt)
}

type FileMetadata struct {
	FileID        string  `json:"file_id"`
	Title         string  `json:"title,omitempty"`
	Artist        string  `json:"artist,omitempty"`
	Album         string  `json:"album,omitempty"`
	Duration      float64 `json:"duration"`
	Bitrate       int64   `json:"bitrate"`
	Codec         string  `json:"codec,omitempty"`
	SampleRate    int     `json:"sample_rate,omitempty"`
	Channels      int     `json:"channels,omitempty"`
	Resolution    string  `json:"resolution,omitempty"`
	FrameRate     float64 `json:"frame_rate,omitempty"`
	ThumbnailPath string  `json:"thumbnail_path,omitempty"`
	RawJSON       string  `json:"raw_metadata,omitempty"`
}
