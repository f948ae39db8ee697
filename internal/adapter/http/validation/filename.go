package validation

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	maxFilenameLength = 255
	maxExtLength      = 10
)

// SanitizeFilename makes a client-supplied name safe to store and to echo in
// headers. Path separators, quotes and control characters become '_',
// Unicode is kept, and long names are cut to 255 bytes keeping the extension.
func SanitizeFilename(name string) string {
	clean := strings.TrimSpace(strings.Map(func(r rune) rune {
		if r < 32 || r == 127 || strings.ContainsRune(`"\/:`, r) {
			return '_'
		}
		return r
	}, name))

	if strings.Trim(clean, "_.") == "" {
		return "file"
	}
	if len(clean) > maxFilenameLength {
		clean = truncateKeepingExt(clean)
	}
	return clean
}

func truncateKeepingExt(name string) string {
	ext := filepath.Ext(name)
	if ext == "" || len(ext) >= maxFilenameLength {
		return truncateUTF8(name, maxFilenameLength)
	}
	base := strings.TrimSuffix(name, ext)
	return truncateUTF8(base, maxFilenameLength-len(ext)) + ext
}

func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// StoredName returns a fresh collision-free name for an upload, keeping the
// original extension when it looks like one.
func StoredName(original string) string {
	ext := strings.ToLower(filepath.Ext(original))
	if !plainExt(ext) {
		ext = ""
	}
	return uuid.NewString() + ext
}

func plainExt(ext string) bool {
	if len(ext) < 2 || len(ext) > maxExtLength {
		return false
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

// ContentDisposition returns a header value naming the file for download.
func ContentDisposition(filename string, inline bool) string {
	disposition := "attachment"
	if inline {
		disposition = "inline"
	}
	return fmt.Sprintf("%s; filename=%q", disposition, SanitizeFilename(filename))
}
