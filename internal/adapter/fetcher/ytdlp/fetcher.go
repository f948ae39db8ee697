package ytdlp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bnema/transcoder/internal/domain"
	"github.com/bnema/transcoder/internal/infrastructure/logger"
	"github.com/bnema/transcoder/internal/port"
)

const maxTitleLen = 100

var (
	invalidTitleChars = regexp.MustCompile(`[<>:"/\\|?*\x00]`)
	whitespace        = regexp.MustCompile(`\s+`)
)

// Fetcher downloads remote media with yt-dlp.
type Fetcher struct {
	bin string
	now func() time.Time
}

func NewFetcher(bin string) *Fetcher {
	if bin == "" {
		bin = "yt-dlp"
	}
	return &Fetcher{bin: bin, now: time.Now}
}

func (f *Fetcher) Fetch(ctx context.Context, url, destDir string) (*port.FetchResult, error) {
	if url == "" {
		return nil, fmt.Errorf("%w: empty url", domain.ErrFetchFailed)
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create %s: %v", domain.ErrFetchFailed, destDir, err)
	}

	title := f.title(ctx, url)
	path := filepath.Join(destDir, title+".mp4")
	if _, err := os.Stat(path); err == nil {
		title = title + "_" + strconv.FormatInt(f.now().UnixNano(), 10)
		path = filepath.Join(destDir, title+".mp4")
	}

	args := []string{
		"--no-warnings",
		"--no-playlist",
		"-f", "best[ext=mp4]/best",
		"--referer", url,
		"-o", path,
		url,
	}
	cmd := exec.CommandContext(ctx, f.bin, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("%w: %v: %s", domain.ErrFetchFailed, err, tail(out))
	}

	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: download produced no file at %s", domain.ErrFetchFailed, path)
	}

	logger.Info.Printf("downloaded %s to %s", logger.SanitizeForLog(url), path)
	return &port.FetchResult{Path: path, Title: title}, nil
}

// title asks yt-dlp for the media title. Failures fall back to a
// timestamped name.
func (f *Fetcher) title(ctx context.Context, url string) string {
	fallback := "remote_" + strconv.FormatInt(f.now().Unix(), 10)

	cmd := exec.CommandContext(ctx, f.bin, "--dump-single-json", "--skip-download", "--no-warnings", url)
	out, err := cmd.Output()
	if err != nil {
		logger.Warn.Printf("could not fetch media info for %s, using %s: %v", logger.SanitizeForLog(url), fallback, err)
		return fallback
	}

	var info struct {
		Title string `json:"title"`
	}
	if err := json.Unmarshal(out, &info); err != nil {
		logger.Warn.Printf("could not parse media info for %s: %v", logger.SanitizeForLog(url), err)
		return fallback
	}
	if t := SanitizeTitle(info.Title); t != "" {
		return t
	}
	return fallback
}

// SanitizeTitle makes a media title safe to use as a file name: characters
// invalid in file names are dropped, whitespace runs become underscores and
// the result is cut to 100 bytes on a rune boundary.
func SanitizeTitle(title string) string {
	s := invalidTitleChars.ReplaceAllString(title, "")
	s = whitespace.ReplaceAllString(strings.TrimSpace(s), "_")
	if len(s) > maxTitleLen {
		cut := maxTitleLen
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut]
	}
	if s == "." || s == ".." {
		return ""
	}
	return s
}

func tail(out []byte) string {
	const n = 2048
	if len(out) > n {
		out = out[len(out)-n:]
	}
	return strings.TrimSpace(string(out))
}

var _ port.Fetcher = (*Fetcher)(nil)
