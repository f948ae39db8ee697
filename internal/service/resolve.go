package service

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bnema/transcoder/internal/domain"
)

// PathResolver locates input files that may have been recorded with a path
// relative to another process's working directory.
type PathResolver struct {
	StorageRoot string
	LegacyDir   string
	Getwd       func() (string, error)
}

func NewPathResolver(storageRoot, legacyDir string) *PathResolver {
	return &PathResolver{StorageRoot: storageRoot, LegacyDir: legacyDir, Getwd: os.Getwd}
}

// Resolve tries, in order: the path as given when absolute, the storage root
// joined with the base name, the working directory, then the legacy
// directory. The first existing regular file wins. When none exists the
// error wraps domain.ErrInputNotFound and names the primary candidate.
func (r *PathResolver) Resolve(path string) (string, error) {
	return r.resolve(path, false)
}

// ResolveStored is Resolve restricted to files under the storage root or the
// legacy directory. Candidates outside both, including symlinks pointing out
// of them, are skipped.
func (r *PathResolver) ResolveStored(path string) (string, error) {
	return r.resolve(path, true)
}

func (r *PathResolver) resolve(path string, stored bool) (string, error) {
	if path == "" {
		return "", fmt.Errorf("%w: empty path", domain.ErrInputNotFound)
	}

	cwd, cwdErr := r.Getwd()
	haveCwd := cwdErr == nil
	candidates := r.candidates(path, cwd, haveCwd)
	for _, c := range candidates {
		info, err := os.Stat(c)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		if stored && !r.inRoots(c, cwd, haveCwd) {
			continue
		}
		return filepath.Abs(c)
	}

	primary := path
	if len(candidates) > 0 {
		primary = candidates[0]
	}
	return "", fmt.Errorf("%w: %s", domain.ErrInputNotFound, primary)
}

func (r *PathResolver) inRoots(path, cwd string, haveCwd bool) bool {
	resolved, err := realPath(path)
	if err != nil {
		return false
	}
	for _, root := range r.roots(cwd, haveCwd) {
		if within(root, resolved) {
			return true
		}
	}
	return false
}

func (r *PathResolver) roots(cwd string, haveCwd bool) []string {
	var out []string
	for _, dir := range []string{r.StorageRoot, r.LegacyDir} {
		if dir == "" {
			continue
		}
		if !filepath.IsAbs(dir) {
			if !haveCwd {
				continue
			}
			dir = filepath.Join(cwd, dir)
		}
		if resolved, err := realPath(dir); err == nil {
			out = append(out, resolved)
		}
	}
	return out
}

func realPath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(abs)
}

// within reports whether path lies strictly below root.
func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." || filepath.IsAbs(rel) {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (r *PathResolver) candidates(path, cwd string, haveCwd bool) []string {
	var out []string
	abs := filepath.IsAbs(path)
	if abs {
		out = append(out, filepath.Clean(path))
	}
	if r.StorageRoot != "" {
		out = append(out, filepath.Join(r.StorageRoot, filepath.Base(path)))
	}
	if !abs && haveCwd {
		out = append(out, filepath.Join(cwd, path))
	}
	if !abs && r.LegacyDir != "" {
		legacy := r.LegacyDir
		if !filepath.IsAbs(legacy) && haveCwd {
			legacy = filepath.Join(cwd, legacy)
		}
		out = append(out, filepath.Join(legacy, path))
	}
	return out
}
