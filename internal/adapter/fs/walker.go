package fs

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"

	"priorart/internal/domain"
	"priorart/internal/port"
)

var defaultIncludes = []string{"**/*.json", "**/*.yaml", "**/*.yml"}

// Walker finds patent files under a corpus root by glob.
type Walker struct {
	includes []string
	excludes []string
}

var _ port.FileWalker = (*Walker)(nil)

// NewWalker checks every pattern once so matching can skip validation.
func NewWalker(includes, excludes []string) (*Walker, error) {
	if len(includes) == 0 {
		includes = defaultIncludes
	}
	for _, p := range append(append([]string(nil), includes...), excludes...) {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("%w: bad glob %q", domain.ErrInvalidConfiguration, p)
		}
	}
	return &Walker{includes: includes, excludes: excludes}, nil
}

// Walk returns matching files under root sorted by path. Excluded
// directories are not descended into.
func (w *Walker) Walk(root string) ([]port.FileInfo, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	var files []port.FileInfo
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if rel != "." && matchAny(w.excludes, rel+"/") {
				return filepath.SkipDir
			}
			return nil
		}
		if !matchAny(w.includes, rel) || matchAny(w.excludes, rel) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		files = append(files, port.FileInfo{
			Path:    path,
			ModTime: info.ModTime().Unix(),
			Size:    info.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

func matchAny(patterns []string, path string) bool {
	for _, p := range patterns {
		if doublestar.MatchUnvalidated(p, path) {
			return true
		}
	}
	return false
}
