package fs

import (
	"fmt"
	"path/filepath"
	"strings"
)

// sanitizeRel resolves rel against workdir and rejects any path that would
// escape it, returning the cleaned path relative to workdir.
func sanitizeRel(workdir, rel string) (string, error) {
	if rel == "" {
		return "", fmt.Errorf("empty path")
	}
	cleaned := filepath.Clean(rel)
	if filepath.IsAbs(cleaned) || strings.HasPrefix(cleaned, "..") {
		return "", fmt.Errorf("path %q escapes working directory", rel)
	}
	full := filepath.Join(workdir, cleaned)
	absWorkdir, err := filepath.Abs(workdir)
	if err != nil {
		return "", err
	}
	absFull, err := filepath.Abs(full)
	if err != nil {
		return "", err
	}
	if absFull != absWorkdir && !strings.HasPrefix(absFull, absWorkdir+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes working directory", rel)
	}
	return cleaned, nil
}
