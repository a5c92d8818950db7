// Package pathutil maps slash-separated entry paths onto the local filesystem.
package pathutil

import (
	"errors"
	"path/filepath"
	"strings"
)

// ErrUnsafePath is returned for entry paths that would resolve outside the
// destination directory.
var ErrUnsafePath = errors.New("pathutil: unsafe path")

// Base returns the last element of a slash-separated path.
// If path is empty or ".", it returns ".".
func Base(path string) string {
	if path == "" || path == "." {
		return "."
	}
	// Remove trailing slash if present
	path = strings.TrimSuffix(path, "/")
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[i+1:]
	}
	return path
}

// Local converts an entry path such as "A/Some/Page" into a relative
// filesystem path. Paths that are absolute, contain "..", or are empty
// after cleaning are rejected.
func Local(name string) (string, error) {
	if strings.ContainsRune(name, 0) || strings.Contains(name, `\`) {
		return "", ErrUnsafePath
	}
	rel := filepath.FromSlash(strings.TrimSuffix(name, "/"))
	if !filepath.IsLocal(rel) {
		return "", ErrUnsafePath
	}
	return filepath.Clean(rel), nil
}

// Join maps name under dir, rejecting unsafe paths.
func Join(dir, name string) (string, error) {
	rel, err := Local(name)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, rel), nil
}
