// Package pointid derives stable vector store point IDs from sample paths.
package pointid

import (
	"path/filepath"

	"github.com/google/uuid"
)

// Canonical returns the absolute, cleaned form of path. If the working directory
// cannot be determined, the cleaned path is returned as is.
func Canonical(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}

// For returns the point ID for path: a name-based (SHA-1, version 5) UUID of the
// canonical path in the URL namespace. Same path always yields the same ID.
func For(path string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(Canonical(path))).String()
}
