// Package security guards file paths derived from configuration or requests.
package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

// canonical resolves symlinks in the longest existing prefix of path, so a
// file that does not exist yet is judged by where its parent really lives.
func canonical(path string) (string, error) {
	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("failed to resolve absolute path: %w", err)
	}
	rest := ""
	for dir := abs; ; dir = filepath.Dir(dir) {
		if resolved, err := filepath.EvalSymlinks(dir); err == nil {
			return filepath.Join(resolved, rest), nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return abs, nil
		}
		rest = filepath.Join(filepath.Base(dir), rest)
	}
}

// ValidatePathWithinDirectory returns an error when filePath, after cleaning
// and symlink resolution, is not inside safeDir.
func ValidatePathWithinDirectory(filePath, safeDir string) error {
	base, err := canonical(safeDir)
	if err != nil {
		return err
	}
	target, err := canonical(filePath)
	if err != nil {
		return err
	}
	rel, err := filepath.Rel(base, target)
	if err != nil {
		return fmt.Errorf("path is outside safe directory: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return fmt.Errorf("path traversal detected: %s escapes %s", filePath, safeDir)
	}
	return nil
}

// JoinWithin sanitises name and joins it onto dir, refusing results that
// escape dir.
func JoinWithin(dir, name string) (string, error) {
	path := filepath.Join(dir, SanitizeFilename(name))
	if err := ValidatePathWithinDirectory(path, dir); err != nil {
		return "", err
	}
	return path, nil
}

// SanitizeFilename keeps ASCII letters, digits, dot, underscore and dash,
// folds every other run of characters into one underscore and caps the
// length at 128.
func SanitizeFilename(s string) string {
	const maxLen = 128
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		if b.Len() >= maxLen {
			break
		}
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'),
			r == '.', r == '_', r == '-':
			b.WriteRune(r)
			lastUnderscore = r == '_'
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unknown"
	}
	return out
}
