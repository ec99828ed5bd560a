package cache

import (
	"path/filepath"
	"strings"
)

// JSONPath returns the on-disk path for a named JSON cache file under cacheDir
// (e.g. "channels", "epg", "providers"). Stable: same name always maps to the
// same path.
func JSONPath(cacheDir, name string) string {
	return filepath.Join(cacheDir, SanitizeKey(name)+".json")
}

// SanitizeKey replaces path separators and NUL bytes so a provider id or
// content id can be safely used as (part of) a file name.
func SanitizeKey(id string) string {
	s := strings.ReplaceAll(id, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	s = strings.ReplaceAll(s, "\x00", "_")
	if s == "" {
		s = "unknown"
	}
	return s
}
