package cache

import (
	"path/filepath"
	"testing"
)

func TestJSONPath_stable(t *testing.T) {
	p1 := JSONPath("/cache", "channels")
	p2 := JSONPath("/cache", "channels")
	if p1 != p2 {
		t.Errorf("JSONPath should be stable: %q vs %q", p1, p2)
	}
}

func TestJSONPath_sanitized(t *testing.T) {
	p := JSONPath("/cache", "id/with/slash")
	if filepath.Base(p) != "id_with_slash.json" {
		t.Errorf("slashes should be sanitized: %s", p)
	}
}

func TestSanitizeKey_empty(t *testing.T) {
	if SanitizeKey("") != "unknown" {
		t.Errorf("empty key should sanitize to 'unknown'")
	}
}
