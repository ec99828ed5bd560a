package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// SaveJSON marshals v and writes it to path atomically: write to a temp file
// in the same directory, chmod 0600, then rename over path. A reader never
// observes a partially-written file. Grounded on the catalog's Save pattern.
func SaveJSON(path string, v interface{}) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("cache: mkdir %s: %w", dir, err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("cache: marshal %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(dir, ".cache-*.json.tmp")
	if err != nil {
		return fmt.Errorf("cache: create temp for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once renamed

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("cache: write temp for %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("cache: close temp for %s: %w", path, err)
	}
	if err := os.Chmod(tmpName, 0600); err != nil {
		return fmt.Errorf("cache: chmod temp for %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("cache: rename into %s: %w", path, err)
	}
	return nil
}

// LoadJSON reads path and unmarshals into v. Returns an error satisfying
// os.IsNotExist when the file has never been written; callers should treat
// that as "cache empty", not a fatal error.
func LoadJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("cache: unmarshal %s: %w", path, err)
	}
	return nil
}
