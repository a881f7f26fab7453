// Package dirs resolves the host process's cache and documents directories
// (spec §2 component F), standing in for the mobile OS's
// getTemporaryDirectory/getApplicationDocumentsDirectory calls the original
// widget host provided. Grounded on the teacher's conf.Bucket.Path +
// diskBucket.initWorkdir MkdirAll-on-open pattern (storage/bucket/disk).
package dirs

import (
	"fmt"
	"os"
	"path/filepath"
)

// CacheDir returns <base>/http_cache, creating it if necessary. Root CHC
// singletons and range-proxy instances are rooted here (spec §4.4's
// singleton() and §6.6's loopback server both resolve their LFC through
// this path).
func CacheDir(base string) (string, error) {
	dir := filepath.Join(base, "http_cache")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("dirs: cache dir %s: %w", dir, err)
	}
	return dir, nil
}

// DocumentsDir returns the documents directory, creating it if necessary.
// PersistValues (§6.5) stores `_persist_values` here.
func DocumentsDir(base string) (string, error) {
	if err := os.MkdirAll(base, 0o755); err != nil {
		return "", fmt.Errorf("dirs: documents dir %s: %w", base, err)
	}
	return base, nil
}

// PersistValuesPath returns the path of the _persist_values file under the
// given documents directory.
func PersistValuesPath(documentsDir string) string {
	return filepath.Join(documentsDir, "_persist_values")
}
