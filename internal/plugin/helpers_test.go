package plugin

import (
	"crypto/sha256"
	"os"
	"path/filepath"
	"testing"
)

func sha256Sum(b []byte) [32]byte {
	return sha256.Sum256(b)
}

func writeFile(t *testing.T, dir, name string, data []byte) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}
