package health

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestMCPWatcherRevalidates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mcp-config.json")
	if err := os.WriteFile(path, []byte(`{"mcpServers":{}}`), 0o644); err != nil {
		t.Fatal(err)
	}

	results := make(chan error, 8)
	w, err := WatchMCPConfig(path, func(err error) { results <- err })
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	// Unrelated files in the directory are ignored.
	if err := os.WriteFile(filepath.Join(dir, "other.json"), []byte(`{}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(`{"mcpServers":`), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-results:
		if err == nil {
			t.Fatal("expected the broken config to be reported")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for revalidation")
	}

	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}
