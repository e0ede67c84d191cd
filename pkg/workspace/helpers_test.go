package workspace

import (
	"os"
	"path/filepath"
	"testing"
)

// testWorkspace represents a temporary directory tree for testing
type testWorkspace struct {
	Path  string
	Files map[string]string
}

// createTempWorkspace creates a temporary directory with files
func createTempWorkspace(t *testing.T, files map[string]string) *testWorkspace {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "pluginhost-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp directory: %v", err)
	}

	ws := &testWorkspace{
		Path:  tmpDir,
		Files: files,
	}

	for relPath, content := range files {
		ws.write(t, relPath, content)
	}

	return ws
}

// write creates or replaces a file below the workspace
func (ws *testWorkspace) write(t *testing.T, relPath, content string) string {
	t.Helper()
	fullPath := filepath.Join(ws.Path, relPath)

	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("Failed to create directory %s: %v", dir, err)
	}

	if err := os.WriteFile(fullPath, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write file %s: %v", fullPath, err)
	}
	return fullPath
}

// cleanup removes the temporary workspace
func (ws *testWorkspace) cleanup(t *testing.T) {
	t.Helper()
	if err := os.RemoveAll(ws.Path); err != nil {
		t.Errorf("Failed to cleanup workspace: %v", err)
	}
}
