package app

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

// Handlers only read from the store. Turns and bindings are written by the
// services so that ordering and ownership rules live in one place.
func TestHandlersAvoidDirectStoreWrites(t *testing.T) {
	t.Parallel()

	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("failed to resolve current file path")
	}
	baseDir := filepath.Dir(thisFile)
	targetFiles := []string{
		"server_chat.go",
		"server_integrations.go",
	}
	forbidden := []string{
		"s.repository.AppendTurn(",
		"s.repository.CreateBinding(",
		"s.repository.DeleteBinding(",
		"s.repository.Put",
		"httptest.NewRecorder(",
		"httptest.NewRequest(",
	}

	for _, name := range targetFiles {
		path := filepath.Join(baseDir, name)
		raw, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("read %s failed: %v", name, err)
		}
		content := string(raw)
		for _, pattern := range forbidden {
			if strings.Contains(content, pattern) {
				t.Fatalf("%s should not contain %q", name, pattern)
			}
		}
	}
}
