package logfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTestFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.log")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}
	return path
}

func TestReadLastLines(t *testing.T) {
	path := writeTestFile(t, "alpha\nbeta\ngamma\n")

	lines, err := ReadLastLines(path, 2)
	if err != nil {
		t.Fatalf("ReadLastLines failed: %v", err)
	}
	if len(lines) != 2 {
		t.Fatalf("Expected 2 lines, got %d", len(lines))
	}
	if lines[0] != "beta" || lines[1] != "gamma" {
		t.Errorf("Expected [beta gamma], got %v", lines)
	}
}

func TestReadLastLines_MoreThanAvailable(t *testing.T) {
	path := writeTestFile(t, "alpha\nbeta\n")

	lines, err := ReadLastLines(path, 10)
	if err != nil {
		t.Fatalf("ReadLastLines failed: %v", err)
	}
	if len(lines) != 2 {
		t.Fatalf("Expected 2 lines, got %d", len(lines))
	}
	if lines[0] != "alpha" || lines[1] != "beta" {
		t.Errorf("Expected [alpha beta], got %v", lines)
	}
}

func TestReadLastLines_NoTrailingNewline(t *testing.T) {
	path := writeTestFile(t, "alpha\nbeta\ngamma")

	lines, err := ReadLastLines(path, 2)
	if err != nil {
		t.Fatalf("ReadLastLines failed: %v", err)
	}
	if len(lines) != 2 {
		t.Fatalf("Expected 2 lines, got %d", len(lines))
	}
	if lines[0] != "beta" || lines[1] != "gamma" {
		t.Errorf("Expected [beta gamma], got %v", lines)
	}
}

func TestReadLastLines_EmptyFile(t *testing.T) {
	path := writeTestFile(t, "")

	lines, err := ReadLastLines(path, 5)
	if err != nil {
		t.Fatalf("ReadLastLines failed: %v", err)
	}
	if len(lines) != 0 {
		t.Errorf("Expected no lines from empty file, got %v", lines)
	}
}

func TestReadLastLines_MissingFile(t *testing.T) {
	lines, err := ReadLastLines(filepath.Join(t.TempDir(), "missing.log"), 5)
	if err != nil {
		t.Errorf("Expected no error for missing file, got %v", err)
	}
	if lines != nil {
		t.Errorf("Expected nil lines for missing file, got %v", lines)
	}
}

func TestReadLastLines_ZeroCount(t *testing.T) {
	path := writeTestFile(t, "alpha\n")

	lines, err := ReadLastLines(path, 0)
	if err != nil {
		t.Fatalf("ReadLastLines failed: %v", err)
	}
	if lines != nil {
		t.Errorf("Expected nil lines for zero count, got %v", lines)
	}
}

func TestReadLastLines_CrossesChunkBoundary(t *testing.T) {
	var sb strings.Builder
	total := 5000
	for i := 1; i <= total; i++ {
		fmt.Fprintf(&sb, "line-%04d with some padding to grow the file\n", i)
	}
	path := writeTestFile(t, sb.String())

	lines, err := ReadLastLines(path, 3)
	if err != nil {
		t.Fatalf("ReadLastLines failed: %v", err)
	}
	if len(lines) != 3 {
		t.Fatalf("Expected 3 lines, got %d", len(lines))
	}
	for i, want := range []int{total - 2, total - 1, total} {
		prefix := fmt.Sprintf("line-%04d", want)
		if !strings.HasPrefix(lines[i], prefix) {
			t.Errorf("Expected line %d to start with %q, got %q", i, prefix, lines[i])
		}
	}
}

func TestReadLastLines_SingleLongLine(t *testing.T) {
	content := strings.Repeat("x", 3*readChunkSize)
	path := writeTestFile(t, content+"\n")

	lines, err := ReadLastLines(path, 1)
	if err != nil {
		t.Fatalf("ReadLastLines failed: %v", err)
	}
	if len(lines) != 1 {
		t.Fatalf("Expected 1 line, got %d", len(lines))
	}
	if lines[0] != content {
		t.Errorf("Long line not returned intact (len %d vs %d)", len(lines[0]), len(content))
	}
}
