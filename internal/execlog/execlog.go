// Package execlog renders one append-only, human-auditable transcript per
// execution. The file layout and section order are a stable contract:
// tooling parses these logs later.
package execlog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

const timestampLayout = "20060102_150405"

// Entry is everything one transcript records.
type Entry struct {
	Name         string // logical scaffold/program name, keys the directory
	Executor     string // LLM provider/model, or "n/a" for pure code execution
	Input        string
	Stdout       string
	Stderr       string
	ErrorMessage string // empty on success
}

// Writer persists transcripts under a base directory.
type Writer struct {
	Dir string
}

// NewWriter creates a writer rooted at dir.
func NewWriter(dir string) *Writer {
	return &Writer{Dir: dir}
}

// Write renders the entry and persists it to a uniquely named file,
// returning the path. Concurrent executions under the same name never
// interleave: each gets its own timestamp+suffix file, written once.
func (w *Writer) Write(e Entry) (string, error) {
	name := e.Name
	if name == "" {
		name = "unnamed"
	}
	dir := filepath.Join(w.Dir, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating log directory: %w", err)
	}

	filename := fmt.Sprintf("%s_%s.log", time.Now().Format(timestampLayout), uuid.New().String()[:8])
	path := filepath.Join(dir, filename)

	if err := os.WriteFile(path, []byte(Render(e, time.Now())), 0o644); err != nil {
		return "", fmt.Errorf("writing execution log: %w", err)
	}
	return path, nil
}

// Render produces the transcript text. Sections appear in fixed order:
// header, input, stderr (if any), stdout (if any).
func Render(e Entry, now time.Time) string {
	executor := e.Executor
	if executor == "" {
		executor = "n/a"
	}

	var b strings.Builder
	b.WriteString("=== Scaffold Execution Log ===\n")
	fmt.Fprintf(&b, "Scaffold: %s\n", e.Name)
	fmt.Fprintf(&b, "Executor: %s\n", executor)
	fmt.Fprintf(&b, "Timestamp: %s\n", now.Format(timestampLayout))
	if e.ErrorMessage != "" {
		fmt.Fprintf(&b, "Error: %s\n", e.ErrorMessage)
	}
	b.WriteString("================================\n\n")

	b.WriteString("=== INPUT ===\n")
	b.WriteString(e.Input)
	b.WriteString("\n\n")

	if e.Stderr != "" {
		b.WriteString("=== STDERR ===\n")
		b.WriteString(strings.TrimRight(e.Stderr, "\n"))
		b.WriteString("\n\n")
	}
	if e.Stdout != "" {
		b.WriteString("=== STDOUT ===\n")
		b.WriteString(strings.TrimRight(e.Stdout, "\n"))
		b.WriteString("\n\n")
	}
	return b.String()
}
