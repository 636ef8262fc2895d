package admission

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

// writeProcEntry creates root/<pid>/cmdline with a NUL-separated argv.
func writeProcEntry(t *testing.T, root string, pid int, argv ...string) {
	t.Helper()
	dir := filepath.Join(root, strconv.Itoa(pid))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("Failed to create proc entry: %v", err)
	}
	var cmdline []byte
	for _, arg := range argv {
		cmdline = append(cmdline, arg...)
		cmdline = append(cmdline, 0)
	}
	if err := os.WriteFile(filepath.Join(dir, "cmdline"), cmdline, 0o644); err != nil {
		t.Fatalf("Failed to write cmdline: %v", err)
	}
}

func TestReapStaleSignalsMatches(t *testing.T) {
	t.Parallel()

	root, err := os.MkdirTemp("", "proc-test-")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(root)

	writeProcEntry(t, root, 100, "colabfold_batch", "--num-models", "5", "input.fasta", "out/")
	writeProcEntry(t, root, 200, "/opt/conda/colabfold-conda/bin/python")
	writeProcEntry(t, root, 300, "sshd:", "operator@pts/0")
	writeProcEntry(t, root, 400, "vim", "notes.txt")

	var signaled []int
	r := &ProcReclaimer{
		ProcRoot: root,
		Names:    []string{"colabfold_batch", "colabfold-conda"},
		Signal: func(pid int) error {
			signaled = append(signaled, pid)
			return nil
		},
	}

	reaped := r.ReapStale(context.Background())
	if reaped != 2 {
		t.Errorf("reaped = %d, want 2", reaped)
	}
	got := map[int]bool{}
	for _, pid := range signaled {
		got[pid] = true
	}
	if !got[100] || !got[200] {
		t.Errorf("expected pids 100 and 200 signaled, got %v", signaled)
	}
	if got[300] || got[400] {
		t.Errorf("unrelated processes signaled: %v", signaled)
	}
}

func TestReapStaleNeverSignalsSelfOrParent(t *testing.T) {
	t.Parallel()

	root, err := os.MkdirTemp("", "proc-test-")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(root)

	// Entries for this process and its parent that match the name filter.
	writeProcEntry(t, root, os.Getpid(), "colabfold_batch", "self")
	writeProcEntry(t, root, os.Getppid(), "colabfold_batch", "parent")
	writeProcEntry(t, root, 999, "colabfold_batch", "stale")

	var signaled []int
	r := &ProcReclaimer{
		ProcRoot: root,
		Names:    []string{"colabfold_batch"},
		Signal: func(pid int) error {
			signaled = append(signaled, pid)
			return nil
		},
	}

	reaped := r.ReapStale(context.Background())
	if reaped != 1 {
		t.Errorf("reaped = %d, want 1", reaped)
	}
	if len(signaled) != 1 || signaled[0] != 999 {
		t.Errorf("expected only pid 999 signaled, got %v", signaled)
	}
}

func TestReapStaleMissingProcRootIsNoop(t *testing.T) {
	t.Parallel()

	r := &ProcReclaimer{
		ProcRoot: "/nonexistent/proc",
		Names:    []string{"colabfold_batch"},
		Signal: func(pid int) error {
			t.Errorf("unexpected signal to %d", pid)
			return nil
		},
	}

	if reaped := r.ReapStale(context.Background()); reaped != 0 {
		t.Errorf("reaped = %d, want 0", reaped)
	}
}

func TestReapStaleIgnoresNonNumericEntries(t *testing.T) {
	t.Parallel()

	root, err := os.MkdirTemp("", "proc-test-")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(root)

	if err := os.MkdirAll(filepath.Join(root, "sys"), 0o755); err != nil {
		t.Fatalf("Failed to create entry: %v", err)
	}
	writeProcEntry(t, root, 500, "colabfold_batch")

	var signaled []int
	r := &ProcReclaimer{
		ProcRoot: root,
		Names:    []string{"colabfold_batch"},
		Signal: func(pid int) error {
			signaled = append(signaled, pid)
			return nil
		},
	}

	if reaped := r.ReapStale(context.Background()); reaped != 1 {
		t.Errorf("reaped = %d, want 1", reaped)
	}
	if len(signaled) != 1 || signaled[0] != 500 {
		t.Errorf("expected only pid 500, got %v", signaled)
	}
}

func TestReapStaleCountsOnlySuccessfulSignals(t *testing.T) {
	t.Parallel()

	root, err := os.MkdirTemp("", "proc-test-")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(root)

	writeProcEntry(t, root, 600, "colabfold_batch", "a")
	writeProcEntry(t, root, 700, "colabfold_batch", "b")

	r := &ProcReclaimer{
		ProcRoot: root,
		Names:    []string{"colabfold_batch"},
		Signal: func(pid int) error {
			if pid == 600 {
				return os.ErrPermission
			}
			return nil
		},
	}

	if reaped := r.ReapStale(context.Background()); reaped != 1 {
		t.Errorf("reaped = %d, want 1", reaped)
	}
}
