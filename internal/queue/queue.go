// Package queue implements the watch-mode folder queue. It polls a
// directory for FASTA files, hands them to the pipeline one per pass,
// and retires finished inputs so they are never picked up again.
package queue

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Queue tracks which FASTA files in a directory still need a run. The
// processed set lives for the watch session only; after a restart a
// file is picked up again unless its archive move or done marker is
// still in place.
type Queue struct {
	dir     string
	archive bool
	logger  *slog.Logger

	processed map[string]struct{}
}

// New creates a queue over dir. When archive is true a retired file
// moves to an archive/ subdirectory; otherwise it stays put and gets a
// sibling .done marker.
func New(dir string, archive bool, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		dir:       dir,
		archive:   archive,
		logger:    logger.With("component", "queue"),
		processed: make(map[string]struct{}),
	}
}

// Dir returns the watched directory.
func (q *Queue) Dir() string { return q.dir }

// NextBatch returns the unprocessed FASTA files in lexical order, as
// full paths. A missing directory is an empty queue, not an error.
func (q *Queue) NextBatch() []string {
	entries, err := os.ReadDir(q.dir)
	if err != nil {
		if !os.IsNotExist(err) {
			q.logger.Warn("Cannot scan watch directory", "dir", q.dir, "error", err)
		}
		return nil
	}

	var batch []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || filepath.Ext(name) != ".fasta" {
			continue
		}
		if _, done := q.processed[name]; done {
			continue
		}
		if q.hasDoneMarker(name) {
			continue
		}
		batch = append(batch, filepath.Join(q.dir, name))
	}
	return batch
}

// MarkProcessed records that name finished successfully for the rest
// of the session.
func (q *Queue) MarkProcessed(name string) {
	q.processed[name] = struct{}{}
}

// Retire moves a processed file into archive/ or writes its done
// marker, per configuration. The bool reports whether the file moved.
func (q *Queue) Retire(path string) (archived bool, err error) {
	if q.archive {
		dir := filepath.Join(q.dir, "archive")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return false, err
		}
		if err := os.Rename(path, filepath.Join(dir, filepath.Base(path))); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, os.WriteFile(q.markerPath(filepath.Base(path)), nil, 0o644)
}

func (q *Queue) hasDoneMarker(name string) bool {
	_, err := os.Stat(q.markerPath(name))
	return err == nil
}

func (q *Queue) markerPath(name string) string {
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	return filepath.Join(q.dir, stem+".done")
}
