package patch

import (
	"context"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/afero"

	"github.com/ocmod-labs/ocmodctl/internal/apperr"
	"github.com/ocmod-labs/ocmodctl/internal/layout"
	"github.com/ocmod-labs/ocmodctl/internal/logging"
	"github.com/ocmod-labs/ocmodctl/internal/metrics"
)

// overlayIndex survives a full rebuild of the overlay root.
const overlayIndex = "index.html"

// Engine runs patch documents against the category roots and flushes the
// patched buffers under Roots.Modification.
type Engine struct {
	fs      afero.Fs
	roots   layout.Roots
	log     *logging.ExecLog
	metrics metrics.Metrics
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithMetrics reports flushed overlay files to m.
func WithMetrics(m metrics.Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine creates an Engine.
func NewEngine(fs afero.Fs, roots layout.Roots, log *logging.ExecLog, opts ...EngineOption) *Engine {
	e := &Engine{fs: fs, roots: roots, log: log, metrics: metrics.Noop{}}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Report summarizes a patch run.
type Report struct {
	Documents int
	// Files are the overlay keys written, in first-touch order.
	Files []string
}

// Apply runs every document admitted by scope, in order. Each source file is
// read once per run and all operations targeting it accumulate in one
// buffer, which is written to the overlay root at the end.
func (e *Engine) Apply(ctx context.Context, docs []Document, scope Scope) (*Report, error) {
	if e.roots.Modification == "" {
		return nil, apperr.New(apperr.Configuration, "overlay root is not configured")
	}
	if scope.Mode == ScopeAll {
		if err := e.clearOverlay(); err != nil {
			return nil, err
		}
	}

	report := &Report{}
	buffers := map[string]string{}
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !scope.Includes(doc) {
			continue
		}
		report.Documents++
		if doc.Name != "" {
			e.log.Detailf("Applying modification: %s", doc.Name)
		}

		for _, target := range doc.Files {
			for _, expr := range target.Paths {
				files, err := Resolve(e.fs, e.roots, expr)
				if err != nil {
					e.log.Detailf("Skipping path %s: %v", expr, err)
					continue
				}
				for _, f := range files {
					content, seeded := buffers[f.Key]
					if !seeded {
						data, err := afero.ReadFile(e.fs, f.Abs)
						if err != nil {
							return nil, apperr.Wrap(apperr.IO, err, "reading %s", f.Abs)
						}
						content = string(data)
						report.Files = append(report.Files, f.Key)
					}
					buffers[f.Key] = ApplyAll(content, target.Operations)
				}
			}
		}
	}

	var undo []overlayUndo
	for _, key := range report.Files {
		u, err := e.flush(key, buffers[key])
		if err != nil {
			e.restore(undo)
			return nil, err
		}
		undo = append(undo, u)
	}
	e.metrics.AddOverlayFiles(len(report.Files))
	e.log.Infof("Modifications applied: %d documents, %d files", report.Documents, len(report.Files))
	return report, nil
}

// overlayUndo is what a flushed overlay file held before the flush.
type overlayUndo struct {
	dest    string
	prev    []byte
	existed bool
}

func (e *Engine) flush(key, content string) (overlayUndo, error) {
	dest := filepath.Join(e.roots.Modification, filepath.FromSlash(key))
	u := overlayUndo{dest: dest}
	if prev, err := afero.ReadFile(e.fs, dest); err == nil {
		u.prev, u.existed = prev, true
	}
	if err := e.fs.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return u, apperr.Wrap(apperr.IO, err, "creating %s", filepath.Dir(dest))
	}
	if err := afero.WriteFile(e.fs, dest, []byte(content), 0644); err != nil {
		return u, apperr.Wrap(apperr.IO, err, "writing %s", dest)
	}
	e.log.Detailf("Created modified file: %s", dest)
	return u, nil
}

// restore puts flushed overlay files back the way they were, newest first.
func (e *Engine) restore(undo []overlayUndo) {
	for n := len(undo) - 1; n >= 0; n-- {
		u := undo[n]
		var err error
		if u.existed {
			err = afero.WriteFile(e.fs, u.dest, u.prev, 0644)
		} else {
			err = e.fs.Remove(u.dest)
		}
		if err != nil {
			e.log.Infof("Could not restore overlay file %s: %v", u.dest, err)
			continue
		}
		e.log.Detailf("Restored overlay file: %s", u.dest)
	}
}

// clearOverlay empties the overlay root, keeping index.html.
func (e *Engine) clearOverlay() error {
	entries, err := afero.ReadDir(e.fs, e.roots.Modification)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return apperr.Wrap(apperr.IO, err, "listing %s", e.roots.Modification)
	}
	for _, entry := range entries {
		if entry.Name() == overlayIndex {
			continue
		}
		p := filepath.Join(e.roots.Modification, entry.Name())
		if err := e.fs.RemoveAll(p); err != nil {
			return apperr.Wrap(apperr.IO, err, "removing %s", p)
		}
	}
	e.log.Detailf("Cleared overlay root %s", e.roots.Modification)
	return nil
}

// OverlayFiles lists every file currently in the overlay root as overlay
// keys, sorted.
func (e *Engine) OverlayFiles() ([]string, error) {
	var keys []string
	if ok, _ := afero.DirExists(e.fs, e.roots.Modification); !ok {
		return keys, nil
	}
	err := afero.Walk(e.fs, e.roots.Modification, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(e.roots.Modification, p)
		if err != nil || rel == overlayIndex {
			return nil
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.IO, err, "walking %s", e.roots.Modification)
	}
	sort.Strings(keys)
	return keys, nil
}
