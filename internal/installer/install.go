package installer

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"github.com/ocmod-labs/ocmodctl/internal/apperr"
	"github.com/ocmod-labs/ocmodctl/internal/manifest"
	"github.com/ocmod-labs/ocmodctl/internal/patch"
	"github.com/ocmod-labs/ocmodctl/internal/registry"
)

// Request is one installation.
type Request struct {
	ArchivePath string
	// Filename is recorded with the installation; defaults to the base name
	// of ArchivePath.
	Filename  string
	Overwrite bool
}

// Result describes a finished installation.
type Result struct {
	Record   *registry.InstalledRecord
	Manifest *manifest.Manifest
	// InstalledFiles are the package-relative files placed, in order.
	InstalledFiles []string
	// Overlay are the overlay keys written by the patch run.
	Overlay []string
}

// Install runs the whole pipeline: validate roots, extract, place, register
// the manifest, apply patches and purge caches. Any failure after the
// installation record exists rolls everything back before returning; the
// Result then lists the files that had been placed before the failure.
func (i *Installer) Install(ctx context.Context, req Request) (res *Result, err error) {
	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = apperr.KindOf(err).String()
		}
		i.metrics.ObserveInstall(i.source, status, time.Since(start).Seconds())
	}()

	i.log.Infof("Starting module installation from: %s", req.ArchivePath)

	if err := i.roots.Validate(i.fs); err != nil {
		return nil, err
	}

	staging, err := i.Extract(req.ArchivePath)
	if err != nil {
		return nil, err
	}
	defer i.Cleanup(staging)

	filename := req.Filename
	if filename == "" {
		filename = filepath.Base(req.ArchivePath)
	}
	id, err := i.deps.Extensions.AddInstall(ctx, filename)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "creating install record")
	}
	record := &registry.InstalledRecord{ID: id, Filename: filename, CreatedAt: start}
	i.log.Infof("Created extension_install_id: %d", id)

	res = &Result{Record: record}
	if err := i.run(ctx, staging, req.Overwrite, res); err != nil {
		res.InstalledFiles = placedFiles(record)
		if rbErr := i.Rollback(context.WithoutCancel(ctx), record); rbErr != nil {
			i.log.Infof("Rollback incomplete: %v", rbErr)
		}
		return res, err
	}

	res.InstalledFiles = placedFiles(record)
	i.PurgeCache()
	i.log.Infof("Module installation completed successfully!")
	return res, nil
}

func placedFiles(record *registry.InstalledRecord) []string {
	var files []string
	for _, p := range record.Paths {
		if !p.Dir {
			files = append(files, p.Path)
		}
	}
	return files
}

func (i *Installer) run(ctx context.Context, staging string, overwrite bool, res *Result) error {
	if err := i.Place(ctx, staging, res.Record, overwrite); err != nil {
		return err
	}

	proc := manifest.NewProcessor(i.fs, i.deps.Extensions, i.deps.Modifications, i.deps.Settings, i.log)
	m, err := proc.Process(ctx, staging, res.Record.ID)
	if err != nil {
		return err
	}
	res.Manifest = m

	overlay, err := i.applyPatches(ctx, m, res.Record.ID)
	if err != nil {
		return err
	}
	res.Overlay = overlay
	return nil
}

func (i *Installer) applyPatches(ctx context.Context, m *manifest.Manifest, installID int64) ([]string, error) {
	engine := patch.NewEngine(i.fs, i.roots, i.log, patch.WithMetrics(i.metrics))
	scope := patch.Scope{Mode: i.scope, InstallID: installID}

	var docs []patch.Document
	if i.scope == patch.ScopeAll {
		all, err := patch.NewLoader(i.fs, i.roots, i.deps.Modifications, i.log).All(ctx)
		if err != nil {
			return nil, err
		}
		docs = all
	} else if m != nil && m.Document != nil {
		docs = []patch.Document{*m.Document}
	}

	if len(docs) == 0 && i.scope != patch.ScopeAll {
		i.log.Detailf("No modifications to apply")
		return nil, nil
	}
	i.log.Infof("Applying OCMOD modifications (scope: %s)...", i.scope)
	report, err := engine.Apply(ctx, docs, scope)
	if err != nil {
		return nil, err
	}
	return report.Files, nil
}

// Uninstall removes what an installation placed: its files, the directories
// it created when they are empty, its modifications and its record. The
// overlay is then rebuilt from the remaining modifications.
func (i *Installer) Uninstall(ctx context.Context, installID int64) (*registry.InstalledRecord, error) {
	record, err := i.deps.Extensions.GetInstall(ctx, installID)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return nil, apperr.New(apperr.Validation, "installation %d not found", installID)
		}
		return nil, apperr.Wrap(apperr.Internal, err, "loading installation %d", installID)
	}
	i.log.Infof("Uninstalling %s (extension_install_id: %d)", record.Filename, installID)

	for _, p := range record.Paths {
		if p.Dir {
			continue
		}
		abs, ok := i.roots.Resolve(p.Path)
		if !ok || !isFile(i.fs, abs) {
			continue
		}
		if err := i.fs.Remove(abs); err != nil {
			return nil, apperr.Wrap(apperr.IO, err, "removing %s", abs)
		}
		i.log.Detailf("Removed file: %s", abs)
	}
	for n := len(record.Paths) - 1; n >= 0; n-- {
		p := record.Paths[n]
		if !p.Dir {
			continue
		}
		abs, ok := i.roots.Resolve(p.Path)
		if !ok {
			continue
		}
		if empty, err := afero.IsEmpty(i.fs, abs); err != nil || !empty {
			continue
		}
		if err := i.fs.Remove(abs); err == nil {
			i.log.Detailf("Removed directory: %s", abs)
		}
	}

	if err := i.deps.Modifications.DeleteModificationsByInstall(ctx, installID); err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "deleting modifications")
	}
	if err := i.deps.Extensions.DeleteInstall(ctx, installID); err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "deleting install record")
	}

	if _, err := i.Refresh(ctx); err != nil {
		return nil, err
	}
	i.PurgeCache()
	i.log.Infof("Uninstall completed")
	return record, nil
}

// Refresh rebuilds the whole overlay from the baseline documents and every
// active modification.
func (i *Installer) Refresh(ctx context.Context) (*patch.Report, error) {
	docs, err := patch.NewLoader(i.fs, i.roots, i.deps.Modifications, i.log).All(ctx)
	if err != nil {
		return nil, err
	}
	engine := patch.NewEngine(i.fs, i.roots, i.log, patch.WithMetrics(i.metrics))
	return engine.Apply(ctx, docs, patch.Scope{Mode: patch.ScopeAll})
}
