package installer

import (
	"context"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/ocmod-labs/ocmodctl/internal/apperr"
	"github.com/ocmod-labs/ocmodctl/internal/archive"
	"github.com/ocmod-labs/ocmodctl/internal/layout"
	"github.com/ocmod-labs/ocmodctl/internal/logging"
	"github.com/ocmod-labs/ocmodctl/internal/metrics"
	"github.com/ocmod-labs/ocmodctl/internal/patch"
	"github.com/ocmod-labs/ocmodctl/internal/registry"
)

// PayloadDir is the top-level archive folder mirrored into the roots.
const PayloadDir = "upload"

const (
	stagingPrefix = "tmp-install_"
	backupDir     = ".ocmodctl-backup"
)

// Deps are the registries an Installer writes to.
type Deps struct {
	Extensions    registry.ExtensionRegistry
	Modifications registry.ModificationRegistry
	Settings      registry.SettingsStore
}

// Installer performs one installation. It keeps the backups of files it
// overwrote so Rollback can restore them; use a fresh Installer per run.
type Installer struct {
	fs      afero.Fs
	roots   layout.Roots
	allow   *layout.Allowlist
	deps    Deps
	log     *logging.ExecLog
	metrics metrics.Metrics
	scope   patch.ScopeMode
	source  string

	backups []backup
}

type backup struct {
	target string
	saved  string
}

// Option configures an Installer.
type Option func(*Installer)

// WithAllowlist replaces the default allowlist.
func WithAllowlist(a *layout.Allowlist) Option {
	return func(i *Installer) { i.allow = a }
}

// WithMetrics reports installs and overlay writes to m.
func WithMetrics(m metrics.Metrics) Option {
	return func(i *Installer) { i.metrics = m }
}

// WithScope selects which patch documents an install runs.
func WithScope(mode patch.ScopeMode) Option {
	return func(i *Installer) { i.scope = mode }
}

// WithSource labels install metrics ("cli", "http", "deploy").
func WithSource(source string) Option {
	return func(i *Installer) { i.source = source }
}

// New creates an Installer.
func New(fs afero.Fs, roots layout.Roots, deps Deps, log *logging.ExecLog, opts ...Option) *Installer {
	i := &Installer{
		fs:      fs,
		roots:   roots,
		allow:   layout.NewAllowlist(nil),
		deps:    deps,
		log:     log,
		metrics: metrics.Noop{},
		scope:   patch.ScopeInstallation,
		source:  "cli",
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Extract unpacks the archive into a fresh staging directory under the
// upload root (or the OS temp dir when none is configured).
func (i *Installer) Extract(archivePath string) (string, error) {
	i.log.Infof("Extracting zip archive...")

	base := i.roots.Upload
	if base == "" {
		base = os.TempDir()
	}
	staging := filepath.Join(base, stagingPrefix+uuid.NewString())
	if err := archive.Extract(i.fs, archivePath, staging); err != nil {
		i.Cleanup(staging)
		return "", err
	}
	i.log.Infof("Archive extracted to: %s", staging)
	return staging, nil
}

// Cleanup deletes the staging directory, deepest entries first. Hidden
// entries are included.
func (i *Installer) Cleanup(stagingDir string) {
	if stagingDir == "" {
		return
	}
	ok, _ := afero.DirExists(i.fs, stagingDir)
	if !ok {
		return
	}
	i.log.Infof("Cleaning up temporary files...")

	var all []string
	queue := []string{stagingDir}
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		entries, err := afero.ReadDir(i.fs, next)
		if err != nil {
			continue
		}
		for _, e := range entries {
			p := filepath.Join(next, e.Name())
			if e.IsDir() {
				queue = append(queue, p)
			}
			all = append(all, p)
		}
	}

	// Reverse lexical order puts every entry before its parent.
	sort.Sort(sort.Reverse(sort.StringSlice(all)))
	for _, p := range all {
		i.fs.Remove(p)
	}
	if err := i.fs.Remove(stagingDir); err != nil {
		i.log.Detailf("Could not remove %s: %v", stagingDir, err)
		return
	}
	i.log.Infof("Temporary files removed")
}

// Rollback undoes a partial or complete installation: it removes the files
// it recorded, restores overwritten files, removes the directories it
// recorded (newest first) and deletes the installation's modifications and
// record.
func (i *Installer) Rollback(ctx context.Context, record *registry.InstalledRecord) error {
	i.log.Infof("Rolling back changes...")

	for _, p := range record.Paths {
		if p.Dir {
			continue
		}
		abs, ok := i.roots.Resolve(p.Path)
		if !ok {
			continue
		}
		if isFile(i.fs, abs) {
			if err := i.fs.Remove(abs); err != nil {
				i.log.Detailf("Could not remove %s: %v", abs, err)
			}
		}
	}

	for n := len(i.backups) - 1; n >= 0; n-- {
		b := i.backups[n]
		if err := i.fs.Rename(b.saved, b.target); err != nil {
			i.log.Infof("Could not restore %s: %v", b.target, err)
			continue
		}
		i.log.Detailf("Restored file: %s", b.target)
	}
	i.backups = nil

	for n := len(record.Paths) - 1; n >= 0; n-- {
		p := record.Paths[n]
		if !p.Dir {
			continue
		}
		abs, ok := i.roots.Resolve(p.Path)
		if !ok {
			continue
		}
		if exists, _ := afero.DirExists(i.fs, abs); exists {
			if err := i.fs.RemoveAll(abs); err != nil {
				i.log.Detailf("Could not remove %s: %v", abs, err)
			}
		}
	}

	var firstErr error
	if record.ID != 0 {
		if err := i.deps.Modifications.DeleteModificationsByInstall(ctx, record.ID); err != nil {
			firstErr = apperr.Wrap(apperr.Internal, err, "deleting modifications of install %d", record.ID)
		}
		if err := i.deps.Extensions.DeleteInstall(ctx, record.ID); err != nil && firstErr == nil {
			firstErr = apperr.Wrap(apperr.Internal, err, "deleting install %d", record.ID)
		}
	}
	i.log.Infof("Rollback finished")
	return firstErr
}

func isFile(fs afero.Fs, p string) bool {
	info, err := fs.Stat(p)
	return err == nil && info.Mode().IsRegular()
}

const osCreateFlags = os.O_CREATE | os.O_WRONLY | os.O_TRUNC
