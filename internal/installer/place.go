package installer

import (
	"context"
	"io"
	"path"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/ocmod-labs/ocmodctl/internal/apperr"
	"github.com/ocmod-labs/ocmodctl/internal/layout"
	"github.com/ocmod-labs/ocmodctl/internal/registry"
)

// Enumerate lists every entry under root breadth first, each directory's
// entries in name order. Hidden entries are included.
func Enumerate(fs afero.Fs, root string) ([]layout.PathEntry, error) {
	var entries []layout.PathEntry
	queue := []string{""}
	for len(queue) > 0 {
		rel := queue[0]
		queue = queue[1:]

		infos, err := afero.ReadDir(fs, filepath.Join(root, filepath.FromSlash(rel)))
		if err != nil {
			return nil, apperr.Wrap(apperr.IO, err, "listing %s", rel)
		}
		for _, info := range infos {
			child := path.Join(rel, info.Name())
			if info.IsDir() {
				queue = append(queue, child)
			}
			entries = append(entries, layout.PathEntry{Rel: child, Dir: info.IsDir()})
		}
	}
	return entries, nil
}

// Place moves the payload of stagingDir into the roots. Every entry is
// checked against the allowlist before anything is written. Directories are
// created one level at a time, as the archive lists them; a directory that
// cannot be created is skipped. An existing file is a conflict unless
// overwrite is set, in which case it is moved aside so Rollback can restore
// it. Every path written is appended to record and to the registry.
func (i *Installer) Place(ctx context.Context, stagingDir string, record *registry.InstalledRecord, overwrite bool) error {
	i.log.Infof("Moving files...")

	payload := filepath.Join(stagingDir, PayloadDir)
	if ok, _ := afero.DirExists(i.fs, payload); !ok {
		i.log.Infof("upload/ directory not found, skipping file placement")
		return nil
	}

	entries, err := Enumerate(i.fs, payload)
	if err != nil {
		return err
	}
	if err := i.allow.ValidateAll(entries); err != nil {
		return err
	}

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		dest, ok := i.roots.Resolve(e.Rel)
		if !ok {
			continue
		}

		if e.Dir {
			if exists, _ := afero.DirExists(i.fs, dest); exists {
				continue
			}
			if err := i.fs.Mkdir(dest, 0755); err != nil {
				i.log.Detailf("Could not create directory %s: %v", dest, err)
				continue
			}
			if err := i.record(ctx, record, registry.PathRecord{Path: e.Rel, Dir: true}); err != nil {
				return err
			}
			i.log.Detailf("Created directory: %s", dest)
			continue
		}

		if isFile(i.fs, dest) {
			if !overwrite {
				i.log.Detailf("File already exists: %s", dest)
				return apperr.New(apperr.Conflict, "file already exists (use --overwrite to replace it): %s", dest)
			}
			if err := i.backupFile(stagingDir, e.Rel, dest); err != nil {
				return err
			}
		}

		if err := i.ensureParent(ctx, record, dest); err != nil {
			return err
		}
		src := filepath.Join(payload, filepath.FromSlash(e.Rel))
		if err := moveFile(i.fs, src, dest); err != nil {
			return apperr.Wrap(apperr.IO, err, "could not move file %s", dest)
		}
		if err := i.record(ctx, record, registry.PathRecord{Path: e.Rel}); err != nil {
			return err
		}
		i.log.Detailf("Moved file: %s", dest)
	}

	i.log.Infof("Files moved successfully")
	return nil
}

func (i *Installer) record(ctx context.Context, record *registry.InstalledRecord, p registry.PathRecord) error {
	if err := i.deps.Extensions.AddPath(ctx, record.ID, p); err != nil {
		return apperr.Wrap(apperr.Internal, err, "recording path %s", p.Path)
	}
	record.Paths = append(record.Paths, p)
	return nil
}

// ensureParent creates the missing parents of dest and records the ones
// that lie under a category root.
func (i *Installer) ensureParent(ctx context.Context, record *registry.InstalledRecord, dest string) error {
	dir := filepath.Dir(dest)
	var missing []string
	for d := dir; ; d = filepath.Dir(d) {
		if exists, _ := afero.DirExists(i.fs, d); exists {
			break
		}
		missing = append(missing, d)
		if filepath.Dir(d) == d {
			break
		}
	}
	if len(missing) == 0 {
		return nil
	}
	if err := i.fs.MkdirAll(dir, 0755); err != nil {
		return apperr.Wrap(apperr.IO, err, "creating %s", dir)
	}
	for n := len(missing) - 1; n >= 0; n-- {
		if key, ok := i.roots.Key(missing[n]); ok {
			if err := i.record(ctx, record, registry.PathRecord{Path: key, Dir: true}); err != nil {
				return err
			}
		}
	}
	return nil
}

// backupFile moves an existing destination file into the staging area.
func (i *Installer) backupFile(stagingDir, rel, dest string) error {
	saved := filepath.Join(stagingDir, backupDir, filepath.FromSlash(rel))
	if err := i.fs.MkdirAll(filepath.Dir(saved), 0755); err != nil {
		return apperr.Wrap(apperr.IO, err, "creating backup directory")
	}
	if err := moveFile(i.fs, dest, saved); err != nil {
		return apperr.Wrap(apperr.IO, err, "backing up %s", dest)
	}
	i.backups = append(i.backups, backup{target: dest, saved: saved})
	i.log.Detailf("Backed up existing file: %s", dest)
	return nil
}

// moveFile renames src to dst, falling back to copy and remove when the
// rename crosses filesystems.
func moveFile(fs afero.Fs, src, dst string) error {
	if err := fs.Rename(src, dst); err == nil {
		return nil
	}
	if err := copyFile(fs, src, dst); err != nil {
		return err
	}
	return fs.Remove(src)
}

func copyFile(fs afero.Fs, src, dst string) error {
	in, err := fs.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := fs.OpenFile(dst, osCreateFlags, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
