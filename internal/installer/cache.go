package installer

import (
	"path/filepath"

	"github.com/spf13/afero"
)

// cacheDirs are the cache subdirectories purged after an install.
var cacheDirs = []string{"template", "catalog", "admin"}

// PurgeCache empties the template, catalog and admin caches. Files directly
// inside are removed; subdirectories lose their own files and are removed
// when that leaves them empty. Failures are logged and ignored.
func (i *Installer) PurgeCache() {
	if i.roots.Cache == "" {
		return
	}
	i.log.Infof("Clearing cache...")

	for _, name := range cacheDirs {
		dir := filepath.Join(i.roots.Cache, name)
		entries, err := afero.ReadDir(i.fs, dir)
		if err != nil {
			continue
		}
		deleted := 0
		for _, e := range entries {
			p := filepath.Join(dir, e.Name())
			if e.IsDir() {
				clearShallow(i.fs, p)
			}
			if err := i.fs.Remove(p); err == nil {
				deleted++
			} else if e.IsDir() {
				i.log.Detailf("Could not remove cache directory %s: %v", p, err)
			}
		}
		if deleted > 0 {
			i.log.Detailf("Cleared cache %s (entries removed: %d)", dir, deleted)
		}
	}
	i.log.Infof("Cache cleared")
}

func clearShallow(fs afero.Fs, dir string) {
	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if !e.IsDir() {
			fs.Remove(filepath.Join(dir, e.Name()))
		}
	}
}
