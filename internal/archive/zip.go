// Package archive extracts and builds the zip archives packages travel in.
// All filesystem access goes through afero so callers and tests choose the
// backing filesystem.
package archive

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/ocmod-labs/ocmodctl/internal/apperr"
)

const (
	dirPerm  os.FileMode = 0755
	filePerm os.FileMode = 0644
)

// Extract unpacks the zip at archivePath into destDir, which is created if
// missing. Entries escaping destDir are rejected.
func Extract(fs afero.Fs, archivePath, destDir string) error {
	f, err := fs.Open(archivePath)
	if err != nil {
		return apperr.Wrap(apperr.IO, err, "opening zip archive %s", archivePath)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return apperr.Wrap(apperr.IO, err, "stat zip archive %s", archivePath)
	}

	r, err := zip.NewReader(f, info.Size())
	if err != nil {
		return apperr.Wrap(apperr.IO, err, "reading zip archive %s", archivePath)
	}

	if err := fs.MkdirAll(destDir, dirPerm); err != nil {
		return apperr.Wrap(apperr.IO, err, "creating %s", destDir)
	}

	for _, zf := range r.File {
		if err := extractEntry(fs, zf, destDir); err != nil {
			return err
		}
	}
	return nil
}

func extractEntry(fs afero.Fs, zf *zip.File, destDir string) error {
	name := strings.ReplaceAll(zf.Name, "\\", "/")
	for _, seg := range strings.Split(name, "/") {
		if seg == ".." {
			return apperr.New(apperr.Validation, "zip entry escapes extraction root: %s", zf.Name)
		}
	}
	clean := path.Clean("/" + name)
	if clean == "/" {
		return nil
	}
	target := filepath.Join(destDir, filepath.FromSlash(clean))

	if zf.FileInfo().IsDir() || strings.HasSuffix(name, "/") {
		if err := fs.MkdirAll(target, dirPerm); err != nil {
			return apperr.Wrap(apperr.IO, err, "creating %s", target)
		}
		return nil
	}

	if err := fs.MkdirAll(filepath.Dir(target), dirPerm); err != nil {
		return apperr.Wrap(apperr.IO, err, "creating %s", filepath.Dir(target))
	}

	rc, err := zf.Open()
	if err != nil {
		return apperr.Wrap(apperr.IO, err, "opening zip entry %s", zf.Name)
	}
	defer rc.Close()

	out, err := fs.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, filePerm)
	if err != nil {
		return apperr.Wrap(apperr.IO, err, "creating %s", target)
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return apperr.Wrap(apperr.IO, err, "extracting %s", zf.Name)
	}
	if err := out.Close(); err != nil {
		return apperr.Wrap(apperr.IO, err, "closing %s", target)
	}
	return nil
}

// Create writes every regular file under srcDir into a new zip at destPath,
// with entry names relative to srcDir. It returns the number of files added.
func Create(fs afero.Fs, srcDir, destPath string) (int, error) {
	var files []string
	err := afero.Walk(fs, srcDir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.Mode().IsRegular() {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return 0, apperr.Wrap(apperr.IO, err, "walking %s", srcDir)
	}
	sort.Strings(files)

	if err := fs.MkdirAll(filepath.Dir(destPath), dirPerm); err != nil {
		return 0, apperr.Wrap(apperr.IO, err, "creating %s", filepath.Dir(destPath))
	}
	out, err := fs.Create(destPath)
	if err != nil {
		return 0, apperr.Wrap(apperr.IO, err, "creating zip archive %s", destPath)
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	for _, p := range files {
		rel, err := filepath.Rel(srcDir, p)
		if err != nil {
			return 0, fmt.Errorf("relative path of %s: %w", p, err)
		}
		if err := addFile(fs, zw, p, filepath.ToSlash(rel)); err != nil {
			return 0, err
		}
	}
	if err := zw.Close(); err != nil {
		return 0, apperr.Wrap(apperr.IO, err, "finalizing zip archive %s", destPath)
	}
	return len(files), nil
}

func addFile(fs afero.Fs, zw *zip.Writer, src, name string) error {
	in, err := fs.Open(src)
	if err != nil {
		return apperr.Wrap(apperr.IO, err, "opening %s", src)
	}
	defer in.Close()

	w, err := zw.Create(name)
	if err != nil {
		return apperr.Wrap(apperr.IO, err, "adding %s to zip", name)
	}
	if _, err := io.Copy(w, in); err != nil {
		return apperr.Wrap(apperr.IO, err, "writing %s to zip", name)
	}
	return nil
}

// FindFiles returns every regular file under root whose extension matches
// ext (case-insensitive, with the dot), sorted lexically.
func FindFiles(fs afero.Fs, root, ext string) ([]string, error) {
	var found []string
	err := afero.Walk(fs, root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.Mode().IsRegular() && strings.EqualFold(filepath.Ext(p), ext) {
			found = append(found, p)
		}
		return nil
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.IO, err, "walking %s", root)
	}
	sort.Strings(found)
	return found, nil
}
