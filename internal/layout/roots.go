// Package layout maps package-relative paths ("admin/…", "catalog/…",
// "image/…", "system/…") onto the host application's destination roots and
// decides which of those paths a package may write.
package layout

import (
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/ocmod-labs/ocmodctl/internal/apperr"
)

// Category names, which are also the leading segment of package paths.
const (
	CategoryAdmin   = "admin"
	CategoryCatalog = "catalog"
	CategoryImage   = "image"
	CategorySystem  = "system"
)

// Categories in routing order.
var Categories = []string{CategoryAdmin, CategoryCatalog, CategoryImage, CategorySystem}

// Roots holds the absolute destination roots supplied by the host.
type Roots struct {
	Application  string `mapstructure:"application"`
	Catalog      string `mapstructure:"catalog"`
	Image        string `mapstructure:"image"`
	System       string `mapstructure:"system"`
	Modification string `mapstructure:"modification"`
	Upload       string `mapstructure:"upload"`
	Cache        string `mapstructure:"cache"`
}

// FromBase derives every root from a host installation directory.
func FromBase(base string) Roots {
	if base == "" {
		return Roots{}
	}
	storage := filepath.Join(base, "system", "storage")
	return Roots{
		Application:  filepath.Join(base, "admin"),
		Catalog:      filepath.Join(base, "catalog"),
		Image:        filepath.Join(base, "image"),
		System:       filepath.Join(base, "system"),
		Modification: filepath.Join(storage, "modification"),
		Upload:       filepath.Join(storage, "upload"),
		Cache:        filepath.Join(storage, "cache"),
	}
}

// Merge fills empty fields of r from fallback.
func (r Roots) Merge(fallback Roots) Roots {
	pick := func(a, b string) string {
		if a != "" {
			return a
		}
		return b
	}
	return Roots{
		Application:  pick(r.Application, fallback.Application),
		Catalog:      pick(r.Catalog, fallback.Catalog),
		Image:        pick(r.Image, fallback.Image),
		System:       pick(r.System, fallback.System),
		Modification: pick(r.Modification, fallback.Modification),
		Upload:       pick(r.Upload, fallback.Upload),
		Cache:        pick(r.Cache, fallback.Cache),
	}
}

// For returns the root of a category.
func (r Roots) For(category string) string {
	switch category {
	case CategoryAdmin:
		return r.Application
	case CategoryCatalog:
		return r.Catalog
	case CategoryImage:
		return r.Image
	case CategorySystem:
		return r.System
	}
	return ""
}

// Validate checks that the four category roots are set and exist as
// directories. It must pass before any write.
func (r Roots) Validate(fs afero.Fs) error {
	for _, c := range Categories {
		root := r.For(c)
		if root == "" {
			return apperr.New(apperr.Configuration, "destination root for %s is not configured", c)
		}
		ok, err := afero.DirExists(fs, root)
		if err != nil {
			return apperr.Wrap(apperr.Configuration, err, "checking %s root %s", c, root)
		}
		if !ok {
			return apperr.New(apperr.Configuration, "destination root for %s does not exist: %s", c, root)
		}
	}
	return nil
}

// Split returns the leading category segment of rel and the remainder.
func Split(rel string) (category, rest string) {
	rel = ToSlash(rel)
	category, rest, _ = strings.Cut(rel, "/")
	return category, rest
}

// Resolve maps a package-relative path onto its absolute destination.
// Paths outside the four categories do not resolve.
func (r Roots) Resolve(rel string) (string, bool) {
	category, rest := Split(rel)
	root := r.For(category)
	if root == "" {
		return "", false
	}
	if rest == "" {
		return filepath.Clean(root), true
	}
	return filepath.Join(root, filepath.FromSlash(rest)), true
}

// Key maps an absolute path under one of the category roots back to its
// package-relative form ("catalog/controller/…").
func (r Roots) Key(abs string) (string, bool) {
	abs = filepath.Clean(abs)
	for _, c := range Categories {
		root := r.For(c)
		if root == "" {
			continue
		}
		rel, err := filepath.Rel(filepath.Clean(root), abs)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		if rel == "." {
			return c, true
		}
		return c + "/" + filepath.ToSlash(rel), true
	}
	return "", false
}

// PathEntry is one payload entry, relative to the payload root.
type PathEntry struct {
	Rel string
	Dir bool
}
