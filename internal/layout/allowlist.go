package layout

import (
	"strings"

	"github.com/ocmod-labs/ocmodctl/internal/apperr"
)

// DefaultAllowed lists the directory roots a package payload may write under.
var DefaultAllowed = []string{
	"admin/controller/extension/",
	"admin/language/",
	"admin/model/extension/",
	"admin/view/image/",
	"admin/view/javascript/",
	"admin/view/stylesheet/",
	"admin/view/template/extension/",
	"catalog/controller/extension/",
	"catalog/language/",
	"catalog/model/extension/",
	"catalog/view/javascript/",
	"catalog/view/theme/",
	"system/config/",
	"system/library/",
	"image/catalog/",
}

// Allowlist decides whether a relative destination path may be written.
type Allowlist struct {
	roots []string
}

// NewAllowlist returns an allowlist over roots. A nil slice uses DefaultAllowed.
func NewAllowlist(roots []string) *Allowlist {
	if roots == nil {
		roots = DefaultAllowed
	}
	return &Allowlist{roots: roots}
}

// Safe reports whether rel is an ancestor of an allowed root (a directory
// that has to exist to reach it) or lies strictly under one. Ancestors are
// matched on whole segments: "system" is an ancestor of "system/library/",
// "system/librar" is not.
func (a *Allowlist) Safe(rel string) bool {
	rel = ToSlash(rel)
	if rel == "" || strings.HasPrefix(rel, "/") || hasDotSegment(rel) {
		return false
	}
	dir := strings.TrimSuffix(rel, "/") + "/"
	for _, root := range a.roots {
		if len(rel) < len(root) && strings.HasPrefix(root, dir) {
			return true
		}
		if len(rel) > len(root) && strings.HasPrefix(rel, root) {
			return true
		}
	}
	return false
}

func hasDotSegment(rel string) bool {
	for _, seg := range strings.Split(rel, "/") {
		if seg == ".." || seg == "." {
			return true
		}
	}
	return false
}

// ValidateAll checks every entry before anything touches the filesystem.
// The first unsafe path fails the whole set.
func (a *Allowlist) ValidateAll(entries []PathEntry) error {
	for _, e := range entries {
		if !a.Safe(e.Rel) {
			return apperr.New(apperr.Validation, "disallowed path: %s", e.Rel)
		}
	}
	return nil
}

// ToSlash normalizes Windows separators the way archives may carry them.
func ToSlash(p string) string {
	return strings.ReplaceAll(p, "\\", "/")
}
