package layout

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"

	"github.com/ocmod-labs/ocmodctl/internal/apperr"
)

func TestAllowlistSafe(t *testing.T) {
	a := NewAllowlist([]string{"system/library/"})

	tests := []struct {
		path string
		safe bool
	}{
		{"system/library/foo.php", true},
		{"system/other/x.php", false},
		{"system", true},
		{"system/", true},
		{"system/library", true},
		{"system/librar", false},
		{"admin", false},
		{"", false},
		{"system/library/../../etc/passwd", false},
		{"/system/library/x.php", false},
		{"system\\library\\win.php", true},
	}

	for _, tt := range tests {
		if got := a.Safe(tt.path); got != tt.safe {
			t.Errorf("Safe(%q) = %v, want %v", tt.path, got, tt.safe)
		}
	}
}

func TestAllowlistDefaults(t *testing.T) {
	a := NewAllowlist(nil)
	for _, p := range []string{"admin", "admin/controller", "catalog/view/theme/default/x.twig", "image/catalog/logo.png"} {
		if !a.Safe(p) {
			t.Errorf("Safe(%q) = false with default roots", p)
		}
	}
	if a.Safe("admin/config.php") {
		t.Error("admin/config.php must not be writable")
	}
}

func TestValidateAllFailsOnFirstUnsafe(t *testing.T) {
	a := NewAllowlist([]string{"system/library/"})
	err := a.ValidateAll([]PathEntry{
		{Rel: "system", Dir: true},
		{Rel: "system/library/a.php"},
		{Rel: "system/startup.php"},
	})
	if !apperr.Is(err, apperr.Validation) {
		t.Fatalf("ValidateAll = %v, want validation error", err)
	}
}

func TestResolveAndKey(t *testing.T) {
	r := FromBase("/srv/shop")

	abs, ok := r.Resolve("admin/controller/extension/module/x.php")
	if !ok || abs != filepath.Join("/srv/shop/admin", "controller/extension/module/x.php") {
		t.Fatalf("Resolve = %q, %v", abs, ok)
	}
	if _, ok := r.Resolve("vendor/x.php"); ok {
		t.Error("vendor/ must not resolve")
	}
	if abs, ok := r.Resolve("image"); !ok || abs != "/srv/shop/image" {
		t.Errorf("Resolve(image) = %q, %v", abs, ok)
	}

	key, ok := r.Key("/srv/shop/catalog/controller/common/header.php")
	if !ok || key != "catalog/controller/common/header.php" {
		t.Errorf("Key = %q, %v", key, ok)
	}
	if _, ok := r.Key("/etc/passwd"); ok {
		t.Error("Key outside roots must fail")
	}
}

func TestRootsValidate(t *testing.T) {
	base := t.TempDir()
	fs := afero.NewOsFs()
	r := FromBase(base)

	if err := r.Validate(fs); !apperr.Is(err, apperr.Configuration) {
		t.Fatalf("Validate on empty base = %v, want configuration error", err)
	}

	for _, c := range Categories {
		if err := os.MkdirAll(filepath.Join(base, c), 0755); err != nil {
			t.Fatal(err)
		}
	}
	if err := r.Validate(fs); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	r.Image = ""
	if err := r.Validate(fs); !apperr.Is(err, apperr.Configuration) {
		t.Errorf("Validate with unset image root = %v", err)
	}
}

func TestMerge(t *testing.T) {
	r := Roots{Image: "/media"}.Merge(FromBase("/srv"))
	if r.Image != "/media" || r.Catalog != "/srv/catalog" {
		t.Errorf("Merge = %+v", r)
	}
}
