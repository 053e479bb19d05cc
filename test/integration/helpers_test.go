//go:build integration

package integration_test

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/spf13/viper"

	"github.com/ocmod-labs/ocmodctl/internal/config"
	"github.com/ocmod-labs/ocmodctl/internal/installer"
	"github.com/ocmod-labs/ocmodctl/internal/layout"
	"github.com/ocmod-labs/ocmodctl/internal/logging"
	"github.com/ocmod-labs/ocmodctl/internal/store"
)

// testEnv holds an isolated host installation and its database.
type testEnv struct {
	HostDir string // OCMODCTL_ROOT, holds admin/ catalog/ image/ system/
	DBPath  string // OCMODCTL_DATABASE_PATH
	Config  *config.Config
	Roots   layout.Roots
	Store   *store.Store
	FS      afero.Fs
}

// setupTestEnv creates an isolated host tree and points the configuration at
// it through environment variables. Viper state is reset after the test.
func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		HostDir: t.TempDir(),
		DBPath:  filepath.Join(t.TempDir(), "ocmodctl.db"),
		FS:      afero.NewOsFs(),
	}

	t.Setenv("OCMODCTL_ROOT", env.HostDir)
	t.Setenv("OCMODCTL_DATABASE_PATH", env.DBPath)
	t.Setenv("OCMODCTL_LOG_LEVEL", "none")

	viper.Reset()
	t.Cleanup(viper.Reset)
	config.LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))

	cfg, err := config.Current()
	if err != nil {
		t.Fatalf("loading config: %v", err)
	}
	env.Config = cfg
	env.Roots = cfg.ResolvedRoots()

	for _, d := range []string{env.Roots.Application, env.Roots.Catalog, env.Roots.Image, env.Roots.System,
		env.Roots.Modification, env.Roots.Upload, env.Roots.Cache} {
		if err := os.MkdirAll(d, 0755); err != nil {
			t.Fatalf("creating %s: %v", d, err)
		}
	}

	s, err := store.Open(cfg.Database.Path)
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	env.Store = s

	return env
}

func (e *testEnv) deps() installer.Deps {
	return installer.Deps{Extensions: e.Store, Modifications: e.Store, Settings: e.Store}
}

func (e *testEnv) installer(log *logging.ExecLog, opts ...installer.Option) *installer.Installer {
	return installer.New(e.FS, e.Roots, e.deps(), log, opts...)
}

// hostPath returns the absolute path of a package-relative path.
func (e *testEnv) hostPath(rel string) string {
	return filepath.Join(e.HostDir, filepath.FromSlash(rel))
}

// overlayPath returns where the patched copy of rel is written.
func (e *testEnv) overlayPath(rel string) string {
	return filepath.Join(e.Roots.Modification, filepath.FromSlash(rel))
}

// buildPackage writes a package zip holding files and returns its path.
func buildPackage(t *testing.T, name string, files map[string]string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, zipData(t, files), 0644); err != nil {
		t.Fatalf("writing %s: %v", p, err)
	}
	return p
}

func zipData(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("adding %s: %v", name, err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("writing %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("closing zip: %v", err)
	}
	return buf.Bytes()
}

// writeFile creates a file and any missing parent directories.
func writeFile(t *testing.T, path, content string) {
	t.Helper()
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("creating dir %s: %v", dir, err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}

func assertFileExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); err != nil {
		t.Errorf("expected file to exist: %s (error: %v)", path, err)
	}
}

func assertFileNotExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); err == nil {
		t.Errorf("expected file to not exist: %s", path)
	}
}

func assertFileContent(t *testing.T, path, want string) {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Errorf("reading %s: %v", path, err)
		return
	}
	if string(data) != want {
		t.Errorf("file %s = %q, want %q", path, string(data), want)
	}
}

func assertFileContains(t *testing.T, path, substr string) {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Errorf("reading %s: %v", path, err)
		return
	}
	if !strings.Contains(string(data), substr) {
		t.Errorf("file %s does not contain %q.\nContents:\n%s", path, substr, string(data))
	}
}
