package deploy

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocmod-labs/ocmodctl/internal/apperr"
	"github.com/ocmod-labs/ocmodctl/internal/branding"
	"github.com/ocmod-labs/ocmodctl/internal/github"
	"github.com/ocmod-labs/ocmodctl/internal/installer"
	"github.com/ocmod-labs/ocmodctl/internal/layout"
	"github.com/ocmod-labs/ocmodctl/internal/logging"
	"github.com/ocmod-labs/ocmodctl/internal/metrics"
	"github.com/ocmod-labs/ocmodctl/internal/registry"
	"github.com/ocmod-labs/ocmodctl/internal/store"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.Local)

func zipBytes(t *testing.T, entries map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

type fakeSource struct {
	sha       string
	artifact  []byte
	err       error
	downloads int
}

func (f *fakeSource) LatestCommitSHA(context.Context, string) (string, error) {
	return f.sha, nil
}

func (f *fakeSource) DownloadArtifact(_ context.Context, _, _, name, dest string) (*github.Artifact, error) {
	f.downloads++
	if f.err != nil {
		return nil, f.err
	}
	if err := os.WriteFile(dest, f.artifact, 0644); err != nil {
		return nil, err
	}
	return &github.Artifact{Name: name}, nil
}

type fakeInstaller struct {
	err     error
	partial []string
	reqs    []installer.Request
}

func (f *fakeInstaller) Install(_ context.Context, req installer.Request) (*installer.Result, error) {
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		if f.partial != nil {
			return &installer.Result{InstalledFiles: f.partial}, f.err
		}
		return nil, f.err
	}
	return &installer.Result{InstalledFiles: []string{"system/library/a.php"}}, nil
}

type env struct {
	settings registry.SettingsStore
	source   *fakeSource
	upload   string
}

func newEnv(t *testing.T, values map[string]string) *env {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := store.NewRedisSettings("redis://"+mr.Addr(), "test:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	full := map[string]string{}
	for k, v := range values {
		full[key(k)] = v
	}
	require.NoError(t, s.EditSetting(context.Background(), branding.SettingsGroup(), full))
	return &env{settings: s, source: &fakeSource{sha: "abc123def456"}, upload: t.TempDir()}
}

func (e *env) orchestrator(inst Installer, opts ...Option) *Orchestrator {
	opts = append([]Option{
		WithClock(func() time.Time { return fixedNow }),
		WithSourceFactory(func(string, string, string) Source { return e.source }),
	}, opts...)
	return New(afero.NewOsFs(), e.settings, e.upload, func(*logging.ExecLog) Installer { return inst }, opts...)
}

func (e *env) get(t *testing.T, suffix string) string {
	t.Helper()
	values, err := e.settings.GetSetting(context.Background(), branding.SettingsGroup())
	require.NoError(t, err)
	return values[key(suffix)]
}

func configured() map[string]string {
	return map[string]string{
		KeyDeploySecret: "s3cret",
		KeyGitHubToken:  "ghp_x",
		KeyGitHubRepo:   "acme/shop-ext",
	}
}

func TestRunRejectsUnsetSecret(t *testing.T) {
	e := newEnv(t, map[string]string{KeyGitHubRepo: "acme/shop-ext"})

	res, err := e.orchestrator(&fakeInstaller{}).Run(context.Background(), Request{Token: ""})
	assert.True(t, apperr.Is(err, apperr.Auth), "err = %v", err)
	assert.Equal(t, StatusError, res.Status)
	assert.Empty(t, e.get(t, KeyLastRequestTime), "auth failure must not touch the rate-limit stamp")
}

func TestRunRejectsWrongToken(t *testing.T) {
	e := newEnv(t, configured())

	_, err := e.orchestrator(&fakeInstaller{}).Run(context.Background(), Request{Token: "nope"})
	assert.True(t, apperr.Is(err, apperr.Auth), "err = %v", err)
	assert.Zero(t, e.source.downloads)
}

func TestRunRateLimitKeepsStamp(t *testing.T) {
	values := configured()
	last := strconv.FormatInt(fixedNow.Unix()-3, 10)
	values[KeyLastRequestTime] = last
	e := newEnv(t, values)

	res, err := e.orchestrator(&fakeInstaller{}).Run(context.Background(), Request{Token: "s3cret"})
	require.True(t, apperr.Is(err, apperr.RateLimit), "err = %v", err)
	assert.Contains(t, res.Message, "wait 7 seconds")
	assert.Equal(t, last, e.get(t, KeyLastRequestTime))
}

func TestRunAdvancesStampBeforeSettingsCheck(t *testing.T) {
	e := newEnv(t, map[string]string{KeyDeploySecret: "s3cret"})

	_, err := e.orchestrator(&fakeInstaller{}).Run(context.Background(), Request{Token: "s3cret"})
	require.True(t, apperr.Is(err, apperr.Configuration), "err = %v", err)
	assert.Equal(t, strconv.FormatInt(fixedNow.Unix(), 10), e.get(t, KeyLastRequestTime))
}

func TestRunRejectsBadRepoFormat(t *testing.T) {
	values := configured()
	values[KeyGitHubRepo] = "acme"
	e := newEnv(t, values)

	_, err := e.orchestrator(&fakeInstaller{}).Run(context.Background(), Request{Token: "s3cret"})
	assert.True(t, apperr.Is(err, apperr.Configuration), "err = %v", err)
}

func TestRunAlreadyUpToDate(t *testing.T) {
	values := configured()
	values[KeyLastDeployedSHA] = "abc123def456"
	e := newEnv(t, values)
	inst := &fakeInstaller{}

	res, err := e.orchestrator(inst).Run(context.Background(), Request{Token: "s3cret"})
	require.NoError(t, err)
	assert.Equal(t, &Result{
		Status:      StatusSuccess,
		Message:     "Already up-to-date",
		PreviousSHA: "abc123def456",
		CurrentSHA:  "abc123def456",
	}, res)
	assert.Zero(t, e.source.downloads)
	assert.Empty(t, inst.reqs)
	assert.Empty(t, e.get(t, KeyLastDeployLog))
}

func TestRunForceRedeploys(t *testing.T) {
	values := configured()
	values[KeyLastDeployedSHA] = "abc123def456"
	e := newEnv(t, values)
	e.source.artifact = zipBytes(t, map[string][]byte{
		"module.ocmod.zip": zipBytes(t, map[string][]byte{"install.xml": []byte("<modification/>")}),
	})
	inst := &fakeInstaller{}

	res, err := e.orchestrator(inst).Run(context.Background(), Request{Token: "s3cret", Force: true})
	require.NoError(t, err)
	assert.True(t, res.Deployed)
	require.Len(t, inst.reqs, 1)
	assert.True(t, inst.reqs[0].Overwrite)
	assert.Equal(t, DefaultArtifactName, inst.reqs[0].Filename)
}

func TestRunInstallFailurePersistsLog(t *testing.T) {
	e := newEnv(t, configured())
	e.source.artifact = zipBytes(t, map[string][]byte{
		"module.ocmod.zip": zipBytes(t, map[string][]byte{"upload/x": []byte("x")}),
	})
	prom := metrics.NewProm("test")

	res, err := e.orchestrator(&fakeInstaller{err: apperr.New(apperr.Validation, "disallowed path: x")},
		WithMetrics(prom)).Run(context.Background(), Request{Token: "s3cret"})
	require.Error(t, err)
	assert.False(t, res.Deployed)
	assert.Equal(t, "none", res.PreviousSHA)
	assert.Empty(t, e.get(t, KeyLastDeployedSHA))

	var rec LogRecord
	require.NoError(t, json.Unmarshal([]byte(e.get(t, KeyLastDeployLog)), &rec))
	assert.False(t, rec.Success)
	assert.Equal(t, "abc123def456", rec.SHA)
	assert.Equal(t, "2026-03-01 12:00:00", rec.Timestamp)
	assert.Contains(t, rec.Log, "Error: installing module: disallowed path: x")
	assert.Equal(t, 0, rec.FilesCount)

	entries, err := os.ReadDir(filepath.Join(e.upload, workDirName))
	require.NoError(t, err)
	assert.Empty(t, entries, "downloads must be cleaned up")
}

func TestRunInstallFailureListsPartialFiles(t *testing.T) {
	e := newEnv(t, configured())
	e.source.artifact = zipBytes(t, map[string][]byte{
		"module.ocmod.zip": zipBytes(t, map[string][]byte{"upload/x": []byte("x")}),
	})
	inst := &fakeInstaller{
		err:     apperr.New(apperr.Conflict, "file already exists: b.php"),
		partial: []string{"system/library/a.php"},
	}

	_, err := e.orchestrator(inst).Run(context.Background(), Request{Token: "s3cret"})
	require.True(t, apperr.Is(err, apperr.Conflict), "err = %v", err)

	var rec LogRecord
	require.NoError(t, json.Unmarshal([]byte(e.get(t, KeyLastDeployLog)), &rec))
	assert.Contains(t, rec.Log, "=== Partially installed files ===\nsystem/library/a.php\n")
	assert.Equal(t, []string{"system/library/a.php"}, rec.InstalledFiles)
	assert.Equal(t, 1, rec.FilesCount)
}

func TestRunArtifactFailurePersistsLog(t *testing.T) {
	e := newEnv(t, configured())
	e.source.err = apperr.New(apperr.Remote, "artifact expired")

	_, err := e.orchestrator(&fakeInstaller{}).Run(context.Background(), Request{Token: "s3cret"})
	require.True(t, apperr.Is(err, apperr.Remote), "err = %v", err)

	st, err := LoadState(context.Background(), e.settings)
	require.NoError(t, err)
	require.NotNil(t, st.LastLog)
	assert.False(t, st.LastLog.Success)
}

func TestRunDeploysEndToEnd(t *testing.T) {
	base := t.TempDir()
	roots := layout.FromBase(base)
	for _, d := range []string{roots.Application, roots.Catalog, roots.Image, roots.System, roots.Upload, roots.Modification, roots.Cache} {
		require.NoError(t, os.MkdirAll(d, 0755))
	}
	db, err := store.Open(filepath.Join(t.TempDir(), "deploy.db"))
	require.NoError(t, err)
	defer db.Close()

	values := map[string]string{}
	for k, v := range configured() {
		values[key(k)] = v
	}
	require.NoError(t, db.EditSetting(context.Background(), branding.SettingsGroup(), values))

	src := &fakeSource{
		sha: "feedbeef",
		artifact: zipBytes(t, map[string][]byte{
			"upload/system/library/deployed.php": []byte("<?php // v2"),
			"install.xml":                        []byte("<modification><code>deployed</code><name>Deployed</name></modification>"),
		}),
	}
	fs := afero.NewOsFs()
	o := New(fs, db, roots.Upload, func(log *logging.ExecLog) Installer {
		return installer.New(fs, roots, installer.Deps{Extensions: db, Modifications: db, Settings: db}, log,
			installer.WithSource("deploy"))
	}, WithSourceFactory(func(string, string, string) Source { return src }))

	res, err := o.Run(context.Background(), Request{Token: "s3cret"})
	require.NoError(t, err)
	assert.Equal(t, "Deployment successful", res.Message)
	assert.True(t, res.Deployed)

	got, err := os.ReadFile(filepath.Join(base, "system", "library", "deployed.php"))
	require.NoError(t, err)
	assert.Equal(t, "<?php // v2", string(got))

	st, err := o.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "feedbeef", st.LastSHA)
	require.NotNil(t, st.LastLog)
	assert.True(t, st.LastLog.Success)
	assert.Equal(t, []string{"system/library/deployed.php"}, st.LastLog.InstalledFiles)
	assert.Contains(t, st.LastLog.Log, "=== Installed files ===")
}

func TestRunDownloadsThroughOrchestratorFs(t *testing.T) {
	e := newEnv(t, configured())
	artifact := zipBytes(t, map[string][]byte{
		"module.ocmod.zip": zipBytes(t, map[string][]byte{"install.xml": []byte("<modification/>")}),
	})

	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/repos/acme/shop-ext/commits/main":
			fmt.Fprint(w, `{"sha":"abc123def456"}`)
		case "/repos/acme/shop-ext/actions/runs":
			fmt.Fprint(w, `{"workflow_runs":[{"id":5}]}`)
		case "/repos/acme/shop-ext/actions/runs/5/artifacts":
			fmt.Fprintf(w, `{"artifacts":[{"id":9,"name":"module.ocmod.zip","archive_download_url":"%s/dl"}]}`, srv.URL)
		case "/dl":
			w.Write(artifact)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	fs := afero.NewMemMapFs()
	inst := &fakeInstaller{}
	o := New(fs, e.settings, "/upload", func(*logging.ExecLog) Installer { return inst },
		WithClock(func() time.Time { return fixedNow }),
		WithGitHubOptions(github.WithBaseURL(srv.URL), github.WithHTTPClient(srv.Client())))

	res, err := o.Run(context.Background(), Request{Token: "s3cret"})
	require.NoError(t, err)
	assert.True(t, res.Deployed)
	require.Len(t, inst.reqs, 1)

	entries, err := afero.ReadDir(fs, filepath.Join("/upload", workDirName))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestStateDefaults(t *testing.T) {
	st := stateFrom(map[string]string{key(KeyLastDeployLog): "{broken"})
	assert.Equal(t, DefaultBranch, st.Branch)
	assert.Equal(t, DefaultArtifactName, st.ArtifactName)
	assert.Nil(t, st.LastLog)
	assert.False(t, st.Configured())
	assert.True(t, st.LastRequest.IsZero())
}

func TestRunCountsOutcomes(t *testing.T) {
	e := newEnv(t, configured())
	prom := metrics.NewProm("test")

	_, err := e.orchestrator(&fakeInstaller{}, WithMetrics(prom)).Run(context.Background(), Request{Token: "bad"})
	require.Error(t, err)

	n, err := testutil.GatherAndCount(prom.Registry(), "test_deploys_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRunTrustedSkipsSecret(t *testing.T) {
	values := configured()
	delete(values, KeyDeploySecret)
	values[KeyLastDeployedSHA] = "abc123def456"
	e := newEnv(t, values)

	res, err := e.orchestrator(&fakeInstaller{}).Run(context.Background(), Request{Trusted: true})
	require.NoError(t, err)
	assert.Equal(t, "Already up-to-date", res.Message)
}
