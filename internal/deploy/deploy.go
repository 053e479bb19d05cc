package deploy

import (
	"context"
	"crypto/subtle"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/ocmod-labs/ocmodctl/internal/apperr"
	"github.com/ocmod-labs/ocmodctl/internal/branding"
	"github.com/ocmod-labs/ocmodctl/internal/github"
	"github.com/ocmod-labs/ocmodctl/internal/installer"
	"github.com/ocmod-labs/ocmodctl/internal/logging"
	"github.com/ocmod-labs/ocmodctl/internal/metrics"
	"github.com/ocmod-labs/ocmodctl/internal/registry"
)

const (
	// DefaultCooldown is the minimum spacing between accepted requests.
	DefaultCooldown = 10 * time.Second

	workDirName = "tmp-github-deploy"

	StatusSuccess = "success"
	StatusError   = "error"
)

// Source is the remote side of a deployment.
type Source interface {
	LatestCommitSHA(ctx context.Context, branch string) (string, error)
	DownloadArtifact(ctx context.Context, sha, branch, name, dest string) (*github.Artifact, error)
}

// SourceFactory builds a Source for one repository.
type SourceFactory func(token, owner, repo string) Source

// Installer installs one package archive.
type Installer interface {
	Install(ctx context.Context, req installer.Request) (*installer.Result, error)
}

// InstallerFactory builds an Installer writing to log.
type InstallerFactory func(log *logging.ExecLog) Installer

// Request is one deployment trigger.
type Request struct {
	Token string
	Force bool
	// Trusted skips the secret check for local operators.
	Trusted bool
}

// Result is the outcome reported to the caller.
type Result struct {
	Status      string `json:"status"`
	Message     string `json:"message"`
	PreviousSHA string `json:"previous_sha"`
	CurrentSHA  string `json:"current_sha"`
	Deployed    bool   `json:"deployed"`
}

// Orchestrator runs deployments against one host.
type Orchestrator struct {
	fs           afero.Fs
	settings     registry.SettingsStore
	newSource    SourceFactory
	newInstaller InstallerFactory
	workDir      string
	cooldown     time.Duration
	now          func() time.Time
	metrics      metrics.Metrics
	logger       *zap.Logger
	out          io.Writer
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithSourceFactory replaces the GitHub client factory.
func WithSourceFactory(f SourceFactory) Option {
	return func(o *Orchestrator) {
		o.newSource = f
	}
}

// WithGitHubOptions configures the default GitHub client. Downloads go
// through the Orchestrator's filesystem.
func WithGitHubOptions(opts ...github.Option) Option {
	return func(o *Orchestrator) {
		o.newSource = func(token, owner, repo string) Source {
			return github.New(token, owner, repo, append([]github.Option{github.WithFs(o.fs)}, opts...)...)
		}
	}
}

// WithCooldown sets the minimum spacing between accepted requests.
func WithCooldown(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.cooldown = d
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// WithMetrics records deployment outcomes.
func WithMetrics(m metrics.Metrics) Option {
	return func(o *Orchestrator) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithLogger sets the process logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithLogWriter streams the execution log of each deployment to w.
func WithLogWriter(w io.Writer) Option {
	return func(o *Orchestrator) {
		o.out = w
	}
}

// New creates an Orchestrator. Downloads are staged under uploadRoot.
func New(fs afero.Fs, settings registry.SettingsStore, uploadRoot string, newInstaller InstallerFactory, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		fs:           fs,
		settings:     settings,
		newInstaller: newInstaller,
		workDir:      filepath.Join(uploadRoot, workDirName),
		cooldown:     DefaultCooldown,
		now:          time.Now,
		metrics:      metrics.Noop{},
		logger:       zap.NewNop(),
	}
	WithGitHubOptions()(o)
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run performs one deployment. The returned Result is never nil; on failure
// its Status is "error" and err carries the classified cause.
func (o *Orchestrator) Run(ctx context.Context, req Request) (res *Result, err error) {
	res = &Result{Status: StatusError}
	defer func() {
		switch {
		case err != nil:
			res.Message = err.Error()
			o.metrics.IncDeploy(apperr.KindOf(err).String())
			o.logger.Warn("deployment failed", zap.Error(err), zap.String("sha", res.CurrentSHA))
		case res.Deployed:
			o.metrics.IncDeploy("deployed")
		default:
			o.metrics.IncDeploy("up_to_date")
		}
	}()

	values, err := o.settings.GetSetting(ctx, branding.SettingsGroup())
	if err != nil {
		return res, apperr.Wrap(apperr.Internal, err, "reading deploy settings")
	}
	state := stateFrom(values)

	if !req.Trusted {
		if err := o.authorize(state, req.Token); err != nil {
			return res, err
		}
	}
	if err := o.throttle(ctx, values); err != nil {
		return res, err
	}

	if !state.Configured() {
		return res, apperr.New(apperr.Configuration, "GitHub settings are not filled in")
	}
	owner, repo, err := github.ParseRepo(state.Repo)
	if err != nil {
		return res, err
	}
	src := o.newSource(state.Token, owner, repo)

	sha, err := src.LatestCommitSHA(ctx, state.Branch)
	if err != nil {
		return res, fmt.Errorf("fetching latest commit: %w", err)
	}
	res.CurrentSHA = sha
	res.PreviousSHA = state.LastSHA
	if res.PreviousSHA == "" {
		res.PreviousSHA = "none"
	}

	if !req.Force && sha == state.LastSHA {
		res.Status = StatusSuccess
		res.Message = "Already up-to-date"
		return res, nil
	}

	logOpts := []logging.Option{logging.WithZap(o.logger), logging.WithClock(o.now)}
	if o.out != nil {
		logOpts = append(logOpts, logging.WithWriter(o.out))
	}
	execLog := logging.NewExecLog(true, logOpts...)
	files, err := o.deploy(ctx, src, state, sha, execLog)
	if err != nil {
		o.persist(ctx, sha, false, failureLog(execLog, err, files), files)
		return res, err
	}

	if err := registry.MergeSettings(ctx, o.settings, branding.SettingsGroup(), map[string]string{
		key(KeyLastDeployedSHA): sha,
	}); err != nil {
		return res, apperr.Wrap(apperr.Internal, err, "saving deployed commit")
	}
	o.persist(ctx, sha, true, successLog(execLog, files), files)

	res.Status = StatusSuccess
	res.Message = "Deployment successful"
	res.Deployed = true
	o.logger.Info("deployed", zap.String("sha", sha), zap.Int("files", len(files)))
	return res, nil
}

func (o *Orchestrator) authorize(state *State, token string) error {
	if state.secret == "" {
		return apperr.New(apperr.Auth, "deploy secret key is not configured")
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(state.secret)) != 1 {
		return apperr.New(apperr.Auth, "invalid secret key")
	}
	return nil
}

// throttle rejects a request arriving within the cooldown of the last
// accepted one. A rejected request leaves the stamp alone.
func (o *Orchestrator) throttle(ctx context.Context, values map[string]string) error {
	now := o.now().Unix()
	last, _ := strconv.ParseInt(values[key(KeyLastRequestTime)], 10, 64)
	cooldown := int64(o.cooldown / time.Second)
	if elapsed := now - last; elapsed < cooldown {
		return apperr.New(apperr.RateLimit, "rate limit: please wait %d seconds", cooldown-elapsed)
	}
	err := registry.MergeSettings(ctx, o.settings, branding.SettingsGroup(), map[string]string{
		key(KeyLastRequestTime): strconv.FormatInt(now, 10),
	})
	if err != nil {
		return apperr.Wrap(apperr.Internal, err, "recording request time")
	}
	return nil
}

func (o *Orchestrator) deploy(ctx context.Context, src Source, state *State, sha string, execLog *logging.ExecLog) ([]string, error) {
	if err := o.fs.MkdirAll(o.workDir, 0755); err != nil {
		return nil, apperr.Wrap(apperr.IO, err, "creating %s", o.workDir)
	}

	artifactPath := filepath.Join(o.workDir, "artifact_"+uuid.NewString()+".zip")
	execLog.Infof("Downloading artifact %s for commit %s", state.ArtifactName, sha)
	if _, err := src.DownloadArtifact(ctx, sha, state.Branch, state.ArtifactName, artifactPath); err != nil {
		o.fs.Remove(artifactPath)
		return nil, fmt.Errorf("fetching artifact: %w", err)
	}

	modulePath, err := Unwrap(o.fs, artifactPath, state.ArtifactName, o.workDir)
	if err != nil {
		return nil, err
	}
	defer o.fs.Remove(modulePath)

	result, err := o.newInstaller(execLog).Install(ctx, installer.Request{
		ArchivePath: modulePath,
		Filename:    state.ArtifactName,
		Overwrite:   true,
	})
	if err != nil {
		var partial []string
		if result != nil {
			partial = result.InstalledFiles
		}
		return partial, fmt.Errorf("installing module: %w", err)
	}
	return result.InstalledFiles, nil
}

func (o *Orchestrator) persist(ctx context.Context, sha string, success bool, text string, files []string) {
	rec := newLogRecord(o.now(), sha, success, text, files)
	if err := saveLogRecord(ctx, o.settings, rec); err != nil {
		o.logger.Error("saving deploy log", zap.Error(err))
	}
}

func successLog(execLog *logging.ExecLog, files []string) string {
	var b strings.Builder
	b.WriteString(strings.Join(execLog.Lines(), "\n"))
	if len(files) > 0 {
		b.WriteString("\n\n=== Installed files ===\n")
		for _, f := range files {
			b.WriteString(f)
			b.WriteString("\n")
		}
	}
	return b.String()
}

func failureLog(execLog *logging.ExecLog, err error, files []string) string {
	var b strings.Builder
	b.WriteString(strings.Join(execLog.Lines(), "\n"))
	b.WriteString("\n\nError: ")
	b.WriteString(err.Error())
	if len(files) > 0 {
		b.WriteString("\n\n=== Partially installed files ===\n")
		for _, f := range files {
			b.WriteString(f)
			b.WriteString("\n")
		}
	}
	return b.String()
}

// Status returns the persisted deployment state.
func (o *Orchestrator) Status(ctx context.Context) (*State, error) {
	return LoadState(ctx, o.settings)
}
