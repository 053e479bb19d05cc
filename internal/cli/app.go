package cli

import (
	"fmt"
	"io"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/ocmod-labs/ocmodctl/internal/config"
	"github.com/ocmod-labs/ocmodctl/internal/deploy"
	"github.com/ocmod-labs/ocmodctl/internal/github"
	"github.com/ocmod-labs/ocmodctl/internal/installer"
	"github.com/ocmod-labs/ocmodctl/internal/layout"
	"github.com/ocmod-labs/ocmodctl/internal/logging"
	"github.com/ocmod-labs/ocmodctl/internal/metrics"
	"github.com/ocmod-labs/ocmodctl/internal/registry"
	"github.com/ocmod-labs/ocmodctl/internal/store"
)

// app holds what every command that touches the host needs.
type app struct {
	cfg      *config.Config
	roots    layout.Roots
	fs       afero.Fs
	logger   *zap.Logger
	level    zap.AtomicLevel
	db       *store.Store
	settings registry.SettingsStore
	closers  []io.Closer
}

func openApp() (*app, error) {
	cfg, err := config.Current()
	if err != nil {
		return nil, err
	}
	logger, level, err := logging.NewAtomic(cfg.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("configuring logger: %w", err)
	}

	db, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	a := &app{
		cfg:      cfg,
		roots:    cfg.ResolvedRoots(),
		fs:       afero.NewOsFs(),
		logger:   logger,
		level:    level,
		db:       db,
		settings: db,
		closers:  []io.Closer{db},
	}

	if cfg.Settings.Backend == config.BackendRedis {
		rs, err := store.NewRedisSettings(cfg.Settings.RedisURL, cfg.Settings.RedisPrefix)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.settings = rs
		a.closers = append(a.closers, rs)
	}
	return a, nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i].Close()
	}
	_ = a.logger.Sync()
}

func (a *app) deps() installer.Deps {
	return installer.Deps{Extensions: a.db, Modifications: a.db, Settings: a.settings}
}

func (a *app) installerOptions(m metrics.Metrics) []installer.Option {
	return []installer.Option{
		installer.WithScope(a.cfg.PatchScope()),
		installer.WithMetrics(m),
	}
}

func (a *app) installer(log *logging.ExecLog, m metrics.Metrics, opts ...installer.Option) *installer.Installer {
	return installer.New(a.fs, a.roots, a.deps(), log, append(a.installerOptions(m), opts...)...)
}

func (a *app) orchestrator(m metrics.Metrics, out io.Writer) *deploy.Orchestrator {
	newInstaller := func(log *logging.ExecLog) deploy.Installer {
		return a.installer(log, m, installer.WithSource("deploy"))
	}
	return deploy.New(a.fs, a.settings, a.roots.Upload, newInstaller,
		deploy.WithGitHubOptions(
			github.WithBaseURL(a.cfg.Deploy.APIBase),
			github.WithTimeouts(a.cfg.Deploy.ConnectTimeout, a.cfg.Deploy.TransferTimeout),
		),
		deploy.WithCooldown(a.cfg.Deploy.Cooldown),
		deploy.WithMetrics(m),
		deploy.WithLogger(a.logger),
		deploy.WithLogWriter(out),
	)
}
