package cli

import (
	"os/signal"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ocmod-labs/ocmodctl/internal/config"
	"github.com/ocmod-labs/ocmodctl/internal/installer"
	"github.com/ocmod-labs/ocmodctl/internal/logging"
	"github.com/ocmod-labs/ocmodctl/internal/metrics"
	"github.com/ocmod-labs/ocmodctl/internal/server"
)

var (
	serveListen      string
	serveWatchConfig bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the install and deploy endpoints",
	Long: `Serve over HTTP:

  POST /install?token=...   multipart upload of a package (field "file")
  POST /deploy              deployment trigger (token, force)
  GET  /metrics             Prometheus metrics
  GET  /healthz             liveness`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "Listen address (default from server.listen)")
	serveCmd.Flags().BoolVar(&serveWatchConfig, "watch-config", false, "Re-read the log level when the config file changes")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	maxUpload, err := a.cfg.MaxUploadBytes()
	if err != nil {
		return err
	}
	listen := a.cfg.Server.Listen
	if serveListen != "" {
		listen = serveListen
	}

	if serveWatchConfig {
		config.Watch(func(c *config.Config, e fsnotify.Event) {
			if err := logging.SetLevel(a.level, c.Log.Level); err != nil {
				a.logger.Warn("ignoring log level from config", zap.String("level", c.Log.Level), zap.Error(err))
				return
			}
			a.logger.Info("config reloaded", zap.String("file", e.Name), zap.String("log_level", c.Log.Level))
		})
	}

	prom := metrics.NewProm("ocmodctl")
	srv := server.New(a.fs, a.roots, a.deps(),
		server.WithDeployer(a.orchestrator(prom, nil)),
		server.WithMetrics(prom, prom.Handler()),
		server.WithMaxUpload(maxUpload),
		server.WithLogger(a.logger),
		server.WithInstallerOptions(installer.WithScope(a.cfg.PatchScope())),
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return srv.ListenAndServe(ctx, listen)
}
