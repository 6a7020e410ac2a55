package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmylchreest/packd/internal/config"
	internalhttp "github.com/jmylchreest/packd/internal/http"
	"github.com/jmylchreest/packd/internal/version"
	"github.com/jmylchreest/packd/internal/workspace"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the packd manifest server",
	Long: `Start the packd HTTP server.

The server provides:
- Rewritten HLS playlists at /hls/{path}
- Expanded and rewritten DASH manifests at /dash/{path}
- Health check endpoint at /health

Playlists and manifests are rewritten per request, so segment and key
references always reflect the configured base URL.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("media-dir", ".", "Directory manifests and segments are served from")
	serveCmd.Flags().String("base-url", "", "Base URL prepended to rewritten references")

	mustBindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	mustBindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	mustBindPFlag("serve.media_dir", serveCmd.Flags().Lookup("media-dir"))
	mustBindPFlag("serve.base_url", serveCmd.Flags().Lookup("base-url"))
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := slog.Default()

	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Clean up orphaned scratch directories from previous runs.
	removed, err := workspace.SweepOrphans(logger, cfg.Workspace.Root, cfg.Workspace.MaxAge)
	if err != nil {
		logger.Warn("failed to sweep orphaned workspace directories",
			slog.String("error", err.Error()),
		)
	} else if removed > 0 {
		logger.Info("swept orphaned workspace directories on startup",
			slog.Int("removed_count", removed),
		)
	}

	if _, err := os.Stat(cfg.Serve.MediaDir); err != nil {
		return fmt.Errorf("media directory %s: %w", cfg.Serve.MediaDir, err)
	}
	mediaFs := afero.NewBasePathFs(afero.NewOsFs(), cfg.Serve.MediaDir)

	server := internalhttp.NewServer(cfg.Server, cfg.Serve, mediaFs, logger, version.Version)

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Start()
	}()

	logger.Info("starting packd server",
		slog.String("host", cfg.Server.Host),
		slog.Int("port", cfg.Server.Port),
		slog.String("media_dir", cfg.Serve.MediaDir),
		slog.String("version", version.Version),
	)

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		if err := server.Shutdown(ctx); err != nil {
			return err
		}
		return <-errChan
	case err := <-errChan:
		return err
	}
}
