package cmd

import (
	"context"
	"errors"
	"net/http"

	"github.com/andresmejia3/blurface/internal/server"
	"github.com/andresmejia3/blurface/internal/types"
	"github.com/andresmejia3/blurface/internal/utils"
	"github.com/spf13/cobra"
)

var (
	serveOpts Options
	serveAddr string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the upload and download web service",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		if cmd.Flags().Changed("addr") {
			Cfg.Addr = serveAddr
		}
		cfg := processingConfig(cmd, serveOpts, Cfg.Processing)
		return runServe(cmd.Context(), cfg)
	},
}

func init() {
	serveCmd.Flags().StringVarP(&serveAddr, "addr", "a", ":8080", "Address to listen on (default: $BLURFACE_ADDR or :8080)")
	addProcessingFlags(serveCmd, &serveOpts)
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context, cfg types.Config) error {
	if err := cfg.Validate(); err != nil {
		utils.ShowError("Configuration Error", err, nil)
		return err
	}
	if err := utils.CheckFFmpeg(); err != nil {
		// Images still work without the video tools
		Log.Warnf("Video uploads will fail: %v", err)
	}

	proc, locator, err := newProcessor(Cfg)
	if err != nil {
		utils.ShowError("Failed to load face detector", err, nil)
		return err
	}
	defer locator.Close()

	var jobs server.JobRecorder
	if DB != nil {
		jobs = DB
	} else {
		Log.Infof("No database configured, jobs will not be recorded")
	}

	srv, err := server.New(Log, proc, jobs, server.Options{
		UploadDir:      Cfg.UploadDir,
		ResultDir:      Cfg.ResultDir,
		MaxUploadBytes: Cfg.MaxUploadBytes,
		RateLimit:      Cfg.RateLimit,
		Processing:     cfg,
	})
	if err != nil {
		utils.ShowError("Failed to start server", err, nil)
		return err
	}

	if err := srv.ListenAndServe(ctx, Cfg.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		utils.ShowError("Server stopped", err, nil)
		return err
	}
	return nil
}
