package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/andresmejia3/blurface/internal/config"
	"github.com/andresmejia3/blurface/internal/detector"
	"github.com/andresmejia3/blurface/internal/pipeline"
	"github.com/andresmejia3/blurface/internal/store"
	"github.com/andresmejia3/blurface/internal/types"
	"github.com/cyclopcam/logs"
	"github.com/spf13/cobra"
)

// Options holds the processing flags shared by redact, detect and serve
type Options struct {
	InputPath    string
	OutputPath   string
	Threshold    float64
	BlurStrength int
	Padding      int
	Range        string
	Workers      int
}

// Config returns the per-run processing configuration described by the flags
func (o Options) Config() types.Config {
	return types.Config{
		ConfidenceThreshold: o.Threshold,
		BlurStrength:        o.BlurStrength,
		Range:               types.Range(o.Range),
		Padding:             o.Padding,
		Workers:             o.Workers,
	}
}

var (
	// DB is the job ledger shared by subcommands. It is nil when no database is configured.
	DB *store.Store
	// Cfg is the environment configuration, with global flags applied on top
	Cfg *config.Config
	// Log is the process-wide logger
	Log logs.Log

	dbURL       string
	backendName string
	cascadePath string
	prototxt    string
	weights     string
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "blurface",
	Short:   "Face detection and blurring for images and videos",
	Version: Version, // This enables the --version flag
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if Log, err = logs.NewLog(); err != nil {
			return fmt.Errorf("failed to create logger: %w", err)
		}

		if Cfg, err = config.Load(); err != nil {
			return err
		}
		applyGlobalFlags(cmd, Cfg)

		// The ledger is optional. Without it jobs are simply not recorded.
		if Cfg.DatabaseURL == "" {
			return nil
		}
		DB, err = store.New(cmd.Context(), Cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if DB != nil {
			DB.Close()
		}
	},
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "PostgreSQL connection string for the job ledger (default: $BLURFACE_DB or POSTGRES_* variables)")
	rootCmd.PersistentFlags().StringVar(&backendName, "backend", config.DefaultBackend, "Face detector: pigo or dnn")
	rootCmd.PersistentFlags().StringVar(&cascadePath, "cascade", config.DefaultCascadePath, "Path to a pigo face cascade (default: the facefinder cascade built into the binary)")
	rootCmd.PersistentFlags().StringVar(&prototxt, "prototxt", "", "Path to the DNN model description (dnn backend)")
	rootCmd.PersistentFlags().StringVar(&weights, "weights", "", "Path to the DNN model weights (dnn backend)")
}

// applyGlobalFlags lets explicitly set flags win over the environment
func applyGlobalFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("db") {
		cfg.DatabaseURL = dbURL
	}
	if flags.Changed("backend") {
		cfg.Backend = backendName
	}
	if flags.Changed("cascade") {
		cfg.CascadePath = cascadePath
	}
	if flags.Changed("prototxt") {
		cfg.DNNPrototxt = prototxt
	}
	if flags.Changed("weights") {
		cfg.DNNWeights = weights
	}
}

// newLocator loads the configured detector backend. Models are read once per process.
func newLocator(cfg *config.Config) (*detector.Locator, error) {
	switch cfg.Backend {
	case "pigo":
		b, err := detector.DefaultPigoBackend()
		if cfg.CascadePath != "" {
			b, err = detector.LoadPigoBackend(cfg.CascadePath)
		}
		if err != nil {
			return nil, err
		}
		return detector.New(b), nil
	case "dnn":
		if cfg.DNNPrototxt == "" || cfg.DNNWeights == "" {
			return nil, fmt.Errorf("the dnn backend needs both --prototxt and --weights")
		}
		b, err := detector.NewDNNBackend(cfg.DNNPrototxt, cfg.DNNWeights)
		if err != nil {
			return nil, err
		}
		return detector.New(b), nil
	default:
		return nil, fmt.Errorf("unknown backend '%s'. Must be 'pigo' or 'dnn'", cfg.Backend)
	}
}

// newProcessor builds the shared media processor around a freshly loaded locator.
// The caller closes the returned locator.
func newProcessor(cfg *config.Config) (*pipeline.Processor, *detector.Locator, error) {
	locator, err := newLocator(cfg)
	if err != nil {
		return nil, nil, err
	}
	return pipeline.NewProcessor(locator, pipeline.FFmpegCodec{}, Log), locator, nil
}

// addProcessingFlags registers the flags every processing command accepts
func addProcessingFlags(cmd *cobra.Command, opts *Options) {
	d := types.DefaultConfig()
	cmd.Flags().Float64VarP(&opts.Threshold, "threshold", "t", d.ConfidenceThreshold, "Minimum detection confidence in (0, 1]")
	cmd.Flags().IntVarP(&opts.BlurStrength, "strength", "s", d.BlurStrength, "Blur strength (higher = stronger blur)")
	cmd.Flags().IntVarP(&opts.Padding, "padding", "p", d.Padding, "Pixels added around every detected face")
	cmd.Flags().StringVarP(&opts.Range, "range", "r", string(d.Range), "Detector range: short or full")
	cmd.Flags().IntVarP(&opts.Workers, "workers", "w", d.Workers, "Parallel detection workers for video")
}

// processingConfig merges explicitly set processing flags over the environment configuration
func processingConfig(cmd *cobra.Command, opts Options, env types.Config) types.Config {
	cfg := env
	flagCfg := opts.Config()
	flags := cmd.Flags()
	if flags.Changed("threshold") {
		cfg.ConfidenceThreshold = flagCfg.ConfidenceThreshold
	}
	if flags.Changed("strength") {
		cfg.BlurStrength = flagCfg.BlurStrength
	}
	if flags.Changed("padding") {
		cfg.Padding = flagCfg.Padding
	}
	if flags.Changed("range") {
		cfg.Range = flagCfg.Range
	}
	if flags.Changed("workers") {
		cfg.Workers = flagCfg.Workers
	}
	return cfg
}
