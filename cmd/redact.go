package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/andresmejia3/blurface/internal/pipeline"
	"github.com/andresmejia3/blurface/internal/store"
	"github.com/andresmejia3/blurface/internal/types"
	"github.com/andresmejia3/blurface/internal/utils"
	"github.com/go-basic/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var redactOpts Options

var redactCmd = &cobra.Command{
	Use:   "redact",
	Short: "Blur every detected face in an image or video",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		cfg := processingConfig(cmd, redactOpts, Cfg.Processing)
		return runRedact(cmd.Context(), redactOpts, cfg)
	},
}

func init() {
	redactCmd.Flags().StringVarP(&redactOpts.InputPath, "input", "i", "", "Path to input image or video")
	redactCmd.Flags().StringVarP(&redactOpts.OutputPath, "output", "o", "", "Path to output file (default: blurred_<input> next to the input)")
	addProcessingFlags(redactCmd, &redactOpts)

	redactCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(redactCmd)
}

func runRedact(ctx context.Context, opts Options, cfg types.Config) error {
	kind, err := validateRedactFlags(&opts, cfg)
	if err != nil {
		return err
	}

	if kind == types.KindVideo {
		if err := utils.CheckFFmpeg(); err != nil {
			utils.ShowError("Video tools missing", err, nil)
			return err
		}
	}

	proc, locator, err := newProcessor(Cfg)
	if err != nil {
		utils.ShowError("Failed to load face detector", err, nil)
		return err
	}
	defer locator.Close()

	var observer pipeline.Observer
	var bar *progressbar.ProgressBar
	if kind == types.KindVideo {
		bar = progressbar.NewOptions(100,
			progressbar.OptionSetDescription("Redacting"),
			progressbar.OptionSetWriter(os.Stderr),
		)
		observer = func(progress float64) {
			bar.Set(int(progress * 100))
		}
	}

	report, err := proc.ProcessFile(ctx, opts.InputPath, opts.OutputPath, kind, cfg, observer)
	if bar != nil {
		bar.Finish()
		fmt.Fprintln(os.Stderr)
	}
	recordJob(store.NewJob(uuid.New(), kind, opts.InputPath, opts.OutputPath, report, err))
	if err != nil {
		utils.ShowError(fmt.Sprintf("Failed to process %s", kind), err, nil)
		return err
	}

	fmt.Println(report.Message())
	fmt.Printf("✅ Saved to %s (%s)\n", opts.OutputPath, report.Elapsed.Round(time.Millisecond))
	return nil
}

// recordJob writes to the ledger when one is configured. A ledger failure never fails the run.
func recordJob(job store.Job) {
	if DB == nil {
		return
	}
	// The command context may already be cancelled and the outcome is still worth keeping
	if err := DB.RecordJob(context.Background(), job); err != nil {
		Log.Warnf("Failed to record job %v: %v", job.ID, err)
	}
}

// validateRedactFlags checks the input and fills in the default output path.
// It returns the kind of media the input holds.
func validateRedactFlags(opts *Options, cfg types.Config) (types.Kind, error) {
	info, err := os.Stat(opts.InputPath)
	if err != nil {
		if os.IsNotExist(err) {
			utils.ShowError("Input file does not exist", err, nil)
			return "", err
		}
		utils.ShowError("Unable to access input file", err, nil)
		return "", err
	}
	if info.IsDir() {
		err := fmt.Errorf("is a directory")
		utils.ShowError("Input path is a directory, expected an image or video file", err, nil)
		return "", err
	}

	kind, err := types.KindFromPath(opts.InputPath)
	if err != nil {
		utils.ShowError("Unsupported input file", err, nil)
		return "", err
	}

	if err := cfg.Validate(); err != nil {
		utils.ShowError("Configuration Error", err, nil)
		return "", err
	}

	if opts.OutputPath == "" {
		opts.OutputPath = defaultOutputPath(opts.InputPath, kind)
	}
	if err := checkOutputExtension(opts.OutputPath, opts.InputPath, kind); err != nil {
		utils.ShowError("Configuration Error", err, nil)
		return "", err
	}

	// Safety Check: Prevent overwriting input file which causes corruption
	inAbs, _ := filepath.Abs(opts.InputPath)
	outAbs, _ := filepath.Abs(opts.OutputPath)
	if inAbs == outAbs {
		err := fmt.Errorf("input and output paths must be different to prevent file corruption")
		utils.ShowError("Configuration Error", err, nil)
		return "", err
	}

	return kind, nil
}

// defaultOutputPath places blurred_<name> next to the input. Videos are always re-encoded as mp4.
func defaultOutputPath(input string, kind types.Kind) string {
	dir, base := filepath.Split(input)
	if kind == types.KindVideo {
		base = strings.TrimSuffix(base, filepath.Ext(base)) + ".mp4"
	}
	return filepath.Join(dir, "blurred_"+base)
}

// checkOutputExtension rejects outputs whose extension would misdescribe the encoded data.
// Images keep their input format; videos are always mp4.
func checkOutputExtension(output, input string, kind types.Kind) error {
	got := normalizeExt(filepath.Ext(output))
	want := normalizeExt(filepath.Ext(input))
	if kind == types.KindVideo {
		want = ".mp4"
	}
	if got != want {
		return fmt.Errorf("output '%s' must have a '%s' extension for this input", output, want)
	}
	return nil
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(ext)
	if ext == ".jpeg" {
		return ".jpg"
	}
	return ext
}
