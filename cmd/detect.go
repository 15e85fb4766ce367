package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/blurface/internal/overlay"
	"github.com/andresmejia3/blurface/internal/types"
	"github.com/andresmejia3/blurface/internal/utils"
	"github.com/disintegration/imaging"
	"github.com/spf13/cobra"
)

var (
	detectOpts    Options
	detectPreview string
)

var detectCmd = &cobra.Command{
	Use:   "detect <image_path>",
	Short: "List the faces found in an image without writing a blurred copy",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		detectOpts.InputPath = args[0]
		cfg := processingConfig(cmd, detectOpts, Cfg.Processing)
		return runDetect(cmd.Context(), detectOpts, cfg)
	},
}

func init() {
	addProcessingFlags(detectCmd, &detectOpts)
	detectCmd.Flags().StringVar(&detectPreview, "preview", "", "Write the blurred image with boxes and scores drawn on it (png or jpg)")
	rootCmd.AddCommand(detectCmd)
}

func runDetect(ctx context.Context, opts Options, cfg types.Config) error {
	kind, err := types.KindFromPath(opts.InputPath)
	if err != nil {
		utils.ShowError("Unsupported input file", err, nil)
		return err
	}
	if kind != types.KindImage {
		err := &types.UnsupportedKindError{Kind: kind}
		utils.ShowError("detect only works on images, use redact for videos", err, nil)
		return err
	}

	data, err := os.ReadFile(opts.InputPath)
	if err != nil {
		utils.ShowError("Unable to read input file", err, nil)
		return err
	}

	proc, locator, err := newProcessor(Cfg)
	if err != nil {
		utils.ShowError("Failed to load face detector", err, nil)
		return err
	}
	defer locator.Close()

	res, err := proc.Image.Redact(ctx, data, cfg)
	if err != nil {
		utils.ShowError("Failed to process image", err, nil)
		return err
	}

	if len(res.Detections) == 0 {
		fmt.Println("No faces found.")
	} else {
		printDetections(os.Stdout, res.Detections)
	}

	if detectPreview != "" {
		if err := imaging.Save(overlay.Draw(res.Frame, res.Detections), detectPreview); err != nil {
			utils.ShowError("Failed to write preview", err, nil)
			return err
		}
		fmt.Printf("🖼️  Preview written to %s\n", detectPreview)
	}
	return nil
}

func printDetections(out io.Writer, dets types.DetectionResult) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "#\tX\tY\tWIDTH\tHEIGHT\tSCORE")
	fmt.Fprintln(w, "-\t-\t-\t-----\t------\t-----")
	for i, d := range dets {
		fmt.Fprintf(w, "%d\t%d\t%d\t%d\t%d\t%.2f\n", i+1, d.Box.X, d.Box.Y, d.Box.Width, d.Box.Height, d.Score)
	}
	w.Flush()
}
