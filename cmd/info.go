package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/blurface/internal/types"
	"github.com/andresmejia3/blurface/internal/utils"
	"github.com/spf13/cobra"
)

var infoJSON bool

var infoCmd = &cobra.Command{
	Use:   "info <media_path>",
	Short: "Show the dimensions, frame rate and frame count of an image or video",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		desc, err := describeMedia(cmd.Context(), args[0])
		if err != nil {
			utils.ShowError("Failed to read media", err, nil)
			return err
		}
		if infoJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(desc)
		}
		printDescriptor(os.Stdout, desc)
		return nil
	},
}

func init() {
	infoCmd.Flags().BoolVar(&infoJSON, "json", false, "Print as JSON")
	rootCmd.AddCommand(infoCmd)
}

func describeMedia(ctx context.Context, path string) (types.MediaDescriptor, error) {
	kind, err := types.KindFromPath(path)
	if err != nil {
		return types.MediaDescriptor{}, err
	}

	if kind == types.KindVideo {
		desc, err := utils.ProbeVideo(ctx, path)
		if err != nil {
			return types.MediaDescriptor{}, &types.DecodeError{Kind: kind, Err: err}
		}
		return desc, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return types.MediaDescriptor{}, err
	}
	defer f.Close()
	cfg, format, err := image.DecodeConfig(f)
	if err != nil {
		return types.MediaDescriptor{}, &types.DecodeError{Kind: kind, Err: err}
	}
	return types.MediaDescriptor{Kind: kind, Format: format, Width: cfg.Width, Height: cfg.Height}, nil
}

func printDescriptor(out io.Writer, desc types.MediaDescriptor) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintf(w, "Kind:\t%s\n", desc.Kind)
	fmt.Fprintf(w, "Format:\t%s\n", desc.Format)
	fmt.Fprintf(w, "Size:\t%dx%d\n", desc.Width, desc.Height)
	if desc.Kind == types.KindVideo {
		fmt.Fprintf(w, "Frame rate:\t%s (%.3f fps)\n", desc.FrameRate, desc.FrameRate.Float())
		if desc.FrameCount > 0 {
			fmt.Fprintf(w, "Frames:\t%d\n", desc.FrameCount)
		} else {
			fmt.Fprintf(w, "Frames:\tunknown\n")
		}
	}
	w.Flush()
}
