package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/andresmejia3/blurface/internal/utils"
	"github.com/spf13/cobra"
)

var (
	resetJobs  bool
	resetFiles bool
	resetYes   bool
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset system state (Job history, Uploads, Results)",
	Long:  "Clears all data. By default, it resets everything. Use flags to clear specific components.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		// If no flags are set, default to clearing EVERYTHING
		if !resetJobs && !resetFiles {
			resetJobs = true
			resetFiles = true
		}

		reader := bufio.NewReader(os.Stdin)

		if resetJobs {
			if DB == nil {
				fmt.Println("ℹ️  No database configured, skipping.")
			} else if resetYes || confirm(reader, os.Stdout, "⚠️  Are you sure you want to DROP the job history?") {
				fmt.Println("🗑️  Clearing Database...")
				if err := DB.Reset(cmd.Context()); err != nil {
					utils.ShowError("Failed to reset database", err, nil)
					return err
				}
			}
		}

		if resetFiles {
			if resetYes || confirm(reader, os.Stdout, "⚠️  Are you sure you want to delete all uploads and blurred results?") {
				fmt.Println("🗑️  Clearing Uploads and Results...")
				removeDir(Cfg.UploadDir)
				removeDir(Cfg.ResultDir)
			}
		}

		fmt.Println("✨ System Reset Complete.")
		return nil
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetJobs, "jobs", false, "Clear the job history table")
	resetCmd.Flags().BoolVar(&resetFiles, "files", false, "Clear the upload and result directories")
	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "Don't ask for confirmation")
	rootCmd.AddCommand(resetCmd)
}

func confirm(r *bufio.Reader, w io.Writer, prompt string) bool {
	fmt.Fprintf(w, "%s [y/N]: ", prompt)
	res, _ := r.ReadString('\n')
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}

func removeDir(path string) {
	if err := os.RemoveAll(path); err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  Failed to remove %s: %v\n", path, err)
	}
}
