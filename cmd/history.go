package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/blurface/internal/store"
	"github.com/andresmejia3/blurface/internal/utils"
	"github.com/spf13/cobra"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent redaction jobs from the database",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runHistory(cmd.Context(), historyLimit)
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of jobs to show")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(ctx context.Context, limit int) error {
	if DB == nil {
		err := fmt.Errorf("set --db, BLURFACE_DB or POSTGRES_HOST")
		utils.ShowError("No database configured", err, nil)
		return err
	}

	jobs, err := DB.ListJobs(ctx, limit)
	if err != nil {
		utils.ShowError("Failed to list jobs", err, nil)
		return err
	}

	if len(jobs) == 0 {
		fmt.Println("No jobs found in database.")
		return nil
	}
	printJobs(os.Stdout, jobs)
	return nil
}

func printJobs(out io.Writer, jobs []store.Job) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "CREATED\tKIND\tSTATUS\tFACES\tFRAMES\tSOURCE\tOUTPUT")
	fmt.Fprintln(w, "-------\t----\t------\t-----\t------\t------\t------")

	for _, j := range jobs {
		output := j.Output
		if j.Status == store.StatusFailed {
			output = j.Error
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n", j.CreatedAt.Local().Format("2006-01-02 15:04"), j.Kind, j.Status, j.Faces, j.Frames, j.Source, output)
	}
	w.Flush()
}
