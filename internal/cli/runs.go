package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/chronicle/internal/store"
)

// NewRunsCommand creates the runs command: list recorder runs for
// inspection and debugging.
func NewRunsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "runs",
		Short: "List recorder runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRuns(opts)
		},
	}
}

func runRuns(opts *RootOptions) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	st, err := store.Open(cfg.DBURL)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := store.Migrate(st); err != nil {
		return err
	}

	runs, err := st.Runs(context.Background())
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tSTART\tEND\tCLOSED INCORRECT")
	for _, run := range runs {
		end := "open"
		if run.End != nil {
			end = run.End.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%t\n",
			run.RunID, run.Start.Format(time.RFC3339), end, run.ClosedIncorrect)
	}
	return w.Flush()
}
