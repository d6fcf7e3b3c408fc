package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/chronicle/internal/purge"
	"github.com/roach88/chronicle/internal/store"
)

// NewPurgeCommand creates the purge command: a one-shot retention purge
// against a database that is not being actively recorded to.
func NewPurgeCommand(opts *RootOptions) *cobra.Command {
	var keepDays int

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete recorded data older than the retention window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPurge(opts, keepDays)
		},
	}

	cmd.Flags().IntVar(&keepDays, "keep-days", 0, "retention window in days (overrides config)")

	return cmd
}

func runPurge(opts *RootOptions, keepDays int) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	if keepDays == 0 {
		keepDays = cfg.KeepDays
	}
	if keepDays <= 0 {
		return fmt.Errorf("no retention window: set keep_days in config or pass --keep-days")
	}

	st, err := store.Open(cfg.DBURL)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := store.Migrate(st); err != nil {
		return err
	}

	return purge.Run(context.Background(), st, keepDays, time.Now().UTC())
}
