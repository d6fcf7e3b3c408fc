package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/chronicle/internal/bus"
	"github.com/roach88/chronicle/internal/config"
	"github.com/roach88/chronicle/internal/event"
	"github.com/roach88/chronicle/internal/pipeline"
)

// NewServeCommand creates the serve command: run the recorder against the
// in-process host until interrupted.
func NewServeCommand(opts *RootOptions) *cobra.Command {
	var readyTimeout time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the recorder until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, readyTimeout)
		},
	}

	cmd.Flags().DurationVar(&readyTimeout, "ready-timeout", 2*time.Minute,
		"how long to wait for the storage connection before giving up")

	return cmd
}

func runServe(opts *RootOptions, readyTimeout time.Duration) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	host := bus.New(nil)
	defer host.Close()

	rec, err := pipeline.New(pipeline.Config{
		URL:      cfg.DBURL,
		KeepDays: cfg.KeepDays,
		Filter:   cfg.FilterConfig(),
	}, host)
	if err != nil {
		return err
	}

	rec.Start()

	ctx, cancel := context.WithTimeout(context.Background(), readyTimeout)
	defer cancel()
	if err := rec.WaitUntilReady(ctx); err != nil {
		return fmt.Errorf("recorder not ready: %w", err)
	}

	host.Fire(event.TypeHostStart, nil)
	fmt.Fprintf(os.Stdout, "recording to %s (run started %s)\n",
		cfg.DBURL, rec.RecordingStart().Format(time.RFC3339))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	// Firing host_stop blocks until the queue is drained and the worker
	// has closed the run and the connection.
	host.Fire(event.TypeHostStop, nil)
	fmt.Fprintln(os.Stdout, "recorder stopped")
	return nil
}

func loadConfig(opts *RootOptions) (config.Config, error) {
	if opts.ConfigPath == "" {
		return config.Config{}.WithDefaults(opts.DataDir), nil
	}
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return config.Config{}, err
	}
	return cfg.WithDefaults(opts.DataDir), nil
}
