package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/vertextoedge/filesync/internal/service/syncer"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run every stream once and exit",
	Long: `Sync lists each stream's source, selects the files that are new or
changed since the stored cursor state and copies them to the destination.
The state is checkpointed while files are read, so an interrupted run
resumes where it stopped.`,
	Example: `  filesync sync -c config.yaml
  filesync sync --stream invoices --stream reports`,
	Args: cobra.NoArgs,
	RunE: runSync,
}

var syncStreams []string

func init() {
	rootCmd.AddCommand(syncCmd)

	syncCmd.Flags().StringSliceVarP(&syncStreams, "stream", "s", nil,
		"Only sync the named streams (repeatable)")
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, appOptions{})
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = a.Close(closeCtx)
	}()

	names := syncStreams
	if len(names) == 0 {
		names = a.syncer.Streams()
	}

	out := cmd.OutOrStdout()
	var errs error
	for _, name := range names {
		result, err := a.syncer.RunStream(ctx, name)
		printRunResult(out, name, result, err)
		if err != nil {
			errs = multierr.Append(errs, err)
		}
		if ctx.Err() != nil {
			break
		}
	}
	return errs
}

func printRunResult(w io.Writer, name string, result *syncer.RunResult, err error) {
	bold := color.New(color.Bold).SprintFunc()

	if result == nil {
		fmt.Fprintf(w, "%s %s: %v\n", color.RedString("✗"), bold(name), err)
		return
	}

	mark := color.GreenString("✓")
	switch {
	case errors.Is(err, syncer.ErrFilesFailed):
		mark = color.YellowString("!")
	case err != nil:
		mark = color.RedString("✗")
	}

	fmt.Fprintf(w, "%s %s: %d listed, %d selected, %d synced (%s)",
		mark, bold(name),
		result.Listed, result.Selected, result.Synced,
		humanize.IBytes(uint64(result.Bytes)))
	if result.Failed > 0 {
		fmt.Fprintf(w, ", %s", color.RedString("%d failed", result.Failed))
	}
	if result.Skipped > 0 {
		fmt.Fprintf(w, ", %d skipped", result.Skipped)
	}
	fmt.Fprintf(w, " in %s\n", result.Duration.Round(time.Millisecond))
	if result.Cursor != "" {
		fmt.Fprintf(w, "  cursor %s\n", color.CyanString(result.Cursor))
	}
}
