package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dwizi/switchboard/internal/dasherr"
	"github.com/dwizi/switchboard/internal/linemask"
	"github.com/dwizi/switchboard/internal/linestate"
	"github.com/dwizi/switchboard/internal/session"
	"github.com/dwizi/switchboard/internal/tui"
)

func newStatusCommand(opts *options, logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Fetch the current line status and print it as a table",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := session.New(opts.oneShotConfig(), logger)
			if err != nil {
				return err
			}
			defer sess.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout())
			defer cancel()
			result, err := sess.Bootstrap(ctx)
			if err != nil && !result.LinesOK && !result.MaskOK {
				return err
			}
			if err != nil {
				cmd.PrintErrf("warning: %v\n", err)
			}
			printLineTable(cmd.OutOrStdout(), sess.Store())
			return nil
		},
	}
}

func newToggleCommand(opts *options, logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "toggle <line>",
		Short: "Flip a line between active and inactive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			line, err := parseLine(args[0])
			if err != nil {
				return err
			}
			sess, err := session.New(opts.oneShotConfig(), logger)
			if err != nil {
				return err
			}
			defer sess.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout())
			defer cancel()
			if _, err := sess.ToggleActive(ctx, line); err != nil {
				return err
			}
			store := sess.Store()
			state := "inactive"
			if store.IsActive(line) {
				state = "active"
			}
			cmd.Printf("Line %d is now %s.\n", line, state)
			cmd.Printf("Active lines: %s\n", joinInts(linemask.ActiveLines(store.Mask(), store.Lines())))
			return nil
		},
	}
}

func newSetFieldCommand(opts *options, logger *slog.Logger, use string) *cobra.Command {
	field := linestate.FieldPhone
	if use == "set-name" {
		field = linestate.FieldName
	}
	return &cobra.Command{
		Use:   use + " <line> <value>",
		Short: fmt.Sprintf("Save a line's %s after local validation", field),
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			line, err := parseLine(args[0])
			if err != nil {
				return err
			}
			sess, err := session.New(opts.oneShotConfig(), logger)
			if err != nil {
				return err
			}
			defer sess.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout())
			defer cancel()
			result, err := sess.Bootstrap(ctx)
			if !result.LinesOK {
				// Uniqueness cannot be checked without the current values.
				if err == nil {
					err = errors.New("line status unavailable")
				}
				return err
			}
			if result.MaskOK && !sess.Store().IsActive(line) {
				return fmt.Errorf("line %d is inactive", line)
			}

			if err := sess.Editor().Commit(ctx, line, field, args[1]); err != nil {
				cmd.PrintErrln(dasherr.Describe(err))
				return err
			}
			cmd.Println(sess.Editor().Status())
			return nil
		},
	}
}

func newWatchCommand(opts *options, logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow the push channel and print every line change",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := session.New(opts.config(), logger)
			if err != nil {
				return err
			}
			defer sess.Close()

			ctx, cancel := signalContext(cmd)
			defer cancel()

			sub := sess.Store().Subscribe()
			defer sess.Store().Unsubscribe(sub)

			out := cmd.OutOrStdout()
			group, groupCtx := errgroup.WithContext(ctx)
			group.Go(func() error {
				return sess.Run(groupCtx)
			})
			group.Go(func() error {
				for {
					select {
					case <-groupCtx.Done():
						return nil
					case <-sub.Ready():
						for _, change := range sub.Drain() {
							printChange(out, sess.Store(), change)
						}
					}
				}
			})
			err = group.Wait()
			printStats(out, sess.Stats())
			return err
		},
	}
}

func newDashboardCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "dashboard",
		Short: "Run the interactive line dashboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.config()
			dashLogger, closeLog, err := dashboardLogger(cfg.LogFile, cfg.SlogLevel())
			if err != nil {
				return err
			}
			defer closeLog()

			sess, err := session.New(cfg, dashLogger)
			if err != nil {
				return err
			}
			defer sess.Close()

			ctx, cancel := signalContext(cmd)
			defer cancel()

			group, groupCtx := errgroup.WithContext(ctx)
			group.Go(func() error {
				return sess.Run(groupCtx)
			})
			group.Go(func() error {
				defer cancel()
				return tui.Run(groupCtx, sess, cfg.WaitForBootstrap, dashLogger)
			})
			return group.Wait()
		},
	}
}

func printLineTable(out io.Writer, store *linestate.Store) {
	bold := color.New(color.Bold)
	activeColor := color.New(color.FgGreen, color.Bold)
	inactiveColor := color.New(color.Faint)

	tbl := uitable.New()
	tbl.Separator = "  "
	tbl.AddRow(
		bold.Sprint("LINE"),
		bold.Sprint("ACTIVE"),
		bold.Sprint("STATUS"),
		bold.Sprint("PHONE"),
		bold.Sprint("NAME"),
		bold.Sprint("IN"),
		bold.Sprint("OUT"),
	)
	for id := 0; id < store.Lines(); id++ {
		if !store.IsActive(id) {
			tbl.AddRow(id, inactiveColor.Sprint("inactive"), "", "", "", "", "")
			continue
		}
		record, ok := store.Record(id)
		if !ok {
			record = linestate.Record{ID: id, IncomingFrom: linestate.NoPeer, OutgoingTo: linestate.NoPeer}
		}
		tbl.AddRow(
			id,
			activeColor.Sprint("active"),
			tui.StatusLabel(record.Status),
			record.Phone,
			record.Name,
			peer(record.IncomingFrom),
			peer(record.OutgoingTo),
		)
	}
	tbl.RightAlign(0)
	fmt.Fprintln(out, tbl)
}

func printChange(out io.Writer, store *linestate.Store, change linestate.Change) {
	if !store.IsActive(change.LineID) {
		fmt.Fprintf(out, "line %d %s: %s\n", change.LineID, change.Kind, color.New(color.Faint).Sprint("inactive"))
		return
	}
	record, _ := store.Record(change.LineID)
	fmt.Fprintf(out, "line %d %s: %s status=%s phone=%q name=%q in=%s out=%s\n",
		change.LineID,
		change.Kind,
		color.New(color.FgGreen).Sprint("active"),
		tui.StatusLabel(record.Status),
		record.Phone,
		record.Name,
		peer(record.IncomingFrom),
		peer(record.OutgoingTo),
	)
}

func printStats(out io.Writer, stats session.StreamStats) {
	fmt.Fprintf(out, "push channel: %d connects, %d messages (%d snapshots, %d status, %d mask, %d ignored, %d dropped)\n",
		stats.Connects,
		stats.Messages,
		stats.Snapshots,
		stats.StatusDeltas,
		stats.MaskUpdates,
		stats.Ignored,
		stats.Dropped,
	)
}

func parseLine(raw string) (int, error) {
	line, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid line %q: %w", raw, err)
	}
	return line, nil
}

func peer(id int) string {
	if id == linestate.NoPeer {
		return "-"
	}
	return strconv.Itoa(id)
}

func joinInts(values []int) string {
	if len(values) == 0 {
		return "none"
	}
	parts := make([]string, 0, len(values))
	for _, value := range values {
		parts = append(parts, strconv.Itoa(value))
	}
	return strings.Join(parts, ", ")
}
