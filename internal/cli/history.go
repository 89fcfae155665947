package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"github.com/dwizi/switchboard/internal/journal"
	"github.com/dwizi/switchboard/internal/tui"
)

func newHistoryCommand(opts *options) *cobra.Command {
	var (
		limit int
		line  int
		path  string
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print recent line changes recorded in the journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			journalPath := strings.TrimSpace(path)
			if journalPath == "" {
				journalPath = opts.config().JournalPath
			}
			if journalPath == "" {
				return fmt.Errorf("no journal configured: set SWITCHBOARD_JOURNAL_PATH or --journal")
			}
			store, err := journal.New(journalPath)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout())
			defer cancel()
			if err := store.AutoMigrate(ctx); err != nil {
				return err
			}
			events, err := store.Recent(ctx, line, limit)
			if err != nil {
				return err
			}
			if len(events) == 0 {
				cmd.Println("No recorded changes.")
				return nil
			}

			bold := color.New(color.Bold)
			tbl := uitable.New()
			tbl.Separator = "  "
			tbl.MaxColWidth = 40
			tbl.AddRow(
				bold.Sprint("TIME"),
				bold.Sprint("LINE"),
				bold.Sprint("KIND"),
				bold.Sprint("ACTIVE"),
				bold.Sprint("STATUS"),
				bold.Sprint("PHONE"),
				bold.Sprint("NAME"),
			)
			for _, event := range events {
				active := "no"
				if event.Active {
					active = "yes"
				}
				tbl.AddRow(
					event.CreatedAt.Local().Format(time.DateTime),
					event.LineID,
					event.Kind,
					active,
					tui.StatusLabel(event.Status),
					event.Phone,
					event.Name,
				)
			}
			fmt.Fprintln(cmd.OutOrStdout(), tbl)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of rows")
	cmd.Flags().IntVar(&line, "line", -1, "only show this line (default all lines)")
	cmd.Flags().StringVar(&path, "journal", "", "journal database path (overrides SWITCHBOARD_JOURNAL_PATH)")
	return cmd
}
