package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dwizi/switchboard/internal/config"
)

const version = "0.1.0"

// options carries the persistent flags shared by every command.
type options struct {
	controllerURL string
	lineCount     int
	timeoutSec    int
}

func (o *options) config() config.Config {
	cfg := config.FromEnv()
	if url := strings.TrimSpace(o.controllerURL); url != "" {
		cfg.ControllerURL = url
	}
	if o.lineCount > 0 {
		cfg.LineCount = min(o.lineCount, 64)
	}
	return cfg
}

// oneShotConfig is used by commands that exit after a single exchange with
// the controller. They never write the journal, and --timeout-sec bounds
// each request as well as the whole command.
func (o *options) oneShotConfig() config.Config {
	cfg := o.config()
	cfg.JournalPath = ""
	cfg.ResyncSchedule = ""
	cfg.HTTPTimeoutSec = int(o.timeout() / time.Second)
	return cfg
}

func (o *options) timeout() time.Duration {
	if o.timeoutSec <= 0 {
		return 30 * time.Second
	}
	if o.timeoutSec > 300 {
		return 300 * time.Second
	}
	return time.Duration(o.timeoutSec) * time.Second
}

func NewRoot(logger *slog.Logger) *cobra.Command {
	if logger == nil {
		logger = slog.Default()
	}
	opts := &options{}
	root := &cobra.Command{
		Use:          "switchboard",
		Short:        "Switchboard is a live dashboard for a multi-line telephone exchange",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.controllerURL, "controller", "", "controller base URL (overrides SWITCHBOARD_CONTROLLER_URL)")
	root.PersistentFlags().IntVar(&opts.lineCount, "lines", 0, "number of lines on the exchange (overrides SWITCHBOARD_LINE_COUNT)")
	root.PersistentFlags().IntVar(&opts.timeoutSec, "timeout-sec", 30, "request timeout in seconds for one-shot commands")

	root.AddCommand(newDashboardCommand(opts))
	root.AddCommand(newStatusCommand(opts, logger))
	root.AddCommand(newWatchCommand(opts, logger))
	root.AddCommand(newToggleCommand(opts, logger))
	root.AddCommand(newSetFieldCommand(opts, logger, "set-phone"))
	root.AddCommand(newSetFieldCommand(opts, logger, "set-name"))
	root.AddCommand(newHistoryCommand(opts))
	root.AddCommand(newVersionCommand())

	return root
}

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print CLI version",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println(version)
		},
	}
}
