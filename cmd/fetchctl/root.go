package main

import (
	"context"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kbukum/fetchkit/logger"
)

const shutdownTimeout = 5 * time.Second

// rootOptions are the flags every command shares.
type rootOptions struct {
	configFile  string
	envFile     string
	verbose     bool
	noColor     bool
	showMetrics bool
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	o := &rootOptions{}
	cmd := &cobra.Command{
		Use:   appName,
		Short: "Send HTTP requests through fetchkit sessions",
		Long: `fetchctl sends single requests or YAML batches of requests through
fetchkit sessions that share one connection pool. Batches run concurrently
on a single multiplexer.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetOut(out)
	cmd.SetErr(errOut)

	flags := cmd.PersistentFlags()
	flags.StringVar(&o.configFile, "config", "", "Path to config file (default: fetchctl.yml search path)")
	flags.StringVar(&o.envFile, "env-file", "", "Path to .env file")
	flags.BoolVarP(&o.verbose, "verbose", "v", false, "Log every request at debug level")
	flags.BoolVar(&o.noColor, "no-color", false, "Disable colored output")
	flags.BoolVar(&o.showMetrics, "metrics", false, "Print connection pool metrics after the command")

	cmd.AddCommand(newGetCmd(o))
	cmd.AddCommand(newBatchCmd(o))
	cmd.AddCommand(newVersionCmd())
	return cmd
}

// run loads settings, builds the shared app and tears it down after fn.
func (o *rootOptions) run(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	if o.noColor {
		color.NoColor = true
	}
	s, err := loadSettings(o.configFile, o.envFile)
	if err != nil {
		return exitWith(ExitConfigError, err)
	}
	if o.verbose {
		s.Logging.Level = "debug"
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, s, cmd.OutOrStdout(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	runErr := fn(ctx, a)

	if o.showMetrics {
		if err := a.writeMetrics(cmd.ErrOrStderr()); err != nil {
			a.log.Warn("gather metrics", logger.ErrorFields("metrics", err))
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := a.close(shutdownCtx); err != nil {
		a.log.Warn("shutdown", logger.ErrorFields("close", err))
	}
	return runErr
}
