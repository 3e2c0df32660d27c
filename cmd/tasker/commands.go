package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"tasker/internal/app"
	"tasker/internal/config"
	"tasker/internal/tasker"
	logx "tasker/pkg/logx"
)

const defaultConfig = "./tasker.yaml"

func newRootCmd() *cobra.Command {
	var cfgPath string

	root := &cobra.Command{
		Use:           "tasker",
		Short:         "Run time-of-day schedules against switches, texts and systemd units",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), cfgPath)
		},
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", defaultConfig, "path to config (yaml or json)")

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Run the scheduler in the foreground (default)",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return run(cmd.Context(), cfgPath)
			},
		},
		&cobra.Command{
			Use:   "check",
			Short: "Validate the config and print the parsed schedules",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return check(cmd.OutOrStdout(), cmd.ErrOrStderr(), cfgPath)
			},
		},
		newHistoryCmd(&cfgPath),
	)
	return root
}

func run(parent context.Context, cfgPath string) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.NewApp(cfgPath)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		_ = a.Stop(context.Background())
		return fmt.Errorf("start: %w", err)
	}

	// SIGUSR1 dumps the schedule table at debug level.
	dump := make(chan os.Signal, 1)
	signal.Notify(dump, syscall.SIGUSR1)
	defer signal.Stop(dump)

loop:
	for {
		select {
		case <-dump:
			a.Tasker().Dump()
		case <-ctx.Done():
			break loop
		}
	}

	sctx, scancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer scancel()
	return a.Stop(sctx)
}

func loadConfig(path string) (*config.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Decode(path, data)
	if err == nil {
		err = config.Validate(cfg)
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

var errCheckFailed = errors.New("config has unparsable schedule entries")

// check prints one line per schedule. Entries the parsers skip are reported
// on errw and make the command fail.
func check(out, errw io.Writer, path string) error {
	cfg, err := loadConfig(path)
	if err != nil {
		return err
	}

	failed := false
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SCHEDULE\tDAYS\tTIMES\tACTIONS")
	for _, s := range cfg.Schedules {
		days := tasker.AllDays
		if s.Days != nil {
			var errs []*tasker.ParseError
			days, errs = tasker.ParseDays(s.Days.Initial)
			for _, e := range errs {
				fmt.Fprintf(errw, "%s.days: %v\n", s.ID, e)
				failed = true
			}
		}
		times, errs := tasker.ParseTimes(s.Times.Initial)
		for _, e := range errs {
			fmt.Fprintf(errw, "%s.times: %v\n", s.ID, e)
			failed = true
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", s.ID, days, tasker.FormatTimes(times), len(s.OnTime))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if failed {
		return errCheckFailed
	}
	return nil
}

func newHistoryCmd(cfgPath *string) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history <schedule>",
		Short: "Print recent firings of a schedule, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return history(cmd.Context(), cmd.OutOrStdout(), *cfgPath, args[0], limit)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum records to print (0 for all kept)")
	return cmd
}

func history(ctx context.Context, out io.Writer, cfgPath, schedule string, limit int) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}
	st, err := app.OpenStore(cfg, logx.Nop())
	if err != nil {
		return err
	}
	defer st.Close()

	recs, err := st.RecentFirings(ctx, schedule, limit)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Fprintf(out, "no firings recorded for %q\n", schedule)
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DATE\tTIME\tAT\tTOOK\tERROR")
	for _, r := range recs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%dms\t%s\n", r.Date, r.Time, r.At.Format(time.RFC3339), r.TookMS, r.Error)
	}
	return tw.Flush()
}
