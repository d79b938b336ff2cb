package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	logx "commentbot/pkg/logx"
)

var runDryRun bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one notification pass and exit",
	Long: `Collect comments once, deliver the ones not seen before and update the
dedupe state. On the very first run (no state yet) with FIRST_RUN_BEHAVIOR=baseline
existing comments are recorded without being sent.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logs, log := logx.New(logConfig(cfg))
		defer logs.Close()

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		_, err = runPass(ctx, cfg, cfg.DryRun || runDryRun, log, logx.Stdout())
		return err
	},
}

func init() {
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "print what would be sent without delivering or saving state (same as DRY_RUN=1)")
}
