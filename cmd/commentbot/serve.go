package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"commentbot/internal/config"
	"commentbot/internal/runtime/supervisor"
	"commentbot/internal/scheduler"
	logx "commentbot/pkg/logx"
)

var serveSchedule string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run notification passes on a schedule",
	Long: `Stay in the foreground and run a pass at startup and then on every tick of
the schedule (SCHEDULE, default every ten minutes). Changes to the config
file are picked up without a restart; the group map is re-read on every pass.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		logs, log := logx.New(logConfig(cfg))
		defer logs.Close()

		spec := cfg.Schedule
		if serveSchedule != "" {
			spec = serveSchedule
		}
		sched, err := scheduler.New(scheduler.Config{Schedule: spec, RunOnStart: true}, log, nil)
		if err != nil {
			return err
		}

		log.Info("serve starting",
			logx.String("schedule", sched.Spec().String()),
			logx.String("sink", cfg.Sink),
			logx.String("state_driver", cfg.StateDriver),
			logx.Bool("dry_run", cfg.DryRun),
		)

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		var current atomic.Pointer[config.Config]
		current.Store(cfg)

		watched := []string{cfg.GroupsFile}
		if configFile != "" {
			watched = append(watched, configFile)
		}
		sup := supervisor.New(ctx, supervisor.WithLogger(log), supervisor.WithCancelOnError(true))
		sup.GoRestart("config.watch", func(ctx context.Context) error {
			return config.Watch(ctx, watched, log, func(path string) {
				if path != configFile {
					log.Info("group map changed; next pass picks it up", logx.String("path", path))
					return
				}
				next, err := loadConfig()
				if err == nil {
					err = next.Validate()
				}
				if err != nil {
					log.Warn("config reload rejected", logx.String("path", path), logx.Err(err))
					return
				}
				current.Store(next)
				logs.Apply(logConfig(next))
				log.Info("config reloaded", logx.String("path", filepath.Clean(path)))
			})
		}, time.Second, 30*time.Second)

		sup.Go("scheduler", func(ctx context.Context) error {
			return sched.Run(ctx, func(ctx context.Context) (string, error) {
				c := *current.Load()
				rep, err := runPass(ctx, &c, c.DryRun, log, logx.Stdout())
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("detected %d, sent %d, failed %d", rep.Unseen, rep.Sent, rep.Failed), nil
			})
		})

		return sup.Wait(context.Background())
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveSchedule, "schedule", "", "cron expression, duration or HH:MM interval (overrides SCHEDULE)")
}
