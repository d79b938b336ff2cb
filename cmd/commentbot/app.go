package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"commentbot/internal/canvas"
	"commentbot/internal/config"
	"commentbot/internal/delivery"
	"commentbot/internal/groups"
	"commentbot/internal/notifier"
	"commentbot/internal/storage"
	logx "commentbot/pkg/logx"
)

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(config.Options{File: configFile, DotEnv: envFile})
	if err != nil {
		return nil, err
	}
	if lvl := strings.TrimSpace(logLevel); lvl != "" {
		cfg.LogLevel = strings.ToLower(lvl)
	}
	return cfg, nil
}

func logConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.LogLevel,
		Console: true,
		JSON:    cfg.LogJSON,
		File:    logx.FileConfig{Enabled: cfg.LogFile != "", Path: cfg.LogFile},
	}
}

func newSink(cfg *config.Config, log logx.Logger) (delivery.Sink, error) {
	switch cfg.Sink {
	case config.SinkTelegram:
		return delivery.NewTelegram(delivery.TelegramConfig{
			Token:   cfg.TelegramToken,
			ChatID:  cfg.TelegramChatID,
			Timeout: cfg.HTTPTimeout,
		}, log)
	default:
		return delivery.NewWebhook(delivery.WebhookConfig{
			URL:        cfg.TeamsWebhookURL,
			RatePerSec: cfg.WebhookRatePerSec,
		}, log)
	}
}

// runPass performs one full notification pass: load the group map and the
// dedupe state, resolve the course, then hand off to the notifier.
func runPass(ctx context.Context, cfg *config.Config, dryRun bool, log logx.Logger, out io.Writer) (notifier.Report, error) {
	if err := cfg.Validate(); err != nil {
		return notifier.Report{}, err
	}
	if err := cfg.ResolveToken(); err != nil {
		return notifier.Report{}, err
	}

	members, err := groups.Load(cfg.GroupsFile)
	if err != nil {
		return notifier.Report{}, err
	}
	log.Debug("group map loaded", logx.String("path", cfg.GroupsFile), logx.Int("members", len(members)))

	store, err := storage.Open(storage.Config{Driver: cfg.StateDriver, Path: cfg.StateFile}, log)
	if err != nil {
		return notifier.Report{}, err
	}
	defer store.Close()

	client, err := canvas.New(canvas.Config{
		BaseURL:    cfg.CanvasAPIBase,
		Token:      cfg.CanvasToken,
		Timeout:    cfg.HTTPTimeout,
		RatePerSec: cfg.CanvasRatePerSec,
	}, log)
	if err != nil {
		return notifier.Report{}, err
	}

	var sink delivery.Sink
	if !dryRun {
		if sink, err = newSink(cfg, log); err != nil {
			return notifier.Report{}, err
		}
	}

	me, err := client.CurrentUser(ctx)
	if err != nil {
		return notifier.Report{}, fmt.Errorf("fetch current user: %w", err)
	}
	course, err := client.Course(ctx, cfg.CourseID)
	if err != nil {
		return notifier.Report{}, fmt.Errorf("fetch course %d: %w", cfg.CourseID, err)
	}
	fmt.Fprintf(out, "Canvas user: %s (%d)\n", me.Name, me.ID)
	fmt.Fprintf(out, "Course: %s (%d)\n", course.Name, course.ID)

	r := &notifier.Runner{
		Source: client,
		Store:  store,
		Sink:   sink,
		Groups: members,
		Course: course,
		Log:    log,
		Out:    out,
	}
	return r.Run(ctx, notifier.Options{DryRun: dryRun, FirstRunPolicy: cfg.FirstRunBehavior, SinkName: cfg.Sink})
}
