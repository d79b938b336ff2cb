package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "commentbot/pkg/logx"
)

// Job is one notification pass. Its summary ends up in the systemd status.
type Job func(ctx context.Context) (summary string, err error)

// Config controls a Scheduler.
type Config struct {
	Schedule string
	// Location for cron expressions. Nil means time.Local.
	Location *time.Location
	// RunOnStart triggers one pass right after startup.
	RunOnStart bool
}

// Scheduler runs a Job on a schedule, one pass at a time.
type Scheduler struct {
	spec     Spec
	cfg      Config
	log      logx.Logger
	notifier Notifier
	parser   cron.Parser
}

func New(cfg Config, log logx.Logger, n Notifier) (*Scheduler, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	spec, err := ParseSchedule(cfg.Schedule)
	if err != nil {
		return nil, err
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(spec.CronExpr()); err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", cfg.Schedule, err)
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if n == nil {
		n = SystemdNotifier{Log: log}
	}
	return &Scheduler{
		spec:     spec,
		cfg:      cfg,
		log:      log.With(logx.String("comp", "scheduler")),
		notifier: n,
		parser:   parser,
	}, nil
}

// Spec returns the parsed schedule.
func (s *Scheduler) Spec() Spec { return s.spec }

// Run blocks until ctx is done, then waits for an in-flight pass to return.
func (s *Scheduler) Run(ctx context.Context, job Job) error {
	c := cron.New(cron.WithParser(s.parser), cron.WithLocation(s.cfg.Location))
	wrapped := s.wrap(ctx, job)
	sched, err := s.parser.Parse(s.spec.CronExpr())
	if err != nil {
		return err
	}
	if _, err := c.AddJob(s.spec.CronExpr(), wrapped); err != nil {
		return fmt.Errorf("schedule job: %w", err)
	}
	c.Start()
	s.notify("READY=1")
	s.notify(statusLine("waiting for first pass"))
	s.log.Info("scheduler started",
		logx.String("schedule", s.spec.String()),
		logx.String("tz", s.cfg.Location.String()),
		logx.Time("next", sched.Next(time.Now().In(s.cfg.Location))),
	)

	var startup sync.WaitGroup
	if s.cfg.RunOnStart {
		startup.Add(1)
		go func() {
			defer startup.Done()
			wrapped.Run()
		}()
	}

	<-ctx.Done()
	s.notify("STOPPING=1")
	s.log.Info("scheduler stopping")
	<-c.Stop().Done()
	startup.Wait()
	return nil
}

// wrap adds overlap protection and status reporting around job.
func (s *Scheduler) wrap(ctx context.Context, job Job) cron.Job {
	inner := cron.FuncJob(func() {
		if ctx.Err() != nil {
			return
		}
		start := time.Now()
		summary, err := job(ctx)
		took := time.Since(start).Round(time.Millisecond)
		if err != nil {
			s.log.Error("scheduled pass failed", logx.Err(err), logx.Duration("took", took))
			s.notify(statusLine(fmt.Sprintf("last pass failed at %s: %v", start.Format(time.RFC3339), err)))
			return
		}
		s.log.Info("scheduled pass finished", logx.String("summary", summary), logx.Duration("took", took))
		s.notify(statusLine(fmt.Sprintf("last pass %s: %s", start.Format(time.RFC3339), summary)))
	})
	return cron.NewChain(cron.SkipIfStillRunning(cronLogger{log: s.log})).Then(inner)
}

func (s *Scheduler) notify(state string) {
	if err := s.notifier.Notify(state); err != nil {
		s.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
	}
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct {
	log logx.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []interface{}) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			k = fmt.Sprint(kv[i])
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
