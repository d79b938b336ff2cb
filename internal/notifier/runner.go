package notifier

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"commentbot/internal/canvas"
	"commentbot/internal/collector"
	"commentbot/internal/delivery"
	"commentbot/internal/groups"
	"commentbot/internal/identity"
	"commentbot/internal/storage"
	logx "commentbot/pkg/logx"
)

// Runner wires one pass together. Source, Store and Sink are required; Sink
// is not used on dry runs.
type Runner struct {
	Source collector.Source
	Store  storage.Store
	Sink   delivery.Sink
	Groups groups.Map
	Course canvas.Course

	// Now defaults to time.Now.
	Now func() time.Time
	Log logx.Logger
	// Out receives the human-readable summary lines. Nil discards them.
	Out io.Writer
}

type keyed struct {
	key string
	ev  collector.Event
}

// Run executes one pass. Delivery failures are counted, not returned; an
// error means collection or persistence failed.
func (r *Runner) Run(ctx context.Context, opts Options) (Report, error) {
	rep := Report{RunID: uuid.NewString(), DryRun: opts.DryRun}
	log := r.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("run_id", rep.RunID), logx.Int64("course_id", r.Course.ID))
	out := r.Out
	if out == nil {
		out = io.Discard
	}
	if r.Source == nil || r.Store == nil {
		return rep, fmt.Errorf("notifier: source and store are required")
	}
	if !opts.DryRun && r.Sink == nil {
		return rep, fmt.Errorf("notifier: sink is required")
	}

	events, err := collector.Collect(ctx, r.Source, r.Course, r.Groups, log)
	if err != nil {
		return rep, err
	}
	rep.Candidates = len(events)

	unseen := make([]keyed, 0, len(events))
	for _, ev := range events {
		k := identity.Key(r.Course.ID, ev.AssignmentID, ev.SubmissionUserID, identity.Comment{
			ID:        ev.Comment.ID,
			AuthorID:  ev.Comment.AuthorID,
			CreatedAt: ev.Comment.CreatedAt,
			Text:      ev.Comment.Comment,
		})
		if r.Store.Has(k) {
			continue
		}
		unseen = append(unseen, keyed{key: k, ev: ev})
	}
	rep.Unseen = len(unseen)
	existed := r.Store.Existed()
	log.Info("collected comments",
		logx.Int("candidates", rep.Candidates),
		logx.Int("unseen", rep.Unseen),
		logx.Bool("state_existed", existed),
	)

	label := sinkLabel(opts.SinkName, r.Sink)
	switch {
	case opts.DryRun:
		fmt.Fprintf(out, "DRY_RUN enabled. %d comments would be sent to %s.\n", len(unseen), label)
		for _, u := range unseen {
			fmt.Fprintf(out, "- %s | %s | %s\n", u.ev.CreatedAtOr("unknown"), u.ev.AssignmentName, u.ev.AuthorName)
		}
		return rep, nil

	case !existed && opts.baseline():
		rep.Baseline = true
		for _, u := range unseen {
			r.Store.Put(u.key, r.record(u.ev))
		}
		if err := r.Store.Flush(ctx); err != nil {
			return rep, fmt.Errorf("save state: %w", err)
		}
		rep.Persisted = true
		fmt.Fprintf(out, "First run baseline complete. Added %d existing comments to state.\n", len(unseen))
		log.Info("first run baseline recorded", logx.Int("recorded", len(unseen)))
		return rep, nil
	}

	var runErr error
	for _, u := range unseen {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		if r.Store.Has(u.key) {
			// Same comment listed twice in one pass.
			continue
		}
		if !r.Sink.Deliver(ctx, delivery.FormatText(u.ev)) {
			rep.Failed++
			log.Warn("comment not delivered; will retry next run",
				logx.OptInt64("assignment_id", u.ev.AssignmentID),
				logx.Int64("author_id", u.ev.AuthorID),
			)
			continue
		}
		r.Store.Put(u.key, r.record(u.ev))
		rep.Sent++
	}

	if rep.Sent > 0 || (!existed && len(unseen) == 0) {
		// Delivered comments are saved even when the pass was cancelled.
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flushTimeout)
		err := r.Store.Flush(fctx)
		cancel()
		if err != nil {
			return rep, errors.Join(runErr, fmt.Errorf("save state: %w", err))
		}
		rep.Persisted = true
	}

	fmt.Fprintf(out, "Detected %d new student comments. Sent %d to %s.\n", rep.Unseen, rep.Sent, label)
	log.Info("notification pass complete",
		logx.Int("unseen", rep.Unseen),
		logx.Int("sent", rep.Sent),
		logx.Int("failed", rep.Failed),
		logx.Bool("persisted", rep.Persisted),
	)
	return rep, runErr
}

func (r *Runner) record(ev collector.Event) storage.Record {
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	author := ev.AuthorID
	return storage.Record{
		AssignmentID: ev.AssignmentID,
		AuthorID:     &author,
		CreatedAt:    ev.CreatedAt,
		SavedAt:      now().UTC().Format(storage.SavedAtLayout),
	}
}

// flushTimeout bounds the final state write after delivery.
const flushTimeout = 30 * time.Second

// sinkLabel names the destination in the summary lines. name wins over the
// sink so a dry run, which builds no sink, still reports the configured one.
func sinkLabel(name string, s delivery.Sink) string {
	if name == "" && s != nil {
		name = s.Name()
	}
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "telegram":
		return "Telegram"
	default:
		return "Teams"
	}
}
