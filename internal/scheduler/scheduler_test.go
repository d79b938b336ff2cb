package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "commentbot/pkg/logx"
)

type recordingNotifier struct {
	mu     sync.Mutex
	states []string
}

func (r *recordingNotifier) Notify(state string) error {
	r.mu.Lock()
	r.states = append(r.states, state)
	r.mu.Unlock()
	return nil
}

func (r *recordingNotifier) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.states...)
}

func TestParseScheduleVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		raw    string
		kind   SpecKind
		source string
		every  time.Duration
		expr   string
	}{
		{name: "cron", raw: "*/10 * * * *", kind: SpecCron, source: "cron", expr: "*/10 * * * *"},
		{name: "descriptor", raw: "@hourly", kind: SpecCron, source: "cron", expr: "@hourly"},
		{name: "prefixed cron", raw: "cron:0 8 * * 1-5", kind: SpecCron, source: "cron", expr: "0 8 * * 1-5"},
		{name: "duration", raw: "10m", kind: SpecInterval, source: "duration", every: 10 * time.Minute, expr: "@every 10m0s"},
		{name: "prefixed interval", raw: "every:45s", kind: SpecInterval, source: "duration", every: 45 * time.Second, expr: "@every 45s"},
		{name: "hhmm", raw: "01:30", kind: SpecInterval, source: "hhmm", every: 90 * time.Minute, expr: "@every 1h30m0s"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseSchedule(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, got.Kind)
			assert.Equal(t, tt.source, got.Source)
			assert.Equal(t, tt.every, got.Every)
			assert.Equal(t, tt.expr, got.CronExpr())
		})
	}
}

func TestParseScheduleInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "not-a-schedule", "00:00", "01:75", "-5m", "every:"} {
		_, err := ParseSchedule(raw)
		assert.Error(t, err, raw)
	}
}

func TestNewRejectsBadCron(t *testing.T) {
	t.Parallel()
	_, err := New(Config{Schedule: "61 * * * *"}, logx.Nop(), &recordingNotifier{})
	assert.Error(t, err)
}

func TestNewKeepsParsedSpec(t *testing.T) {
	t.Parallel()
	s, err := New(Config{Schedule: "every:15m"}, logx.Nop(), &recordingNotifier{})
	require.NoError(t, err)
	assert.Equal(t, SpecInterval, s.Spec().Kind)
	assert.Equal(t, 15*time.Minute, s.Spec().Every)
	assert.Equal(t, "@every 15m0s", s.Spec().CronExpr())
}

func TestWrapSkipsOverlappingPasses(t *testing.T) {
	t.Parallel()
	n := &recordingNotifier{}
	s, err := New(Config{Schedule: "1h"}, logx.Nop(), n)
	require.NoError(t, err)

	var runs atomic.Int32
	release := make(chan struct{})
	started := make(chan struct{})
	job := s.wrap(context.Background(), func(ctx context.Context) (string, error) {
		if runs.Add(1) == 1 {
			close(started)
			<-release
		}
		return "ok", nil
	})

	done := make(chan struct{})
	go func() { job.Run(); close(done) }()
	<-started
	job.Run() // skipped: first pass still running
	close(release)
	<-done

	assert.Equal(t, int32(1), runs.Load())
	assert.Contains(t, n.snapshot()[0], "STATUS=last pass")
}

func TestWrapReportsFailure(t *testing.T) {
	t.Parallel()
	n := &recordingNotifier{}
	s, err := New(Config{Schedule: "1h"}, logx.Nop(), n)
	require.NoError(t, err)

	s.wrap(context.Background(), func(context.Context) (string, error) {
		return "", errors.New("canvas down")
	}).Run()

	states := n.snapshot()
	require.Len(t, states, 1)
	assert.Contains(t, states[0], "failed")
	assert.Contains(t, states[0], "canvas down")
}

func TestRunNotifiesLifecycle(t *testing.T) {
	t.Parallel()
	n := &recordingNotifier{}
	s, err := New(Config{Schedule: "1h", RunOnStart: true}, logx.Nop(), n)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	ran := make(chan struct{})
	var once sync.Once
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Run(ctx, func(context.Context) (string, error) {
			once.Do(func() { close(ran) })
			return "Detected 0 new student comments.", nil
		})
	}()

	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("startup pass did not run")
	}
	cancel()
	require.NoError(t, <-errCh)

	states := n.snapshot()
	assert.Equal(t, "READY=1", states[0])
	assert.Contains(t, states, "STOPPING=1")
}
