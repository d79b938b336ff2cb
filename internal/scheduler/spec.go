package scheduler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// SpecKind is the normalized kind of a schedule string.
type SpecKind int

const (
	SpecCron SpecKind = iota
	SpecInterval
)

// Spec is a parsed schedule.
//
// Accepted forms:
//   - cron: "*/10 * * * *", "@hourly", "@every 10m"
//   - Go duration: "10m", "1h30m"
//   - HH:MM interval: "00:10" (ten minutes), "01:30"
//
// The prefixes "cron:" and "every:" force one interpretation.
type Spec struct {
	Kind   SpecKind
	Cron   string
	Every  time.Duration
	Source string // "cron" | "duration" | "hhmm"
}

// CronExpr returns the expression to hand to the cron parser.
func (s Spec) CronExpr() string {
	if s.Kind == SpecInterval {
		return "@every " + s.Every.String()
	}
	return s.Cron
}

func (s Spec) String() string {
	if s.Kind == SpecInterval {
		return "every " + s.Every.String()
	}
	return s.Cron
}

var reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

// ParseSchedule parses raw into a cron expression or a fixed interval.
func ParseSchedule(raw string) (Spec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Spec{}, fmt.Errorf("schedule required")
	}

	low := strings.ToLower(s)
	switch {
	case strings.HasPrefix(low, "cron:"):
		expr := strings.TrimSpace(s[len("cron:"):])
		if expr == "" {
			return Spec{}, fmt.Errorf("cron expression required after 'cron:'")
		}
		return Spec{Kind: SpecCron, Cron: expr, Source: "cron"}, nil
	case strings.HasPrefix(low, "every:"):
		return parseInterval(s[len("every:"):])
	case strings.ContainsAny(s, " \t") || strings.HasPrefix(s, "@"):
		return Spec{Kind: SpecCron, Cron: s, Source: "cron"}, nil
	}

	if sp, err := parseInterval(s); err == nil {
		return sp, nil
	}
	return Spec{}, fmt.Errorf(
		"invalid schedule %q (use cron like '*/10 * * * *', HH:MM like '00:10', or a duration like '10m')",
		raw,
	)
}

func parseInterval(v string) (Spec, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return Spec{}, fmt.Errorf("interval required")
	}
	if m := reHHMM.FindStringSubmatch(v); m != nil {
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if mm > 59 {
			return Spec{}, fmt.Errorf("invalid minutes in %q", v)
		}
		d := time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
		if d <= 0 {
			return Spec{}, fmt.Errorf("interval must be > 0")
		}
		return Spec{Kind: SpecInterval, Every: d, Source: "hhmm"}, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return Spec{}, fmt.Errorf("invalid interval %q: %w", v, err)
	}
	if d <= 0 {
		return Spec{}, fmt.Errorf("interval must be > 0")
	}
	return Spec{Kind: SpecInterval, Every: d, Source: "duration"}, nil
}
