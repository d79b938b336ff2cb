package notifier

import "strings"

// PolicyBaseline is the first-run policy that records existing comments
// without delivering them.
const PolicyBaseline = "baseline"

// Options controls a single pass.
type Options struct {
	DryRun bool
	// FirstRunPolicy applies only when the dedupe store did not exist yet.
	FirstRunPolicy string
	// SinkName is the configured sink ("teams", "telegram"). It labels the
	// summary lines; when empty the Runner's Sink names itself.
	SinkName string
}

func (o Options) baseline() bool {
	return strings.EqualFold(strings.TrimSpace(o.FirstRunPolicy), PolicyBaseline)
}

// Report summarizes a pass.
type Report struct {
	RunID      string
	Candidates int
	Unseen     int
	Sent       int
	Failed     int
	Baseline   bool
	DryRun     bool
	Persisted  bool
}
