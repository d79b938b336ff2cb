// Package scheduler runs the notification pass periodically for serve mode.
//
// Schedules are cron expressions (robfig/cron syntax with descriptors),
// Go durations ("10m") or HH:MM intervals ("01:30"). Passes never overlap: a
// tick that fires while the previous pass is still running is skipped.
//
// When started under systemd (Type=notify) the scheduler reports readiness,
// the outcome of each pass and shutdown through sd_notify. Outside systemd
// those notifications are no-ops.
package scheduler
