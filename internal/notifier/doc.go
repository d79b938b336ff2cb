// Package notifier runs one notification pass over a course.
//
// A pass collects candidate comments, keys them, drops the ones already in
// the dedupe store and then takes one of three branches:
//
//   - dry run: print what would be sent and leave everything untouched;
//   - first-run baseline: record every unseen comment without sending;
//   - delivery: send each unseen comment in order and record the ones that
//     went through.
//
// # Persistence
//
// Recorded keys are buffered in the store and flushed once at the end of the
// pass. A crash during delivery can therefore re-send comments that were
// delivered earlier in the same pass; a pass that completes never re-sends.
package notifier
