// Package progress carries the activity events an onboarding session emits:
// indicator renders, autosave commits and failures, restores, and session
// open/close. A Hub batches events on a background goroutine and fans them
// out to pluggable sinks such as Prometheus, a repository, or Pub/Sub.
package progress
