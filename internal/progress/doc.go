// Package progress carries run and page milestones from the orchestrator to
// pluggable sinks. Emitters never block: a Hub buffers events, batches them on
// a background goroutine and fans each batch out to its sinks.
package progress
