// Package errlog implements the error logger and error transport (C12):
// per-node warning accumulation surfaced via reportWarnings, and a
// cross-thread error transport that accumulates diagnostics raised
// inside compute callbacks and re-posts them on the caller thread after
// the root task completes.
package errlog

import (
	"fmt"
	"sync"

	"github.com/flowmesh/dagcore/pkg/network"
)

// Logger accumulates per-node warning text into a concurrent map,
// spec §7's "node -> concatenated warning text".
type Logger struct {
	mu       sync.Mutex
	warnings map[network.NodeID]string
}

// NewLogger returns an empty warning log.
func NewLogger() *Logger {
	return &Logger{warnings: make(map[network.NodeID]string)}
}

// Warn appends a warning for node, concatenating with any existing
// text for that node.
func (l *Logger) Warn(node network.NodeID, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	l.mu.Lock()
	defer l.mu.Unlock()
	if existing, ok := l.warnings[node]; ok {
		l.warnings[node] = existing + "; " + msg
		return
	}
	l.warnings[node] = msg
}

// ReportWarnings returns a snapshot of every node's accumulated warning
// text.
func (l *Logger) ReportWarnings() map[network.NodeID]string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[network.NodeID]string, len(l.warnings))
	for k, v := range l.warnings {
		out[k] = v
	}
	return out
}

// Clear wipes accumulated warnings.
func (l *Logger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warnings = make(map[network.NodeID]string)
}

// TaskError pairs a diagnostic raised inside a compute callback with
// the node that raised it.
type TaskError struct {
	Node network.NodeID
	Err  error
}

func (e TaskError) Error() string { return fmt.Sprintf("node %d: %v", e.Node, e.Err) }
func (e TaskError) Unwrap() error { return e.Err }

// ErrorTransport accumulates task errors during a run and re-posts them
// on the caller thread after wait_for_all, spec §4.5.10 / §9's "replace
// exceptions with a result/error channel per task; a lock-free vector
// accumulates errors drained on the caller thread". A plain
// mutex-guarded slice stands in for the lock-free vector: Go doesn't
// give a ready-made lock-free growable vector in the standard library
// and this path isn't the mask-algebra hot loop the spec singles out
// for that treatment.
type ErrorTransport struct {
	mu   sync.Mutex
	errs []error
}

// NewErrorTransport returns an empty transport.
func NewErrorTransport() *ErrorTransport { return &ErrorTransport{} }

// Post records an error raised by a task.
func (t *ErrorTransport) Post(node network.NodeID, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.errs = append(t.errs, TaskError{Node: node, Err: err})
}

// Drain returns and clears every error accumulated so far, for
// re-posting on the caller thread.
func (t *ErrorTransport) Drain() []error {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.errs
	t.errs = nil
	return out
}
