package submission

import (
	"context"
	"sync"
	"time"

	"portal/internal/events"
	"portal/internal/logging"
	"portal/internal/scheduler"
	"portal/internal/status"
)

// AutoSaver uploads silently once edits have been quiet for the configured delay.
type AutoSaver struct {
	submitter *Submitter
	status    StatusSink
	timeout   time.Duration
	log       *logging.Logger
	debouncer *scheduler.Debouncer

	mu      sync.Mutex
	touches uint64
}

func NewAutoSaver(submitter *Submitter, sink StatusSink, clock scheduler.Clock, delay, timeout time.Duration, log *logging.Logger) *AutoSaver {
	if log == nil {
		log = logging.Nop()
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	a := &AutoSaver{
		submitter: submitter,
		status:    sink,
		timeout:   timeout,
		log:       log.With("component", "autosave"),
	}
	a.debouncer = scheduler.NewDebouncer(clock, delay, a.run)
	return a
}

// Attach listens for draft changes on bus. The returned func detaches it.
func (a *AutoSaver) Attach(bus *events.Bus) func() {
	return bus.Subscribe(events.DraftChanged, func(events.Event) { a.Touch() })
}

// Touch marks the answers as saved locally and restarts the upload timer.
func (a *AutoSaver) Touch() {
	if a.status != nil {
		a.status.SetSave(status.SaveLocal)
	}
	a.mu.Lock()
	a.touches++
	a.debouncer.Schedule()
	a.mu.Unlock()
}

// Checkpoint marks the edits seen so far, for a later Delivered.
func (a *AutoSaver) Checkpoint() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.touches
}

// Delivered drops the scheduled upload after an interactive send of the same
// answers. An edit made after checkpoint keeps its upload.
func (a *AutoSaver) Delivered(checkpoint uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.touches == checkpoint {
		a.debouncer.Cancel()
	}
}

// Pending reports whether an upload is scheduled.
func (a *AutoSaver) Pending() bool {
	return a.debouncer.Pending()
}

// Flush uploads now if an upload was scheduled.
func (a *AutoSaver) Flush() {
	a.debouncer.Flush()
}

func (a *AutoSaver) Close() {
	a.debouncer.Cancel()
}

func (a *AutoSaver) run() {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()
	// No retry here: the next edit schedules the next attempt.
	if err := a.submitter.SubmitSilent(ctx); err != nil {
		a.log.Warn("background submission failed", "error", err)
	}
}
