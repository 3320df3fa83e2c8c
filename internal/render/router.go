package render

import (
	"context"
	"fmt"
	"sync"
	"time"

	"portal/internal/assignment"
	"portal/internal/drafts"
	"portal/internal/events"
	"portal/internal/keycodec"
	"portal/internal/localstore"
	"portal/internal/logging"
	"portal/internal/scheduler"
)

// UnknownTypeError is rendered in place of the content for unsupported layouts.
type UnknownTypeError struct {
	Type assignment.Type
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("Unbekannter Aufgabentyp: %s", e.Type)
}

type RouterOptions struct {
	Repo     *drafts.Repository
	Bus      *events.Bus
	Clock    scheduler.Clock
	Debounce time.Duration
	Verifier Verifier
	Keys     KeyCache
	Logger   *logging.Logger
}

// Router opens captures by sub-assignment type and keeps them, together with
// their solution gates, for as long as the page can post edits.
type Router struct {
	deps     captureDeps
	verifier Verifier
	keys     KeyCache

	mu       sync.Mutex
	captures map[drafts.Ref]Capture
	gates    map[drafts.Ref]*SolutionGate
}

func NewRouter(opts RouterOptions) *Router {
	log := opts.Logger
	if log == nil {
		log = logging.Nop()
	}
	clock := opts.Clock
	if clock == nil {
		clock = scheduler.RealClock()
	}
	delay := opts.Debounce
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	return &Router{
		deps: captureDeps{
			repo:  opts.Repo,
			bus:   opts.Bus,
			clock: clock,
			delay: delay,
			log:   log.With("component", "render"),
		},
		verifier: opts.Verifier,
		keys:     opts.Keys,
		captures: make(map[drafts.Ref]Capture),
		gates:    make(map[drafts.Ref]*SolutionGate),
	}
}

// Open caches the sub-assignment metadata and returns the capture for its type.
// The metadata is written on every open, whether or not anything is edited.
func (r *Router) Open(ctx context.Context, ref drafts.Ref, sub assignment.SubAssignment) (Capture, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}

	title := sub.Title
	if title == "" {
		title = ref.SubID
	}
	if err := r.deps.repo.SaveMetadata(ctx, ref, drafts.Metadata{Title: title, Type: sub.Type, Questions: sub.Questions}); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.captures[ref]; ok {
		if existing.Type() == sub.Type {
			// Another client may have written the key since the capture was opened.
			if err := existing.reload(ctx); err != nil {
				return nil, err
			}
			return existing, nil
		}
		existing.Close()
		delete(r.captures, ref)
	}

	var (
		capture Capture
		err     error
	)
	switch sub.Type {
	case assignment.TypeQuill:
		capture, err = newQuillCapture(ctx, ref, r.deps)
	case assignment.TypeLawCase:
		capture, err = newLawCaseCapture(ctx, ref, sub, r.deps)
	default:
		return nil, &UnknownTypeError{Type: sub.Type}
	}
	if err != nil {
		return nil, err
	}
	r.captures[ref] = capture
	r.deps.log.Debug("capture opened", "assignment_id", ref.AssignmentID, "sub_id", ref.SubID, "type", string(sub.Type))
	return capture, nil
}

// Lookup returns an already open capture.
func (r *Router) Lookup(ref drafts.Ref) (Capture, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	capture, ok := r.captures[ref]
	return capture, ok
}

// Gate returns the solution gate for a sub-assignment that has a solution.
func (r *Router) Gate(ref drafts.Ref, sub assignment.SubAssignment) (*SolutionGate, bool) {
	if !sub.HasSolution() || r.verifier == nil || r.keys == nil {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if gate, ok := r.gates[ref]; ok {
		return gate, true
	}
	gate := NewSolutionGate(ref.AssignmentID, sub.Solution, r.verifier, r.keys, r.deps.log)
	r.gates[ref] = gate
	return gate, true
}

// LookupGate returns a gate created earlier by Gate.
func (r *Router) LookupGate(ref drafts.Ref) (*SolutionGate, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	gate, ok := r.gates[ref]
	return gate, ok
}

// FlushAll writes every pending change.
func (r *Router) FlushAll() {
	r.mu.Lock()
	captures := make([]Capture, 0, len(r.captures))
	for _, c := range r.captures {
		captures = append(captures, c)
	}
	r.mu.Unlock()
	for _, c := range captures {
		c.Flush()
	}
}

// Refresh re-reads the stored answers of an open capture of ref.
func (r *Router) Refresh(ctx context.Context, ref drafts.Ref) {
	capture, ok := r.Lookup(ref)
	if !ok {
		return
	}
	if err := capture.reload(ctx); err != nil {
		r.deps.log.Warn("could not reload capture", "assignment_id", ref.AssignmentID, "sub_id", ref.SubID, "error", err)
	}
}

// Follow refreshes open captures whenever another client of the same store
// writes or deletes an answer key. It returns when the change feed closes.
func (r *Router) Follow(ctx context.Context, watcher localstore.Watcher) error {
	changes, err := watcher.Watch(ctx)
	if err != nil {
		return fmt.Errorf("watch store: %w", err)
	}
	for change := range changes {
		if change.Local {
			continue
		}
		key, ok := keycodec.Decode(change.Key)
		if !ok || key.Kind != keycodec.KindAnswer {
			continue
		}
		r.Refresh(ctx, drafts.Ref{AssignmentID: key.AssignmentID, SubID: key.SubID})
	}
	return nil
}

// Reset drops every open capture and gate. It is called after the store content
// was replaced, so stale slots cannot overwrite restored answers.
func (r *Router) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for ref, c := range r.captures {
		c.Close()
		delete(r.captures, ref)
	}
	r.gates = make(map[drafts.Ref]*SolutionGate)
}
