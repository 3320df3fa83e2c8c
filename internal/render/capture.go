package render

import (
	"context"
	"sort"
	"sync"
	"time"

	"portal/internal/assignment"
	"portal/internal/drafts"
	"portal/internal/events"
	"portal/internal/logging"
	"portal/internal/scheduler"
)

// QuillSlotID names the single editor of a quill capture.
const QuillSlotID = "answer"

const persistTimeout = 5 * time.Second

// Capture is the live editing state of one rendered sub-assignment.
type Capture interface {
	Ref() drafts.Ref
	Type() assignment.Type
	Slot(id string) (*Slot, bool)
	SlotIDs() []string
	// Flush writes a pending debounced change immediately.
	Flush()
	// Close drops pending timers without writing.
	Close()
	// reload re-reads the stored answers into every clean slot.
	reload(ctx context.Context) error
}

type captureDeps struct {
	repo  *drafts.Repository
	bus   *events.Bus
	clock scheduler.Clock
	delay time.Duration
	log   *logging.Logger
}

// baseCapture holds what both layouts share: slots, the debouncer and the
// lock that makes one persist cycle atomic.
type baseCapture struct {
	ref   drafts.Ref
	typ   assignment.Type
	deps  captureDeps
	slots map[string]*Slot

	mu        sync.Mutex
	debouncer *scheduler.Debouncer
}

func (c *baseCapture) Ref() drafts.Ref       { return c.ref }
func (c *baseCapture) Type() assignment.Type { return c.typ }

func (c *baseCapture) Slot(id string) (*Slot, bool) {
	slot, ok := c.slots[id]
	return slot, ok
}

func (c *baseCapture) SlotIDs() []string {
	ids := make([]string, 0, len(c.slots))
	for id := range c.slots {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (c *baseCapture) Flush() {
	c.debouncer.Flush()
}

func (c *baseCapture) Close() {
	c.debouncer.Cancel()
}

// persist runs save under the capture lock and announces the result.
func (c *baseCapture) persist(save func(ctx context.Context) (bool, error)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	stored, err := save(ctx)
	if err != nil {
		c.deps.log.Error("could not save draft", "assignment_id", c.ref.AssignmentID, "sub_id", c.ref.SubID, "error", err)
		return
	}
	if c.deps.bus != nil {
		c.deps.bus.Publish(events.Event{
			Topic:   events.DraftChanged,
			Payload: events.DraftChange{AssignmentID: c.ref.AssignmentID, SubID: c.ref.SubID, Stored: stored},
		})
	}
}

// QuillCapture binds one rich-text editor to the answer key.
type QuillCapture struct {
	baseCapture
	editor *Slot
}

func newQuillCapture(ctx context.Context, ref drafts.Ref, deps captureDeps) (*QuillCapture, error) {
	content, _, err := deps.repo.QuillAnswer(ctx, ref)
	if err != nil {
		return nil, err
	}
	editor := NewSlot(QuillSlotID)
	editor.SetContent(content)

	c := &QuillCapture{
		baseCapture: baseCapture{
			ref:   ref,
			typ:   assignment.TypeQuill,
			deps:  deps,
			slots: map[string]*Slot{QuillSlotID: editor},
		},
		editor: editor,
	}
	c.debouncer = scheduler.NewDebouncer(deps.clock, deps.delay, c.save)
	editor.OnChange(c.debouncer.Schedule)
	return c, nil
}

func (c *QuillCapture) save() {
	c.persist(func(ctx context.Context) (bool, error) {
		content, rev := c.editor.snapshot()
		stored, err := c.deps.repo.SaveQuillAnswer(ctx, c.ref, content)
		if err == nil {
			c.editor.markSaved(rev)
		}
		return stored, err
	})
}

func (c *QuillCapture) reload(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	content, _, err := c.deps.repo.QuillAnswer(ctx, c.ref)
	if err != nil {
		return err
	}
	c.editor.refresh(content)
	return nil
}

// LawCaseCapture binds the four step editors to one JSON answer blob.
type LawCaseCapture struct {
	baseCapture
	caseText string
}

func newLawCaseCapture(ctx context.Context, ref drafts.Ref, sub assignment.SubAssignment, deps captureDeps) (*LawCaseCapture, error) {
	saved, err := deps.repo.LawCaseAnswers(ctx, ref)
	if err != nil {
		return nil, err
	}

	slots := make(map[string]*Slot, len(assignment.LawCaseSteps))
	for _, step := range assignment.LawCaseSteps {
		slot := NewSlot(string(step.ID))
		slot.SetContent(saved[step.ID])
		slots[string(step.ID)] = slot
	}

	c := &LawCaseCapture{
		baseCapture: baseCapture{
			ref:   ref,
			typ:   assignment.TypeLawCase,
			deps:  deps,
			slots: slots,
		},
		caseText: sub.CaseText,
	}
	c.debouncer = scheduler.NewDebouncer(deps.clock, deps.delay, c.save)
	for _, slot := range slots {
		slot.OnChange(c.debouncer.Schedule)
	}

	// The print view reads the case text from the cache.
	if err := deps.repo.SaveCaseText(ctx, ref, sub.CaseText); err != nil {
		return nil, err
	}
	return c, nil
}

// CaseText is the case description shown above the steps.
func (c *LawCaseCapture) CaseText() string {
	return c.caseText
}

// Answers returns the current content of every step.
func (c *LawCaseCapture) Answers() map[assignment.StepID]string {
	answers := make(map[assignment.StepID]string, len(c.slots))
	for id, slot := range c.slots {
		answers[assignment.StepID(id)] = slot.Content()
	}
	return answers
}

func (c *LawCaseCapture) save() {
	c.persist(func(ctx context.Context) (bool, error) {
		answers := make(map[assignment.StepID]string, len(c.slots))
		revs := make(map[string]uint64, len(c.slots))
		for id, slot := range c.slots {
			answers[assignment.StepID(id)], revs[id] = slot.snapshot()
		}
		stored, err := c.deps.repo.SaveLawCaseAnswers(ctx, c.ref, answers)
		if err == nil {
			for id, rev := range revs {
				c.slots[id].markSaved(rev)
			}
		}
		return stored, err
	})
}

// reload leaves a slot with an unsaved edit alone; the next save writes it
// together with the refreshed steps.
func (c *LawCaseCapture) reload(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	saved, err := c.deps.repo.LawCaseAnswers(ctx, c.ref)
	if err != nil {
		return err
	}
	for id, slot := range c.slots {
		slot.refresh(saved[assignment.StepID(id)])
	}
	return nil
}
