// Package render builds the answer-capture surface of a sub-assignment: editor
// slots bound to the local store, the solution gate and the HTML page.
package render

import "sync"

// Editor is the capability a capture needs from a rich-text editor.
type Editor interface {
	Content() string
	// SetContent replaces the content without notifying listeners.
	SetContent(markup string)
	// OnChange registers a listener for user edits.
	OnChange(fn func())
}

// Slot is an editor whose content is pushed by the browser. Update is called
// for every change notification the page posts.
//
// Every Update bumps the revision; a persist marks the revision it wrote as
// saved. A slot whose revision is saved holds nothing the store lacks.
type Slot struct {
	id string

	mu        sync.Mutex
	content   string
	rev       uint64
	savedRev  uint64
	listeners []func()
}

func NewSlot(id string) *Slot {
	return &Slot{id: id}
}

func (s *Slot) ID() string {
	return s.id
}

func (s *Slot) Content() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.content
}

func (s *Slot) SetContent(markup string) {
	s.mu.Lock()
	s.content = markup
	s.mu.Unlock()
}

func (s *Slot) OnChange(fn func()) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Update records a user edit and notifies listeners.
func (s *Slot) Update(markup string) {
	s.mu.Lock()
	s.content = markup
	s.rev++
	listeners := append([]func(){}, s.listeners...)
	s.mu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}

// snapshot returns the content together with its revision.
func (s *Slot) snapshot() (string, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.content, s.rev
}

// markSaved records that the content of revision rev reached the store.
func (s *Slot) markSaved(rev uint64) {
	s.mu.Lock()
	if rev > s.savedRev {
		s.savedRev = rev
	}
	s.mu.Unlock()
}

// Clean reports whether every edit of the slot has been persisted.
func (s *Slot) Clean() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rev == s.savedRev
}

// refresh replaces the content with the stored value unless the slot holds an
// edit that was not persisted yet. It reports whether the content was replaced.
func (s *Slot) refresh(stored string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rev != s.savedRev {
		return false
	}
	s.content = stored
	return true
}
