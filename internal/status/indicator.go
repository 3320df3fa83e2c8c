// Package status tracks what the status bar shows: who is signed in and where
// the latest answers are.
package status

import (
	"sync"
	"time"

	"portal/internal/events"
	"portal/internal/scheduler"
)

type SaveState string

const (
	SaveNone   SaveState = ""
	SaveLocal  SaveState = "local"
	SaveSaving SaveState = "saving"
	SaveSaved  SaveState = "saved"
	SaveError  SaveState = "error"
)

const anonymousLabel = "⚠️ Nicht angemeldet"

// Label is the status bar text for the state.
func (s SaveState) Label() string {
	switch s {
	case SaveSaving:
		return "⏳ Speichert..."
	case SaveSaved:
		return "☁️ Gespeichert"
	case SaveError:
		return "❌ Speicherfehler"
	case SaveLocal:
		return "💾 Lokal gespeichert"
	default:
		return ""
	}
}

type Snapshot struct {
	AuthName  string    `json:"authName,omitempty"`
	AuthLabel string    `json:"authLabel"`
	Save      SaveState `json:"save"`
	SaveLabel string    `json:"saveLabel"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Indicator struct {
	clock scheduler.Clock
	bus   *events.Bus
	ttl   time.Duration

	mu        sync.Mutex
	authName  string
	save      SaveState
	updatedAt time.Time
	clear     scheduler.Timer
}

// New returns an indicator whose "saved" state clears itself after ttl.
func New(clock scheduler.Clock, bus *events.Bus, ttl time.Duration) *Indicator {
	if clock == nil {
		clock = scheduler.RealClock()
	}
	return &Indicator{clock: clock, bus: bus, ttl: ttl, updatedAt: clock.Now()}
}

// SetAuth shows the student name, or the anonymous label when name is empty.
func (i *Indicator) SetAuth(name string) {
	i.mu.Lock()
	i.authName = name
	i.updatedAt = i.clock.Now()
	snap := i.snapshotLocked()
	i.mu.Unlock()
	i.publish(snap)
}

func (i *Indicator) SetSave(state SaveState) {
	i.mu.Lock()
	if i.clear != nil {
		i.clear.Stop()
		i.clear = nil
	}
	i.save = state
	i.updatedAt = i.clock.Now()
	if state == SaveSaved && i.ttl > 0 {
		i.clear = i.clock.AfterFunc(i.ttl, i.expireSaved)
	}
	snap := i.snapshotLocked()
	i.mu.Unlock()
	i.publish(snap)
}

// expireSaved blanks the save label, unless another state replaced "saved" meanwhile.
func (i *Indicator) expireSaved() {
	i.mu.Lock()
	if i.save != SaveSaved {
		i.mu.Unlock()
		return
	}
	i.save = SaveNone
	i.clear = nil
	i.updatedAt = i.clock.Now()
	snap := i.snapshotLocked()
	i.mu.Unlock()
	i.publish(snap)
}

func (i *Indicator) Snapshot() Snapshot {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.snapshotLocked()
}

func (i *Indicator) snapshotLocked() Snapshot {
	label := anonymousLabel
	if i.authName != "" {
		label = "👤 " + i.authName
	}
	return Snapshot{
		AuthName:  i.authName,
		AuthLabel: label,
		Save:      i.save,
		SaveLabel: i.save.Label(),
		UpdatedAt: i.updatedAt,
	}
}

func (i *Indicator) publish(snap Snapshot) {
	if i.bus == nil {
		return
	}
	i.bus.Publish(events.Event{Topic: events.StatusChanged, Payload: snap})
}

// Close stops a pending clear.
func (i *Indicator) Close() {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.clear != nil {
		i.clear.Stop()
		i.clear = nil
	}
}
