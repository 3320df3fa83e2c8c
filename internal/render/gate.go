package render

import (
	"context"
	"errors"
	"strings"
	"sync"

	"portal/internal/assignment"
	"portal/internal/logging"
)

type GateState string

const (
	GateLocked    GateState = "locked"
	GateVerifying GateState = "verifying"
	GateUnlocked  GateState = "unlocked"
)

var (
	// ErrEmptyKey rejects a blank candidate before any network call.
	ErrEmptyKey = errors.New("solution key is empty")
	// ErrInvalidKey is the failure recorded when the endpoint rejects a key.
	ErrInvalidKey = errors.New("solution key is invalid")
)

const (
	invalidKeyMessage = "Der Schlüssel ist ungültig."
	verifyFailMessage = "Der Schlüssel konnte nicht überprüft werden."
)

// Verifier checks a candidate key against the endpoint.
type Verifier interface {
	VerifySolutionKey(ctx context.Context, assignmentID, key string) (bool, error)
}

// KeyCache remembers the last accepted key per assignment.
type KeyCache interface {
	SolutionKey(ctx context.Context, assignmentID string) (string, bool, error)
	RememberSolutionKey(ctx context.Context, assignmentID, key string) error
	ForgetSolutionKey(ctx context.Context, assignmentID string) error
}

type GateSnapshot struct {
	State GateState `json:"state"`
	Error string    `json:"error,omitempty"`
	// Solution is only set when unlocked.
	Solution *assignment.Solution `json:"solution,omitempty"`
}

// SolutionGate guards the solution of one sub-assignment.
//
// Verifications are not sequenced: when two overlap, whichever response
// arrives last decides the state.
type SolutionGate struct {
	assignmentID string
	solution     *assignment.Solution
	verifier     Verifier
	cache        KeyCache
	log          *logging.Logger

	mu      sync.Mutex
	state   GateState
	message string
}

func NewSolutionGate(assignmentID string, solution *assignment.Solution, verifier Verifier, cache KeyCache, log *logging.Logger) *SolutionGate {
	if log == nil {
		log = logging.Nop()
	}
	return &SolutionGate{
		assignmentID: assignmentID,
		solution:     solution,
		verifier:     verifier,
		cache:        cache,
		log:          log.With("component", "solution_gate", "assignment_id", assignmentID),
		state:        GateLocked,
	}
}

func (g *SolutionGate) Snapshot() GateSnapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	snap := GateSnapshot{State: g.state, Error: g.message}
	if g.state == GateUnlocked {
		snap.Solution = g.solution
	}
	return snap
}

// Prepare moves the gate to verifying when a cached key exists and returns that
// key. The caller runs Resume with it, usually without waiting.
func (g *SolutionGate) Prepare(ctx context.Context) (string, bool) {
	key, ok, err := g.cache.SolutionKey(ctx, g.assignmentID)
	if err != nil {
		g.log.Warn("could not read cached solution key", "error", err)
		return "", false
	}
	if !ok {
		return "", false
	}
	g.mu.Lock()
	g.state = GateVerifying
	g.message = ""
	g.mu.Unlock()
	return key, true
}

// Resume re-verifies a cached key obtained from Prepare.
func (g *SolutionGate) Resume(ctx context.Context, key string) GateSnapshot {
	return g.verify(ctx, key)
}

// Submit verifies a candidate typed by the student.
func (g *SolutionGate) Submit(ctx context.Context, candidate string) (GateSnapshot, error) {
	candidate = strings.TrimSpace(candidate)
	if candidate == "" {
		return g.Snapshot(), ErrEmptyKey
	}
	g.mu.Lock()
	g.state = GateVerifying
	g.message = ""
	g.mu.Unlock()

	snap := g.verify(ctx, candidate)
	if snap.State != GateUnlocked {
		return snap, ErrInvalidKey
	}
	return snap, nil
}

func (g *SolutionGate) verify(ctx context.Context, key string) GateSnapshot {
	valid, err := g.verifier.VerifySolutionKey(ctx, g.assignmentID, key)

	if err == nil && valid {
		if cacheErr := g.cache.RememberSolutionKey(ctx, g.assignmentID, key); cacheErr != nil {
			g.log.Warn("could not cache solution key", "error", cacheErr)
		}
		g.set(GateUnlocked, "")
		return g.Snapshot()
	}

	if forgetErr := g.cache.ForgetSolutionKey(ctx, g.assignmentID); forgetErr != nil {
		g.log.Warn("could not drop cached solution key", "error", forgetErr)
	}
	if err != nil {
		g.log.Warn("solution key verification failed", "error", err)
		g.set(GateLocked, verifyFailMessage)
	} else {
		g.set(GateLocked, invalidKeyMessage)
	}
	return g.Snapshot()
}

func (g *SolutionGate) set(state GateState, message string) {
	g.mu.Lock()
	g.state = state
	g.message = message
	g.mu.Unlock()
}
