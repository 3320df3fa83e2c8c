package render

import (
	"context"
	"errors"
	"strings"
	"testing"

	"portal/internal/assignment"
	"portal/internal/drafts"
)

func solutionSub() assignment.SubAssignment {
	sub := quillSub()
	sub.Solution = &assignment.Solution{Page: 12, Solutions: []assignment.SolutionEntry{{ID: "1", Answer: "Ein Vertrag ist..."}}}
	return sub
}

func TestGateRequiresSolution(t *testing.T) {
	f := newFixture(t)
	if _, ok := f.router.Gate(drafts.Ref{AssignmentID: "a1", SubID: "s1"}, quillSub()); ok {
		t.Fatal("sub-assignment without solution must not get a gate")
	}
}

func TestGateSubmit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.verify.valid["richtig"] = true
	gate, ok := f.router.Gate(drafts.Ref{AssignmentID: "a1", SubID: "s1"}, solutionSub())
	if !ok {
		t.Fatal("expected a gate")
	}
	if got := gate.Snapshot(); got.State != GateLocked || got.Solution != nil {
		t.Fatalf("initial snapshot = %+v", got)
	}

	if _, err := gate.Submit(ctx, "   "); !errors.Is(err, ErrEmptyKey) {
		t.Fatalf("empty key err = %v", err)
	}
	if f.verify.calls != 0 {
		t.Fatal("empty key must not reach the verifier")
	}

	snap, err := gate.Submit(ctx, "falsch")
	if !errors.Is(err, ErrInvalidKey) || snap.State != GateLocked || snap.Error == "" {
		t.Fatalf("invalid key = %+v, %v", snap, err)
	}
	if _, ok, _ := f.keys.SolutionKey(ctx, "a1"); ok {
		t.Fatal("invalid key must not be cached")
	}

	snap, err = gate.Submit(ctx, "richtig")
	if err != nil || snap.State != GateUnlocked || snap.Solution == nil || snap.Solution.Page != 12 {
		t.Fatalf("valid key = %+v, %v", snap, err)
	}
	if key, ok, _ := f.keys.SolutionKey(ctx, "a1"); !ok || key != "richtig" {
		t.Fatalf("cached key = %q, %v", key, ok)
	}
}

func TestGateResumeWithCachedKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.verify.valid["alt"] = true
	_ = f.keys.RememberSolutionKey(ctx, "a1", "alt")

	gate, _ := f.router.Gate(drafts.Ref{AssignmentID: "a1", SubID: "s1"}, solutionSub())
	key, ok := gate.Prepare(ctx)
	if !ok || key != "alt" {
		t.Fatalf("Prepare = %q, %v", key, ok)
	}
	if gate.Snapshot().State != GateVerifying {
		t.Fatal("gate with cached key should start verifying")
	}
	if snap := gate.Resume(ctx, key); snap.State != GateUnlocked {
		t.Fatalf("Resume = %+v", snap)
	}
}

func TestGateResumeDropsRevokedKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_ = f.keys.RememberSolutionKey(ctx, "a1", "abgelaufen")

	gate, _ := f.router.Gate(drafts.Ref{AssignmentID: "a1", SubID: "s1"}, solutionSub())
	key, _ := gate.Prepare(ctx)
	if snap := gate.Resume(ctx, key); snap.State != GateLocked {
		t.Fatalf("Resume = %+v", snap)
	}
	if _, ok, _ := f.keys.SolutionKey(ctx, "a1"); ok {
		t.Fatal("revoked key still cached")
	}
}

func TestGateTransportErrorForgetsKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_ = f.keys.RememberSolutionKey(ctx, "a1", "k")
	f.verify.err = errors.New("network down")

	gate, _ := f.router.Gate(drafts.Ref{AssignmentID: "a1", SubID: "s1"}, solutionSub())
	snap, err := gate.Submit(ctx, "k")
	if !errors.Is(err, ErrInvalidKey) || snap.State != GateLocked {
		t.Fatalf("Submit = %+v, %v", snap, err)
	}
	if !strings.Contains(snap.Error, "nicht überprüft") {
		t.Fatalf("error message = %q", snap.Error)
	}
	if _, ok, _ := f.keys.SolutionKey(ctx, "a1"); ok {
		t.Fatal("key must be forgotten after a failed verification")
	}
}

func TestGatePrepareWithoutCachedKey(t *testing.T) {
	f := newFixture(t)
	gate, _ := f.router.Gate(drafts.Ref{AssignmentID: "a1", SubID: "s1"}, solutionSub())
	if _, ok := gate.Prepare(context.Background()); ok {
		t.Fatal("Prepare without cached key should report false")
	}
	if gate.Snapshot().State != GateLocked {
		t.Fatal("gate should stay locked")
	}
}

func TestPageRendersUnlockedSolution(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.verify.valid["richtig"] = true
	ref := drafts.Ref{AssignmentID: "a1", SubID: "s1"}
	capture, _ := f.router.Open(ctx, ref, solutionSub())
	gate, _ := f.router.Gate(ref, solutionSub())

	locked, _ := PageHTML(BuildPage("T", solutionSub(), capture, gate))
	if !strings.Contains(locked, `id="solution-key"`) || strings.Contains(locked, "Ein Vertrag ist") {
		t.Fatal("locked page must show the key form and hide the solution")
	}

	_, _ = gate.Submit(ctx, "richtig")
	unlocked, _ := PageHTML(BuildPage("T", solutionSub(), capture, gate))
	if !strings.Contains(unlocked, "Ein Vertrag ist") || !strings.Contains(unlocked, "(Seite 12)") {
		t.Fatalf("unlocked page missing solution:\n%s", unlocked)
	}
}
