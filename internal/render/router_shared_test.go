package render

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"portal/internal/assignment"
	"portal/internal/drafts"
	"portal/internal/events"
	"portal/internal/keycodec"
	"portal/internal/localstore"
	"portal/internal/scheduler"
)

// sharedFixture runs a router on one Redis client while a second client, like a
// CLI restore on another machine, writes to the same namespace.
type sharedFixture struct {
	local  *localstore.RedisStore
	remote *localstore.RedisStore
	clock  *scheduler.FakeClock
	router *Router
}

func newSharedFixture(t *testing.T) *sharedFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	f := &sharedFixture{
		local:  localstore.NewRedisStoreWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "p"),
		remote: localstore.NewRedisStoreWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "p"),
		clock:  scheduler.NewFakeClock(epoch),
	}
	t.Cleanup(func() {
		_ = f.local.Close()
		_ = f.remote.Close()
	})
	f.router = NewRouter(RouterOptions{
		Repo:     drafts.New(f.local, nil),
		Bus:      events.NewBus(nil),
		Clock:    f.clock,
		Debounce: 500 * time.Millisecond,
		Verifier: &fakeVerifier{valid: map[string]bool{}},
	})
	return f
}

func lawCaseSub() assignment.SubAssignment {
	return assignment.SubAssignment{Title: "Fall 1", Type: assignment.TypeLawCase, CaseText: "A verkauft B ein Auto."}
}

func restoreStep2(t *testing.T, store localstore.Store, ref drafts.Ref) {
	t.Helper()
	key := keycodec.Encode(keycodec.KindAnswer, ref.AssignmentID, ref.SubID)
	raw := []byte(`{"` + key + `":"{\"step_2\":\"<p>restored</p>\"}"}`)
	if _, err := localstore.ImportSnapshot(context.Background(), store, raw); err != nil {
		t.Fatalf("ImportSnapshot: %v", err)
	}
}

func slotContent(t *testing.T, c Capture, id string) string {
	t.Helper()
	slot, ok := c.Slot(id)
	if !ok {
		t.Fatalf("missing slot %s", id)
	}
	return slot.Content()
}

func TestOpenPicksUpRestoreFromOtherClient(t *testing.T) {
	f := newSharedFixture(t)
	ctx := context.Background()
	ref := drafts.Ref{AssignmentID: "recht", SubID: "fall"}

	capture, err := f.router.Open(ctx, ref, lawCaseSub())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	restoreStep2(t, f.remote, ref)

	reopened, err := f.router.Open(ctx, ref, lawCaseSub())
	if err != nil {
		t.Fatalf("re-Open: %v", err)
	}
	if reopened != capture {
		t.Fatal("re-Open should keep the capture")
	}
	if got := slotContent(t, reopened, "step_2"); got != "<p>restored</p>" {
		t.Fatalf("step_2 = %q, want restored content", got)
	}

	step1, _ := reopened.Slot("step_1")
	step1.Update("<p>Sachverhalt</p>")
	f.clock.Advance(500 * time.Millisecond)

	answer, _, err := f.remote.Get(ctx, keycodec.Encode(keycodec.KindAnswer, "recht", "fall"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if answer != `{"step_1":"<p>Sachverhalt</p>","step_2":"<p>restored</p>"}` {
		t.Fatalf("answer blob = %s", answer)
	}
}

func TestReloadKeepsUnsavedEdit(t *testing.T) {
	f := newSharedFixture(t)
	ctx := context.Background()
	ref := drafts.Ref{AssignmentID: "recht", SubID: "fall"}

	capture, err := f.router.Open(ctx, ref, lawCaseSub())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	step1, _ := capture.Slot("step_1")
	step1.Update("<p>lokal</p>")
	restoreStep2(t, f.remote, ref)

	if _, err := f.router.Open(ctx, ref, lawCaseSub()); err != nil {
		t.Fatalf("re-Open: %v", err)
	}
	if got := slotContent(t, capture, "step_1"); got != "<p>lokal</p>" {
		t.Fatalf("step_1 = %q, pending edit was discarded", got)
	}
	if got := slotContent(t, capture, "step_2"); got != "<p>restored</p>" {
		t.Fatalf("step_2 = %q", got)
	}

	f.clock.Advance(500 * time.Millisecond)
	answer, _, _ := f.local.Get(ctx, keycodec.Encode(keycodec.KindAnswer, "recht", "fall"))
	if answer != `{"step_1":"<p>lokal</p>","step_2":"<p>restored</p>"}` {
		t.Fatalf("answer blob = %s", answer)
	}
}

type readyWatcher struct {
	localstore.Watcher
	ready chan struct{}
}

func (w *readyWatcher) Watch(ctx context.Context) (<-chan localstore.Change, error) {
	changes, err := w.Watcher.Watch(ctx)
	close(w.ready)
	return changes, err
}

func TestFollowRefreshesOnRemoteWrite(t *testing.T) {
	f := newSharedFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ref := drafts.Ref{AssignmentID: "a1", SubID: "s1"}

	capture, err := f.router.Open(ctx, ref, quillSub())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	watcher := &readyWatcher{Watcher: f.local, ready: make(chan struct{})}
	done := make(chan error, 1)
	go func() { done <- f.router.Follow(ctx, watcher) }()
	<-watcher.ready

	if err := f.remote.Set(ctx, keycodec.Encode(keycodec.KindAnswer, "a1", "s1"), "<p>von woanders</p>"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for slotContent(t, capture, QuillSlotID) != "<p>von woanders</p>" {
		if time.Now().After(deadline) {
			t.Fatalf("editor = %q, remote write not picked up", slotContent(t, capture, QuillSlotID))
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Follow: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Follow did not return after cancel")
	}
}
