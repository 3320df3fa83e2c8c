package render

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"portal/internal/assignment"
	"portal/internal/drafts"
	"portal/internal/events"
	"portal/internal/keycodec"
	"portal/internal/localstore"
	"portal/internal/scheduler"
	"portal/internal/session"
)

var epoch = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

type fixture struct {
	store  *localstore.MemoryStore
	repo   *drafts.Repository
	bus    *events.Bus
	clock  *scheduler.FakeClock
	router *Router
	keys   *session.Context
	verify *fakeVerifier
	drafts []events.DraftChange
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:  localstore.NewMemoryStore(),
		bus:    events.NewBus(nil),
		clock:  scheduler.NewFakeClock(epoch),
		verify: &fakeVerifier{valid: map[string]bool{}},
	}
	f.repo = drafts.New(f.store, nil)
	f.keys = session.New(f.store, f.bus, nil)
	f.router = NewRouter(RouterOptions{
		Repo:     f.repo,
		Bus:      f.bus,
		Clock:    f.clock,
		Debounce: 500 * time.Millisecond,
		Verifier: f.verify,
		Keys:     f.keys,
	})
	f.bus.Subscribe(events.DraftChanged, func(e events.Event) {
		f.drafts = append(f.drafts, e.Payload.(events.DraftChange))
	})
	return f
}

func (f *fixture) get(t *testing.T, kind keycodec.Kind, ref drafts.Ref) (string, bool) {
	t.Helper()
	value, ok, err := f.store.Get(context.Background(), keycodec.Encode(kind, ref.AssignmentID, ref.SubID))
	if err != nil {
		t.Fatalf("store get: %v", err)
	}
	return value, ok
}

type fakeVerifier struct {
	valid map[string]bool
	err   error
	calls int
}

func (v *fakeVerifier) VerifySolutionKey(_ context.Context, _ string, key string) (bool, error) {
	v.calls++
	if v.err != nil {
		return false, v.err
	}
	return v.valid[key], nil
}

func quillSub() assignment.SubAssignment {
	return assignment.SubAssignment{
		Title:     "Teil 1",
		Type:      assignment.TypeQuill,
		Questions: []assignment.Question{{Text: "Was ist **Recht**?"}},
	}
}

func TestOpenQuillWritesMetadataAndDebouncesSaves(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ref := drafts.Ref{AssignmentID: "a1", SubID: "s1"}
	_ = f.store.Set(ctx, keycodec.Encode(keycodec.KindAnswer, "a1", "s1"), "<p>alt</p>")

	capture, err := f.router.Open(ctx, ref, quillSub())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if title, _ := f.get(t, keycodec.KindTitle, ref); title != "Teil 1" {
		t.Fatalf("cached title = %q", title)
	}
	if typ, _ := f.get(t, keycodec.KindType, ref); typ != "quill" {
		t.Fatalf("cached type = %q", typ)
	}
	if questions, _ := f.get(t, keycodec.KindQuestions, ref); questions != `[{"text":"Was ist **Recht**?"}]` {
		t.Fatalf("cached questions = %s", questions)
	}

	slot, ok := capture.Slot(QuillSlotID)
	if !ok || slot.Content() != "<p>alt</p>" {
		t.Fatalf("slot not loaded from store: %v %q", ok, slot.Content())
	}

	slot.Update("<p>n</p>")
	slot.Update("<p>ne</p>")
	slot.Update("<p>neu</p>")
	f.clock.Advance(499 * time.Millisecond)
	if answer, _ := f.get(t, keycodec.KindAnswer, ref); answer != "<p>alt</p>" {
		t.Fatalf("saved before debounce window: %q", answer)
	}
	f.clock.Advance(time.Millisecond)
	if answer, _ := f.get(t, keycodec.KindAnswer, ref); answer != "<p>neu</p>" {
		t.Fatalf("answer = %q", answer)
	}
	if len(f.drafts) != 1 || !f.drafts[0].Stored {
		t.Fatalf("draft events = %+v", f.drafts)
	}

	slot.Update(drafts.EmptyMarkup)
	f.clock.Advance(500 * time.Millisecond)
	if _, ok := f.get(t, keycodec.KindAnswer, ref); ok {
		t.Fatal("blank answer should remove the key")
	}
	if len(f.drafts) != 2 || f.drafts[1].Stored {
		t.Fatalf("draft events = %+v", f.drafts)
	}
}

func TestOpenDefaultsTitleToSubID(t *testing.T) {
	f := newFixture(t)
	ref := drafts.Ref{AssignmentID: "a1", SubID: "s7"}
	sub := quillSub()
	sub.Title = ""
	if _, err := f.router.Open(context.Background(), ref, sub); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if title, _ := f.get(t, keycodec.KindTitle, ref); title != "s7" {
		t.Fatalf("cached title = %q", title)
	}
}

func TestOpenLawCase(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ref := drafts.Ref{AssignmentID: "recht", SubID: "fall"}
	_ = f.store.Set(ctx, keycodec.Encode(keycodec.KindAnswer, "recht", "fall"), `{"step_2":"<p>Regel</p>"}`)

	capture, err := f.router.Open(ctx, ref, assignment.SubAssignment{
		Title:    "Fall 1",
		Type:     assignment.TypeLawCase,
		CaseText: "A verkauft B ein Auto.\nB zahlt nicht.",
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if caseText, _ := f.get(t, keycodec.KindCaseText, ref); caseText != "A verkauft B ein Auto.\nB zahlt nicht." {
		t.Fatalf("cached case text = %q", caseText)
	}
	if got := strings.Join(capture.SlotIDs(), ","); got != "step_1,step_2,step_3,step_4" {
		t.Fatalf("slots = %s", got)
	}
	step2, _ := capture.Slot("step_2")
	if step2.Content() != "<p>Regel</p>" {
		t.Fatalf("step_2 = %q", step2.Content())
	}

	step1, _ := capture.Slot("step_1")
	step1.Update("<p>Sachverhalt</p>")
	f.clock.Advance(500 * time.Millisecond)
	if answer, _ := f.get(t, keycodec.KindAnswer, ref); answer != `{"step_1":"<p>Sachverhalt</p>","step_2":"<p>Regel</p>"}` {
		t.Fatalf("answer blob = %s", answer)
	}

	step1.Update(drafts.EmptyMarkup)
	step2.Update("")
	f.clock.Advance(500 * time.Millisecond)
	if _, ok := f.get(t, keycodec.KindAnswer, ref); ok {
		t.Fatal("all-blank law case should remove the key")
	}
}

func TestOpenUnknownType(t *testing.T) {
	f := newFixture(t)
	ref := drafts.Ref{AssignmentID: "a1", SubID: "s1"}
	_, err := f.router.Open(context.Background(), ref, assignment.SubAssignment{Title: "X", Type: "video"})

	var unknown *UnknownTypeError
	if !errors.As(err, &unknown) || unknown.Type != "video" {
		t.Fatalf("err = %v, want UnknownTypeError", err)
	}
	if err.Error() != "Unbekannter Aufgabentyp: video" {
		t.Fatalf("message = %q", err.Error())
	}
	if typ, _ := f.get(t, keycodec.KindType, ref); typ != "video" {
		t.Fatalf("metadata must still be cached, type = %q", typ)
	}
}

func TestOpenReusesCapture(t *testing.T) {
	f := newFixture(t)
	ref := drafts.Ref{AssignmentID: "a1", SubID: "s1"}
	first, _ := f.router.Open(context.Background(), ref, quillSub())
	second, _ := f.router.Open(context.Background(), ref, quillSub())
	if first != second {
		t.Fatal("second open should reuse the capture")
	}
	if got, ok := f.router.Lookup(ref); !ok || got != first {
		t.Fatal("Lookup should find the open capture")
	}

	f.router.Reset()
	if _, ok := f.router.Lookup(ref); ok {
		t.Fatal("Reset should drop captures")
	}
}

func TestFlushWritesPendingChange(t *testing.T) {
	f := newFixture(t)
	ref := drafts.Ref{AssignmentID: "a1", SubID: "s1"}
	capture, _ := f.router.Open(context.Background(), ref, quillSub())
	slot, _ := capture.Slot(QuillSlotID)

	slot.Update("<p>sofort</p>")
	f.router.FlushAll()
	if answer, _ := f.get(t, keycodec.KindAnswer, ref); answer != "<p>sofort</p>" {
		t.Fatalf("answer = %q", answer)
	}
	if f.clock.Pending() != 0 {
		t.Fatalf("flush left %d timers pending", f.clock.Pending())
	}
}

func TestOpenRejectsAmbiguousRef(t *testing.T) {
	f := newFixture(t)
	_, err := f.router.Open(context.Background(), drafts.Ref{AssignmentID: "a", SubID: "x_sub_y"}, quillSub())
	if !errors.Is(err, drafts.ErrInvalidRef) {
		t.Fatalf("err = %v", err)
	}
}

func TestBuildPage(t *testing.T) {
	f := newFixture(t)
	ref := drafts.Ref{AssignmentID: "a1", SubID: "s1"}
	capture, _ := f.router.Open(context.Background(), ref, quillSub())
	slot, _ := capture.Slot(QuillSlotID)
	slot.SetContent("<p>Antwort</p>")

	data := BuildPage("Vertragsrecht", quillSub(), capture, nil)
	data.AuthLabel = "👤 Max"
	html, err := PageHTML(data)
	if err != nil {
		t.Fatalf("PageHTML: %v", err)
	}
	for _, want := range []string{
		"<h1 id=\"main-title\">Vertragsrecht</h1>",
		"Teil 1",
		`<strong style="color: #007bff;">Recht</strong>`,
		"&lt;p&gt;Antwort&lt;/p&gt;",
		`data-slot="answer"`,
		"👤 Max",
	} {
		if !strings.Contains(html, want) {
			t.Errorf("page missing %q", want)
		}
	}
	if strings.Contains(html, `<section id="solution-section"`) {
		t.Error("page without gate should not render the solution section")
	}
}

func TestErrorPage(t *testing.T) {
	html, err := PageHTML(ErrorPage(drafts.Ref{}, "Teilaufgabe nicht gefunden.", true))
	if err != nil {
		t.Fatalf("PageHTML: %v", err)
	}
	if !strings.Contains(html, `<p class="error">Teilaufgabe nicht gefunden.</p>`) {
		t.Fatalf("error message missing:\n%s", html)
	}
	if strings.Contains(html, `data-slot="`) {
		t.Fatal("error page must not build editors")
	}
}
