package drafts

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"

	"portal/internal/assignment"
	"portal/internal/keycodec"
	"portal/internal/localstore"
)

func newRepo(t *testing.T) (*Repository, *localstore.MemoryStore) {
	t.Helper()
	store := localstore.NewMemoryStore()
	return New(store, nil), store
}

func TestIsBlank(t *testing.T) {
	tests := map[string]bool{
		"":                 true,
		"   ":              true,
		EmptyMarkup:        true,
		" <p><br></p>\n":   true,
		"<p>Antwort</p>":   false,
		"<p><br></p><p/>":  false,
		"plain text reply": false,
	}
	for markup, want := range tests {
		if got := IsBlank(markup); got != want {
			t.Errorf("IsBlank(%q) = %v, want %v", markup, got, want)
		}
	}
}

func TestRefValidate(t *testing.T) {
	if err := (Ref{AssignmentID: "a", SubID: "b"}).Validate(); err != nil {
		t.Fatalf("expected valid ref, got %v", err)
	}
	for _, ref := range []Ref{{"", "b"}, {"a", ""}, {"a", "x_sub_y"}} {
		if err := ref.Validate(); err == nil {
			t.Errorf("Validate(%+v) = nil, want error", ref)
		}
	}
}

func TestSaveQuillAnswer(t *testing.T) {
	ctx := context.Background()
	repo, store := newRepo(t)
	ref := Ref{AssignmentID: "a1", SubID: "s1"}
	key := keycodec.Encode(keycodec.KindAnswer, "a1", "s1")

	stored, err := repo.SaveQuillAnswer(ctx, ref, "<p>Hallo</p>")
	if err != nil || !stored {
		t.Fatalf("SaveQuillAnswer = %v, %v", stored, err)
	}
	if value, ok, _ := store.Get(ctx, key); !ok || value != "<p>Hallo</p>" {
		t.Fatalf("stored value = %q (ok %v)", value, ok)
	}

	stored, err = repo.SaveQuillAnswer(ctx, ref, EmptyMarkup)
	if err != nil || stored {
		t.Fatalf("blank save = %v, %v; want false, nil", stored, err)
	}
	if _, ok, _ := store.Get(ctx, key); ok {
		t.Fatal("blank answer must delete the key")
	}
	if _, ok, _ := repo.QuillAnswer(ctx, ref); ok {
		t.Fatal("QuillAnswer should report absent after delete")
	}
}

func TestLawCaseAnswers(t *testing.T) {
	ctx := context.Background()
	repo, store := newRepo(t)
	ref := Ref{AssignmentID: "recht", SubID: "fall1"}
	key := keycodec.Encode(keycodec.KindAnswer, ref.AssignmentID, ref.SubID)

	stored, err := repo.SaveLawCaseAnswers(ctx, ref, map[assignment.StepID]string{
		"step_1": "<p>Sachverhalt</p>",
		"step_2": EmptyMarkup,
		"step_3": "",
		"step_4": "<p>Ergebnis</p>",
	})
	if err != nil || !stored {
		t.Fatalf("SaveLawCaseAnswers = %v, %v", stored, err)
	}
	raw, _, _ := store.Get(ctx, key)
	if raw != `{"step_1":"<p>Sachverhalt</p>","step_4":"<p>Ergebnis</p>"}` {
		t.Fatalf("stored blob = %s", raw)
	}

	got, err := repo.LawCaseAnswers(ctx, ref)
	if err != nil {
		t.Fatalf("LawCaseAnswers: %v", err)
	}
	want := LawCaseDraft{"step_1": "<p>Sachverhalt</p>", "step_4": "<p>Ergebnis</p>"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("LawCaseAnswers mismatch (-want +got):\n%s", diff)
	}

	stored, err = repo.SaveLawCaseAnswers(ctx, ref, map[assignment.StepID]string{"step_1": " "})
	if err != nil || stored {
		t.Fatalf("all-blank save = %v, %v", stored, err)
	}
	if _, ok, _ := store.Get(ctx, key); ok {
		t.Fatal("all-blank law case must delete the key")
	}
}

func TestLawCaseAnswersMalformed(t *testing.T) {
	ctx := context.Background()
	repo, store := newRepo(t)
	ref := Ref{AssignmentID: "recht", SubID: "fall1"}
	_ = store.Set(ctx, keycodec.Encode(keycodec.KindAnswer, ref.AssignmentID, ref.SubID), "{not json")

	got, err := repo.LawCaseAnswers(ctx, ref)
	if err != nil {
		t.Fatalf("malformed blob should not error, got %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty draft, got %v", got)
	}
}

func TestMetadataDefaults(t *testing.T) {
	ctx := context.Background()
	repo, store := newRepo(t)
	ref := Ref{AssignmentID: "a1", SubID: "s1"}

	meta, err := repo.Metadata(ctx, ref)
	if err != nil {
		t.Fatalf("Metadata: %v", err)
	}
	want := Metadata{Title: "", Type: "", Questions: []assignment.Question{}}
	if diff := cmp.Diff(want, meta); diff != "" {
		t.Fatalf("defaults mismatch (-want +got):\n%s", diff)
	}

	_ = store.Set(ctx, keycodec.Encode(keycodec.KindQuestions, "a1", "s1"), "[broken")
	meta, err = repo.Metadata(ctx, ref)
	if err != nil || len(meta.Questions) != 0 || meta.Questions == nil {
		t.Fatalf("malformed questions should yield [], got %#v (%v)", meta.Questions, err)
	}
}

func TestSaveMetadataRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo, store := newRepo(t)
	ref := Ref{AssignmentID: "a1", SubID: "s1"}

	in := Metadata{
		Title:     "Teil 1",
		Type:      assignment.TypeQuill,
		Questions: []assignment.Question{{Text: "Was ist **Recht**?"}},
	}
	if err := repo.SaveMetadata(ctx, ref, in); err != nil {
		t.Fatalf("SaveMetadata: %v", err)
	}
	out, err := repo.Metadata(ctx, ref)
	if err != nil {
		t.Fatalf("Metadata: %v", err)
	}
	if diff := cmp.Diff(in, out); diff != "" {
		t.Fatalf("metadata mismatch (-want +got):\n%s", diff)
	}
	raw, _, _ := store.Get(ctx, keycodec.Encode(keycodec.KindQuestions, "a1", "s1"))
	if raw != `[{"text":"Was ist **Recht**?"}]` {
		t.Fatalf("stored questions = %s", raw)
	}

	markup := Metadata{Title: "x", Type: assignment.TypeQuill, Questions: []assignment.Question{{Text: "a <b> & c"}}}
	if err := repo.SaveMetadata(ctx, ref, markup); err != nil {
		t.Fatalf("SaveMetadata: %v", err)
	}
	raw, _, _ = store.Get(ctx, keycodec.Encode(keycodec.KindQuestions, "a1", "s1"))
	if raw != `[{"text":"a <b> & c"}]` {
		t.Fatalf("questions must be stored without HTML escaping, got %s", raw)
	}

	if err := repo.SaveMetadata(ctx, ref, Metadata{Title: "x", Type: assignment.TypeQuill}); err != nil {
		t.Fatalf("SaveMetadata: %v", err)
	}
	raw, _, _ = store.Get(ctx, keycodec.Encode(keycodec.KindQuestions, "a1", "s1"))
	if raw != "[]" {
		t.Fatalf("nil questions should be stored as [], got %s", raw)
	}
}

func TestAnswerRefsSorted(t *testing.T) {
	ctx := context.Background()
	repo, store := newRepo(t)
	_ = store.Set(ctx, keycodec.Encode(keycodec.KindAnswer, "b", "2"), "x")
	_ = store.Set(ctx, keycodec.Encode(keycodec.KindAnswer, "a", "9"), "x")
	_ = store.Set(ctx, keycodec.Encode(keycodec.KindAnswer, "a", "1"), "x")
	_ = store.Set(ctx, keycodec.Encode(keycodec.KindTitle, "c", "1"), "not an answer")
	_ = store.Set(ctx, "theme", "dark")

	refs, err := repo.AnswerRefs(ctx)
	if err != nil {
		t.Fatalf("AnswerRefs: %v", err)
	}
	want := []Ref{{"a", "1"}, {"a", "9"}, {"b", "2"}}
	if diff := cmp.Diff(want, refs); diff != "" {
		t.Fatalf("AnswerRefs mismatch (-want +got):\n%s", diff)
	}
}

func TestLocalSubAssignments(t *testing.T) {
	ctx := context.Background()
	repo, store := newRepo(t)
	_ = store.Set(ctx, keycodec.Encode(keycodec.KindAnswer, "a1", "s1"), "<p>A</p>")
	_ = store.Set(ctx, keycodec.Encode(keycodec.KindTitle, "a1", "s1"), "Teil 1")
	_ = store.Set(ctx, keycodec.Encode(keycodec.KindType, "a1", "s1"), "quill")
	_ = store.Set(ctx, keycodec.Encode(keycodec.KindQuestions, "a1", "s1"), `[{"text":"Q1"}]`)
	_ = store.Set(ctx, keycodec.Encode(keycodec.KindCaseText, "a1", "s2"), "Fall")
	_ = store.Set(ctx, keycodec.Encode(keycodec.KindTitle, "other", "s1"), "ignored")

	got, err := repo.LocalSubAssignments(ctx, "a1")
	if err != nil {
		t.Fatalf("LocalSubAssignments: %v", err)
	}
	want := map[string]LocalSub{
		"s1": {
			Answer:    "<p>A</p>",
			Title:     "Teil 1",
			Type:      assignment.TypeQuill,
			Questions: []assignment.Question{{Text: "Q1"}},
		},
		"s2": {CaseText: "Fall"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("LocalSubAssignments mismatch (-want +got):\n%s", diff)
	}
}
