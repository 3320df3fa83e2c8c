// Package drafts is the typed repository over the local store: answers
// and cached assignment metadata addressed by (assignment, sub-assignment).
package drafts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"portal/internal/assignment"
	"portal/internal/keycodec"
	"portal/internal/localstore"
	"portal/internal/logging"
)

// EmptyMarkup is what the rich-text editor reports for an empty document.
const EmptyMarkup = "<p><br></p>"

// ErrInvalidRef is returned for refs that cannot be encoded into unambiguous keys.
var ErrInvalidRef = errors.New("invalid assignment reference")

// IsBlank reports whether markup carries no answer.
func IsBlank(markup string) bool {
	trimmed := strings.TrimSpace(markup)
	return trimmed == "" || trimmed == EmptyMarkup
}

// marshalJSON encodes without HTML escaping, so stored markup keeps its literal
// "<" and ">" like the browser's JSON.stringify.
func marshalJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Ref addresses one sub-assignment.
type Ref struct {
	AssignmentID string `json:"assignmentId"`
	SubID        string `json:"subId"`
}

func (r Ref) Validate() error {
	if !keycodec.Valid(r.AssignmentID, r.SubID) {
		return fmt.Errorf("%w: %q/%q", ErrInvalidRef, r.AssignmentID, r.SubID)
	}
	return nil
}

func (r Ref) key(kind keycodec.Kind) string {
	return keycodec.Encode(kind, r.AssignmentID, r.SubID)
}

// Metadata is the locally cached copy of server-owned fields.
type Metadata struct {
	Title     string
	Type      assignment.Type
	Questions []assignment.Question
}

// LocalSub is everything the local store knows about one sub-assignment.
// Fields are raw: defaults are applied by the merge engine.
type LocalSub struct {
	Answer    string
	Title     string
	Type      assignment.Type
	Questions []assignment.Question
	CaseText  string
}

// LawCaseDraft maps step ids to markup. Blank steps are never present.
type LawCaseDraft map[assignment.StepID]string

// Entry is one decoded key of the namespace with its value.
type Entry struct {
	Key   keycodec.Key
	Value string
}

type Repository struct {
	store localstore.Store
	log   *logging.Logger
}

func New(store localstore.Store, log *logging.Logger) *Repository {
	if log == nil {
		log = logging.Nop()
	}
	return &Repository{store: store, log: log.With("component", "drafts")}
}

// Store exposes the underlying namespace for whole-namespace operations.
func (r *Repository) Store() localstore.Store {
	return r.store
}

// RawAnswer returns the stored answer string regardless of type.
func (r *Repository) RawAnswer(ctx context.Context, ref Ref) (string, bool, error) {
	return r.store.Get(ctx, ref.key(keycodec.KindAnswer))
}

// QuillAnswer returns the single rich-text answer.
func (r *Repository) QuillAnswer(ctx context.Context, ref Ref) (string, bool, error) {
	value, ok, err := r.RawAnswer(ctx, ref)
	if err != nil || !ok {
		return "", false, err
	}
	return value, true, nil
}

// SaveQuillAnswer persists markup, or deletes the key when the markup is blank.
// It reports whether anything is stored afterwards.
func (r *Repository) SaveQuillAnswer(ctx context.Context, ref Ref, markup string) (bool, error) {
	key := ref.key(keycodec.KindAnswer)
	if IsBlank(markup) {
		if err := r.store.Delete(ctx, key); err != nil {
			return false, fmt.Errorf("delete answer: %w", err)
		}
		return false, nil
	}
	if err := r.store.Set(ctx, key, markup); err != nil {
		return false, fmt.Errorf("save answer: %w", err)
	}
	return true, nil
}

// LawCaseAnswers loads the step map. A corrupt blob is logged and treated as empty.
func (r *Repository) LawCaseAnswers(ctx context.Context, ref Ref) (LawCaseDraft, error) {
	raw, ok, err := r.RawAnswer(ctx, ref)
	if err != nil {
		return nil, err
	}
	draft := LawCaseDraft{}
	if !ok {
		return draft, nil
	}
	parsed, err := ParseLawCase(raw)
	if err != nil {
		r.log.Warn("could not parse saved law case answers", "assignment_id", ref.AssignmentID, "sub_id", ref.SubID, "error", err)
		return draft, nil
	}
	return parsed, nil
}

// SaveLawCaseAnswers writes the non-blank steps as one JSON object, or deletes the
// key when every step is blank. It reports whether anything is stored afterwards.
func (r *Repository) SaveLawCaseAnswers(ctx context.Context, ref Ref, answers map[assignment.StepID]string) (bool, error) {
	kept := LawCaseDraft{}
	for _, step := range assignment.LawCaseSteps {
		if content, ok := answers[step.ID]; ok && !IsBlank(content) {
			kept[step.ID] = content
		}
	}

	key := ref.key(keycodec.KindAnswer)
	if len(kept) == 0 {
		if err := r.store.Delete(ctx, key); err != nil {
			return false, fmt.Errorf("delete law case answers: %w", err)
		}
		return false, nil
	}

	payload, err := marshalJSON(kept)
	if err != nil {
		return false, fmt.Errorf("marshal law case answers: %w", err)
	}
	if err := r.store.Set(ctx, key, string(payload)); err != nil {
		return false, fmt.Errorf("save law case answers: %w", err)
	}
	return true, nil
}

// ParseLawCase decodes a stored law-case blob, dropping unknown or blank steps.
func ParseLawCase(raw string) (LawCaseDraft, error) {
	var decoded map[string]string
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, err
	}
	draft := LawCaseDraft{}
	for id, content := range decoded {
		step := assignment.StepID(id)
		if assignment.IsStep(step) && !IsBlank(content) {
			draft[step] = content
		}
	}
	return draft, nil
}

// SaveMetadata caches title, type and questions for printing and submission.
func (r *Repository) SaveMetadata(ctx context.Context, ref Ref, meta Metadata) error {
	questions := meta.Questions
	if questions == nil {
		questions = []assignment.Question{}
	}
	payload, err := marshalJSON(questions)
	if err != nil {
		return fmt.Errorf("marshal questions: %w", err)
	}
	if err := r.store.Set(ctx, ref.key(keycodec.KindQuestions), string(payload)); err != nil {
		return fmt.Errorf("save questions: %w", err)
	}
	if err := r.store.Set(ctx, ref.key(keycodec.KindTitle), meta.Title); err != nil {
		return fmt.Errorf("save title: %w", err)
	}
	if err := r.store.Set(ctx, ref.key(keycodec.KindType), string(meta.Type)); err != nil {
		return fmt.Errorf("save type: %w", err)
	}
	return nil
}

// SaveCaseText caches the law-case text.
func (r *Repository) SaveCaseText(ctx context.Context, ref Ref, text string) error {
	if err := r.store.Set(ctx, ref.key(keycodec.KindCaseText), text); err != nil {
		return fmt.Errorf("save case text: %w", err)
	}
	return nil
}

// Metadata reads the cached fields. Missing values default to "", "" and an empty list.
func (r *Repository) Metadata(ctx context.Context, ref Ref) (Metadata, error) {
	title, _, err := r.store.Get(ctx, ref.key(keycodec.KindTitle))
	if err != nil {
		return Metadata{}, err
	}
	typ, _, err := r.store.Get(ctx, ref.key(keycodec.KindType))
	if err != nil {
		return Metadata{}, err
	}
	rawQuestions, _, err := r.store.Get(ctx, ref.key(keycodec.KindQuestions))
	if err != nil {
		return Metadata{}, err
	}
	return Metadata{
		Title:     title,
		Type:      assignment.Type(typ),
		Questions: r.parseQuestions(ref, rawQuestions),
	}, nil
}

// CaseText reads the cached law-case text.
func (r *Repository) CaseText(ctx context.Context, ref Ref) (string, bool, error) {
	return r.store.Get(ctx, ref.key(keycodec.KindCaseText))
}

func (r *Repository) parseQuestions(ref Ref, raw string) []assignment.Question {
	questions := []assignment.Question{}
	if strings.TrimSpace(raw) == "" {
		return questions
	}
	if err := json.Unmarshal([]byte(raw), &questions); err != nil {
		r.log.Warn("could not parse cached questions", "assignment_id", ref.AssignmentID, "sub_id", ref.SubID, "error", err)
		return []assignment.Question{}
	}
	if questions == nil {
		questions = []assignment.Question{}
	}
	return questions
}

// Scan decodes every key in the namespace. Keys outside the schema are skipped.
// When kinds are given only those kinds are returned.
func (r *Repository) Scan(ctx context.Context, kinds ...keycodec.Kind) ([]Entry, error) {
	keys, err := r.store.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}

	wanted := make(map[keycodec.Kind]bool, len(kinds))
	for _, kind := range kinds {
		wanted[kind] = true
	}

	var entries []Entry
	for _, raw := range keys {
		decoded, ok := keycodec.Decode(raw)
		if !ok {
			continue
		}
		if len(wanted) > 0 && !wanted[decoded.Kind] {
			continue
		}
		value, present, err := r.store.Get(ctx, raw)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", raw, err)
		}
		// Deleted between listing and reading.
		if !present {
			continue
		}
		entries = append(entries, Entry{Key: decoded, Value: value})
	}
	return entries, nil
}

// AnswerRefs lists every sub-assignment with a stored answer, sorted.
func (r *Repository) AnswerRefs(ctx context.Context) ([]Ref, error) {
	entries, err := r.Scan(ctx, keycodec.KindAnswer)
	if err != nil {
		return nil, err
	}
	refs := make([]Ref, 0, len(entries))
	for _, entry := range entries {
		refs = append(refs, Ref{AssignmentID: entry.Key.AssignmentID, SubID: entry.Key.SubID})
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].AssignmentID != refs[j].AssignmentID {
			return refs[i].AssignmentID < refs[j].AssignmentID
		}
		return refs[i].SubID < refs[j].SubID
	})
	return refs, nil
}

// LocalSubAssignments collects the cached view of every sub-assignment of one assignment.
func (r *Repository) LocalSubAssignments(ctx context.Context, assignmentID string) (map[string]LocalSub, error) {
	entries, err := r.Scan(ctx)
	if err != nil {
		return nil, err
	}

	subs := make(map[string]LocalSub)
	for _, entry := range entries {
		if entry.Key.AssignmentID != assignmentID {
			continue
		}
		ref := Ref{AssignmentID: assignmentID, SubID: entry.Key.SubID}
		sub := subs[ref.SubID]
		switch entry.Key.Kind {
		case keycodec.KindAnswer:
			sub.Answer = entry.Value
		case keycodec.KindTitle:
			sub.Title = entry.Value
		case keycodec.KindType:
			sub.Type = assignment.Type(entry.Value)
		case keycodec.KindQuestions:
			sub.Questions = r.parseQuestions(ref, entry.Value)
		case keycodec.KindCaseText:
			sub.CaseText = entry.Value
		}
		subs[ref.SubID] = sub
	}
	return subs, nil
}
