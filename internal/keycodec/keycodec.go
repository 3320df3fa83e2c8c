// Package keycodec maps structured (kind, assignment, sub-assignment) identifiers
// onto the flat key namespace of the local store and back. No other package
// knows how keys are spelled.
package keycodec

import "strings"

// Kind identifies which field of a sub-assignment a key holds.
type Kind string

const (
	KindAnswer    Kind = "answer"
	KindQuestions Kind = "questions"
	KindTitle     Kind = "title"
	KindType      Kind = "type"
	KindCaseText  Kind = "caseText"
)

const (
	AnswerPrefix    = "modular-answer_"
	QuestionsPrefix = "modular-questions_"
	TitlePrefix     = "title_"
	TypePrefix      = "type_"
	CaseTextSuffix  = "_caseText"

	// Separator between the assignment id and the sub-assignment id.
	Separator = "_sub_"

	// StudentInfoKey holds the JSON encoded student identity.
	StudentInfoKey = "studentInfo"
	// SolutionKeysKey holds the JSON object assignmentId -> last accepted unlock key.
	SolutionKeysKey = "modular-assignment-keys-store"
)

// Key is a decoded storage key.
type Key struct {
	Kind         Kind
	AssignmentID string
	SubID        string
	// Suffix is CaseTextSuffix for KindCaseText and empty otherwise.
	Suffix string
}

// String re-encodes the key.
func (k Key) String() string {
	return Encode(k.Kind, k.AssignmentID, k.SubID)
}

// prefixes in match order. Every prefix here is distinct, and caseText is
// handled before this table is consulted.
var prefixes = []struct {
	kind   Kind
	prefix string
}{
	{KindAnswer, AnswerPrefix},
	{KindQuestions, QuestionsPrefix},
	{KindTitle, TitlePrefix},
	{KindType, TypePrefix},
}

// Token returns the fully qualified "{assignmentId}_sub_{subId}" token.
func Token(assignmentID, subID string) string {
	return assignmentID + Separator + subID
}

// Encode builds the storage key for the given kind and ids.
func Encode(kind Kind, assignmentID, subID string) string {
	token := Token(assignmentID, subID)
	switch kind {
	case KindAnswer:
		return AnswerPrefix + token
	case KindQuestions:
		return QuestionsPrefix + token
	case KindTitle:
		return TitlePrefix + token
	case KindType:
		return TypePrefix + token
	case KindCaseText:
		return TitlePrefix + token + CaseTextSuffix
	default:
		return ""
	}
}

// Decode parses a storage key. Keys that do not belong to the schema return ok=false.
//
// The case-text suffix is checked before the generic title prefix: both share
// "title_", and a case-text key read as a title would attach the suffix to the sub id.
func Decode(key string) (Key, bool) {
	if strings.HasPrefix(key, TitlePrefix) && strings.HasSuffix(key, CaseTextSuffix) {
		body := strings.TrimSuffix(strings.TrimPrefix(key, TitlePrefix), CaseTextSuffix)
		if assignmentID, subID, ok := splitToken(body); ok {
			return Key{Kind: KindCaseText, AssignmentID: assignmentID, SubID: subID, Suffix: CaseTextSuffix}, true
		}
		return Key{}, false
	}
	for _, p := range prefixes {
		if !strings.HasPrefix(key, p.prefix) {
			continue
		}
		assignmentID, subID, ok := splitToken(strings.TrimPrefix(key, p.prefix))
		if !ok {
			return Key{}, false
		}
		return Key{Kind: p.kind, AssignmentID: assignmentID, SubID: subID}, true
	}
	return Key{}, false
}

// splitToken splits on the last separator; assignment ids may contain "_sub_", sub ids may not.
func splitToken(token string) (string, string, bool) {
	idx := strings.LastIndex(token, Separator)
	if idx <= 0 {
		return "", "", false
	}
	assignmentID := token[:idx]
	subID := token[idx+len(Separator):]
	if subID == "" {
		return "", "", false
	}
	return assignmentID, subID, true
}

// Valid reports whether the pair survives an encode/decode round trip for every kind.
func Valid(assignmentID, subID string) bool {
	if assignmentID == "" || subID == "" {
		return false
	}
	if strings.Contains(subID, Separator) || strings.HasSuffix(subID, CaseTextSuffix) {
		return false
	}
	return true
}

// Filter selects keys by exact match or prefix.
type Filter struct {
	Keys     []string
	Prefixes []string
}

// Match reports whether key is selected by the filter.
func (f Filter) Match(key string) bool {
	for _, k := range f.Keys {
		if key == k {
			return true
		}
	}
	for _, p := range f.Prefixes {
		if strings.HasPrefix(key, p) {
			return true
		}
	}
	return false
}

// BackupFilter selects the keys that belong in a backup file: the student identity
// and everything under the three content prefixes.
var BackupFilter = Filter{
	Keys:     []string{StudentInfoKey},
	Prefixes: []string{"modular-", TitlePrefix, TypePrefix},
}
