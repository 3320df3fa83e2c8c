// Package merge combines the server definition of an assignment with what the
// local store has cached, field by field.
package merge

import (
	"context"
	"sort"

	"portal/internal/assignment"
	"portal/internal/drafts"
	"portal/internal/logging"
)

const (
	PlaceholderSubID    = "info"
	placeholderTitle    = "Keine Aufgaben gefunden"
	placeholderQuestion = "Es konnten keine Aufgabeninformationen geladen werden."
)

// SubView is one merged sub-assignment.
type SubView struct {
	ID        string                `json:"id"`
	Title     string                `json:"title"`
	Type      assignment.Type       `json:"type"`
	Questions []assignment.Question `json:"questions"`
	CaseText  string                `json:"caseText"`
	Answer    string                `json:"answer"`
	Hints     []assignment.Hint     `json:"hints,omitempty"`
	Solution  *assignment.Solution  `json:"-"`
	// FromServer is true when the server definition contained this sub-assignment.
	FromServer bool `json:"fromServer"`
}

type View struct {
	AssignmentID   string             `json:"assignmentId"`
	Title          string             `json:"assignmentTitle"`
	SubAssignments map[string]SubView `json:"subAssignments"`
	// Online is true when the server definition was available.
	Online bool `json:"online"`
}

// SortedSubIDs returns the sub-assignment ids in lexicographic order.
func (v View) SortedSubIDs() []string {
	ids := make([]string, 0, len(v.SubAssignments))
	for id := range v.SubAssignments {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// DefaultTitle is used when the server provides no assignment title.
func DefaultTitle(assignmentID string) string {
	return "Aufgabe: " + assignmentID
}

// Merge builds the view from an optional server definition and the local cache.
// Each field is resolved independently: server value, then cached value, then default.
func Merge(assignmentID string, server *assignment.Assignment, local map[string]drafts.LocalSub) View {
	view := View{
		AssignmentID:   assignmentID,
		Title:          DefaultTitle(assignmentID),
		SubAssignments: make(map[string]SubView),
		Online:         server != nil,
	}

	var serverSubs map[string]assignment.SubAssignment
	if server != nil {
		if server.Title != "" {
			view.Title = server.Title
		}
		serverSubs = server.SubAssignments
	}

	ids := make(map[string]struct{}, len(serverSubs)+len(local))
	for id := range serverSubs {
		ids[id] = struct{}{}
	}
	for id := range local {
		ids[id] = struct{}{}
	}

	for id := range ids {
		srv, fromServer := serverSubs[id]
		cached := local[id]
		view.SubAssignments[id] = SubView{
			ID:         id,
			Title:      firstNonEmpty(srv.Title, cached.Title, id),
			Type:       assignment.Type(firstNonEmpty(string(srv.Type), string(cached.Type), string(assignment.TypeQuill))),
			Questions:  pickQuestions(srv.Questions, cached.Questions),
			CaseText:   firstNonEmpty(srv.CaseText, cached.CaseText),
			Answer:     cached.Answer,
			Hints:      srv.Hints,
			Solution:   srv.Solution,
			FromServer: fromServer,
		}
	}

	if len(ids) == 0 {
		view.SubAssignments[PlaceholderSubID] = SubView{
			ID:        PlaceholderSubID,
			Title:     placeholderTitle,
			Type:      assignment.TypeQuill,
			Questions: []assignment.Question{{Text: placeholderQuestion}},
		}
	}
	return view
}

// pickQuestions prefers a non-empty server list; an empty server list does not
// hide cached questions.
func pickQuestions(server, cached []assignment.Question) []assignment.Question {
	if len(server) > 0 {
		return server
	}
	if cached != nil {
		return cached
	}
	return []assignment.Question{}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// Fetcher loads server definitions.
type Fetcher interface {
	FetchAssignment(ctx context.Context, assignmentID, variant string) (*assignment.Assignment, error)
}

// LocalSource yields the cached view of an assignment.
type LocalSource interface {
	LocalSubAssignments(ctx context.Context, assignmentID string) (map[string]drafts.LocalSub, error)
}

type Engine struct {
	fetcher Fetcher
	local   LocalSource
	log     *logging.Logger
}

func NewEngine(fetcher Fetcher, local LocalSource, log *logging.Logger) *Engine {
	if log == nil {
		log = logging.Nop()
	}
	return &Engine{fetcher: fetcher, local: local, log: log.With("component", "merge")}
}

// Resolve never fails: an unreachable server or unreadable cache is logged and
// treated as empty.
func (e *Engine) Resolve(ctx context.Context, assignmentID, variant string) View {
	var server *assignment.Assignment
	if e.fetcher != nil {
		fetched, err := e.fetcher.FetchAssignment(ctx, assignmentID, variant)
		if err != nil {
			e.log.Warn("could not fetch assignment, falling back to cached data", "assignment_id", assignmentID, "error", err)
		} else {
			server = fetched
		}
	}

	local, err := e.local.LocalSubAssignments(ctx, assignmentID)
	if err != nil {
		e.log.Warn("could not read cached sub-assignments", "assignment_id", assignmentID, "error", err)
		local = nil
	}
	return Merge(assignmentID, server, local)
}
