package export

import (
	"context"
	"fmt"
	"html/template"
	"strings"

	"portal/internal/assignment"
	"portal/internal/drafts"
	"portal/internal/logging"
	"portal/internal/merge"
	"portal/internal/session"
)

// Resolver produces the merged view of an assignment. *merge.Engine implements it.
type Resolver interface {
	Resolve(ctx context.Context, assignmentID, variant string) merge.View
}

// Identities reads the stored student identity. *session.Context implements it.
type Identities interface {
	Identity(ctx context.Context) (session.Identity, bool, error)
}

// Service provides answer sheet export
type Service struct {
	resolver   Resolver
	identities Identities
	log        *logging.Logger
}

// NewService creates a new export service
func NewService(resolver Resolver, identities Identities, log *logging.Logger) *Service {
	if log == nil {
		log = logging.Nop()
	}
	return &Service{resolver: resolver, identities: identities, log: log.With("component", "export")}
}

// Gather builds the print model. The view falls back to local data when the server is unreachable.
func (s *Service) Gather(ctx context.Context, assignmentID, variant string) PrintData {
	view := s.resolver.Resolve(ctx, assignmentID, variant)

	student := UnknownStudent
	if s.identities != nil {
		id, ok, err := s.identities.Identity(ctx)
		if err != nil {
			s.log.Warn("read identity for print failed", "error", err)
		} else if ok {
			student = id.Identifier()
		}
	}

	data := PrintData{AssignmentTitle: view.Title, Student: student}
	for _, subID := range view.SortedSubIDs() {
		data.Subs = append(data.Subs, buildSub(view.SubAssignments[subID]))
	}
	return data
}

func buildSub(sub merge.SubView) PrintSub {
	out := PrintSub{ID: sub.ID, Title: sub.Title}
	if sub.Type == assignment.TypeLawCase {
		out.LawCase = true
		out.CaseText = sub.CaseText
		answers := drafts.LawCaseDraft{}
		if strings.TrimSpace(sub.Answer) != "" {
			if parsed, err := drafts.ParseLawCase(sub.Answer); err == nil {
				answers = parsed
			}
		}
		for _, step := range assignment.LawCaseSteps {
			answer, ok := answers[step.ID]
			out.Steps = append(out.Steps, PrintStep{
				Title:       step.Title,
				Description: step.Description,
				Answer:      template.HTML(answer),
				Empty:       !ok,
			})
		}
		return out
	}

	for _, q := range sub.Questions {
		out.Questions = append(out.Questions, q.Text)
	}
	out.Empty = drafts.IsBlank(sub.Answer)
	if !out.Empty {
		out.Answer = template.HTML(sub.Answer)
	}
	return out
}

// Export generates an export in the requested format
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.AssignmentID) == "" {
		return nil, ErrMissingAssignment
	}
	format, err := ParseFormat(string(req.Format))
	if err != nil {
		return nil, err
	}

	data := s.Gather(ctx, req.AssignmentID, req.Variant)
	html, err := RenderPrintHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	base := "Druckansicht-" + sanitizeFilename(req.AssignmentID)
	switch format {
	case FormatPDF:
		return exportPDF(ctx, html, base)
	case FormatDOCX:
		return exportDOCX(ctx, html, base)
	default:
		return &Result{
			Data:     []byte(html),
			Filename: base + ".html",
			MimeType: "text/html; charset=utf-8",
		}, nil
	}
}
