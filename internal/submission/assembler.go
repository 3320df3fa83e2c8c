// Package submission collects every saved answer into one upload and sends it,
// either on request after confirmation or silently after edits settle.
package submission

import (
	"context"
	"errors"
	"fmt"

	"portal/internal/assignment"
	"portal/internal/drafts"
	"portal/internal/scheduler"
	"portal/internal/session"
)

var ErrNothingToSubmit = errors.New("no saved answers to submit")

// createdAtLayout is ISO 8601 with milliseconds, always in UTC.
const createdAtLayout = "2006-01-02T15:04:05.000Z07:00"

// Entry is the upload record of one sub-assignment.
type Entry struct {
	Answer    string                `json:"answer"`
	Title     string                `json:"title"`
	Type      string                `json:"type"`
	Questions []assignment.Question `json:"questions"`
}

type Payload struct {
	Assignments map[string]map[string]Entry `json:"assignments"`
	CreatedAt   string                      `json:"createdAt"`
}

type Submission struct {
	Identifier string  `json:"identifier"`
	Payload    Payload `json:"payload"`
}

// Counts returns the number of answers and of assignments they belong to.
func (s Submission) Counts() (answers, assignments int) {
	for _, subs := range s.Payload.Assignments {
		assignments++
		answers += len(subs)
	}
	return answers, assignments
}

type Assembler struct {
	repo  *drafts.Repository
	clock scheduler.Clock
}

func NewAssembler(repo *drafts.Repository, clock scheduler.Clock) *Assembler {
	if clock == nil {
		clock = scheduler.RealClock()
	}
	return &Assembler{repo: repo, clock: clock}
}

// Assemble groups every stored answer by assignment and sub-assignment together
// with its cached title, type and questions.
func (a *Assembler) Assemble(ctx context.Context, identity session.Identity) (Submission, error) {
	refs, err := a.repo.AnswerRefs(ctx)
	if err != nil {
		return Submission{}, fmt.Errorf("list answers: %w", err)
	}

	assignments := make(map[string]map[string]Entry)
	for _, ref := range refs {
		answer, ok, err := a.repo.RawAnswer(ctx, ref)
		if err != nil {
			return Submission{}, fmt.Errorf("read answer: %w", err)
		}
		if !ok {
			continue
		}
		meta, err := a.repo.Metadata(ctx, ref)
		if err != nil {
			return Submission{}, fmt.Errorf("read metadata: %w", err)
		}
		if assignments[ref.AssignmentID] == nil {
			assignments[ref.AssignmentID] = make(map[string]Entry)
		}
		assignments[ref.AssignmentID][ref.SubID] = Entry{
			Answer:    answer,
			Title:     meta.Title,
			Type:      string(meta.Type),
			Questions: meta.Questions,
		}
	}

	if len(assignments) == 0 {
		return Submission{}, ErrNothingToSubmit
	}
	return Submission{
		Identifier: identity.Identifier(),
		Payload: Payload{
			Assignments: assignments,
			CreatedAt:   a.clock.Now().UTC().Format(createdAtLayout),
		},
	}, nil
}
