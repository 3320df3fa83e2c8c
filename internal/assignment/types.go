// Package assignment holds the server-owned assignment definitions.
package assignment

// Type discriminates the answer-capture layout and storage sub-schema.
type Type string

const (
	TypeQuill   Type = "quill"
	TypeLawCase Type = "law_case"
)

// Known reports whether t is one of the supported layouts.
func (t Type) Known() bool {
	return t == TypeQuill || t == TypeLawCase
}

type Assignment struct {
	ID             string                   `json:"id"`
	Title          string                   `json:"assignmentTitle"`
	SubAssignments map[string]SubAssignment `json:"subAssignments"`
}

type SubAssignment struct {
	ID        string     `json:"id,omitempty"`
	Title     string     `json:"title"`
	Type      Type       `json:"type"`
	Questions []Question `json:"questions"`
	CaseText  string     `json:"caseText,omitempty"`
	Hints     []Hint     `json:"hints,omitempty"`
	Solution  *Solution  `json:"solution,omitempty"`
}

// HasSolution reports whether a solution can be unlocked for this sub-assignment.
func (s SubAssignment) HasSolution() bool {
	return s.Solution != nil && len(s.Solution.Solutions) > 0
}

type Question struct {
	ID   string `json:"id,omitempty"`
	Text string `json:"text"`
}

type Hint struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type Solution struct {
	Page      int             `json:"page"`
	Solutions []SolutionEntry `json:"solutions"`
}

type SolutionEntry struct {
	ID     string `json:"id"`
	Answer string `json:"answer"`
}

// StepID names one of the four law-case answer slots.
type StepID string

// Step is one fixed stage of a law-case analysis.
type Step struct {
	ID          StepID
	Title       string
	Description string
}

// LawCaseSteps are the four fixed stages; the cardinality never changes.
var LawCaseSteps = []Step{
	{
		ID:          "step_1",
		Title:       "1. Sachverhalt analysieren",
		Description: "Was ist passiert? Wer ist beteiligt? Wer macht was geltend? Welche rechtlichen Fragen stellen sich?",
	},
	{
		ID:          "step_2",
		Title:       "2. Relevante Regel finden",
		Description: "Welches Rechtsgebiet ist betroffen? In welcher Rechtsvorschrift ist die Frage geregelt?",
	},
	{
		ID:          "step_3",
		Title:       "3. Regel analysieren",
		Description: "Welche rechtlichen Voraussetzungen, sogenannte Tatbestandsmerkmale, müssen erfüllt sein? Welches sind die Rechtsfolgen davon?",
	},
	{
		ID:          "step_4",
		Title:       "4. Regel auf Sachverhalt anwenden und Rechtsfolge bestimmen",
		Description: "Sind die Voraussetzungen im Einzelfall erfüllt?",
	},
}

// IsStep reports whether id names one of the four law-case steps.
func IsStep(id StepID) bool {
	for _, step := range LawCaseSteps {
		if step.ID == id {
			return true
		}
	}
	return false
}
