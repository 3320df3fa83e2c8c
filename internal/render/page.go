package render

import (
	"bytes"
	"embed"
	"html/template"
	"io"

	"portal/internal/assignment"
	"portal/internal/drafts"
)

//go:embed templates/*.html
var templateFS embed.FS

var pageTemplates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

type StepView struct {
	ID          string
	Title       string
	Description string
	Content     string
}

// PageData is everything the assignment page shows.
type PageData struct {
	AssignmentID    string
	SubID           string
	AssignmentTitle string
	SubTitle        string
	AuthLabel       string
	SaveLabel       string
	NeedsIdentity   bool

	// Error replaces the content when set.
	Error          string
	ShowConfigHint bool

	Layout    assignment.Type
	Questions []template.HTML
	Answer    string
	CaseText  template.HTML
	Steps     []StepView
	Gate      *GateSnapshot
}

// ErrorPage shows message in place of the content.
func ErrorPage(ref drafts.Ref, message string, configHint bool) PageData {
	return PageData{
		AssignmentID:    ref.AssignmentID,
		SubID:           ref.SubID,
		AssignmentTitle: "Fehler",
		Error:           message,
		ShowConfigHint:  configHint,
	}
}

// BuildPage renders the content of an open capture. gate may be nil.
func BuildPage(assignmentTitle string, sub assignment.SubAssignment, capture Capture, gate *SolutionGate) PageData {
	ref := capture.Ref()
	data := PageData{
		AssignmentID:    ref.AssignmentID,
		SubID:           ref.SubID,
		AssignmentTitle: assignmentTitle,
		SubTitle:        sub.Title,
		Layout:          capture.Type(),
	}
	if data.SubTitle == "" {
		data.SubTitle = ref.SubID
	}
	if gate != nil {
		snap := gate.Snapshot()
		data.Gate = &snap
	}

	switch c := capture.(type) {
	case *QuillCapture:
		for _, q := range sub.Questions {
			data.Questions = append(data.Questions, RenderMarkdown(q.Text))
		}
		data.Answer = c.editor.Content()
	case *LawCaseCapture:
		data.CaseText = RenderCaseText(c.CaseText())
		for _, step := range assignment.LawCaseSteps {
			slot, _ := c.Slot(string(step.ID))
			data.Steps = append(data.Steps, StepView{
				ID:          string(step.ID),
				Title:       step.Title,
				Description: step.Description,
				Content:     slot.Content(),
			})
		}
	}
	return data
}

// WritePage renders the assignment page.
func WritePage(w io.Writer, data PageData) error {
	return pageTemplates.ExecuteTemplate(w, "page", data)
}

type ConfirmData struct {
	Klasse          string
	Name            string
	AnswerCount     int
	AssignmentCount int
}

// WriteConfirm renders the submission confirmation panel.
func WriteConfirm(w io.Writer, data ConfirmData) error {
	return pageTemplates.ExecuteTemplate(w, "confirm", data)
}

// NoticeData is a one-message result page for plain form posts.
type NoticeData struct {
	Title   string
	Message string
	Error   bool
	BackURL string
}

func WriteNotice(w io.Writer, data NoticeData) error {
	return pageTemplates.ExecuteTemplate(w, "notice", data)
}

// PageHTML is WritePage into a string.
func PageHTML(data PageData) (string, error) {
	var buf bytes.Buffer
	if err := WritePage(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
