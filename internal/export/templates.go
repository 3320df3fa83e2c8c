package export

import (
	"bytes"
	"embed"
	"html/template"

	"portal/internal/render"
)

//go:embed templates/*.html
var templateFS embed.FS

var printTemplate = template.Must(template.New("print.html").Funcs(template.FuncMap{
	"markdown": render.RenderMarkdownPlain,
	"caseText": render.RenderCaseText,
}).ParseFS(templateFS, "templates/print.html"))

// RenderPrintHTML renders the answer sheet document.
func RenderPrintHTML(data PrintData) (string, error) {
	var buf bytes.Buffer
	if err := printTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
