package render

import (
	"html"
	"html/template"
	"regexp"
	"strings"
)

const highlightColor = "#007bff"

var (
	boldPattern       = regexp.MustCompile(`\*\*(.*?)\*\*`)
	starEmPattern     = regexp.MustCompile(`\*(.*?)\*`)
	underscoreEm      = regexp.MustCompile(`_(.*?)_`)
	plainStarEm       = regexp.MustCompile(`\*([^*]+?)\*`)
	strongHighlighted = `<strong style="color: ` + highlightColor + `;">$1</strong>`
	emHighlighted     = `<em style="color: ` + highlightColor + `;">$1</em>`
)

// RenderMarkdown converts the question markup subset to highlighted HTML:
// **bold**, *emphasis* and _emphasis_. The input is escaped first.
func RenderMarkdown(text string) template.HTML {
	if text == "" {
		return ""
	}
	out := html.EscapeString(text)
	out = boldPattern.ReplaceAllString(out, strongHighlighted)
	out = starEmPattern.ReplaceAllString(out, emHighlighted)
	out = underscoreEm.ReplaceAllString(out, emHighlighted)
	return template.HTML(out)
}

// RenderMarkdownPlain is the print variant: **bold** and *emphasis* without colors.
func RenderMarkdownPlain(text string) template.HTML {
	if text == "" {
		return ""
	}
	out := html.EscapeString(text)
	out = boldPattern.ReplaceAllString(out, "<strong>$1</strong>")
	out = plainStarEm.ReplaceAllString(out, "<em>$1</em>")
	return template.HTML(out)
}

// RenderCaseText escapes the case description and keeps its line breaks.
func RenderCaseText(text string) template.HTML {
	return template.HTML(strings.ReplaceAll(html.EscapeString(text), "\n", "<br>"))
}
