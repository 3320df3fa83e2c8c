package render

import "testing"

func TestRenderMarkdown(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"Was ist **Recht**?", `Was ist <strong style="color: #007bff;">Recht</strong>?`},
		{"ein *Vertrag*", `ein <em style="color: #007bff;">Vertrag</em>`},
		{"ein _Vertrag_", `ein <em style="color: #007bff;">Vertrag</em>`},
		{"<script>", "&lt;script&gt;"},
	}
	for _, tt := range tests {
		if got := string(RenderMarkdown(tt.in)); got != tt.want {
			t.Errorf("RenderMarkdown(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRenderMarkdownPlain(t *testing.T) {
	got := string(RenderMarkdownPlain("**A** und *b* und snake_case"))
	want := "<strong>A</strong> und <em>b</em> und snake_case"
	if got != want {
		t.Fatalf("RenderMarkdownPlain = %q, want %q", got, want)
	}
}

func TestRenderCaseText(t *testing.T) {
	got := string(RenderCaseText("A & B\nC"))
	if got != "A &amp; B<br>C" {
		t.Fatalf("RenderCaseText = %q", got)
	}
}
