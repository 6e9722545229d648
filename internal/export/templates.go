package export

import (
	"bytes"
	"html/template"
	"strings"
	"time"

	"linear/api/internal/reaction"
)

var ticketTemplate = template.Must(template.New("ticket").Funcs(template.FuncMap{
	"lower": strings.ToLower,
	"formatDate": func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.UTC().Format("Jan 2, 2006 15:04")
	},
	"indent": func(depth int) int {
		if depth > maxIndent {
			depth = maxIndent
		}
		return depth * 24
	},
}).Parse(ticketHTML))

// maxIndent caps the visual nesting of replies.
const maxIndent = 8

// TemplateData holds data for ticket template rendering.
type TemplateData struct {
	Key             string
	Title           string
	Status          string
	Priority        string
	TeamName        string
	AssigneeName    string
	DueDate         *time.Time
	Labels          []string
	DescriptionHTML template.HTML
	CreatedAt       time.Time
	UpdatedAt       time.Time
	Comments        []TemplateComment
}

// TemplateComment is one entry of the flattened reply tree.
type TemplateComment struct {
	Depth      int
	AuthorName string
	BodyHTML   template.HTML
	CreatedAt  time.Time
	Reactions  []reaction.Summary
}

func RenderTicketHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := ticketTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const ticketHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Key}} {{.Title}}</title>
  <style>
    body { font-family: Inter, Arial, sans-serif; line-height: 1.5; max-width: 800px; margin: 2rem auto; color: #1f2023; }
    h1 { font-size: 1.6rem; margin-bottom: 0.25rem; }
    .key { color: #6b6f76; font-weight: 500; }
    .meta { color: #6b6f76; font-size: 0.9em; margin-bottom: 1.5rem; }
    .pill { display: inline-block; border: 1px solid #d0d2d6; border-radius: 10px; padding: 0 8px; margin-right: 4px; }
    .status-done { color: #4cb782; } .status-cancelled { color: #95a2b3; }
    .comment { border-left: 2px solid #e6e6e9; padding: 0.25rem 0 0.25rem 0.75rem; margin: 0.75rem 0; }
    .comment .who { font-weight: 600; } .comment .when { color: #8a8f98; font-size: 0.85em; }
    .reactions span { font-size: 0.85em; border: 1px solid #e6e6e9; border-radius: 8px; padding: 0 6px; margin-right: 4px; }
    .reactions span.mine { border-color: #5e6ad2; }
  </style>
</head>
<body>
  <h1><span class="key">{{.Key}}</span> {{.Title}}</h1>
  <div class="meta">
    <span class="pill status-{{lower .Status}}">{{.Status}}</span>
    <span class="pill">{{.Priority}}</span>
    {{if .TeamName}}<span>{{.TeamName}}</span>{{end}}
    {{if .AssigneeName}} | assigned to {{.AssigneeName}}{{end}}
    {{if .DueDate}} | due {{formatDate .DueDate}}{{end}}
    {{range .Labels}}<span class="pill">{{.}}</span>{{end}}
    <div>created {{formatDate .CreatedAt}}, updated {{formatDate .UpdatedAt}}</div>
  </div>
  <div class="description">{{.DescriptionHTML}}</div>
  {{if .Comments}}
  <h2>Activity</h2>
  {{range .Comments}}
  <div class="comment" style="margin-left: {{indent .Depth}}px">
    <div><span class="who">{{if .AuthorName}}{{.AuthorName}}{{else}}Unknown{{end}}</span> <span class="when">{{formatDate .CreatedAt}}</span></div>
    <div>{{.BodyHTML}}</div>
    {{if .Reactions}}<div class="reactions">{{range .Reactions}}<span{{if .Reacted}} class="mine"{{end}}>{{.Emoji}} {{.Count}}</span>{{end}}</div>{{end}}
  </div>
  {{end}}
  {{end}}
</body>
</html>`
