package export

import (
	"bytes"
	"html/template"
	"time"
)

var documentTemplate = template.Must(template.New("document").Funcs(template.FuncMap{
	"formatDate": func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.Format("Jan 2, 2006")
	},
}).Parse(documentHTML))

type TemplateData struct {
	Title       string
	Author      string
	Version     string
	UpdatedAt   time.Time
	ContentHTML template.HTML
	Notes       []TemplateNote
}

// TemplateNote is one comment in the notes list after the essay.
type TemplateNote struct {
	Number int
	Quote  string
	Body   string
}

func RenderDocumentHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := documentTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const documentHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
  <style>
    body { font-family: Georgia, serif; line-height: 1.7; max-width: 760px; margin: 2rem auto; color: #222; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    .essay { white-space: pre-wrap; }
    mark.comment { background: #fff3b0; }
    del.strike { color: #b3261e; }
    ins.insert { color: #1b6e20; text-decoration: underline; }
    sup.note-ref { color: #555; font-size: 0.7em; }
    .notes li { margin-bottom: 0.75rem; }
    .notes blockquote { margin: 0; color: #666; font-style: italic; }
  </style>
</head>
<body>
  <h1>{{.Title}}</h1>
  <div class="meta">{{.Author}}{{with formatDate .UpdatedAt}} | {{.}}{{end}}{{with .Version}} | version {{.}}{{end}}</div>
  <div class="essay">{{.ContentHTML}}</div>
  {{if .Notes}}
  <h2>Comments</h2>
  <ol class="notes">
    {{range .Notes}}<li value="{{.Number}}"><blockquote>{{.Quote}}</blockquote>{{.Body}}</li>
    {{end}}
  </ol>
  {{end}}
</body>
</html>`
