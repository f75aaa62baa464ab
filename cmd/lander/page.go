package main

import (
	"html/template"
	"log/slog"
	"net/http"

	"github.com/hazyhaar/lander/landing"
)

// pageTmpl renders the element under test. The variant id is exposed so the
// page's own script can post conversions to /track/conversion.
var pageTmpl = template.Must(template.New("page").Parse(`<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{with .Content.Headline}}{{.}}{{else}}Welcome{{end}}</title>
</head>
<body>
<section id="{{.Element}}"{{with .VariantID}} data-variant="{{.}}"{{end}}>
{{- if .Content.Headline}}
<h1>{{.Content.Headline}} <span class="accent">{{.Content.Accent}}</span></h1>
{{- end}}
{{- range $key, $value := .Content.Fields}}
<p class="{{$key}}">{{$value}}</p>
{{- end}}
</section>
</body>
</html>
`))

type pageData struct {
	Element   string
	VariantID string
	Content   landing.Content
}

// pageHandler renders the assigned variant, or an empty shell when no
// experiment is being served.
func pageHandler(element string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data := pageData{Element: element}
		if a, ok := landing.AssignmentFrom(r.Context()); ok {
			data.VariantID = a.VariantID
			data.Content = a.Content
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "private, no-store")
		if err := pageTmpl.Execute(w, data); err != nil {
			slog.Error("page: render failed", "error", err)
		}
	}
}
