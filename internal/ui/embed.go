// Package ui embeds the server-rendered dashboard: HTML templates and the
// static assets they reference.
package ui

import (
	"embed"
	"html/template"
	"io/fs"
	"net/http"
	"time"
)

//go:embed templates/*.html static/*
var files embed.FS

var funcs = template.FuncMap{
	"date": func(t time.Time) string { return t.Format("Jan 2, 2006") },
	"pct": func(used int64, limit int) int {
		if limit <= 0 {
			return 0
		}
		p := int(used * 100 / int64(limit))
		if p > 100 {
			p = 100
		}
		return p
	},
}

// Templates parses the embedded page templates. Pages are addressed by file
// name, e.g. "index.html".
func Templates() (*template.Template, error) {
	return template.New("keyhub").Funcs(funcs).ParseFS(files, "templates/*.html")
}

// Static serves the embedded assets. Mount it under /static/.
func Static() http.Handler {
	sub, err := fs.Sub(files, "static")
	if err != nil {
		panic(err)
	}
	return http.FileServer(http.FS(sub))
}
