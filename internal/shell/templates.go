package shell

import (
	"embed"
	"html/template"
)

//go:embed templates/*.html
var templatesFS embed.FS

var templates = template.Must(template.ParseFS(templatesFS, "templates/*.html"))

type loginPage struct {
	Title string
}

type welcomePage struct {
	Title     string
	Name      string
	NoAccount bool
	Result    string
}

type errorPage struct {
	Title   string
	Message string
}
