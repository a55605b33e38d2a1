package bootstrap

import (
	"html/template"
	"io"

	"github.com/slimrmm/siterestore/internal/handoff"
)

const layout = `{{define "head"}}<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="robots" content="noindex, nofollow">
<title>{{.Title}}</title>
<style>
body{font-family:sans-serif;max-width:40em;margin:3em auto;color:#222}
.error{color:#a00}.hint{color:#555}
</style>
</head>
<body>{{end}}
{{define "foot"}}</body>
</html>{{end}}`

const errorPage = `{{template "head" .}}
<h1>Installation cannot continue</h1>
<p class="error">{{.Message}}</p>
{{if .Remediation}}<p class="hint">{{.Remediation}}</p>{{end}}
{{template "foot" .}}`

const passwordPage = `{{template "head" .}}
<h1>Archive password</h1>
<p>The archive is protected. Enter the password used when the package was built.</p>
{{if .Message}}<p class="error">{{.Message}}</p>{{end}}
<form method="post" action="{{.Action}}" autocomplete="off">
<input type="password" name="password" autofocus required>
<input type="hidden" name="secure-try" value="1">
{{range .Hidden}}<input type="hidden" name="{{.Name}}" value="{{.Value}}">
{{end}}<button type="submit">Continue</button>
</form>
{{template "foot" .}}`

const redirectPage = `{{template "head" .}}
<form id="handoff" method="post" action="{{.Form.Action}}">
{{range .Form.Fields}}<input type="hidden" name="{{.Name}}" value="{{.Value}}">
{{end}}<noscript><button type="submit">Continue to the installer</button></noscript>
</form>
<script>document.getElementById("handoff").submit();</script>
{{template "foot" .}}`

var views = map[View]*template.Template{
	ViewError:    parseView("error", errorPage),
	ViewPassword: parseView("password", passwordPage),
	ViewRedirect: parseView("redirect", redirectPage),
}

func parseView(name, body string) *template.Template {
	t := template.Must(template.New(name).Parse(layout))
	return template.Must(t.Parse(body))
}

type viewData struct {
	Title       string
	Message     string
	Remediation string
	Action      string
	Hidden      []handoff.Field
	Form        handoff.Form
}

// Render writes the page for res. action is the URL the password form
// posts back to; hidden carries request parameters that must survive the
// password round trip.
func Render(w io.Writer, res *Result, action string, hidden []handoff.Field) error {
	data := viewData{
		Message:     res.Message,
		Remediation: res.Remediation,
		Action:      action,
		Hidden:      hidden,
		Form:        res.Form,
	}
	switch res.View {
	case ViewPassword:
		data.Title = "Archive password"
	case ViewRedirect:
		data.Title = "Starting installer"
	default:
		data.Title = "Installer error"
		if data.Message == "" {
			data.Message = "An unexpected error occurred."
		}
	}
	return views[res.View].Execute(w, data)
}
