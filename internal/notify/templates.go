package notify

import (
	"bytes"
	"fmt"
	"html/template"
)

const layout = `<!DOCTYPE html>
<html><head><meta name="viewport" content="width=device-width, initial-scale=1">
<style>body{font-family:-apple-system,BlinkMacSystemFont,sans-serif;max-width:600px;margin:0 auto;padding:20px;color:#333}a.button{display:inline-block;background:#0a66c2;color:#fff;padding:10px 18px;border-radius:6px;text-decoration:none}</style>
</head><body>
{{block "content" .}}{{end}}
<p style="color:#888;font-size:12px">CommentPilot</p>
</body></html>`

var contents = map[string]string{
	"trial_expired": `{{define "content"}}<h2>Your Premium trial has ended</h2>
<p>Hi {{.Name}}, your 30-day Premium trial is over. You keep Medium features for {{.Days}} more days.</p>
<p><a class="button" href="{{.UpgradeURL}}">Keep Premium</a></p>{{end}}`,

	"grace_expired": `{{define "content"}}<h2>You are now on the Free plan</h2>
<p>Hi {{.Name}}, your grace period has ended and your account moved to the Free plan.</p>
<p><a class="button" href="{{.UpgradeURL}}">Upgrade any time</a></p>{{end}}`,

	"trial_expiring": `{{define "content"}}<h2>Your Premium trial ends in {{.Days}} {{if eq .Days 1}}day{{else}}days{{end}}</h2>
<p>Hi {{.Name}}, subscribe now to keep unlimited comments and news-aware suggestions.</p>
<p><a class="button" href="{{.UpgradeURL}}">Subscribe</a></p>{{end}}`,
}

// EmailData is the input of every email template.
type EmailData struct {
	Name       string
	Days       int
	UpgradeURL string
}

// Templates renders the lifecycle emails.
type Templates struct {
	byName map[string]*template.Template
}

func NewTemplates() (*Templates, error) {
	base, err := template.New("layout").Parse(layout)
	if err != nil {
		return nil, fmt.Errorf("failed to parse email layout: %w", err)
	}

	t := &Templates{byName: make(map[string]*template.Template, len(contents))}
	for name, body := range contents {
		clone, err := base.Clone()
		if err != nil {
			return nil, err
		}
		if _, err := clone.Parse(body); err != nil {
			return nil, fmt.Errorf("failed to parse email %s: %w", name, err)
		}
		t.byName[name] = clone
	}
	return t, nil
}

// MustTemplates panics if the built-in templates do not parse.
func MustTemplates() *Templates {
	t, err := NewTemplates()
	if err != nil {
		panic(err)
	}
	return t
}

func (t *Templates) Render(name string, data EmailData) (string, error) {
	tmpl, ok := t.byName[name]
	if !ok {
		return "", fmt.Errorf("unknown email template %q", name)
	}
	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "layout", data); err != nil {
		return "", fmt.Errorf("failed to render %s: %w", name, err)
	}
	return buf.String(), nil
}
