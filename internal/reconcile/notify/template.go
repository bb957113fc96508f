package notify

import (
	"bytes"
	"errors"
	"strings"
	"text/template"

	"alarm-sync/internal/reconcile/application"
)

// DefaultTemplate renders a cycle summary for chat webhooks.
const DefaultTemplate = `[Alarm Sync]
Batch: {{.BatchID}}
{{- if .Trigger}}
Trigger: {{.Trigger}}
{{- end}}
Started: {{.Started}}
Duration: {{.Duration}}
New: {{.New.Succeeded}} ok / {{.New.Failed}} failed
Changed: {{.Changed.Succeeded}} ok / {{.Changed.Failed}} failed
Heartbeat: {{.Heartbeat.Succeeded}} ok / {{.Heartbeat.Failed}} failed
{{- if .TimedOut}}
Cycle exceeded its max duration
{{- end}}
{{- if .Error}}
Error: {{.Error}}
{{- end}}`

// TemplateData provides fields for rendering notification content.
type TemplateData struct {
	BatchID   string
	Trigger   string
	Started   string
	Duration  string
	New       application.PassResult
	Changed   application.PassResult
	Heartbeat application.PassResult
	TimedOut  bool
	Error     string
}

func templateData(res application.CycleResult) TemplateData {
	return TemplateData{
		BatchID:   res.BatchID,
		Trigger:   res.Trigger,
		Started:   res.StartedAt.UTC().Format("2006-01-02 15:04:05"),
		Duration:  res.Duration().String(),
		New:       res.New,
		Changed:   res.Changed,
		Heartbeat: res.Heartbeat,
		TimedOut:  res.TimedOut,
		Error:     res.Error,
	}
}

// Template renders notification content.
type Template struct {
	tpl *template.Template
}

// NewTemplate parses a notification template, falling back to DefaultTemplate.
func NewTemplate(tpl string) (*Template, error) {
	if strings.TrimSpace(tpl) == "" {
		tpl = DefaultTemplate
	}
	parsed, err := template.New("cycle-notification").Parse(tpl)
	if err != nil {
		return nil, err
	}
	return &Template{tpl: parsed}, nil
}

// Render applies the template to a cycle result.
func (t *Template) Render(res application.CycleResult) (string, error) {
	if t == nil || t.tpl == nil {
		return "", errors.New("cycle template: nil")
	}
	var buf bytes.Buffer
	if err := t.tpl.Execute(&buf, templateData(res)); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}
