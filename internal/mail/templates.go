package mail

import (
	"html/template"
	"strings"

	"github.com/calafate/loom/internal/log"
)

// Named templates available to the email action. Context values are pulled
// from the execution context by dotted name; absent values render as N/A.
var templates = map[string]*template.Template{
	"ack_ticket": template.Must(template.New("ack_ticket").Parse(`
<h2>Ticket Acknowledgment</h2>
<p>We've received your ticket (#{{.ticket_id}}). Our team will get back to you soon.</p>
<p>Ticket Title: {{.ticket_title}}</p>
`)),
	"escalate_ticket": template.Must(template.New("escalate_ticket").Parse(`
<h2>Ticket Escalation</h2>
<p>Ticket #{{.ticket_id}} has not been assigned for 2 hours. Please review.</p>
<p>Ticket Title: {{.ticket_title}}</p>
<p>User: {{.user_email}}</p>
`)),
}

// templateFields lists the context keys each template substitutes.
var templateFields = []string{"ticket_id", "ticket_title", "user_email"}

// RenderTemplate renders a named HTML template against a context map.
// Unknown template names render a placeholder body rather than failing the
// enclosing action.
func RenderTemplate(name string, ctx map[string]any) string {
	tmpl, ok := templates[name]
	if !ok {
		log.Warn(log.CatMail, "unknown template", "name", name)
		return "Template not found"
	}

	data := make(map[string]any, len(templateFields))
	for _, field := range templateFields {
		if v, ok := ctx[field]; ok && v != nil {
			data[field] = v
		} else {
			data[field] = "N/A"
		}
	}

	var b strings.Builder
	if err := tmpl.Execute(&b, data); err != nil {
		log.ErrorErr(log.CatMail, "render template", err, "name", name)
		return "Template not found"
	}
	return b.String()
}
