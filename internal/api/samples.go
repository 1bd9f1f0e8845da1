package api

import (
	"net/http"

	"github.com/calafate/loom/internal/workflow"
)

// sampleWorkflow is a ready-made definition clients can import as a starting
// point.
type sampleWorkflow struct {
	Name       string              `json:"name"`
	Definition workflow.Definition `json:"definition"`
}

func condition(op, path string, value any) *workflow.Condition {
	return &workflow.Condition{Op: op, Path: path, Value: value}
}

var sampleDefinitions = []sampleWorkflow{
	{
		Name: "Support Ticket Auto-Responder",
		Definition: workflow.Definition{
			Triggers: []workflow.Trigger{
				{Event: "ticket.created", Condition: condition("eq", "ticket_assigned", false)},
			},
			Nodes: []workflow.Node{
				{ID: "start", Type: workflow.NodeTypeStart, Action: "start", Position: workflow.Position{X: 100, Y: 100}},
				{ID: "ack_email", Type: workflow.NodeTypeAction, Action: "email", Params: map[string]any{
					"to":       "{{user_email}}",
					"template": "ack_ticket",
					"subject":  "Ticket Received",
				}, Position: workflow.Position{X: 350, Y: 100}},
				{ID: "wait", Type: workflow.NodeTypeAction, Action: "delay", Params: map[string]any{
					"seconds": 7200,
				}, Position: workflow.Position{X: 650, Y: 100}},
				{ID: "check_assigned", Type: workflow.NodeTypeAction, Action: "check_ticket_assigned", Position: workflow.Position{X: 650, Y: 300}},
				{ID: "escalate", Type: workflow.NodeTypeAction, Action: "email", Params: map[string]any{
					"to":       "support@company.com",
					"template": "escalate_ticket",
					"subject":  "Ticket Escalation",
				}, Position: workflow.Position{X: 300, Y: 350}},
			},
			Edges: []workflow.Edge{
				{Source: "start", Target: "ack_email"},
				{Source: "ack_email", Target: "wait"},
				{Source: "wait", Target: "check_assigned"},
				{Source: "check_assigned", Target: "escalate", Condition: condition("eq", "data.check_result", false)},
			},
		},
	},
}

func (s *Server) sampleWorkflows(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, sampleDefinitions)
}
