// Package workflow defines the workflow graph model: nodes, edges, triggers,
// and the condition DSL that gates edge traversal and trigger matching.
package workflow

import (
	"encoding/json"
	"fmt"
)

// ErrValidation wraps all definition validation failures.
var ErrValidation = fmt.Errorf("invalid workflow definition")

// NodeTypeStart marks graph entry points; every other node is an action node.
const (
	NodeTypeStart  = "start"
	NodeTypeAction = "action"
)

// Position is the opaque canvas placement of a node. The engine never
// interprets it; it round-trips for the builder UI.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Node is a vertex of the workflow graph bound to a registered action.
type Node struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Action   string         `json:"action"`
	Params   map[string]any `json:"params,omitempty"`
	Retries  int            `json:"retries,omitempty"`
	Position Position       `json:"position"`
}

// Edge is a directed connector between two nodes. An edge with a condition
// is only traversed when the condition evaluates true against the current
// execution context.
type Edge struct {
	Source    string     `json:"source"`
	Target    string     `json:"target"`
	Condition *Condition `json:"condition,omitempty"`
}

// Trigger matches an external event name against an optional condition.
// Triggers are evaluated by the API surface; the executor is trigger-agnostic.
type Trigger struct {
	Event     string     `json:"event"`
	Condition *Condition `json:"condition,omitempty"`
}

// Definition is a complete workflow graph. It is immutable during a run.
type Definition struct {
	Nodes    []Node    `json:"nodes"`
	Edges    []Edge    `json:"edges"`
	Triggers []Trigger `json:"triggers,omitempty"`
}

// ParseDefinition decodes a JSON definition column and validates it.
func ParseDefinition(raw []byte) (*Definition, error) {
	var def Definition
	if err := json.Unmarshal(raw, &def); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// Validate checks structural soundness: at least one node, unique node IDs,
// edges that reference existing nodes, and non-negative retry counts.
// Cycles are not rejected here; the executor detects them at run time so a
// stored definition can still be inspected and repaired.
func (d *Definition) Validate() error {
	if len(d.Nodes) == 0 {
		return fmt.Errorf("%w: no nodes", ErrValidation)
	}

	seen := make(map[string]bool, len(d.Nodes))
	for _, n := range d.Nodes {
		if n.ID == "" {
			return fmt.Errorf("%w: node with empty id", ErrValidation)
		}
		if seen[n.ID] {
			return fmt.Errorf("%w: duplicate node id %q", ErrValidation, n.ID)
		}
		seen[n.ID] = true
		if n.Retries < 0 {
			return fmt.Errorf("%w: node %q has negative retries", ErrValidation, n.ID)
		}
	}

	for _, e := range d.Edges {
		if !seen[e.Source] {
			return fmt.Errorf("%w: edge source %q is not a node", ErrValidation, e.Source)
		}
		if !seen[e.Target] {
			return fmt.Errorf("%w: edge target %q is not a node", ErrValidation, e.Target)
		}
	}

	return nil
}

// NodeMap indexes nodes by ID for graph traversal.
func (d *Definition) NodeMap() map[string]Node {
	m := make(map[string]Node, len(d.Nodes))
	for _, n := range d.Nodes {
		m[n.ID] = n
	}
	return m
}

// EntryNodes returns the traversal entry points: every node of type "start",
// or the first node in definition order when no start node exists.
func (d *Definition) EntryNodes() []Node {
	var starts []Node
	for _, n := range d.Nodes {
		if n.Type == NodeTypeStart {
			starts = append(starts, n)
		}
	}
	if len(starts) == 0 && len(d.Nodes) > 0 {
		starts = d.Nodes[:1]
	}
	return starts
}

// OutgoingEdges returns the edges leaving a node in definition order.
func (d *Definition) OutgoingEdges(nodeID string) []Edge {
	var out []Edge
	for _, e := range d.Edges {
		if e.Source == nodeID {
			out = append(out, e)
		}
	}
	return out
}

// MatchTrigger reports whether any trigger fires for the given payload.
// A trigger without a condition never matches implicitly; its condition is
// evaluated against the payload, and a nil condition evaluates false (the
// truthiness rule for an empty condition object).
func (d *Definition) MatchTrigger(payload map[string]any) bool {
	for _, t := range d.Triggers {
		if Evaluate(t.Condition, payload) {
			return true
		}
	}
	return false
}
