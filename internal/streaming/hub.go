package streaming

import "context"

// Event types published by the engine.
const (
	EventEvaluationCompleted = "evaluation.completed"
	EventRuleEvaluated       = "rule.evaluated"
	EventWorkflowRegistered  = "workflow.registered"
	EventWorkflowReplaced    = "workflow.replaced"
	EventWorkflowRemoved     = "workflow.removed"
)

// Event is a real-time notification about evaluations and the workflow registry.
type Event struct {
	Type         string `json:"type"`
	Workflow     string `json:"workflow"`
	EvaluationID string `json:"evaluation_id,omitempty"`
	Rule         string `json:"rule,omitempty"`
	Payload      any    `json:"payload,omitempty"`
}

// Filter specifies which events a subscriber wants to receive.
// Zero fields match everything.
type Filter struct {
	Workflow string   `json:"workflow,omitempty"`
	Types    []string `json:"types,omitempty"`
}

// Publisher is the side of a hub the engine writes to.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Hub provides pub/sub for engine events.
type Hub interface {
	Publisher
	Subscribe(ctx context.Context, filter Filter) (<-chan Event, func(), error)
}
