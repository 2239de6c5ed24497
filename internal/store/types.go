package store

import (
	"time"

	"github.com/rendis/rulekit/pkg/schema"
)

// StoredWorkflow is a persisted workflow definition.
type StoredWorkflow struct {
	Name       string          `json:"name"`
	Version    int             `json:"version"`
	Definition schema.Workflow `json:"definition"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// WorkflowFilter narrows ListWorkflows results.
type WorkflowFilter struct {
	NamePrefix string
	Limit      int
}

// ChangeType classifies an entry of the change log.
type ChangeType string

const (
	ChangeSaved   ChangeType = "saved"
	ChangeDeleted ChangeType = "deleted"
)

// Change records one save or delete of a workflow definition.
// Sequence is global and strictly increasing across workflows.
type Change struct {
	Sequence  int64      `json:"sequence"`
	Workflow  string     `json:"workflow"`
	Type      ChangeType `json:"type"`
	Version   int        `json:"version"`
	Timestamp time.Time  `json:"timestamp"`
}
