package store

import (
	"context"

	"github.com/rendis/rulekit/pkg/schema"
)

// WorkflowStore persists workflow definitions outside the engine.
// All implementations must be safe for concurrent use.
type WorkflowStore interface {
	// Definitions
	SaveWorkflow(ctx context.Context, wf schema.Workflow) (*StoredWorkflow, error)
	GetWorkflow(ctx context.Context, name string) (*StoredWorkflow, error)
	ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*StoredWorkflow, error)
	DeleteWorkflow(ctx context.Context, name string) error

	// Change log (append-only)
	Changes(ctx context.Context, since int64) ([]*Change, error)
	LatestSequence(ctx context.Context) (int64, error)

	// Maintenance
	Migrate(ctx context.Context) error

	// Lifecycle
	Close() error
}
