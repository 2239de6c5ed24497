package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rendis/rulekit/internal/store"
	"github.com/rendis/rulekit/pkg/schema"
)

// DefaultSchedule polls the store once a minute.
const DefaultSchedule = "@every 1m"

// Registry is the part of the engine the reloader drives.
// Satisfied by *engine.Engine (avoids import cycle).
type Registry interface {
	Replace(ctx context.Context, wf schema.Workflow) error
	Unregister(name string) error
}

// SyncStats summarises one Sync pass.
type SyncStats struct {
	Replaced int   `json:"replaced"`
	Removed  int   `json:"removed"`
	Failed   int   `json:"failed"`
	Cursor   int64 `json:"cursor"`
}

// Reloader keeps an engine's registered workflows in step with a
// WorkflowStore. The first pass loads every stored definition; later passes
// apply only the change log entries written since the previous pass.
type Reloader struct {
	store    store.WorkflowStore
	registry Registry
	schedule cron.Schedule
	logger   *slog.Logger
	cancel   context.CancelFunc
	done     chan struct{}
	mu       sync.Mutex

	// syncMu serialises passes; cursor and primed are guarded by it.
	syncMu sync.Mutex
	cursor int64
	primed bool
}

// NewReloader creates a Reloader. spec is a five-field cron expression or a
// descriptor such as "@every 30s" or "@hourly"; empty selects DefaultSchedule.
func NewReloader(s store.WorkflowStore, registry Registry, spec string, logger *slog.Logger) (*Reloader, error) {
	if spec == "" {
		spec = DefaultSchedule
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	schedule, err := parser.Parse(spec)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "parse reload schedule %q: %s", spec, err.Error()).WithCause(err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reloader{
		store:    s,
		registry: registry,
		schedule: schedule,
		logger:   logger,
	}, nil
}

// NextRun returns the first scheduled pass after from.
func (r *Reloader) NextRun(from time.Time) time.Time {
	return r.schedule.Next(from)
}

// Start runs a first pass synchronously, so the engine is loaded when Start
// returns, then launches the background loop.
func (r *Reloader) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.done != nil {
		r.mu.Unlock()
		return fmt.Errorf("reloader already started")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	r.mu.Unlock()

	if _, err := r.Sync(loopCtx); err != nil {
		r.logger.ErrorContext(ctx, "initial workflow sync failed", slog.String("error", err.Error()))
	}

	go r.loop(loopCtx)
	r.logger.InfoContext(ctx, "reloader started")
	return nil
}

func (r *Reloader) loop(ctx context.Context) {
	defer close(r.done)

	for {
		now := time.Now()
		timer := time.NewTimer(r.schedule.Next(now).Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			if _, err := r.Sync(ctx); err != nil {
				r.logger.ErrorContext(ctx, "workflow sync failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Stop cancels the loop and waits for an in-flight pass to finish.
func (r *Reloader) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancel == nil {
		return nil
	}
	r.cancel()
	<-r.done
	r.cancel = nil
	r.done = nil

	r.logger.Info("reloader stopped")
	return nil
}

// Sync applies pending store changes to the registry. A definition the
// engine rejects is logged and counted as failed; it does not stop the pass.
func (r *Reloader) Sync(ctx context.Context) (SyncStats, error) {
	r.syncMu.Lock()
	defer r.syncMu.Unlock()

	var (
		stats SyncStats
		err   error
	)
	if !r.primed {
		stats, err = r.fullLoad(ctx)
	} else {
		stats, err = r.applyChanges(ctx)
	}
	if err != nil {
		return stats, err
	}
	stats.Cursor = r.cursor

	if stats.Replaced+stats.Removed+stats.Failed > 0 {
		r.logger.InfoContext(ctx, "workflows synced",
			slog.Int("replaced", stats.Replaced),
			slog.Int("removed", stats.Removed),
			slog.Int("failed", stats.Failed),
			slog.Int64("cursor", stats.Cursor),
		)
	}
	return stats, nil
}

// fullLoad reads the cursor before the listing, so changes racing with the
// listing are replayed by the next pass rather than missed.
func (r *Reloader) fullLoad(ctx context.Context) (SyncStats, error) {
	var stats SyncStats
	cursor, err := r.store.LatestSequence(ctx)
	if err != nil {
		return stats, err
	}
	stored, err := r.store.ListWorkflows(ctx, store.WorkflowFilter{})
	if err != nil {
		return stats, err
	}

	for _, sw := range stored {
		r.replace(ctx, sw, &stats)
	}
	r.cursor = cursor
	r.primed = true
	return stats, nil
}

func (r *Reloader) applyChanges(ctx context.Context) (SyncStats, error) {
	var stats SyncStats
	changes, err := r.store.Changes(ctx, r.cursor)
	if err != nil {
		return stats, err
	}
	if len(changes) == 0 {
		return stats, nil
	}

	// Only the newest change per workflow matters.
	latest := make(map[string]*store.Change, len(changes))
	var order []string
	for _, c := range changes {
		if _, seen := latest[c.Workflow]; !seen {
			order = append(order, c.Workflow)
		}
		latest[c.Workflow] = c
	}

	for _, name := range order {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		switch c := latest[name]; c.Type {
		case store.ChangeDeleted:
			r.remove(ctx, name, &stats)
		default:
			sw, err := r.store.GetWorkflow(ctx, name)
			if schema.IsCode(err, schema.ErrCodeNotFound) {
				r.remove(ctx, name, &stats)
				continue
			}
			if err != nil {
				return stats, err
			}
			r.replace(ctx, sw, &stats)
		}
	}

	r.cursor = changes[len(changes)-1].Sequence
	return stats, nil
}

func (r *Reloader) replace(ctx context.Context, sw *store.StoredWorkflow, stats *SyncStats) {
	if err := r.registry.Replace(ctx, sw.Definition); err != nil {
		stats.Failed++
		r.logger.WarnContext(ctx, "stored workflow rejected",
			slog.String("workflow", sw.Name),
			slog.Int("version", sw.Version),
			slog.String("error", err.Error()),
		)
		return
	}
	stats.Replaced++
}

func (r *Reloader) remove(ctx context.Context, name string, stats *SyncStats) {
	err := r.registry.Unregister(name)
	if err != nil && !schema.IsCode(err, schema.ErrCodeWorkflowNotFound) {
		stats.Failed++
		r.logger.WarnContext(ctx, "unregister workflow failed",
			slog.String("workflow", name),
			slog.String("error", err.Error()),
		)
		return
	}
	if err == nil {
		stats.Removed++
	}
}
