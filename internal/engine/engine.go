package engine

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"sync"

	"github.com/rendis/rulekit/internal/expressions"
	"github.com/rendis/rulekit/internal/streaming"
	"github.com/rendis/rulekit/internal/validation"
	"github.com/rendis/rulekit/pkg/schema"
)

// Validator checks workflow batches before registration and inputs before
// evaluation. Satisfied by *validation.WorkflowValidator.
type Validator interface {
	ValidateAll(wfs []schema.Workflow) *schema.ValidationResult
	ValidateInput(input any, inputSchema []byte) error
}

// Option configures an Engine.
type Option func(*Engine)

// WithParallelism bounds how many rules are evaluated concurrently across all
// calls. 1 evaluates every rule inline on the caller's goroutine.
// Values below 1 select runtime.GOMAXPROCS(0).
func WithParallelism(n int) Option {
	return func(e *Engine) { e.parallelism = n }
}

// WithExceptionAsFailureMessage makes a faulted rule report its fault text as
// the result message instead of the configured failure message.
func WithExceptionAsFailureMessage(enabled bool) Option {
	return func(e *Engine) { e.exceptionAsMessage = enabled }
}

// WithLogger sets the engine logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithCompiler replaces the default expression compiler, e.g. to register
// additional expression kinds or share a cache between engines.
func WithCompiler(c *expressions.Compiler) Option {
	return func(e *Engine) { e.compiler = c }
}

// WithValidator replaces the default JSON Schema validator.
func WithValidator(v Validator) Option {
	return func(e *Engine) { e.validator = v }
}

// WithEventHub publishes registry changes and evaluation outcomes to p.
func WithEventHub(p streaming.Publisher) Option {
	return func(e *Engine) { e.events = p }
}

// Engine holds registered workflows and evaluates them against caller inputs.
// It is safe for concurrent use: evaluations run in parallel with each other
// and with registration, and always observe a complete workflow snapshot.
type Engine struct {
	compiler           *expressions.Compiler
	validator          Validator
	pool               *WorkerPool
	logger             *slog.Logger
	parallelism        int
	exceptionAsMessage bool
	events             streaming.Publisher // optional

	// regMu serialises registrations; mu guards the published map.
	regMu     sync.Mutex
	mu        sync.RWMutex
	workflows map[string]*compiledWorkflow
}

// compiledWorkflow is an immutable registered snapshot.
type compiledWorkflow struct {
	def   schema.Workflow
	rules []*compiledRule
}

type compiledRule struct {
	name           string
	expression     string
	kind           schema.ExpressionKind
	successMessage string
	failureMessage string
	disabled       bool
	operator       schema.Operator
	program        expressions.Program // nil for nested rules
	children       []*compiledRule
}

func (r *compiledRule) nested() bool { return r.program == nil }

// New creates an Engine.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{workflows: make(map[string]*compiledWorkflow)}
	for _, opt := range opts {
		opt(e)
	}

	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.parallelism < 1 {
		e.parallelism = runtime.GOMAXPROCS(0)
	}
	if e.compiler == nil {
		c, err := expressions.NewDefaultCompiler()
		if err != nil {
			return nil, fmt.Errorf("create expression compiler: %w", err)
		}
		e.compiler = c
	}
	if e.validator == nil {
		v, err := validation.NewWorkflowValidator(e.compiler)
		if err != nil {
			return nil, fmt.Errorf("create validator: %w", err)
		}
		e.validator = v
	}
	e.pool = NewWorkerPool(e.parallelism)
	return e, nil
}

// Close waits for in-flight rule evaluations and stops the worker pool.
// Evaluations started afterwards fail with CANCELLED unless parallelism is 1.
func (e *Engine) Close() {
	e.pool.Shutdown()
}

// Register validates and compiles workflows and publishes them atomically:
// either every workflow is registered or none is.
func (e *Engine) Register(ctx context.Context, wfs ...schema.Workflow) error {
	e.regMu.Lock()
	defer e.regMu.Unlock()

	compiled, err := e.prepare(wfs, false)
	if err != nil {
		return err
	}

	e.mu.Lock()
	for _, cw := range compiled {
		e.workflows[cw.def.Name] = cw
	}
	e.mu.Unlock()

	for _, cw := range compiled {
		e.logger.InfoContext(ctx, "workflow registered",
			slog.String("workflow", cw.def.Name),
			slog.Int("rules", len(cw.rules)),
		)
		e.publish(ctx, streaming.Event{
			Type:     streaming.EventWorkflowRegistered,
			Workflow: cw.def.Name,
			Payload:  map[string]any{"rules": len(cw.rules)},
		})
	}
	return nil
}

// Replace registers wf, atomically swapping any workflow with the same name.
func (e *Engine) Replace(ctx context.Context, wf schema.Workflow) error {
	e.regMu.Lock()
	defer e.regMu.Unlock()

	compiled, err := e.prepare([]schema.Workflow{wf}, true)
	if err != nil {
		return err
	}

	e.mu.Lock()
	_, existed := e.workflows[wf.Name]
	e.workflows[wf.Name] = compiled[0]
	e.mu.Unlock()

	e.logger.InfoContext(ctx, "workflow replaced",
		slog.String("workflow", wf.Name),
		slog.Bool("existed", existed),
		slog.Int("rules", len(compiled[0].rules)),
	)
	evt := streaming.Event{
		Type:     streaming.EventWorkflowRegistered,
		Workflow: wf.Name,
		Payload:  map[string]any{"rules": len(compiled[0].rules)},
	}
	if existed {
		evt.Type = streaming.EventWorkflowReplaced
	}
	e.publish(ctx, evt)
	return nil
}

// Unregister removes a workflow. In-flight evaluations finish against the
// snapshot they started with.
func (e *Engine) Unregister(name string) error {
	e.regMu.Lock()
	defer e.regMu.Unlock()

	e.mu.Lock()
	if _, ok := e.workflows[name]; !ok {
		e.mu.Unlock()
		return workflowNotFound(name)
	}
	delete(e.workflows, name)
	e.mu.Unlock()

	e.logger.Info("workflow removed", slog.String("workflow", name))
	e.publish(context.Background(), streaming.Event{Type: streaming.EventWorkflowRemoved, Workflow: name})
	return nil
}

// Workflow returns a copy of a registered workflow definition.
func (e *Engine) Workflow(name string) (schema.Workflow, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	cw, ok := e.workflows[name]
	if !ok {
		return schema.Workflow{}, false
	}
	return cw.def.Clone(), true
}

// Workflows returns copies of every registered workflow, sorted by name.
func (e *Engine) Workflows() []schema.Workflow {
	e.mu.RLock()
	out := make([]schema.Workflow, 0, len(e.workflows))
	for _, cw := range e.workflows {
		out = append(out, cw.def.Clone())
	}
	e.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// CacheStats reports the expression compile cache counters.
func (e *Engine) CacheStats() expressions.CacheStats {
	return e.compiler.Stats()
}

// PoolMetrics reports the worker pool counters.
func (e *Engine) PoolMetrics() PoolMetrics {
	return e.pool.Metrics()
}

// prepare validates and compiles a batch without publishing it.
// replace skips the collision check against already registered names.
func (e *Engine) prepare(wfs []schema.Workflow, replace bool) ([]*compiledWorkflow, error) {
	result := e.validator.ValidateAll(wfs)
	if !replace {
		e.mu.RLock()
		for i, wf := range wfs {
			if _, exists := e.workflows[wf.Name]; exists {
				result.AddError(fmt.Sprintf("/workflows/%d/name", i), schema.ErrCodeDuplicateWorkflow,
					fmt.Sprintf("workflow %q is already registered", wf.Name))
			}
		}
		e.mu.RUnlock()
	}
	if err := result.ToError(); err != nil {
		return nil, err
	}

	out := make([]*compiledWorkflow, 0, len(wfs))
	for _, wf := range wfs {
		def := wf.Clone()
		rules, err := e.compileRules(def.Name, def.Rules)
		if err != nil {
			return nil, err
		}
		out = append(out, &compiledWorkflow{def: def, rules: rules})
	}
	return out, nil
}

func (e *Engine) compileRules(workflow string, rules []schema.Rule) ([]*compiledRule, error) {
	out := make([]*compiledRule, 0, len(rules))
	for _, r := range rules {
		cr := &compiledRule{
			name:           r.Name,
			expression:     r.Expression,
			kind:           r.Kind.OrDefault(),
			successMessage: r.SuccessMessage,
			failureMessage: r.FailureMessage,
			disabled:       r.Disabled,
			operator:       r.Operator.OrDefault(),
		}

		if r.IsNested() {
			cr.kind = ""
			children, err := e.compileRules(workflow, r.Rules)
			if err != nil {
				return nil, err
			}
			cr.children = children
		} else {
			prg, err := e.compiler.Compile(cr.kind, r.Expression)
			if err != nil {
				return nil, schema.NewErrorf(schema.ErrCodeCompile,
					"workflow %q rule %q: %s", workflow, r.Name, causeMessage(err)).
					WithRule(r.Name).
					WithCause(err).
					WithDetails(map[string]any{
						"workflow":   workflow,
						"rule":       r.Name,
						"kind":       string(cr.kind),
						"expression": r.Expression,
					})
			}
			cr.program = prg
		}
		out = append(out, cr)
	}
	return out, nil
}

// publish forwards an event to the hub, if any. A failed publish never fails
// the operation that produced it.
func (e *Engine) publish(ctx context.Context, evt streaming.Event) {
	if e.events == nil {
		return
	}
	if err := e.events.Publish(ctx, evt); err != nil {
		e.logger.DebugContext(ctx, "event not published",
			slog.String("type", evt.Type),
			slog.String("error", err.Error()),
		)
	}
}

func workflowNotFound(name string) *schema.EngineError {
	return schema.NewErrorf(schema.ErrCodeWorkflowNotFound, "workflow %q is not registered", name).
		WithDetails(map[string]any{"workflow": name})
}

// causeMessage returns the message of an EngineError without its code prefix.
func causeMessage(err error) string {
	if ee, ok := err.(*schema.EngineError); ok {
		return ee.Message
	}
	return err.Error()
}
