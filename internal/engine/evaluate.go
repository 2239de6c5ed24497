package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/rulekit/internal/expressions"
	"github.com/rendis/rulekit/internal/logging"
	"github.com/rendis/rulekit/internal/streaming"
	"github.com/rendis/rulekit/pkg/schema"
)

// EvaluateAll evaluates every enabled rule of the named workflow against one
// scope built from inputs and returns the results in registration order.
//
// Rule faults never fail the call: they are recorded on the rule's result.
// The call itself fails only for an unknown workflow, unusable inputs, or a
// context cancelled before all rules could be scheduled.
func (e *Engine) EvaluateAll(ctx context.Context, workflowName string, inputs ...schema.Input) (*schema.ResultTree, error) {
	e.mu.RLock()
	cw, ok := e.workflows[workflowName]
	e.mu.RUnlock()
	if !ok {
		return nil, workflowNotFound(workflowName)
	}

	tree := &schema.ResultTree{
		EvaluationID: uuid.NewString(),
		Workflow:     workflowName,
	}
	ctx = logging.WithIDs(ctx, tree.EvaluationID, workflowName)

	rules := enabled(cw.rules)
	if len(rules) == 0 {
		e.logger.WarnContext(ctx, "workflow has no enabled rules")
		tree.Results = []schema.Result{}
		return tree, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, cancelled(err)
	}

	scope, err := expressions.NewScope(inputs...)
	if err != nil {
		return nil, err
	}
	if len(cw.def.InputSchema) > 0 {
		plain, err := scope.Plain()
		if err != nil {
			return nil, err
		}
		if err := e.validator.ValidateInput(plain, cw.def.InputSchema); err != nil {
			return nil, err
		}
	}

	start := time.Now()
	if cw.def.StopOnFirstFailure || e.parallelism == 1 || len(rules) == 1 {
		tree.Results, err = e.evaluateSequential(ctx, rules, scope, cw.def.StopOnFirstFailure)
	} else {
		tree.Results, err = e.evaluateParallel(ctx, rules, scope)
	}
	if err != nil {
		return nil, err
	}

	elapsed := time.Since(start)
	e.logger.DebugContext(ctx, "workflow evaluated",
		slog.Int("rules", len(tree.Results)),
		slog.Bool("all_succeeded", tree.AllSucceeded()),
		slog.Duration("elapsed", elapsed),
	)
	if e.events != nil {
		e.publishOutcome(ctx, tree, elapsed)
	}
	return tree, nil
}

func (e *Engine) evaluateSequential(ctx context.Context, rules []*compiledRule, scope *expressions.Scope, stopOnFailure bool) ([]schema.Result, error) {
	results := make([]schema.Result, 0, len(rules))
	for _, r := range rules {
		if err := ctx.Err(); err != nil {
			return nil, cancelled(err)
		}
		res := e.evaluateRule(ctx, r, scope)
		results = append(results, res)
		if stopOnFailure && !res.IsSuccess {
			break
		}
	}
	return results, nil
}

// evaluateParallel fans rules out over the shared pool. Each goroutine writes
// only its own slot, so results come back in registration order.
func (e *Engine) evaluateParallel(ctx context.Context, rules []*compiledRule, scope *expressions.Scope) ([]schema.Result, error) {
	results := make([]schema.Result, len(rules))
	batch := e.pool.NewBatch()

	for i, r := range rules {
		err := batch.Submit(ctx, func(ctx context.Context) error {
			defer func() {
				if p := recover(); p != nil {
					results[i] = e.panicResult(ctx, r, p)
				}
			}()
			results[i] = e.evaluateRule(ctx, r, scope)
			return results[i].Err
		})
		if err != nil {
			batch.Wait()
			if errors.Is(err, ErrPoolShutdown) {
				return nil, schema.NewError(schema.ErrCodeCancelled, "engine is closed").WithCause(err)
			}
			return nil, cancelled(err)
		}
	}

	batch.Wait()
	return results, nil
}

// evaluateRule produces the result of one rule. It never panics and never
// returns a fault other than through the result.
func (e *Engine) evaluateRule(ctx context.Context, r *compiledRule, scope *expressions.Scope) (res schema.Result) {
	res = schema.Result{
		RuleName:   r.name,
		Expression: r.expression,
		Kind:       r.kind,
	}

	defer func() {
		if p := recover(); p != nil {
			res = e.panicResult(ctx, r, p)
		}
	}()

	var (
		ok  bool
		err error
	)
	if r.nested() {
		ok, res.Children = e.evaluateChildren(ctx, r, scope)
	} else {
		ok, err = r.program.Eval(ctx, scope)
	}

	if err != nil {
		e.fail(ctx, &res, r, scope, ruleFault(r.name, err))
		return res
	}

	res.IsSuccess = ok
	if ok {
		res.Message = expressions.Interpolate(r.successMessage, scope)
	} else {
		res.Message = expressions.Interpolate(r.failureMessage, scope)
	}
	return res
}

// evaluateChildren evaluates every enabled child in order and combines their
// outcomes. AND over no children is true, OR over none is false.
func (e *Engine) evaluateChildren(ctx context.Context, r *compiledRule, scope *expressions.Scope) (bool, []schema.Result) {
	children := enabled(r.children)
	results := make([]schema.Result, 0, len(children))
	combined := r.operator != schema.OperatorOr

	for _, child := range children {
		cr := e.evaluateRule(ctx, child, scope)
		results = append(results, cr)
		if r.operator == schema.OperatorOr {
			combined = combined || cr.IsSuccess
		} else {
			combined = combined && cr.IsSuccess
		}
	}
	return combined, results
}

// panicResult records a recovered panic as the rule's fault. The failure
// message is used without interpolation: resolving its placeholders may
// touch the same value that panicked.
func (e *Engine) panicResult(ctx context.Context, r *compiledRule, p any) schema.Result {
	res := schema.Result{
		RuleName:   r.name,
		Expression: r.expression,
		Kind:       r.kind,
	}
	fault := schema.NewErrorf(schema.ErrCodeExecution, "panic during evaluation: %v", p).WithRule(r.name)
	e.record(ctx, &res, r, fault, r.failureMessage)
	return res
}

func (e *Engine) fail(ctx context.Context, res *schema.Result, r *compiledRule, scope *expressions.Scope, fault *schema.EngineError) {
	e.record(ctx, res, r, fault, expressions.Interpolate(r.failureMessage, scope))
}

func (e *Engine) record(ctx context.Context, res *schema.Result, r *compiledRule, fault *schema.EngineError, failureMessage string) {
	res.IsSuccess = false
	res.Err = fault
	res.ExceptionInfo = fault.Error()
	if e.exceptionAsMessage {
		res.Message = res.ExceptionInfo
	} else {
		res.Message = failureMessage
	}

	e.logger.WarnContext(logging.WithRule(ctx, r.name), "rule evaluation faulted",
		slog.String("code", fault.Code),
		slog.String("error", fault.Message),
	)
}

// ruleFault normalises an evaluation error into an EngineError naming the rule.
func ruleFault(rule string, err error) *schema.EngineError {
	var ee *schema.EngineError
	if errors.As(err, &ee) {
		if ee.Rule == "" {
			ee.Rule = rule
		}
		return ee
	}
	return schema.NewError(schema.ErrCodeExecution, err.Error()).WithRule(rule).WithCause(err)
}

func cancelled(err error) *schema.EngineError {
	return schema.NewError(schema.ErrCodeCancelled, fmt.Sprintf("evaluation cancelled: %s", err.Error())).WithCause(err)
}

func enabled(rules []*compiledRule) []*compiledRule {
	out := make([]*compiledRule, 0, len(rules))
	for _, r := range rules {
		if !r.disabled {
			out = append(out, r)
		}
	}
	return out
}

// publishOutcome emits one event per top-level result, in rule order, then a
// summary event.
func (e *Engine) publishOutcome(ctx context.Context, tree *schema.ResultTree, elapsed time.Duration) {
	for _, r := range tree.Results {
		e.publish(ctx, streaming.Event{
			Type:         streaming.EventRuleEvaluated,
			Workflow:     tree.Workflow,
			EvaluationID: tree.EvaluationID,
			Rule:         r.RuleName,
			Payload: map[string]any{
				"is_success": r.IsSuccess,
				"faulted":    r.Faulted(),
				"message":    r.Message,
			},
		})
	}
	e.publish(ctx, streaming.Event{
		Type:         streaming.EventEvaluationCompleted,
		Workflow:     tree.Workflow,
		EvaluationID: tree.EvaluationID,
		Payload: map[string]any{
			"all_succeeded": tree.AllSucceeded(),
			"failed":        len(tree.Failures()),
			"rules":         len(tree.Results),
			"elapsed_ms":    elapsed.Milliseconds(),
		},
	})
}
