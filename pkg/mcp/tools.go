package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/rendis/rulekit/internal/diagram"
	"github.com/rendis/rulekit/pkg/schema"
)

// handleEvaluate runs a workflow and returns its result tree.
func (s *RulesServer) handleEvaluate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflow, err := req.RequireString("workflow")
	if err != nil {
		return mcp.NewToolResultError("workflow is required"), nil
	}

	inputs, inErr := parseInputs(req)
	if inErr != nil {
		return mcp.NewToolResultError(inErr.Error()), nil
	}

	tree, evalErr := s.engine.EvaluateAll(ctx, workflow, inputs...)
	if evalErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("evaluation failed: %v", evalErr)), nil
	}

	failures := tree.Failures()
	if failures == nil {
		failures = []schema.Result{}
	}
	return marshalResult(map[string]any{
		"evaluation_id": tree.EvaluationID,
		"workflow":      tree.Workflow,
		"all_succeeded": tree.AllSucceeded(),
		"failed":        len(failures),
		"results":       tree.Results,
	})
}

// handleDefine validates, registers and, when a store is configured, persists
// each workflow of the definition.
func (s *RulesServer) handleDefine(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	defRaw := mcp.ParseStringMap(req, "definition", nil)
	if defRaw == nil {
		return mcp.NewToolResultError("definition is required"), nil
	}

	raw, marshalErr := json.Marshal(defRaw)
	if marshalErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid definition: %v", marshalErr)), nil
	}
	wfs, decodeErr := s.decoder.DecodeDocument(raw)
	if decodeErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid definition: %v", decodeErr)), nil
	}

	defined := make([]map[string]any, 0, len(wfs))
	for _, wf := range wfs {
		if err := s.engine.Replace(ctx, wf); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("register %q: %v", wf.Name, err)), nil
		}

		entry := map[string]any{"name": wf.Name, "rules": len(wf.Rules)}
		if s.store != nil {
			stored, err := s.store.SaveWorkflow(ctx, wf)
			if err != nil {
				s.logger.ErrorContext(ctx, "persist workflow failed",
					slog.String("workflow", wf.Name),
					slog.String("error", err.Error()),
				)
				return mcp.NewToolResultError(fmt.Sprintf("registered %q but failed to persist it: %v", wf.Name, err)), nil
			}
			entry["version"] = stored.Version
		}
		defined = append(defined, entry)
	}

	return marshalResult(map[string]any{"defined": defined})
}

// handleList lists the workflows currently registered in the engine.
func (s *RulesServer) handleList(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	prefix := req.GetString("name_prefix", "")
	includeRules := req.GetBool("include_rules", false)

	items := make([]map[string]any, 0)
	for _, wf := range s.engine.Workflows() {
		if !strings.HasPrefix(wf.Name, prefix) {
			continue
		}
		item := map[string]any{
			"name":                  wf.Name,
			"description":           wf.Description,
			"rules":                 len(wf.Rules),
			"stop_on_first_failure": wf.StopOnFirstFailure,
		}
		if includeRules {
			item["definition"] = wf
		}
		items = append(items, item)
	}

	return marshalResult(map[string]any{"workflows": items})
}

// handleDiagram renders a workflow's rule tree, optionally painted with the
// outcome of one evaluation.
func (s *RulesServer) handleDiagram(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("workflow")
	if err != nil {
		return mcp.NewToolResultError("workflow is required"), nil
	}
	format := req.GetString("format", "mermaid")

	wf, ok := s.engine.Workflow(name)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("workflow %q is not registered", name)), nil
	}

	var tree *schema.ResultTree
	if req.GetBool("evaluate", false) {
		inputs, inErr := parseInputs(req)
		if inErr != nil {
			return mcp.NewToolResultError(inErr.Error()), nil
		}
		tree, err = s.engine.EvaluateAll(ctx, name, inputs...)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("evaluation failed: %v", err)), nil
		}
	}

	out, renderErr := diagram.Render(ctx, diagram.Build(wf, tree), format)
	if renderErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("diagram render failed: %v", renderErr)), nil
	}
	switch format {
	case string(diagram.FormatPNG), string(diagram.FormatSVG):
		return mcp.NewToolResultText(base64.StdEncoding.EncodeToString(out)), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

// parseInputs builds engine inputs from the "inputs" object (named, in name
// order) and the "unnamed" array (in array order).
func parseInputs(req mcp.CallToolRequest) ([]schema.Input, error) {
	var inputs []schema.Input

	named := mcp.ParseStringMap(req, "inputs", nil)
	names := make([]string, 0, len(named))
	for name := range named {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		inputs = append(inputs, schema.Named(name, named[name]))
	}

	rawUnnamed, ok := req.GetArguments()["unnamed"]
	if !ok || rawUnnamed == nil {
		return inputs, nil
	}
	unnamed, ok := rawUnnamed.([]any)
	if !ok {
		return nil, fmt.Errorf("unnamed must be an array")
	}
	for _, v := range unnamed {
		inputs = append(inputs, schema.Unnamed(v))
	}
	return inputs, nil
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
