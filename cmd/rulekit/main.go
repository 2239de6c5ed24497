package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/rendis/rulekit/internal/diagram"
	"github.com/rendis/rulekit/internal/engine"
	"github.com/rendis/rulekit/internal/expressions"
	"github.com/rendis/rulekit/internal/logging"
	"github.com/rendis/rulekit/internal/scheduler"
	"github.com/rendis/rulekit/internal/store"
	"github.com/rendis/rulekit/internal/streaming"
	"github.com/rendis/rulekit/internal/validation"
	rulesmcp "github.com/rendis/rulekit/pkg/mcp"
	"github.com/rendis/rulekit/pkg/schema"
)

const usage = `usage: rulekit <command> [flags]

commands:
  serve       run the MCP stdio server (default)
  validate    validate and compile workflow documents
  eval        evaluate a workflow from documents against JSON inputs
  diagram     draw a workflow's rule tree (mermaid, ascii, png, svg)
  version     print the version
`

func main() {
	cmd, args := "serve", os.Args[1:]
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	var err error
	switch cmd {
	case "serve":
		err = runServe(loadConfig())
	case "validate":
		err = runValidate(args, os.Stdout)
	case "eval":
		err = runEval(args, os.Stdout)
	case "diagram":
		err = runDiagram(args, os.Stdout)
	case "version", "-v", "--version":
		printVersion()
	case "help", "-h", "--help":
		fmt.Print(usage)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newLogger writes JSON records to stderr; stdout carries the MCP protocol.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	inner := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(inner))
}

// app bundles the wired components shared by every command.
type app struct {
	validator *validation.WorkflowValidator
	engine    *engine.Engine
}

func newApp(cfg Config, logger *slog.Logger, extra ...engine.Option) (*app, error) {
	compiler, err := expressions.NewDefaultCompiler()
	if err != nil {
		return nil, err
	}
	validator, err := validation.NewWorkflowValidator(compiler)
	if err != nil {
		return nil, err
	}
	opts := append([]engine.Option{
		engine.WithLogger(logger),
		engine.WithCompiler(compiler),
		engine.WithValidator(validator),
		engine.WithParallelism(cfg.Parallelism),
		engine.WithExceptionAsFailureMessage(cfg.ExceptionAsFailureMessage),
	}, extra...)
	eng, err := engine.New(opts...)
	if err != nil {
		return nil, err
	}
	return &app{validator: validator, engine: eng}, nil
}

// loadFiles decodes every document and registers all workflows in one batch.
func (rt *app) loadFiles(ctx context.Context, paths []string) ([]schema.Workflow, error) {
	var all []schema.Workflow
	for _, path := range paths {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		wfs, err := rt.validator.DecodeDocument(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		all = append(all, wfs...)
	}
	if len(all) == 0 {
		return nil, nil
	}
	if err := rt.engine.Register(ctx, all...); err != nil {
		return nil, err
	}
	return all, nil
}

func runServe(cfg Config) error {
	logger := newLogger(cfg.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := streaming.NewMemoryHub()
	rt, err := newApp(cfg, logger, engine.WithEventHub(hub))
	if err != nil {
		return err
	}
	defer rt.engine.Close()

	if _, err := rt.loadFiles(ctx, cfg.WorkflowFiles); err != nil {
		return err
	}

	deps := rulesmcp.RulesServerDeps{
		Engine:  rt.engine,
		Decoder: rt.validator,
		Events:  hub,
		Logger:  logger,
	}

	if cfg.DBPath != "" {
		st, err := store.NewLibSQLStore(cfg.dbURI())
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		reloader, err := scheduler.NewReloader(st, rt.engine, cfg.ReloadSchedule, logger)
		if err != nil {
			return err
		}
		if err := reloader.Start(ctx); err != nil {
			return err
		}
		defer reloader.Stop()
		deps.Store = st
	}

	logger.InfoContext(ctx, "rulekit serving MCP on stdio",
		slog.String("version", version),
		slog.Int("workflows", len(rt.engine.Workflows())),
		slog.Bool("store", cfg.DBPath != ""),
	)
	return rulesmcp.NewRulesServer(deps).Serve(ctx)
}

func runValidate(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("validate: at least one document path is required")
	}

	rt, err := newApp(defaultConfig(), logging.Discard())
	if err != nil {
		return err
	}
	defer rt.engine.Close()

	wfs, err := rt.loadFiles(context.Background(), fs.Args())
	if err != nil {
		return err
	}
	for _, wf := range wfs {
		fmt.Fprintf(out, "ok  %s (%d rules)\n", wf.Name, len(wf.Rules))
	}
	return nil
}

func runEval(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("eval", flag.ContinueOnError)
	workflow := fs.String("workflow", "", "workflow to evaluate")
	inputJSON := fs.String("input", "{}", `named inputs as a JSON object, e.g. {"driver":{"rest":4200}}`)
	unnamedJSON := fs.String("unnamed", "", "one unnamed input object as JSON; its fields become top-level symbols")
	parallelism := fs.Int("parallelism", 0, "max concurrent rules (0 = GOMAXPROCS)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *workflow == "" || fs.NArg() == 0 {
		return fmt.Errorf("eval: -workflow and at least one document path are required")
	}

	inputs, err := parseCLIInputs(*inputJSON, *unnamedJSON)
	if err != nil {
		return err
	}

	cfg := defaultConfig()
	cfg.Parallelism = *parallelism
	rt, err := newApp(cfg, logging.Discard())
	if err != nil {
		return err
	}
	defer rt.engine.Close()

	ctx := context.Background()
	if _, err := rt.loadFiles(ctx, fs.Args()); err != nil {
		return err
	}
	tree, err := rt.engine.EvaluateAll(ctx, *workflow, inputs...)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(tree)
}

func runDiagram(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("diagram", flag.ContinueOnError)
	workflow := fs.String("workflow", "", "workflow to draw")
	format := fs.String("format", "mermaid", "output format: "+strings.Join(diagram.Formats, ", "))
	output := fs.String("o", "", "write to this file instead of stdout")
	evaluate := fs.Bool("evaluate", false, "evaluate with -input/-unnamed and paint each rule with its outcome")
	inputJSON := fs.String("input", "{}", "named inputs as a JSON object")
	unnamedJSON := fs.String("unnamed", "", "one unnamed input object as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *workflow == "" || fs.NArg() == 0 {
		return fmt.Errorf("diagram: -workflow and at least one document path are required")
	}

	rt, err := newApp(defaultConfig(), logging.Discard())
	if err != nil {
		return err
	}
	defer rt.engine.Close()

	ctx := context.Background()
	if _, err := rt.loadFiles(ctx, fs.Args()); err != nil {
		return err
	}
	wf, ok := rt.engine.Workflow(*workflow)
	if !ok {
		return schema.NewErrorf(schema.ErrCodeWorkflowNotFound, "workflow %q is not defined", *workflow)
	}

	var tree *schema.ResultTree
	if *evaluate {
		inputs, err := parseCLIInputs(*inputJSON, *unnamedJSON)
		if err != nil {
			return err
		}
		if tree, err = rt.engine.EvaluateAll(ctx, *workflow, inputs...); err != nil {
			return err
		}
	}

	data, err := diagram.Render(ctx, diagram.Build(wf, tree), *format)
	if err != nil {
		return err
	}
	if *output != "" {
		return os.WriteFile(*output, data, 0o644)
	}
	_, err = out.Write(data)
	return err
}

func parseCLIInputs(namedJSON, unnamedJSON string) ([]schema.Input, error) {
	var named map[string]any
	if err := json.Unmarshal([]byte(namedJSON), &named); err != nil {
		return nil, fmt.Errorf("parse -input: %w", err)
	}
	var inputs []schema.Input
	for _, name := range sortedKeys(named) {
		inputs = append(inputs, schema.Named(name, named[name]))
	}

	if unnamedJSON != "" {
		var v map[string]any
		if err := json.Unmarshal([]byte(unnamedJSON), &v); err != nil {
			return nil, fmt.Errorf("parse -unnamed: %w", err)
		}
		inputs = append(inputs, schema.Unnamed(v))
	}
	return inputs, nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
