package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/deskflow/deskflow/pkg/dispatch"
	"github.com/deskflow/deskflow/pkg/engine"
	"github.com/deskflow/deskflow/pkg/graph"
	"github.com/deskflow/deskflow/pkg/log"
	"github.com/deskflow/deskflow/pkg/models"
	"github.com/deskflow/deskflow/pkg/registry"
	"github.com/deskflow/deskflow/pkg/validation"
)

var (
	ErrMissingArgument = errors.New("missing argument")
	ErrInvalidWorkflow = errors.New("workflow has validation errors")
	ErrRunFailed       = errors.New("run failed")
)

// workflowSource is a graph read from disk together with the name found in
// workflow.json metadata, if any.
type workflowSource struct {
	Graph *models.Graph
	Name  string
	Raw   []byte
}

// loadWorkflow reads either a workflow.json document (it has "elements") or
// a bare graph ({"nodes": [...]}).
func loadWorkflow(path string, reg *registry.Registry) (*workflowSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var keys map[string]json.RawMessage
	if err := json.Unmarshal(data, &keys); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", path, graph.ErrMalformedGraph, err)
	}

	if _, ok := keys["elements"]; ok {
		file, g, err := graph.ImportFile(data, reg)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}

		return &workflowSource{Graph: g, Name: file.Metadata.Name, Raw: data}, nil
	}

	g, err := graph.Decode(data, reg)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	return &workflowSource{Graph: g, Name: name, Raw: data}, nil
}

func firstArg(command *cli.Command, what string) (string, error) {
	arg := command.Args().First()
	if arg == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingArgument, what)
	}

	return arg, nil
}

// loadTicket reads --ticket, or builds a ticket from --ticket-id and --priority.
func loadTicket(command *cli.Command) (models.Ticket, error) {
	if path := command.String("ticket"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return models.Ticket{}, fmt.Errorf("failed to read ticket: %w", err)
		}

		var ticket models.Ticket
		if err := json.Unmarshal(data, &ticket); err != nil {
			return models.Ticket{}, fmt.Errorf("invalid ticket %s: %w", path, err)
		}

		return ticket, nil
	}

	return models.Ticket{
		ID:       command.String("ticket-id"),
		Priority: models.Priority(command.String("priority")),
	}, nil
}

func printJSON(command *cli.Command, v any) error {
	var buf bytes.Buffer

	encoder := json.NewEncoder(&buf)
	encoder.SetIndent("", "  ")

	if err := encoder.Encode(v); err != nil {
		return err
	}

	_, err := command.Root().Writer.Write(buf.Bytes())

	return err
}

func newLogger(command *cli.Command) *slog.Logger {
	return log.SetupWriter(command.Root().ErrWriter, command.Root().String("log-level"), "text")
}

func validateCommand(_ context.Context, command *cli.Command) error {
	path, err := firstArg(command, "workflow file")
	if err != nil {
		return err
	}

	reg := registry.NewRegistry(newLogger(command))

	source, err := loadWorkflow(path, reg)
	if err != nil {
		return err
	}

	findings := validation.New(reg).Validate(source.Graph)

	err = printJSON(command, findings)
	if err != nil {
		return err
	}

	if validation.HasErrors(findings) {
		return ErrInvalidWorkflow
	}

	return nil
}

func runCommand(ctx context.Context, command *cli.Command) error {
	path, err := firstArg(command, "workflow file")
	if err != nil {
		return err
	}

	logger := newLogger(command)
	reg := registry.NewRegistry(logger)

	source, err := loadWorkflow(path, reg)
	if err != nil {
		return err
	}

	ticket, err := loadTicket(command)
	if err != nil {
		return err
	}

	inputs, err := parseInputs(command.StringSlice("input"))
	if err != nil {
		return err
	}

	recorder := dispatch.NewRecorder()
	eng := engine.New(engine.Config{
		MaxSteps:         int(command.Int("max-steps")),
		Workers:          1,
		EscalationPolicy: engine.EscalationPolicy(command.String("escalation-policy")),
	}, recorder.Collaborators(), engine.WithLogger(logger))

	defer func() {
		_ = eng.Close(context.WithoutCancel(ctx))
	}()

	res, err := eng.Execute(ctx, source.Graph, ticket, engine.WithInputs(inputs))
	if res == nil {
		return err
	}

	err = printJSON(command, map[string]any{
		"execution":   res.Execution(),
		"actions":     recorder.Actions(),
		"escalations": recorder.Escalations(),
	})
	if err != nil {
		return err
	}

	if res.State == models.RunStateFailed {
		return fmt.Errorf("%w: %s", ErrRunFailed, res.ErrorMessage())
	}

	return nil
}

// parseInputs reads key=value pairs into the initial run context. Values that
// parse as JSON keep their JSON type; anything else is a string.
func parseInputs(pairs []string) (map[string]any, error) {
	inputs := make(map[string]any, len(pairs))

	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("%w: input %q is not key=value", ErrMissingArgument, pair)
		}

		var value any
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			value = raw
		}

		inputs[key] = value
	}

	return inputs, nil
}
