package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/deskflow/deskflow/pkg/client"
	"github.com/deskflow/deskflow/pkg/registry"
)

func newClient(ctx context.Context, command *cli.Command) (*client.Client, error) {
	c, err := client.New(command.String("server"), client.WithToken(command.String("token")))
	if err != nil {
		return nil, err
	}

	if username := command.String("username"); username != "" {
		if _, err := c.Login(ctx, username, command.String("password")); err != nil {
			return nil, fmt.Errorf("login failed: %w", err)
		}
	}

	return c, nil
}

func submitCommand(ctx context.Context, command *cli.Command) error {
	path, err := firstArg(command, "workflow file")
	if err != nil {
		return err
	}

	source, err := loadWorkflow(path, registry.NewRegistry(newLogger(command)))
	if err != nil {
		return err
	}

	name := command.String("name")
	if name == "" {
		name = source.Name
	}

	c, err := newClient(ctx, command)
	if err != nil {
		return err
	}

	workflow, err := c.CreateWorkflow(ctx, name, source.Graph)
	if err != nil {
		return err
	}

	if !command.Bool("execute") {
		return printJSON(command, workflow)
	}

	ticket, err := loadTicket(command)
	if err != nil {
		return err
	}

	result, err := c.ExecuteStoredWorkflow(ctx, workflow.ID, &ticket, false)
	if err != nil {
		return err
	}

	return printJSON(command, map[string]any{
		"workflow":  workflow,
		"execution": result,
	})
}

func exportCommand(ctx context.Context, command *cli.Command) error {
	id, err := firstArg(command, "workflow id")
	if err != nil {
		return err
	}

	c, err := newClient(ctx, command)
	if err != nil {
		return err
	}

	document, err := c.ExportWorkflow(ctx, id)
	if err != nil {
		return err
	}

	if output := command.String("output"); output != "" {
		return os.WriteFile(output, document, 0o600)
	}

	_, err = command.Root().Writer.Write(append(document, '\n'))

	return err
}

func importCommand(ctx context.Context, command *cli.Command) error {
	path, err := firstArg(command, "workflow file")
	if err != nil {
		return err
	}

	document, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	c, err := newClient(ctx, command)
	if err != nil {
		return err
	}

	workflow, err := c.ImportWorkflow(ctx, document)
	if err != nil {
		return err
	}

	return printJSON(command, workflow)
}
