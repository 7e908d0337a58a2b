// Command deskflow validates and runs workflow files locally and talks to a
// Deskflow API server.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
)

func serverFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "server",
			Aliases: []string{"s"},
			Usage:   "Deskflow API base URL",
			Value:   "http://localhost:9091",
			Sources: cli.EnvVars("DESKFLOW_SERVER"),
		},
		&cli.StringFlag{
			Name:    "token",
			Usage:   "Bearer token",
			Sources: cli.EnvVars("DESKFLOW_TOKEN"),
		},
		&cli.StringFlag{
			Name:    "username",
			Usage:   "Log in with this user before the call",
			Sources: cli.EnvVars("DESKFLOW_USERNAME"),
		},
		&cli.StringFlag{
			Name:    "password",
			Usage:   "Password for --username",
			Sources: cli.EnvVars("DESKFLOW_PASSWORD"),
		},
	}
}

func ticketFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "ticket",
			Usage: "Path to a ticket JSON document",
		},
		&cli.StringFlag{
			Name:  "ticket-id",
			Usage: "Ticket id when no --ticket file is given",
			Value: "local",
		},
		&cli.StringFlag{
			Name:  "priority",
			Usage: "Ticket priority when no --ticket file is given (low, medium, high, critical)",
		},
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:                  "deskflow",
		Usage:                 "Design, validate and execute service-desk workflows",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "warn",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "validate",
				Aliases:   []string{"v"},
				Usage:     "Validate a graph or workflow.json file",
				ArgsUsage: "<file>",
				Action:    validateCommand,
			},
			{
				Name:      "run",
				Aliases:   []string{"r"},
				Usage:     "Execute a graph or workflow.json file locally with recorded collaborators",
				ArgsUsage: "<file>",
				Flags: append([]cli.Flag{
					&cli.IntFlag{
						Name:  "max-steps",
						Usage: "Step budget of the run",
					},
					&cli.StringFlag{
						Name:  "escalation-policy",
						Usage: "continue or halt after escalations",
						Value: "continue",
					},
					&cli.StringSliceFlag{
						Name:  "input",
						Usage: "Seed the run context with key=value (repeatable, JSON values keep their type)",
					},
				}, ticketFlags()...),
				Action: runCommand,
			},
			{
				Name:      "submit",
				Usage:     "Create a workflow on the server from a graph or workflow.json file",
				ArgsUsage: "<file>",
				Flags: append([]cli.Flag{
					&cli.StringFlag{
						Name:  "name",
						Usage: "Workflow name (defaults to the file metadata or file name)",
					},
					&cli.BoolFlag{
						Name:  "execute",
						Usage: "Execute the workflow once it is created",
					},
				}, append(serverFlags(), ticketFlags()...)...),
				Action: submitCommand,
			},
			{
				Name:      "export",
				Usage:     "Download a saved workflow as workflow.json",
				ArgsUsage: "<workflow-id>",
				Flags: append([]cli.Flag{
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Output file (stdout when empty)",
					},
				}, serverFlags()...),
				Action: exportCommand,
			},
			{
				Name:      "import",
				Usage:     "Create a workflow on the server from a workflow.json file",
				ArgsUsage: "<file>",
				Flags:     serverFlags(),
				Action:    importCommand,
			},
			{
				Name:  "watch",
				Usage: "Print run and workflow events from the event bus as JSON lines",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "event-bus",
						Usage:   "Event bus type (gochannel, kafka)",
						Value:   "kafka",
						Sources: cli.EnvVars("EVENT_BUS_TYPE"),
					},
					&cli.StringFlag{
						Name:    "kafka-brokers",
						Usage:   "Comma separated Kafka brokers",
						Sources: cli.EnvVars("KAFKA_BROKERS"),
					},
					&cli.StringSliceFlag{
						Name:  "type",
						Usage: "Only print events of this type (repeatable, all types when empty)",
					},
					&cli.IntFlag{
						Name:  "count",
						Usage: "Exit after this many events (0 watches until interrupted)",
					},
				},
				Action: watchCommand,
			},
		},
	}
}

func main() {
	err := newApp().Run(context.Background(), os.Args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
