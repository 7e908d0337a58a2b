package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"sync"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/deskflow/deskflow/pkg/cmd"
	"github.com/deskflow/deskflow/pkg/eventbus"
	"github.com/deskflow/deskflow/pkg/events"
)

// watchedEvent is one line of watch output.
type watchedEvent struct {
	Type  events.EventType `json:"type"`
	Event any              `json:"event"`
}

// watcher prints the events of a bus as JSON lines until its context ends or
// limit events were written. A limit of zero means no limit.
type watcher struct {
	bus   eventbus.EventBus
	out   io.Writer
	types []events.EventType
	limit int

	mu   sync.Mutex
	seen int
	done chan struct{}
}

func newWatcher(bus eventbus.EventBus, out io.Writer, types []events.EventType, limit int) *watcher {
	if len(types) == 0 {
		types = events.Types()
	}

	return &watcher{
		bus:   bus,
		out:   out,
		types: types,
		limit: limit,
		done:  make(chan struct{}),
	}
}

func (w *watcher) run(ctx context.Context) error {
	for _, eventType := range w.types {
		if err := w.bus.Handle(eventType, w.print(eventType)); err != nil {
			return fmt.Errorf("failed to watch %s events: %w", eventType, err)
		}
	}

	if err := w.bus.Subscribe(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", events.Topic, err)
	}

	select {
	case <-ctx.Done():
	case <-w.done:
	}

	return nil
}

func (w *watcher) print(eventType events.EventType) eventbus.EventHandler {
	return func(_ context.Context, event any) error {
		w.mu.Lock()
		defer w.mu.Unlock()

		if w.limit > 0 && w.seen >= w.limit {
			return nil
		}

		line, err := json.Marshal(watchedEvent{Type: eventType, Event: event})
		if err != nil {
			return err
		}

		if _, err := fmt.Fprintf(w.out, "%s\n", line); err != nil {
			return err
		}

		w.seen++
		if w.limit > 0 && w.seen == w.limit {
			close(w.done)
		}

		return nil
	}
}

func parseEventTypes(names []string) ([]events.EventType, error) {
	known := events.Types()
	types := make([]events.EventType, 0, len(names))

	for _, name := range names {
		eventType := events.EventType(name)
		if !slices.Contains(known, eventType) {
			return nil, fmt.Errorf("unknown event type %q", name)
		}

		types = append(types, eventType)
	}

	return types, nil
}

func watchCommand(ctx context.Context, command *cli.Command) error {
	types, err := parseEventTypes(command.StringSlice("type"))
	if err != nil {
		return err
	}

	if command.Int("count") < 0 {
		return fmt.Errorf("--count must not be negative")
	}

	bus, err := cmd.NewEventBus(command.String("event-bus"), command.String("kafka-brokers"), newLogger(command))
	if err != nil {
		return err
	}

	defer func() {
		_ = bus.Close()
	}()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	return newWatcher(bus, command.Root().Writer, types, int(command.Int("count"))).run(ctx)
}
