//go:build integration

package dispatch_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/deskflow/deskflow/pkg/dispatch"
	"github.com/deskflow/deskflow/pkg/engine"
	"github.com/deskflow/deskflow/pkg/models"
)

func setupRedis(t *testing.T) string {
	t.Helper()

	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		assert.NoError(t, container.Terminate(context.Background()))
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)

	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	return fmt.Sprintf("%s:%s", host, port.Port())
}

func TestRedisQueue_EscalateAndPop(t *testing.T) {
	addr := setupRedis(t)
	ctx := context.Background()

	queue, err := dispatch.NewRedisQueue(ctx, addr, "", 0, testLogger())
	require.NoError(t, err)
	defer queue.Close()

	for i := range 2 {
		err := queue.Escalate(ctx, engine.Escalation{
			RunID:   fmt.Sprintf("run-%d", i),
			NodeID:  "escalate",
			Level:   "manager",
			Timeout: 10 * time.Minute,
			Ticket:  models.Ticket{ID: fmt.Sprintf("T-%d", i), Priority: models.PriorityCritical},
		})
		require.NoError(t, err)
	}

	size, err := queue.Len(ctx, "manager")
	require.NoError(t, err)
	assert.Equal(t, int64(2), size)

	first, err := queue.Pop(ctx, "manager", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "run-0", first.RunID)
	assert.Equal(t, 10*time.Minute, first.Timeout)
	assert.Equal(t, models.PriorityCritical, first.Ticket.Priority)

	second, err := queue.Pop(ctx, "manager", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "run-1", second.RunID)

	_, err = queue.Pop(ctx, "level-1", 100*time.Millisecond)
	require.ErrorIs(t, err, dispatch.ErrQueueEmpty)
}

func TestRedisQueue_AsEngineEscalator(t *testing.T) {
	addr := setupRedis(t)
	ctx := context.Background()

	queue, err := dispatch.NewRedisQueue(ctx, addr, "", 0, testLogger())
	require.NoError(t, err)
	defer queue.Close()

	collab := dispatch.NewRecorder().Collaborators()
	collab.Escalations = queue

	eng := engine.New(engine.Config{}, collab)

	g := &models.Graph{Nodes: []*models.Node{
		{ID: "start", Type: models.NodeTypeStart},
		{ID: "escalate", Type: models.NodeTypeEscalation, Params: map[string]any{"level": "level-3", "timeout": 15}},
		{ID: "end", Type: models.NodeTypeEnd},
	}}

	res, err := eng.Execute(ctx, g, models.Ticket{ID: "T-77"})
	require.NoError(t, err)

	escalation, err := queue.Pop(ctx, "level-3", time.Second)
	require.NoError(t, err)
	assert.Equal(t, res.RunID, escalation.RunID)
	assert.Equal(t, "T-77", escalation.Ticket.ID)
}
