package graph_test

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deskflow/deskflow/pkg/graph"
	"github.com/deskflow/deskflow/pkg/models"
	"github.com/deskflow/deskflow/pkg/registry"
)

func sequentialIDs() graph.Option {
	var (
		mu sync.Mutex
		n  int
	)

	return graph.WithIDGenerator(func(prefix string) string {
		mu.Lock()
		defer mu.Unlock()

		n++

		return fmt.Sprintf("%s-%d", prefix, n)
	})
}

func newBuilder() *graph.Builder {
	return graph.NewBuilder(registry.NewRegistry(slog.Default()), sequentialIDs())
}

func ptr[T any](v T) *T {
	return &v
}

func TestBuilder_AddNode(t *testing.T) {
	t.Parallel()

	b := newBuilder()

	node, err := b.AddNode(models.NodeTypeDecision, models.Position{X: 10, Y: 20})
	require.NoError(t, err)
	assert.Equal(t, "decision-1", node.ID)
	assert.Equal(t, models.NodeTypeDecision, node.Type)
	assert.Equal(t, 10.0, node.X)
	assert.Empty(t, node.Params)
	assert.Equal(t, 1, b.Len())

	_, err = b.AddNode("teleport", models.Position{})
	require.Error(t, err)
	assert.True(t, registry.IsUnknownNodeType(err))
	assert.Equal(t, 1, b.Len())
}

func TestBuilder_DefaultIDsAreUnique(t *testing.T) {
	t.Parallel()

	b := graph.NewBuilder(registry.NewRegistry(slog.Default()))

	seen := map[string]struct{}{}

	for range 50 {
		node, err := b.AddNode(models.NodeTypeAction, models.Position{})
		require.NoError(t, err)
		assert.Contains(t, node.ID, "action-")

		_, dup := seen[node.ID]
		assert.False(t, dup)
		seen[node.ID] = struct{}{}
	}
}

func TestBuilder_UpdateNode(t *testing.T) {
	t.Parallel()

	b := newBuilder()

	node, err := b.AddNode(models.NodeTypeEscalation, models.Position{})
	require.NoError(t, err)

	updated, err := b.UpdateNode(node.ID, graph.NodePatch{
		Name:   ptr("Escalate"),
		Params: map[string]any{"escalationLevel": "manager", "timeout": 10, "note": "keep me"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Escalate", updated.Name)
	assert.Equal(t, json.Number("10"), updated.Params["timeout"])
	assert.Equal(t, "keep me", updated.Params["note"])

	// params merge key by key and nil removes
	updated, err = b.UpdateNode(node.ID, graph.NodePatch{
		Position: &models.Position{X: 5, Y: 6},
		Params:   map[string]any{"timeout": 20, "note": nil},
	})
	require.NoError(t, err)
	assert.Equal(t, "Escalate", updated.Name)
	assert.Equal(t, "manager", updated.Params["escalationLevel"])
	assert.Equal(t, json.Number("20"), updated.Params["timeout"])
	assert.NotContains(t, updated.Params, "note")
	assert.Equal(t, models.Position{X: 5, Y: 6}, updated.Position)
	assert.Equal(t, models.NodeTypeEscalation, updated.Type)

	_, err = b.UpdateNode("ghost", graph.NodePatch{Name: ptr("x")})
	assert.True(t, graph.IsNodeNotFound(err))

	_, err = b.UpdateNode(node.ID, graph.NodePatch{Params: map[string]any{"bad": make(chan int)}})
	require.Error(t, err)

	stored, err := b.Node(node.ID)
	require.NoError(t, err)
	assert.Equal(t, json.Number("20"), stored.Params["timeout"])
}

func TestBuilder_ReturnedNodesAreCopies(t *testing.T) {
	t.Parallel()

	b := newBuilder()

	node, err := b.AddNode(models.NodeTypeAction, models.Position{})
	require.NoError(t, err)

	node.Name = "mutated"
	node.Params["actionType"] = "create-task"

	stored, err := b.Node(node.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.Name)
	assert.Empty(t, stored.Params)
}

func TestBuilder_RemoveNodeDropsEdges(t *testing.T) {
	t.Parallel()

	b := newBuilder()

	start, _ := b.AddNode(models.NodeTypeStart, models.Position{})
	action, _ := b.AddNode(models.NodeTypeAction, models.Position{})
	end, _ := b.AddNode(models.NodeTypeEnd, models.Position{})

	_, err := b.Connect(start.ID, action.ID, "")
	require.NoError(t, err)
	_, err = b.Connect(action.ID, end.ID, "")
	require.NoError(t, err)
	_, err = b.Connect(start.ID, end.ID, models.HandleDefault)
	require.NoError(t, err)

	require.NoError(t, b.RemoveNode(action.ID))

	g := b.Snapshot()
	assert.Len(t, g.Nodes, 2)
	require.Len(t, g.Edges, 1)
	assert.Equal(t, end.ID, g.Edges[0].Target)

	err = b.RemoveNode(action.ID)
	assert.True(t, graph.IsNodeNotFound(err))
}

func TestBuilder_DuplicateNode(t *testing.T) {
	t.Parallel()

	b := newBuilder()

	original, err := b.AddNode(models.NodeTypeDelay, models.Position{X: 100, Y: 50})
	require.NoError(t, err)
	_, err = b.UpdateNode(original.ID, graph.NodePatch{Params: map[string]any{"delayValue": 5, "delayUnit": "minutes"}})
	require.NoError(t, err)

	clone, err := b.DuplicateNode(original.ID)
	require.NoError(t, err)
	assert.NotEqual(t, original.ID, clone.ID)
	assert.Equal(t, models.Position{X: 120, Y: 70}, clone.Position)
	assert.Equal(t, "minutes", clone.Params["delayUnit"])
	assert.Equal(t, 2, b.Len())

	// editing the duplicate leaves the original untouched
	_, err = b.UpdateNode(clone.ID, graph.NodePatch{Params: map[string]any{"delayUnit": "hours"}})
	require.NoError(t, err)

	stored, err := b.Node(original.ID)
	require.NoError(t, err)
	assert.Equal(t, "minutes", stored.Params["delayUnit"])

	_, err = b.DuplicateNode("ghost")
	assert.True(t, graph.IsNodeNotFound(err))
}

func TestBuilder_Connect(t *testing.T) {
	t.Parallel()

	b := newBuilder()

	start, _ := b.AddNode(models.NodeTypeStart, models.Position{})
	check, _ := b.AddNode(models.NodeTypeDecision, models.Position{})
	end, _ := b.AddNode(models.NodeTypeEnd, models.Position{})

	tests := []struct {
		name    string
		source  string
		target  string
		handle  string
		wantErr error
	}{
		{name: "plain edge", source: start.ID, target: check.ID},
		{name: "true branch", source: check.ID, target: end.ID, handle: models.HandleTrue},
		{name: "false branch", source: check.ID, target: end.ID, handle: models.HandleFalse},
		{name: "duplicate", source: check.ID, target: end.ID, handle: models.HandleTrue, wantErr: graph.ErrDuplicateEdge},
		{name: "branch handle on start", source: start.ID, target: end.ID, handle: models.HandleTrue, wantErr: graph.ErrInvalidHandle},
		{name: "unknown handle", source: check.ID, target: end.ID, handle: "maybe", wantErr: graph.ErrInvalidHandle},
		{name: "missing source", source: "ghost", target: end.ID, wantErr: graph.ErrNodeNotFound},
		{name: "missing target", source: start.ID, target: "ghost", wantErr: graph.ErrNodeNotFound},
	}

	// cases build on each other, so they run in order
	for _, tt := range tests {
		edge, err := b.Connect(tt.source, tt.target, tt.handle)
		if tt.wantErr != nil {
			require.ErrorIs(t, err, tt.wantErr, tt.name)

			var graphErr *graph.GraphError
			require.ErrorAs(t, err, &graphErr, tt.name)
			assert.Equal(t, "Connect", graphErr.Op)

			continue
		}

		require.NoError(t, err, tt.name)
		assert.Equal(t, tt.source, edge.Source)
		assert.Equal(t, tt.handle, edge.SourceHandle)
	}

	assert.Len(t, b.Snapshot().Edges, 3)

	edges := b.Edges()
	require.Len(t, edges, 3)
	edges[0].Target = "mutated"
	assert.Equal(t, check.ID, b.Edges()[0].Target)

	nodes := b.Nodes()
	require.Len(t, nodes, 3)
	assert.Equal(t, start.ID, nodes[0].ID)
}

func TestBuilder_Disconnect(t *testing.T) {
	t.Parallel()

	b := newBuilder()

	start, _ := b.AddNode(models.NodeTypeStart, models.Position{})
	end, _ := b.AddNode(models.NodeTypeEnd, models.Position{})

	edge, err := b.Connect(start.ID, end.ID, "")
	require.NoError(t, err)

	require.NoError(t, b.Disconnect(edge.ID))
	assert.Empty(t, b.Snapshot().Edges)

	err = b.Disconnect(edge.ID)
	assert.True(t, graph.IsEdgeNotFound(err))
	assert.Contains(t, err.Error(), "Disconnect failed for edge")
}

func TestBuilder_SnapshotIsolation(t *testing.T) {
	t.Parallel()

	b := newBuilder()

	node, _ := b.AddNode(models.NodeTypeAction, models.Position{})
	_, err := b.UpdateNode(node.ID, graph.NodePatch{Params: map[string]any{"target": "oncall"}})
	require.NoError(t, err)

	snapshot := b.Snapshot()

	_, err = b.UpdateNode(node.ID, graph.NodePatch{Params: map[string]any{"target": "tier-2"}})
	require.NoError(t, err)
	_, err = b.AddNode(models.NodeTypeEnd, models.Position{})
	require.NoError(t, err)

	assert.Len(t, snapshot.Nodes, 1)
	assert.Equal(t, "oncall", snapshot.Nodes[0].Params["target"])
}

func TestBuilder_ConcurrentEdits(t *testing.T) {
	t.Parallel()

	b := newBuilder()

	var wg sync.WaitGroup

	for range 20 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			node, err := b.AddNode(models.NodeTypeAction, models.Position{})
			if !assert.NoError(t, err) {
				return
			}

			_, err = b.UpdateNode(node.ID, graph.NodePatch{Name: ptr("n")})
			assert.NoError(t, err)
			_ = b.Snapshot()
		}()
	}

	wg.Wait()
	assert.Equal(t, 20, b.Len())
}
