package graph_test

import (
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deskflow/deskflow/pkg/graph"
	"github.com/deskflow/deskflow/pkg/models"
	"github.com/deskflow/deskflow/pkg/registry"
	"github.com/deskflow/deskflow/pkg/testutil"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	t.Parallel()

	reg := registry.NewRegistry(slog.Default())
	original := testutil.CreateConnectedEscalationGraph()
	original.Nodes[1].Params["customFlag"] = map[string]any{"nested": []any{"a", json.Number("1")}}

	data, err := graph.Encode(original)
	require.NoError(t, err)

	decoded, err := graph.Decode(data, reg)
	require.NoError(t, err)
	assert.Equal(t, original, decoded)

	again, err := graph.Encode(decoded)
	require.NoError(t, err)
	assert.JSONEq(t, string(data), string(again))
	assert.Equal(t, data, again)
}

func TestDecode_PreservesLargeIntegers(t *testing.T) {
	t.Parallel()

	reg := registry.NewRegistry(slog.Default())
	data := []byte(`{"nodes":[{"id":"notify","type":"action","params":{"actionType":"update-ticket","target":"status","fields":{"externalId":9007199254740993},"ratio":0.25}}]}`)

	g, err := graph.Decode(data, reg)
	require.NoError(t, err)

	params := g.Nodes[0].Params
	assert.Equal(t, json.Number("0.25"), params["ratio"])
	assert.Equal(t, map[string]any{"externalId": json.Number("9007199254740993")}, params["fields"])

	out, err := graph.Encode(g)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"externalId":9007199254740993`)

	// clones taken by the builder and the engine keep the digits too
	b := graph.FromGraph(g, reg)
	again, err := b.Serialize()
	require.NoError(t, err)
	assert.Equal(t, out, again)

	_, g, err = graph.ImportFile([]byte(`{"elements":[{"id":"a","type":"start","params":{"seq":18014398509481985}}]}`), reg)
	require.NoError(t, err)
	assert.Equal(t, "18014398509481985", g.Nodes[0].StringParam("seq"))
}

func TestEncode_EmptyGraph(t *testing.T) {
	t.Parallel()

	data, err := graph.Encode(nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"nodes":[]}`, string(data))

	data, err = graph.Encode(&models.Graph{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"nodes":[]}`, string(data))
}

func TestDecode_Malformed(t *testing.T) {
	t.Parallel()

	reg := registry.NewRegistry(slog.Default())

	tests := []struct {
		name string
		data string
	}{
		{name: "empty", data: ""},
		{name: "null", data: "null"},
		{name: "not json", data: "{nodes"},
		{name: "wrong shape", data: `{"nodes":{"id":"a"}}`},
		{name: "null node", data: `{"nodes":[null]}`},
		{name: "missing id", data: `{"nodes":[{"type":"start"}]}`},
		{name: "duplicate id", data: `{"nodes":[{"id":"a","type":"start"},{"id":"a","type":"end"}]}`},
		{name: "unknown type", data: `{"nodes":[{"id":"a","type":"teleport"}]}`},
		{name: "edge to missing node", data: `{"nodes":[{"id":"a","type":"start"}],"edges":[{"id":"e1","source":"a","target":"b"}]}`},
		{name: "edge without id", data: `{"nodes":[{"id":"a","type":"start"},{"id":"b","type":"end"}],"edges":[{"source":"a","target":"b"}]}`},
		{name: "branch handle on action", data: `{"nodes":[{"id":"a","type":"action"},{"id":"b","type":"end"}],"edges":[{"id":"e1","source":"a","target":"b","sourceHandle":"true"}]}`},
		{name: "false handle on start", data: `{"nodes":[{"id":"a","type":"start"},{"id":"b","type":"end"}],"edges":[{"id":"e1","source":"a","target":"b","sourceHandle":"false"}]}`},
		{name: "unknown handle on decision", data: `{"nodes":[{"id":"a","type":"decision"},{"id":"b","type":"end"}],"edges":[{"id":"e1","source":"a","target":"b","sourceHandle":"maybe"}]}`},
		{name: "trailing data", data: `{"nodes":[]} {"nodes":[]}`},
		{name: "duplicate edge id", data: `{"nodes":[{"id":"a","type":"start"},{"id":"b","type":"end"}],"edges":[{"id":"e","source":"a","target":"b"},{"id":"e","source":"b","target":"a"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			g, err := graph.Decode([]byte(tt.data), reg)
			require.Error(t, err)
			assert.Nil(t, g)
			assert.True(t, graph.IsMalformedGraph(err))
		})
	}
}

func TestDecode_HandlesMatchBuilder(t *testing.T) {
	t.Parallel()

	reg := registry.NewRegistry(slog.Default())

	_, err := graph.Decode([]byte(`{"nodes":[{"id":"a","type":"action"},{"id":"b","type":"end"}],"edges":[{"id":"e1","source":"a","target":"b","sourceHandle":"true"}]}`), reg)
	require.ErrorIs(t, err, graph.ErrInvalidHandle)
	assert.True(t, graph.IsMalformedGraph(err))

	g, err := graph.Decode([]byte(`{"nodes":[{"id":"v","type":"verification"},{"id":"a","type":"action"},{"id":"b","type":"end"}],"edges":[`+
		`{"id":"e1","source":"v","target":"a","sourceHandle":"true"},`+
		`{"id":"e2","source":"v","target":"b","sourceHandle":"false"},`+
		`{"id":"e3","source":"a","target":"b","sourceHandle":"default"}]}`), reg)
	require.NoError(t, err)
	assert.Len(t, g.Edges, 3)
}

func TestDecode_FillsDefaults(t *testing.T) {
	t.Parallel()

	reg := registry.NewRegistry(slog.Default())

	g, err := graph.Decode([]byte(`{"nodes":[{"id":"a","type":"start"}],"edges":[]}`), reg)
	require.NoError(t, err)
	require.Len(t, g.Nodes, 1)
	assert.NotNil(t, g.Nodes[0].Params)
	assert.Nil(t, g.Edges)

	g, err = graph.Decode([]byte(`{}`), reg)
	require.NoError(t, err)
	assert.NotNil(t, g.Nodes)
	assert.Empty(t, g.Nodes)
}

func TestDeserialize(t *testing.T) {
	t.Parallel()

	reg := registry.NewRegistry(slog.Default())

	data, err := graph.Encode(testutil.CreateLinearGraph())
	require.NoError(t, err)

	b, err := graph.Deserialize(data, reg, sequentialIDs())
	require.NoError(t, err)
	assert.Equal(t, 3, b.Len())

	node, err := b.AddNode(models.NodeTypeEnd, models.Position{})
	require.NoError(t, err)
	assert.Equal(t, "end-1", node.ID)

	out, err := b.Serialize()
	require.NoError(t, err)

	decoded, err := graph.Decode(out, reg)
	require.NoError(t, err)
	assert.Len(t, decoded.Nodes, 4)

	_, err = graph.Deserialize([]byte("nope"), reg)
	assert.True(t, graph.IsMalformedGraph(err))
}

func TestExportImportFile(t *testing.T) {
	t.Parallel()

	reg := registry.NewRegistry(slog.Default())
	created := time.Date(2026, 3, 14, 15, 9, 26, 0, time.FixedZone("CET", 3600))

	data, err := graph.ExportFile(testutil.CreateConnectedEscalationGraph(), "Critical triage", created)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Contains(t, raw, "elements")
	assert.Contains(t, raw, "edges")
	assert.Contains(t, raw, "metadata")

	file, g, err := graph.ImportFile(data, reg)
	require.NoError(t, err)
	assert.Equal(t, "Critical triage", file.Metadata.Name)
	assert.Equal(t, models.WorkflowFileVersion, file.Metadata.Version)
	assert.Equal(t, created.UTC(), file.Metadata.Created)
	assert.Equal(t, time.UTC, file.Metadata.Created.Location())
	assert.Len(t, g.Nodes, 4)
	assert.Len(t, g.Edges, 4)
	assert.Equal(t, testutil.CreateConnectedEscalationGraph(), g)
}

func TestExportFile_EmptyGraph(t *testing.T) {
	t.Parallel()

	data, err := graph.ExportFile(nil, "empty", time.Now())
	require.NoError(t, err)
	assert.Contains(t, string(data), `"elements": []`)
}

func TestImportFile_Rejects(t *testing.T) {
	t.Parallel()

	reg := registry.NewRegistry(slog.Default())

	tests := []struct {
		name string
		data string
	}{
		{name: "no elements", data: `{"metadata":{"name":"x"}}`},
		{name: "not json", data: `elements`},
		{name: "bad element", data: `{"elements":[{"id":"a","type":"warp"}]}`},
		{name: "branch handle on delay", data: `{"elements":[{"id":"a","type":"delay"},{"id":"b","type":"end"}],"edges":[{"id":"e1","source":"a","target":"b","sourceHandle":"true"}]}`},
		{name: "dangling edge", data: `{"elements":[{"id":"a","type":"start"}],"edges":[{"id":"e1","source":"a","target":"z"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, _, err := graph.ImportFile([]byte(tt.data), reg)
			assert.True(t, graph.IsMalformedGraph(err))
		})
	}

	file, g, err := graph.ImportFile([]byte(`{"elements":[]}`), reg)
	require.NoError(t, err)
	assert.Empty(t, file.Elements)
	assert.Empty(t, g.Nodes)
}
