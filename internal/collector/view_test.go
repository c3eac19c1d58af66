package collector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/tracepipe/internal/codec"
	"github.com/GriffinCanCode/tracepipe/internal/shared/id"
)

func TestTreeViewResolvesNames(t *testing.T) {
	c, _ := newCollector(t, Options{})
	sid, err := c.Register("agent-1", "")
	require.NoError(t, err)

	a := newAgent(t)
	rec := a.request(t, "/orders/7", 0)
	data, err := codec.Encode(a.symbols, rec)
	require.NoError(t, err)
	_, err = c.TraceData(context.Background(), sid, rec.Marker.TraceID, 0, data)
	require.NoError(t, err)

	nodes, err := c.TreeView(context.Background(), rec.Marker.TraceID, rec.Marker.SpanID)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	root := nodes[0]

	assert.Equal(t, "com.example.Service", root.Class)
	assert.Equal(t, "handle", root.Method)
	assert.Equal(t, "()V", root.Signature)
	assert.Equal(t, "/orders/7", root.Attrs["URI"])
	assert.Equal(t, int64(500), root.Attrs["STATUS"])

	require.NotNil(t, root.Trace)
	assert.Equal(t, "HTTP", root.Trace.Type)
	assert.Equal(t, rec.Marker.TraceID, root.Trace.TraceID)
	assert.Equal(t, id.SpanString(rec.Marker.SpanID), root.Trace.SpanID)
	assert.Empty(t, root.Trace.ParentID)

	require.Len(t, root.Children, 2)
	failed := root.Children[1]
	assert.Equal(t, "save", failed.Method)
	require.NotNil(t, failed.Exception)
	assert.Equal(t, "save failed: disk full", failed.Exception.Message)
	assert.NotEmpty(t, failed.Exception.Class)
	assert.Nil(t, root.Children[0].Exception)
}
