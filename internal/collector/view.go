package collector

import (
	"context"
	"fmt"

	"github.com/GriffinCanCode/tracepipe/internal/shared/id"
	"github.com/GriffinCanCode/tracepipe/internal/store"
	"github.com/GriffinCanCode/tracepipe/internal/trace"
)

// TreeNode is a decoded record with every symbol resolved to its name.
type TreeNode struct {
	Class     string `json:"class"`
	Method    string `json:"method"`
	Signature string `json:"signature,omitempty"`

	Start    int64 `json:"start"`
	Duration int64 `json:"duration"`
	Calls    int64 `json:"calls"`
	Errors   int64 `json:"errors"`

	Attrs     map[string]any       `json:"attrs,omitempty"`
	Exception *store.ExceptionInfo `json:"exception,omitempty"`
	Trace     *TraceInfo           `json:"trace,omitempty"`
	Children  []*TreeNode          `json:"children,omitempty"`
}

// TraceInfo describes the marker of a node that begins a trace.
type TraceInfo struct {
	Type     string     `json:"type"`
	TraceID  id.TraceID `json:"trace_id"`
	SpanID   string     `json:"span_id"`
	ParentID string     `json:"parent_id,omitempty"`
	Tstamp   int64      `json:"tstamp"`
}

// DescribeException resolves the names of ex. The cause chain is not
// followed.
func DescribeException(symbols *trace.SymbolRegistry, ex *trace.Exception) *store.ExceptionInfo {
	info := &store.ExceptionInfo{
		Class:   symbols.SymbolName(ex.ClassID),
		Message: ex.Message,
	}
	for _, f := range ex.Stack {
		info.Stack = append(info.Stack, fmt.Sprintf("%s.%s (%s:%d)",
			symbols.SymbolName(f.ClassID),
			symbols.SymbolName(f.MethodID),
			symbols.SymbolName(f.FileID),
			f.Line))
	}
	return info
}

// NewTreeNode resolves rec and its subtree.
func NewTreeNode(symbols *trace.SymbolRegistry, rec *trace.Record) *TreeNode {
	n := &TreeNode{
		Class:    symbols.SymbolName(rec.ClassID),
		Method:   symbols.SymbolName(rec.MethodID),
		Start:    rec.Start,
		Duration: rec.Time,
		Calls:    rec.Calls,
		Errors:   rec.Errors,
	}
	if rec.SignatureID != 0 {
		n.Signature = symbols.SymbolName(rec.SignatureID)
	}
	if len(rec.Attrs) > 0 {
		n.Attrs = make(map[string]any, len(rec.Attrs))
		for _, a := range rec.Attrs {
			n.Attrs[symbols.SymbolName(a.ID)] = a.Value.Interface()
		}
	}
	if rec.Exception != nil {
		n.Exception = DescribeException(symbols, rec.Exception)
	}
	if m := rec.Marker; m != nil {
		n.Trace = &TraceInfo{
			Type:    symbols.SymbolName(m.TraceType),
			TraceID: m.TraceID,
			SpanID:  id.SpanString(m.SpanID),
			Tstamp:  m.Clock,
		}
		if m.ParentID != 0 {
			n.Trace.ParentID = id.SpanString(m.ParentID)
		}
	}
	for _, c := range rec.Children {
		n.Children = append(n.Children, NewTreeNode(symbols, c))
	}
	return n
}

// TreeView is Tree with symbols resolved.
func (c *Collector) TreeView(ctx context.Context, traceID id.TraceID, spanID uint64) ([]*TreeNode, error) {
	roots, err := c.Tree(ctx, traceID, spanID)
	if err != nil {
		return nil, err
	}
	nodes := make([]*TreeNode, 0, len(roots))
	for _, r := range roots {
		nodes = append(nodes, NewTreeNode(c.symbols, r))
	}
	return nodes, nil
}
