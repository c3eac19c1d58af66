package http

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/tracepipe/internal/shared/id"
	"github.com/GriffinCanCode/tracepipe/internal/store"
)

// ChunkQuery holds the query string of the chunk search endpoint
type ChunkQuery struct {
	Trace       string        `form:"trace"`
	Span        string        `form:"span"`
	Errors      bool          `form:"errors"`
	Spans       bool          `form:"spans"`
	Text        string        `form:"q"`
	Attrs       []string      `form:"attr"`
	MinDuration time.Duration `form:"min_duration"`
	From        int64         `form:"from"`
	To          int64         `form:"to"`
	Offset      int           `form:"offset" binding:"min=0"`
	Limit       int           `form:"limit" binding:"min=0,max=1000"`
	Sort        string        `form:"sort" binding:"omitempty,oneof=time duration"`
	NoAttrs     bool          `form:"no_attrs"`
}

// Query converts the request into a store query
func (q *ChunkQuery) Query() (store.Query, error) {
	out := store.NewQuery()
	if q.Trace != "" {
		traceID, err := id.ParseTraceID(q.Trace)
		if err != nil {
			return out, err
		}
		out.TraceID = traceID
	}
	if q.Span != "" {
		spanID, err := id.ParseSpan(q.Span)
		if err != nil {
			return out, err
		}
		out.SpanID = spanID
	}
	for _, a := range q.Attrs {
		name, value, ok := strings.Cut(a, "=")
		if !ok || name == "" {
			return out, fmt.Errorf("attribute filter %q is not name=value", a)
		}
		out = out.WithAttr(name, value)
	}

	out.ErrorsOnly = q.Errors
	out.SpansOnly = q.Spans
	out.Text = q.Text
	out.MinDuration = q.MinDuration.Nanoseconds()
	out.MinTstamp = q.From
	out.MaxTstamp = q.To
	out.Offset = q.Offset
	if q.Limit > 0 {
		out.Limit = q.Limit
	}
	out.SortByDuration = q.Sort == "duration"
	out.FetchAttrs = !q.NoAttrs
	return out, nil
}

// ListChunks searches stored chunks
func (h *Handlers) ListChunks(c *gin.Context) {
	var req ChunkQuery
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	q, err := req.Query()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.collector.Store().Search(c.Request.Context(), q)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func spanParams(c *gin.Context) (id.TraceID, uint64, bool) {
	traceID, err := id.ParseTraceID(c.Param("trace"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return id.TraceID{}, 0, false
	}
	spanID, err := id.ParseSpan(c.Param("span"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return id.TraceID{}, 0, false
	}
	return traceID, spanID, true
}

// GetChunks returns the chunks of one span
func (h *Handlers) GetChunks(c *gin.Context) {
	traceID, spanID, ok := spanParams(c)
	if !ok {
		return
	}
	chunks, err := h.collector.Store().Get(c.Request.Context(), traceID, spanID)
	if err != nil {
		h.fail(c, err)
		return
	}
	if len(chunks) == 0 {
		h.fail(c, store.ErrNotFound)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chunks": chunks})
}

// GetTree returns the decoded call tree of one span
func (h *Handlers) GetTree(c *gin.Context) {
	traceID, spanID, ok := spanParams(c)
	if !ok {
		return
	}
	nodes, err := h.collector.TreeView(c.Request.Context(), traceID, spanID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"trace_id": traceID,
		"span_id":  id.SpanString(spanID),
		"roots":    nodes,
	})
}

// ListSessions lists live agent sessions
func (h *Handlers) ListSessions(c *gin.Context) {
	sessions := h.collector.Sessions().List()
	out := make([]gin.H, 0, len(sessions))
	for _, s := range sessions {
		symbols, methods := s.Symbols()
		out = append(out, gin.H{
			"session_id":    s.ID,
			"agent_id":      s.AgentID,
			"created":       s.Created,
			"last_activity": s.LastActivity(),
			"symbols":       symbols,
			"methods":       methods,
		})
	}
	c.JSON(http.StatusOK, gin.H{"sessions": out, "total": len(out)})
}
