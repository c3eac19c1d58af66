package http

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/tracepipe/internal/codec"
	"github.com/GriffinCanCode/tracepipe/internal/collector"
	"github.com/GriffinCanCode/tracepipe/internal/output"
	"github.com/GriffinCanCode/tracepipe/internal/shared/id"
)

// RegisterAgent opens an agent session
func (h *Handlers) RegisterAgent(c *gin.Context) {
	agentID := c.GetHeader(output.HeaderAgentID)
	sid, err := h.collector.Register(agentID, c.GetHeader(output.HeaderAuthKey))
	if err != nil {
		h.fail(c, err)
		return
	}
	h.metrics.RecordMessage("register", "http", 0)
	c.JSON(http.StatusOK, output.RegisterResponse{SessionID: string(sid)})
}

// SubmitAgentData accepts a message of symbol definitions
func (h *Handlers) SubmitAgentData(c *gin.Context) {
	sid, ok := h.sessionID(c)
	if !ok {
		return
	}
	reset, _ := strconv.ParseBool(c.GetHeader(output.HeaderReset))

	data, err := h.body(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := h.collector.AgentData(sid, data, reset); err != nil {
		h.fail(c, err)
		return
	}
	h.metrics.RecordMessage("agent_data", "http", len(data))
	c.Status(http.StatusOK)
}

// SubmitTraceData accepts a message of encoded traces
func (h *Handlers) SubmitTraceData(c *gin.Context) {
	sid, ok := h.sessionID(c)
	if !ok {
		return
	}

	var traceID id.TraceID
	if s := c.GetHeader(output.HeaderTraceID); s != "" {
		v, err := id.ParseTraceID(s)
		if err != nil {
			h.fail(c, fmt.Errorf("%w: %v", collector.ErrProtocol, err))
			return
		}
		traceID = v
	}
	chunkNum := 0
	if s := c.GetHeader(output.HeaderChunkNum); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 0 {
			h.fail(c, fmt.Errorf("%w: bad chunk number %q", collector.ErrProtocol, s))
			return
		}
		chunkNum = v
	}

	data, err := h.body(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	chunks, err := h.collector.TraceData(c.Request.Context(), sid, traceID, chunkNum, data)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.metrics.RecordMessage("trace_data", "http", len(data))
	c.JSON(http.StatusOK, gin.H{"chunks": len(chunks)})
}

// sessionID reads the session header. A missing header is a malformed
// request; an unknown session is left to the collector.
func (h *Handlers) sessionID(c *gin.Context) (id.SessionID, bool) {
	sid := c.GetHeader(output.HeaderSessionID)
	if sid == "" {
		h.fail(c, fmt.Errorf("%w: missing %s header", collector.ErrProtocol, output.HeaderSessionID))
		return "", false
	}
	return id.SessionID(sid), true
}

// body reads the request body, undoing its Content-Encoding
func (h *Handlers) body(c *gin.Context) ([]byte, error) {
	return codec.DecodeContent(c.Request.Body, c.GetHeader("Content-Encoding"), h.maxPayload)
}
