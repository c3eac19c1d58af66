package tracing

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/tracepipe/internal/shared/id"
)

// TraceTypeHTTP is the trace type of requests traced by HTTPMiddleware
const TraceTypeHTTP = "HTTP"

// HTTPMiddleware creates Gin middleware that traces every request
func HTTPMiddleware(tracer *Tracer) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Extract trace context from headers
		headers := map[string]string{
			HeaderTraceID: c.GetHeader(HeaderTraceID),
			HeaderSpanID:  c.GetHeader(HeaderSpanID),
		}

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		span, ctx := tracer.StartTrace(c.Request.Context(), TraceTypeHTTP, "http.Server", c.Request.Method+" "+route, headers)
		span.SetTag("URI", c.Request.URL.Path)
		span.SetTag("METHOD", c.Request.Method)
		c.Request = c.Request.WithContext(ctx)

		if traceID, spanID, ok := span.IDs(); ok {
			c.Header(HeaderTraceID, traceID.String())
			c.Header(HeaderSpanID, id.SpanString(spanID))
		}

		c.Next()

		status := c.Writer.Status()
		span.SetTag("STATUS", status)

		var err error
		if len(c.Errors) > 0 {
			err = c.Errors.Last().Err
		} else if status >= http.StatusInternalServerError {
			err = fmt.Errorf("http status %d", status)
		}
		span.Finish(err)
	}
}
