package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/tracepipe/internal/collector"
	"github.com/GriffinCanCode/tracepipe/internal/shared/id"
	"github.com/GriffinCanCode/tracepipe/internal/store"
	"github.com/GriffinCanCode/tracepipe/internal/trace"
)

func setupFeedServer(t *testing.T) (*collector.Feed, *httptest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	feed := collector.NewFeed(16)
	router := gin.New()
	router.GET("/stream", NewHandler(feed, nil, nil).HandleConnection)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return feed, srv
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/stream" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func next(t *testing.T, conn *websocket.Conn) ServerMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg ServerMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func chunk(method string, failed bool, duration int64) *store.Chunk {
	c := &store.Chunk{
		TraceID:   id.NewTraceID(),
		SpanID:    7,
		TraceType: "HTTP",
		Class:     "shop.Checkout",
		Method:    method,
		Duration:  duration,
	}
	if failed {
		c.Flags |= trace.MarkerErrorMark
	}
	return c
}

func TestFeedStreamsChunks(t *testing.T) {
	feed, srv := setupFeedServer(t)
	conn := dial(t, srv, "")

	welcome := next(t, conn)
	assert.Equal(t, "system", welcome.Type)
	require.Equal(t, 1, feed.Subscribers())

	sent := chunk("handle", false, 100)
	feed.Publish(sent)

	msg := next(t, conn)
	assert.Equal(t, "chunk", msg.Type)
	require.NotNil(t, msg.Chunk)
	assert.Equal(t, sent.TraceID, msg.Chunk.TraceID)
	assert.Equal(t, "handle", msg.Chunk.Method)
	assert.NotZero(t, msg.Timestamp)
}

func TestFeedFilters(t *testing.T) {
	feed, srv := setupFeedServer(t)
	conn := dial(t, srv, "?min_duration=1us")
	require.Equal(t, int64(1000), next(t, conn).Filter.MinDuration)

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "filter", Filter: &Filter{ErrorsOnly: true}}))
	ack := next(t, conn)
	require.Equal(t, "filter", ack.Type)
	assert.True(t, ack.Filter.ErrorsOnly)

	feed.Publish(chunk("ok", false, 10), chunk("broken", true, 10))

	msg := next(t, conn)
	require.Equal(t, "chunk", msg.Type)
	assert.Equal(t, "broken", msg.Chunk.Method)
}

func TestFeedControlMessages(t *testing.T) {
	_, srv := setupFeedServer(t)
	conn := dial(t, srv, "")
	next(t, conn)

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "ping"}))
	assert.Equal(t, "pong", next(t, conn).Type)

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "subscribe"}))
	msg := next(t, conn)
	assert.Equal(t, "error", msg.Type)
	assert.Equal(t, "unknown message type", msg.Message)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{")))
	assert.Equal(t, "error", next(t, conn).Type)
}

func TestFeedRejectsBadQuery(t *testing.T) {
	_, srv := setupFeedServer(t)

	resp, err := http.Get(srv.URL + "/stream?min_duration=soon")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.NotEmpty(t, body["error"])
}

func TestFilterMatch(t *testing.T) {
	c := chunk("handle", true, 500)

	tests := []struct {
		name   string
		filter *Filter
		want   bool
	}{
		{name: "nil", filter: nil, want: true},
		{name: "zero", filter: &Filter{}, want: true},
		{name: "errors", filter: &Filter{ErrorsOnly: true}, want: true},
		{name: "type case insensitive", filter: &Filter{TraceType: "http"}, want: true},
		{name: "other type", filter: &Filter{TraceType: "SQL"}, want: false},
		{name: "class substring", filter: &Filter{Class: "Checkout"}, want: true},
		{name: "other class", filter: &Filter{Class: "Billing"}, want: false},
		{name: "too short", filter: &Filter{MinDuration: 501}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Match(c))
		})
	}
}
