// Package ws streams newly stored chunks to WebSocket clients.
//
// Each connection holds one collector feed subscription. Chunks are
// written as they arrive; a client that falls behind misses chunks
// rather than slowing ingestion.
//
// Message Types (Client → Server):
//   - ping: Keep-alive ping
//   - filter: Replace the connection's chunk filter
//
// Message Types (Server → Client):
//   - system: Connection established
//   - pong: Reply to ping
//   - filter: Filter accepted
//   - chunk: A stored chunk
//   - error: Error occurred
//
// Example Usage:
//
//	handler := ws.NewHandler(col.Feed(), metrics, logger)
//	router.GET("/stream", handler.HandleConnection)
package ws
