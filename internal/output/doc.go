// Package output delivers finished traces from the agent to a collector.
//
// A Worker owns a bounded queue drained by one goroutine. Producers never
// block: when the queue is full the item is dropped and counted. The
// goroutine groups queued items into batches and hands them to a Handler,
// retrying failed batches with backoff and reconnecting between attempts.
//
// TraceOutput is the Handler for trace records. It encodes each batch with
// an enricher so symbol definitions travel once per connection, packs the
// result into messages of at most PacketSize bytes and sends them through a
// Transport. HTTPTransport and TCPTransport speak the collector's agent
// protocol over HTTP and over length-prefixed frames.
package output
