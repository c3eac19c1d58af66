/*
Package trace captures method-level call trees on the instrumented side.

# Model

A Record is one method invocation: symbol IDs of its class, method and
signature, entry time, duration, call and error counters, attributes and an
optional exception. The record that begins a trace carries a Marker with the
trace type, minimum duration, flags and the trace/span identifiers.

# Building

A Tracer holds the immutable TracerConfig, the SymbolRegistry and the Sink.
Each goroutine gets its own Builder:

	b := tracer.NewBuilder()
	b.TraceEnter(cls, mth, sig, now())
	b.TraceBegin(httpTrace, wallClock, 0)
	b.NewAttr(urlAttr, trace.String(url))
	b.TraceReturn(now())

Builders apply two thresholds. A trace shorter than its marker's minimum
time is never submitted. A frame shorter than the minimum method time is
left out of the tree, but its call and error counts always reach its parent.
Records past the per-trace record budget are flagged as overflow and their
trace marker carries the overflow flag.

# Symbols

SymbolRegistry interns names and (class, method, signature) triples. The
Enricher replays a record tree as Processor events and defines every symbol
and method on the stream just before its first use.
*/
package trace
