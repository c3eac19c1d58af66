/*
Package collector implements the receiving side of the trace pipeline.

Agents register and get a session holding a private symbol registry in the
agent's numbering. Agent data messages load definitions into that registry.
Trace data messages are translated into the collector's global numbering,
split into chunks by MetadataIndexer and written to a store.

A message that references a symbol the session does not know fails with
ErrResend. The agent is expected to reset its enricher and resend the same
data together with all definitions it needs.
*/
package collector
