/*
Package codec implements the binary trace stream and the framed transport
header.

# Stream format

A stream is a flat sequence of CBOR tagged items. The tag selects the item
type; hot items use tags 6..20 so the tag fits in the initial byte.

	tag  6  record start   bstr(8)  ticks(40) | method(24)
	tag  7  record end     bstr(8)  ticks(40) | calls(24)
	                       bstr(16) ticks(40) | 0, calls(64)
	tag  8  attribute      [attr, value]
	tag 11  symbol         [id, name]
	tag 12  method         [id, class, method, signature]
	tag 48  trace begin    [clock, type, trace hi, trace lo, span, parent, flags]
	tag 49  exception      [class, message, [[class, method, file, line]...], cause]
	tag 50  record stats   [errors, flags], right before the matching end

Timestamps are carried in ticks of 65536ns. Records nest: every item between
a start and its end belongs to that record or to its children.

Scan decodes a stream in one forward pass and pushes events into a
trace.Processor. ScanSymbols does the same for definitions only, which lets
a consumer prime its symbol table before the data pass.

# Frames

On raw TCP connections every message is preceded by a 16 byte header:

	"ZT" | version(1) | type(1) | length(4) | blake3-64(payload)(8)
*/
package codec
