package output

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/tracepipe/internal/codec"
	"github.com/GriffinCanCode/tracepipe/internal/shared/id"
	"github.com/GriffinCanCode/tracepipe/internal/trace"
)

// ErrResend is returned by a Transport when the collector does not know a
// symbol referenced by the data. The message must be sent again with every
// definition it needs.
var ErrResend = errors.New("collector requested resend with definitions")

// DefaultPacketSize bounds the encoded size of one trace data message.
const DefaultPacketSize = 4 << 20

// Transport carries encoded messages to a collector.
type Transport interface {
	// Open connects and registers a new agent session.
	Open(ctx context.Context) error
	// SendAgentData submits symbol definitions. With reset the collector
	// forgets what the session knew first.
	SendAgentData(ctx context.Context, data []byte, reset bool) error
	SendTraceData(ctx context.Context, traceID id.TraceID, chunkNum int, data []byte) error
	Close() error
}

// TraceOutput encodes finished traces and ships them through a Transport.
// Symbol definitions are collected apart from the trace data and go out as
// an agent data message ahead of the packet that needs them. It is the
// Handler of a trace Worker.
type TraceOutput struct {
	transport  Transport
	enricher   *trace.Enricher
	scratch    *codec.Writer
	defs       *codec.Writer
	packetSize int
	log        *zap.Logger

	// reset marks the first agent data of a session
	reset bool

	// progress survives a failed Process so a retried batch skips the
	// records already delivered
	first *trace.Record
	done  int
}

// NewTraceOutput creates a handler resolving names in symbols.
func NewTraceOutput(symbols *trace.SymbolRegistry, t Transport, packetSize int, log *zap.Logger) *TraceOutput {
	if packetSize <= 0 {
		packetSize = DefaultPacketSize
	}
	if log == nil {
		log = zap.NewNop()
	}
	scratch, defs := codec.NewWriter(), codec.NewWriter()
	enricher := trace.NewEnricher(symbols, scratch)
	enricher.SetDefinitions(defs)
	return &TraceOutput{
		transport:  t,
		enricher:   enricher,
		scratch:    scratch,
		defs:       defs,
		packetSize: packetSize,
		log:        log,
	}
}

// Open connects the transport. A new connection means a new collector
// session, so every definition is sent again.
func (o *TraceOutput) Open(ctx context.Context) error {
	if err := o.transport.Open(ctx); err != nil {
		return err
	}
	o.enricher.Reset()
	o.defs.Reset()
	o.reset = true
	return nil
}

func (o *TraceOutput) Close() error { return o.transport.Close() }

func (o *TraceOutput) Flush(context.Context) error { return nil }

// Process packs the batch into as few trace data messages as the packet
// size allows.
func (o *TraceOutput) Process(ctx context.Context, batch []*trace.Record) error {
	if len(batch) == 0 {
		return nil
	}
	if batch[0] != o.first {
		o.first, o.done = batch[0], 0
	}

	for o.done < len(batch) {
		end, data := o.pack(batch, o.done)
		if len(data) > 0 {
			if err := o.send(ctx, batch[o.done:end], data); err != nil {
				return err
			}
		}
		o.done = end
	}
	o.first, o.done = nil, 0
	return nil
}

// pack encodes records from batch[start:] until the packet is full and
// returns the end index and the message. Records that cannot be encoded are
// skipped; at least one record is always consumed.
func (o *TraceOutput) pack(batch []*trace.Record, start int) (int, []byte) {
	var packet bytes.Buffer
	end := start
	for end < len(batch) {
		if !o.encode(batch[end]) {
			end++
			continue
		}
		if packet.Len() > 0 && packet.Len()+o.scratch.Len() > o.packetSize {
			break
		}
		packet.Write(o.scratch.Bytes())
		end++
	}
	return end, packet.Bytes()
}

// encode writes rec into the scratch writer.
func (o *TraceOutput) encode(rec *trace.Record) bool {
	o.scratch.Reset()
	if err := o.enricher.Enrich(rec); err != nil {
		o.log.Warn("dropping trace that cannot be encoded", zap.Error(err))
		return false
	}
	return true
}

func (o *TraceOutput) send(ctx context.Context, recs []*trace.Record, data []byte) error {
	if err := o.sendDefinitions(ctx); err != nil {
		return err
	}
	traceID := traceIDOf(recs)
	err := o.transport.SendTraceData(ctx, traceID, 0, data)
	if !errors.Is(err, ErrResend) {
		return err
	}

	o.log.Debug("collector lost symbols, resending with definitions", zap.Stringer("trace_id", traceID))
	o.enricher.Reset()
	o.defs.Reset()
	var packet bytes.Buffer
	for _, rec := range recs {
		if o.encode(rec) {
			packet.Write(o.scratch.Bytes())
		}
	}
	if err := o.sendDefinitions(ctx); err != nil {
		return err
	}
	if err := o.transport.SendTraceData(ctx, traceID, 0, packet.Bytes()); err != nil {
		return fmt.Errorf("resend trace data: %w", err)
	}
	return nil
}

// sendDefinitions ships the definitions collected since the last call. They
// stay buffered until the collector accepts them.
func (o *TraceOutput) sendDefinitions(ctx context.Context) error {
	if o.defs.Len() == 0 {
		return nil
	}
	if err := o.transport.SendAgentData(ctx, o.defs.Bytes(), o.reset); err != nil {
		return fmt.Errorf("send agent data: %w", err)
	}
	o.defs.Reset()
	o.reset = false
	return nil
}

func traceIDOf(recs []*trace.Record) id.TraceID {
	for _, rec := range recs {
		if rec.Marker != nil && !rec.Marker.TraceID.IsZero() {
			return rec.Marker.TraceID
		}
	}
	return id.TraceID{}
}

var _ Handler[*trace.Record] = (*TraceOutput)(nil)

// Sink adapts a trace Worker to trace.Sink for a Tracer.
type Sink struct {
	w *Worker[*trace.Record]
}

// NewSink wraps w.
func NewSink(w *Worker[*trace.Record]) Sink { return Sink{w: w} }

// Submit queues rec without blocking.
func (s Sink) Submit(rec *trace.Record) bool { return s.w.Submit(rec) }

var _ trace.Sink = Sink{}
