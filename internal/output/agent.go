package output

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/tracepipe/internal/infrastructure/config"
	"github.com/GriffinCanCode/tracepipe/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/tracepipe/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/tracepipe/internal/trace"
)

// breakerFailures opens the collector breaker after this many consecutive
// failed batches.
const breakerFailures = 5

// Agent is the capture side of the pipeline: a Tracer whose finished traces
// are shipped to a collector by a trace Worker.
type Agent struct {
	tracer    *trace.Tracer
	worker    *Worker[*trace.Record]
	transport Transport
	log       *zap.Logger
}

// NewAgent assembles an agent from configuration. The worker is not started.
func NewAgent(agentID string, tc config.TracerConfig, oc config.OutputConfig, metrics *monitoring.Metrics, log *zap.Logger) (*Agent, error) {
	if log == nil {
		log = zap.NewNop()
	}
	var flags trace.MarkerFlags
	if tc.DropInterim {
		flags |= trace.MarkerDropInterim
	}
	tcfg, err := trace.NewTracerConfig(trace.TracerOptions{
		MinTraceTime:       tc.MinTraceTime,
		MinMethodTime:      tc.MinMethodTime,
		MaxTraceRecords:    tc.MaxRecords,
		DefaultMarkerFlags: flags,
	})
	if err != nil {
		return nil, err
	}

	transport, err := NewTransport(agentID, oc, log)
	if err != nil {
		return nil, err
	}

	symbols := trace.NewSymbolRegistry()
	breaker := resilience.NewBreaker("collector", resilience.Settings{
		Timeout: 30 * time.Second,
		ReadyToTrip: func(c resilience.Counts) bool {
			return c.ConsecutiveFailures >= breakerFailures
		},
		OnStateChange: func(name string, from, to resilience.State) {
			log.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
		},
	})
	worker := NewWorker[*trace.Record](NewTraceOutput(symbols, transport, oc.PacketSize, log), Options{
		Name:        "trace-output",
		QueueLength: oc.QueueLength,
		BatchSize:   oc.BatchSize,
		Backoff: resilience.Backoff{
			Attempts:   oc.Retries,
			Initial:    oc.RetryTime,
			Multiplier: oc.RetryExp,
			Max:        oc.Timeout,
		},
		Breaker: breaker,
		Metrics: metrics,
		Logger:  log,
	})

	return &Agent{
		tracer:    trace.NewTracer(tcfg, symbols, NewSink(worker), log),
		worker:    worker,
		transport: transport,
		log:       log,
	}, nil
}

// NewTransport creates the transport oc.Transport names. TCP addresses may
// carry a tcp:// prefix.
func NewTransport(agentID string, oc config.OutputConfig, log *zap.Logger) (Transport, error) {
	switch oc.Transport {
	case "http", "":
		return NewHTTPTransport(HTTPConfig{
			URL:      oc.URL,
			AgentID:  agentID,
			AuthKey:  oc.AuthKey,
			Timeout:  oc.Timeout,
			Encoding: oc.Compression,
			Logger:   log,
		})
	case "tcp":
		return NewTCPTransport(TCPConfig{
			Addr:    strings.TrimPrefix(oc.URL, "tcp://"),
			AgentID: agentID,
			AuthKey: oc.AuthKey,
			Timeout: oc.Timeout,
			Logger:  log,
		})
	default:
		return nil, fmt.Errorf("unknown transport %q", oc.Transport)
	}
}

// Tracer returns the tracer whose traces this agent ships.
func (a *Agent) Tracer() *trace.Tracer { return a.tracer }

// Worker returns the output worker.
func (a *Agent) Worker() *Worker[*trace.Record] { return a.worker }

// Start starts shipping.
func (a *Agent) Start() { a.worker.Start() }

// Stop drains the queue until ctx is done.
func (a *Agent) Stop(ctx context.Context) error {
	err := a.worker.Stop(ctx)
	a.log.Info("trace output stopped",
		zap.Int64("sent", a.worker.Sent()),
		zap.Int64("dropped", a.worker.Dropped()),
		zap.Int64("lost", a.worker.Lost()),
	)
	return err
}
