package output

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/tracepipe/internal/codec"
	"github.com/GriffinCanCode/tracepipe/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/tracepipe/internal/shared/id"
)

// TCPConfig configures a TCPTransport.
type TCPConfig struct {
	Addr    string
	AgentID string
	AuthKey string
	Timeout time.Duration
	Logger  *zap.Logger
}

// TCPTransport submits agent messages as frames over one TCP connection.
// Every request frame is answered by an Ack or Error frame. The session
// lives as long as the connection.
type TCPTransport struct {
	cfg TCPConfig
	log *zap.Logger

	mu      sync.Mutex
	conn    net.Conn
	rd      *bufio.Reader
	session string
}

// NewTCPTransport creates a transport dialing cfg.Addr on Open.
func NewTCPTransport(cfg TCPConfig) (*TCPTransport, error) {
	if cfg.Addr == "" {
		return nil, errors.New("collector address is required")
	}
	if cfg.AgentID == "" {
		cfg.AgentID = string(id.NewAgentID())
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &TCPTransport{
		cfg: cfg,
		log: log.With(zap.String("transport", "tcp"), zap.String("agent", cfg.AgentID)),
	}, nil
}

// Session returns the session of the current connection.
func (t *TCPTransport) Session() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.session
}

// Open dials the collector and registers.
func (t *TCPTransport) Open(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeLocked()

	d := net.Dialer{Timeout: t.cfg.Timeout}
	conn, err := d.DialContext(ctx, "tcp", t.cfg.Addr)
	if err != nil {
		return fmt.Errorf("dial collector: %w", err)
	}
	t.conn, t.rd = conn, bufio.NewReader(conn)

	ack, err := t.roundTripLocked(ctx, codec.MsgRegister, &codec.RegisterMsg{
		AgentID: t.cfg.AgentID,
		AuthKey: t.cfg.AuthKey,
	})
	if err != nil {
		t.closeLocked()
		return fmt.Errorf("register: %w", err)
	}
	t.session = ack.SessionID
	t.log.Info("registered with collector", zap.String("session", ack.SessionID))
	return nil
}

// Close closes the connection.
func (t *TCPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closeLocked()
}

func (t *TCPTransport) closeLocked() error {
	t.session = ""
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn, t.rd = nil, nil
	return err
}

// SendAgentData submits symbol definitions.
func (t *TCPTransport) SendAgentData(ctx context.Context, data []byte, reset bool) error {
	return t.send(ctx, codec.MsgAgentData, &codec.AgentDataMsg{Reset: reset, Data: data})
}

// SendTraceData submits encoded traces.
func (t *TCPTransport) SendTraceData(ctx context.Context, traceID id.TraceID, chunkNum int, data []byte) error {
	return t.send(ctx, codec.MsgTraceData, &codec.TraceDataMsg{
		TraceHi:  traceID.Hi,
		TraceLo:  traceID.Lo,
		ChunkNum: chunkNum,
		Data:     data,
	})
}

func (t *TCPTransport) send(ctx context.Context, mt codec.MsgType, msg any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return errors.New("not connected")
	}
	_, err := t.roundTripLocked(ctx, mt, msg)
	return err
}

func (t *TCPTransport) roundTripLocked(ctx context.Context, mt codec.MsgType, msg any) (*codec.AckMsg, error) {
	payload, err := codec.Marshal(msg)
	if err != nil {
		return nil, resilience.Permanent(err)
	}

	deadline := time.Now().Add(t.cfg.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := t.conn.SetDeadline(deadline); err != nil {
		return nil, err
	}

	if err := codec.WriteFrame(t.conn, mt, payload); err != nil {
		return nil, fmt.Errorf("write %s: %w", mt, err)
	}
	rt, reply, err := codec.ReadFrame(t.rd, 0)
	if err != nil {
		return nil, fmt.Errorf("read reply to %s: %w", mt, err)
	}

	switch rt {
	case codec.MsgAck:
		var ack codec.AckMsg
		if err := codec.Unmarshal(reply, &ack); err != nil {
			return nil, err
		}
		return &ack, nil
	case codec.MsgError:
		var e codec.ErrorMsg
		if err := codec.Unmarshal(reply, &e); err != nil {
			return nil, err
		}
		return nil, replyError(&e)
	default:
		return nil, fmt.Errorf("%w: unexpected reply %s", codec.ErrMalformed, rt)
	}
}

func replyError(e *codec.ErrorMsg) error {
	switch {
	case e.Code == http.StatusPreconditionFailed:
		return ErrResend
	case e.Code == http.StatusUnauthorized:
		return resilience.Permanent(fmt.Errorf("%w: %w", ErrUnauthorized, e))
	case e.Code >= 400 && e.Code < 500:
		return resilience.Permanent(e)
	default:
		return e
	}
}

var _ Transport = (*TCPTransport)(nil)
