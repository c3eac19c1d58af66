package tcp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/tracepipe/internal/codec"
	"github.com/GriffinCanCode/tracepipe/internal/collector"
	"github.com/GriffinCanCode/tracepipe/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/tracepipe/internal/shared/id"
)

const writeWait = 10 * time.Second

// Config configures a Listener.
type Config struct {
	// MaxFrame bounds frame payloads; zero selects codec.DefaultMaxFrame.
	MaxFrame int
	// IdleTimeout closes connections that send nothing for this long.
	// Zero disables it.
	IdleTimeout time.Duration
}

// Listener serves the framed agent protocol. Each connection carries at
// most one session, which is closed together with the connection.
type Listener struct {
	collector *collector.Collector
	metrics   *monitoring.Metrics
	cfg       Config
	log       *zap.Logger

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

// NewListener creates a listener feeding c.
func NewListener(c *collector.Collector, metrics *monitoring.Metrics, cfg Config, logger *zap.Logger) *Listener {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxFrame <= 0 {
		cfg.MaxFrame = codec.DefaultMaxFrame
	}
	return &Listener{
		collector: c,
		metrics:   metrics,
		cfg:       cfg,
		log:       logger.With(zap.String("transport", "tcp")),
		conns:     make(map[net.Conn]struct{}),
	}
}

// Serve accepts connections on ln until ctx is done, then closes every open
// connection and waits for their handlers.
func (l *Listener) Serve(ctx context.Context, ln net.Listener) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
		}
		ln.Close()
		l.closeAll()
	}()

	l.log.Info("accepting agent connections", zap.String("addr", ln.Addr().String()))
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				l.wg.Wait()
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		l.track(conn, true)
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			defer l.track(conn, false)
			l.handle(ctx, conn)
		}()
	}
}

func (l *Listener) track(conn net.Conn, add bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if add {
		l.conns[conn] = struct{}{}
	} else {
		delete(l.conns, conn)
	}
}

func (l *Listener) closeAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for conn := range l.conns {
		conn.Close()
	}
}

// handle runs the request/reply loop of one connection
func (l *Listener) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	log := l.log.With(zap.String("remote", conn.RemoteAddr().String()))
	rd := bufio.NewReader(conn)

	var sid id.SessionID
	defer func() {
		if sid != "" {
			l.collector.Unregister(sid)
			log.Info("agent disconnected", zap.String("session", string(sid)))
		}
	}()

	for {
		if l.cfg.IdleTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(l.cfg.IdleTimeout))
		}
		mt, payload, err := codec.ReadFrame(rd, l.cfg.MaxFrame)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
				return
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				log.Debug("closing idle connection")
				return
			}
			// the stream cannot be resynchronized after a bad frame
			l.metrics.RecordProtocolError("bad_frame")
			log.Warn("bad frame", zap.Error(err))
			l.reply(conn, codec.MsgError, errorMsg(err))
			return
		}

		ack, err := l.dispatch(ctx, &sid, mt, payload)
		if err != nil {
			if !l.reply(conn, codec.MsgError, errorMsg(err)) {
				return
			}
			continue
		}
		l.metrics.RecordMessage(mt.String(), "tcp", len(payload))
		if !l.reply(conn, codec.MsgAck, ack) {
			return
		}
	}
}

func (l *Listener) dispatch(ctx context.Context, sid *id.SessionID, mt codec.MsgType, payload []byte) (*codec.AckMsg, error) {
	switch mt {
	case codec.MsgRegister:
		var msg codec.RegisterMsg
		if err := codec.Unmarshal(payload, &msg); err != nil {
			return nil, err
		}
		if *sid != "" {
			l.collector.Unregister(*sid)
			*sid = ""
		}
		s, err := l.collector.Register(msg.AgentID, msg.AuthKey)
		if err != nil {
			return nil, err
		}
		*sid = s
		return &codec.AckMsg{SessionID: string(s)}, nil

	case codec.MsgAgentData:
		var msg codec.AgentDataMsg
		if err := codec.Unmarshal(payload, &msg); err != nil {
			return nil, err
		}
		if err := l.collector.AgentData(*sid, msg.Data, msg.Reset); err != nil {
			return nil, err
		}
		return &codec.AckMsg{}, nil

	case codec.MsgTraceData:
		var msg codec.TraceDataMsg
		if err := codec.Unmarshal(payload, &msg); err != nil {
			return nil, err
		}
		if msg.ChunkNum < 0 {
			return nil, fmt.Errorf("%w: bad chunk number %d", collector.ErrProtocol, msg.ChunkNum)
		}
		if _, err := l.collector.TraceData(ctx, *sid, msg.TraceID(), msg.ChunkNum, msg.Data); err != nil {
			return nil, err
		}
		return &codec.AckMsg{}, nil

	default:
		l.metrics.RecordProtocolError("wrong_message")
		return nil, fmt.Errorf("%w: unexpected %s", collector.ErrProtocol, mt)
	}
}

// reply writes one frame and reports whether the connection is still usable
func (l *Listener) reply(conn net.Conn, mt codec.MsgType, msg any) bool {
	payload, err := codec.Marshal(msg)
	if err != nil {
		l.log.Error("encode reply", zap.Error(err))
		return false
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := codec.WriteFrame(conn, mt, payload); err != nil {
		l.log.Debug("write reply", zap.Error(err))
		return false
	}
	return true
}

func errorMsg(err error) *codec.ErrorMsg {
	return &codec.ErrorMsg{Code: collector.StatusCode(err), Message: err.Error()}
}
