package ws

import (
	"net/http"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/tracepipe/internal/collector"
	"github.com/GriffinCanCode/tracepipe/internal/infrastructure/monitoring"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = pongWait * 9 / 10
	maxMessage   = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// origin policy is enforced by the CORS middleware
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler manages feed connections
type Handler struct {
	feed    *collector.Feed
	metrics *monitoring.Metrics
	logger  *zap.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(feed *collector.Feed, metrics *monitoring.Metrics, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{feed: feed, metrics: metrics, logger: logger}
}

// FilterFromQuery builds the initial filter of a connection from the
// errors, type, class and min_duration query parameters.
func FilterFromQuery(c *gin.Context) (*Filter, error) {
	f := &Filter{
		TraceType: c.Query("type"),
		Class:     c.Query("class"),
	}
	if s := c.Query("errors"); s != "" {
		v, err := strconv.ParseBool(s)
		if err != nil {
			return nil, err
		}
		f.ErrorsOnly = v
	}
	if s := c.Query("min_duration"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			return nil, err
		}
		f.MinDuration = d.Nanoseconds()
	}
	return f, nil
}

// HandleConnection upgrades the request and streams chunks until either
// side closes the connection.
func (h *Handler) HandleConnection(c *gin.Context) {
	filter, err := FilterFromQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	h.metrics.IncWSConnections()
	defer h.metrics.DecWSConnections()

	sub := h.feed.Subscribe()
	defer sub.Cancel()

	remote := conn.RemoteAddr().String()
	h.logger.Debug("feed client connected", zap.String("remote", remote))

	if err := h.send(conn, ServerMessage{Type: "system", Message: "Connected to tracepipe chunk feed", Filter: filter}); err != nil {
		return
	}

	incoming := make(chan ClientMessage)
	done := make(chan struct{})
	go h.read(conn, incoming, done)

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case chunk, ok := <-sub.C:
			if !ok {
				return
			}
			if !filter.Match(chunk) {
				continue
			}
			if err := h.send(conn, ServerMessage{Type: "chunk", Chunk: chunk}); err != nil {
				h.logger.Debug("feed write failed", zap.String("remote", remote), zap.Error(err))
				return
			}

		case msg := <-incoming:
			switch msg.Type {
			case "ping":
				err = h.send(conn, ServerMessage{Type: "pong"})
			case "filter":
				if msg.Filter == nil {
					msg.Filter = &Filter{}
				}
				filter = msg.Filter
				err = h.send(conn, ServerMessage{Type: "filter", Filter: filter})
			default:
				err = h.sendError(conn, "unknown message type")
			}
			if err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-done:
			h.logger.Debug("feed client disconnected", zap.String("remote", remote))
			return
		}
	}
}

// read forwards client messages until the connection fails. Malformed
// messages are answered on the writer side.
func (h *Handler) read(conn *websocket.Conn, incoming chan<- ClientMessage, done chan<- struct{}) {
	defer close(done)

	conn.SetReadLimit(maxMessage)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read error", zap.Error(err))
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg ClientMessage
		if err := sonic.Unmarshal(data, &msg); err != nil {
			msg = ClientMessage{Type: "invalid"}
		}
		select {
		case incoming <- msg:
		case <-time.After(writeWait):
			return
		}
	}
}

func (h *Handler) send(conn *websocket.Conn, msg ServerMessage) error {
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}
	data, err := sonic.Marshal(msg)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (h *Handler) sendError(conn *websocket.Conn, message string) error {
	return h.send(conn, ServerMessage{Type: "error", Message: message})
}
