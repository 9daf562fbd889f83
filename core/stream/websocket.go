package stream

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ftl/panaweb/core"
	"github.com/ftl/panaweb/core/metrics"
)

// DefaultWriteTimeout limits the time to write one frame to a viewer.
const DefaultWriteTimeout = 2 * time.Second

// ConfigApplier applies configuration requests that viewers send over their connection.
type ConfigApplier interface {
	ApplyConfig(ctx context.Context, req core.ConfigRequest) (core.SourceConfig, error)
}

// Handler serves the spectrum stream over WebSocket. Every connection subscribes to the broadcaster
// and gets its own consumer. Text messages from the viewer are parsed as configuration requests.
type Handler struct {
	broadcaster     *Broadcaster
	applier         ConfigApplier
	framesPerSecond int
	writeTimeout    time.Duration
	upgrader        websocket.Upgrader
	logger          *zap.Logger
	metrics         *metrics.Metrics
}

// NewHandler returns a new WebSocket handler. applier may be nil, then incoming messages are ignored.
func NewHandler(broadcaster *Broadcaster, applier ConfigApplier, framesPerSecond int, logger *zap.Logger, m *metrics.Metrics) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		broadcaster:     broadcaster,
		applier:         applier,
		framesPerSecond: framesPerSecond,
		writeTimeout:    DefaultWriteTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 65536,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger:  logger,
		metrics: m,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err), zap.String("remote", r.RemoteAddr))
		return
	}

	id := uuid.NewString()
	logger := h.logger.With(zap.String("connection", id), zap.String("remote", r.RemoteAddr))
	logger.Info("viewer connected")
	h.metrics.RecordConnect()

	queue := h.broadcaster.Subscribe(id)
	defer func() {
		h.broadcaster.Unsubscribe(id)
		h.metrics.RecordDisconnect()
		logger.Info("viewer disconnected")
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		defer cancel()
		h.readPump(ctx, conn, logger)
		return nil
	})
	group.Go(func() error {
		defer conn.Close()
		consumer := NewConsumer(queue, h.sender(conn), h.framesPerSecond, logger, h.metrics)
		err := consumer.Run(ctx)
		if err == nil {
			deadline := time.Now().Add(time.Second)
			conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), deadline)
		}
		return err
	})

	if err := group.Wait(); err != nil {
		logger.Debug("connection ended", zap.Error(err))
	}
}

func (h *Handler) sender(conn *websocket.Conn) Sender {
	return SenderFunc(func(data []byte) error {
		conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
		return conn.WriteMessage(websocket.BinaryMessage, data)
	})
}

// readPump reads until the connection is closed. It must be the only reader of the connection.
func (h *Handler) readPump(ctx context.Context, conn *websocket.Conn, logger *zap.Logger) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && ctx.Err() == nil {
				logger.Debug("websocket read failed", zap.Error(err))
			}
			return
		}
		if messageType != websocket.TextMessage || h.applier == nil {
			continue
		}

		req, err := core.ParseConfigRequest(data)
		if err != nil {
			logger.Warn("invalid configuration request", zap.Error(err))
			continue
		}
		if _, err := h.applier.ApplyConfig(ctx, req); err != nil {
			logger.Warn("configuration request not applied", zap.Error(err))
		}
	}
}
