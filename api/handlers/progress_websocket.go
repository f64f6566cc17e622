package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/Guna-13/xikolo-android/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // local service, any origin
	},
}

// ProgressStreamer streams progress snapshots of one download
type ProgressStreamer interface {
	Stream(ctx context.Context, identity domain.DownloadIdentity) (<-chan domain.ProgressSnapshot, error)
}

// EventSource publishes download state changes
type EventSource interface {
	OnStateChange(listener func(event domain.DownloadEvent)) func()
}

// StreamHandler pushes progress and state changes over WebSocket
type StreamHandler struct {
	progress ProgressStreamer
	events   EventSource
	logger   *zap.Logger
}

// NewStreamHandler creates a new stream handler
func NewStreamHandler(progress ProgressStreamer, events EventSource, logger *zap.Logger) *StreamHandler {
	return &StreamHandler{progress: progress, events: events, logger: logger}
}

// Progress handles GET /api/v1/downloads/:file_type/:course_id/:module_id/:item_id/progress.
// The socket is closed after the final snapshot.
func (h *StreamHandler) Progress(c *gin.Context) {
	identity := identityParam(c)

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	snapshots, err := h.progress.Stream(ctx, identity)
	if err != nil {
		respondError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket", zap.Error(err))
		return
	}
	defer conn.Close()

	h.logger.Debug("Progress client connected",
		zap.String("download_id", identity.Key()),
		zap.String("remote_addr", c.Request.RemoteAddr))

	done := readUntilClosed(conn)
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case snap, ok := <-snapshots:
			if !ok {
				closeNormally(conn)
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(snap); err != nil {
				h.logger.Debug("Failed to send snapshot", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// Events handles GET /api/v1/events, streaming every download state change
func (h *StreamHandler) Events(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket", zap.Error(err))
		return
	}
	defer conn.Close()

	events := make(chan domain.DownloadEvent, 64)
	unsubscribe := h.events.OnStateChange(func(event domain.DownloadEvent) {
		select {
		case events <- event:
		default:
			h.logger.Warn("Dropping event for slow client", zap.String("download_id", event.Download.ID))
		}
	})
	defer unsubscribe()

	done := readUntilClosed(conn)
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case event := <-events:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// readUntilClosed drains client frames; the channel is closed when the
// client goes away
func readUntilClosed(conn *websocket.Conn) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	return done
}

func closeNormally(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
