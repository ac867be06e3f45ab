package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"rotif/pkg/realtime"
)

type websocketHandler struct {
	hub      *realtime.Hub
	logger   *logrus.Logger
	upgrader websocket.Upgrader
}

func newWebsocketHandler(hub *realtime.Hub, logger *logrus.Logger) *websocketHandler {
	return &websocketHandler{
		hub:    hub,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Handle upgrades GET /ws/tail to a websocket connection streaming
// pattern-registry and DLQ live-tail events.
func (h *websocketHandler) Handle(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.WithError(err).Warn("failed to upgrade live-tail websocket connection")
		return
	}
	h.hub.Register(ulid.Make().String(), conn)
}
