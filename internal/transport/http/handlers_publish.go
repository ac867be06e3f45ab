package http

import (
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"rotif/pkg/response"
	"rotif/pkg/rotif"
	"rotif/pkg/validator"
)

type publishHandler struct {
	broker *rotif.Broker
	logger *logrus.Logger
}

func newPublishHandler(broker *rotif.Broker, logger *logrus.Logger) *publishHandler {
	return &publishHandler{broker: broker, logger: logger}
}

// publishRequest is the admin API's wire shape for a publish call; Payload
// is accepted as raw JSON (an object, a string or any other JSON value) and
// its bytes are handed to the broker unchanged.
type publishRequest struct {
	Channel      string          `json:"channel" binding:"required"`
	Payload      json.RawMessage `json:"payload" binding:"required"`
	DelaySeconds int64           `json:"delay_seconds"`
	ExactlyOnce  bool            `json:"exactly_once"`
	DedupKey     string          `json:"dedup_key"`
}

// Publish handles POST /api/v1/publish.
func (h *publishHandler) Publish(c *gin.Context) {
	var req publishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "invalid publish request body", err.Error())
		return
	}

	if err := validator.ValidatePublishRequest(map[string]interface{}{
		"channel":       req.Channel,
		"payload":       req.Payload,
		"delay_seconds": req.DelaySeconds,
		"dedup_key":     req.DedupKey,
	}); err != nil {
		response.ValidationError(c, "publish request failed validation", err.Error())
		return
	}

	opts := rotif.PublishOptions{
		ExactlyOnce: req.ExactlyOnce,
	}
	if req.DelaySeconds > 0 {
		opts.DelayMs = req.DelaySeconds * 1000
	}

	result, err := h.broker.Publish(c.Request.Context(), req.Channel, []byte(req.Payload), opts)
	if err != nil {
		h.logger.WithError(err).WithField("channel", req.Channel).Warn("publish failed")
		response.Error(c, err)
		return
	}

	response.Created(c, gin.H{
		"result":    result,
		"channel":   req.Channel,
		"published": time.Now().UTC(),
	})
}
