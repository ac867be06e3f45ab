package http

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"rotif/pkg/response"
	"rotif/pkg/rotif"
	"rotif/pkg/units"
	"rotif/pkg/validator"
)

type dlqHandler struct {
	broker *rotif.Broker
	logger *logrus.Logger
}

func newDLQHandler(broker *rotif.Broker, logger *logrus.Logger) *dlqHandler {
	return &dlqHandler{broker: broker, logger: logger}
}

type dlqStatsView struct {
	Count        int64  `json:"count"`
	OldestMillis int64  `json:"oldest_millis,omitempty"`
	NewestMillis int64  `json:"newest_millis,omitempty"`
	Size         string `json:"approx_size"`
}

// Stats handles GET /api/v1/dlq/stats.
func (h *dlqHandler) Stats(c *gin.Context) {
	stats, err := h.broker.DLQ().GetStats(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, dlqStatsView{
		Count:        stats.Count,
		OldestMillis: stats.OldestMillis,
		NewestMillis: stats.NewestMillis,
		Size:         units.FormatBytes(stats.Count * 256), // coarse estimate, entries aren't size-tracked individually
	})
}

// Messages handles GET /api/v1/dlq/messages.
func (h *dlqHandler) Messages(c *gin.Context) {
	count := int64(100)
	if raw := c.Query("count"); raw != "" {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			count = n
		}
	}

	msgs, err := h.broker.DLQ().GetMessages(c.Request.Context(), rotif.DLQListOptions{
		Count:   count,
		Channel: c.Query("channel"),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, msgs)
}

// Cleanup handles POST /api/v1/dlq/cleanup, triggering an out-of-cycle sweep.
func (h *dlqHandler) Cleanup(c *gin.Context) {
	removed, err := h.broker.DLQ().Cleanup(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"removed": removed})
}

// Clear handles DELETE /api/v1/dlq, wiping the queue without archiving.
func (h *dlqHandler) Clear(c *gin.Context) {
	if err := h.broker.DLQ().Clear(c.Request.Context()); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

type dlqConfigUpdateRequest struct {
	MaxAgeSeconds         *int64 `json:"max_age_seconds"`
	MaxSize               *int64 `json:"max_size"`
	CleanupIntervalSecond *int64 `json:"cleanup_interval_seconds"`
	BatchSize             *int64 `json:"batch_size"`
	ArchiveEnabled        *bool  `json:"archive_enabled"`
}

// UpdateConfig handles PUT /api/v1/dlq/config.
func (h *dlqHandler) UpdateConfig(c *gin.Context) {
	var req dlqConfigUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "invalid DLQ config update body", err.Error())
		return
	}

	data := map[string]interface{}{}
	if req.MaxAgeSeconds != nil {
		data["max_age_seconds"] = *req.MaxAgeSeconds
	}
	if req.MaxSize != nil {
		data["max_size"] = *req.MaxSize
	}
	if req.CleanupIntervalSecond != nil {
		data["cleanup_interval_seconds"] = *req.CleanupIntervalSecond
	}
	if req.BatchSize != nil {
		data["batch_size"] = *req.BatchSize
	}
	if err := validator.ValidateDLQConfigUpdate(data); err != nil {
		response.ValidationError(c, "DLQ config update failed validation", err.Error())
		return
	}

	cfg := h.broker.Config().DLQ
	if req.MaxAgeSeconds != nil {
		cfg.MaxAge = time.Duration(*req.MaxAgeSeconds) * time.Second
	}
	if req.MaxSize != nil {
		cfg.MaxSize = *req.MaxSize
	}
	if req.CleanupIntervalSecond != nil {
		cfg.CleanupInterval = time.Duration(*req.CleanupIntervalSecond) * time.Second
	}
	if req.BatchSize != nil {
		cfg.BatchSize = *req.BatchSize
	}
	if req.ArchiveEnabled != nil {
		cfg.ArchiveEnabled = *req.ArchiveEnabled
	}

	h.broker.DLQ().UpdateConfig(cfg)
	response.Success(c, gin.H{"updated": true})
}

type dlqRequeueRequest struct {
	Count int64 `json:"count" binding:"required"`
}

// Requeue handles POST /api/v1/dlq/requeue.
func (h *dlqHandler) Requeue(c *gin.Context) {
	var req dlqRequeueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "invalid requeue request body", err.Error())
		return
	}
	if err := validator.ValidateRequeueRequest(map[string]interface{}{"count": req.Count}); err != nil {
		response.ValidationError(c, "requeue request failed validation", err.Error())
		return
	}

	moved, err := h.broker.DLQ().Requeue(c.Request.Context(), req.Count)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"requeued": moved})
}
