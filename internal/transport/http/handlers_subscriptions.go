package http

import (
	"github.com/gin-gonic/gin"

	"rotif/pkg/response"
	"rotif/pkg/rotif"
)

type subscriptionHandler struct {
	broker *rotif.Broker
}

func newSubscriptionHandler(broker *rotif.Broker) *subscriptionHandler {
	return &subscriptionHandler{broker: broker}
}

// subscriptionView is the admin API's read model for a Subscription; the
// handler in Subscription itself isn't serializable, so it's dropped.
type subscriptionView struct {
	ID            string `json:"id"`
	Pattern       string `json:"pattern"`
	Group         string `json:"group"`
	Paused        bool   `json:"paused"`
	InFlight      int64  `json:"in_flight"`
	Messages      int64  `json:"messages"`
	Retries       int64  `json:"retries"`
	Failures      int64  `json:"failures"`
	LastMessageAt int64  `json:"last_message_at,omitempty"`
}

func viewFromSubscription(s *rotif.Subscription) subscriptionView {
	return subscriptionView{
		ID:            s.ID,
		Pattern:       s.Pattern,
		Group:         s.Group,
		Paused:        s.Paused(),
		InFlight:      s.InFlight(),
		Messages:      s.Stats.Messages(),
		Retries:       s.Stats.Retries(),
		Failures:      s.Stats.Failures(),
		LastMessageAt: s.Stats.LastMessageAt(),
	}
}

// List handles GET /api/v1/subscriptions.
func (h *subscriptionHandler) List(c *gin.Context) {
	subs := h.broker.Subscriptions()
	views := make([]subscriptionView, 0, len(subs))
	for _, s := range subs {
		views = append(views, viewFromSubscription(s))
	}
	response.Success(c, views)
}

// Get handles GET /api/v1/subscriptions/:id.
func (h *subscriptionHandler) Get(c *gin.Context) {
	sub, ok := h.broker.Subscription(c.Param("id"))
	if !ok {
		response.NotFound(c, "subscription")
		return
	}
	response.Success(c, viewFromSubscription(sub))
}

// Pause handles POST /api/v1/subscriptions/:id/pause.
func (h *subscriptionHandler) Pause(c *gin.Context) {
	sub, ok := h.broker.Subscription(c.Param("id"))
	if !ok {
		response.NotFound(c, "subscription")
		return
	}
	sub.Pause()
	response.Success(c, viewFromSubscription(sub))
}

// Resume handles POST /api/v1/subscriptions/:id/resume.
func (h *subscriptionHandler) Resume(c *gin.Context) {
	sub, ok := h.broker.Subscription(c.Param("id"))
	if !ok {
		response.NotFound(c, "subscription")
		return
	}
	sub.Resume()
	response.Success(c, viewFromSubscription(sub))
}

// Unsubscribe handles DELETE /api/v1/subscriptions/:id. remove_pattern=true
// also drops the pattern registry entry once this is the last subscriber.
func (h *subscriptionHandler) Unsubscribe(c *gin.Context) {
	id := c.Param("id")
	if _, ok := h.broker.Subscription(id); !ok {
		response.NotFound(c, "subscription")
		return
	}

	removePattern := c.Query("remove_pattern") == "true"
	if err := h.broker.Unsubscribe(c.Request.Context(), id, removePattern); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}
