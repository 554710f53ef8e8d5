package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"settlement-service/models"
)

// ListNotifications returns the caller's stored notifications.
func (h *Handler) ListNotifications(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	out, err := h.inbox.NotificationsFor(c.Request.Context(), caller.UserID)
	if err != nil {
		h.fail(c, err)
		return
	}
	if out == nil {
		out = []models.Notification{}
	}
	c.JSON(http.StatusOK, out)
}
