package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"settlement-service/models"
	"settlement-service/services"
)

func (h *Handler) CreateOrder(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	var in services.CreateOrderInput
	if !h.bind(c, &in) {
		return
	}
	order, err := h.orders.Create(c.Request.Context(), caller, in)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

func (h *Handler) ListOrders(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	orders, err := h.orders.ListForBuyer(c.Request.Context(), caller)
	if err != nil {
		h.fail(c, err)
		return
	}
	if orders == nil {
		orders = []models.Order{}
	}
	c.JSON(http.StatusOK, orders)
}

func (h *Handler) GetOrder(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	order, err := h.orders.Get(c.Request.Context(), c.Param("id"), caller)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) UpdateOrderStatus(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	var change services.StatusChange
	if !h.bind(c, &change) {
		return
	}
	order, err := h.orders.UpdateStatus(c.Request.Context(), c.Param("id"), change, caller)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) CancelOrder(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	order, err := h.orders.CancelOrder(c.Request.Context(), c.Param("id"), caller)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) ConfirmReceipt(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	order, err := h.orders.ConfirmReceipt(c.Request.Context(), c.Param("id"), caller)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}
