package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type fundRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type refundRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) FundEscrow(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	var req fundRequest
	if !h.bind(c, &req) {
		return
	}
	escrow, err := h.escrow.Fund(c.Request.Context(), c.Param("id"), req.Amount, caller)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, escrow)
}

func (h *Handler) GetEscrow(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	escrow, err := h.escrow.Get(c.Request.Context(), c.Param("id"), caller)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, escrow)
}

func (h *Handler) ReleaseEscrow(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	escrow, err := h.escrow.Release(c.Request.Context(), c.Param("id"), caller)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, escrow)
}

func (h *Handler) RefundEscrow(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	var req refundRequest
	if !h.bind(c, &req) {
		return
	}
	escrow, err := h.escrow.Refund(c.Request.Context(), c.Param("id"), caller, req.Reason)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, escrow)
}
