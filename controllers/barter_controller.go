package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"settlement-service/models"
	"settlement-service/services"
)

func (h *Handler) ProposeBarter(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	var in services.ProposeInput
	if !h.bind(c, &in) {
		return
	}
	p, err := h.barters.Propose(c.Request.Context(), caller, in)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (h *Handler) ListBarters(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	out, err := h.barters.List(c.Request.Context(), caller)
	if err != nil {
		h.fail(c, err)
		return
	}
	if out == nil {
		out = []models.BarterProposal{}
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) GetBarter(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	p, err := h.barters.Get(c.Request.Context(), c.Param("id"), caller)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) RespondBarter(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	var in services.RespondInput
	if !h.bind(c, &in) {
		return
	}
	res, err := h.barters.Respond(c.Request.Context(), c.Param("id"), caller, in)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) CancelBarter(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	p, err := h.barters.Cancel(c.Request.Context(), c.Param("id"), caller)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}
