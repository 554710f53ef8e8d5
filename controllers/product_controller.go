package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"settlement-service/services"
)

func (h *Handler) PutProduct(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	var in services.ProductInput
	if !h.bind(c, &in) {
		return
	}
	p, err := h.products.Put(c.Request.Context(), c.Param("id"), caller, in)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) GetProduct(c *gin.Context) {
	if _, ok := h.caller(c); !ok {
		return
	}
	p, err := h.products.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}
