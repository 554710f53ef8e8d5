package controllers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"settlement-service/ledger"
	"settlement-service/middlewares"
	"settlement-service/models"
	"settlement-service/services"
)

// Services bundles the engines the handlers call.
type Services struct {
	Products *services.ProductService
	Orders   *services.OrderService
	Escrow   *services.EscrowService
	Barters  *services.BarterService
	// Notifications is optional; without it the inbox route is not mounted.
	Notifications ledger.NotificationReader
}

// Handler exposes the order, escrow and barter engines over HTTP.
type Handler struct {
	products *services.ProductService
	orders   *services.OrderService
	escrow   *services.EscrowService
	barters  *services.BarterService
	inbox    ledger.NotificationReader
	log      *zap.Logger
}

func NewHandler(svc Services, logger *zap.Logger) *Handler {
	return &Handler{
		products: svc.Products,
		orders:   svc.Orders,
		escrow:   svc.Escrow,
		barters:  svc.Barters,
		inbox:    svc.Notifications,
		log:      logger.Named("api"),
	}
}

// Register mounts the API on r, which must already run AuthMiddleware.
func (h *Handler) Register(r gin.IRouter) {
	r.PUT("/products/:id", middlewares.TrackOperation("product_put"), h.PutProduct)
	r.GET("/products/:id", middlewares.TrackOperation("product_get"), h.GetProduct)

	r.POST("/orders", middlewares.TrackOperation("order_create"), h.CreateOrder)
	r.GET("/orders", middlewares.TrackOperation("order_list"), h.ListOrders)
	r.GET("/orders/:id", middlewares.TrackOperation("order_get"), h.GetOrder)
	r.PUT("/orders/:id/status", middlewares.TrackOperation("order_update_status"), h.UpdateOrderStatus)
	r.POST("/orders/:id/cancel", middlewares.TrackOperation("order_cancel"), h.CancelOrder)
	r.POST("/orders/:id/confirm-receipt", middlewares.TrackOperation("order_confirm"), h.ConfirmReceipt)

	r.POST("/orders/:id/escrow", middlewares.TrackOperation("escrow_fund"), h.FundEscrow)
	r.GET("/orders/:id/escrow", middlewares.TrackOperation("escrow_get"), h.GetEscrow)
	r.POST("/orders/:id/escrow/release", middlewares.TrackOperation("escrow_release"), h.ReleaseEscrow)
	r.POST("/orders/:id/escrow/refund", middlewares.TrackOperation("escrow_refund"), h.RefundEscrow)

	r.POST("/barters", middlewares.TrackOperation("barter_propose"), h.ProposeBarter)
	r.GET("/barters", middlewares.TrackOperation("barter_list"), h.ListBarters)
	r.GET("/barters/:id", middlewares.TrackOperation("barter_get"), h.GetBarter)
	r.POST("/barters/:id/respond", middlewares.TrackOperation("barter_respond"), h.RespondBarter)
	r.POST("/barters/:id/cancel", middlewares.TrackOperation("barter_cancel"), h.CancelBarter)

	if h.inbox != nil {
		r.GET("/notifications", middlewares.TrackOperation("notification_list"), h.ListNotifications)
	}
}

func (h *Handler) caller(c *gin.Context) (models.Caller, bool) {
	caller, ok := middlewares.CallerFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": gin.H{"kind": services.KindUnauthenticated, "message": "not authenticated"},
		})
	}
	return caller, ok
}

// bind decodes the JSON body into dst and reports malformed bodies as
// validation errors.
func (h *Handler) bind(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		h.fail(c, services.FromValidator(err))
		return false
	}
	return true
}

func (h *Handler) fail(c *gin.Context, err error) {
	var e *services.Error
	if !errors.As(err, &e) {
		e = &services.Error{Kind: services.KindInternal, Err: err}
	}
	body := gin.H{"kind": e.Kind, "message": e.Message}
	if e.Kind == services.KindInternal {
		h.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		body["message"] = "internal error"
	}
	if len(e.Fields) > 0 {
		body["fields"] = e.Fields
	}
	c.JSON(StatusFor(e.Kind), gin.H{"error": body})
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind services.Kind) int {
	switch kind {
	case services.KindValidation, services.KindInvalidAmount, services.KindSelfBarter:
		return http.StatusBadRequest
	case services.KindUnauthenticated:
		return http.StatusUnauthorized
	case services.KindUnauthorized:
		return http.StatusForbidden
	case services.KindNotFound:
		return http.StatusNotFound
	case services.KindConflict, services.KindInvalidTransition, services.KindInvalidState, services.KindOutOfStock:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
