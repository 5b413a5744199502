// Package httpapi: HTTP-фасад сервиса заказов на gin.
package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
	"github.com/vladislavdragonenkov/orderflow/internal/ordering"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// Handler обслуживает маршруты /api/orders и /api/customers.
type Handler struct {
	service *ordering.Service
	logger  *log.Entry
}

// NewHandler конструирует обработчик.
func NewHandler(service *ordering.Service, logger *log.Entry) *Handler {
	if logger == nil {
		logger = log.WithField("component", "httpapi")
	}
	return &Handler{service: service, logger: logger}
}

// NewRouter собирает gin.Engine с recovery, журналом запросов и маршрутами API.
func NewRouter(h *Handler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(h.logger))
	h.RegisterRoutes(r)
	return r
}

// RegisterRoutes регистрирует маршруты фасада.
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	api := r.Group("/api")
	api.GET("/orders", h.ListOrders)
	api.POST("/orders", h.CreateOrder)
	api.GET("/orders/:id", h.GetOrder)
	api.POST("/orders/:id/accept", h.AcceptOrder)
	api.POST("/orders/:id/cancel", h.CancelOrder)
	api.POST("/orders/:id/complete", h.CompleteOrder)
	api.PUT("/orders/:id/items", h.UpdateItems)
	api.GET("/orders/:id/timeline", h.Timeline)
	api.GET("/customers/:customerId/orders", h.ListCustomerOrders)
}

func (h *Handler) CreateOrder(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	order, err := h.service.Create(c.Request.Context(), req.CustomerID, toDomainItems(req.Items))
	if err != nil {
		h.fail(c, "create", err)
		return
	}
	c.JSON(http.StatusCreated, toOrderResponse(order))
}

func (h *Handler) GetOrder(c *gin.Context) {
	order, err := h.service.Get(c.Param("id"))
	if err != nil {
		h.fail(c, "get", err)
		return
	}
	c.JSON(http.StatusOK, toOrderResponse(order))
}

func (h *Handler) ListOrders(c *gin.Context) {
	limit, ok := parseLimit(c)
	if !ok {
		return
	}
	orders, err := h.service.List(limit)
	if err != nil {
		h.fail(c, "list", err)
		return
	}
	c.JSON(http.StatusOK, toOrderResponses(orders))
}

func (h *Handler) ListCustomerOrders(c *gin.Context) {
	limit, ok := parseLimit(c)
	if !ok {
		return
	}
	orders, err := h.service.ListByCustomer(c.Param("customerId"), limit)
	if err != nil {
		h.fail(c, "list_by_customer", err)
		return
	}
	c.JSON(http.StatusOK, toOrderResponses(orders))
}

func (h *Handler) AcceptOrder(c *gin.Context) {
	order, err := h.service.Accept(c.Request.Context(), c.Param("id"))
	h.respond(c, "accept", order, err)
}

func (h *Handler) CancelOrder(c *gin.Context) {
	var req cancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	order, err := h.service.Cancel(c.Request.Context(), c.Param("id"), req.Reason)
	h.respond(c, "cancel", order, err)
}

func (h *Handler) CompleteOrder(c *gin.Context) {
	order, err := h.service.Complete(c.Request.Context(), c.Param("id"))
	h.respond(c, "complete", order, err)
}

func (h *Handler) UpdateItems(c *gin.Context) {
	var req updateItemsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	order, err := h.service.UpdateItems(c.Request.Context(), c.Param("id"), toDomainItems(req.Items))
	h.respond(c, "update_items", order, err)
}

func (h *Handler) Timeline(c *gin.Context) {
	events, err := h.service.Timeline(c.Param("id"))
	if err != nil {
		h.fail(c, "timeline", err)
		return
	}
	c.JSON(http.StatusOK, toTimelineResponses(events))
}

func (h *Handler) respond(c *gin.Context, op string, order *domain.Order, err error) {
	if err != nil {
		h.fail(c, op, err)
		return
	}
	c.JSON(http.StatusOK, toOrderResponse(order))
}

// fail переводит класс доменной ошибки в HTTP-статус.
func (h *Handler) fail(c *gin.Context, op string, err error) {
	status := StatusFor(err)
	entry := h.logger.WithError(err).WithFields(log.Fields{"op": op, "status": status})
	if status >= http.StatusInternalServerError {
		entry.Error("request failed")
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	entry.Debug("request rejected")
	c.JSON(status, gin.H{"error": err.Error()})
}

// StatusFor возвращает HTTP-статус для ошибки сервиса.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case domain.IsValidation(err):
		return http.StatusBadRequest
	case domain.IsNotFound(err):
		return http.StatusNotFound
	case domain.IsInvalidState(err), domain.IsVersionConflict(err):
		return http.StatusConflict
	case errors.Is(err, domain.ErrTransportUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func parseLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return defaultListLimit, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
		return 0, false
	}
	return min(limit, maxListLimit), true
}

func requestLogger(logger *log.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.WithFields(log.Fields{
			"method":      c.Request.Method,
			"path":        c.FullPath(),
			"status":      c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
		}).Debug("http request")
	}
}
