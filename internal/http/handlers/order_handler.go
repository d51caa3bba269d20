// Order HTTP handlers.
//
//   - POST /api/v1/orders       (create; guarded by Idempotency-Key)
//   - GET  /api/v1/orders/{id}  (fetch)
package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-idempotent-orders/internal/services"
)

// CreateOrderRequest is the JSON payload for placing an order.
type CreateOrderRequest struct {
	// Product is the name of the ordered item.
	Product string `json:"product" binding:"required" example:"pen"`
	// Amount is the quantity ordered; must be positive.
	Amount int `json:"amount" example:"1"`
}

// CreateOrder godoc
// @ID          createOrder
// @Summary     Place an order
// @Description Creates an order at most once per Idempotency-Key. Retries with the same key return the stored response with Idempotency-Replayed: true, whatever their body.
// @Tags        Orders
// @Accept      json
// @Produce     json
//
// @Param       Idempotency-Key  header  string                       true  "Client-chosen key for the write"  example(abc-123)
// @Param       body             body    handlers.CreateOrderRequest  true  "Order payload"
//
// @Success     201  {object}  domain.Order
// @Header      201  {string}  Location              "URL of the new order"
// @Header      201  {string}  Idempotency-Replayed  "true when the response was replayed"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request or missing key"
// @Failure     409  {object}  handlers.ErrorResponse  "Same key still in progress"
// @Failure     422  {object}  handlers.ErrorResponse  "Validation failed"
// @Failure     503  {object}  handlers.ErrorResponse  "Idempotency store unavailable"
// @Router      /orders [post]
func (h *Handlers) CreateOrder(c *gin.Context) {
	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	o, err := h.orders.Create(c.Request.Context(), req.Product, req.Amount)
	switch {
	case err == nil:
		created(c, o.ID, o)
	case clientGone(c, err):
	case errors.Is(err, services.ErrInvalidProduct):
		fail(c, http.StatusUnprocessableEntity, ErrCodeInvalidProduct, err.Error())
	case errors.Is(err, services.ErrInvalidAmount):
		fail(c, http.StatusUnprocessableEntity, ErrCodeInvalidAmount, err.Error())
	default:
		fail(c, http.StatusInternalServerError, ErrCodeCreateFailed, "could not create order")
	}
}

// GetOrder godoc
// @ID          getOrder
// @Summary     Fetch an order
// @Tags        Orders
// @Produce     json
// @Param       id   path      string  true  "Order ID"
// @Success     200  {object}  domain.Order
// @Failure     404  {object}  handlers.ErrorResponse  "Not found"
// @Router      /orders/{id} [get]
func (h *Handlers) GetOrder(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "missing order id")
		return
	}

	o, err := h.orders.Get(c.Request.Context(), id)
	switch {
	case err == nil:
		ok(c, http.StatusOK, o)
	case clientGone(c, err):
	case errors.Is(err, services.ErrOrderNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "order not found")
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not load order")
	}
}
