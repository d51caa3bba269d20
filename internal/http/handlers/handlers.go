// Package handlers holds the Gin handlers of the public API. Handlers are
// transport-thin: they bind input, call a service, and translate the result
// or error into the response envelope defined in response.go.
package handlers

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-idempotent-orders/internal/domain"
	"github.com/tbourn/go-idempotent-orders/internal/http/middleware"
)

// OrderService is the order use-case surface consumed by the handlers.
type OrderService interface {
	Create(ctx context.Context, product string, amount int) (*domain.Order, error)
	Get(ctx context.Context, id string) (*domain.Order, error)
}

// ProductService is the catalogue use-case surface consumed by the handlers.
type ProductService interface {
	Create(ctx context.Context, name string, price float64, category string) (*domain.Product, error)
	Search(ctx context.Context, q string, limit int) ([]domain.Product, error)
}

// Handlers groups the order and product endpoints.
type Handlers struct {
	orders   OrderService
	products ProductService
}

// New constructs Handlers bound to the given services.
func New(orders OrderService, products ProductService) *Handlers {
	return &Handlers{orders: orders, products: products}
}

// clientGone reports whether err is the request context ending. In that case
// the request is marked so the access log records 499, and nothing is written.
func clientGone(c *gin.Context, err error) bool {
	if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if c.Request.Context().Err() == nil {
		return false
	}
	middleware.MarkClientClosed(c)
	c.Abort()
	return true
}
