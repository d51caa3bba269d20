// Package services – OrderService
//
// OrderService owns order creation and lookup. It validates input and
// delegates persistence to the repository; idempotency of creation is
// enforced one layer up, by the HTTP guard.
package services

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-idempotent-orders/internal/domain"
)

// OrderRepo defines the repository contract required by OrderService.
type OrderRepo interface {
	// CreateOrder inserts a new order row.
	CreateOrder(ctx context.Context, db *gorm.DB, product string, amount int) (*domain.Order, error)
	// GetOrder fetches an order by ID.
	GetOrder(ctx context.Context, db *gorm.DB, id string) (*domain.Order, error)
}

// OrderService provides order operations.
type OrderService struct {
	DB   *gorm.DB
	Repo OrderRepo
}

// NewOrderService constructs an OrderService.
func NewOrderService(db *gorm.DB, r OrderRepo) *OrderService {
	return &OrderService{DB: db, Repo: r}
}

// Create validates and persists a new order.
func (s *OrderService) Create(ctx context.Context, product string, amount int) (*domain.Order, error) {
	ctx, span := otel.Tracer("services/OrderService").Start(ctx, "Create",
		trace.WithAttributes(
			attribute.String("order.product", product),
			attribute.Int("order.amount", amount),
		),
	)
	defer span.End()

	product = strings.TrimSpace(product)
	if product == "" || utf8.RuneCountInString(product) > 255 {
		return nil, ErrInvalidProduct
	}
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	o, err := s.Repo.CreateOrder(ctx, s.DB, product, amount)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.String("order.id", o.ID))
	return o, nil
}

// Get returns an order by ID or ErrOrderNotFound.
func (s *OrderService) Get(ctx context.Context, id string) (*domain.Order, error) {
	ctx, span := otel.Tracer("services/OrderService").Start(ctx, "Get",
		trace.WithAttributes(attribute.String("order.id", id)),
	)
	defer span.End()

	o, err := s.Repo.GetOrder(ctx, s.DB, strings.TrimSpace(id))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return o, nil
}
