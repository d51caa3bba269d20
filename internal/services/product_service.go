// Package services – ProductService
//
// ProductService creates catalogue entries and answers name searches.
// Names are matched case-insensitively using full Unicode case folding
// (golang.org/x/text/cases), so the folded form is computed once on write
// and once per query.
package services

import (
	"context"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/cases"
	"gorm.io/gorm"

	"github.com/tbourn/go-idempotent-orders/internal/domain"
)

const (
	// DefaultSearchLimit is used when the caller passes a non-positive limit.
	DefaultSearchLimit = 20
	// MaxSearchLimit caps the number of rows one search may return.
	MaxSearchLimit = 100

	maxQueryRunes = 100
)

// ProductRepo defines the repository contract required by ProductService.
type ProductRepo interface {
	CreateProduct(ctx context.Context, db *gorm.DB, name, folded string, price float64, category string) (*domain.Product, error)
	SearchProducts(ctx context.Context, db *gorm.DB, folded string, limit int) ([]domain.Product, error)
}

// ProductService provides product operations.
type ProductService struct {
	DB   *gorm.DB
	Repo ProductRepo
}

// NewProductService constructs a ProductService.
func NewProductService(db *gorm.DB, r ProductRepo) *ProductService {
	return &ProductService{DB: db, Repo: r}
}

// Fold returns the case-folded, whitespace-normalized form of s used for
// matching.
func Fold(s string) string {
	return cases.Fold().String(strings.Join(strings.Fields(s), " "))
}

// Create validates and persists a product.
func (s *ProductService) Create(ctx context.Context, name string, price float64, category string) (*domain.Product, error) {
	ctx, span := otel.Tracer("services/ProductService").Start(ctx, "Create",
		trace.WithAttributes(attribute.String("product.name", name)),
	)
	defer span.End()

	name = strings.Join(strings.Fields(name), " ")
	if name == "" || utf8.RuneCountInString(name) > 255 {
		return nil, ErrInvalidName
	}
	if price < 0 {
		return nil, ErrInvalidPrice
	}
	return s.Repo.CreateProduct(ctx, s.DB, name, Fold(name), price, strings.TrimSpace(category))
}

// Search returns products whose name contains q, ignoring case. limit is
// clamped to [1, MaxSearchLimit] with DefaultSearchLimit for non-positive
// values. A cancelled ctx aborts the query and its error is returned as is.
func (s *ProductService) Search(ctx context.Context, q string, limit int) ([]domain.Product, error) {
	switch {
	case limit <= 0:
		limit = DefaultSearchLimit
	case limit > MaxSearchLimit:
		limit = MaxSearchLimit
	}
	ctx, span := otel.Tracer("services/ProductService").Start(ctx, "Search",
		trace.WithAttributes(
			attribute.String("query", q),
			attribute.Int("limit", limit),
		),
	)
	defer span.End()

	if utf8.RuneCountInString(q) > maxQueryRunes {
		return nil, ErrQueryTooLong
	}
	items, err := s.Repo.SearchProducts(ctx, s.DB, Fold(q), limit)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("results", len(items)))
	return items, nil
}
