package repo

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-idempotent-orders/internal/domain"
)

// CreateProduct inserts a product. folded is the case-folded name used by
// SearchProducts.
func CreateProduct(ctx context.Context, db *gorm.DB, name, folded string, price float64, category string) (*domain.Product, error) {
	p := &domain.Product{
		ID:         uuid.NewString(),
		Name:       name,
		NameFolded: folded,
		Price:      price,
		Category:   category,
		CreatedAt:  time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(p).Error; err != nil {
		return nil, err
	}
	return p, nil
}

// SearchProducts returns up to limit products whose folded name contains
// folded, ordered by name. Rows are read through a cursor bound to ctx: when
// ctx is cancelled the driver aborts the query, the cursor is closed and
// ctx.Err() is returned instead of a partial result.
func SearchProducts(ctx context.Context, db *gorm.DB, folded string, limit int) ([]domain.Product, error) {
	q := db.WithContext(ctx).
		Model(&domain.Product{}).
		Order("name ASC, id ASC").
		Limit(limit)
	if folded != "" {
		q = q.Where(`name_folded LIKE ? ESCAPE '\'`, "%"+escapeLike(folded)+"%")
	}

	rows, err := q.Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Product, 0, limit)
	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var p domain.Product
		if err := db.ScanRows(rows, &p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string { return likeEscaper.Replace(s) }
