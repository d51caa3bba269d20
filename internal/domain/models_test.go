package domain

import (
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Order{}, &Product{}, &Idempotency{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func TestTableNames(t *testing.T) {
	if got := (Order{}).TableName(); got != "orders" {
		t.Fatalf("Order table=%q", got)
	}
	if got := (Product{}).TableName(); got != "products" {
		t.Fatalf("Product table=%q", got)
	}
	if got := (Idempotency{}).TableName(); got != "idempotency_records" {
		t.Fatalf("Idempotency table=%q", got)
	}
}

func TestOrder_AmountCheckConstraint(t *testing.T) {
	db := newTestDB(t)

	ok := &Order{ID: "o-1", Product: "pen", Amount: 2, CreatedAt: time.Now().UTC()}
	if err := db.Create(ok).Error; err != nil {
		t.Fatalf("insert valid order: %v", err)
	}
	bad := &Order{ID: "o-2", Product: "pen", Amount: 0, CreatedAt: time.Now().UTC()}
	if err := db.Create(bad).Error; err == nil {
		t.Fatalf("expected CHECK violation for amount=0")
	}
}

func TestIdempotency_KeyIsUnique(t *testing.T) {
	db := newTestDB(t)
	now := time.Now().UTC()

	first := &Idempotency{Key: "abc-123", Token: "t1", State: "pending", CreatedAt: now, ExpiresAt: now.Add(time.Minute)}
	if err := db.Create(first).Error; err != nil {
		t.Fatalf("insert: %v", err)
	}
	dup := &Idempotency{Key: "abc-123", Token: "t2", State: "pending", CreatedAt: now, ExpiresAt: now.Add(time.Minute)}
	if err := db.Create(dup).Error; err == nil {
		t.Fatalf("expected UNIQUE violation on key")
	}

	bad := &Idempotency{Key: "other", Token: "t", State: "bogus", CreatedAt: now, ExpiresAt: now}
	if err := db.Create(bad).Error; err == nil {
		t.Fatalf("expected CHECK violation on state")
	}
}
