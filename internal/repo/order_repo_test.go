package repo

import (
	"context"
	"errors"
	"testing"
)

func TestCreateAndGetOrder(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	o, err := CreateOrder(ctx, db, "pen", 3)
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if len(o.ID) != 36 || o.CreatedAt.IsZero() {
		t.Fatalf("unexpected order: %+v", o)
	}

	got, err := GetOrder(ctx, db, o.ID)
	if err != nil || got.Product != "pen" || got.Amount != 3 {
		t.Fatalf("GetOrder got=%+v err=%v", got, err)
	}

	if _, err := GetOrder(ctx, db, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetOrder missing err=%v", err)
	}

	n, err := CountOrders(ctx, db)
	if err != nil || n != 1 {
		t.Fatalf("CountOrders n=%d err=%v", n, err)
	}
}

func TestCreateOrder_RejectsNonPositiveAmount(t *testing.T) {
	db := newTestDB(t)
	if _, err := CreateOrder(context.Background(), db, "pen", 0); err == nil {
		t.Fatalf("expected CHECK violation")
	}
}
