package services

import (
	"context"
	"errors"
	"testing"

	"gorm.io/gorm"

	"github.com/tbourn/go-idempotent-orders/internal/domain"
)

// ----- Fake repo -----

type fakeOrderRepo struct {
	createProduct string
	createAmount  int
	createErr     error
	creates       int

	getID  string
	getOut *domain.Order
	getErr error
}

func (r *fakeOrderRepo) CreateOrder(ctx context.Context, db *gorm.DB, product string, amount int) (*domain.Order, error) {
	r.creates++
	r.createProduct, r.createAmount = product, amount
	if r.createErr != nil {
		return nil, r.createErr
	}
	return &domain.Order{ID: "o-1", Product: product, Amount: amount}, nil
}

func (r *fakeOrderRepo) GetOrder(ctx context.Context, db *gorm.DB, id string) (*domain.Order, error) {
	r.getID = id
	return r.getOut, r.getErr
}

func TestOrderService_Create_TrimsAndPersists(t *testing.T) {
	repo := &fakeOrderRepo{}
	svc := NewOrderService(nil, repo)

	o, err := svc.Create(context.Background(), "  pen ", 2)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if repo.createProduct != "pen" || repo.createAmount != 2 || o.ID != "o-1" {
		t.Fatalf("unexpected repo call: %+v order=%+v", repo, o)
	}
}

func TestOrderService_Create_Validation(t *testing.T) {
	cases := []struct {
		name    string
		product string
		amount  int
		want    error
	}{
		{"empty product", "   ", 1, ErrInvalidProduct},
		{"zero amount", "pen", 0, ErrInvalidAmount},
		{"negative amount", "pen", -3, ErrInvalidAmount},
	}
	for _, tc := range cases {
		repo := &fakeOrderRepo{}
		svc := NewOrderService(nil, repo)
		if _, err := svc.Create(context.Background(), tc.product, tc.amount); !errors.Is(err, tc.want) {
			t.Fatalf("%s: err=%v, want %v", tc.name, err, tc.want)
		}
		if repo.creates != 0 {
			t.Fatalf("%s: repo must not be called", tc.name)
		}
	}
}

func TestOrderService_Create_PropagatesRepoError(t *testing.T) {
	boom := errors.New("db down")
	svc := NewOrderService(nil, &fakeOrderRepo{createErr: boom})
	if _, err := svc.Create(context.Background(), "pen", 1); !errors.Is(err, boom) {
		t.Fatalf("err=%v, want %v", err, boom)
	}
}

func TestOrderService_Get(t *testing.T) {
	repo := &fakeOrderRepo{getOut: &domain.Order{ID: "o-9", Product: "pen", Amount: 1}}
	svc := NewOrderService(nil, repo)

	o, err := svc.Get(context.Background(), " o-9 ")
	if err != nil || o.ID != "o-9" || repo.getID != "o-9" {
		t.Fatalf("Get o=%+v err=%v id=%q", o, err, repo.getID)
	}

	repo.getOut, repo.getErr = nil, gorm.ErrRecordNotFound
	if _, err := svc.Get(context.Background(), "nope"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("err=%v, want ErrOrderNotFound", err)
	}
}
