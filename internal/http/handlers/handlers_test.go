package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-idempotent-orders/internal/domain"
	"github.com/tbourn/go-idempotent-orders/internal/http/middleware"
	"github.com/tbourn/go-idempotent-orders/internal/services"
)

// ---------- fakes ----------

type fakeOrderSvc struct {
	created []domain.Order
	err     error
}

func (f *fakeOrderSvc) Create(_ context.Context, product string, amount int) (*domain.Order, error) {
	if f.err != nil {
		return nil, f.err
	}
	if strings.TrimSpace(product) == "" {
		return nil, services.ErrInvalidProduct
	}
	if amount <= 0 {
		return nil, services.ErrInvalidAmount
	}
	o := domain.Order{ID: "o-1", Product: product, Amount: amount, CreatedAt: time.Unix(0, 0).UTC()}
	f.created = append(f.created, o)
	return &o, nil
}

func (f *fakeOrderSvc) Get(_ context.Context, id string) (*domain.Order, error) {
	if f.err != nil {
		return nil, f.err
	}
	for i := range f.created {
		if f.created[i].ID == id {
			return &f.created[i], nil
		}
	}
	return nil, services.ErrOrderNotFound
}

type fakeProductSvc struct {
	items []domain.Product
	err   error
	gotQ  string
	gotN  int
}

func (f *fakeProductSvc) Create(_ context.Context, name string, price float64, category string) (*domain.Product, error) {
	if f.err != nil {
		return nil, f.err
	}
	if name == "" {
		return nil, services.ErrInvalidName
	}
	if price < 0 {
		return nil, services.ErrInvalidPrice
	}
	return &domain.Product{ID: "p-1", Name: name, Price: price, Category: category}, nil
}

func (f *fakeProductSvc) Search(ctx context.Context, q string, limit int) ([]domain.Product, error) {
	f.gotQ, f.gotN = q, limit
	if f.err != nil {
		return nil, f.err
	}
	return f.items, nil
}

func newTestRouter(o OrderService, p ProductService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) { c.Header("X-Request-ID", "rid-1"); c.Next() })
	h := New(o, p)
	api := r.Group("/api/v1")
	api.POST("/orders", h.CreateOrder)
	api.GET("/orders/:id", h.GetOrder)
	api.POST("/products", h.CreateProduct)
	api.GET("/products/search", h.SearchProducts)
	return r
}

func doJSON(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	r.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var er ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil {
		t.Fatalf("invalid error json: %v (%s)", err, w.Body.String())
	}
	return er
}

// ---------- orders ----------

func TestCreateOrder_CreatedThenFetch(t *testing.T) {
	r := newTestRouter(&fakeOrderSvc{}, &fakeProductSvc{})

	w := doJSON(r, http.MethodPost, "/api/v1/orders", `{"product":"pen","amount":2}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if loc := w.Header().Get("Location"); loc != "/api/v1/orders/o-1" {
		t.Fatalf("Location=%q", loc)
	}
	var o domain.Order
	if err := json.Unmarshal(w.Body.Bytes(), &o); err != nil {
		t.Fatalf("json: %v", err)
	}
	if o.ID != "o-1" || o.Product != "pen" || o.Amount != 2 {
		t.Fatalf("unexpected order: %+v", o)
	}

	w = doJSON(r, http.MethodGet, "/api/v1/orders/o-1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("get status=%d", w.Code)
	}
}

func TestCreateOrder_Validation(t *testing.T) {
	r := newTestRouter(&fakeOrderSvc{}, &fakeProductSvc{})

	cases := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"bad json", `{"product":`, http.StatusBadRequest, ErrCodeBadRequest},
		{"missing product", `{"amount":1}`, http.StatusBadRequest, ErrCodeBadRequest},
		{"blank product", `{"product":"   ","amount":1}`, http.StatusUnprocessableEntity, ErrCodeInvalidProduct},
		{"zero amount", `{"product":"pen"}`, http.StatusUnprocessableEntity, ErrCodeInvalidAmount},
		{"negative amount", `{"product":"pen","amount":-3}`, http.StatusUnprocessableEntity, ErrCodeInvalidAmount},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := doJSON(r, http.MethodPost, "/api/v1/orders", tc.body)
			if w.Code != tc.status {
				t.Fatalf("status=%d want %d (%s)", w.Code, tc.status, w.Body.String())
			}
			er := decodeError(t, w)
			if er.Code != tc.code || er.RequestID != "rid-1" {
				t.Fatalf("unexpected envelope: %+v", er)
			}
		})
	}
}

func TestCreateOrder_ServiceFailure(t *testing.T) {
	r := newTestRouter(&fakeOrderSvc{err: context.DeadlineExceeded}, &fakeProductSvc{})

	// the request context itself is alive, so a deadline from below is a server error
	w := doJSON(r, http.MethodPost, "/api/v1/orders", `{"product":"pen","amount":1}`)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d", w.Code)
	}
	if er := decodeError(t, w); er.Code != ErrCodeCreateFailed {
		t.Fatalf("code=%q", er.Code)
	}
}

func TestGetOrder_NotFound(t *testing.T) {
	r := newTestRouter(&fakeOrderSvc{}, &fakeProductSvc{})

	w := doJSON(r, http.MethodGet, "/api/v1/orders/nope", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status=%d", w.Code)
	}
	if er := decodeError(t, w); er.Code != ErrCodeNotFound {
		t.Fatalf("code=%q", er.Code)
	}
}

// ---------- products ----------

func TestCreateProduct(t *testing.T) {
	r := newTestRouter(&fakeOrderSvc{}, &fakeProductSvc{})

	w := doJSON(r, http.MethodPost, "/api/v1/products", `{"name":"Blue pen","price":1.5,"category":"stationery"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}

	w = doJSON(r, http.MethodPost, "/api/v1/products", `{"name":"Blue pen","price":-1}`)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status=%d", w.Code)
	}
	if er := decodeError(t, w); er.Code != ErrCodeInvalidPrice {
		t.Fatalf("code=%q", er.Code)
	}
}

func TestSearchProducts(t *testing.T) {
	ps := &fakeProductSvc{items: []domain.Product{{ID: "p-1", Name: "Blue pen"}}}
	r := newTestRouter(&fakeOrderSvc{}, ps)

	w := doJSON(r, http.MethodGet, "/api/v1/products/search?q=PEN&limit=5", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	var resp SearchProductsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if resp.Count != 1 || resp.Query != "PEN" || resp.Products[0].Name != "Blue pen" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if ps.gotQ != "PEN" || ps.gotN != 5 {
		t.Fatalf("service got q=%q limit=%d", ps.gotQ, ps.gotN)
	}

	// bad limit falls back to the default
	_ = doJSON(r, http.MethodGet, "/api/v1/products/search?q=x&limit=abc", "")
	if ps.gotN != services.DefaultSearchLimit {
		t.Fatalf("limit=%d want default", ps.gotN)
	}
}

func TestSearchProducts_EmptyResultIsArray(t *testing.T) {
	r := newTestRouter(&fakeOrderSvc{}, &fakeProductSvc{})

	w := doJSON(r, http.MethodGet, "/api/v1/products/search?q=zzz", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"products":[]`) {
		t.Fatalf("expected empty array, got %s", w.Body.String())
	}
}

func TestSearchProducts_QueryTooLong(t *testing.T) {
	r := newTestRouter(&fakeOrderSvc{}, &fakeProductSvc{err: services.ErrQueryTooLong})

	w := doJSON(r, http.MethodGet, "/api/v1/products/search?q=x", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status=%d", w.Code)
	}
	if er := decodeError(t, w); er.Code != ErrCodeQueryTooLong {
		t.Fatalf("code=%q", er.Code)
	}
}

func TestSearchProducts_ClientGoneWritesNothing(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var closed bool
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Next()
		closed = middleware.IsClientClosed(c)
	})
	h := New(&fakeOrderSvc{}, &fakeProductSvc{err: context.Canceled})
	r.GET("/search", h.SearchProducts)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/search?q=pen", nil).WithContext(ctx)
	r.ServeHTTP(w, req)

	if !closed {
		t.Fatalf("expected request marked as client-closed")
	}
	if w.Body.Len() != 0 {
		t.Fatalf("expected no body, got %q", w.Body.String())
	}
}
