// Product HTTP handlers.
//
//   - POST /api/v1/products         (create; guarded by Idempotency-Key)
//   - GET  /api/v1/products/search  (case-insensitive substring search)
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-idempotent-orders/internal/domain"
	"github.com/tbourn/go-idempotent-orders/internal/http/middleware"
	"github.com/tbourn/go-idempotent-orders/internal/services"
	"github.com/tbourn/go-idempotent-orders/internal/utils"
)

// CreateProductRequest is the JSON payload for adding a catalogue entry.
type CreateProductRequest struct {
	Name     string  `json:"name" binding:"required" example:"Blue pen"`
	Price    float64 `json:"price" example:"1.5"`
	Category string  `json:"category" example:"stationery"`
}

// SearchProductsResponse wraps search results.
type SearchProductsResponse struct {
	Query    string           `json:"query"`
	Count    int              `json:"count"`
	Products []domain.Product `json:"products"`
}

// CreateProduct godoc
// @ID          createProduct
// @Summary     Add a product
// @Tags        Products
// @Accept      json
// @Produce     json
// @Param       Idempotency-Key  header  string                         true  "Client-chosen key for the write"
// @Param       body             body    handlers.CreateProductRequest  true  "Product payload"
// @Success     201  {object}  domain.Product
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     422  {object}  handlers.ErrorResponse
// @Router      /products [post]
func (h *Handlers) CreateProduct(c *gin.Context) {
	var req CreateProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	p, err := h.products.Create(c.Request.Context(), req.Name, req.Price, req.Category)
	switch {
	case err == nil:
		ok(c, http.StatusCreated, p)
	case clientGone(c, err):
	case errors.Is(err, services.ErrInvalidName):
		fail(c, http.StatusUnprocessableEntity, ErrCodeInvalidName, err.Error())
	case errors.Is(err, services.ErrInvalidPrice):
		fail(c, http.StatusUnprocessableEntity, ErrCodeInvalidPrice, err.Error())
	default:
		fail(c, http.StatusInternalServerError, ErrCodeCreateFailed, "could not create product")
	}
}

// SearchProducts godoc
// @ID          searchProducts
// @Summary     Search products by name
// @Description Case-insensitive substring match. If the client disconnects the query is cancelled and no response is sent.
// @Tags        Products
// @Produce     json
// @Param       q      query  string  false  "Search term"
// @Param       limit  query  int     false  "Max results"  minimum(1) maximum(100) default(20)
// @Success     200  {object}  handlers.SearchProductsResponse
// @Failure     400  {object}  handlers.ErrorResponse
// @Router      /products/search [get]
func (h *Handlers) SearchProducts(c *gin.Context) {
	q := c.Query("q")
	limit := utils.AtoiDefault(c.Query("limit"), services.DefaultSearchLimit)

	items, err := h.products.Search(c.Request.Context(), q, limit)
	switch {
	case err == nil:
		if items == nil {
			items = []domain.Product{}
		}
		ok(c, http.StatusOK, SearchProductsResponse{Query: q, Count: len(items), Products: items})
	case clientGone(c, err):
		middleware.LoggerFrom(c).Debug().Str("query", q).Msg("search abandoned by client")
	case errors.Is(err, services.ErrQueryTooLong):
		fail(c, http.StatusBadRequest, ErrCodeQueryTooLong, err.Error())
	default:
		fail(c, http.StatusInternalServerError, ErrCodeSearchFailed, "search failed")
	}
}
