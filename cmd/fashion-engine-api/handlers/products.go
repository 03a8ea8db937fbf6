package handlers

import (
	"context"
	"net/http"

	"github.com/spherical-ai/spherical/libs/fashion-engine/internal/catalog"
	"github.com/spherical-ai/spherical/libs/fashion-engine/internal/observability"
	"github.com/spherical-ai/spherical/libs/fashion-engine/internal/storage"
)

// Browser lists the products of a category across sources.
type Browser interface {
	Browse(ctx context.Context, sources []string, category string) ([]storage.Product, error)
}

// ProductsHandler handles category browse requests.
type ProductsHandler struct {
	logger  *observability.Logger
	browser Browser
}

// NewProductsHandler creates a new products handler.
func NewProductsHandler(logger *observability.Logger, browser Browser) *ProductsHandler {
	return &ProductsHandler{logger: logger, browser: browser}
}

// List handles GET /products?tables=a,b&category=X.
func (h *ProductsHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := h.logger.WithContext(ctx)

	tables := r.URL.Query().Get("tables")
	category := r.URL.Query().Get("category")
	if tables == "" || category == "" {
		writeError(w, http.StatusBadRequest, "browse failed", "tables and category are required")
		return
	}

	products, err := h.browser.Browse(ctx, catalog.SplitSources(tables), category)
	if err != nil {
		writeFailure(w, log, "browse", err)
		return
	}

	writeJSON(w, log, products)
}
