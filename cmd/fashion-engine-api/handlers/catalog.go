package handlers

import (
	"net/http"

	"github.com/spherical-ai/spherical/libs/fashion-engine/internal/catalog"
	"github.com/spherical-ai/spherical/libs/fashion-engine/internal/observability"
)

// CategoryDTO is one canonical category and the labels it matches.
type CategoryDTO struct {
	Name    string   `json:"name"`
	Aliases []string `json:"aliases"`
}

// CatalogHandler serves the static category and source tables.
type CatalogHandler struct {
	logger    *observability.Logger
	aliases   *catalog.AliasTable
	whitelist *catalog.Whitelist
}

// NewCatalogHandler creates a new catalog handler.
func NewCatalogHandler(logger *observability.Logger, aliases *catalog.AliasTable, whitelist *catalog.Whitelist) *CatalogHandler {
	return &CatalogHandler{logger: logger, aliases: aliases, whitelist: whitelist}
}

// Categories handles GET /categories.
func (h *CatalogHandler) Categories(w http.ResponseWriter, r *http.Request) {
	entries := h.aliases.Entries()
	out := make([]CategoryDTO, len(entries))
	for i, e := range entries {
		out[i] = CategoryDTO{Name: e.Category, Aliases: e.Aliases}
	}
	writeJSON(w, h.logger, out)
}

// Sources handles GET /sources.
func (h *CatalogHandler) Sources(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.logger, h.whitelist.Sources())
}
