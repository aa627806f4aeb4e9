package handler

import (
	"net/http"
	"time"

	"github.com/adopet/marketchat/internal/model"
	"github.com/adopet/marketchat/internal/service"
	"github.com/labstack/echo/v4"
)

// ItemHandler exposes the read-only catalog view chat clients need to render item headers.
type ItemHandler struct {
	catalog service.ItemCatalog
}

func NewItemHandler(catalog service.ItemCatalog) *ItemHandler {
	return &ItemHandler{catalog: catalog}
}

type ItemResponse struct {
	ID          uint64  `json:"id"`
	SellerUID   string  `json:"sellerUid"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Price       uint    `json:"price"`
	ImageURL    *string `json:"imageUrl,omitempty"`
	Category    string  `json:"category,omitempty"`
	CreatedAt   string  `json:"createdAt"`
}

func toItemResponse(it *model.Item) ItemResponse {
	return ItemResponse{
		ID:          it.ID,
		SellerUID:   it.SellerUID,
		Title:       it.Title,
		Description: it.Description,
		Price:       it.Price,
		ImageURL:    it.ImageURL,
		Category:    it.CategorySlug,
		CreatedAt:   it.CreatedAt.Format(time.RFC3339),
	}
}

func (h *ItemHandler) Get(c echo.Context) error {
	id, ok := paramID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "invalid id"))
	}
	it, err := h.catalog.Get(c.Request().Context(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, toItemResponse(it))
}
