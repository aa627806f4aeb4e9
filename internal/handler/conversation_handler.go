package handler

import (
	"net/http"
	"time"

	"github.com/adopet/marketchat/internal/model"
	"github.com/adopet/marketchat/internal/service"
	"github.com/labstack/echo/v4"
)

type ConversationHandler struct {
	svc service.ConversationService
}

func NewConversationHandler(svc service.ConversationService) *ConversationHandler {
	return &ConversationHandler{svc: svc}
}

type ConversationResponse struct {
	ConversationID uint64 `json:"conversationId"`
	ItemID         uint64 `json:"itemId"`
	SellerUID      string `json:"sellerUid"`
	BuyerUID       string `json:"buyerUid"`
	IsActive       bool   `json:"isActive"`
	UnreadCount    int64  `json:"unreadCount"`
	HasUnread      bool   `json:"hasUnread,omitempty"`
	LastMessageAt  string `json:"lastMessageAt"`
	CreatedAt      string `json:"createdAt"`
}

type StartConversationRequest struct {
	ItemID    uint64 `json:"itemId"`
	BuyerUID  string `json:"buyerUid"`
	SellerUID string `json:"sellerUid"`
}

func toConversationResponse(cv *model.Conversation) ConversationResponse {
	return ConversationResponse{
		ConversationID: cv.ID,
		ItemID:         cv.ItemID,
		SellerUID:      cv.SellerUID,
		BuyerUID:       cv.BuyerUID,
		IsActive:       cv.IsActive,
		UnreadCount:    cv.UnreadCount,
		HasUnread:      cv.UnreadCount > 0,
		LastMessageAt:  cv.LastMessageAt.Format(time.RFC3339),
		CreatedAt:      cv.CreatedAt.Format(time.RFC3339),
	}
}

// ExpressInterest is the "like" button on an item: it opens the chat with the seller.
func (h *ConversationHandler) ExpressInterest(c echo.Context) error {
	uid := currentUID(c)
	if uid == "" {
		return unauthorized(c)
	}
	itemID, ok := paramID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "invalid item id"))
	}
	cv, err := h.svc.ExpressInterest(c.Request().Context(), itemID, uid)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, toConversationResponse(cv))
}

func (h *ConversationHandler) Start(c echo.Context) error {
	uid := currentUID(c)
	if uid == "" {
		return unauthorized(c)
	}
	var req StartConversationRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "invalid json"))
	}
	cv, err := h.svc.Start(c.Request().Context(), uid, req.ItemID, req.BuyerUID, req.SellerUID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, toConversationResponse(cv))
}

func (h *ConversationHandler) List(c echo.Context) error {
	uid := currentUID(c)
	if uid == "" {
		return unauthorized(c)
	}
	convs, err := h.svc.List(c.Request().Context(), uid)
	if err != nil {
		return respondError(c, err)
	}
	resp := make([]ConversationResponse, 0, len(convs))
	for i := range convs {
		resp = append(resp, toConversationResponse(&convs[i]))
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *ConversationHandler) Get(c echo.Context) error {
	uid := currentUID(c)
	if uid == "" {
		return unauthorized(c)
	}
	convID, ok := paramID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "invalid conversation id"))
	}
	cv, err := h.svc.Get(c.Request().Context(), convID, uid)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, toConversationResponse(cv))
}

func (h *ConversationHandler) Archive(c echo.Context) error {
	uid := currentUID(c)
	if uid == "" {
		return unauthorized(c)
	}
	convID, ok := paramID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "invalid conversation id"))
	}
	if err := h.svc.Archive(c.Request().Context(), convID, uid); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
