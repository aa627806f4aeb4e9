package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/adopet/marketchat/internal/model"
	"github.com/adopet/marketchat/internal/repository"
	"github.com/adopet/marketchat/internal/service"
	"github.com/labstack/echo/v4"
	"gorm.io/datatypes"
)

type MessageHandler struct {
	svc service.MessageService
}

func NewMessageHandler(svc service.MessageService) *MessageHandler {
	return &MessageHandler{svc: svc}
}

type MessageResponse struct {
	ID             uint64          `json:"id"`
	ConversationID uint64          `json:"conversationId"`
	SenderUID      string          `json:"senderUid"`
	Content        string          `json:"content"`
	Kind           string          `json:"kind"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	IsRead         bool            `json:"isRead"`
	CreatedAt      string          `json:"createdAt"`
}

type SendMessageRequest struct {
	Content string            `json:"content"`
	Kind    model.MessageKind `json:"kind"`
	Payload json.RawMessage   `json:"payload"`
}

func toMessageResponse(m model.Message) MessageResponse {
	resp := MessageResponse{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderUID:      m.SenderUID,
		Content:        m.Content,
		Kind:           string(m.Kind),
		IsRead:         m.IsRead,
		CreatedAt:      m.CreatedAt.Format(time.RFC3339Nano),
	}
	if len(m.Payload) > 0 {
		resp.Payload = json.RawMessage(m.Payload)
	}
	return resp
}

func (h *MessageHandler) List(c echo.Context) error {
	uid := currentUID(c)
	if uid == "" {
		return unauthorized(c)
	}
	convID, ok := paramID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "invalid conversation id"))
	}
	var opts repository.ListOptions
	limit, err := queryInt(c, "limit", 0)
	if err != nil {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "invalid limit"))
	}
	opts.Limit = limit
	after, err := queryInt(c, "after_id", 0)
	if err != nil || after < 0 {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "invalid after_id"))
	}
	opts.AfterID = uint64(after)

	msgs, err := h.svc.List(c.Request().Context(), convID, uid, opts)
	if err != nil {
		return respondError(c, err)
	}
	resp := make([]MessageResponse, 0, len(msgs))
	for _, m := range msgs {
		resp = append(resp, toMessageResponse(m))
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *MessageHandler) Send(c echo.Context) error {
	uid := currentUID(c)
	if uid == "" {
		return unauthorized(c)
	}
	convID, ok := paramID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "invalid conversation id"))
	}
	var req SendMessageRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "invalid json"))
	}
	in := service.SendInput{ConversationID: convID, SenderUID: uid, Content: req.Content, Kind: req.Kind}
	if len(req.Payload) > 0 && string(req.Payload) != "null" {
		kind := req.Kind
		if kind == "" {
			kind = model.MessageKindText
		}
		p, err := model.DecodePayload(kind, datatypes.JSON(req.Payload))
		if err != nil {
			return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "payload does not match kind"))
		}
		in.Payload = p
	}
	m, err := h.svc.Send(c.Request().Context(), in)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, toMessageResponse(*m))
}

func (h *MessageHandler) MarkRead(c echo.Context) error {
	uid := currentUID(c)
	if uid == "" {
		return unauthorized(c)
	}
	convID, ok := paramID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "invalid conversation id"))
	}
	n, err := h.svc.MarkAsRead(c.Request().Context(), convID, uid)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"status": "ok", "updated": n})
}

func (h *MessageHandler) Unread(c echo.Context) error {
	uid := currentUID(c)
	if uid == "" {
		return unauthorized(c)
	}
	convID, ok := paramID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "invalid conversation id"))
	}
	n, err := h.svc.UnreadCount(c.Request().Context(), convID, uid)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]int64{"unreadCount": n})
}
