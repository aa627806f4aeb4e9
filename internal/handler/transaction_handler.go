package handler

import (
	"net/http"
	"time"

	"github.com/adopet/marketchat/internal/model"
	"github.com/adopet/marketchat/internal/reqctx"
	"github.com/adopet/marketchat/internal/service"
	"github.com/labstack/echo/v4"
)

// proof uploads are capped again in the service; this bounds the multipart parse
const maxProofFormBytes = 12 << 20

type TransactionHandler struct {
	svc service.TransactionService
}

func NewTransactionHandler(svc service.TransactionService) *TransactionHandler {
	return &TransactionHandler{svc: svc}
}

type TransactionResponse struct {
	ID             uint64  `json:"id"`
	ConversationID uint64  `json:"conversationId"`
	ItemID         uint64  `json:"itemId"`
	SellerUID      string  `json:"sellerUid"`
	BuyerUID       string  `json:"buyerUid"`
	Code           *string `json:"code,omitempty"`
	Amount         int64   `json:"amount"`
	Status         string  `json:"status"`
	PaymentMethod  string  `json:"paymentMethod,omitempty"`
	ProofURL       *string `json:"proofUrl,omitempty"`
	ConfirmedBy    *string `json:"confirmedBy,omitempty"`
	CompletedAt    *string `json:"completedAt,omitempty"`
	CancelledAt    *string `json:"cancelledAt,omitempty"`
	CreatedAt      string  `json:"createdAt"`
}

type PaymentLinkResponse struct {
	LinkID    string  `json:"linkId"`
	URL       string  `json:"url"`
	QRPayload string  `json:"qrPayload,omitempty"`
	Amount    int64   `json:"amount"`
	Status    string  `json:"status"`
	ExpiresAt *string `json:"expiresAt,omitempty"`
}

type CreateTransactionRequest struct {
	Amount int64 `json:"amount"`
}

type ConfirmGatewayRequest struct {
	LinkID string `json:"linkId"`
}

type ConfirmManualRequest struct {
	ProofURL *string `json:"proofUrl"`
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}

func toTransactionResponse(t *model.Transaction) TransactionResponse {
	return TransactionResponse{
		ID:             t.ID,
		ConversationID: t.ConversationID,
		ItemID:         t.ItemID,
		SellerUID:      t.SellerUID,
		BuyerUID:       t.BuyerUID,
		Code:           t.Code,
		Amount:         t.Amount,
		Status:         string(t.Status),
		PaymentMethod:  t.PaymentMethod,
		ProofURL:       t.ProofURL,
		ConfirmedBy:    t.ConfirmedBy,
		CompletedAt:    formatTime(t.CompletedAt),
		CancelledAt:    formatTime(t.CancelledAt),
		CreatedAt:      t.CreatedAt.Format(time.RFC3339),
	}
}

func toPaymentLinkResponse(l *model.PaymentLink) PaymentLinkResponse {
	return PaymentLinkResponse{
		LinkID:    l.LinkID,
		URL:       l.URL,
		QRPayload: l.QRPayload,
		Amount:    l.Amount,
		Status:    string(l.Status),
		ExpiresAt: formatTime(l.ExpiresAt),
	}
}

func (h *TransactionHandler) Create(c echo.Context) error {
	uid := currentUID(c)
	if uid == "" {
		return unauthorized(c)
	}
	convID, ok := paramID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "invalid conversation id"))
	}
	var req CreateTransactionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "invalid json"))
	}
	t, err := h.svc.Create(c.Request().Context(), convID, uid, req.Amount)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, toTransactionResponse(t))
}

func (h *TransactionHandler) ListForConversation(c echo.Context) error {
	uid := currentUID(c)
	if uid == "" {
		return unauthorized(c)
	}
	convID, ok := paramID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "invalid conversation id"))
	}
	list, err := h.svc.ListForConversation(c.Request().Context(), convID, uid)
	if err != nil {
		return respondError(c, err)
	}
	resp := make([]TransactionResponse, 0, len(list))
	for i := range list {
		resp = append(resp, toTransactionResponse(&list[i]))
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *TransactionHandler) Get(c echo.Context) error {
	uid := currentUID(c)
	if uid == "" {
		return unauthorized(c)
	}
	txID, ok := paramID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "invalid transaction id"))
	}
	t, err := h.svc.Get(c.Request().Context(), txID, uid)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, toTransactionResponse(t))
}

func (h *TransactionHandler) PaymentLink(c echo.Context) error {
	uid := currentUID(c)
	if uid == "" {
		return unauthorized(c)
	}
	txID, ok := paramID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "invalid transaction id"))
	}
	ctx := reqctx.WithTransactionID(c.Request().Context(), txID)
	link, err := h.svc.RequestPaymentLink(ctx, txID, uid)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, toPaymentLinkResponse(link))
}

func (h *TransactionHandler) ConfirmGateway(c echo.Context) error {
	uid := currentUID(c)
	if uid == "" {
		return unauthorized(c)
	}
	txID, ok := paramID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "invalid transaction id"))
	}
	var req ConfirmGatewayRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "invalid json"))
	}
	ctx := reqctx.WithTransactionID(c.Request().Context(), txID)
	t, err := h.svc.ConfirmWithGateway(ctx, txID, req.LinkID, uid)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, toTransactionResponse(t))
}

func (h *TransactionHandler) ConfirmManual(c echo.Context) error {
	uid := currentUID(c)
	if uid == "" {
		return unauthorized(c)
	}
	txID, ok := paramID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "invalid transaction id"))
	}
	var req ConfirmManualRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "invalid json"))
	}
	t, err := h.svc.ConfirmManually(c.Request().Context(), txID, uid, req.ProofURL)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, toTransactionResponse(t))
}

func (h *TransactionHandler) Cancel(c echo.Context) error {
	uid := currentUID(c)
	if uid == "" {
		return unauthorized(c)
	}
	txID, ok := paramID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "invalid transaction id"))
	}
	t, err := h.svc.Cancel(c.Request().Context(), txID, uid)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, toTransactionResponse(t))
}

// UploadProof accepts a multipart "file" field and returns the stored URL, which the
// buyer then passes to confirm-manual.
func (h *TransactionHandler) UploadProof(c echo.Context) error {
	uid := currentUID(c)
	if uid == "" {
		return unauthorized(c)
	}
	txID, ok := paramID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "invalid transaction id"))
	}
	c.Request().Body = http.MaxBytesReader(c.Response(), c.Request().Body, maxProofFormBytes)
	fh, err := c.FormFile("file")
	if err != nil {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "file is required"))
	}
	f, err := fh.Open()
	if err != nil {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "unreadable file"))
	}
	defer f.Close()
	url, err := h.svc.UploadProof(c.Request().Context(), txID, uid, fh.Filename, fh.Header.Get("Content-Type"), f)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, map[string]string{"proofUrl": url})
}
