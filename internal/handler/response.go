package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/adopet/marketchat/internal/reqctx"
	"github.com/adopet/marketchat/internal/service"
	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
)

type errorPayload struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

type ErrorResponse struct {
	Error errorPayload `json:"error"`
}

func NewErrorResponse(code, message string) ErrorResponse {
	return ErrorResponse{
		Error: errorPayload{
			Code:    code,
			Message: message,
		},
	}
}

// respondError maps service errors onto status codes. Unknown errors are logged and
// reported as internal without leaking their text.
func respondError(c echo.Context, err error) error {
	var ge *service.GatewayError
	switch {
	case errors.Is(err, service.ErrValidation):
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", detail(err, service.ErrValidation)))
	case errors.Is(err, service.ErrForbidden):
		return c.JSON(http.StatusForbidden, NewErrorResponse("forbidden", detail(err, service.ErrForbidden)))
	case errors.Is(err, service.ErrNotFound):
		return c.JSON(http.StatusNotFound, NewErrorResponse("not_found", detail(err, service.ErrNotFound)))
	case errors.Is(err, service.ErrNotPaid):
		resp := NewErrorResponse("payment_pending", "payment not received yet, try again later")
		resp.Error.Retryable = true
		return c.JSON(http.StatusConflict, resp)
	case errors.Is(err, service.ErrInvalidState):
		return c.JSON(http.StatusConflict, NewErrorResponse("invalid_state", detail(err, service.ErrInvalidState)))
	case errors.As(err, &ge):
		if ge.Retryable {
			resp := NewErrorResponse("gateway_unavailable", "payment provider is unavailable, try again")
			resp.Error.Retryable = true
			return c.JSON(http.StatusServiceUnavailable, resp)
		}
		return c.JSON(http.StatusBadGateway, NewErrorResponse("gateway_error", "payment provider rejected the request"))
	}
	log.Errorf("[http] rid=%s path=%s stage=internal err=%v", reqctx.RID(c.Request().Context()), c.Path(), err)
	return c.JSON(http.StatusInternalServerError, NewErrorResponse("internal_error", "internal error"))
}

// detail strips the sentinel prefix added by fmt.Errorf("%w: ...").
func detail(err, sentinel error) string {
	msg := err.Error()
	if rest, ok := strings.CutPrefix(msg, sentinel.Error()+": "); ok {
		return rest
	}
	return msg
}

func currentUID(c echo.Context) string {
	uid, _ := c.Get("uid").(string)
	return uid
}

func unauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, NewErrorResponse("unauthorized", "missing uid"))
}

func paramID(c echo.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

func queryInt(c echo.Context, name string, def int) (int, error) {
	s := c.QueryParam(name)
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}
