package handler

import (
	"net/http"

	"github.com/adopet/marketchat/internal/service"
	"github.com/labstack/echo/v4"
)

// UserHandler serves the public display name chat headers show for the counterparty.
type UserHandler struct {
	names service.Directory
}

func NewUserHandler(names service.Directory) *UserHandler {
	return &UserHandler{names: names}
}

type PublicUserResponse struct {
	UID         string `json:"uid"`
	DisplayName string `json:"displayName"`
}

func (h *UserHandler) GetPublic(c echo.Context) error {
	uid := c.Param("uid")
	if uid == "" {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "invalid uid"))
	}
	name := h.names.DisplayName(c.Request().Context(), uid)
	if name == "" {
		return c.JSON(http.StatusNotFound, NewErrorResponse("not_found", "user not found"))
	}
	return c.JSON(http.StatusOK, PublicUserResponse{UID: uid, DisplayName: name})
}
