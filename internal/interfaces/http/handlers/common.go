// Package handlers holds the gin HTTP handlers for the engine's API surface.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	apperrors "github.com/dealeredge/visibility-engine/pkg/errors"
)

// ErrorResponse is the standard error body.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeError maps an application error onto its HTTP status. Unrecognized
// errors are masked as a plain 500.
func writeError(c *gin.Context, err error) {
	code := apperrors.GetCode(err)
	status, ok := apperrors.ErrorCodeHTTPStatus[code]
	if !ok {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Code:    string(apperrors.ErrCodeInternal),
			Message: "internal server error",
		})
		return
	}
	c.JSON(status, ErrorResponse{Code: string(code), Message: err.Error()})
}

// pathUUID parses a UUID path parameter, answering 400 itself on failure.
func pathUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    string(apperrors.CodeInvalidParam),
			Message: "invalid " + name + ": must be a UUID",
		})
		return uuid.Nil, false
	}
	return id, true
}
