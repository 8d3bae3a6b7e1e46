package handler

import (
	"errors"
	"net/http"

	apperrors "github.com/jwalitptl/secure-auth/pkg/errors"
)

type Response struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func NewSuccessResponse(data interface{}) *Response {
	return &Response{
		Status: "success",
		Data:   data,
	}
}

func NewErrorResponse(message string) *Response {
	return &Response{
		Status:  "error",
		Message: message,
	}
}

// ErrorStatus maps an error onto an HTTP status and a message safe to show
// to clients.
func ErrorStatus(err error) (int, string) {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		if appErr.Code == apperrors.ErrInternal || appErr.Code == apperrors.ErrConfiguration {
			return http.StatusInternalServerError, "internal server error"
		}
		return appErr.StatusCode(), appErr.Message
	}
	return http.StatusInternalServerError, "internal server error"
}
