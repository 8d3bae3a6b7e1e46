package auth

import (
	"context"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/secure-auth/internal/handler"
	"github.com/jwalitptl/secure-auth/internal/lockout"
	"github.com/jwalitptl/secure-auth/internal/model"
	authService "github.com/jwalitptl/secure-auth/internal/service/auth"
	apperrors "github.com/jwalitptl/secure-auth/pkg/errors"
)

type Service interface {
	Login(ctx context.Context, email, password string) (*authService.LoginResult, error)
	ChangePassword(ctx context.Context, email, current, newPassword string) (*authService.LoginResult, error)
}

type Handler struct {
	svc Service
}

func NewHandler(svc Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	auth := r.Group("/auth")
	{
		auth.POST("/login", h.Login)
		auth.POST("/change-password", h.ChangePassword)
	}
}

func (h *Handler) Login(c *gin.Context) {
	var req model.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	res, err := h.svc.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.respond(c, res)
}

func (h *Handler) ChangePassword(c *gin.Context) {
	var req model.ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	res, err := h.svc.ChangePassword(c.Request.Context(), req.Email, req.CurrentPassword, req.NewPassword)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.respond(c, res)
}

func (h *Handler) respond(c *gin.Context, res *authService.LoginResult) {
	switch res.Outcome {
	case lockout.Success:
		c.JSON(http.StatusOK, handler.NewSuccessResponse(model.LoginResponse{
			Email:        res.Email,
			AuthorizedAt: res.AuthorizedAt,
		}))
	case lockout.AccountLocked:
		appErr := apperrors.AccountLocked()
		secs := int(math.Ceil(res.RetryAfter.Seconds()))
		if secs < 1 {
			secs = 1
		}
		c.Header("Retry-After", strconv.Itoa(secs))
		c.JSON(appErr.StatusCode(), handler.NewErrorResponse(appErr.Message))
	default:
		appErr := apperrors.InvalidCredential()
		if res.RetryAfter > 0 {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(res.RetryAfter.Seconds()))))
		}
		c.JSON(appErr.StatusCode(), handler.NewErrorResponse(appErr.Message))
	}
}

func (h *Handler) fail(c *gin.Context, err error) {
	_ = c.Error(err)
	status, msg := handler.ErrorStatus(err)
	c.JSON(status, handler.NewErrorResponse(msg))
}
