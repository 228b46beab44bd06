package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v5"

	"gate-checkin/internal/status"
	"gate-checkin/models"
	"gate-checkin/security"
)

type AuthHandler struct {
	ledger Ledger
	issuer *security.TokenIssuer
}

func NewAuthHandler(ledger Ledger, issuer *security.TokenIssuer) *AuthHandler {
	return &AuthHandler{ledger: ledger, issuer: issuer}
}

// Login handles POST /auth/login
func (h *AuthHandler) Login(c echo.Context) error {
	var req models.LoginRequest
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.Email) == "" || req.Password == "" {
		return badRequest(c, "Email and password are required")
	}

	op, err := h.ledger.Authenticate(c.Request().Context(), req.Email, req.Password)
	if errors.Is(err, status.ErrInvalidCredentials) {
		return c.JSON(http.StatusUnauthorized, models.ErrorBody{Error: "invalid credentials", Code: models.CodeUnauthorized})
	}
	if err != nil {
		slog.Error("login", "error", err)
		return c.JSON(http.StatusInternalServerError, models.ErrorBody{Error: "Login failed", Code: models.CodeInternal})
	}

	token, err := h.issuer.Issue(op)
	if err != nil {
		slog.Error("issue token", "error", err)
		return c.JSON(http.StatusInternalServerError, models.ErrorBody{Error: "Login failed", Code: models.CodeInternal})
	}
	slog.Info("operator signed in", "user_id", op.ID, "role", op.Role)
	return c.JSON(http.StatusOK, models.LoginResponse{Token: token, Name: op.Name, Role: op.Role})
}
