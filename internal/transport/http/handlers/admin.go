package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/arklim/authguard/internal/core/domain"
	"github.com/arklim/authguard/internal/transport/http/middleware"
	"github.com/arklim/authguard/internal/usecase"
)

// AccountAdministrator manages roles and the enabled flag of accounts.
type AccountAdministrator interface {
	Roles() []string
	Account(ctx context.Context, email string) (domain.Account, error)
	AssignRoles(ctx context.Context, actorID, email string, roles []string) (domain.Account, error)
	SetEnabled(ctx context.Context, actorID, email string, enabled bool) (domain.Account, error)
}

// AdminHandler exposes account administration endpoints. Routes must be guarded by RequireRole.
type AdminHandler struct {
	admin AccountAdministrator
}

// NewAdminHandler constructs AdminHandler.
func NewAdminHandler(admin AccountAdministrator) *AdminHandler {
	return &AdminHandler{admin: admin}
}

// RegisterRoutes binds the administration routes.
func (h *AdminHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/roles", h.ListRoles)
	r.GET("/accounts/:email", h.GetAccount)
	r.PUT("/accounts/:email/roles", h.AssignRoles)
	r.PUT("/accounts/:email/enabled", h.SetEnabled)
}

func (h *AdminHandler) ListRoles(c *gin.Context) {
	c.JSON(http.StatusOK, RolesResponse{Roles: h.admin.Roles()})
}

func (h *AdminHandler) GetAccount(c *gin.Context) {
	account, err := h.admin.Account(c.Request.Context(), c.Param("email"))
	if err != nil {
		respondAdminError(c, err)
		return
	}
	c.JSON(http.StatusOK, newAccountSummary(account))
}

// AssignRoles replaces the account roles. Tokens carrying a revoked role stop working immediately.
func (h *AdminHandler) AssignRoles(c *gin.Context) {
	actorID, ok := middleware.GetAuthenticatedAccountID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	var req AssignRolesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid roles payload"))
		return
	}

	account, err := h.admin.AssignRoles(c.Request.Context(), actorID, c.Param("email"), req.Roles)
	if err != nil {
		respondAdminError(c, err)
		return
	}
	c.JSON(http.StatusOK, newAccountSummary(account))
}

func (h *AdminHandler) SetEnabled(c *gin.Context) {
	actorID, ok := middleware.GetAuthenticatedAccountID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	var req SetEnabledRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "enabled flag is required"))
		return
	}

	account, err := h.admin.SetEnabled(c.Request.Context(), actorID, c.Param("email"), *req.Enabled)
	if err != nil {
		respondAdminError(c, err)
		return
	}
	c.JSON(http.StatusOK, newAccountSummary(account))
}

func respondAdminError(c *gin.Context, err error) {
	RespondWithMappedError(c, err, []ErrorCase{
		{Err: usecase.ErrInvalidInput, Status: http.StatusBadRequest, Message: "account email is required"},
		{Err: usecase.ErrUnknownRole, Status: http.StatusBadRequest, Message: "unknown role"},
		{Err: usecase.ErrAccountNotFound, Status: http.StatusNotFound, Message: "account not found"},
		{Err: usecase.ErrSelfModification, Status: http.StatusConflict, Message: "administrators cannot demote or disable themselves"},
	}, http.StatusInternalServerError, "account administration failed")
}
