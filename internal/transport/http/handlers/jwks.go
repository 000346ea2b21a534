package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const jwksCacheControl = "public, max-age=3600"

// KeySetRenderer renders the public signing keys as a JWKS document.
type KeySetRenderer interface {
	JWKS() ([]byte, error)
}

// JWKSHandler provides the JSON Web Key Set relying services use to verify access tokens.
type JWKSHandler struct {
	keys KeySetRenderer
}

// NewJWKSHandler constructs a JWKS handler backed by the supplied renderer.
func NewJWKSHandler(keys KeySetRenderer) *JWKSHandler {
	return &JWKSHandler{keys: keys}
}

// Keys serves the JSON Web Key Set used to verify access tokens.
func (h *JWKSHandler) Keys(c *gin.Context) {
	if h == nil || h.keys == nil {
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse(c, "jwks not available"))
		return
	}

	payload, err := h.keys.JWKS()
	if err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to render jwks"))
		return
	}

	c.Header("Cache-Control", jwksCacheControl)
	c.Data(http.StatusOK, "application/json", payload)
}
