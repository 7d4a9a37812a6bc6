// Package auth provides bearer-token validation for the HTTP API.
package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/minhnh/ordersync/pkg/types"
	"github.com/sirupsen/logrus"
)

// Validator handles API token validation
type Validator struct {
	apiTokens map[string]bool
}

// NewValidator creates a validator for the given tokens. With no tokens
// configured the API is open (development mode).
func NewValidator(tokens []string) *Validator {
	v := &Validator{apiTokens: make(map[string]bool)}
	for _, token := range tokens {
		if token != "" {
			v.apiTokens[token] = true
		}
	}
	if len(v.apiTokens) == 0 {
		logrus.Warn("No API tokens configured, allowing unauthenticated access")
	}
	return v
}

// Middleware returns a gin middleware enforcing bearer-token auth on every
// route except health and metrics probes.
func (v *Validator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(v.apiTokens) == 0 {
			c.Next()
			return
		}

		switch c.Request.URL.Path {
		case "/health", "/metrics":
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		token := strings.TrimPrefix(header, "Bearer ")
		if header == "" || token == header || !v.apiTokens[token] {
			c.AbortWithStatusJSON(http.StatusUnauthorized, types.ErrorResponse{
				Error:   "unauthorized",
				Message: "valid bearer token required",
				Code:    401,
			})
			return
		}

		c.Next()
	}
}
