package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cimillas/ticket-ledger/internal/auth"
)

const ctxPrincipal = "principal"

// TokenParser turns a bearer token into the caller's identity.
type TokenParser interface {
	Parse(raw string) (auth.Principal, error)
}

// Authenticate resolves the bearer token, if any, into a principal. Requests without an Authorization
// header continue anonymously; a malformed or invalid token is rejected outright. A nil parser rejects
// every token.
func Authenticate(tokens TokenParser) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.Next()
			return
		}

		scheme, raw, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(raw) == "" {
			writeError(c, http.StatusUnauthorized, codeUnauthenticated, "authorization header must be a bearer token")
			return
		}

		if tokens == nil {
			c.Header("WWW-Authenticate", `Bearer error="invalid_token"`)
			writeError(c, http.StatusUnauthorized, codeUnauthenticated, "invalid token")
			return
		}
		principal, err := tokens.Parse(strings.TrimSpace(raw))
		if err != nil {
			c.Header("WWW-Authenticate", `Bearer error="invalid_token"`)
			writeError(c, http.StatusUnauthorized, codeUnauthenticated, "invalid token")
			return
		}
		c.Set(ctxPrincipal, principal)
		c.Next()
	}
}

// RequireSubject rejects anonymous requests.
func RequireSubject() gin.HandlerFunc {
	return func(c *gin.Context) {
		if principalFrom(c).Anonymous() {
			c.Header("WWW-Authenticate", "Bearer")
			writeError(c, http.StatusUnauthorized, codeUnauthenticated, "authentication required")
			return
		}
		c.Next()
	}
}

func principalFrom(c *gin.Context) auth.Principal {
	p, _ := c.Get(ctxPrincipal)
	principal, _ := p.(auth.Principal)
	return principal
}
