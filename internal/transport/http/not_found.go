package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// NotFoundHandler returns a JSON 404 response for unknown routes.
func NotFoundHandler(c *gin.Context) {
	writeError(c, http.StatusNotFound, codeNotFound, "not found")
}

func MethodNotAllowedHandler(c *gin.Context) {
	writeError(c, http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed")
}
