package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// HealthHandler reports basic liveness for the service.
func HealthHandler(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}
