package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/arcforge/loreweaver/api/handlers"
)

// NewServer builds the operator console HTTP server. The caller owns its
// lifecycle (ListenAndServe / Shutdown).
func NewServer(port int, h *handlers.Handlers) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	SetupRoutes(router, h)

	return &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: router,
	}
}
