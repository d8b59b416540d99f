package api

import (
	"github.com/gin-gonic/gin"

	"github.com/arcforge/loreweaver/api/handlers"
)

// SetupRoutes initializes all API endpoints.
func SetupRoutes(router *gin.Engine, h *handlers.Handlers) {
	api := router.Group("/api")
	{
		api.POST("/posts", h.ForcePost)
		api.POST("/branch", h.ForceBranch)
		api.POST("/replies", h.ForceReply)
		api.GET("/character", h.GetActiveCharacter)
		api.GET("/character/versions/:version", h.GetCharacterVersion)
		api.GET("/evolution", h.GetEvolutionState)
		api.GET("/posts", h.ListPosts)
		api.GET("/stats/:version", h.GetStats)
		api.GET("/events", h.StreamEvents)
	}
}
