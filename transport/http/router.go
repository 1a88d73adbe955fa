package http

import (
	"github.com/gin-gonic/gin"
	"github.com/layer-3/relayauth/ports"
	"github.com/layer-3/relayauth/service"
)

// SetupRouter sets up the Gin router. A nil tokenizer leaves the control
// routes open.
func SetupRouter(manager *service.AuthManager, tokenizer ports.ControlTokenizer) *gin.Engine {
	router := gin.Default()

	handlers := NewAuthHandlers(manager)

	auth := router.Group("/auth")
	if tokenizer != nil {
		auth.Use(AuthMiddleware(tokenizer))
	}
	{
		auth.GET("/relays", handlers.Relays)
		auth.GET("/relay", handlers.Relay)
		auth.GET("/pending", handlers.Pending)
		auth.POST("/authenticate", handlers.Authenticate)
		auth.POST("/retry", handlers.Retry)
		auth.POST("/reject", handlers.Reject)
		auth.DELETE("/rejections", handlers.ClearRejections)
		auth.GET("/preferences", handlers.Preferences)
		auth.PUT("/preferences", handlers.SetPreference)
		auth.DELETE("/preferences", handlers.RemovePreference)
		auth.GET("/signer", handlers.Signer)
		auth.PUT("/signer", handlers.SetSigner)
		auth.DELETE("/signer", handlers.ClearSigner)
	}

	return router
}
