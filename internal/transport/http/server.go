package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/careline/careline-server/internal/auth"
	"github.com/careline/careline-server/internal/chat"
	"github.com/careline/careline-server/internal/config"
	"github.com/careline/careline-server/internal/relay"
	"github.com/careline/careline-server/internal/store"
)

// NewServer builds the HTTP server with all routes mounted.
func NewServer(
	cfg *config.Config,
	authService *auth.Service,
	chatService *chat.Service,
	gateway *relay.Gateway,
	st store.Store,
	logger *zerolog.Logger,
) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(LoggerMiddleware(logger), gin.Recovery())

	router.GET("/health", healthHandler)

	authHandlers := NewAuthHandlers(authService, logger)
	userHandlers := NewUserHandlers(st, logger)
	chatHandlers := NewChatHandlers(chatService, logger)
	wsHandler := NewWSHandler(gateway, cfg.WSFrameLimit, logger)

	api := router.Group("/api")
	api.POST("/register", authHandlers.Register)
	api.POST("/login", authHandlers.Login)

	authed := api.Group("")
	authed.Use(AuthMiddleware(authService, logger))
	{
		authed.GET("/users/doctors", userHandlers.ListDoctors)
		authed.GET("/users/patients", userHandlers.ListPatients)

		authed.GET("/chat", chatHandlers.ListConversations)
		authed.GET("/chat/with-patient/:patientID", chatHandlers.OpenWithPatient)
		authed.POST("/chat/with-doctor", chatHandlers.OpenWithDoctor)
		authed.GET("/chat/:conversationID/messages", chatHandlers.ListMessages)
		authed.POST("/chat/:conversationID/messages", chatHandlers.SendMessage)
		authed.PUT("/chat/:conversationID/read", chatHandlers.MarkRead)
	}

	ws := router.Group("/ws")
	ws.Use(AuthMiddleware(authService, logger))
	ws.GET("", wsHandler.Handle)

	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func healthHandler(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}
