package httpapi

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/gradski-asistent/backend/internal/chat"
	"github.com/gradski-asistent/backend/internal/config"
	"github.com/gradski-asistent/backend/internal/escalate"
	"github.com/gradski-asistent/backend/internal/http/handlers"
	"github.com/gradski-asistent/backend/internal/http/middleware"
	"github.com/gradski-asistent/backend/internal/retrieval"

	_ "github.com/gradski-asistent/backend/docs"
)

func Router(cfg config.Config, store handlers.ReadStore, orchestrator *chat.Orchestrator, escalation *escalate.Service, autosave *escalate.Autosaver, retriever retrieval.Retriever, logger zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Admin-Key", "X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if cfg.CORSAllowed == "*" {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = []string{cfg.CORSAllowed}
	}
	r.Use(cors.New(corsCfg))

	h := &handlers.Handler{
		Store:        store,
		Orchestrator: orchestrator,
		Escalation:   escalation,
		Autosave:     autosave,
		Retriever:    retriever,
		Validator:    validator.New(),
		Logger:       logger,
		AdminKey:     cfg.AdminKey,
	}

	r.GET("/healthz", h.Healthz)

	api := r.Group("/api")
	{
		api.POST("/chat", h.Chat)
		api.POST("/intake", h.Intake)
		api.GET("/docs/search", h.DocsSearch)
	}

	admin := api.Group("")
	admin.Use(middleware.AdminKey(cfg.AdminKey))
	{
		admin.GET("/tickets", h.TicketsList)
		admin.GET("/tickets/:city/:conversation", h.TicketDetails)
		admin.PATCH("/tickets/:city/:conversation", h.TicketAutosave)
		admin.POST("/tickets/:city/:conversation/close", h.TicketClose)
		admin.POST("/tickets/:city/:conversation/reopen", h.TicketReopen)
		admin.GET("/tickets/:city/:conversation/fallbacks", h.TicketFallbacks)
	}

	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	return r
}
