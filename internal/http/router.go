// Package http assembles the gin router and its handler/middleware wiring.
package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/sourcequill/backend/internal/http/handlers"
	httpMW "github.com/sourcequill/backend/internal/http/middleware"
	"github.com/sourcequill/backend/internal/observability"
	"github.com/sourcequill/backend/internal/platform/logger"
)

type RouterConfig struct {
	Log *logger.Logger

	AuthHandler         *httpH.AuthHandler
	AuthMiddleware      *httpMW.AuthMiddleware
	ConversationHandler *httpH.ConversationHandler
	SourceHandler       *httpH.SourceHandler
	QuizHandler         *httpH.QuizHandler
	RealtimeHandler     *httpH.RealtimeHandler
	HealthHandler       *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware("sourcequill"))
	r.Use(httpMW.CORS())
	r.Use(httpMW.Metrics(observability.Current()))
	r.Use(httpMW.RequestLogger(cfg.Log))

	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}

	api := r.Group("/api")
	{
		if cfg.AuthHandler != nil {
			api.POST("/register", cfg.AuthHandler.Register)
			api.POST("/login", cfg.AuthHandler.Login)
			api.POST("/refresh", cfg.AuthHandler.Refresh)
		}
	}

	protected := api.Group("/")
	{
		if cfg.AuthMiddleware != nil {
			protected.Use(cfg.AuthMiddleware.RequireAuth())
		}

		if cfg.AuthHandler != nil {
			protected.POST("/logout", cfg.AuthHandler.Logout)
		}

		if cfg.RealtimeHandler != nil {
			protected.GET("/sse/stream", cfg.RealtimeHandler.Stream)
		}

		if cfg.ConversationHandler != nil {
			protected.POST("/conversations", cfg.ConversationHandler.Create)
			protected.GET("/conversations", cfg.ConversationHandler.List)
			protected.GET("/conversations/:id", cfg.ConversationHandler.Get)
			protected.DELETE("/conversations/:id", cfg.ConversationHandler.Delete)
			protected.POST("/conversations/:id/sources", cfg.ConversationHandler.AttachSource)
			protected.GET("/conversations/:id/messages", cfg.ConversationHandler.ListMessages)
			protected.POST("/conversations/:id/messages", cfg.ConversationHandler.SendMessage)
		}

		if cfg.SourceHandler != nil {
			protected.POST("/sources", cfg.SourceHandler.Upload)
			protected.GET("/sources", cfg.SourceHandler.List)
			protected.GET("/sources/:id", cfg.SourceHandler.Get)
			protected.PUT("/sources/:id", cfg.SourceHandler.Update)
			protected.DELETE("/sources/:id", cfg.SourceHandler.Delete)
		}

		if cfg.QuizHandler != nil {
			protected.POST("/quizzes", cfg.QuizHandler.Generate)
			protected.GET("/quizzes/:id", cfg.QuizHandler.Get)
			protected.DELETE("/quizzes/:id", cfg.QuizHandler.Delete)
			protected.POST("/quizzes/:id/attempts", cfg.QuizHandler.SubmitAttempt)
			protected.GET("/conversations/:id/quizzes", cfg.QuizHandler.ListByConversation)
		}
	}

	return r
}
