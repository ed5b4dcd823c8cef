// Package app wires configuration, storage, services, and transport into a
// runnable server.
package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"gorm.io/gorm"

	"github.com/sourcequill/backend/internal/db"
	internalhttp "github.com/sourcequill/backend/internal/http"
	httpH "github.com/sourcequill/backend/internal/http/handlers"
	httpMW "github.com/sourcequill/backend/internal/http/middleware"
	"github.com/sourcequill/backend/internal/observability"
	"github.com/sourcequill/backend/internal/platform/logger"
	"github.com/sourcequill/backend/internal/platform/openai"
	"github.com/sourcequill/backend/internal/realtime"
	"github.com/sourcequill/backend/internal/realtime/bus"
	"github.com/sourcequill/backend/internal/repos"
	"github.com/sourcequill/backend/internal/retrieval"
	"github.com/sourcequill/backend/internal/services"
	"github.com/sourcequill/backend/internal/workflows/answer"
	"github.com/sourcequill/backend/internal/workflows/quiz"
)

const shutdownTimeout = 5 * time.Second

type App struct {
	Log    *logger.Logger
	Cfg    Config
	DB     *gorm.DB
	Server *internalhttp.Server
	Hub    *realtime.SSEHub

	eventBus     bus.Bus
	shutdownOTel func(context.Context) error
	cancel       context.CancelFunc
}

func New() (*App, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	cfg := LoadConfig()

	dbService, err := db.New(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init database: %w", err)
	}
	if err := dbService.AutoMigrateAll(); err != nil {
		log.Sync()
		return nil, fmt.Errorf("automigrate: %w", err)
	}
	gormDB := dbService.DB()

	observability.Init(log)

	ai, err := openai.NewClient(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init openai client: %w", err)
	}

	// Repos
	userRepo := repos.NewUserRepo(gormDB, log)
	userTokenRepo := repos.NewUserTokenRepo(gormDB, log)
	conversationRepo := repos.NewConversationRepo(gormDB, log)
	messageRepo := repos.NewMessageRepo(gormDB, log)
	sourceRepo := repos.NewSourceRepo(gormDB, log)
	sourceChunkRepo := repos.NewSourceChunkRepo(gormDB, log, dbService.IsPostgres())
	quizRepo := repos.NewQuizRepo(gormDB, log)
	quizQuestionRepo := repos.NewQuizQuestionRepo(gormDB, log)
	quizAttemptRepo := repos.NewQuizAttemptRepo(gormDB, log)

	// Realtime
	hub := realtime.NewSSEHub(log)
	eventBus := newEventBus(log)

	// Workflow deps
	searcher := retrieval.NewSearcher(sourceChunkRepo, sourceRepo, ai, log)
	answerDeps := answer.Deps{AI: ai, Search: searcher, Log: log}
	quizDeps := quiz.Deps{AI: ai, Log: log}

	// Services
	authService := services.NewAuthService(gormDB, log, userRepo, userTokenRepo, cfg.JWTSecretKey, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	chatService := services.NewChatService(gormDB, log, conversationRepo, messageRepo, sourceRepo, answerDeps, eventBus, cfg.ChatModel)
	quizService := services.NewQuizService(gormDB, log, conversationRepo, sourceRepo, quizRepo, quizQuestionRepo, quizAttemptRepo, quizDeps, eventBus)
	sourceService := services.NewSourceService(log, sourceRepo, sourceChunkRepo, ai, eventBus)

	// Transport
	server := internalhttp.NewServer(internalhttp.RouterConfig{
		Log:                 log,
		AuthHandler:         httpH.NewAuthHandler(authService),
		AuthMiddleware:      httpMW.NewAuthMiddleware(log, authService),
		ConversationHandler: httpH.NewConversationHandler(chatService),
		SourceHandler:       httpH.NewSourceHandler(sourceService),
		QuizHandler:         httpH.NewQuizHandler(quizService),
		RealtimeHandler:     httpH.NewRealtimeHandler(hub),
		HealthHandler:       httpH.NewHealthHandler(),
	})

	return &App{
		Log:      log,
		Cfg:      cfg,
		DB:       gormDB,
		Server:   server,
		Hub:      hub,
		eventBus: eventBus,
	}, nil
}

// newEventBus prefers redis when configured so events reach every instance.
func newEventBus(log *logger.Logger) bus.Bus {
	if os.Getenv("REDIS_ADDR") != "" {
		b, err := bus.NewRedisBus(log)
		if err == nil {
			return b
		}
		log.Warn("redis event bus unavailable, falling back to local delivery", "error", err)
	}
	return bus.NewLocalBus()
}

// Start launches the background pieces: tracing, the metrics endpoint, and
// the bus forwarder feeding the local hub.
func (a *App) Start() {
	if a == nil || a.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	a.shutdownOTel = observability.InitOTel(ctx, a.Log, observability.OtelConfig{
		ServiceName: "sourcequill",
		Environment: os.Getenv("APP_ENV"),
	})

	if observability.Enabled() {
		observability.Current().StartServer(ctx, a.Log, a.Cfg.MetricsAddr)
	}

	if err := a.eventBus.StartForwarder(ctx, a.Hub.Broadcast); err != nil {
		a.Log.Warn("failed to start event bus forwarder", "error", err)
	}
}

func (a *App) Run() error {
	if a == nil || a.Server == nil {
		return fmt.Errorf("app not initialized")
	}
	return a.Server.Run(":" + a.Cfg.Port)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if a.eventBus != nil {
		_ = a.eventBus.Close()
	}
	if a.shutdownOTel != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = a.shutdownOTel(ctx)
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
