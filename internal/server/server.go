package server

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/poemonsense/warp-proxy-go/internal/account"
	"github.com/poemonsense/warp-proxy-go/internal/config"
	"github.com/poemonsense/warp-proxy-go/internal/dispatcher"
	"github.com/poemonsense/warp-proxy-go/internal/server/handlers"
	"github.com/poemonsense/warp-proxy-go/internal/stats"
	"github.com/poemonsense/warp-proxy-go/internal/utils"
	"github.com/poemonsense/warp-proxy-go/internal/warp"
)

// requestBodyLimit caps inbound request bodies at 10MB
const requestBodyLimit = 10 << 20

// Server wires the HTTP surface over the account pool and dispatcher
type Server struct {
	engine     *gin.Engine
	manager    *account.Manager
	client     *warp.Client
	dispatcher *dispatcher.Dispatcher
	recorder   *stats.Recorder
	cfg        *config.Config
}

// Options holds server construction options
type Options struct {
	Debug bool
}

// New creates a Server with routes configured
func New(cfg *config.Config, manager *account.Manager, client *warp.Client, d *dispatcher.Dispatcher, recorder *stats.Recorder, opts Options) *Server {
	if opts.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.SetTrustedProxies(nil)
	engine.Use(gin.Recovery())

	s := &Server{
		engine:     engine,
		manager:    manager,
		client:     client,
		dispatcher: d,
		recorder:   recorder,
		cfg:        cfg,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.engine.Use(CORSMiddleware())
	s.engine.Use(RequestLoggingMiddleware())
	s.engine.Use(func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, requestBodyLimit)
		c.Next()
	})

	chatHandler := handlers.NewChatHandler(s.dispatcher)
	messagesHandler := handlers.NewMessagesHandler(s.dispatcher)
	modelsHandler := handlers.NewModelsHandler()
	healthHandler := handlers.NewHealthHandler(s.manager)
	statsHandler := handlers.NewStatsHandler(s.manager, s.recorder)
	accountsHandler := handlers.NewAccountsHandler(s.manager, s.client)

	s.engine.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"name":   "warp-proxy",
			"status": "running",
			"endpoints": []string{
				"POST /v1/chat/completions",
				"POST /v1/messages",
				"GET /v1/models",
				"GET /health",
				"GET /stats",
				"GET /accounts",
			},
		})
	})

	s.engine.GET("/health", healthHandler.Health)
	s.engine.GET("/healthz", healthHandler.Health)
	s.engine.GET("/stats", statsHandler.Stats)

	accountsGroup := s.engine.Group("/accounts")
	{
		accountsGroup.GET("", accountsHandler.List)
		accountsGroup.POST("", accountsHandler.Add)
		accountsGroup.POST("/add", accountsHandler.Add)
		accountsGroup.POST("/reload", accountsHandler.Reload)
		accountsGroup.POST("/refresh", accountsHandler.Refresh)
		accountsGroup.POST("/delete-blocked", accountsHandler.DeleteBlocked)
		accountsGroup.DELETE("/blocked", accountsHandler.DeleteBlocked)
		accountsGroup.DELETE("/:name", accountsHandler.Remove)
	}

	v1 := s.engine.Group("/v1")
	v1.Use(APIKeyAuthMiddleware(s.cfg))
	{
		v1.GET("/models", modelsHandler.ListModels)
		v1.POST("/chat/completions", chatHandler.ChatCompletions)
		v1.POST("/messages", messagesHandler.Messages)
		v1.POST("/messages/count_tokens", messagesHandler.CountTokens)
	}

	// Prefix mirrors for clients that namespace their base URL.
	warpGroup := s.engine.Group("/warp/v1")
	warpGroup.Use(APIKeyAuthMiddleware(s.cfg))
	{
		warpGroup.GET("/models", modelsHandler.ListModels)
		warpGroup.POST("/chat/completions", chatHandler.ChatCompletions)
	}
	anthropicGroup := s.engine.Group("/anthropic/v1")
	anthropicGroup.Use(APIKeyAuthMiddleware(s.cfg))
	{
		anthropicGroup.POST("/messages", messagesHandler.Messages)
		anthropicGroup.POST("/messages/count_tokens", messagesHandler.CountTokens)
	}

	s.engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"type": "error",
			"error": gin.H{
				"type":    "not_found_error",
				"message": fmt.Sprintf("Endpoint %s %s not found", c.Request.Method, c.Request.URL.Path),
			},
		})
	})
}

// Engine exposes the gin engine for embedding in an http.Server
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Run starts the HTTP server on addr
func (s *Server) Run(addr string) error {
	utils.Success("[Server] Listening on %s", addr)
	return s.engine.Run(addr)
}
