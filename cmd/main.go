package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pomconv/internal/config"
	"pomconv/internal/handler"
	"pomconv/internal/llm"
	"pomconv/internal/service"
	"pomconv/internal/storage"
	"pomconv/internal/tools"
	"pomconv/internal/utils"
	"pomconv/internal/validate"
	"pomconv/pkg/logger"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

var version = "dev"

func main() {
	var configPath string
	var mcpMode bool
	flag.StringVar(&configPath, "config", "./configs/config.yaml", "config file path")
	flag.BoolVar(&mcpMode, "mcp", false, "serve the conversion tool over MCP on stdio instead of HTTP")
	flag.Parse()

	cfg, err := config.Load(configPath, nil)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := logger.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.File); err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	// stdout carries the MCP protocol.
	if mcpMode {
		logger.SetOutput(os.Stderr)
	}

	ctx := context.Background()

	resolver, err := llm.NewResolver(cfg.Backend, utils.NewHTTPClient(cfg.Backend.ProbeTimeout, false))
	if err != nil {
		logger.Fatalf("Failed to init backend resolver: %v", err)
	}
	client := llm.NewClient(cfg.Backend, cfg.Retry, resolver, utils.NewHTTPClient(cfg.Backend.Timeout, cfg.Backend.DebugRequests))

	rules := validate.NewRules(cfg.Output)
	converter, err := service.NewConverter(ctx, cfg.Pipeline, rules, client)
	if err != nil {
		logger.Fatalf("Failed to build conversion pipeline: %v", err)
	}

	var writer storage.Writer
	if cfg.Output.Dir != "" {
		writer = storage.NewDiskWriter(cfg.Output.Dir, cfg.Output.Extension)
		if err := writer.Init(); err != nil {
			logger.Fatalf("Failed to init output dir: %v", err)
		}
		defer writer.Close()
	}
	svc := service.NewConversionService(converter, rules, writer)

	if mcpMode {
		if err := tools.ServeStdio(tools.NewMCPServer(tools.NewConvertTool(svc), version)); err != nil {
			logger.Fatalf("MCP server stopped: %v", err)
		}
		return
	}

	convertHandler := handler.NewConvertHandler(svc, resolver, cfg.Server.ConvertTimeout)
	router := setupRouter(cfg, convertHandler)

	server := &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        router,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}

	go func() {
		logger.Infof("Server listening on port %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Server shutdown failed: %v", err)
	}
	logger.Info("Server stopped")
}

func setupRouter(cfg *config.Config, convertHandler *handler.ConvertHandler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     cfg.CORS.AllowedMethods,
		AllowHeaders:     cfg.CORS.AllowedHeaders,
		ExposeHeaders:    cfg.CORS.ExposedHeaders,
		AllowCredentials: cfg.CORS.AllowCredentials,
		MaxAge:           time.Duration(cfg.CORS.MaxAge) * time.Second,
	}))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().Unix(),
		})
	})

	convertHandler.Register(router.Group("/api"))
	return router
}
