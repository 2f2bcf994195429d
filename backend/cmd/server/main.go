package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"graphguard/backend/internal/graph"
	"graphguard/backend/pkg/config"
	"graphguard/backend/pkg/errors"
	"graphguard/backend/pkg/logger"
)

func main() {
	// Initialize logger
	if err := logger.Init(os.Getenv("ENV")); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	log := logger.Get()
	log.Info("Starting graph mutation API server...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration", zap.Error(err))
	}

	// Select the store backend
	var store graph.Store
	switch cfg.StoreBackend {
	case "neo4j":
		driver, err := neo4j.NewDriverWithContext(
			cfg.Neo4jURI,
			neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPassword, ""),
		)
		if err != nil {
			log.Fatal("Failed to create Neo4j driver", zap.Error(err))
		}
		defer driver.Close(context.Background())

		if err := driver.VerifyConnectivity(context.Background()); err != nil {
			log.Fatal("Failed to verify Neo4j connectivity", zap.Error(err))
		}
		store = graph.NewNeo4jStore(driver)
	default:
		store = graph.NewMemStore()
	}

	// Select the reservation backend
	var locks graph.Locker
	switch cfg.LockBackend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		if err := client.Ping(context.Background()).Err(); err != nil {
			log.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer client.Close()
		locks = graph.NewRedisLocker(client, cfg.LockTTL)
	default:
		locks = graph.NewLocalLocker()
	}

	// Assemble the mutation pipeline
	resolver := graph.NewResolver(store, locks, cfg.LockTimeout)
	guard := graph.NewCycleGuard(store, graph.GuardConfig{
		Policy:          graph.CyclePolicy(cfg.CyclePolicy),
		MaxHops:         cfg.CycleMaxHops,
		AllowCrossGroup: cfg.AllowCrossGroup,
		AllowSelfLoops:  cfg.AllowSelfLoops,
	})
	changeLog := graph.NewChangeLog()
	coordinator := graph.NewCoordinator(store, resolver, guard, changeLog)
	governor := graph.NewGovernor(store,
		graph.Budget{
			MaxDepth:    cfg.DefaultMaxDepth,
			MaxPaths:    cfg.DefaultMaxPaths,
			MaxNodes:    cfg.DefaultMaxNodes,
			MaxDuration: cfg.DefaultTimeout,
		},
		graph.Budget{
			MaxDepth:    cfg.CeilingMaxDepth,
			MaxPaths:    cfg.CeilingMaxPaths,
			MaxNodes:    cfg.CeilingMaxNodes,
			MaxDuration: cfg.CeilingTimeout,
		},
	)

	// Setup Gin router
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := newRouter(coordinator, governor, store, changeLog, log)

	// Start server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	log.Info("Server started",
		zap.String("port", cfg.Port),
		zap.String("store", cfg.StoreBackend),
		zap.String("locks", cfg.LockBackend),
		zap.String("cycle_policy", cfg.CyclePolicy),
	)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited")
}

// newRouter builds the HTTP surface over the mutation pipeline
func newRouter(coordinator *graph.Coordinator, governor *graph.Governor, store graph.Store, changeLog *graph.ChangeLog, log *zap.Logger) *gin.Engine {
	router := gin.New()
	router.Use(ginLogger(log))
	router.Use(gin.Recovery())

	// CORS middleware
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// API routes
	api := router.Group("/api/graph")
	{
		// Current change log sequence
		api.GET("/sequence", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"sequence": changeLog.CurrentSequence()})
		})

		// Change records since a sequence number
		api.GET("/changes", func(c *gin.Context) {
			since, err := strconv.ParseUint(c.DefaultQuery("since", "0"), 10, 64)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid since parameter"})
				return
			}
			limit, err := strconv.Atoi(c.DefaultQuery("limit", "1000"))
			if err != nil || limit < 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit parameter"})
				return
			}

			records := changeLog.ReadSince(since, limit)
			c.JSON(http.StatusOK, gin.H{
				"changes":  records,
				"sequence": changeLog.CurrentSequence(),
			})
		})

		// Batch entity fetch for sync consumers
		api.GET("/nodes", func(c *gin.Context) {
			idsParam := c.Query("ids")
			if idsParam == "" {
				c.JSON(http.StatusBadRequest, gin.H{"error": "ids parameter is required"})
				return
			}

			entities, err := store.GetEntities(c.Request.Context(), strings.Split(idsParam, ","))
			if err != nil {
				log.Error("Failed to fetch nodes", zap.Error(err))
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch nodes"})
				return
			}
			c.JSON(http.StatusOK, gin.H{
				"nodes":    entities,
				"sequence": changeLog.CurrentSequence(),
			})
		})

		// Batch edge fetch for sync consumers
		api.GET("/edges", func(c *gin.Context) {
			pairsParam := c.Query("pairs")
			if pairsParam == "" {
				c.JSON(http.StatusBadRequest, gin.H{"error": "pairs parameter is required"})
				return
			}

			var pairs []graph.IDPair
			for _, raw := range strings.Split(pairsParam, ",") {
				parts := strings.SplitN(raw, ":", 2)
				if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
					c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid pair: %s", raw)})
					return
				}
				pairs = append(pairs, graph.IDPair{SourceID: parts[0], TargetID: parts[1]})
			}

			edges, err := store.GetRelationships(c.Request.Context(), pairs)
			if err != nil {
				log.Error("Failed to fetch edges", zap.Error(err))
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch edges"})
				return
			}
			c.JSON(http.StatusOK, gin.H{
				"edges":    edges,
				"sequence": changeLog.CurrentSequence(),
			})
		})

		// Ingest one entity with optional relationships
		api.POST("/ingest", func(c *gin.Context) {
			var req struct {
				Entity        graph.EntitySpec         `json:"entity" binding:"required"`
				Relationships []graph.RelationshipSpec `json:"relationships,omitempty"`
			}

			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}

			result, err := coordinator.Ingest(c.Request.Context(), req.Entity, req.Relationships)
			if err != nil {
				if _, ok := err.(*errors.ErrResolutionConflict); ok {
					c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "retryable": true})
					return
				}
				log.Error("Failed to ingest", zap.Error(err))
				c.JSON(http.StatusInternalServerError, gin.H{
					"error":     "Failed to ingest",
					"retryable": errors.IsRetryable(err),
				})
				return
			}

			c.JSON(http.StatusOK, result)
		})

		// Governed traversal query
		api.POST("/traverse", func(c *gin.Context) {
			var req struct {
				StartID     string `json:"start_id" binding:"required"`
				Type        string `json:"type,omitempty"`
				MaxDepth    int    `json:"max_depth,omitempty"`
				MaxPaths    int    `json:"max_paths,omitempty"`
				MaxNodes    int    `json:"max_nodes,omitempty"`
				MaxDuration int    `json:"max_duration_ms,omitempty"`
			}

			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}

			result, err := governor.Traverse(c.Request.Context(), req.StartID, req.Type, graph.Budget{
				MaxDepth:    req.MaxDepth,
				MaxPaths:    req.MaxPaths,
				MaxNodes:    req.MaxNodes,
				MaxDuration: time.Duration(req.MaxDuration) * time.Millisecond,
			})
			if err != nil {
				if _, ok := err.(*errors.ErrEntityNotFound); ok {
					c.JSON(http.StatusNotFound, gin.H{"error": "Start entity not found"})
					return
				}
				log.Error("Failed to traverse", zap.Error(err))
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to traverse"})
				return
			}

			c.JSON(http.StatusOK, result)
		})
	}

	return router
}

// ginLogger is a custom logger middleware for Gin
func ginLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		if raw != "" {
			path = path + "?" + raw
		}

		log.Info("HTTP Request",
			zap.Int("status", status),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Duration("latency", latency),
			zap.String("ip", c.ClientIP()),
		)
	}
}
