package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"eduguard/internal/auth"
	"eduguard/internal/authority"
	"eduguard/internal/camera"
	"eduguard/internal/config"
	"eduguard/internal/feedback"
	"eduguard/internal/httpmiddleware"
	"eduguard/internal/journal"
	"eduguard/internal/queue"
	"eduguard/internal/scan"
	"eduguard/internal/store"
)

func main() {
	cfg := config.Load()

	// Set Gin mode based on environment
	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

// gate owns the single physical capture device of the terminal. Whoever
// starts the camera binds its detections to their session until stop.
type gate struct {
	mu     sync.Mutex
	poller *camera.Poller
	owner  string
}

func (g *gate) start(ctx context.Context, cfg config.App, ownerID string, rec *scan.Recorder) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.poller != nil {
		g.poller.Stop()
		g.poller = nil
	}
	dev := camera.NewSerialDevice(cfg.CameraPath)
	p := camera.New(dev, cfg.ScanInterval, rec.InFlight, func(ctx context.Context, code string) error {
		_, err := rec.Submit(ctx, code)
		return err
	})
	if err := p.Start(ctx); err != nil {
		return err
	}
	g.poller = p
	g.owner = ownerID
	return nil
}

func (g *gate) stop(ownerID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.poller == nil {
		return
	}
	if ownerID != "" && g.owner != ownerID {
		return
	}
	g.poller.Stop()
	g.poller = nil
	g.owner = ""
}

func runHTTP(cfg config.App) error {
	// The journal is written by the relay; the terminal only reads it for
	// the movement listing and daily reports. Scanning works without it.
	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Printf("warning: db not reachable: %v", err)
	}
	defer func() {
		if db != nil {
			_ = db.Close()
		}
	}()

	var movements *journal.Repository
	if db != nil && db.Client != nil {
		movements = journal.NewRepository(db.Client)
	}

	redisClient := store.NewRedis(cfg.RedisAddr)
	scanAuthority := authority.New(cfg.AuthorityURL, cfg.AuthoritySkip)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, cfg.QueueKey)
	}

	var sig feedback.Signaler = feedback.Silent{}
	if cfg.AudioDevice != "" {
		out, err := os.OpenFile(cfg.AudioDevice, os.O_WRONLY, 0)
		if err != nil {
			log.Printf("audio device not available, tones disabled: %v", err)
		} else {
			defer out.Close()
			sig = feedback.NewSynth(out)
		}
	}

	sessions := scan.NewSessions(func(op scan.Operator) *scan.Recorder {
		return scan.NewRecorder(scanAuthority, sig, q, scan.Config{
			Operator:   op,
			Location:   cfg.Location,
			Device:     cfg.DeviceLabel,
			HistoryCap: cfg.HistoryCap,
			ResultTTL:  cfg.ResultTTL,
		})
	})

	cam := &gate{}
	defer cam.stop("")

	r := gin.New()

	// Recovery middleware
	r.Use(gin.Recovery())

	// Custom logger
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))

	// CORS middleware
	r.Use(corsMiddleware())

	// Security headers
	r.Use(securityHeaders())

	// Rate limiting
	r.Use(httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		authorityHealthy := scanAuthority.Health(c.Request.Context()) == nil
		status := http.StatusOK
		if !redisHealthy || !authorityHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "authority": authorityHealthy, "db": db != nil})
	})

	r.POST("/v1/operators/register", func(c *gin.Context) {
		var req struct {
			OperatorID string `json:"operator_id" binding:"required"`
			Name       string `json:"name" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if err := redisClient.UpsertOperator(c.Request.Context(), req.OperatorID, req.Name); err != nil {
			log.Printf("operator upsert failed: %v", err)
		}

		tokens, err := auth.Issue(req.OperatorID, req.Name, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}

		_ = redisClient.SaveRefreshToken(c.Request.Context(), req.OperatorID, tokens.RefreshToken, tokens.RefreshExp)

		c.JSON(http.StatusCreated, gin.H{
			"access_token":  tokens.AccessToken,
			"refresh_token": tokens.RefreshToken,
			"expires_at":    tokens.AccessExp.Unix(),
		})
	})

	authGroup := r.Group("/v1", auth.OperatorAuth(cfg.JWTSigningKey, cfg.JWTIssuer))

	operatorOf := func(c *gin.Context) scan.Operator {
		claimsAny, _ := c.Get("claims")
		claims, _ := claimsAny.(auth.Claims)
		return scan.Operator{ID: claims.Subject, Name: claims.Name}
	}

	authGroup.GET("/mode", func(c *gin.Context) {
		rec := sessions.Get(operatorOf(c))
		c.JSON(http.StatusOK, gin.H{"mode": rec.Mode()})
	})

	authGroup.PUT("/mode", func(c *gin.Context) {
		var req struct {
			Mode string `json:"mode" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		mode, err := scan.ParseMode(req.Mode)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		rec := sessions.Get(operatorOf(c))
		_ = rec.SetMode(mode)
		c.JSON(http.StatusOK, gin.H{"mode": rec.Mode()})
	})

	// Manual acquisition path. Empty codes are a silent no-op; a submission
	// already in flight rejects the attempt instead of interleaving.
	authGroup.POST("/scans", func(c *gin.Context) {
		var req struct {
			Code string `json:"code"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		rec := sessions.Get(operatorOf(c))
		res, err := rec.Submit(c.Request.Context(), req.Code)
		switch {
		case errors.Is(err, scan.ErrEmptyCode):
			c.Status(http.StatusNoContent)
		case errors.Is(err, scan.ErrBusy):
			c.JSON(http.StatusConflict, gin.H{"error": "registo em curso"})
		default:
			c.JSON(http.StatusOK, res)
		}
	})

	authGroup.GET("/scans/current", func(c *gin.Context) {
		rec := sessions.Get(operatorOf(c))
		res := rec.Current()
		if res == nil {
			c.Status(http.StatusNoContent)
			return
		}
		c.JSON(http.StatusOK, res)
	})

	authGroup.GET("/scans/recent", func(c *gin.Context) {
		rec := sessions.Get(operatorOf(c))
		limit := rec.History().Len()
		if v := c.Query("limit"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil && parsed >= 0 && parsed < limit {
				limit = parsed
			}
		}
		recent := rec.History().Recent()
		c.JSON(http.StatusOK, gin.H{"scans": recent[:limit], "count": rec.History().Len()})
	})

	authGroup.GET("/movements", func(c *gin.Context) {
		if movements == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "journal not configured"})
			return
		}
		var mode scan.MovementMode
		if v := c.Query("mode"); v != "" {
			parsed, err := scan.ParseMode(v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			mode = parsed
		}
		limit, offset := 50, 0
		if v := c.Query("limit"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				limit = parsed
			}
		}
		if v := c.Query("offset"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				offset = parsed
			}
		}
		list, err := movements.List(c.Request.Context(), c.Query("student_id"), c.Query("operator_id"), mode, limit, offset)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"movements": list})
	})

	authGroup.GET("/movements/:id", func(c *gin.Context) {
		if movements == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "journal not configured"})
			return
		}
		m, err := movements.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if m == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "movement not found"})
			return
		}
		c.JSON(http.StatusOK, m)
	})

	authGroup.GET("/reports/daily", func(c *gin.Context) {
		if movements == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "journal not configured"})
			return
		}
		studentID := c.Query("student_id")
		if studentID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "student_id required"})
			return
		}
		day := time.Now().UTC()
		if v := c.Query("date"); v != "" {
			parsed, err := time.Parse("2006-01-02", v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
				return
			}
			day = parsed
		}
		count, err := movements.CountForDay(c.Request.Context(), studentID, day)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"student_id": studentID, "date": day.Format("2006-01-02"), "movements": count})
	})

	authGroup.POST("/camera/start", func(c *gin.Context) {
		if cfg.CameraPath == "" {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "câmara não configurada neste terminal"})
			return
		}
		op := operatorOf(c)
		rec := sessions.Get(op)
		if err := cam.start(c.Request.Context(), cfg, op.ID, rec); err != nil {
			log.Printf("camera start failed: %v", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Não foi possível aceder à câmara. Verifique as permissões do dispositivo."})
			return
		}
		c.JSON(http.StatusOK, gin.H{"active": true})
	})

	authGroup.POST("/camera/stop", func(c *gin.Context) {
		cam.stop(operatorOf(c).ID)
		c.JSON(http.StatusOK, gin.H{"active": false})
	})

	authGroup.POST("/operators/logout", func(c *gin.Context) {
		op := operatorOf(c)
		cam.stop(op.ID)
		sessions.End(op.ID)
		c.Status(http.StatusNoContent)
	})

	// Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Starting terminal on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down terminal...")

	// Release the capture device before the listener goes away
	cam.stop("")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Terminal exited")
	return nil
}

// CORS middleware for browser requests
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		// Only add HSTS in production
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
