package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/harborlight/mailsync/internal/auth"
	"github.com/harborlight/mailsync/internal/config"
	"github.com/harborlight/mailsync/internal/contacts"
	"github.com/harborlight/mailsync/internal/events"
	"github.com/harborlight/mailsync/internal/provider"
	"github.com/harborlight/mailsync/internal/provider/gmail"
	"github.com/harborlight/mailsync/internal/provider/outlook"
	"github.com/harborlight/mailsync/internal/store"
	"github.com/harborlight/mailsync/internal/sync"
	"github.com/harborlight/mailsync/internal/telemetry"
)

type startRequest struct {
	BatchSize      int      `json:"batchSize"`
	MaxMessages    int      `json:"maxMessages"`
	Query          string   `json:"query"`
	StartDate      string   `json:"startDate"`
	EndDate        string   `json:"endDate"`
	FocusAddresses []string `json:"focusAddresses"`
}

func (r startRequest) toOptions() (sync.Options, error) {
	opts := sync.Options{
		BatchSize:      r.BatchSize,
		MaxMessages:    r.MaxMessages,
		Query:          r.Query,
		FocusAddresses: r.FocusAddresses,
	}
	if r.StartDate != "" {
		t, err := time.Parse("2006-01-02", r.StartDate)
		if err != nil {
			return opts, err
		}
		opts.StartDate = &t
	}
	if r.EndDate != "" {
		t, err := time.Parse("2006-01-02", r.EndDate)
		if err != nil {
			return opts, err
		}
		opts.EndDate = &t
	}
	return opts, nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}

	logger := logrus.New()
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	st, err := store.Open(filepath.Join(cfg.DataDir, "mailsync.db"))
	if err != nil {
		logger.WithError(err).Fatal("failed to open store")
	}
	defer st.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	authProvider := auth.ProviderGoogle
	if cfg.Provider == "outlook" {
		authProvider = auth.ProviderMicrosoft
	}
	authClient := auth.NewClient(cfg.AuthServerURL, authProvider)

	adapter, err := buildAdapter(ctx, cfg, authClient)
	if err != nil {
		logger.WithError(err).Fatal("failed to create provider adapter")
	}

	tel := telemetry.NewLog()
	client := provider.Throttle(adapter, cfg.ProviderQPS, tel)
	resolver := contacts.NewResolver(st, logger)

	var pub *events.Publisher
	if cfg.NATSURL != "" {
		pub, err = events.NewPublisher(cfg.NATSURL)
		if err != nil {
			logger.WithError(err).Fatal("failed to connect to NATS")
		}
		defer pub.Close()
	}

	engine := sync.NewEngine(client, authClient, st, resolver, tel, pub, logger, sync.Config{
		Source:          cfg.Provider,
		InterBatchDelay: cfg.InterBatchDelay,
	})
	if err := engine.RestoreProgress(ctx); err != nil {
		logger.WithError(err).Warn("failed to restore progress snapshot")
	}

	go engine.DispatchOutbox(ctx)

	r := gin.Default()

	api := r.Group("/")
	if cfg.JWKSURL != "" {
		verifier, err := auth.NewVerifier(cfg.JWKSURL)
		if err != nil {
			logger.WithError(err).Fatal("failed to create JWT verifier")
		}
		api.Use(authMiddleware(verifier))
	}

	api.POST("/sync/start", func(c *gin.Context) {
		var req startRequest
		if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		opts, err := req.toOptions()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		progress, err := engine.Start(c.Request.Context(), opts)
		if err != nil {
			status := http.StatusInternalServerError
			if progress.Status == sync.StatusRunning {
				status = http.StatusConflict
			}
			c.JSON(status, gin.H{"error": err.Error(), "progress": progress})
			return
		}
		c.JSON(http.StatusOK, progress)
	})

	api.POST("/sync/pause", func(c *gin.Context) {
		progress, err := engine.Pause()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "progress": progress})
			return
		}
		c.JSON(http.StatusOK, progress)
	})

	api.POST("/sync/resume", func(c *gin.Context) {
		progress, err := engine.Resume()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "progress": progress})
			return
		}
		c.JSON(http.StatusOK, progress)
	})

	api.POST("/sync/stop", func(c *gin.Context) {
		progress, err := engine.Stop()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "progress": progress})
			return
		}
		c.JSON(http.StatusOK, progress)
	})

	api.POST("/sync/incremental", func(c *gin.Context) {
		go func() {
			if err := engine.IncrementalSync(context.Background()); err != nil {
				logger.WithError(err).Error("incremental sync failed")
			}
		}()
		c.JSON(http.StatusAccepted, gin.H{"status": "started"})
	})

	api.POST("/sync/errors/clear", func(c *gin.Context) {
		c.JSON(http.StatusOK, engine.ClearErrors())
	})

	api.GET("/sync/progress", func(c *gin.Context) {
		c.JSON(http.StatusOK, engine.GetProgress())
	})

	api.GET("/contacts", func(c *gin.Context) {
		limit := 100
		if raw := c.Query("limit"); raw != "" {
			if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
				limit = parsed
			}
		}
		list, err := st.ListContacts(c.Request.Context(), limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, list)
	})

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		logger.Info("shutting down")
		cancel()
		os.Exit(0)
	}()

	logger.WithField("addr", cfg.ListenAddr).Info("listening")
	if err := r.Run(cfg.ListenAddr); err != nil {
		logger.WithError(err).Fatal("server exited")
	}
}

// buildAdapter constructs the configured provider adapter from the stored
// token.
func buildAdapter(ctx context.Context, cfg *config.Config, authClient *auth.Client) (provider.Client, error) {
	token, err := authClient.GetToken(ctx)
	if err != nil {
		return nil, err
	}
	switch cfg.Provider {
	case "outlook":
		return outlook.New(ctx, token, cfg.GraphUserID)
	default:
		return gmail.New(ctx, token)
	}
}

func authMiddleware(verifier *auth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := verifier.UserFromRequest(c.Request)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			c.Abort()
			return
		}
		c.Set("user_id", user.ID)
		c.Next()
	}
}
