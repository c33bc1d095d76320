// Package httpapi exposes read-only statistics and exports over HTTP.
package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dkalashnik/doctor-ai-bot/pkg/export"
	"github.com/dkalashnik/doctor-ai-bot/pkg/logging"
	"github.com/dkalashnik/doctor-ai-bot/pkg/models"
	"github.com/dkalashnik/doctor-ai-bot/pkg/stats"
	"github.com/dkalashnik/doctor-ai-bot/pkg/storage"
)

const shutdownTimeout = 10 * time.Second

type Deps struct {
	Store  storage.Store
	Stats  *stats.Aggregator
	Token  string
	Logger *slog.Logger
}

type server struct {
	store storage.Store
	stats *stats.Aggregator
	log   *slog.Logger
}

type statsResponse struct {
	Profile *models.UserProfile `json:"profile"`
	Summary stats.Summary       `json:"summary"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewRouter builds the gin engine. When token is non-empty every /api route
// requires "Authorization: Bearer <token>".
func NewRouter(d Deps) *gin.Engine {
	s := &server{
		store: d.Store,
		stats: d.Stats,
		log:   logging.Or(d.Logger).With("component", "httpapi"),
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(s.log))

	r.GET("/healthz", s.healthz)

	api := r.Group("/api", bearerAuth(d.Token))
	api.GET("/users/:id/stats", s.userStats)
	api.GET("/users/:id/export/:format", s.userExport)

	return r
}

// Serve runs handler on addr until ctx is cancelled, then shuts down
// gracefully.
func Serve(ctx context.Context, addr string, handler http.Handler, log *slog.Logger) error {
	log = logging.Or(log).With("component", "httpapi")
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("httpapi: serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("httpapi: shutdown: %w", err)
	}
	log.Info("http server stopped")
	return nil
}

func (s *server) healthz(c *gin.Context) {
	if err := s.store.Ping(c.Request.Context()); err != nil {
		s.log.WarnContext(c.Request.Context(), "health check failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *server) userStats(c *gin.Context) {
	profile, ok := s.loadProfile(c)
	if !ok {
		return
	}
	summary, err := s.stats.Summary(c.Request.Context(), profile.UserID)
	if err != nil {
		s.internalError(c, "summary", err)
		return
	}
	c.JSON(http.StatusOK, statsResponse{Profile: profile, Summary: summary})
}

func (s *server) userExport(c *gin.Context) {
	exporter := export.Get(c.Param("format"))
	if exporter == nil {
		c.JSON(http.StatusNotFound, errorResponse{Error: "unknown export format"})
		return
	}
	profile, ok := s.loadProfile(c)
	if !ok {
		return
	}

	report, err := s.stats.Report(c.Request.Context(), profile.UserID)
	if err != nil {
		s.internalError(c, "report", err)
		return
	}
	file, err := exporter.Export(report)
	if err != nil {
		s.internalError(c, "export", err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.Name))
	c.Data(http.StatusOK, file.ContentType, file.Data)
}

func (s *server) loadProfile(c *gin.Context) (*models.UserProfile, bool) {
	userID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || userID <= 0 {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid user id"})
		return nil, false
	}
	profile, err := s.store.Profiles().GetProfile(c.Request.Context(), userID)
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, errorResponse{Error: "user not found"})
		return nil, false
	}
	if err != nil {
		s.internalError(c, "profile", err)
		return nil, false
	}
	return profile, true
}

func (s *server) internalError(c *gin.Context, op string, err error) {
	s.log.ErrorContext(c.Request.Context(), "request failed", "op", op, "path", c.FullPath(), "error", err)
	c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
}

// bearerAuth guards /api. An empty token locks the group.
func bearerAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if token == "" || !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
			return
		}
		c.Next()
	}
}

func requestLogger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.DebugContext(c.Request.Context(), "http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds())
	}
}
