package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/nao1215/onionfetch/internal/database"
	"github.com/nao1215/onionfetch/internal/download"
	"github.com/nao1215/onionfetch/internal/session"
)

// Session is the part of *session.Manager the API depends on.
type Session interface {
	IsReady() bool
	Bootstrap(ctx context.Context) error
	SubscribeBootstrapEvents(ctx context.Context) (*session.Subscription, error)
}

// History reads recorded downloads. *database.HistoryDB satisfies it.
type History interface {
	GetDownload(ctx context.Context, id string) (*database.DownloadRecord, error)
	ListDownloads(ctx context.Context, limit int) ([]*database.DownloadRecord, error)
	ListDownloadsByHost(ctx context.Context, host string) ([]*database.DownloadRecord, error)
}

// Server is the local observer API.
type Server struct {
	echo       *echo.Echo
	session    Session
	downloader *download.Downloader
	history    History
	logger     *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithHistory enables GET /api/history and GET /api/history/:id.
func WithHistory(history History) Option {
	return func(s *Server) {
		s.history = history
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// New creates a Server backed by sess and downloader.
func New(sess Session, downloader *download.Downloader, opts ...Option) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:       e,
		session:    sess,
		downloader: downloader,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// Handler returns the HTTP handler serving the API.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// setupMiddleware configures Echo middleware.
func (s *Server) setupMiddleware() {
	s.echo.Use(middleware.Recover())

	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogMethod:   true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				s.logger.Warn("request error",
					"method", v.Method,
					"uri", v.URI,
					"status", v.Status,
					"latency", v.Latency,
					"error", v.Error,
				)
				return nil
			}
			s.logger.Debug("request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
			)
			return nil
		},
	}))
}

// setupRoutes configures API routes.
func (s *Server) setupRoutes() {
	api := s.echo.Group("/api")

	tor := api.Group("/tor")
	tor.GET("/ready", s.handleReady)
	tor.POST("/bootstrap", s.handleBootstrap)
	tor.GET("/events", s.handleBootstrapEvents)

	api.GET("/downloads", s.handleDownload)
	api.GET("/history", s.handleHistory)
	api.GET("/history/:id", s.handleHistoryRecord)
}

// Serve accepts connections on ln until ctx is done, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.logger.Info("observer API listening", "address", ln.Addr().String())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down observer API")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// closeQuietly closes c, logging failures at debug level.
func (s *Server) closeQuietly(c io.Closer) {
	if err := c.Close(); err != nil {
		s.logger.Debug("close failed", "error", err)
	}
}
