// Package api assembles the HTTP server: the gin router, its middleware and
// the leaderboard routes, served with gzip compression.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzhttp"
	log "github.com/sirupsen/logrus"

	"github.com/baroque-dev/baroque/internal/api/handlers/baroque"
	"github.com/baroque-dev/baroque/internal/api/middleware"
	"github.com/baroque-dev/baroque/internal/config"
)

// devOrigins are the local frontend dev servers always allowed by CORS.
var devOrigins = []string{"http://localhost:5173", "http://localhost:9000"}

// Server is the API HTTP server.
type Server struct {
	httpServer *http.Server
}

// NewServer builds the router and wraps it for serving on cfg.Listen.
func NewServer(cfg *config.Config, h *baroque.Handler) *Server {
	if log.IsLevelEnabled(log.DebugLevel) {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(
		gin.Recovery(),
		middleware.RequestLogger(),
		middleware.CORS(append([]string{cfg.FrontendURL}, devOrigins...)...),
	)
	baroque.RegisterRoutes(router, h, cfg.Admin)

	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           gzhttp.GzipHandler(router),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       2 * time.Minute,
	}
	return &Server{httpServer: httpServer}
}

// Handler returns the compressed root handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start serves until Shutdown is called. It returns nil after a clean
// shutdown.
func (s *Server) Start() error {
	log.WithField("addr", s.httpServer.Addr).Info("API server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for active requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
