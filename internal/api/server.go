// Package api exposes the submission gateway and the dashboard's read and
// review endpoints.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/roadsight/roadsight/internal/geo"
	"github.com/roadsight/roadsight/internal/pipeline"
	"github.com/roadsight/roadsight/internal/report"
)

// Submitter runs one video through the pipeline and blocks until the run
// reaches a terminal state.
type Submitter interface {
	Submit(ctx context.Context, videoPath string, loc geo.Location) (*pipeline.Report, error)
}

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

type ServerConfig struct {
	Port       int
	Submitter  Submitter
	Repository report.Repository
	VideosDir  string
	ImagesDir  string
	Hub        http.Handler
	Logger     *slog.Logger
	StartTime  time.Time
}

func NewServer(cfg ServerConfig) *Server {
	router := NewRouter(cfg)

	return &Server{
		httpServer: &http.Server{
			Addr:        fmt.Sprintf(":%d", cfg.Port),
			Handler:     router,
			ReadTimeout: 0, // uploads and blocking runs can be slow
			IdleTimeout: 60 * time.Second,
		},
		logger: cfg.Logger,
	}
}

func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}
