package gateway

import (
	"context"
	"fmt"
	"net/http"

	"github.com/In5al/pad-labs-onethree/internal/config"
)

// Server hosts the gateway's inbound HTTP surface.
type Server struct {
	gateway    *Gateway
	httpServer *http.Server
}

// NewServer creates the HTTP server around a wired gateway.
func NewServer(cfg *config.ServerConfig, g *Gateway) *Server {
	return &Server{
		gateway: g,
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      g.Handler(),
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
	}
}

// Start serves until Shutdown or a listener error.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown stops admitting new requests and then shuts the HTTP server
// down, letting in-flight forwards run to their deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.gateway.Limiter().Drain()
	return s.httpServer.Shutdown(ctx)
}
