package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danmuck/cellwarden/internal/auth"
	"github.com/danmuck/cellwarden/internal/fault"
	"github.com/danmuck/cellwarden/internal/observability"
	"github.com/danmuck/cellwarden/internal/reservation"
	"github.com/danmuck/cellwarden/internal/warden"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Engine is the reservation surface the HTTP layer drives.
type Engine interface {
	ListCells() []string
	ListAvailable(ctx context.Context) ([]string, error)
	ListReserved(ctx context.Context) ([]string, error)
	Snapshot(ctx context.Context) ([]reservation.Reservation, error)
	CurrentUserReservation(ctx context.Context, user string) (*reservation.Reservation, error)
	BorrowCell(ctx context.Context, req warden.BorrowRequest) (string, error)
	ReturnCell(ctx context.Context, user string) error
	PowerControl(ctx context.Context, user, nodeIP string, on bool) (string, error)
}

// Options tunes the HTTP surface.
type Options struct {
	CORSOrigins []string
	// Auth guards the mutating routes; nil admits everyone.
	Auth auth.Validator
}

// Server exposes an Engine over HTTP.
type Server struct {
	Addr    string
	Started time.Time

	engine Engine
	auth   auth.Validator
	router *gin.Engine
}

func New(addr string, engine Engine, opts Options) *Server {
	observability.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(observability.Logger("api")))
	r.Use(observability.RequestMetricsMiddleware())
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(opts.CORSOrigins),
		AllowMethods: []string{"GET", "POST", "DELETE"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	if opts.Auth == nil {
		opts.Auth = auth.Open{}
	}
	s := &Server{
		Addr:    addr,
		Started: time.Now(),
		engine:  engine,
		auth:    opts.Auth,
		router:  r,
	}
	s.registerRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve listens on Addr until ctx is cancelled, then drains for up to five seconds.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.Addr).Msg("api.Server.Serve listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		log.Info().Msg("api.Server.Serve shutdown")
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) requireOperator() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.auth.Validate(auth.BearerToken(c.GetHeader("Authorization"))); err != nil {
			log.Warn().
				Str("path", c.FullPath()).
				Str("client_ip", c.ClientIP()).
				Msg("api.Server.requireOperator denied")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Next()
	}
}

// statusFor maps engine failures onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, fault.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, fault.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, fault.ErrExhausted):
		return http.StatusServiceUnavailable
	case errors.Is(err, fault.ErrExecution):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func abort(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
