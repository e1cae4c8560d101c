package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

const shutdownTimeout = 10 * time.Second

// Server wraps echo with the middleware stack and lifecycle used by the
// emitter status API.
type Server struct {
	echo    *echo.Echo
	logger  *slog.Logger
	address string
}

func NewServer(logger *slog.Logger, handler *Handler, address string, prometheusEnabled bool) *Server {
	logger = logger.With(slog.String("module", "api-server"))

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(echomiddleware.Recover())

	e.Use(echomiddleware.CORSWithConfig(echomiddleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodHead},
	}))

	e.Use(echomiddleware.RequestLoggerWithConfig(requestLogConfig(logger)))

	if prometheusEnabled {
		e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
			Subsystem: "api",
			HistogramOptsFunc: func(opts prometheus.HistogramOpts) prometheus.HistogramOpts {
				if opts.Name == "request_duration_seconds" {
					opts.Buckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
				}
				return opts
			},
		}))
	}

	handler.RegisterRoutes(e)

	return &Server{
		echo:    e,
		logger:  logger,
		address: address,
	}
}

// Start serves HTTP until Shutdown. It blocks; run it in a goroutine.
func (s *Server) Start() error {
	s.logger.Info("Starting API server", slog.String("address", s.address))

	err := s.echo.Start(s.address)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := s.echo.Shutdown(ctx)
	if err != nil {
		s.logger.Error("Failed to close API echo server", slog.String("err", err.Error()))
	}
}

func requestLogConfig(logger *slog.Logger) echomiddleware.RequestLoggerConfig {
	return echomiddleware.RequestLoggerConfig{
		LogStatus: true,
		LogURI:    true,
		LogError:  true,
		LogValuesFunc: func(_ echo.Context, v echomiddleware.RequestLoggerValues) error {
			if v.Error != nil {
				logger.Error("request",
					slog.String("uri", v.URI),
					slog.Int("status", v.Status),
					slog.String("err", v.Error.Error()),
				)
				return nil
			}

			logger.Debug("request",
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
			)
			return nil
		},
	}
}
