package prometheus

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/iotaledger/hive.go/app"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/dig"

	"github.com/dueldanov/claimescrow/internal/verification"
	"github.com/dueldanov/claimescrow/pkg/daemon"
)

func init() {
	Component = &app.Component{
		Name:     "Prometheus",
		DepsFunc: func(cDeps dependencies) { deps = cDeps },
		Params:   params,
		IsEnabled: func(_ *dig.Container) bool {
			return ParamsPrometheus.Enabled
		},
		Provide:   provide,
		Configure: configure,
		Run:       run,
	}
}

var (
	Component *app.Component
	deps      dependencies

	server   *echo.Echo
	registry = prometheus.NewRegistry()
	collects []func()
)

type dependencies struct {
	dig.In

	RateLimiter *verification.RateLimiter `optional:"true"`
}

func provide(c *dig.Container) error {
	if err := c.Provide(func() prometheus.Registerer {
		return registry
	}); err != nil {
		Component.LogPanic(err)
	}

	return nil
}

func configure() error {
	if ParamsPrometheus.GoMetrics {
		registry.MustRegister(collectors.NewGoCollector())
	}
	if ParamsPrometheus.ProcessMetrics {
		registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	if deps.RateLimiter != nil {
		configureRateLimiter()
	}

	return nil
}

func addCollect(collect func()) {
	collects = append(collects, collect)
}

func run() error {
	Component.LogInfo("Starting Prometheus exporter ...")

	if err := Component.Daemon().BackgroundWorker("Prometheus exporter", func(ctx context.Context) {
		Component.LogInfo("Starting Prometheus exporter ... done")

		server = echo.New()
		server.HideBanner = true
		server.Use(echoRecover())

		server.GET("/metrics", func(c echo.Context) error {
			for _, collect := range collects {
				collect()
			}

			handler := promhttp.HandlerFor(
				registry,
				promhttp.HandlerOpts{
					EnableOpenMetrics: true,
				},
			)

			if ParamsPrometheus.PromhttpMetrics {
				handler = promhttp.InstrumentMetricHandler(registry, handler)
			}

			handler.ServeHTTP(c.Response().Writer, c.Request())

			return nil
		})

		bindAddr := ParamsPrometheus.BindAddress

		go func() {
			Component.LogInfof("You can now access the Prometheus exporter using: http://%s/metrics", bindAddr)
			if err := server.Start(bindAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				Component.LogWarnf("Stopped Prometheus exporter due to an error (%s)", err)
			}
		}()

		<-ctx.Done()
		Component.LogInfo("Stopping Prometheus exporter ...")

		shutdownCtx, shutdownCtxCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCtxCancel()

		//nolint:contextcheck // false positive
		if err := server.Shutdown(shutdownCtx); err != nil {
			Component.LogWarn(err)
		}

		Component.LogInfo("Stopping Prometheus exporter ... done")
	}, daemon.PriorityPrometheus); err != nil {
		Component.LogPanicf("failed to start worker: %s", err)
	}

	return nil
}

func echoRecover() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					Component.LogErrorf("Recovered from panic in metrics handler: %v", r)
					err = echo.NewHTTPError(http.StatusInternalServerError)
				}
			}()

			return next(c)
		}
	}
}
