package restapi

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/dig"
	"golang.org/x/time/rate"

	"github.com/iotaledger/hive.go/app"

	"github.com/dueldanov/claimescrow/internal/monitoring"
	"github.com/dueldanov/claimescrow/internal/security"
	"github.com/dueldanov/claimescrow/internal/service"
	"github.com/dueldanov/claimescrow/pkg/daemon"
)

func init() {
	Component = &app.Component{
		Name:     "RestAPI",
		DepsFunc: func(cDeps dependencies) { deps = cDeps },
		Params:   params,
		IsEnabled: func(_ *dig.Container) bool {
			return ParamsRestAPI.Enabled
		},
		Provide:   provide,
		Configure: configure,
		Run:       run,
	}
}

var (
	Component *app.Component
	deps      dependencies

	httpRequestErrors prometheus.Counter
)

type ipRateLimiter struct {
	limiters sync.Map
	rate     rate.Limit
	burst    int
}

func newIPRateLimiter(r float64, b int) *ipRateLimiter {
	return &ipRateLimiter{
		rate:  rate.Limit(r),
		burst: b,
	}
}

func (i *ipRateLimiter) getLimiter(ip string) *rate.Limiter {
	if limiter, ok := i.limiters.Load(ip); ok {
		return limiter.(*rate.Limiter)
	}
	limiter, _ := i.limiters.LoadOrStore(ip, rate.NewLimiter(i.rate, i.burst))

	return limiter.(*rate.Limiter)
}

func rateLimitMiddleware(rl *ipRateLimiter) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !rl.getLimiter(c.RealIP()).Allow() {
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}

			return next(c)
		}
	}
}

type dependencies struct {
	dig.In

	Echo         *echo.Echo
	Service      *service.Service
	AlertManager *monitoring.AlertManager `optional:"true"`
	AuditLogger  *security.AuditLogger    `optional:"true"`
	Registerer   prometheus.Registerer    `optional:"true"`
}

func provide(c *dig.Container) error {
	if err := c.Provide(func() *echo.Echo {
		return newEcho(func(err error) {
			if httpRequestErrors != nil {
				httpRequestErrors.Inc()
			}
			Component.LogWarnf("REST request failed: %s", err)
		})
	}); err != nil {
		Component.LogPanic(err)
	}

	return nil
}

// newEcho creates the echo instance with the middleware every route shares.
func newEcho(onError func(err error)) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler(onError)

	e.Use(middleware.Recover())
	if ParamsRestAPI.DebugRequestLoggerEnabled {
		e.Use(middleware.Logger())
	}
	e.Use(middleware.CORS())
	if ParamsRestAPI.UseGZIP {
		e.Use(middleware.Gzip())
	}
	e.Use(middleware.BodyLimit(ParamsRestAPI.Limits.MaxBodyLength))

	return e
}

func configure() error {
	if deps.Registerer != nil {
		httpRequestErrors = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "claimescrow",
			Subsystem: "restapi",
			Name:      "http_request_errors_total",
			Help:      "Number of REST requests that failed with a server error.",
		})
		deps.Registerer.MustRegister(httpRequestErrors)
	}

	if ParamsRestAPI.RateLimiting.Enabled {
		rl := newIPRateLimiter(
			ParamsRestAPI.RateLimiting.MaxRequestsPerSecond,
			ParamsRestAPI.RateLimiting.Burst,
		)
		deps.Echo.Use(rateLimitMiddleware(rl))
		Component.LogInfof("Rate limiting enabled: %.1f req/s, burst %d",
			ParamsRestAPI.RateLimiting.MaxRequestsPerSecond,
			ParamsRestAPI.RateLimiting.Burst)
	}

	api := &claimAPI{
		service:    deps.Service,
		alerts:     deps.AlertManager,
		audit:      deps.AuditLogger,
		maxResults: ParamsRestAPI.Limits.MaxResults,
	}
	api.setupRoutes(deps.Echo)

	return nil
}

func run() error {
	Component.LogInfo("Starting REST-API server ...")

	if err := Component.Daemon().BackgroundWorker("REST-API server", func(ctx context.Context) {
		Component.LogInfo("Starting REST-API server ... done")

		bindAddr := ParamsRestAPI.BindAddress

		go func() {
			Component.LogInfof("You can now access the API using: http://%s", bindAddr)
			if err := deps.Echo.Start(bindAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				Component.LogWarnf("Stopped REST-API server due to an error (%s)", err)
			}
		}()

		<-ctx.Done()
		Component.LogInfo("Stopping REST-API server ...")

		shutdownCtx, shutdownCtxCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCtxCancel()

		//nolint:contextcheck // false positive
		if err := deps.Echo.Shutdown(shutdownCtx); err != nil {
			Component.LogWarn(err)
		}

		Component.LogInfo("Stopping REST-API server ... done")
	}, daemon.PriorityRestAPI); err != nil {
		Component.LogPanicf("failed to start worker: %s", err)
	}

	return nil
}
