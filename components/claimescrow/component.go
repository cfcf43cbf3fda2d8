package claimescrow

import (
	"context"

	"github.com/iotaledger/hive.go/app"
	"github.com/iotaledger/hive.go/kvstore"
	iotago "github.com/iotaledger/iota.go/v3"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/dig"

	"github.com/dueldanov/claimescrow/internal/custody"
	"github.com/dueldanov/claimescrow/internal/monitoring"
	"github.com/dueldanov/claimescrow/internal/security"
	"github.com/dueldanov/claimescrow/internal/service"
	"github.com/dueldanov/claimescrow/internal/verification"
	"github.com/dueldanov/claimescrow/pkg/daemon"
)

func init() {
	Component = &app.Component{
		Name:     "ClaimEscrow",
		DepsFunc: func(cDeps dependencies) { deps = cDeps },
		Params:   params,
		IsEnabled: func(_ *dig.Container) bool {
			return ParamsClaimEscrow.Enabled
		},
		Provide:   provide,
		Configure: configure,
		Run:       run,
	}
}

var (
	Component  *app.Component
	deps       dependencies
	grpcServer *service.GRPCServer
)

type dependencies struct {
	dig.In

	Service      *service.Service
	RateLimiter  *verification.RateLimiter
	Metrics      *monitoring.MetricsCollector
	AlertManager *monitoring.AlertManager
	AuditLogger  *security.AuditLogger
}

func provide(c *dig.Container) error {
	type custodyDeps struct {
		dig.In
		Store kvstore.KVStore
	}

	if err := c.Provide(func(deps custodyDeps) (*custody.Store, error) {
		return custody.NewStore(deps.Store)
	}); err != nil {
		Component.LogPanic(err)
	}

	type serviceDeps struct {
		dig.In
		Store   kvstore.KVStore
		Custody *custody.Store
	}

	if err := c.Provide(func(deps serviceDeps) (*service.Service, error) {
		return service.NewService(
			Component.App().NewLogger("ClaimEscrow"),
			deps.Store,
			deps.Custody,
			&service.ServiceConfig{
				DataDir:        ParamsClaimEscrow.DataDir,
				NetworkPrefix:  iotago.NetworkPrefix(ParamsClaimEscrow.NetworkPrefix),
				TicketLifetime: ParamsClaimEscrow.TicketLifetime,
			},
		)
	}); err != nil {
		Component.LogPanic(err)
	}

	if err := c.Provide(func() *verification.RateLimiter {
		return verification.NewRateLimiter(&verification.RateLimiterConfig{
			Burst:  ParamsClaimEscrow.RateLimit.Burst,
			Window: ParamsClaimEscrow.RateLimit.Window,
		})
	}); err != nil {
		Component.LogPanic(err)
	}

	type metricsDeps struct {
		dig.In
		Registerer prometheus.Registerer `optional:"true"`
	}

	if err := c.Provide(func(deps metricsDeps) *monitoring.MetricsCollector {
		registerer := deps.Registerer
		if registerer == nil {
			// metrics are still collected, just not exported
			registerer = prometheus.NewRegistry()
		}

		return monitoring.NewMetricsCollector(Component.App().NewLogger("ClaimEscrow-Metrics"), registerer)
	}); err != nil {
		Component.LogPanic(err)
	}

	if err := c.Provide(func(metrics *monitoring.MetricsCollector) *monitoring.AlertManager {
		return monitoring.NewAlertManager(Component.App().NewLogger("ClaimEscrow-Alerts"), metrics, &monitoring.AlertConfig{
			GuessThreshold:   ParamsClaimEscrow.Alerts.GuessThreshold,
			GuessWindow:      ParamsClaimEscrow.Alerts.GuessWindow,
			PendingThreshold: ParamsClaimEscrow.Alerts.PendingThreshold,
			Cooldown:         ParamsClaimEscrow.Alerts.Cooldown,
		})
	}); err != nil {
		Component.LogPanic(err)
	}

	type auditDeps struct {
		dig.In
		Store kvstore.KVStore
	}

	if err := c.Provide(func(deps auditDeps) (*security.AuditLogger, error) {
		storage, err := security.NewKVAuditStorage(deps.Store)
		if err != nil {
			return nil, err
		}

		return security.NewAuditLogger(Component.App().NewLogger("ClaimEscrow-Audit"), storage, &security.AuditConfig{
			BufferSize:    ParamsClaimEscrow.Audit.BufferSize,
			FlushInterval: ParamsClaimEscrow.Audit.FlushInterval,
		})
	}); err != nil {
		Component.LogPanic(err)
	}

	return nil
}

func configure() error {
	deps.Metrics.Attach(deps.Service.Events)
	deps.AlertManager.Attach(deps.Service.Events)

	if ParamsClaimEscrow.Audit.Enabled {
		if err := deps.AuditLogger.Verify(context.Background()); err != nil {
			Component.LogErrorf("Audit trail verification failed: %v", err)
			return err
		}
		deps.AuditLogger.Attach(deps.Service.Events)
		Component.LogInfo("Audit trail verified")
	}

	var err error
	grpcServer, err = service.NewGRPCServer(deps.Service, deps.RateLimiter, service.GRPCServerConfig{
		BindAddress:   ParamsClaimEscrow.GRPC.BindAddress,
		TLSEnabled:    ParamsClaimEscrow.GRPC.TLSEnabled,
		TLSCertPath:   ParamsClaimEscrow.GRPC.TLSCertPath,
		TLSKeyPath:    ParamsClaimEscrow.GRPC.TLSKeyPath,
		TLSCACertPath: ParamsClaimEscrow.GRPC.TLSCACertPath,
		DevMode:       ParamsClaimEscrow.GRPC.DevMode,
	})
	if err != nil {
		Component.LogErrorf("Failed to create gRPC server: %v", err)
		return err
	}
	Component.LogInfo("Claim escrow gRPC server created")

	return nil
}

func run() error {
	if err := Component.Daemon().BackgroundWorker("ClaimEscrow-gRPC", func(ctx context.Context) {
		Component.LogInfof("Starting claim escrow gRPC server on %s ...", ParamsClaimEscrow.GRPC.BindAddress)

		go func() {
			if err := grpcServer.Start(); err != nil {
				Component.LogErrorf("gRPC server stopped: %v", err)
			}
		}()

		<-ctx.Done()

		Component.LogInfo("Stopping claim escrow gRPC server ...")
		grpcServer.Stop()
		Component.LogInfo("Stopping claim escrow gRPC server ... done")
	}, daemon.PriorityClaimEscrowGRPC); err != nil {
		return err
	}

	if err := Component.Daemon().BackgroundWorker("ClaimEscrow-Sweeper", func(ctx context.Context) {
		Component.LogInfof("Sweeping elapsed escrows every %v", ParamsClaimEscrow.SweepInterval)
		deps.Service.RunSweeper(ctx, ParamsClaimEscrow.SweepInterval)
		Component.LogInfo("Stopped claim sweeper")
	}, daemon.PriorityClaimSweeper); err != nil {
		return err
	}

	if err := Component.Daemon().BackgroundWorker("ClaimEscrow-Audit", func(ctx context.Context) {
		<-ctx.Done()

		Component.LogInfo("Flushing audit trail ...")
		deps.AuditLogger.Stop()
		Component.LogInfo("Flushing audit trail ... done")
	}, daemon.PriorityAuditFlush); err != nil {
		return err
	}

	return nil
}
