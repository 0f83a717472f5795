package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
	pb "github.com/ogozo/proto-definitions/gen/go/product"
	"github.com/ogozo/service-product/internal/broker"
	"github.com/ogozo/service-product/internal/cache"
	"github.com/ogozo/service-product/internal/config"
	"github.com/ogozo/service-product/internal/logging"
	"github.com/ogozo/service-product/internal/metrics"
	"github.com/ogozo/service-product/internal/product"
	"github.com/ogozo/service-product/internal/stock"
	"github.com/ogozo/service-product/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func main() {
	// 1. Configuration and logging
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if _, err := logging.Init(cfg.OtelServiceName, cfg.LogLevel); err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logging.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logging.L().Fatal("product service stopped with error", zap.Error(err))
	}
	logging.L().Info("product service stopped")
}

func run(ctx context.Context, cfg *config.ProductConfig) error {
	tp, err := telemetry.InitTracerProvider(ctx, cfg.OtelServiceName, cfg.OtelExporterEndpoint)
	if err != nil {
		return fmt.Errorf("init tracer provider: %w", err)
	}

	// 2. Postgres
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("parse database url: %w", err)
	}
	poolCfg.MaxConns = cfg.DBMaxConns
	poolCfg.ConnConfig.Tracer = otelpgx.NewTracer()
	dbpool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	if err := dbpool.Ping(ctx); err != nil {
		dbpool.Close()
		return fmt.Errorf("ping database: %w", err)
	}
	logging.Info(ctx, "database connection successful")

	repo := product.NewRepository(dbpool)
	if err := repo.EnsureSchema(ctx); err != nil {
		dbpool.Close()
		return fmt.Errorf("ensure schema: %w", err)
	}

	// 3. Redis
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		dbpool.Close()
		return fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(rdb); err != nil {
		logging.Warn(ctx, "redis tracing instrumentation failed", zap.Error(err))
	}

	// 4. Message transport
	transport, err := newTransport(cfg)
	if err != nil {
		_ = rdb.Close()
		dbpool.Close()
		return err
	}
	logging.Info(ctx, "message transport connected", zap.String("transport", cfg.Transport))

	// 5. Wiring (Repository -> Service -> Handler, Buffer -> Ingestor/Flusher)
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	svc := product.NewService(repo, cache.NewRedisCache(rdb), transport, m, cfg.CacheTTL)
	buf := stock.NewBuffer()
	ingestor := stock.NewIngestor(buf, m)
	flusher := stock.NewFlusher(buf, transport, stock.NewIntervalTrigger(cfg.FlushInterval), m)

	lis, err := net.Listen("tcp", cfg.GRPCPort)
	if err != nil {
		_ = transport.Close()
		_ = rdb.Close()
		dbpool.Close()
		return fmt.Errorf("listen on %s: %w", cfg.GRPCPort, err)
	}
	srv := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	pb.RegisterProductServiceServer(srv, product.NewHandler(svc))
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	// 6. Run until a signal arrives or a component fails. Shutdown stops the
	// gRPC server, then the consumers, then the flusher with its final flush.
	g, gctx := errgroup.WithContext(ctx)
	consumeCtx, stopConsume := context.WithCancel(context.Background())
	defer stopConsume()
	flushCtx, stopFlush := context.WithCancel(context.Background())
	defer stopFlush()
	grpcStopped := make(chan struct{})

	g.Go(func() error {
		defer close(grpcStopped)
		errCh := make(chan error, 1)
		go func() { errCh <- srv.Serve(lis) }()
		logging.Info(ctx, "product gRPC server listening", zap.String("addr", lis.Addr().String()))
		select {
		case err := <-errCh:
			return fmt.Errorf("grpc serve: %w", err)
		case <-gctx.Done():
			hs.Shutdown()
			gracefulStop(srv, cfg.ShutdownTimeout)
			return nil
		}
	})

	g.Go(func() error {
		return metrics.Serve(gctx, cfg.MetricsPort, reg)
	})

	g.Go(func() error {
		<-gctx.Done()
		<-grpcStopped
		stopConsume()
		return nil
	})

	consumers, cctx := errgroup.WithContext(consumeCtx)
	consumers.Go(func() error {
		return transport.ConsumeOrderCreated(cctx, cfg.OrderPrefetch, ingestor.HandleOrderCreated)
	})
	consumers.Go(func() error {
		return transport.ConsumeStockUpdateTasks(cctx, cfg.StockUpdatePrefetch, svc.ApplyStockUpdate)
	})
	g.Go(func() error {
		err := consumers.Wait()
		stopFlush()
		return err
	})

	g.Go(func() error {
		return flusher.Run(flushCtx)
	})

	runErr := g.Wait()

	// 7. Release external resources.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	var errs []error
	if err := transport.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close transport: %w", err))
	}
	if err := rdb.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close redis: %w", err))
	}
	dbpool.Close()
	if err := tp.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown tracer provider: %w", err))
	}
	for _, err := range errs {
		logging.Error(shutdownCtx, "shutdown step failed", err)
	}
	return runErr
}

func newTransport(cfg *config.ProductConfig) (broker.Transport, error) {
	switch cfg.Transport {
	case config.TransportKafka:
		return broker.NewKafkaBroker(cfg.KafkaBrokers, cfg.KafkaGroupID), nil
	case config.TransportRabbitMQ:
		b, err := broker.NewBroker(cfg.RabbitMQURL)
		if err != nil {
			return nil, fmt.Errorf("connect to rabbitmq: %w", err)
		}
		return b, nil
	default:
		return nil, errors.New("unknown transport " + cfg.Transport)
	}
}

// gracefulStop waits for in-flight RPCs up to timeout, then forces the stop.
func gracefulStop(srv *grpc.Server, timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		srv.Stop()
	}
}
