package main

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/rl1809/cart-sync/internal/adapter/handler"
	"github.com/rl1809/cart-sync/internal/adapter/remote"
	"github.com/rl1809/cart-sync/internal/adapter/storage"
	"github.com/rl1809/cart-sync/internal/config"
	"github.com/rl1809/cart-sync/internal/core/domain"
	"github.com/rl1809/cart-sync/internal/core/service"
	hub "github.com/rl1809/cart-sync/internal/core/signal"
	"github.com/rl1809/cart-sync/internal/port"
)

const (
	defaultConfigPath = "config.yaml"
	archiveTimeout    = 5 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// sessionStore is what every backing store offers: per-session storage,
// its change events, the catalog snapshot and the submission guard.
type sessionStore interface {
	port.LocalStorage
	port.StorageEvents
	port.SnapshotCache
	port.SubmissionGuard
}

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = defaultConfigPath
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		panic(err)
	}

	log, err := cfg.NewLogger()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Redis, or keep sessions in memory for a single instance
	var store sessionStore
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal("failed to connect redis", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
		store = storage.NewRedisAdapter(rdb, cfg.Redis.SessionTTL, log.Named("redis"))
		log.Info("connected to redis", zap.String("addr", cfg.Redis.Addr))
	} else {
		store = storage.NewMemoryAdapter()
		log.Warn("no redis configured, sessions are kept in memory")
	}

	// Initialize MySQL when an archive/feed database is configured
	var db *sql.DB
	var mysqlAdapter *storage.MySQLAdapter
	if cfg.MySQL.DSN != "" {
		db, err = sql.Open("mysql", cfg.MySQL.DSN)
		if err != nil {
			log.Fatal("failed to open mysql", zap.Error(err))
		}
		db.SetMaxOpenConns(cfg.MySQL.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MySQL.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.MySQL.ConnMaxLifetime)

		if err := db.PingContext(ctx); err != nil {
			log.Fatal("failed to ping mysql", zap.Error(err))
		}
		mysqlAdapter = storage.NewMySQLAdapter(db)
		if err := mysqlAdapter.EnsureSchema(ctx); err != nil {
			log.Fatal("failed to prepare schema", zap.Error(err))
		}
		log.Info("connected to mysql")
	}

	if cfg.Orders.Endpoint == "" {
		log.Fatal("orders.endpoint (ORDER_ENDPOINT) is required")
	}

	// Initialize services
	signals := hub.NewHub(log.Named("signal"))
	carts := service.NewCartService(store, signals, log.Named("cart"))
	prefs := service.NewPreferenceService(store, signals, log.Named("preferences"))

	var catalog *service.CatalogService
	if mysqlAdapter != nil {
		catalog = service.NewCatalogService(mysqlAdapter, log.Named("catalog"))
	}

	var source port.CatalogSource
	switch {
	case cfg.Catalog.URL != "":
		source = remote.NewCatalogClient(cfg.Catalog.URL, cfg.Catalog.Timeout, log.Named("catalog_client"))
	case catalog != nil:
		source = catalog
		log.Info("serving catalog from mysql")
	default:
		log.Fatal("no catalog source: set catalog.url (CATALOG_URL) or mysql.dsn (MYSQL_DSN)")
	}

	poller := service.NewInventoryPoller(source, store, cfg.Catalog.PollInterval, log.Named("inventory"))
	workspaces := service.NewWorkspaceService(poller, prefs, signals, cfg.Frequencies, log.Named("workspace"))

	timeouts := service.Timeouts{
		Checkout:     cfg.Orders.CheckoutTimeout,
		Subscription: cfg.Orders.SubscriptionTimeout,
		Lead:         cfg.Orders.LeadTimeout,
	}
	orders := service.NewOrderService(carts, remote.NewOrderClient(cfg.Orders.Endpoint, log.Named("order_client")), store, timeouts, cfg.Orders.QueueSize, log.Named("orders"))
	postal := service.NewPostalService(remote.NewPostalClient(cfg.Postal.BaseURL, cfg.Postal.Country, cfg.Postal.Timeout), log.Named("postal"))

	// Start background loops
	var background sync.WaitGroup
	background.Add(3)
	go func() {
		defer background.Done()
		if err := signals.Run(ctx, store); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("storage event relay stopped", zap.Error(err))
		}
	}()
	go func() {
		defer background.Done()
		poller.Run(ctx)
	}()
	go func() {
		defer background.Done()
		workspaces.RunSweeper(ctx, cfg.Workspace.SweepInterval, cfg.Workspace.IdleTimeout)
	}()

	// Start archive worker pool
	var archiveRepo port.OrderRepository
	if mysqlAdapter != nil {
		archiveRepo = mysqlAdapter
	}
	var wg sync.WaitGroup
	for i := 0; i < cfg.Orders.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			workerLoop(id, orders.GetArchiveQueue(), archiveRepo, log.Named("archive"))
		}(i)
	}
	log.Info("started archive workers", zap.Int("count", cfg.Orders.Workers))

	// Initialize gRPC server
	var grpcServer *grpc.Server
	healthServer := health.NewServer()
	if cfg.GRPCAddr != "" {
		grpcServer = grpc.NewServer()
		handler.RegisterCartServer(grpcServer, handler.NewGRPCHandler(carts, prefs, poller, signals, log.Named("grpc")))
		healthpb.RegisterHealthServer(grpcServer, healthServer)
		healthServer.SetServingStatus(handler.CartServiceName, healthpb.HealthCheckResponse_SERVING)

		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			log.Fatal("failed to listen", zap.String("addr", cfg.GRPCAddr), zap.Error(err))
		}

		go func() {
			log.Info("gRPC server listening", zap.String("addr", cfg.GRPCAddr))
			if err := grpcServer.Serve(lis); err != nil {
				log.Error("gRPC server error", zap.Error(err))
			}
		}()
	} else {
		log.Info("gRPC server disabled")
	}

	// Initialize HTTP server
	var httpServer *http.Server
	if cfg.HTTPAddr != "" {
		if catalog != nil && cfg.Admin.Token == "" {
			log.Warn("no admin token configured, catalog admin routes are disabled")
		}
		httpHandler := handler.NewHTTPHandler(handler.Services{
			Carts:       carts,
			Preferences: prefs,
			Workspaces:  workspaces,
			Orders:      orders,
			Postal:      postal,
			Inventory:   poller,
			Catalog:     catalog,
			Signals:     signals,
			AdminToken:  cfg.Admin.Token,
		}, log.Named("http"))

		httpServer = &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           httpHandler.Routes(),
			ReadHeaderTimeout: 10 * time.Second,
			BaseContext:       func(net.Listener) context.Context { return ctx },
		}

		go func() {
			log.Info("HTTP server listening", zap.String("addr", cfg.HTTPAddr))
			if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				log.Error("HTTP server error", zap.Error(err))
			}
		}()
	} else {
		log.Info("HTTP server disabled")
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down...")

	// Stop HTTP server; open event streams end with the base context
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	healthServer.Shutdown()
	cancel()
	if httpServer != nil {
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Warn("HTTP shutdown incomplete", zap.Error(err))
		}
		log.Info("HTTP server stopped")
	}

	// Stop gRPC server; watch streams outlive a graceful stop
	if grpcServer != nil {
		stopped := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-shutdownCtx.Done():
			grpcServer.Stop()
		}
		log.Info("gRPC server stopped")
	}

	background.Wait()
	workspaces.Shutdown()

	// Close archive queue and wait for workers
	orders.Close()
	wg.Wait()
	log.Info("workers stopped")

	// Close connections
	if rdb != nil {
		rdb.Close()
	}
	if db != nil {
		db.Close()
	}
	log.Info("connections closed")
}

func workerLoop(id int, queue <-chan domain.Submission, repo port.OrderRepository, log *zap.Logger) {
	for sub := range queue {
		if repo == nil {
			log.Debug("no archive configured, dropping submission", zap.Int("worker", id), zap.String("order", sub.OrderNumber))
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
		if err := repo.ArchiveOrder(ctx, sub); err != nil {
			log.Error("failed to archive submission",
				zap.Int("worker", id),
				zap.String("order", sub.OrderNumber),
				zap.String("source", string(sub.Source)),
				zap.Error(err),
			)
		} else {
			log.Debug("archived submission", zap.Int("worker", id), zap.String("order", sub.OrderNumber))
		}
		cancel()
	}
}
