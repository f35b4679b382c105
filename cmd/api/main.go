package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/afya-pulse/triage-api/internal/classifier"
	"github.com/afya-pulse/triage-api/internal/config"
	v1 "github.com/afya-pulse/triage-api/internal/handler/v1"
	"github.com/afya-pulse/triage-api/internal/notify"
	"github.com/afya-pulse/triage-api/internal/realtime"
	"github.com/afya-pulse/triage-api/internal/service"
	"github.com/afya-pulse/triage-api/internal/store"
	"github.com/afya-pulse/triage-api/pkg/auth"
	"github.com/afya-pulse/triage-api/pkg/database"
	"github.com/afya-pulse/triage-api/pkg/logger"
	"github.com/afya-pulse/triage-api/pkg/metrics"
	"github.com/afya-pulse/triage-api/pkg/tracer"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("loading config: " + err.Error())
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		panic("building logger: " + err.Error())
	}
	defer log.Sync()

	log.Info("starting triage api",
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment),
	)

	tp, err := tracer.Init(cfg.Tracing)
	if err != nil {
		log.Fatal("initializing tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(ctx)
	}()

	db, err := database.Connect(cfg.Database)
	if err != nil {
		log.Fatal("connecting to database", zap.Error(err))
	}
	if err := database.Migrate(db, log); err != nil {
		log.Fatal("migrating database", zap.Error(err))
	}

	collector := metrics.NewCollector("pulse")
	if sqlDB, err := db.DB(); err == nil {
		go func() {
			for range time.Tick(15 * time.Second) {
				collector.DBConnections.Set(float64(sqlDB.Stats().OpenConnections))
			}
		}()
	}

	reportStore := store.NewReportStore(db)
	userStore := store.NewUserStore(db)

	hub := realtime.NewHub(log)
	hub.OnDrop(collector.BroadcastDropped.Inc)
	hub.OnPublish(func(event string) {
		collector.BroadcastEvents.WithLabelValues(event).Inc()
	})
	hub.OnClientsChanged(func(n int) {
		collector.WSConnections.Set(float64(n))
	})
	defer hub.Close()

	gateway := classifier.NewGateway(cfg.Classifier, log)
	jwtManager := auth.NewJWTManager(cfg.JWT)

	triageSvc := service.NewTriageService(reportStore, userStore, gateway, hub, cfg.Triage, log)
	authSvc := service.NewAuthService(userStore, jwtManager, log)

	var sms notify.Sender = notify.NoopSender{}
	if cfg.SMS.Enabled {
		sms = notify.NewSMSGateway(cfg.SMS, log)
	}

	router := v1.NewRouter(v1.RouterDeps{
		Config:     cfg,
		Triage:     v1.NewTriageHandler(triageSvc, collector, log),
		User:       v1.NewUserHandler(authSvc, log),
		USSD:       v1.NewUSSDHandler(triageSvc, sms, cfg.Classifier, collector, log),
		Hub:        hub,
		JWTManager: jwtManager,
		Metrics:    collector,
		Logger:     log,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("listening", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("graceful shutdown failed", zap.Error(err))
	}
	log.Info("stopped")
}
