package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"time"

	"windpark-cloud/internal/audit"
	"windpark-cloud/internal/auth"
	"windpark-cloud/internal/eventing"
	"windpark-cloud/internal/eventing/eventbus"
	eventingrepo "windpark-cloud/internal/eventing/infrastructure/postgres"
	masterdatarepo "windpark-cloud/internal/masterdata/infrastructure/postgres"
	masterdatahttp "windpark-cloud/internal/masterdata/interfaces/http"
	"windpark-cloud/internal/observability/metrics"
	"windpark-cloud/internal/settlement/adapters/production"
	settlementapp "windpark-cloud/internal/settlement/application"
	"windpark-cloud/internal/settlement/infrastructure/invoicebridge"
	settlementrepo "windpark-cloud/internal/settlement/infrastructure/postgres"
	settlementinterfaces "windpark-cloud/internal/settlement/interfaces"
	settlementhttp "windpark-cloud/internal/settlement/interfaces/http"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg := loadConfig()
	logger := log.New(os.Stdout, "", log.LstdFlags)

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("db open error: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Fatalf("db ping error: %v", err)
	}

	metrics.Init(db, logger)
	parkChecker := auth.NewParkChecker(db)
	auditRepo := audit.NewRepository(db)

	parkRepo := masterdatarepo.NewParkRepository(db)
	turbineRepo := masterdatarepo.NewTurbineRepository(db)

	baseBus := eventbus.NewInMemoryBus()
	registry := eventing.NewRegistry()
	registry.RegisterAll(
		settlementapp.SettlementCalculated{},
		settlementapp.SettlementInvoiced{},
		settlementapp.SettlementClosed{},
	)

	outboxStore := eventingrepo.NewOutboxStore(db)
	processedStore := eventingrepo.NewProcessedStore(db)
	dlqStore := eventingrepo.NewDLQStore(db)
	dispatcher := eventing.NewDispatcher(baseBus, outboxStore, registry, dlqStore)
	publisher := eventing.NewPublisher(outboxStore, dispatcher, "", baseBus)

	eventing.Subscribe(baseBus, eventbus.EventTypeOf[settlementapp.SettlementCalculated](), "settlement.log", func(ctx context.Context, event any) error {
		evt, ok := event.(settlementapp.SettlementCalculated)
		if !ok {
			return eventbus.ErrInvalidEventType
		}
		logger.Printf("settlement calculated: park=%s period=%s mode=%s items=%d", evt.ParkID, evt.Period, evt.Mode, evt.ItemCount)
		return nil
	}, processedStore)
	eventing.Subscribe(baseBus, eventbus.EventTypeOf[settlementapp.SettlementInvoiced](), "settlement.log", func(ctx context.Context, event any) error {
		evt, ok := event.(settlementapp.SettlementInvoiced)
		if !ok {
			return eventbus.ErrInvalidEventType
		}
		logger.Printf("settlement invoiced: park=%s period=%s invoices=%d", evt.ParkID, evt.Period, evt.InvoiceCount)
		return nil
	}, processedStore)

	invoicingCfg, err := settlementapp.LoadInvoicingConfig()
	if err != nil {
		logger.Fatalf("invoicing config error: %v", err)
	}
	bridge, err := invoicebridge.NewClient(invoicingCfg)
	if err != nil {
		logger.Fatalf("invoice bridge error: %v", err)
	}

	productionReader := production.NewPeriodProductionReader(db)
	repo := settlementrepo.NewSettlementRepository(db)
	settlementPublisher := settlementinterfaces.NewOutboxPublisher(publisher)
	service, err := settlementapp.NewSettlementService(repo, productionReader, parkRepo, bridge, settlementPublisher, nil, logger, invoicingCfg.Currency)
	if err != nil {
		logger.Fatalf("settlement service error: %v", err)
	}

	settlementHandler, err := settlementhttp.NewHandler(service, parkChecker, auditRepo)
	if err != nil {
		logger.Fatalf("settlement handler error: %v", err)
	}
	parkHandler, err := masterdatahttp.NewHandler(parkRepo, turbineRepo)
	if err != nil {
		logger.Fatalf("masterdata handler error: %v", err)
	}

	// Background sweep for outbox records whose inline dispatch failed.
	go func() {
		ticker := time.NewTicker(cfg.OutboxSweepInterval)
		defer ticker.Stop()
		for range ticker.C {
			if _, err := dispatcher.Dispatch(context.Background(), 50); err != nil {
				logger.Printf("outbox dispatch error: %v", err)
			}
		}
	}()

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, nil)
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy)

	mux := http.NewServeMux()
	mux.Handle("/api/v1/settlements", settlementHandler)
	mux.Handle("/api/v1/settlements/", settlementHandler)
	mux.Handle("/api/v1/parks", parkHandler)
	mux.Handle("/api/v1/parks/", parkHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: loggingMiddleware(authMiddleware.Wrap(mux), logger)}
	logger.Printf("http listening on %s", cfg.HTTPAddr)
	logger.Fatal(server.ListenAndServe())
}

type config struct {
	DatabaseURL         string
	HTTPAddr            string
	JWTSecret           string
	OutboxSweepInterval time.Duration
}

func loadConfig() config {
	cfg := config{
		DatabaseURL:         getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		HTTPAddr:            getenvDefault("HTTP_ADDR", ":8080"),
		JWTSecret:           getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", "")),
		OutboxSweepInterval: getenvDuration("OUTBOX_SWEEP_INTERVAL", 30*time.Second),
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL or PG_DSN is required")
	}
	if cfg.JWTSecret == "" {
		log.Fatal("AUTH_JWT_SECRET is required")
	}
	return cfg
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
