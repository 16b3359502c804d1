package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/ariefcatur/go-shop-payments.git/internal/checkout"
	"github.com/ariefcatur/go-shop-payments.git/internal/config"
	"github.com/ariefcatur/go-shop-payments.git/internal/httpx"
	"github.com/ariefcatur/go-shop-payments.git/internal/inventory"
	kafkax "github.com/ariefcatur/go-shop-payments.git/internal/kafka"
	"github.com/ariefcatur/go-shop-payments.git/internal/orders"
	"github.com/ariefcatur/go-shop-payments.git/internal/payments"
	"github.com/ariefcatur/go-shop-payments.git/internal/postgres"
	"github.com/ariefcatur/go-shop-payments.git/internal/reconcile"
	"github.com/ariefcatur/go-shop-payments.git/internal/redisx"
	"github.com/ariefcatur/go-shop-payments.git/internal/refunds"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producers: placed, status change, ops alerts
	pPlaced := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderPlaced, 1024)
	pPlaced.Start(ctx)
	pStatus := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderStatus, 1024)
	pStatus.Start(ctx)
	pOps := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicPaymentAlerts, 256)
	pOps.Start(ctx)

	// Gateway
	gateway := payments.NewClient(cfg.GatewayBaseURL, cfg.GatewaySecretKey)
	verifier := payments.NewWebhookVerifier(cfg.GatewayWebhookSecret)

	// Store + services
	store := &orders.Store{DB: db, Ledger: &inventory.Ledger{DB: db}}
	api := &httpx.API{
		Checkout: &checkout.Service{
			Store:       store,
			Gateway:     gateway,
			Redis:       rdb,
			Producer:    pPlaced,
			ServiceName: cfg.ServiceName,
			Currency:    cfg.Currency,
		},
		Refunds: &refunds.Service{
			Store:       store,
			Gateway:     gateway,
			Redis:       rdb,
			Ops:         pOps,
			ServiceName: cfg.ServiceName,
		},
		Engine: &reconcile.Engine{
			Store:       store,
			Redis:       rdb,
			Notify:      pStatus,
			Ops:         pOps,
			ServiceName: cfg.ServiceName,
		},
		Verifier: verifier,
		Store:    store,
		Redis:    rdb,
	}

	router := httpx.NewRouter()
	api.Register(router)
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("HTTP listening at %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-sig:
		case <-gctx.Done():
		}
		log.Println("shutting down...")

		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		return srv.Shutdown(sctx)
	})

	if err := g.Wait(); err != nil {
		log.Printf("exit: %v", err)
	}

	// flush producers then stop their loops
	pPlaced.Close()
	pStatus.Close()
	pOps.Close()
	cancel()
	pPlaced.WaitClosed()
	pStatus.WaitClosed()
	pOps.WaitClosed()
}
