package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/ariefcatur/go-shop-payments.git/internal/config"
	kafkax "github.com/ariefcatur/go-shop-payments.git/internal/kafka"
	"github.com/ariefcatur/go-shop-payments.git/internal/orders"
)

func mustAtoi(s, def string) int {
	if s == "" {
		s = def
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return 1
	}
	return i
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// handleAlert surfaces operator-facing alerts (disputes, refund divergence,
// unreconcilable events) from the ops topic. Today that means a loud log
// line; the notices table holds the durable copy.
func handleAlert(ctx context.Context, m kafkago.Message) error {
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		return err
	}
	if env.EventType != orders.EventOpsAlert {
		return nil
	}
	p, err := kafkax.UnwrapPayload[orders.OpsAlertPayload](env.Payload)
	if err != nil {
		return err
	}
	log.Printf("ALERT [%s] order=%s %s", p.Kind, p.OrderID, p.Detail)
	return nil
}

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	group := getenv("OPS_GROUP", "payment-ops")
	workers := mustAtoi(os.Getenv("OPS_WORKERS"), "2")
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, group, orders.TopicPaymentAlerts, workers)

	go func() {
		log.Printf("ops consumer started: group=%s topic=%s workers=%d", group, orders.TopicPaymentAlerts, workers)
		if err := cons.Start(ctx, handleAlert); err != nil {
			log.Printf("consumer exit: %v", err)
			cancel()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	log.Println("shutting down consumer...")
	cancel()
	time.Sleep(500 * time.Millisecond)
}
