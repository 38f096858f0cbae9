/**
 * @description
 * Entry point for the meal-mitra notifier worker. It consumes notification events
 * published by the API on the events exchange and delivers them as email over SMTP.
 *
 * @dependencies
 * - github.com/joho/godotenv: For loading .env files during local development.
 * - pkg/rabbitmq, pkg/mailer: Queue consumer and SMTP delivery.
 */

package main

import (
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/pankajsagvekar/meal-mitra/internal/app"
	"github.com/pankajsagvekar/meal-mitra/internal/config"
	"github.com/pankajsagvekar/meal-mitra/pkg/mailer"
	"github.com/pankajsagvekar/meal-mitra/pkg/rabbitmq"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("cannot load config: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("component", "notifier")
	if cfg.SMTPHost == "" {
		logger.Warn("SMTP_HOST is not set; deliveries will fail and be dropped after one retry")
	}

	sender := mailer.NewSMTPSender(mailer.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
	})
	delivery := app.NewDelivery(sender, 15*time.Second, logger)

	consumer, err := rabbitmq.NewConsumer(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"rabbitmq consumer init failed\" err=%v", err)
	}
	defer consumer.Close()

	bindings := map[string]func([]byte) bool{
		"notification.#": delivery.HandleMessage,
	}
	if err := consumer.ConsumeWithBindings(cfg.EventsExchange, cfg.NotificationQueue, bindings); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"notification consumer start failed\" err=%v", err)
	}
	logger.Info("notifier consuming", "exchange", cfg.EventsExchange, "queue", cfg.NotificationQueue)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("notifier shutting down")
}
