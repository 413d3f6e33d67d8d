/**
 * @description
 * This is the main entry point for the keeper. The keeper is a non-HTTP,
 * long-running process with two responsibilities: relaying settlement events
 * (bridge deliveries and withdrawal intents) into controller and agent HTTP
 * calls, and periodically reporting the remote position's value to the
 * controller on a cron schedule.
 */
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vaultra/treasury-service/internal/config"
	"github.com/vaultra/treasury-service/internal/domain"
	"github.com/vaultra/treasury-service/internal/keeper"
	"github.com/vaultra/treasury-service/pkg/agentclient"
	"github.com/vaultra/treasury-service/pkg/controllerclient"
	"github.com/vaultra/treasury-service/pkg/rabbitmq"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	// Load application configuration
	cfg, err := config.LoadConfig(".")
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if strings.TrimSpace(cfg.KeeperID) == "" {
		logger.Error("keeper identity must be configured", "env", "KEEPER_ID")
		os.Exit(1)
	}

	// Initialize the HTTP clients for both sides of the protocol.
	controllerClient := controllerclient.NewClient(cfg.ControllerServiceURL, cfg.InternalAPIKey, cfg.KeeperID)
	agentClient := agentclient.NewClient(cfg.AgentServiceURL, cfg.InternalAPIKey)

	// The relay lock is optional: without Redis a single keeper replica
	// still works, relying on the controller's transfer-state guards.
	var relayLock keeper.RelayLock = keeper.NoopRelayLock{}
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			logger.Warn("redis url parse failed; relay lock disabled", "error", parseErr)
		} else {
			redisClient := redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			pingErr := redisClient.Ping(pingCtx).Err()
			cancelPing()
			if pingErr != nil {
				logger.Warn("redis ping failed; relay lock disabled", "error", pingErr)
				redisClient.Close()
			} else {
				defer redisClient.Close()
				relayLock = keeper.NewRedisRelayLock(redisClient, cfg.RedisLockPrefix, cfg.KeeperID)
				logger.Info("redis relay lock enabled")
			}
		}
	}

	relay := keeper.NewRelay(controllerClient, agentClient, relayLock, logger)

	// Consume bridge deliveries and the controller's withdrawal intents.
	consumer, err := rabbitmq.NewConsumer(cfg.RabbitMQURL)
	if err != nil {
		logger.Error("rabbitmq consumer init failed", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	deliveryBindings := map[string]func([]byte) bool{
		domain.RoutingKeyBridgeOutboundDelivered: relay.HandleOutboundDelivery,
		domain.RoutingKeyBridgeReturnDelivered:   relay.HandleReturnDelivery,
	}
	if err := consumer.ConsumeWithBindings(domain.BridgeExchange, cfg.BridgeDeliveryQueue, deliveryBindings); err != nil {
		logger.Error("bridge delivery consumer start failed", "error", err)
		os.Exit(1)
	}

	intentConsumer, err := rabbitmq.NewConsumer(cfg.RabbitMQURL)
	if err != nil {
		logger.Error("rabbitmq intent consumer init failed", "error", err)
		os.Exit(1)
	}
	defer intentConsumer.Close()

	intentBindings := map[string]func([]byte) bool{
		domain.RoutingKeyWithdrawalInitiated: relay.HandleWithdrawalRequested,
	}
	if err := intentConsumer.ConsumeWithBindings(domain.EventsExchange, cfg.BridgeDeliveryQueue+".intents", intentBindings); err != nil {
		logger.Error("withdrawal intent consumer start failed", "error", err)
		os.Exit(1)
	}

	// Start the mark-to-market cron in the background.
	jobs := keeper.NewJobs(controllerClient, agentClient, logger)
	scheduler := keeper.NewScheduler(jobs, logger, cfg)
	scheduler.Start()
	logger.Info("keeper started", "keeper_id", cfg.KeeperID)

	// Wait for termination signal to gracefully shut down
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutdown signal received, stopping scheduler")
	stopCtx := scheduler.Stop()
	<-stopCtx.Done() // Wait for scheduler to fully stop
	logger.Info("keeper stopped gracefully")
}
