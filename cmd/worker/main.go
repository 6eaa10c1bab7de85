package main

import (
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/tenantops/announcer/internal/config"
	"github.com/tenantops/announcer/internal/dispatch"
	"github.com/tenantops/announcer/internal/repository"
	"github.com/tenantops/announcer/internal/resolver"
	"github.com/tenantops/announcer/internal/transport"
	"github.com/tenantops/announcer/pkg/logger"
	"github.com/tenantops/announcer/pkg/pg"
	"github.com/tenantops/announcer/pkg/prom"
	"github.com/tenantops/announcer/pkg/redis"
)

func main() {
	if err := config.Load(argContainsEnvPath()); err != nil {
		logger.Error("failed to load config", "error", err)
		return
	}

	readConf := pg.Config{
		User:     config.Get().PostgresReadUser,
		Host:     config.Get().PostgresReadHost,
		Port:     config.Get().PostgresReadPort,
		Password: config.Get().PostgresReadPassword,
		Database: config.Get().PostgresReadDatabase,
	}
	writeConf := pg.Config{
		User:     config.Get().PostgresWriteUser,
		Host:     config.Get().PostgresWriteHost,
		Port:     config.Get().PostgresWritePort,
		Password: config.Get().PostgresWritePassword,
		Database: config.Get().PostgresWriteDatabase,
	}

	db, err := pg.CreateReadWrite(readConf, writeConf, config.Get().AppEnv == "dev")
	if err != nil {
		logger.Error("failed connecting to pg", "error", err)
		return
	}

	redisAdap, err := redis.NewAdapter("default", config.Get().RedisKeyPrefix, &redis.Options{
		Addrs:      []string{config.Get().RedisAddr},
		ClientName: "default",
		DB:         config.Get().RedisDatabase,
		Username:   config.Get().RedisUsername,
		Password:   config.Get().RedisPassword,
	})
	if err != nil {
		logger.Error("failed connecting to redis", "error", err)
		return
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	if err := prom.Create(hostname, config.Get().AppEnv, config.Get().PromNamespace); err != nil {
		logger.Error("failed to create prometheus metrics", "error", err)
		return
	}

	service, err := dispatch.NewService(redisAdap, config.Get())
	if err != nil {
		logger.Error("failed to create dispatch service", "error", err)
		return
	}

	announcementRepo := repository.NewAnnouncementRepository(db)
	recipientRepo := repository.NewRecipientRepository(db)
	tenantRepo := repository.NewTenantRepository(db)

	provider := transport.NewProviderClient(config.Get().ProviderURL, config.Get().ProviderTimeout)

	fanout := dispatch.NewFanOutCoordinator(
		announcementRepo,
		recipientRepo,
		resolver.New(tenantRepo),
		service.DeliverPublisher(),
		service.WatchPublisher(),
		dispatch.FanoutConfig{
			JitterMin:         config.Get().DeliveryJitterMin,
			JitterMax:         config.Get().DeliveryJitterMax,
			WatchInitialDelay: config.Get().WatchInitialDelay,
		},
	)
	delivery := dispatch.NewDeliveryProcessor(announcementRepo, recipientRepo, tenantRepo, provider)
	watch := dispatch.NewCompletionWatcher(announcementRepo, recipientRepo, service.WatchPublisher(), dispatch.WatcherConfig{
		PollInterval: config.Get().WatchPollInterval,
		MaxElapsed:   config.Get().WatchMaxElapsed,
	})

	service.RegisterProcessors(fanout, delivery, watch)

	go func() {
		if err := prom.ListenAndServe(":9100", "/metrics"); err != nil {
			logger.Error("error in running metrics server", "error", err)
		}
	}()

	go func() {
		if err := service.Start(); err != nil {
			logger.Error("failed to start dispatch service", "error", err)
		}
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	service.Stop()
}

func argContainsEnvPath() string {
	for _, v := range os.Args {
		if strings.Contains(v, "--env=") {
			s := strings.Split(v, "=")
			if _, err := os.Open(s[1]); err != nil {
				logger.Error("failed to open the passed env file, got error" + err.Error())
				return ""
			}
			return s[1]
		}
	}
	return ""
}
