package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"clinicq/internal/broadcast"
	"clinicq/internal/config"
	"clinicq/internal/hub"
	"clinicq/internal/notify"
	"clinicq/internal/queue"
	"clinicq/internal/store"
	"clinicq/internal/store/memory"
	"clinicq/internal/store/postgres"
)

// runtime holds everything a command needs to drive the queue engine.
type runtime struct {
	cfg     *config.Config
	logger  zerolog.Logger
	pool    *pgxpool.Pool
	store   store.Store
	hub     *hub.Hub
	service *queue.Service
	amqp    *broadcast.AMQPPublisher
	relay   *broadcast.Relay
}

func openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (store.Store, *pgxpool.Pool, error) {
	if cfg.StoreDriver == "memory" {
		logger.Warn().Msg("using in-memory store, data is lost on restart")
		return memory.New(), nil, nil
	}
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	applied, err := postgres.NewMigrator(pool).Up(ctx)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	if applied > 0 {
		logger.Info().Int("applied", applied).Msg("database migrations applied")
	}
	return postgres.NewStore(pool), pool, nil
}

func newRuntime(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*runtime, error) {
	st, pool, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	rt := &runtime{cfg: cfg, logger: logger, pool: pool, store: st, hub: hub.New(logger)}

	local := broadcast.NewHubPublisher(rt.hub)
	var publishers broadcast.Fanout
	if cfg.AMQPURL != "" {
		rt.amqp, err = broadcast.DialAMQP(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			rt.close()
			return nil, err
		}
		rt.relay, err = broadcast.NewRelay(cfg.AMQPURL, cfg.AMQPExchange, local, logger)
		if err != nil {
			rt.close()
			return nil, err
		}
		if err := rt.relay.Start(ctx); err != nil {
			rt.close()
			return nil, fmt.Errorf("start amqp relay: %w", err)
		}
		publishers = append(publishers, rt.amqp)
		logger.Info().Str("exchange", cfg.AMQPExchange).Msg("broadcasting through amqp")
	} else {
		publishers = append(publishers, local)
	}

	mode, err := queue.ParseResetMode(cfg.QueueResetPolicy)
	if err != nil {
		rt.close()
		return nil, err
	}
	location, err := cfg.Location()
	if err != nil {
		rt.close()
		return nil, err
	}

	push := notify.NewProvider(notify.ProviderConfig{Kind: cfg.NotifyProvider, Channel: "push", WebhookURL: cfg.NotifyWebhookURL, Token: cfg.NotifyWebhookToken}, logger)
	sms := notify.NewProvider(notify.ProviderConfig{Kind: cfg.NotifyProvider, Channel: "sms", WebhookURL: cfg.NotifyWebhookURL, Token: cfg.NotifyWebhookToken}, logger)

	rt.service = queue.New(st, publishers, notify.NewDispatcher(st, push, sms, logger), queue.Options{
		Policy:         queue.NumberingPolicy{Reset: mode, Location: location},
		UpcomingLimit:  cfg.QueueUpcomingLimit,
		PublishTimeout: cfg.BroadcastTimeout(),
		Logger:         logger,
	})
	return rt, nil
}

func (rt *runtime) close() {
	if rt.service != nil {
		rt.service.Drain()
	}
	if err := rt.relay.Stop(); err != nil {
		rt.logger.Warn().Err(err).Msg("stop amqp relay")
	}
	if rt.amqp != nil {
		if err := rt.amqp.Close(); err != nil {
			rt.logger.Warn().Err(err).Msg("close amqp publisher")
		}
	}
	if rt.pool != nil {
		rt.pool.Close()
	}
}
