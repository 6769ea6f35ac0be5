package app

import (
	"stream-bridge/internal/common/errors"
	httpclient "stream-bridge/internal/common/http"
	"stream-bridge/internal/common/logging"
	"stream-bridge/internal/lifecycle"
	"stream-bridge/internal/mirror"
	"stream-bridge/internal/routing"
	"stream-bridge/internal/rules"
	"stream-bridge/internal/storage"
	"stream-bridge/internal/stream"
	"stream-bridge/internal/upstream"
	"stream-bridge/internal/webhook"
)

func (app *App) initializeStream() error {
	cfg := app.Config

	rulesClient := upstream.NewClient(upstream.Config{
		RulesURL:    cfg.RulesURL,
		BearerToken: cfg.BearerToken,
		UserAgent:   cfg.UserAgent,
	}, nil, app.Logger)

	dialer := stream.NewDialer(httpclient.NewStreamingClient(cfg.StreamConnectTimeout), stream.Config{
		URL:          cfg.StreamURL,
		BearerToken:  cfg.BearerToken,
		UserAgent:    cfg.UserAgent,
		MaxFrameSize: cfg.StreamMaxFrameSize,
	})

	app.Dispatcher = webhook.NewDispatcher(webhook.Config{
		Timeout:       cfg.WebhookTimeout,
		RatePerSecond: cfg.WebhookRatePerSecond,
		Burst:         cfg.WebhookBurst,
		UserAgent:     cfg.UserAgent,
	}, nil, app.Logger)

	var router lifecycle.EventRouter = routing.NewRouter(app.Dispatcher, app.Logger, routing.WithObserver(app.Metrics))

	sinks, err := app.mirrorSinks()
	if err != nil {
		return err
	}
	if len(sinks) > 0 {
		app.Mirror = mirror.NewRouter(router, sinks, app.Metrics, app.Logger)
		router = app.Mirror
	}

	app.Manager = lifecycle.New(lifecycle.Deps{
		Channels: storage.NewChannelSource(app.Store),
		Syncer:   rulesClient,
		Opener:   dialer,
		Router:   router,
		Observer: app.Metrics,
		Logger:   app.Logger,
	}, lifecycle.Config{
		Rules: rules.BuildOptions{
			MaxRuleLength: cfg.RuleMaxLength,
			MaxRules:      cfg.RuleMaxCount,
			Overflow:      rules.OverflowPolicy(cfg.RuleOverflowPolicy),
			TagPrefix:     cfg.RuleTagPrefix,
		},
		BackoffBase:            cfg.BackoffBase,
		BackoffMultiplier:      cfg.BackoffMultiplier,
		BackoffMax:             cfg.BackoffMax,
		ConnectionLimitBackoff: cfg.ConnectionLimitBackoff,
		MaxReconnectAttempts:   cfg.MaxReconnectAttempts,
		WatchdogInterval:       cfg.WatchdogInterval,
		SilenceThreshold:       cfg.SilenceThreshold,
		DispatchWorkers:        cfg.DispatchWorkers,
		DispatchQueueSize:      cfg.DispatchQueueSize,
	})
	app.Manager.OnTransition(app.publishStatus)
	return nil
}

func (app *App) mirrorSinks() ([]mirror.Sink, error) {
	var sinks []mirror.Sink

	if app.Config.MirrorRedisStream != "" {
		if app.RedisClient == nil {
			return nil, errors.ConfigError("MIRROR_REDIS_STREAM requires REDIS_ADDRESS")
		}
		sinks = append(sinks, mirror.NewRedisStreamSink(app.RedisClient, app.Config.MirrorRedisStream, 0))
		app.Logger.Info("Mirror: Redis stream", logging.String("stream", app.Config.MirrorRedisStream))
	}

	if app.Config.MirrorAMQPURL != "" {
		sink, err := mirror.DialAMQP(app.Config.MirrorAMQPURL, app.Config.MirrorAMQPExchange)
		if err != nil {
			for _, s := range sinks {
				_ = s.Close()
			}
			return nil, err
		}
		sinks = append(sinks, sink)
		app.Logger.Info("Mirror: AMQP", logging.String("exchange", app.Config.MirrorAMQPExchange))
	}

	return sinks, nil
}
