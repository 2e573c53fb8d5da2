package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/npezzotti/kite-relay/internal/api"
	"github.com/npezzotti/kite-relay/internal/config"
	"github.com/npezzotti/kite-relay/internal/database"
	"github.com/npezzotti/kite-relay/internal/event"
	"github.com/npezzotti/kite-relay/internal/l10n"
	"github.com/npezzotti/kite-relay/internal/server"
	"github.com/npezzotti/kite-relay/internal/stats"
	"github.com/npezzotti/kite-relay/internal/telegram"
	"github.com/npezzotti/kite-relay/internal/widget"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

func NewServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the relay hub",
		Long:  "Run the relay hub. Configuration is read from KITE_* environment variables.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}

			logger, err := newLogger(cfg)
			if err != nil {
				return fmt.Errorf("logger: %w", err)
			}

			return serve(cmd.Context(), logger, cfg)
		},
	}
}

type stores struct {
	repo   database.KiteRepository
	ids    database.MessageIdMapper
	pins   database.UnansweredMessages
	closer func() error
}

func openStores(ctx context.Context, logger *slog.Logger, cfg *config.Config) (*stores, error) {
	s := &stores{closer: func() error { return nil }}

	switch cfg.Store {
	case config.StorePostgres:
		pg, err := database.NewPgKiteRepository(cfg.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("db open: %w", err)
		}
		s.repo, s.pins, s.closer = pg, pg, pg.Close
	default:
		mem := database.NewMemoryRepository()
		s.repo, s.pins = mem, mem
	}
	s.ids = database.NewMemoryIdMapper(cfg.IdMappingTTL)

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			s.closer()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		logger.Info("using redis for id mappings and pins", "addr", cfg.RedisAddr)
		s.ids = database.NewRedisIdMapper(rdb, cfg.IdMappingTTL)
		s.pins = database.NewRedisUnanswered(rdb)

		dbClose := s.closer
		s.closer = func() error {
			var result *multierror.Error
			if err := rdb.Close(); err != nil {
				result = multierror.Append(result, fmt.Errorf("redis close: %w", err))
			}
			if err := dbClose(); err != nil {
				result = multierror.Append(result, fmt.Errorf("db close: %w", err))
			}
			return result.ErrorOrNil()
		}
	}

	return s, nil
}

func serve(ctx context.Context, logger *slog.Logger, cfg *config.Config) error {
	st, err := openStores(ctx, logger, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.closer(); err != nil {
			logger.Error("store close", "error", err)
		}
	}()

	catalog, err := l10n.Load()
	if err != nil {
		return fmt.Errorf("l10n: %w", err)
	}

	mux := http.NewServeMux()
	statsUpdater := stats.NewStatsUpdater(mux)

	var dispatcherOpts []event.Option
	if cfg.EventsAsync {
		dispatcherOpts = append(dispatcherOpts, event.WithQueue(cfg.EventsQueue))
	}
	dispatcher := event.NewDispatcher(logger.With("component", "events"), dispatcherOpts...)

	routingOpts := []server.RoutingOption{server.WithIdMapper(st.ids)}
	if cfg.SingleRouteDelivery {
		routingOpts = append(routingOpts, server.WithSingleRouteDelivery())
	}

	router := server.NewRouter(logger.With("component", "router"))
	routing := server.NewRoutingService(logger.With("component", "routing"), router, st.repo, dispatcher, statsUpdater, routingOpts...)
	members := server.NewMemberService(logger.With("component", "members"), routing, st.repo, dispatcher, statsUpdater, catalog, cfg.Widget)
	kite := server.NewKite(members, routing)

	server.Subscribe(dispatcher,
		server.NewHistoryListener(logger, st.repo),
		server.NewUnansweredListener(logger, st.pins, router),
		server.NewIdMappingListener(logger, st.ids),
		server.NewMembershipListener(logger, st.repo),
		server.NewHistoryResender(logger, st.repo, router, telegram.ProviderId),
	)

	ws := widget.NewProvider(logger.With("provider", widget.ProviderId), kite, dispatcher,
		widget.NewTokenIssuer(cfg.SigningKey), statsUpdater, cfg.AllowedOrigins)
	router.Register(ws)

	var webhook http.Handler
	if cfg.TelegramToken != "" {
		bot, err := telegram.NewBot(cfg.TelegramToken)
		if err != nil {
			return fmt.Errorf("telegram bot: %w", err)
		}
		tg := telegram.NewProvider(logger.With("provider", telegram.ProviderId), bot, kite)
		router.Register(tg)
		webhook = telegram.NewWebhook(tg, cfg.TelegramSecret)

		if cfg.TelegramWebhookURL != "" {
			if err := tg.SetWebhook(ctx, cfg.TelegramWebhookURL, cfg.TelegramSecret); err != nil {
				return fmt.Errorf("telegram webhook: %w", err)
			}
		}
	}

	srv := api.NewKiteApp(mux, logger, st.repo, ws, webhook, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	dispatcher.Run()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Info("received signal", "signal", sig.String())
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server", "error", err)
		}
	}

	shutDownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var result *multierror.Error
	if err := srv.Shutdown(shutDownCtx); err != nil {
		result = multierror.Append(result, fmt.Errorf("HTTP server shutdown: %w", err))
	}

	logger.Info("closing widget connections...")
	if err := ws.Shutdown(shutDownCtx); err != nil {
		result = multierror.Append(result, fmt.Errorf("widget shutdown: %w", err))
	}

	logger.Info("draining events...")
	if err := dispatcher.Shutdown(shutDownCtx); err != nil {
		result = multierror.Append(result, fmt.Errorf("event dispatcher shutdown: %w", err))
	}

	if err := result.ErrorOrNil(); err != nil {
		return err
	}

	logger.Info("shutdown complete")
	return nil
}
