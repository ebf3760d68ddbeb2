package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/BatmanBruc/gpt-bot/internal/catalog"
	"github.com/BatmanBruc/gpt-bot/internal/config"
	"github.com/BatmanBruc/gpt-bot/internal/gpt"
	"github.com/BatmanBruc/gpt-bot/internal/handlers"
	"github.com/BatmanBruc/gpt-bot/internal/metrics"
	"github.com/BatmanBruc/gpt-bot/internal/middleware"
	"github.com/BatmanBruc/gpt-bot/internal/quota"
	"github.com/BatmanBruc/gpt-bot/internal/scheduler"
	"github.com/BatmanBruc/gpt-bot/internal/timeutil"
	"github.com/BatmanBruc/gpt-bot/internal/webhook"
	"github.com/BatmanBruc/gpt-bot/store"
	"github.com/BatmanBruc/gpt-bot/types"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bot",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// stores groups the persistence backends serve wires together.
type stores struct {
	users    types.UserStore
	products types.ProductStore
	payments types.PaymentStore
	contexts types.ContextStore
	waiting  types.WaitingStore
	ping     func(ctx context.Context) error
	close    func()
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stdout).Level(lvl).With().Timestamp().Logger()
}

func openStores(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*stores, error) {
	if cfg.Store == "memory" {
		mem := store.NewMemoryStore(cfg.ContextSize)
		logger.Warn().Msg("using in-memory store, data is lost on restart")
		return &stores{users: mem, products: mem, payments: mem, contexts: mem, waiting: mem, close: func() {}}, nil
	}

	pg, err := store.NewPostgresStore(ctx, cfg.PostgresDSN, logger)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	rdb, err := store.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisPrefix)
	if err != nil {
		pg.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	rs := store.NewRedisUserStore(rdb, 24, cfg.ContextSize)
	return &stores{
		users:    pg,
		products: pg,
		payments: pg,
		contexts: rs,
		waiting:  rs,
		ping:     pg.Ping,
		close: func() {
			_ = rdb.Close()
			pg.Close()
		},
	}, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(envFiles...)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	if err := catalog.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid catalog")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("open stores")
	}
	defer st.close()

	m := metrics.New("gptbot")
	quotaSvc := quota.NewService(st.users, st.products, st.payments, timeutil.SystemClock{},
		logger.With().Str("component", "quota").Logger(), m, quota.Config{CAS: cfg.QuotaCAS})

	llm := gpt.NewHTTPClient(gpt.Config{
		APIKey:  cfg.OpenAIKey,
		BaseURL: cfg.OpenAIBaseURL,
		Timeout: cfg.OpenAITimeout,
	}, logger.With().Str("component", "gpt").Logger())

	httpClient := &http.Client{Timeout: 2 * time.Minute}
	b, err := bot.New(cfg.BotToken, bot.WithHTTPClient(50*time.Second, httpClient))
	if err != nil {
		logger.Fatal().Err(err).Msg("create bot")
	}

	jobs := scheduler.NewScheduler(quotaSvc, llm, st.contexts, st.waiting, b,
		logger.With().Str("component", "scheduler").Logger(), m,
		scheduler.Config{Workers: cfg.Workers, JobTimeout: cfg.OpenAITimeout + 30*time.Second})
	jobs.Start()
	defer jobs.Stop()

	h := handlers.NewHandlers(st.users, st.contexts, st.waiting, quotaSvc, jobs,
		logger.With().Str("component", "handlers").Logger(),
		handlers.Options{WaitingTTL: cfg.WaitingTTL, ProviderToken: cfg.ProviderToken})

	mw := middleware.NewMessageAnalyzer(st.users, logger.With().Str("component", "middleware").Logger())
	handlerChain := mw.EnsureUserMiddleware(mw.AnalyzeMessageMiddleware(h.MainHandler))

	b.RegisterHandlerMatchFunc(func(update *models.Update) bool {
		return update.Message != nil
	}, handlerChain)
	b.RegisterHandler(bot.HandlerTypeCallbackQueryData, "", bot.MatchTypePrefix, handlerChain)
	b.RegisterHandlerMatchFunc(func(update *models.Update) bool {
		return update.PreCheckoutQuery != nil
	}, handlerChain)

	router := webhook.NewRouter(webhook.Config{
		Secret:  cfg.WebhookSecret,
		Metrics: m.Handler(),
		Ping:    st.ping,
	}, quotaSvc, handlers.NewPurchaseNotifier(b, st.users, logger), logger.With().Str("component", "webhook").Logger())
	srv := &http.Server{
		Addr:              cfg.WebhookAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", cfg.WebhookAddr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("http server")
			cancel()
		}
	}()

	logger.Info().Str("store", cfg.Store).Int("workers", cfg.Workers).Msg("bot started")
	b.Start(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http server shutdown")
	}
	logger.Info().Msg("bot stopped")
	return nil
}
