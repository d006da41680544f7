package billingpanel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/billing-panel/internal/cache"
	"github.com/magabrotheeeer/billing-panel/internal/config"
	"github.com/magabrotheeeer/billing-panel/internal/lib/jwt"
	"github.com/magabrotheeeer/billing-panel/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/billing-panel/internal/lib/sl"
	"github.com/magabrotheeeer/billing-panel/internal/metrics"
	"github.com/magabrotheeeer/billing-panel/internal/migrations"
	"github.com/magabrotheeeer/billing-panel/internal/paymentprovider"
	"github.com/magabrotheeeer/billing-panel/internal/services/billing"
	"github.com/magabrotheeeer/billing-panel/internal/services/scheduler"
	"github.com/magabrotheeeer/billing-panel/internal/services/subscription"
	"github.com/magabrotheeeer/billing-panel/internal/session"
	"github.com/magabrotheeeer/billing-panel/internal/storage/repository"
	"github.com/magabrotheeeer/billing-panel/internal/subscriptionapi"
)

const shutdownTimeout = 15 * time.Second

// App — HTTP-сервер панели биллинга с фоновым планировщиком.
type App struct {
	cfg       *config.Config
	server    *http.Server
	logger    *slog.Logger
	db        *repository.Storage
	cache     *cache.Cache
	conn      *amqp.Connection
	ch        *amqp.Channel
	scheduler *scheduler.Scheduler
}

func waitForDB(ctx context.Context, db *repository.Storage) error {
	var err error
	for range 10 {
		if err = repository.CheckDatabaseReady(ctx, db); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(3 * time.Second):
		}
	}
	return fmt.Errorf("database not ready after retries: %w", err)
}

// New поднимает все зависимости и собирает маршруты.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{cfg: cfg, logger: logger}

	db, err := repository.New(cfg.StorageConnectionString)
	if err != nil {
		return nil, err
	}
	a.db = db
	if err = migrations.Run(db.DB, cfg.MigrationsPath); err != nil {
		a.close()
		return nil, err
	}
	if err = waitForDB(ctx, db); err != nil {
		a.close()
		return nil, err
	}

	a.cache, err = cache.InitServer(ctx, cfg.RedisConnection)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("cache not initialized: %w", err)
	}

	a.conn, err = rabbitmq.Connect(cfg.RabbitMQURL, cfg.RabbitMQMaxRetries, cfg.RabbitMQRetryDelay)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to connect RabbitMQ: %w", err)
	}
	a.ch, err = rabbitmq.SetupChannel(a.conn, cfg.Exchange, rabbitmq.GetNotificationQueues())
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to setup RabbitMQ channel: %w", err)
	}
	publisher := rabbitmq.NewPublisher(a.ch, cfg.Exchange)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	tokens := jwt.NewJWTMaker(cfg.JWTSecretKey, cfg.TokenTTL)
	sessions := session.NewChecker(cfg.CookieName, tokens, db, a.cache, cfg.CacheTTL, logger)

	deps := Deps{
		Log:                logger,
		Sessions:           sessions,
		Billing:            billing.NewService(cfg.Checkout),
		Confirmer:          subscriptionapi.NewClient(cfg.SubscriptionAPI.BaseURL, cfg.SubscriptionAPI.Timeout),
		DB:                 db.DB,
		Metrics:            m,
		Gatherer:           reg,
		ReloadDelay:        cfg.ReloadDelay,
		LoginRedirectDelay: cfg.LoginRedirectDelay,
		RateLimit:          cfg.RateLimit,
		RateBurst:          cfg.RateBurst,
	}

	var stripeLookup subscription.StripeLookup
	if cfg.Stripe.SecretKey != "" {
		stripeClient := paymentprovider.NewStripe(cfg.Stripe.SecretKey, cfg.WebhookSecret)
		stripeLookup = stripeClient
		if cfg.WebhookSecret != "" {
			deps.Stripe = stripeClient
		}
	} else {
		logger.Warn("stripe secret key is not set, live stripe lookup disabled")
	}
	if cfg.PayPal.ClientID != "" && cfg.WebhookID != "" {
		deps.PayPal = paymentprovider.NewPayPal(cfg.APIURL, cfg.PayPal.ClientID, cfg.ClientSecret, cfg.WebhookID, cfg.SubscriptionAPI.Timeout)
	} else {
		logger.Warn("paypal credentials are not set, paypal webhooks disabled")
	}
	deps.Subscriptions = subscription.NewService(db, a.cache, publisher, stripeLookup, logger)

	a.scheduler = scheduler.New(db, a.cache, publisher, logger)

	router := chi.NewRouter()
	RegisterRoutes(router, deps)

	a.server = &http.Server{
		Addr:         cfg.AddressHTTP,
		Handler:      router,
		ReadTimeout:  cfg.TimeoutHTTP,
		WriteTimeout: cfg.TimeoutHTTP,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return a, nil
}

// Run запускает планировщик и HTTP-сервер и останавливает их при отмене ctx.
func (a *App) Run(ctx context.Context) error {
	if err := a.scheduler.Start(ctx, a.cfg.ExpireSpec, a.cfg.TrialNoticeSpec); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server starting on", slog.String("address", a.server.Addr))
		err := a.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
		} else {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case runErr = <-errCh:
	case <-ctx.Done():
		timeoutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.logger.Info("shutting down HTTP server gracefully")
		runErr = a.server.Shutdown(timeoutCtx)
		a.scheduler.Stop(timeoutCtx)
	}
	a.close()
	return runErr
}

func (a *App) close() {
	if a.ch != nil {
		if err := a.ch.Close(); err != nil {
			a.logger.Error("failed to close RabbitMQ channel", sl.Err(err))
		}
	}
	if a.conn != nil {
		if err := a.conn.Close(); err != nil {
			a.logger.Error("failed to close RabbitMQ connection", sl.Err(err))
		}
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.logger.Error("failed to close redis", sl.Err(err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Error("failed to close database", sl.Err(err))
		}
	}
}
