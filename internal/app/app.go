package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"crawlmeter/internal/config"
	"crawlmeter/internal/detect"
	"crawlmeter/internal/engine"
	"crawlmeter/internal/geoip"
	"crawlmeter/internal/notify"
	"crawlmeter/internal/payment"
	"crawlmeter/internal/revenue"
	"crawlmeter/internal/settlement"
	"crawlmeter/internal/signature"
	"crawlmeter/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) newNotifier() notify.Notifier {
	if !a.Config.Notify.Enabled {
		return nil
	}

	var channels notify.Multi
	if a.Config.Notify.Webhook.Enabled {
		channels = append(channels, notify.NewWebhookNotifier(a.Config.Notify.Webhook.URL, 10*time.Second, a.Logger))
	}
	if a.Config.Notify.Telegram.Enabled {
		cfg := a.Config.Notify.Telegram
		channels = append(channels, notify.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger))
	}
	if len(channels) == 0 {
		return nil
	}
	return channels
}

func (a *App) newPaymentClient() payment.Client {
	if !a.Config.Payment.Enabled {
		return nil
	}
	return payment.NewHTTPClient(a.Config.Payment.BaseURL, a.Config.Payment.APIKey, a.Config.Payment.RequestTimeout, a.Logger)
}

func (a *App) newCatalog() (*signature.Catalog, error) {
	return signature.Open(a.Config.Signatures.Path)
}

func (a *App) newCountryResolver() (geoip.CountryResolver, error) {
	if !a.Config.Revenue.GeoEnabled || a.Config.Geo.MMDBPath == "" {
		return nil, nil
	}
	return geoip.Open(a.Config.Geo.MMDBPath)
}

func (a *App) newClassifier() (*detect.Classifier, error) {
	catalog, err := a.newCatalog()
	if err != nil {
		return nil, err
	}
	return detect.NewClassifier(catalog, a.Config.Detection, a.Config.Behavior, a.Logger), nil
}

func (a *App) newAggregator(store *storage.Store) *settlement.Aggregator {
	return settlement.NewAggregator(
		a.Config.Settlement,
		a.Config.Revenue.Currency,
		store,
		store,
		a.newPaymentClient(),
		a.newNotifier(),
		a.Logger,
	)
}

// Run executes the long-running settlement service: the daily rollup on its
// aligned interval plus the weekly and monthly payout sweeps.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database.dsn not configured; settlement requires persistence")
	}
	defer closeStore()

	svc := settlement.NewService(a.Config.Settlement, a.newAggregator(store), a.Logger)

	a.Logger.Info().Msg("starting settlement service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("settlement service terminated with error")
		return err
	}

	a.Logger.Info().Msg("settlement service stopped")
	return nil
}

func (a *App) newCalculator(store *storage.Store) (*revenue.Calculator, error) {
	countries, err := a.newCountryResolver()
	if err != nil {
		return nil, err
	}

	var visits storage.VisitStore
	if store != nil {
		visits = store
	}
	return revenue.NewCalculator(a.Config.Revenue, visits, countries, a.Logger)
}

// newEngine assembles the detection facade. Without a store the calculator
// runs in its degraded local-dedup mode, so classification still works.
func (a *App) newEngine(store *storage.Store) (*engine.Engine, error) {
	classifier, err := a.newClassifier()
	if err != nil {
		return nil, err
	}

	calculator, err := a.newCalculator(store)
	if err != nil {
		return nil, err
	}

	return engine.New(classifier, a.Config.Policy, calculator, a.Config.Notify, a.newNotifier(), a.Logger), nil
}

// RollupOptions configure the one-shot rollup command.
type RollupOptions struct {
	Day time.Time
}

// PayoutOptions configure the one-shot payout sweep.
type PayoutOptions struct {
	Cadence string
	AsOf    time.Time
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Kind  string
	Limit int
}

// ExportOptions hold parameters for exporting daily revenue.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ClassifyOptions describe one synthetic request for the classify command.
type ClassifyOptions struct {
	SiteID    string
	OwnerID   string
	UserAgent string
	ClientIP  string
	URL       string
	Referer   string
	Headers   []string
}
