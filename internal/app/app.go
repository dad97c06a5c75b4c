package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"pricewatcher/internal/alerting"
	"pricewatcher/internal/cache"
	"pricewatcher/internal/config"
	"pricewatcher/internal/ratefeed"
	"pricewatcher/internal/scheduler"
	"pricewatcher/internal/server"
	"pricewatcher/internal/service"
	"pricewatcher/internal/storage"
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

// newFeeds returns the sampling feed and the quote-serving feed. The quote
// feed is always the HTTP source because cross rates (eth/btc) are not
// served on-chain, and it is cache-wrapped when the cache is enabled.
func (a *App) newFeeds() (feed, quotes ratefeed.SpotPriceFetcher, closer func()) {
	gecko := ratefeed.NewCoinGecko(ratefeed.CoinGeckoOptions{
		BaseURL: a.Config.RateFeed.BaseURL,
		APIKey:  a.Config.RateFeed.APIKey,
		Timeout: a.Config.RateFeed.RequestTimeout,
	}, a.Logger)

	feed = gecko
	if a.Config.RateFeed.Source == "chainlink" {
		feed = ratefeed.NewChainlink(ratefeed.ChainlinkOptions{
			RPCURL:  a.Config.Chainlink.RPCURL,
			Feeds:   a.Config.Chainlink.Feeds,
			Timeout: a.Config.Chainlink.RequestTimeout,
		}, a.Logger)
	}

	quotes = gecko
	closer = func() {}
	if a.Config.Cache.Enabled {
		priceCache := cache.New(cache.Options{
			Addr:     a.Config.Cache.Addr,
			Password: a.Config.Cache.Password,
			DB:       a.Config.Cache.DB,
			TTL:      a.Config.Cache.TTL,
		})
		quotes = ratefeed.NewCached(gecko, priceCache, a.Logger)
		closer = func() {
			_ = priceCache.Close()
		}
	}

	return feed, quotes, closer
}

func (a *App) newNotifier() alerting.Notifier {
	if !a.Config.Alerting.Enabled {
		return nil
	}
	smtp := a.Config.Alerting.SMTP
	return alerting.NewSMTPNotifier(smtp.Host, smtp.Port, smtp.Username, smtp.Password, smtp.From, smtp.Timeout, a.Logger)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, errors.New("database.dsn is not configured")
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

// Run executes the sampling service and the HTTP API until interrupted.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	feed, quotes, closeFeeds := a.newFeeds()
	defer closeFeeds()

	notifier := a.newNotifier()
	if notifier == nil {
		a.Logger.Warn().Msg("alerting disabled; notifications will be dropped")
	}

	svc := service.New(a.Config, sched, feed, quotes, store, store, notifier, a.Logger)

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return svc.Run(ctx)
	})

	if a.Config.Server.Enabled {
		srv := server.New(a.Config.Server, a.Config.App.Environment, svc, a.Logger)
		group.Go(func() error {
			return srv.Run(ctx)
		})
	}

	a.Logger.Info().Msg("pricewatcher started")
	err = group.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("pricewatcher stopped")
	return nil
}

// ExportOptions hold parameters for exporting historical samples.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
	Chain string
}
