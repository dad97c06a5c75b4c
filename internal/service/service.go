package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"pricewatcher/internal/alerting"
	"pricewatcher/internal/config"
	"pricewatcher/internal/ratefeed"
	"pricewatcher/internal/scheduler"
	"pricewatcher/internal/storage"
)

// defaultOpTimeout bounds every outbound fetch, store, and notification call
// so a stalled collaborator cannot starve the sampling loop.
const defaultOpTimeout = 10 * time.Second

var hundred = decimal.NewFromInt(100)

// Service orchestrates sampling, persistence, evaluation, and alerting.
type Service struct {
	scheduler *scheduler.Scheduler
	feed      ratefeed.SpotPriceFetcher
	quotes    ratefeed.SpotPriceFetcher
	prices    storage.PriceSampleStore
	alerts    storage.AlertRuleStore
	notifier  alerting.Notifier
	logger    zerolog.Logger

	chains     []string
	quote      string
	threshold  decimal.Decimal
	window     time.Duration
	receiver   string
	recordZero bool
	swapFeePct decimal.Decimal
	opTimeout  time.Duration
	locker     storage.AdvisoryLocker
	lockKey    int64
}

// New constructs the monitoring service. feed serves the sampling cycle;
// quotes serves API reads and may be cache-wrapped.
func New(cfg *config.Config, sched *scheduler.Scheduler, feed, quotes ratefeed.SpotPriceFetcher, prices storage.PriceSampleStore, alerts storage.AlertRuleStore, notifier alerting.Notifier, logger zerolog.Logger) *Service {
	quote := cfg.RateFeed.QuoteCurrency
	if quote == "" {
		quote = "usd"
	}

	window := cfg.Alerting.MovementWindow
	if window <= 0 {
		window = time.Hour
	}

	var locker storage.AdvisoryLocker
	if l, ok := prices.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Service{
		scheduler:  sched,
		feed:       feed,
		quotes:     quotes,
		prices:     prices,
		alerts:     alerts,
		notifier:   notifier,
		logger:     logger.With().Str("component", "service").Logger(),
		chains:     cfg.RateFeed.Chains,
		quote:      quote,
		threshold:  decimal.NewFromFloat(cfg.Alerting.MovementThresholdPct),
		window:     window,
		receiver:   cfg.Alerting.ReceiverEmail,
		recordZero: cfg.RateFeed.RecordZeroOnFailure,
		swapFeePct: decimal.NewFromFloat(cfg.Swap.FeePct),
		opTimeout:  defaultOpTimeout,
		locker:     locker,
		lockKey:    cfg.Scheduler.AdvisoryLockKey,
	}
}

// Run begins the fixed-cadence sampling loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.ProcessCycle)
}

// ProcessCycle executes one full sampling cycle: fetch and persist a sample
// per tracked chain, evaluate threshold rules per chain, then evaluate
// movement across all chains. A cycle never propagates a fault to the
// scheduler beyond the advisory-lock handshake.
func (s *Service) ProcessCycle(ctx context.Context, started time.Time) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Time("cycle", started).Msg("sampling cycle panicked")
			err = nil
		}
	}()

	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("cycle", started).Msg("skip cycle because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	for _, chain := range s.chains {
		s.sampleChain(ctx, chain)
	}
	s.checkMovement(ctx)
	return nil
}

// sampleChain fetches, persists, and threshold-checks a single chain. Any
// failure is logged and contained so the remaining chains still run.
func (s *Service) sampleChain(ctx context.Context, chain string) {
	price, err := s.fetchSpot(ctx, chain)
	if err != nil {
		s.logger.Error().Err(err).Str("chain", chain).Msg("spot fetch failed")
		if !s.recordZero {
			return
		}
		// Compatibility mode: record the failure as a zero-price sample and
		// evaluate it, matching the upstream behaviour.
		price = decimal.Zero
	}

	sample := storage.PriceSample{
		Chain:     chain,
		Price:     price,
		Timestamp: time.Now().UTC(),
	}

	opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	if _, insertErr := s.prices.InsertSample(opCtx, sample); insertErr != nil {
		s.logger.Error().Err(insertErr).Str("chain", chain).Msg("failed to persist sample")
	} else {
		s.logger.Info().Str("chain", chain).Str("price", price.String()).Msg("sample recorded")
	}
	cancel()

	// Threshold rules are evaluated against the fetched price regardless of
	// whether persistence succeeded.
	s.checkThreshold(ctx, chain, price)
}

func (s *Service) fetchSpot(ctx context.Context, chain string) (decimal.Decimal, error) {
	opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	return s.feed.FetchPrice(opCtx, chain, s.quote)
}

// checkThreshold fires one notification per rule whose dollar limit is at or
// below the observed price, compared at whole-dollar granularity. No
// cooldown exists: a standing condition re-fires every cycle.
func (s *Service) checkThreshold(ctx context.Context, chain string, price decimal.Decimal) {
	opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	rules, err := s.alerts.ListRulesForChain(opCtx, chain)
	cancel()
	if err != nil {
		s.logger.Error().Err(err).Str("chain", chain).Msg("failed to load alert rules")
		return
	}

	floorPrice := price.Floor()
	for _, rule := range rules {
		if rule.Dollar.Floor().GreaterThan(floorPrice) {
			continue
		}
		s.dispatch(ctx, alerting.Notification{
			Kind:      alerting.KindThreshold,
			Chain:     chain,
			Price:     price,
			Recipient: rule.Email,
			Observed:  time.Now().UTC(),
		})
	}
}

// checkMovement compares the latest sample of each chain against the
// freshest sample at least one window older and notifies on an increase
// beyond the threshold. Decreases never notify.
func (s *Service) checkMovement(ctx context.Context) {
	for _, chain := range s.chains {
		opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
		latest, err := s.prices.LatestSample(opCtx, chain)
		cancel()
		if err != nil {
			s.logger.Error().Err(err).Str("chain", chain).Msg("failed to load latest sample")
			continue
		}
		if latest == nil {
			s.logger.Debug().Str("chain", chain).Msg("no samples recorded yet")
			continue
		}

		cutoff := latest.Timestamp.Add(-s.window)
		opCtx, cancel = context.WithTimeout(ctx, s.opTimeout)
		baseline, err := s.prices.LatestSampleAt(opCtx, chain, cutoff)
		cancel()
		if err != nil {
			s.logger.Error().Err(err).Str("chain", chain).Msg("failed to load baseline sample")
			continue
		}
		if baseline == nil {
			s.logger.Debug().Str("chain", chain).Msg("insufficient history for movement check")
			continue
		}
		if baseline.Price.IsZero() {
			// A zero baseline makes the percentage undefined; treat as no signal.
			s.logger.Warn().Str("chain", chain).Msg("zero baseline sample, skipping movement check")
			continue
		}

		change := latest.Price.Sub(baseline.Price).Div(baseline.Price).Mul(hundred)
		s.logger.Info().
			Str("chain", chain).
			Str("percent_change", change.StringFixed(4)).
			Msg("movement evaluated")

		if change.GreaterThan(s.threshold) {
			s.dispatch(ctx, alerting.Notification{
				Kind:          alerting.KindMovement,
				Chain:         chain,
				Price:         latest.Price,
				PercentChange: change,
				Recipient:     s.receiver,
				Observed:      latest.Timestamp,
			})
		}
	}
}

// dispatch delivers a notification, logging instead of propagating failures.
// There is no retry within a cycle.
func (s *Service) dispatch(ctx context.Context, note alerting.Notification) {
	if s.notifier == nil {
		s.logger.Debug().Str("chain", note.Chain).Msg("no notifier configured, dropping alert")
		return
	}

	opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	if err := s.notifier.Notify(opCtx, note); err != nil {
		s.logger.Error().Err(err).
			Str("kind", string(note.Kind)).
			Str("chain", note.Chain).
			Msg("failed to dispatch alert")
		return
	}
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
