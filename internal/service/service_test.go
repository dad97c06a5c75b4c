package service

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"pricewatcher/internal/alerting"
	"pricewatcher/internal/config"
	"pricewatcher/internal/storage"
)

type memPriceStore struct {
	samples   []storage.PriceSample
	nextID    int64
	insertErr error
}

func (m *memPriceStore) InsertSample(_ context.Context, sample storage.PriceSample) (storage.PriceSample, error) {
	if m.insertErr != nil {
		return storage.PriceSample{}, m.insertErr
	}
	m.nextID++
	sample.ID = m.nextID
	m.samples = append(m.samples, sample)
	return sample, nil
}

func (m *memPriceStore) LatestSample(_ context.Context, chain string) (*storage.PriceSample, error) {
	var found *storage.PriceSample
	for i := range m.samples {
		sample := m.samples[i]
		if sample.Chain != chain {
			continue
		}
		if found == nil || sample.Timestamp.After(found.Timestamp) {
			found = &m.samples[i]
		}
	}
	return found, nil
}

func (m *memPriceStore) LatestSampleAt(_ context.Context, chain string, cutoff time.Time) (*storage.PriceSample, error) {
	var found *storage.PriceSample
	for i := range m.samples {
		sample := m.samples[i]
		if sample.Chain != chain || sample.Timestamp.After(cutoff) {
			continue
		}
		if found == nil || sample.Timestamp.After(found.Timestamp) {
			found = &m.samples[i]
		}
	}
	return found, nil
}

func (m *memPriceStore) ListSamplesBetween(_ context.Context, from, to time.Time, chain string) ([]storage.PriceSample, error) {
	result := make([]storage.PriceSample, 0)
	for _, sample := range m.samples {
		if sample.Timestamp.Before(from) || sample.Timestamp.After(to) {
			continue
		}
		if chain != "" && sample.Chain != chain {
			continue
		}
		result = append(result, sample)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Timestamp.Before(result[j].Timestamp) })
	return result, nil
}

func (m *memPriceStore) ListRecentSamples(_ context.Context, limit int) ([]storage.PriceSample, error) {
	result := append([]storage.PriceSample(nil), m.samples...)
	sort.Slice(result, func(i, j int) bool { return result[i].Timestamp.After(result[j].Timestamp) })
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

type memAlertStore struct {
	rules   []storage.AlertRule
	listErr error
}

func (m *memAlertStore) CreateRule(_ context.Context, rule storage.AlertRule) (storage.AlertRule, error) {
	rule.ID = int64(len(m.rules) + 1)
	rule.CreatedAt = time.Now().UTC()
	m.rules = append(m.rules, rule)
	return rule, nil
}

func (m *memAlertStore) UpdateRule(_ context.Context, id int64, update storage.RuleUpdate) (storage.AlertRule, error) {
	for i := range m.rules {
		if m.rules[i].ID != id {
			continue
		}
		if update.Dollar != nil {
			m.rules[i].Dollar = *update.Dollar
		}
		if update.Chain != nil {
			m.rules[i].Chain = *update.Chain
		}
		if update.Email != nil {
			m.rules[i].Email = *update.Email
		}
		return m.rules[i], nil
	}
	return storage.AlertRule{}, storage.ErrNotFound
}

func (m *memAlertStore) DeleteRule(_ context.Context, id int64) error {
	for i := range m.rules {
		if m.rules[i].ID == id {
			m.rules = append(m.rules[:i], m.rules[i+1:]...)
			return nil
		}
	}
	return storage.ErrNotFound
}

func (m *memAlertStore) ListRulesForChain(_ context.Context, chain string) ([]storage.AlertRule, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	result := make([]storage.AlertRule, 0)
	for _, rule := range m.rules {
		if rule.Chain == chain {
			result = append(result, rule)
		}
	}
	return result, nil
}

type staticFeed struct {
	prices map[string]decimal.Decimal
}

func (f *staticFeed) FetchPrice(_ context.Context, asset, quote string) (decimal.Decimal, error) {
	price, ok := f.prices[asset+"/"+quote]
	if !ok {
		return decimal.Decimal{}, errors.New("feed unavailable")
	}
	return price, nil
}

type recordNotifier struct {
	notes   []alerting.Notification
	failErr error
}

func (n *recordNotifier) Notify(_ context.Context, note alerting.Notification) error {
	if n.failErr != nil {
		return n.failErr
	}
	n.notes = append(n.notes, note)
	return nil
}

func testConfig(chains ...string) *config.Config {
	if len(chains) == 0 {
		chains = []string{"ethereum", "polygon"}
	}
	return &config.Config{
		RateFeed: config.RateFeedConfig{
			Chains:        chains,
			QuoteCurrency: "usd",
		},
		Alerting: config.AlertingConfig{
			MovementThresholdPct: 3.0,
			MovementWindow:       time.Hour,
			ReceiverEmail:        "ops@example.com",
		},
		Swap: config.SwapConfig{FeePct: 3.0},
	}
}

func newTestService(cfg *config.Config, feed *staticFeed, prices *memPriceStore, alerts *memAlertStore, notifier *recordNotifier) *Service {
	return New(cfg, nil, feed, feed, prices, alerts, notifier, zerolog.Nop())
}

func dec(v string) decimal.Decimal {
	d, err := decimal.NewFromString(v)
	if err != nil {
		panic(err)
	}
	return d
}

func TestProcessCycleRecordsSamples(t *testing.T) {
	feed := &staticFeed{prices: map[string]decimal.Decimal{
		"ethereum/usd": dec("2500.12"),
		"polygon/usd":  dec("0.53"),
	}}
	prices := &memPriceStore{}
	svc := newTestService(testConfig(), feed, prices, &memAlertStore{}, &recordNotifier{})

	if err := svc.ProcessCycle(context.Background(), time.Now().UTC()); err != nil {
		t.Fatalf("ProcessCycle returned error: %v", err)
	}

	if len(prices.samples) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(prices.samples))
	}
	if prices.samples[0].Chain != "ethereum" || prices.samples[1].Chain != "polygon" {
		t.Fatalf("unexpected chain ordering: %+v", prices.samples)
	}
	if !prices.samples[0].Price.Equal(dec("2500.12")) {
		t.Fatalf("expected ethereum price 2500.12, got %s", prices.samples[0].Price)
	}
}

func TestProcessCycleSkipsFailedFetch(t *testing.T) {
	feed := &staticFeed{prices: map[string]decimal.Decimal{
		"ethereum/usd": dec("2500"),
	}}
	prices := &memPriceStore{}
	svc := newTestService(testConfig(), feed, prices, &memAlertStore{}, &recordNotifier{})

	if err := svc.ProcessCycle(context.Background(), time.Now().UTC()); err != nil {
		t.Fatalf("ProcessCycle returned error: %v", err)
	}

	if len(prices.samples) != 1 {
		t.Fatalf("expected only the ethereum sample, got %d", len(prices.samples))
	}
	if prices.samples[0].Chain != "ethereum" {
		t.Fatalf("expected ethereum sample, got %s", prices.samples[0].Chain)
	}
}

func TestProcessCycleRecordsZeroInCompatibilityMode(t *testing.T) {
	cfg := testConfig()
	cfg.RateFeed.RecordZeroOnFailure = true

	feed := &staticFeed{prices: map[string]decimal.Decimal{
		"ethereum/usd": dec("2500"),
	}}
	prices := &memPriceStore{}
	svc := newTestService(cfg, feed, prices, &memAlertStore{}, &recordNotifier{})

	if err := svc.ProcessCycle(context.Background(), time.Now().UTC()); err != nil {
		t.Fatalf("ProcessCycle returned error: %v", err)
	}

	if len(prices.samples) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(prices.samples))
	}
	if !prices.samples[1].Price.IsZero() {
		t.Fatalf("expected zero polygon price, got %s", prices.samples[1].Price)
	}
}

func TestProcessCyclePersistFailureStillEvaluatesThreshold(t *testing.T) {
	feed := &staticFeed{prices: map[string]decimal.Decimal{
		"ethereum/usd": dec("120"),
	}}
	prices := &memPriceStore{insertErr: errors.New("disk full")}
	alerts := &memAlertStore{rules: []storage.AlertRule{
		{ID: 1, Chain: "ethereum", Dollar: dec("100"), Email: "a@b.com"},
	}}
	notifier := &recordNotifier{}
	svc := newTestService(testConfig("ethereum"), feed, prices, alerts, notifier)

	if err := svc.ProcessCycle(context.Background(), time.Now().UTC()); err != nil {
		t.Fatalf("ProcessCycle returned error: %v", err)
	}

	if len(notifier.notes) != 1 {
		t.Fatalf("expected 1 threshold notification despite persist failure, got %d", len(notifier.notes))
	}
	if notifier.notes[0].Kind != alerting.KindThreshold {
		t.Fatalf("expected threshold kind, got %s", notifier.notes[0].Kind)
	}
}

func TestMovementBaselinePicksFreshestQualifying(t *testing.T) {
	now := time.Now().UTC()
	prices := &memPriceStore{samples: []storage.PriceSample{
		{ID: 1, Chain: "ethereum", Price: dec("50"), Timestamp: now.Add(-2 * time.Hour)},
		{ID: 2, Chain: "ethereum", Price: dec("100"), Timestamp: now.Add(-61 * time.Minute)},
		{ID: 3, Chain: "ethereum", Price: dec("104"), Timestamp: now},
	}}
	notifier := &recordNotifier{}
	svc := newTestService(testConfig("ethereum"), &staticFeed{}, prices, &memAlertStore{}, notifier)

	svc.checkMovement(context.Background())

	if len(notifier.notes) != 1 {
		t.Fatalf("expected 1 movement notification, got %d", len(notifier.notes))
	}
	note := notifier.notes[0]
	if note.Kind != alerting.KindMovement {
		t.Fatalf("expected movement kind, got %s", note.Kind)
	}
	if !note.PercentChange.Equal(dec("4")) {
		t.Fatalf("expected 4%% change against the 61-minute baseline, got %s", note.PercentChange)
	}
	if !note.Price.Equal(dec("104")) {
		t.Fatalf("expected latest price 104, got %s", note.Price)
	}
	if note.Recipient != "ops@example.com" {
		t.Fatalf("movement alert should go to the configured receiver, got %s", note.Recipient)
	}
}

func TestMovementAtThresholdDoesNotNotify(t *testing.T) {
	now := time.Now().UTC()
	prices := &memPriceStore{samples: []storage.PriceSample{
		{ID: 1, Chain: "ethereum", Price: dec("100"), Timestamp: now.Add(-2 * time.Hour)},
		{ID: 2, Chain: "ethereum", Price: dec("103"), Timestamp: now},
	}}
	notifier := &recordNotifier{}
	svc := newTestService(testConfig("ethereum"), &staticFeed{}, prices, &memAlertStore{}, notifier)

	svc.checkMovement(context.Background())

	if len(notifier.notes) != 0 {
		t.Fatalf("exactly 3%% must not notify, got %d notifications", len(notifier.notes))
	}
}

func TestMovementDecreaseDoesNotNotify(t *testing.T) {
	now := time.Now().UTC()
	prices := &memPriceStore{samples: []storage.PriceSample{
		{ID: 1, Chain: "ethereum", Price: dec("100"), Timestamp: now.Add(-2 * time.Hour)},
		{ID: 2, Chain: "ethereum", Price: dec("80"), Timestamp: now},
	}}
	notifier := &recordNotifier{}
	svc := newTestService(testConfig("ethereum"), &staticFeed{}, prices, &memAlertStore{}, notifier)

	svc.checkMovement(context.Background())

	if len(notifier.notes) != 0 {
		t.Fatalf("a decrease must not notify, got %d notifications", len(notifier.notes))
	}
}

func TestMovementZeroBaselineSkipped(t *testing.T) {
	now := time.Now().UTC()
	prices := &memPriceStore{samples: []storage.PriceSample{
		{ID: 1, Chain: "ethereum", Price: dec("0"), Timestamp: now.Add(-2 * time.Hour)},
		{ID: 2, Chain: "ethereum", Price: dec("104"), Timestamp: now},
	}}
	notifier := &recordNotifier{}
	svc := newTestService(testConfig("ethereum"), &staticFeed{}, prices, &memAlertStore{}, notifier)

	svc.checkMovement(context.Background())

	if len(notifier.notes) != 0 {
		t.Fatalf("zero baseline must yield no signal, got %d notifications", len(notifier.notes))
	}
}

func TestMovementInsufficientHistorySkipped(t *testing.T) {
	now := time.Now().UTC()
	prices := &memPriceStore{samples: []storage.PriceSample{
		{ID: 1, Chain: "ethereum", Price: dec("104"), Timestamp: now},
	}}
	notifier := &recordNotifier{}
	svc := newTestService(testConfig("ethereum"), &staticFeed{}, prices, &memAlertStore{}, notifier)

	svc.checkMovement(context.Background())

	if len(notifier.notes) != 0 {
		t.Fatalf("a single sample cannot produce a movement alert, got %d", len(notifier.notes))
	}
}

func TestThresholdFloorMatching(t *testing.T) {
	alerts := &memAlertStore{rules: []storage.AlertRule{
		{ID: 1, Chain: "polygon", Dollar: dec("100"), Email: "low@example.com"},
		{ID: 2, Chain: "polygon", Dollar: dec("100.9"), Email: "exact@example.com"},
		{ID: 3, Chain: "polygon", Dollar: dec("101"), Email: "high@example.com"},
	}}
	notifier := &recordNotifier{}
	svc := newTestService(testConfig("polygon"), &staticFeed{}, &memPriceStore{}, alerts, notifier)

	svc.checkThreshold(context.Background(), "polygon", dec("100.9"))

	if len(notifier.notes) != 2 {
		t.Fatalf("expected rules at 100 and 100.9 to match price 100.9, got %d notifications", len(notifier.notes))
	}
	recipients := map[string]bool{}
	for _, note := range notifier.notes {
		recipients[note.Recipient] = true
		if !note.PercentChange.IsZero() {
			t.Fatalf("threshold alerts must carry a zero percent change, got %s", note.PercentChange)
		}
	}
	if !recipients["low@example.com"] || !recipients["exact@example.com"] {
		t.Fatalf("unexpected recipients: %v", recipients)
	}
}

func TestThresholdRefiresEveryCycle(t *testing.T) {
	alerts := &memAlertStore{rules: []storage.AlertRule{
		{ID: 1, Chain: "polygon", Dollar: dec("50"), Email: "a@b.com"},
	}}
	notifier := &recordNotifier{}
	svc := newTestService(testConfig("polygon"), &staticFeed{}, &memPriceStore{}, alerts, notifier)

	svc.checkThreshold(context.Background(), "polygon", dec("50.2"))
	svc.checkThreshold(context.Background(), "polygon", dec("50.2"))

	if len(notifier.notes) != 2 {
		t.Fatalf("a standing condition must re-fire every cycle, got %d notifications", len(notifier.notes))
	}
}

func TestThresholdChainMismatchYieldsNoMatches(t *testing.T) {
	alerts := &memAlertStore{rules: []storage.AlertRule{
		{ID: 1, Chain: "polygon", Dollar: dec("1"), Email: "a@b.com"},
	}}
	notifier := &recordNotifier{}
	svc := newTestService(testConfig("ethereum"), &staticFeed{}, &memPriceStore{}, alerts, notifier)

	svc.checkThreshold(context.Background(), "ethereum", dec("2500"))

	if len(notifier.notes) != 0 {
		t.Fatalf("rules for another chain must never match, got %d notifications", len(notifier.notes))
	}
}

func TestThresholdNotificationFailureIsContained(t *testing.T) {
	alerts := &memAlertStore{rules: []storage.AlertRule{
		{ID: 1, Chain: "polygon", Dollar: dec("50"), Email: "a@b.com"},
	}}
	notifier := &recordNotifier{failErr: errors.New("smtp down")}
	svc := newTestService(testConfig("polygon"), &staticFeed{}, &memPriceStore{}, alerts, notifier)

	// Must not panic or propagate.
	svc.checkThreshold(context.Background(), "polygon", dec("50.2"))
}

func TestEndToEndMovementScenario(t *testing.T) {
	t0 := time.Now().UTC().Add(-61 * time.Minute)
	prices := &memPriceStore{samples: []storage.PriceSample{
		{ID: 1, Chain: "ethereum", Price: dec("100"), Timestamp: t0},
		{ID: 2, Chain: "ethereum", Price: dec("104"), Timestamp: t0.Add(61 * time.Minute)},
	}}
	notifier := &recordNotifier{}
	svc := newTestService(testConfig("ethereum"), &staticFeed{}, prices, &memAlertStore{}, notifier)

	svc.checkMovement(context.Background())

	if len(notifier.notes) != 1 {
		t.Fatalf("expected one movement notification, got %d", len(notifier.notes))
	}
	note := notifier.notes[0]
	if note.Chain != "ethereum" || !note.Price.Equal(dec("104")) {
		t.Fatalf("unexpected notification: %+v", note)
	}
}

func TestEndToEndThresholdScenario(t *testing.T) {
	alerts := &memAlertStore{}
	if _, err := alerts.CreateRule(context.Background(), storage.AlertRule{Chain: "polygon", Dollar: dec("50"), Email: "a@b.com"}); err != nil {
		t.Fatalf("seed rule: %v", err)
	}

	feed := &staticFeed{prices: map[string]decimal.Decimal{
		"polygon/usd": dec("50.2"),
	}}
	prices := &memPriceStore{}
	notifier := &recordNotifier{}
	svc := newTestService(testConfig("polygon"), feed, prices, alerts, notifier)

	if err := svc.ProcessCycle(context.Background(), time.Now().UTC()); err != nil {
		t.Fatalf("ProcessCycle returned error: %v", err)
	}

	if len(notifier.notes) != 1 {
		t.Fatalf("expected one threshold notification, got %d", len(notifier.notes))
	}
	note := notifier.notes[0]
	if note.Recipient != "a@b.com" || note.Kind != alerting.KindThreshold {
		t.Fatalf("unexpected notification: %+v", note)
	}
}

func TestQuoteEthToBtc(t *testing.T) {
	feed := &staticFeed{prices: map[string]decimal.Decimal{
		"ethereum/btc": dec("0.05"),
		"ethereum/usd": dec("2000"),
	}}
	svc := newTestService(testConfig(), feed, &memPriceStore{}, &memAlertStore{}, &recordNotifier{})

	quote, err := svc.QuoteEthToBtc(context.Background(), dec("1"))
	if err != nil {
		t.Fatalf("QuoteEthToBtc returned error: %v", err)
	}

	if !quote.Fee.ETH.Equal(dec("0.03")) {
		t.Fatalf("expected 0.03 ETH fee, got %s", quote.Fee.ETH)
	}
	if !quote.Fee.USD.Equal(dec("60")) {
		t.Fatalf("expected 60 USD fee, got %s", quote.Fee.USD)
	}
	if !quote.BTCAmount.Equal(dec("0.0485")) {
		t.Fatalf("expected 0.0485 BTC, got %s", quote.BTCAmount)
	}
}

func TestQuoteEthToBtcPropagatesFeedErrors(t *testing.T) {
	svc := newTestService(testConfig(), &staticFeed{}, &memPriceStore{}, &memAlertStore{}, &recordNotifier{})

	if _, err := svc.QuoteEthToBtc(context.Background(), dec("1")); err == nil {
		t.Fatal("expected an error when the feed is unavailable")
	}
}

func TestHourlyPricesGroupsByChain(t *testing.T) {
	now := time.Now().UTC()
	prices := &memPriceStore{samples: []storage.PriceSample{
		{ID: 1, Chain: "ethereum", Price: dec("100"), Timestamp: now.Add(-3 * time.Hour)},
		{ID: 2, Chain: "polygon", Price: dec("0.5"), Timestamp: now.Add(-2 * time.Hour)},
		{ID: 3, Chain: "ethereum", Price: dec("104"), Timestamp: now.Add(-1 * time.Hour)},
		{ID: 4, Chain: "ethereum", Price: dec("90"), Timestamp: now.Add(-30 * time.Hour)},
	}}
	svc := newTestService(testConfig(), &staticFeed{}, prices, &memAlertStore{}, &recordNotifier{})

	grouped, err := svc.HourlyPrices(context.Background(), "")
	if err != nil {
		t.Fatalf("HourlyPrices returned error: %v", err)
	}

	if len(grouped) != 2 {
		t.Fatalf("expected both chains in the window, got %v", grouped)
	}
	eth := grouped["ethereum"]
	if len(eth) != 2 {
		t.Fatalf("expected 2 ethereum samples in the last 24h, got %d", len(eth))
	}
	if !eth[0].Timestamp.Before(eth[1].Timestamp) {
		t.Fatal("samples must be ascending by timestamp")
	}

	filtered, err := svc.HourlyPrices(context.Background(), "ethereum")
	if err != nil {
		t.Fatalf("HourlyPrices returned error: %v", err)
	}
	if len(filtered) != 1 || len(filtered["ethereum"]) != 2 {
		t.Fatalf("expected only ethereum samples, got %v", filtered)
	}
}
