package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("storage: not found")
)

const (
	insertPriceSampleSQL = `INSERT INTO price_samples (
        chain,
        price,
        ts
    ) VALUES (
        $1,$2,$3
    )
    RETURNING id;`

	latestPriceSampleSQL = `SELECT id, chain, price, ts
    FROM price_samples
    WHERE chain = $1
    ORDER BY ts DESC
    LIMIT 1;`

	latestPriceSampleAtSQL = `SELECT id, chain, price, ts
    FROM price_samples
    WHERE chain = $1
      AND ts <= $2
    ORDER BY ts DESC
    LIMIT 1;`

	listPriceSamplesBetweenSQL = `SELECT id, chain, price, ts
    FROM price_samples
    WHERE ts >= $1
      AND ts <= $2
    ORDER BY ts;`

	listChainSamplesBetweenSQL = `SELECT id, chain, price, ts
    FROM price_samples
    WHERE ts >= $1
      AND ts <= $2
      AND chain = $3
    ORDER BY ts;`

	listRecentPriceSamplesSQL = `SELECT id, chain, price, ts
    FROM price_samples
    ORDER BY ts DESC
    LIMIT $1;`

	insertAlertRuleSQL = `INSERT INTO alert_rules (
        chain,
        dollar,
        email
    ) VALUES (
        $1,$2,$3
    )
    RETURNING id, chain, dollar, email, created_at;`

	updateAlertRuleSQL = `UPDATE alert_rules
    SET dollar = COALESCE($2, dollar),
        chain  = COALESCE($3, chain),
        email  = COALESCE($4, email)
    WHERE id = $1
    RETURNING id, chain, dollar, email, created_at;`

	deleteAlertRuleSQL = `DELETE FROM alert_rules WHERE id = $1;`

	listAlertRulesForChainSQL = `SELECT id, chain, dollar, email, created_at
    FROM alert_rules
    WHERE chain = $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// PriceSampleStore defines operations on the append-only price history.
type PriceSampleStore interface {
	InsertSample(ctx context.Context, sample PriceSample) (PriceSample, error)
	LatestSample(ctx context.Context, chain string) (*PriceSample, error)
	LatestSampleAt(ctx context.Context, chain string, cutoff time.Time) (*PriceSample, error)
	ListSamplesBetween(ctx context.Context, from, to time.Time, chain string) ([]PriceSample, error)
	ListRecentSamples(ctx context.Context, limit int) ([]PriceSample, error)
}

// AlertRuleStore defines CRUD operations on user threshold rules.
type AlertRuleStore interface {
	CreateRule(ctx context.Context, rule AlertRule) (AlertRule, error)
	UpdateRule(ctx context.Context, id int64, update RuleUpdate) (AlertRule, error)
	DeleteRule(ctx context.Context, id int64) error
	ListRulesForChain(ctx context.Context, chain string) ([]AlertRule, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to price samples and alert rules.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// InsertSample appends a price observation and returns it with its assigned id.
func (s *Store) InsertSample(ctx context.Context, sample PriceSample) (PriceSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return PriceSample{}, err
	}

	row := pool.QueryRow(ctx, insertPriceSampleSQL,
		sample.Chain,
		sample.Price.String(),
		sample.Timestamp,
	)
	if scanErr := row.Scan(&sample.ID); scanErr != nil {
		return PriceSample{}, fmt.Errorf("insert price sample: %w", scanErr)
	}
	return sample, nil
}

// LatestSample returns the most recent sample for a chain, or nil when the
// chain has no history yet.
func (s *Store) LatestSample(ctx context.Context, chain string) (*PriceSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	return scanOptionalSample(pool.QueryRow(ctx, latestPriceSampleSQL, chain))
}

// LatestSampleAt returns the freshest sample for a chain with timestamp at or
// before cutoff, or nil when none qualifies.
func (s *Store) LatestSampleAt(ctx context.Context, chain string, cutoff time.Time) (*PriceSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	return scanOptionalSample(pool.QueryRow(ctx, latestPriceSampleAtSQL, chain, cutoff))
}

// ListSamplesBetween lists samples within a time window ordered by ascending
// timestamp. An empty chain lists every chain.
func (s *Store) ListSamplesBetween(ctx context.Context, from, to time.Time, chain string) ([]PriceSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	var rows pgx.Rows
	var queryErr error
	if chain == "" {
		rows, queryErr = pool.Query(ctx, listPriceSamplesBetweenSQL, from, to)
	} else {
		rows, queryErr = pool.Query(ctx, listChainSamplesBetweenSQL, from, to, chain)
	}
	if queryErr != nil {
		return nil, fmt.Errorf("list samples between: %w", queryErr)
	}
	defer rows.Close()

	return collectSamples(rows, 0)
}

// ListRecentSamples lists the most recent samples across all chains ordered
// by descending timestamp.
func (s *Store) ListRecentSamples(ctx context.Context, limit int) ([]PriceSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentPriceSamplesSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent samples: %w", queryErr)
	}
	defer rows.Close()

	return collectSamples(rows, limit)
}

// CreateRule inserts a new alert rule. Duplicates across (chain, email,
// dollar) are permitted.
func (s *Store) CreateRule(ctx context.Context, rule AlertRule) (AlertRule, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertRule{}, err
	}

	row := pool.QueryRow(ctx, insertAlertRuleSQL, rule.Chain, rule.Dollar.String(), rule.Email)
	created, scanErr := scanAlertRule(row)
	if scanErr != nil {
		return AlertRule{}, fmt.Errorf("insert alert rule: %w", scanErr)
	}
	return created, nil
}

// UpdateRule applies a partial update and returns the stored rule. Missing
// ids yield ErrNotFound.
func (s *Store) UpdateRule(ctx context.Context, id int64, update RuleUpdate) (AlertRule, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertRule{}, err
	}

	var dollar interface{}
	if update.Dollar != nil {
		dollar = update.Dollar.String()
	}
	var chain interface{}
	if update.Chain != nil {
		chain = *update.Chain
	}
	var email interface{}
	if update.Email != nil {
		email = *update.Email
	}

	row := pool.QueryRow(ctx, updateAlertRuleSQL, id, dollar, chain, email)
	updated, scanErr := scanAlertRule(row)
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return AlertRule{}, ErrNotFound
		}
		return AlertRule{}, fmt.Errorf("update alert rule: %w", scanErr)
	}
	return updated, nil
}

// DeleteRule removes a rule. Missing ids yield ErrNotFound.
func (s *Store) DeleteRule(ctx context.Context, id int64) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	cmdTag, execErr := pool.Exec(ctx, deleteAlertRuleSQL, id)
	if execErr != nil {
		return fmt.Errorf("delete alert rule: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListRulesForChain returns every rule registered for a chain. Ordering is
// not significant.
func (s *Store) ListRulesForChain(ctx context.Context, chain string) ([]AlertRule, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listAlertRulesForChainSQL, chain)
	if queryErr != nil {
		return nil, fmt.Errorf("list alert rules: %w", queryErr)
	}
	defer rows.Close()

	rules := make([]AlertRule, 0)
	for rows.Next() {
		rule, scanErr := scanAlertRule(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		rules = append(rules, rule)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return rules, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOptionalSample(row rowScanner) (*PriceSample, error) {
	sample, err := scanPriceSample(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &sample, nil
}

func collectSamples(rows pgx.Rows, hint int) ([]PriceSample, error) {
	samples := make([]PriceSample, 0, hint)
	for rows.Next() {
		sample, scanErr := scanPriceSample(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		samples = append(samples, sample)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return samples, nil
}

func scanPriceSample(row rowScanner) (PriceSample, error) {
	var (
		sample   PriceSample
		priceStr string
	)

	if err := row.Scan(&sample.ID, &sample.Chain, &priceStr, &sample.Timestamp); err != nil {
		return PriceSample{}, err
	}

	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return PriceSample{}, fmt.Errorf("parse price: %w", err)
	}
	sample.Price = price

	return sample, nil
}

func scanAlertRule(row rowScanner) (AlertRule, error) {
	var (
		rule      AlertRule
		dollarStr string
	)

	if err := row.Scan(&rule.ID, &rule.Chain, &dollarStr, &rule.Email, &rule.CreatedAt); err != nil {
		return AlertRule{}, err
	}

	dollar, err := decimal.NewFromString(dollarStr)
	if err != nil {
		return AlertRule{}, fmt.Errorf("parse dollar threshold: %w", err)
	}
	rule.Dollar = dollar

	return rule, nil
}
