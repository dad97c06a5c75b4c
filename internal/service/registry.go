package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"pricewatcher/internal/storage"
)

// CreateAlertRule registers a new threshold rule. Duplicates are permitted.
func (s *Service) CreateAlertRule(ctx context.Context, chain string, dollar decimal.Decimal, email string) (storage.AlertRule, error) {
	rule := storage.AlertRule{
		Chain:  strings.ToLower(chain),
		Dollar: dollar,
		Email:  email,
	}

	created, err := s.alerts.CreateRule(ctx, rule)
	if err != nil {
		return storage.AlertRule{}, fmt.Errorf("create alert rule: %w", err)
	}
	return created, nil
}

// UpdateAlertRule applies a partial update. A missing id surfaces
// storage.ErrNotFound untouched so the boundary can map it to 404.
func (s *Service) UpdateAlertRule(ctx context.Context, id int64, update storage.RuleUpdate) (storage.AlertRule, error) {
	if update.Chain != nil {
		lowered := strings.ToLower(*update.Chain)
		update.Chain = &lowered
	}
	return s.alerts.UpdateRule(ctx, id, update)
}

// DeleteAlertRule removes a rule; storage.ErrNotFound when id is unknown.
func (s *Service) DeleteAlertRule(ctx context.Context, id int64) error {
	return s.alerts.DeleteRule(ctx, id)
}
