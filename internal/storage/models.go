package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceSample is one persisted spot price observation. Rows are append-only;
// the core never updates or deletes them.
type PriceSample struct {
	ID        int64           `json:"id"`
	Chain     string          `json:"chain"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

// AlertRule is a user-defined price threshold. Chain shares a loose textual
// domain with PriceSample.Chain; there is no foreign key and a mismatch
// simply never matches.
type AlertRule struct {
	ID        int64           `json:"id"`
	Chain     string          `json:"chain"`
	Dollar    decimal.Decimal `json:"dollar"`
	Email     string          `json:"email"`
	CreatedAt time.Time       `json:"createdAt"`
}

// RuleUpdate carries the fields of a partial alert rule update. Nil fields
// keep their stored value.
type RuleUpdate struct {
	Dollar *decimal.Decimal
	Chain  *string
	Email  *string
}
