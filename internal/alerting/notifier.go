package alerting

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Kind distinguishes the two alert shapes the pipeline emits.
type Kind string

const (
	// KindMovement marks a rolling-window percentage increase alert.
	KindMovement Kind = "movement"
	// KindThreshold marks a user-defined price limit alert. PercentChange is
	// not applicable and stays zero.
	KindThreshold Kind = "threshold"
)

// Notification carries the context of a single alert dispatch.
type Notification struct {
	Kind          Kind
	Chain         string
	Price         decimal.Decimal
	PercentChange decimal.Decimal
	Recipient     string
	Observed      time.Time
}

// Notifier delivers a notification to its recipient.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// Subject renders the mail subject line for a notification.
func Subject(note Notification) string {
	chain := strings.ToUpper(note.Chain)
	if note.Kind == KindMovement {
		return fmt.Sprintf("%s Price Alert: Increased by %s%%", chain, note.PercentChange.StringFixed(2))
	}
	return fmt.Sprintf("%s Price Alert", chain)
}

// Body renders the plain-text mail body for a notification.
func Body(note Notification) string {
	chain := strings.ToUpper(note.Chain)
	if note.Kind == KindMovement {
		return fmt.Sprintf(
			"%s price has increased by %s%%. The current price is $%s.",
			chain,
			note.PercentChange.StringFixed(2),
			note.Price.StringFixed(2),
		)
	}
	return fmt.Sprintf("%s price has reached the alert price %s", chain, note.Price.String())
}
