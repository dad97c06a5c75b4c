package app

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"pricewatcher/internal/alerting"
)

// SimulateAlert dispatches a synthetic movement notification so the mail
// pipeline can be verified without waiting for a real price swing.
func (a *App) SimulateAlert(ctx context.Context, chain string, price, percentChange decimal.Decimal) error {
	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("alerting is not enabled")
	}

	note := alerting.Notification{
		Kind:          alerting.KindMovement,
		Chain:         chain,
		Price:         price,
		PercentChange: percentChange,
		Recipient:     a.Config.Alerting.ReceiverEmail,
		Observed:      time.Now().UTC(),
	}

	return notifier.Notify(ctx, note)
}
