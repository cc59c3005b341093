package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/storefront/checkout/internal/domain/notify"
)

// Log is a Notifier that writes notifications to the log. Mail delivery is
// handled outside this service.
type Log struct {
	lg         *zap.Logger
	adminEmail string
}

var _ notify.Notifier = (*Log)(nil)

// NewLog creates a Log notifier. adminEmail receives new-order alerts.
func NewLog(lg *zap.Logger, adminEmail string) *Log {
	return &Log{lg: lg, adminEmail: adminEmail}
}

func (l *Log) write(msg, to string, o notify.Order, fields ...zap.Field) error {
	l.lg.Info(msg, append([]zap.Field{
		zap.String("to", to),
		zap.String("order_id", o.ID),
		zap.String("order_number", o.Number),
		zap.String("total", o.Total),
	}, fields...)...)
	return nil
}

func (l *Log) OrderPlaced(_ context.Context, o notify.Order) error {
	return l.write("Order confirmation", o.CustomerEmail, o)
}

func (l *Log) AdminNewOrder(_ context.Context, o notify.Order) error {
	if l.adminEmail == "" {
		return nil
	}
	return l.write("New order alert", l.adminEmail, o, zap.String("customer", o.CustomerName))
}

func (l *Log) PaymentConfirmed(_ context.Context, o notify.Order) error {
	return l.write("Payment confirmation", o.CustomerEmail, o)
}

func (l *Log) PaymentFailed(_ context.Context, o notify.Order) error {
	return l.write("Payment failure notice", o.CustomerEmail, o, zap.String("reason", o.Reason))
}

func (l *Log) StatusChanged(_ context.Context, o notify.Order) error {
	return l.write("Order status update", o.CustomerEmail, o,
		zap.String("status", o.Status),
		zap.String("tracking_number", o.TrackingNumber),
	)
}
