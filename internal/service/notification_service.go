package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/ticketguard/ticketing/internal/events"
)

// NotificationService turns domain events into user-facing notifications.
// Delivery is currently structured log lines; the handler shape is the seam
// where email or push delivery plugs in.
type NotificationService struct {
	logger *zap.Logger
}

// NewNotificationService constructs the service.
func NewNotificationService(logger *zap.Logger) *NotificationService {
	return &NotificationService{logger: logger}
}

// Register subscribes the notification handlers on the dispatcher.
func (s *NotificationService) Register(dispatcher events.Dispatcher) {
	dispatcher.Subscribe(events.EventTicketPurchased, s.onEvent("ticket purchased"))
	dispatcher.Subscribe(events.EventTicketRefunded, s.onEvent("ticket refunded"))
	dispatcher.Subscribe(events.EventWaitlistJoined, s.onEvent("joined waitlist"))
	dispatcher.Subscribe(events.EventWaitlistFulfilled, s.onEvent("waitlist ticket issued"))
	dispatcher.Subscribe(events.EventLotteryFailed, s.onEvent("waitlist offer failed"))
	dispatcher.Subscribe(events.EventReconciliationResolved, s.onEvent("purchase reconciled"))
}

func (s *NotificationService) onEvent(message string) events.EventHandler {
	return func(_ context.Context, event events.Event) error {
		s.logger.Info("notification",
			zap.String("message", message),
			zap.String("type", string(event.Type)),
			zap.String("event_id", event.EventID),
			zap.String("user_id", event.UserID),
			zap.Any("payload", event.Payload),
		)
		return nil
	}
}
