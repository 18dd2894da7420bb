package notification

import (
	"context"
	"log/slog"
)

const (
	// KindTransferSent is delivered to the sender of a committed transfer.
	KindTransferSent = "transfer_sent"
	// KindTransferReceived is delivered to the receiver of a committed transfer.
	KindTransferReceived = "transfer_received"
	KindDeposit          = "deposit"
	KindWithdrawal       = "withdrawal"
)

// Message describes a notification payload.
type Message struct {
	Kind        string `json:"kind"`
	Destination string `json:"destination"`
	Body        string `json:"body"`
	// Reference identifies the financial event, a transfer ID or entry ID.
	Reference string `json:"reference,omitempty"`
}

// Notifier delivers notifications to downstream systems.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier writes notifications to the logger. Used when no broker is
// configured.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.Info("notification",
		slog.String("kind", message.Kind),
		slog.String("destination", message.Destination),
		slog.String("reference", message.Reference),
		slog.String("body", message.Body),
	)
	return nil
}
