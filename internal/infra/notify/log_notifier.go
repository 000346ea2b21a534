package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/arklim/authguard/internal/core/domain"
	"github.com/arklim/authguard/internal/core/port"
	"github.com/arklim/authguard/internal/infra/logger"
)

// LogNotifier records outgoing messages in the log instead of delivering them.
// Only the masked recipient, kind and subject are written; bodies carry secrets.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(log *zap.Logger) *LogNotifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogNotifier{logger: log}
}

// Send implements port.Notifier.
func (n *LogNotifier) Send(ctx context.Context, msg domain.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n.logger.Info("notification suppressed",
		zap.String("kind", msg.Kind),
		zap.String("to", logger.MaskEmail(msg.To)),
		zap.String("subject", msg.Subject),
	)
	return nil
}

var _ port.Notifier = (*LogNotifier)(nil)
