package port

import (
	"context"

	"github.com/arklim/authguard/internal/core/domain"
)

// Notifier delivers pre-rendered messages to an account's address.
type Notifier interface {
	Send(ctx context.Context, msg domain.Message) error
}
