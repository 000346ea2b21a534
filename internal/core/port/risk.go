package port

import (
	"context"

	"github.com/arklim/authguard/internal/core/domain"
)

// RiskScorer returns a human-likeness score in [0,1] for a request. Low scores are suspicious.
type RiskScorer interface {
	Score(ctx context.Context, req domain.RiskRequest) (float64, error)
}
