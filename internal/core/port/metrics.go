package port

import "github.com/arklim/authguard/internal/core/domain"

// DecisionRecorder observes authentication outcomes and delivery failures.
type DecisionRecorder interface {
	RecordDecision(kind domain.DecisionKind)
	RecordDeliveryFailure(kind string)
}

// NopRecorder discards all observations.
type NopRecorder struct{}

// RecordDecision implements DecisionRecorder.
func (NopRecorder) RecordDecision(domain.DecisionKind) {}

// RecordDeliveryFailure implements DecisionRecorder.
func (NopRecorder) RecordDeliveryFailure(string) {}
