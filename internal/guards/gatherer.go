package guards

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/pharmetrix/go-rxops/internal/domain/workflow"
)

// Gatherer assembles transition guard facts from the upstream services.
type Gatherer struct {
	dur    DURChecker
	claims ClaimsChecker
	staff  StaffDirectory
	logger *zap.Logger
}

// NewGatherer creates a guard gatherer.
func NewGatherer(dur DURChecker, claims ClaimsChecker, staff StaffDirectory, logger *zap.Logger) *Gatherer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gatherer{dur: dur, claims: claims, staff: staff, logger: logger}
}

// Gather fetches the guard facts for a transition attempt. An error
// here is an infrastructure failure, distinct from a guard denial: the
// caller should surface it as a 5xx, not as a rejected transition.
//
// DUR and claim lookups fail safe when the upstream errors: the flag is
// treated as raised, which blocks filling rather than letting an
// unchecked fill through.
func (g *Gatherer) Gather(ctx context.Context, prescriptionID, staffID string) (workflow.TransitionGuards, error) {
	var guards workflow.TransitionGuards

	isPharmacist, err := g.staff.IsPharmacist(ctx, staffID)
	if err != nil {
		return guards, fmt.Errorf("resolve staff role: %w", err)
	}
	guards.IsPharmacist = isPharmacist

	hasDUR, err := g.dur.HasUnresolvedAlerts(ctx, prescriptionID)
	if err != nil {
		g.logger.Warn("DUR lookup failed, treating alerts as unresolved",
			zap.String("prescription_id", prescriptionID),
			zap.Error(err))
		hasDUR = true
	}
	guards.HasUnresolvedDUR = hasDUR

	hasReject, err := g.claims.HasActiveReject(ctx, prescriptionID)
	if err != nil {
		g.logger.Warn("claim lookup failed, treating rejection as active",
			zap.String("prescription_id", prescriptionID),
			zap.Error(err))
		hasReject = true
	}
	guards.HasInsuranceReject = hasReject

	return guards, nil
}
