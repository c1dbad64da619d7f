package qualityprofile

import (
	"context"

	apperrors "github.com/louisbranch/qualityhub/internal/platform/errors"
	"github.com/louisbranch/qualityhub/internal/services/quality/storage"
	"go.opentelemetry.io/otel/attribute"
)

// Reset makes activations the exact set of the profile's own rules. Rules
// it inherits stay active. Params an activation leaves out fall back to
// the parent's or default value. A failing activation is counted and
// skipped; storage failures abort the whole reset.
func (s *Service) Reset(ctx context.Context, profileKee string, activations []RuleActivation) (BulkResult, error) {
	if err := s.ready(); err != nil {
		return BulkResult{}, err
	}
	ctx, span := s.startSpan(ctx, "Reset", attribute.String("profile", profileKee), attribute.Int("rules", len(activations)))
	defer span.End()

	var result BulkResult
	err := s.store.Transact(ctx, func(tx storage.Store) error {
		result = BulkResult{}
		op := s.newOperation(ctx, tx)
		profile, err := loadProfile(ctx, tx, profileKee)
		if err != nil {
			return err
		}
		if err := checkWritable(profile); err != nil {
			return err
		}

		wanted := make(map[string]bool, len(activations))
		for _, a := range activations {
			before := len(op.changes)
			err := s.resetOne(ctx, op, profile, a)
			if err != nil {
				if apperrors.GetCode(err) == apperrors.CodeUnknown {
					return err
				}
				result.add(nil, err)
				continue
			}
			wanted[a.RuleUUID] = true
			result.Succeeded++
			result.Changes = append(result.Changes, op.changes[before:]...)
		}

		active, err := tx.ListActiveRules(ctx, profile.Kee)
		if err != nil {
			return err
		}
		for _, ar := range active {
			if wanted[ar.RuleUUID] || ar.Inheritance != InheritanceNone {
				continue
			}
			r, err := loadRule(ctx, tx, ar.RuleUUID)
			if err != nil {
				return err
			}
			before := len(op.changes)
			if err := s.deactivate(ctx, op, profile, r, true, false); err != nil {
				return err
			}
			result.Changes = append(result.Changes, op.changes[before:]...)
		}
		return op.finish(ctx)
	})
	if err != nil {
		return BulkResult{}, err
	}
	return result, nil
}

func (s *Service) resetOne(ctx context.Context, op *operation, profile storage.Profile, a RuleActivation) error {
	r, err := loadRule(ctx, op.tx, a.RuleUUID)
	if err != nil {
		return err
	}
	if err := checkActivation(profile, r, false); err != nil {
		return err
	}
	params := make(map[string]string, len(r.Params))
	for _, p := range r.Params {
		params[p.Name] = a.Params[p.Name]
	}
	a.Params = params
	return s.activate(ctx, op, profile, r, a, false)
}
