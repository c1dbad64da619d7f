package qualityprofile

import (
	"context"

	apperrors "github.com/louisbranch/qualityhub/internal/platform/errors"
	"github.com/louisbranch/qualityhub/internal/services/quality/rulesearch"
	"go.opentelemetry.io/otel/attribute"
)

// BulkResult summarizes a bulk change. Succeeded counts rules that
// changed; Errors lists the message of every failure.
type BulkResult struct {
	Succeeded int
	Failed    int
	Errors    []string
	Changes   []Change
}

func (r *BulkResult) add(changes []Change, err error) {
	if err != nil {
		r.Failed++
		r.Errors = append(r.Errors, apperrors.PublicMessage(err))
		return
	}
	if len(changes) > 0 {
		r.Succeeded++
		r.Changes = append(r.Changes, changes...)
	}
}

// BulkActivate activates the rules matching filter with the given severity,
// empty for the rule default. Each rule is applied on its own.
func (s *Service) BulkActivate(ctx context.Context, profileKee, filter, severity string) (BulkResult, error) {
	if err := s.ready(); err != nil {
		return BulkResult{}, err
	}
	ctx, span := s.startSpan(ctx, "BulkActivate", attribute.String("profile", profileKee), attribute.String("filter", filter))
	defer span.End()

	if _, err := loadProfile(ctx, s.store, profileKee); err != nil {
		return BulkResult{}, err
	}
	rules, err := rulesearch.Search(ctx, s.store, filter)
	if err != nil {
		return BulkResult{}, err
	}
	var result BulkResult
	for _, r := range rules {
		result.add(s.Activate(ctx, profileKee, RuleActivation{RuleUUID: r.UUID, Severity: severity}))
	}
	return result, nil
}

// BulkDeactivate deactivates the rules matching filter.
func (s *Service) BulkDeactivate(ctx context.Context, profileKee, filter string) (BulkResult, error) {
	if err := s.ready(); err != nil {
		return BulkResult{}, err
	}
	ctx, span := s.startSpan(ctx, "BulkDeactivate", attribute.String("profile", profileKee), attribute.String("filter", filter))
	defer span.End()

	if _, err := loadProfile(ctx, s.store, profileKee); err != nil {
		return BulkResult{}, err
	}
	rules, err := rulesearch.Search(ctx, s.store, filter)
	if err != nil {
		return BulkResult{}, err
	}
	var result BulkResult
	for _, r := range rules {
		result.add(s.Deactivate(ctx, profileKee, []string{r.UUID}, false))
	}
	return result, nil
}
