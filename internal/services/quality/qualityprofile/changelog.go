package qualityprofile

import (
	"context"
	"fmt"
	"time"

	"github.com/louisbranch/qualityhub/internal/platform/pagination"
	"github.com/louisbranch/qualityhub/internal/services/quality/storage"
)

// ChangelogPageSize bounds changelog pages.
var ChangelogPageSize = pagination.PageSizeConfig{Default: 50, Max: 500}

// ChangelogRequest selects changelog entries. Since is inclusive and To is
// exclusive; zero values leave the window open.
type ChangelogRequest struct {
	ProfileKee string
	Since      time.Time
	To         time.Time
	Paging     pagination.Paging
}

// ChangelogEntry is one recorded change with its rule resolved.
type ChangelogEntry struct {
	Date     time.Time
	Type     string
	UserUUID string
	RuleUUID string
	RuleKey  string
	RuleName string
	Data     map[string]string
}

// ChangelogResult is one page of changes, newest first.
type ChangelogResult struct {
	Entries []ChangelogEntry
	Total   int
	Paging  pagination.Paging
}

// Changelog returns the changes recorded for a profile.
func (s *Service) Changelog(ctx context.Context, req ChangelogRequest) (ChangelogResult, error) {
	if err := s.ready(); err != nil {
		return ChangelogResult{}, err
	}
	if _, err := loadProfile(ctx, s.store, req.ProfileKee); err != nil {
		return ChangelogResult{}, err
	}
	paging := req.Paging
	if paging.Page < 1 {
		paging.Page = 1
	}
	paging.PageSize = pagination.ClampPageSize(paging.PageSize, ChangelogPageSize)

	changes, total, err := s.store.ListChanges(ctx, storage.ChangeQuery{
		ProfileKee: req.ProfileKee,
		Since:      req.Since,
		To:         req.To,
		Offset:     paging.Offset(),
		Limit:      paging.PageSize,
	})
	if err != nil {
		return ChangelogResult{}, fmt.Errorf("list changes: %w", err)
	}

	var ruleUUIDs []string
	seen := map[string]bool{}
	for _, c := range changes {
		if c.RuleUUID != "" && !seen[c.RuleUUID] {
			seen[c.RuleUUID] = true
			ruleUUIDs = append(ruleUUIDs, c.RuleUUID)
		}
	}
	rules := map[string]storage.Rule{}
	if len(ruleUUIDs) > 0 {
		found, err := s.store.ListRulesByUUIDs(ctx, ruleUUIDs)
		if err != nil {
			return ChangelogResult{}, fmt.Errorf("list changed rules: %w", err)
		}
		for _, r := range found {
			rules[r.UUID] = r
		}
	}

	result := ChangelogResult{Total: total, Paging: paging, Entries: make([]ChangelogEntry, 0, len(changes))}
	for _, c := range changes {
		entry := ChangelogEntry{
			Date:     c.CreatedAt,
			Type:     c.Type,
			UserUUID: c.UserUUID,
			RuleUUID: c.RuleUUID,
			Data:     c.Data,
		}
		if r, ok := rules[c.RuleUUID]; ok {
			entry.RuleKey = r.RuleKey()
			entry.RuleName = r.Name
		}
		result.Entries = append(result.Entries, entry)
	}
	return result, nil
}
