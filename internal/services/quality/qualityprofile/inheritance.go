package qualityprofile

import (
	"context"
	"fmt"

	apperrors "github.com/louisbranch/qualityhub/internal/platform/errors"
	"github.com/louisbranch/qualityhub/internal/services/quality/storage"
	"go.opentelemetry.io/otel/attribute"
)

// SetParent makes parentKee the parent of profileKee. An empty parentKee
// detaches the profile. Rules inherited from the old parent are removed,
// overridden ones become the profile's own, and the new parent's rules are
// inherited.
func (s *Service) SetParent(ctx context.Context, profileKee, parentKee string) ([]Change, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	ctx, span := s.startSpan(ctx, "SetParent", attribute.String("profile", profileKee), attribute.String("parent", parentKee))
	defer span.End()

	var changes []Change
	err := s.store.Transact(ctx, func(tx storage.Store) error {
		op := s.newOperation(ctx, tx)
		profile, err := loadProfile(ctx, tx, profileKee)
		if err != nil {
			return err
		}
		if err := checkWritable(profile); err != nil {
			return err
		}
		if parentKee == profile.ParentKee {
			return nil
		}

		var parent storage.Profile
		if parentKee != "" {
			parent, err = loadProfile(ctx, tx, parentKee)
			if err != nil {
				return err
			}
			if parent.Language != profile.Language {
				return apperrors.Newf(apperrors.CodeProfileParentInvalid,
					"Cannot set the profile '%s' of language '%s' as parent of profile '%s' of language '%s'",
					parent.Name, parent.Language, profile.Name, profile.Language)
			}
			if parent.Kee == profile.Kee {
				return apperrors.New(apperrors.CodeProfileParentInvalid, "A profile can not be selected as its own parent")
			}
			descendants, err := descendants(ctx, tx, profile.Kee)
			if err != nil {
				return err
			}
			for _, d := range descendants {
				if d.Kee == parent.Kee {
					return apperrors.New(apperrors.CodeProfileParentInvalid, "Descendant profile can not be selected as parent")
				}
			}
		}

		if profile.ParentKee != "" {
			if err := s.detach(ctx, op, profile); err != nil {
				return err
			}
		}
		profile.ParentKee = parentKee
		if err := tx.PutProfile(ctx, profile); err != nil {
			return fmt.Errorf("put profile: %w", err)
		}
		if parentKee != "" {
			inherited, err := tx.ListActiveRules(ctx, parent.Kee)
			if err != nil {
				return fmt.Errorf("list parent active rules: %w", err)
			}
			for _, ar := range inherited {
				r, err := loadRule(ctx, tx, ar.RuleUUID)
				if err != nil {
					return err
				}
				if err := s.activate(ctx, op, profile, r, RuleActivation{RuleUUID: r.UUID}, true); err != nil {
					return err
				}
			}
		}
		if err := op.finish(ctx); err != nil {
			return err
		}
		changes = op.changes
		return nil
	})
	if err != nil {
		return nil, err
	}
	return changes, nil
}

// detach removes inherited rules from profile and turns overriding rules
// into the profile's own.
func (s *Service) detach(ctx context.Context, op *operation, profile storage.Profile) error {
	active, err := op.tx.ListActiveRules(ctx, profile.Kee)
	if err != nil {
		return fmt.Errorf("list active rules: %w", err)
	}
	for _, ar := range active {
		switch ar.Inheritance {
		case Inherited:
			r, err := loadRule(ctx, op.tx, ar.RuleUUID)
			if err != nil {
				return err
			}
			if err := s.deactivate(ctx, op, profile, r, true, false); err != nil {
				return err
			}
		case Overrides:
			r, err := loadRule(ctx, op.tx, ar.RuleUUID)
			if err != nil {
				return err
			}
			if err := op.persist(ctx, ChangeUpdated, profile, r, valuesOf(ar), InheritanceNone, &ar); err != nil {
				return err
			}
		}
	}
	return nil
}

// Ancestors returns the parents of a profile, nearest first.
func (s *Service) Ancestors(ctx context.Context, profileKee string) ([]storage.Profile, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	profile, err := loadProfile(ctx, s.store, profileKee)
	if err != nil {
		return nil, err
	}
	return ancestors(ctx, s.store, profile)
}

func ancestors(ctx context.Context, store storage.ProfileStore, profile storage.Profile) ([]storage.Profile, error) {
	var result []storage.Profile
	seen := map[string]bool{profile.Kee: true}
	for next := profile.ParentKee; next != "" && !seen[next]; {
		p, err := loadProfile(ctx, store, next)
		if err != nil {
			return nil, err
		}
		seen[p.Kee] = true
		result = append(result, p)
		next = p.ParentKee
	}
	return result, nil
}

// Descendants returns every profile below profileKee, breadth first.
func (s *Service) Descendants(ctx context.Context, profileKee string) ([]storage.Profile, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if _, err := loadProfile(ctx, s.store, profileKee); err != nil {
		return nil, err
	}
	return descendants(ctx, s.store, profileKee)
}

func descendants(ctx context.Context, store storage.ProfileStore, profileKee string) ([]storage.Profile, error) {
	var result []storage.Profile
	seen := map[string]bool{profileKee: true}
	queue := []string{profileKee}
	for len(queue) > 0 {
		kee := queue[0]
		queue = queue[1:]
		children, err := store.ListChildProfiles(ctx, kee)
		if err != nil {
			return nil, fmt.Errorf("list child profiles: %w", err)
		}
		for _, c := range children {
			if seen[c.Kee] {
				continue
			}
			seen[c.Kee] = true
			result = append(result, c)
			queue = append(queue, c.Kee)
		}
	}
	return result, nil
}

// InheritanceNode is a profile with its rule counts.
type InheritanceNode struct {
	Profile             storage.Profile
	ActiveRuleCount     int
	OverridingRuleCount int
}

// InheritanceView places a profile between its ancestors and children.
type InheritanceView struct {
	Profile   InheritanceNode
	Ancestors []InheritanceNode
	Children  []InheritanceNode
}

// Inheritance returns the inheritance view of a profile.
func (s *Service) Inheritance(ctx context.Context, profileKee string) (InheritanceView, error) {
	if err := s.ready(); err != nil {
		return InheritanceView{}, err
	}
	profile, err := loadProfile(ctx, s.store, profileKee)
	if err != nil {
		return InheritanceView{}, err
	}
	parents, err := ancestors(ctx, s.store, profile)
	if err != nil {
		return InheritanceView{}, err
	}
	children, err := s.store.ListChildProfiles(ctx, profile.Kee)
	if err != nil {
		return InheritanceView{}, fmt.Errorf("list child profiles: %w", err)
	}

	var view InheritanceView
	if view.Profile, err = s.node(ctx, profile); err != nil {
		return InheritanceView{}, err
	}
	for _, p := range parents {
		n, err := s.node(ctx, p)
		if err != nil {
			return InheritanceView{}, err
		}
		view.Ancestors = append(view.Ancestors, n)
	}
	for _, p := range children {
		n, err := s.node(ctx, p)
		if err != nil {
			return InheritanceView{}, err
		}
		view.Children = append(view.Children, n)
	}
	return view, nil
}

func (s *Service) node(ctx context.Context, p storage.Profile) (InheritanceNode, error) {
	active, overriding, err := s.store.CountActiveRules(ctx, p.Kee)
	if err != nil {
		return InheritanceNode{}, fmt.Errorf("count active rules of %s: %w", p.Kee, err)
	}
	return InheritanceNode{Profile: p, ActiveRuleCount: active, OverridingRuleCount: overriding}, nil
}
