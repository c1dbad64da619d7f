// Package qualityprofile manages quality profiles: the rules they activate,
// inheritance between profiles of one language, and the profile lifecycle.
package qualityprofile

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/louisbranch/qualityhub/internal/platform/errors"
	"github.com/louisbranch/qualityhub/internal/platform/otel"
	"github.com/louisbranch/qualityhub/internal/platform/requestctx"
	"github.com/louisbranch/qualityhub/internal/services/quality/storage"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Inheritance states of an active rule.
const (
	InheritanceNone = "NONE"
	Inherited       = "INHERITED"
	Overrides       = "OVERRIDES"
)

// Changelog entry types.
const (
	ChangeActivated   = "ACTIVATED"
	ChangeDeactivated = "DEACTIVATED"
	ChangeUpdated     = "UPDATED"
)

var tracer = otel.Tracer("qualityhub/qualityprofile")

// Config tunes profile behavior.
type Config struct {
	// AllowDisableInheritedRules lets users deactivate rules a profile
	// inherits from its parent.
	AllowDisableInheritedRules bool
}

// Service manages quality profiles.
type Service struct {
	store storage.Store
	cfg   Config
	clock func() time.Time
}

// NewService creates a quality profile service over store.
func NewService(store storage.Store, cfg Config) *Service {
	return &Service{store: store, cfg: cfg, clock: time.Now}
}

// WithStore returns a copy of the service bound to store, so callers can
// compose profile operations inside their own transaction.
func (s *Service) WithStore(store storage.Store) *Service {
	c := *s
	c.store = store
	return &c
}

func (s *Service) ready() error {
	if s == nil || s.store == nil {
		return fmt.Errorf("quality profile store is not configured")
	}
	return nil
}

func (s *Service) now() time.Time {
	if s.clock == nil {
		return time.Now().UTC()
	}
	return s.clock().UTC()
}

func (s *Service) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, "qualityprofile."+name, trace.WithAttributes(attrs...))
}

func loadProfile(ctx context.Context, store storage.ProfileStore, kee string) (storage.Profile, error) {
	p, err := store.GetProfile(ctx, kee)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.Profile{}, apperrors.Newf(apperrors.CodeProfileNotFound, "Quality Profile with key '%s' does not exist", kee)
		}
		return storage.Profile{}, fmt.Errorf("get profile %s: %w", kee, err)
	}
	return p, nil
}

func loadRule(ctx context.Context, store storage.RuleStore, uuid string) (storage.Rule, error) {
	r, err := store.GetRule(ctx, uuid)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.Rule{}, apperrors.Newf(apperrors.CodeRuleNotFound, "Rule with uuid '%s' not found", uuid)
		}
		return storage.Rule{}, fmt.Errorf("get rule %s: %w", uuid, err)
	}
	return r, nil
}

func checkWritable(p storage.Profile) error {
	if p.BuiltIn {
		return apperrors.Newf(apperrors.CodeProfileBuiltIn, "The built-in profile %s is read-only and can't be updated", p.Name)
	}
	return nil
}

// Get returns a profile by key.
func (s *Service) Get(ctx context.Context, kee string) (storage.Profile, error) {
	if err := s.ready(); err != nil {
		return storage.Profile{}, err
	}
	return loadProfile(ctx, s.store, kee)
}

// GetByName returns the profile named name for language.
func (s *Service) GetByName(ctx context.Context, language, name string) (storage.Profile, error) {
	if err := s.ready(); err != nil {
		return storage.Profile{}, err
	}
	p, err := s.store.GetProfileByName(ctx, language, name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.Profile{}, apperrors.Newf(apperrors.CodeProfileNotFound,
				"Quality Profile for language '%s' and name '%s' does not exist", language, name)
		}
		return storage.Profile{}, fmt.Errorf("get profile %s/%s: %w", language, name, err)
	}
	return p, nil
}

// operation accumulates the changes of one write and the profiles it
// touched.
type operation struct {
	tx      storage.Store
	user    string
	now     time.Time
	builtIn bool
	changes []Change
	touched map[string]bool
}

func (s *Service) newOperation(ctx context.Context, tx storage.Store) *operation {
	return &operation{
		tx:      tx,
		user:    requestctx.UserIDFromContext(ctx),
		now:     s.now(),
		touched: map[string]bool{},
	}
}

// finish stamps rules_updated_at on every touched profile, and
// user_updated_at when a user made the change.
func (op *operation) finish(ctx context.Context) error {
	for kee := range op.touched {
		p, err := op.tx.GetProfile(ctx, kee)
		if err != nil {
			return fmt.Errorf("get profile %s: %w", kee, err)
		}
		p.RulesUpdatedAt = op.now
		if op.user != "" {
			p.UserUpdatedAt = op.now
		}
		if err := op.tx.PutProfile(ctx, p); err != nil {
			return fmt.Errorf("update profile dates: %w", err)
		}
	}
	return nil
}
