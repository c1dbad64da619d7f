package qualityprofile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	apperrors "github.com/louisbranch/qualityhub/internal/platform/errors"
	"github.com/louisbranch/qualityhub/internal/platform/id"
	"github.com/louisbranch/qualityhub/internal/services/quality/storage"
	"go.opentelemetry.io/otel/attribute"
)

// MaxNameLength bounds profile names.
const MaxNameLength = 100

func validateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", apperrors.New(apperrors.CodeMissingParameter, "The 'name' parameter is missing")
	}
	if n := utf8.RuneCountInString(name); n > MaxNameLength {
		return "", apperrors.Newf(apperrors.CodeProfileNameInvalid,
			"'name' length (%d) is longer than the maximum authorized (%d)", n, MaxNameLength)
	}
	return name, nil
}

func profileExists(language, name string) error {
	return apperrors.WithMetadata(apperrors.CodeProfileExists,
		fmt.Sprintf("Quality profile already exists: {lang=%s, name=%s}", language, name),
		map[string]string{"language": language, "name": name})
}

func checkUniqueName(ctx context.Context, store storage.ProfileStore, language, name string) error {
	_, err := store.GetProfileByName(ctx, language, name)
	switch {
	case err == nil:
		return profileExists(language, name)
	case errors.Is(err, storage.ErrNotFound):
		return nil
	default:
		return fmt.Errorf("get profile by name: %w", err)
	}
}

// CreateRequest describes a new profile.
type CreateRequest struct {
	Name     string
	Language string
	BuiltIn  bool
}

// Create stores a new empty profile.
func (s *Service) Create(ctx context.Context, req CreateRequest) (storage.Profile, error) {
	if err := s.ready(); err != nil {
		return storage.Profile{}, err
	}
	name, err := validateName(req.Name)
	if err != nil {
		return storage.Profile{}, err
	}
	language := strings.TrimSpace(req.Language)
	if language == "" {
		return storage.Profile{}, apperrors.New(apperrors.CodeMissingParameter, "The 'language' parameter is missing")
	}
	if err := checkUniqueName(ctx, s.store, language, name); err != nil {
		return storage.Profile{}, err
	}
	kee, err := id.NewKey(language + " " + name)
	if err != nil {
		return storage.Profile{}, err
	}
	now := s.now()
	p := storage.Profile{
		Kee:       kee,
		Name:      name,
		Language:  language,
		BuiltIn:   req.BuiltIn,
		CreatedAt: now,
	}
	if err := s.store.PutProfile(ctx, p); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return storage.Profile{}, profileExists(language, name)
		}
		return storage.Profile{}, fmt.Errorf("put profile: %w", err)
	}
	return p, nil
}

// Rename changes the name of a profile, unique within its language.
func (s *Service) Rename(ctx context.Context, profileKee, newName string) (storage.Profile, error) {
	if err := s.ready(); err != nil {
		return storage.Profile{}, err
	}
	name, err := validateName(newName)
	if err != nil {
		return storage.Profile{}, err
	}
	var renamed storage.Profile
	err = s.store.Transact(ctx, func(tx storage.Store) error {
		p, err := loadProfile(ctx, tx, profileKee)
		if err != nil {
			return err
		}
		if p.BuiltIn {
			return apperrors.Newf(apperrors.CodeProfileBuiltIn, "Operation forbidden for built-in Quality Profile '%s'", p.Name)
		}
		if p.Name == name {
			renamed = p
			return nil
		}
		if err := checkUniqueName(ctx, tx, p.Language, name); err != nil {
			return err
		}
		p.Name = name
		if err := tx.PutProfile(ctx, p); err != nil {
			if errors.Is(err, storage.ErrAlreadyExists) {
				return profileExists(p.Language, name)
			}
			return fmt.Errorf("put profile: %w", err)
		}
		renamed = p
		return nil
	})
	if err != nil {
		return storage.Profile{}, err
	}
	return renamed, nil
}

// SetDefault makes a profile the default of its language.
func (s *Service) SetDefault(ctx context.Context, profileKee string) error {
	if err := s.ready(); err != nil {
		return err
	}
	p, err := loadProfile(ctx, s.store, profileKee)
	if err != nil {
		return err
	}
	if p.IsDefault {
		return nil
	}
	if err := s.store.SetDefaultProfile(ctx, p.Language, p.Kee); err != nil {
		return fmt.Errorf("set default profile: %w", err)
	}
	return nil
}

// Delete removes a profile and all its descendants.
func (s *Service) Delete(ctx context.Context, profileKee string) error {
	if err := s.ready(); err != nil {
		return err
	}
	ctx, span := s.startSpan(ctx, "Delete", attribute.String("profile", profileKee))
	defer span.End()

	return s.store.Transact(ctx, func(tx storage.Store) error {
		p, err := loadProfile(ctx, tx, profileKee)
		if err != nil {
			return err
		}
		if p.BuiltIn {
			return apperrors.Newf(apperrors.CodeProfileBuiltIn, "Operation forbidden for built-in Quality Profile '%s'", p.Name)
		}
		below, err := descendants(ctx, tx, p.Kee)
		if err != nil {
			return err
		}
		doomed := append([]storage.Profile{p}, below...)
		for _, d := range doomed {
			if d.IsDefault {
				return apperrors.Newf(apperrors.CodeProfileDefault, "Profile '%s' is the default profile and cannot be deleted", d.Name)
			}
		}
		// leaves first, so no deleted profile is still referenced as a parent
		for i := len(doomed) - 1; i >= 0; i-- {
			if err := tx.DeleteProfile(ctx, doomed[i].Kee); err != nil {
				return fmt.Errorf("delete profile %s: %w", doomed[i].Kee, err)
			}
		}
		return nil
	})
}

// SearchRequest filters profile searches.
type SearchRequest struct {
	Language string
	Defaults bool
}

// Summary is a profile with the figures listed alongside it.
type Summary struct {
	Profile         storage.Profile
	ParentName      string
	ActiveRuleCount int
}

// Search lists profiles by language, or only the defaults.
func (s *Service) Search(ctx context.Context, req SearchRequest) ([]Summary, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	profiles, err := s.store.ListProfiles(ctx, storage.ProfileQuery{Language: req.Language, DefaultsOnly: req.Defaults})
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	names := make(map[string]string, len(profiles))
	for _, p := range profiles {
		names[p.Kee] = p.Name
	}
	result := make([]Summary, 0, len(profiles))
	for _, p := range profiles {
		active, _, err := s.store.CountActiveRules(ctx, p.Kee)
		if err != nil {
			return nil, fmt.Errorf("count active rules of %s: %w", p.Kee, err)
		}
		sum := Summary{Profile: p, ActiveRuleCount: active}
		if p.ParentKee != "" {
			parentName, ok := names[p.ParentKee]
			if !ok {
				parent, err := loadProfile(ctx, s.store, p.ParentKee)
				if err != nil {
					return nil, err
				}
				parentName = parent.Name
			}
			sum.ParentName = parentName
		}
		result = append(result, sum)
	}
	return result, nil
}
