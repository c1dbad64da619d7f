package component

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	apperrors "github.com/louisbranch/qualityhub/internal/platform/errors"
	"github.com/louisbranch/qualityhub/internal/platform/requestctx"
	"github.com/louisbranch/qualityhub/internal/services/quality/storage"
)

var favoriteQualifiers = []string{"TRK", "VW", "SVW", "APP", "FIL", "UTS"}

func (s *Service) favoriteTarget(ctx context.Context, key string) (requestctx.User, storage.Component, error) {
	if err := s.ready(); err != nil {
		return requestctx.User{}, storage.Component{}, err
	}
	user := requestctx.UserFromContext(ctx)
	if !user.LoggedIn() {
		return requestctx.User{}, storage.Component{}, apperrors.New(apperrors.CodeUnauthenticated, "Authentication is required")
	}
	if strings.TrimSpace(key) == "" {
		return requestctx.User{}, storage.Component{}, apperrors.New(apperrors.CodeMissingParameter, "The 'component' parameter is missing")
	}
	c, err := s.loadComponent(ctx, key)
	if err != nil {
		return requestctx.User{}, storage.Component{}, err
	}
	if err := s.checkBrowse(ctx, user, c); err != nil {
		return requestctx.User{}, storage.Component{}, err
	}
	return user, c, nil
}

// AddFavorite marks a component as a favorite of the caller.
func (s *Service) AddFavorite(ctx context.Context, key string) error {
	user, c, err := s.favoriteTarget(ctx, key)
	if err != nil {
		return err
	}
	if !slices.Contains(favoriteQualifiers, c.Qualifier) {
		return apperrors.Newf(apperrors.CodeInvalidArgument,
			"Only components with qualifiers %s are supported", strings.Join(favoriteQualifiers, ", "))
	}
	if err := s.store.AddFavorite(ctx, user.UUID, c.UUID); err != nil {
		return fmt.Errorf("add favorite: %w", err)
	}
	return nil
}

// RemoveFavorite drops a favorite of the caller.
func (s *Service) RemoveFavorite(ctx context.Context, key string) error {
	user, c, err := s.favoriteTarget(ctx, key)
	if err != nil {
		return err
	}
	if err := s.store.RemoveFavorite(ctx, user.UUID, c.UUID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return apperrors.Newf(apperrors.CodeNotFound, "Component '%s' is not a favorite", key)
		}
		return fmt.Errorf("remove favorite: %w", err)
	}
	return nil
}

// Favorites lists the caller's favorite components ordered by name.
func (s *Service) Favorites(ctx context.Context) ([]storage.Component, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	user := requestctx.UserFromContext(ctx)
	if !user.LoggedIn() {
		return nil, apperrors.New(apperrors.CodeUnauthenticated, "Authentication is required")
	}
	uuids, err := s.store.ListFavorites(ctx, user.UUID)
	if err != nil {
		return nil, fmt.Errorf("list favorites: %w", err)
	}
	components, err := s.store.ListComponentsByUUIDs(ctx, uuids)
	if err != nil {
		return nil, fmt.Errorf("list favorite components: %w", err)
	}
	visible := components[:0]
	for _, c := range components {
		if !c.Enabled {
			continue
		}
		if err := s.checkBrowse(ctx, user, c); err != nil {
			if apperrors.IsCode(err, apperrors.CodeForbidden) {
				continue
			}
			return nil, err
		}
		visible = append(visible, c)
	}
	slices.SortFunc(visible, func(a, b storage.Component) int {
		if c := strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name)); c != 0 {
			return c
		}
		return strings.Compare(a.Key, b.Key)
	})
	return visible, nil
}
