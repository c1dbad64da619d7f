// Package component serves component navigation: tree listing, search
// suggestions, component details and favorites.
package component

import (
	"context"
	"errors"
	"fmt"

	apperrors "github.com/louisbranch/qualityhub/internal/platform/errors"
	"github.com/louisbranch/qualityhub/internal/platform/requestctx"
	"github.com/louisbranch/qualityhub/internal/services/quality/projectindex"
	"github.com/louisbranch/qualityhub/internal/services/quality/storage"
)

// Store is the persistence the component service needs.
type Store interface {
	storage.ComponentStore
	storage.FavoriteStore
}

// Service exposes component operations.
type Service struct {
	store Store
	index *projectindex.Index
}

// NewService creates a component service over store and the project index
// used for suggestions.
func NewService(store Store, index *projectindex.Index) *Service {
	return &Service{store: store, index: index}
}

func (s *Service) ready() error {
	if s == nil || s.store == nil {
		return fmt.Errorf("component store is not configured")
	}
	return nil
}

// loadComponent returns an enabled component by key, or a not-found error.
func (s *Service) loadComponent(ctx context.Context, key string) (storage.Component, error) {
	c, err := s.store.GetComponentByKey(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.Component{}, apperrors.Newf(apperrors.CodeComponentNotFound, "Component key '%s' not found", key)
		}
		return storage.Component{}, fmt.Errorf("get component %s: %w", key, err)
	}
	if !c.Enabled {
		return storage.Component{}, apperrors.Newf(apperrors.CodeComponentNotFound, "Component key '%s' not found", key)
	}
	return c, nil
}

// checkBrowse fails when the user cannot see the root of c.
func (s *Service) checkBrowse(ctx context.Context, user requestctx.User, c storage.Component) error {
	root := c
	if !c.IsRoot() {
		var err error
		root, err = s.store.GetComponent(ctx, c.RootUUID)
		if err != nil {
			return fmt.Errorf("get root component: %w", err)
		}
	}
	if !user.CanBrowse(root.Key, root.Private) {
		return apperrors.New(apperrors.CodeForbidden, "Insufficient privileges")
	}
	return nil
}

// ShowResult is a component with its ancestors, nearest parent first.
type ShowResult struct {
	Component storage.Component
	Ancestors []storage.Component
}

// Show returns a component and its ancestors.
func (s *Service) Show(ctx context.Context, key string) (ShowResult, error) {
	if err := s.ready(); err != nil {
		return ShowResult{}, err
	}
	if key == "" {
		return ShowResult{}, apperrors.New(apperrors.CodeMissingParameter, "The 'component' parameter is missing")
	}
	c, err := s.loadComponent(ctx, key)
	if err != nil {
		return ShowResult{}, err
	}
	if err := s.checkBrowse(ctx, requestctx.UserFromContext(ctx), c); err != nil {
		return ShowResult{}, err
	}

	result := ShowResult{Component: c}
	parentUUID := c.ParentUUID
	for parentUUID != "" {
		parent, err := s.store.GetComponent(ctx, parentUUID)
		if err != nil {
			return ShowResult{}, fmt.Errorf("get ancestor %s: %w", parentUUID, err)
		}
		result.Ancestors = append(result.Ancestors, parent)
		parentUUID = parent.ParentUUID
	}
	return result, nil
}
