// Package exchange imports and exports quality profiles through a registry
// of formats. Every format goes through the backup document, so imports
// restore the same way a backup does.
package exchange

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strings"

	apperrors "github.com/louisbranch/qualityhub/internal/platform/errors"
	"github.com/louisbranch/qualityhub/internal/platform/i18n/catalog"
	"github.com/louisbranch/qualityhub/internal/services/quality/qualityprofile"
	"github.com/louisbranch/qualityhub/internal/services/quality/qualityprofile/backup"
	"golang.org/x/text/message"
)

// ExportInput is what an exporter renders.
type ExportInput struct {
	Document backup.Document
	// Inheritance carries the rule counts and ancestors of the profile.
	Inheritance qualityprofile.InheritanceView
	Printer     *message.Printer
}

// Exporter writes a profile in one format.
type Exporter interface {
	Key() string
	Name() string
	ContentType() string
	Export(in ExportInput, w io.Writer) error
}

// Importer reads a profile from one format.
type Importer interface {
	Key() string
	Name() string
	Import(r io.Reader) (backup.Document, error)
}

// Service runs imports and exports.
type Service struct {
	profiles  *qualityprofile.Service
	backups   *backup.Service
	messages  *catalog.Bundle
	exporters map[string]Exporter
	importers map[string]Importer
}

// NewService creates a service with the built-in formats registered.
func NewService(profiles *qualityprofile.Service, backups *backup.Service) *Service {
	s := &Service{
		profiles:  profiles,
		backups:   backups,
		messages:  catalog.Default(),
		exporters: map[string]Exporter{},
		importers: map[string]Importer{},
	}
	s.RegisterExporter(sonarXML{})
	s.RegisterExporter(yamlFormat{})
	s.RegisterExporter(csvSummary{})
	s.RegisterImporter(sonarXML{})
	s.RegisterImporter(yamlFormat{})
	return s
}

// RegisterExporter adds or replaces an exporter.
func (s *Service) RegisterExporter(e Exporter) {
	s.exporters[e.Key()] = e
}

// RegisterImporter adds or replaces an importer.
func (s *Service) RegisterImporter(i Importer) {
	s.importers[i.Key()] = i
}

// Exporters returns the registered exporters sorted by key.
func (s *Service) Exporters() []Exporter {
	keys := sortedKeys(s.exporters)
	out := make([]Exporter, len(keys))
	for i, k := range keys {
		out[i] = s.exporters[k]
	}
	return out
}

// Importers returns the registered importers sorted by key.
func (s *Service) Importers() []Importer {
	keys := sortedKeys(s.importers)
	out := make([]Importer, len(keys))
	for i, k := range keys {
		out[i] = s.importers[k]
	}
	return out
}

// Exporter looks up an exporter by key.
func (s *Service) Exporter(key string) (Exporter, error) {
	e, ok := s.exporters[key]
	if !ok {
		return nil, apperrors.Newf(apperrors.CodeInvalidArgument,
			"Value of parameter 'exporterKey' (%s) must be one of: [%s]", key, strings.Join(sortedKeys(s.exporters), ", "))
	}
	return e, nil
}

func (s *Service) importer(key string) (Importer, error) {
	i, ok := s.importers[key]
	if !ok {
		return nil, apperrors.Newf(apperrors.CodeInvalidArgument,
			"Value of parameter 'importerKey' (%s) must be one of: [%s]", key, strings.Join(sortedKeys(s.importers), ", "))
	}
	return i, nil
}

func (s *Service) ready() error {
	if s == nil || s.profiles == nil || s.backups == nil {
		return fmt.Errorf("exchange service is not configured")
	}
	return nil
}

// Export writes a profile with the exporter named exporterKey. lang picks
// the locale of localized formats and may be an Accept-Language value.
func (s *Service) Export(ctx context.Context, profileKee, exporterKey, lang string, w io.Writer) error {
	if err := s.ready(); err != nil {
		return err
	}
	e, err := s.Exporter(exporterKey)
	if err != nil {
		return err
	}
	doc, err := s.backups.Export(ctx, profileKee)
	if err != nil {
		return err
	}
	view, err := s.profiles.Inheritance(ctx, profileKee)
	if err != nil {
		return err
	}
	return e.Export(ExportInput{Document: doc, Inheritance: view, Printer: s.messages.Printer(lang)}, w)
}

// Import reads a profile with the importer named importerKey and restores
// it, named overrideName when set.
func (s *Service) Import(ctx context.Context, r io.Reader, importerKey, overrideName string) (backup.Summary, error) {
	if err := s.ready(); err != nil {
		return backup.Summary{}, err
	}
	i, err := s.importer(importerKey)
	if err != nil {
		return backup.Summary{}, err
	}
	doc, err := i.Import(r)
	if err != nil {
		return backup.Summary{}, err
	}
	return s.backups.RestoreDocument(ctx, doc, overrideName)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
