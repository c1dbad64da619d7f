// Package projectindex keeps an in-memory search index of root components
// (projects, applications and portfolios) built from the quality store.
package projectindex

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/louisbranch/qualityhub/internal/services/quality/storage"
)

// Root qualifiers.
const (
	QualifierProject        = "TRK"
	QualifierApplication    = "APP"
	QualifierPortfolio      = "VW"
	QualifierSubPortfolio   = "SVW"
	languageDistributionKey = "ncloc_language_distribution"
	qualityGateKey          = "alert_status"
)

// RootQualifiers lists every qualifier kept in the index.
var RootQualifiers = []string{QualifierPortfolio, QualifierSubPortfolio, QualifierApplication, QualifierProject}

// Source reads the data the index is built from.
type Source interface {
	GetComponent(ctx context.Context, uuid string) (storage.Component, error)
	ListRoots(ctx context.Context, qualifiers []string) ([]storage.Component, error)
	ListLastAnalyses(ctx context.Context, projectUUIDs []string) (map[string]storage.Analysis, error)
	ListMeasures(ctx context.Context, componentUUIDs []string, metricKeys []string) ([]storage.Measure, error)
}

// Document is the indexed view of one root component.
type Document struct {
	UUID      string
	Key       string
	Name      string
	Qualifier string
	Private   bool
	Tags      []string
	Languages []string
	// Measures holds numeric measures by metric key.
	Measures       map[string]float64
	QualityGate    string
	AnalysisDate   time.Time
	LeakPeriodDate time.Time
	CreatedAt      time.Time
}

// Measure returns a numeric measure and whether it is present.
func (d Document) Measure(key string) (float64, bool) {
	v, ok := d.Measures[key]
	return v, ok
}

// Index is safe for concurrent use.
type Index struct {
	source Source

	mu   sync.RWMutex
	docs map[string]Document
}

// New creates an empty index over source.
func New(source Source) *Index {
	return &Index{source: source, docs: map[string]Document{}}
}

// Load rebuilds every document from the source.
func (i *Index) Load(ctx context.Context) error {
	if i == nil || i.source == nil {
		return fmt.Errorf("project index source is not configured")
	}
	roots, err := i.source.ListRoots(ctx, RootQualifiers)
	if err != nil {
		return fmt.Errorf("list roots: %w", err)
	}
	docs, err := i.build(ctx, roots)
	if err != nil {
		return err
	}
	byUUID := make(map[string]Document, len(docs))
	for _, d := range docs {
		byUUID[d.UUID] = d
	}

	i.mu.Lock()
	i.docs = byUUID
	i.mu.Unlock()
	return nil
}

// Refresh re-indexes one root component, dropping it when it no longer
// exists or is disabled or is not a root. The server relies on Run for
// full reloads; Refresh serves embedders that write a single project
// into the store and need it searchable before the next tick.
func (i *Index) Refresh(ctx context.Context, uuid string) error {
	if i == nil || i.source == nil {
		return fmt.Errorf("project index source is not configured")
	}
	component, err := i.source.GetComponent(ctx, uuid)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("get component: %w", err)
	}
	if err != nil || !component.Enabled || !component.IsRoot() {
		i.mu.Lock()
		delete(i.docs, uuid)
		i.mu.Unlock()
		return nil
	}
	docs, err := i.build(ctx, []storage.Component{component})
	if err != nil {
		return err
	}
	i.mu.Lock()
	i.docs[uuid] = docs[0]
	i.mu.Unlock()
	return nil
}

// Run reloads the index every interval until ctx ends. Reload failures are
// logged and retried on the next tick.
func (i *Index) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := i.Load(ctx); err != nil {
				log.Printf("project index refresh failed: %v", err)
			}
		}
	}
}

// Len returns the number of indexed documents.
func (i *Index) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.docs)
}

// Get returns the document of a root component.
func (i *Index) Get(uuid string) (Document, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	d, ok := i.docs[uuid]
	return d, ok
}

// All returns every indexed document, in no particular order.
func (i *Index) All() []Document {
	i.mu.RLock()
	defer i.mu.RUnlock()
	docs := make([]Document, 0, len(i.docs))
	for _, d := range i.docs {
		docs = append(docs, d)
	}
	return docs
}

func (i *Index) build(ctx context.Context, roots []storage.Component) ([]Document, error) {
	if len(roots) == 0 {
		return nil, nil
	}
	uuids := make([]string, len(roots))
	for n, r := range roots {
		uuids[n] = r.UUID
	}
	analyses, err := i.source.ListLastAnalyses(ctx, uuids)
	if err != nil {
		return nil, fmt.Errorf("list last analyses: %w", err)
	}
	measures, err := i.source.ListMeasures(ctx, uuids, nil)
	if err != nil {
		return nil, fmt.Errorf("list measures: %w", err)
	}

	docs := make([]Document, len(roots))
	index := make(map[string]int, len(roots))
	for n, r := range roots {
		analysis := analyses[r.UUID]
		docs[n] = Document{
			UUID:           r.UUID,
			Key:            r.Key,
			Name:           r.Name,
			Qualifier:      r.Qualifier,
			Private:        r.Private,
			Tags:           r.Tags,
			Measures:       map[string]float64{},
			AnalysisDate:   analysis.AnalyzedAt,
			LeakPeriodDate: analysis.PeriodDate,
			CreatedAt:      r.CreatedAt,
		}
		index[r.UUID] = n
	}
	for _, m := range measures {
		n, ok := index[m.ComponentUUID]
		if !ok {
			continue
		}
		switch m.MetricKey {
		case qualityGateKey:
			docs[n].QualityGate = m.Text
		case languageDistributionKey:
			docs[n].Languages = parseLanguageDistribution(m.Text)
		default:
			if m.Value != nil {
				docs[n].Measures[m.MetricKey] = *m.Value
			}
		}
	}
	return docs, nil
}

// parseLanguageDistribution reads "go=120;java=30" into its language keys.
func parseLanguageDistribution(raw string) []string {
	var languages []string
	for _, part := range strings.Split(raw, ";") {
		lang, count, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || lang == "" {
			continue
		}
		if _, err := strconv.Atoi(count); err != nil {
			continue
		}
		languages = append(languages, lang)
	}
	return languages
}
