// Package backup writes quality profiles as XML and restores them.
package backup

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"slices"
	"sort"
	"strings"
	"time"

	apperrors "github.com/louisbranch/qualityhub/internal/platform/errors"
	"github.com/louisbranch/qualityhub/internal/services/quality/qualityprofile"
	"github.com/louisbranch/qualityhub/internal/services/quality/rule"
	"github.com/louisbranch/qualityhub/internal/services/quality/storage"
)

// Header opens every backup document.
const Header = `<?xml version="1.0" encoding="UTF-8"?>`

const externalRepositoryPrefix = "external_"

// Document is the XML form of a profile.
type Document struct {
	XMLName  xml.Name `xml:"profile"`
	Name     string   `xml:"name"`
	Language string   `xml:"language"`
	Rules    Rules    `xml:"rules"`
}

// Rules wraps the rule list so an empty profile still writes <rules>.
type Rules struct {
	Rules []Rule `xml:"rule"`
}

// Rule is one active rule of a backup. Custom rules also carry their
// template key, name and description.
type Rule struct {
	RepositoryKey      string     `xml:"repositoryKey"`
	Key                string     `xml:"key"`
	Type               string     `xml:"type,omitempty"`
	Priority           string     `xml:"priority"`
	Impacts            *Impacts   `xml:"impacts"`
	Prioritized        bool       `xml:"prioritizedRule,omitempty"`
	Name               string     `xml:"name,omitempty"`
	TemplateKey        string     `xml:"templateKey,omitempty"`
	Description        string     `xml:"description,omitempty"`
	CleanCodeAttribute string     `xml:"cleanCodeAttribute,omitempty"`
	Parameters         Parameters `xml:"parameters"`
}

// RuleKey returns "repository:key".
func (r Rule) RuleKey() string {
	return rule.FormatKey(r.RepositoryKey, r.Key)
}

// Impacts lists the impacts of a rule.
type Impacts struct {
	Impacts []Impact `xml:"impact"`
}

// Impact is a software quality with its severity.
type Impact struct {
	SoftwareQuality string `xml:"softwareQuality"`
	Severity        string `xml:"severity"`
}

// Parameters lists the params of a rule.
type Parameters struct {
	Parameters []Parameter `xml:"parameter"`
}

// Parameter is a param value.
type Parameter struct {
	Key   string `xml:"key"`
	Value string `xml:"value"`
}

// Summary reports the outcome of a restore.
type Summary struct {
	Profile   storage.Profile
	Activated int
	Failed    int
	Errors    []string
}

// Service backs up and restores quality profiles.
type Service struct {
	store    storage.Store
	profiles *qualityprofile.Service
	clock    func() time.Time
}

// NewService creates a backup service over store. Restores apply their
// rules through profiles.
func NewService(store storage.Store, profiles *qualityprofile.Service) *Service {
	return &Service{store: store, profiles: profiles, clock: time.Now}
}

func (s *Service) ready() error {
	if s == nil || s.store == nil || s.profiles == nil {
		return fmt.Errorf("backup service is not configured")
	}
	return nil
}

// Export builds the backup document of a profile. Rules are sorted by
// repository and key.
func (s *Service) Export(ctx context.Context, profileKee string) (Document, error) {
	if err := s.ready(); err != nil {
		return Document{}, err
	}
	p, err := s.profiles.Get(ctx, profileKee)
	if err != nil {
		return Document{}, err
	}
	active, err := s.store.ListActiveRules(ctx, p.Kee)
	if err != nil {
		return Document{}, fmt.Errorf("list active rules: %w", err)
	}
	uuids := make([]string, len(active))
	for i, ar := range active {
		uuids[i] = ar.RuleUUID
	}
	rules, err := s.store.ListRulesByUUIDs(ctx, uuids)
	if err != nil {
		return Document{}, fmt.Errorf("list rules: %w", err)
	}
	byUUID := make(map[string]storage.Rule, len(rules))
	for _, r := range rules {
		byUUID[r.UUID] = r
	}

	doc := Document{Name: p.Name, Language: p.Language}
	for _, ar := range active {
		r, ok := byUUID[ar.RuleUUID]
		if !ok {
			continue
		}
		entry := Rule{
			RepositoryKey: r.Repository,
			Key:           r.Key,
			Type:          r.Type,
			Priority:      ar.Severity,
			Prioritized:   ar.Prioritized,
		}
		if len(ar.Impacts) > 0 {
			entry.Impacts = &Impacts{}
			for _, quality := range sortedKeys(ar.Impacts) {
				entry.Impacts.Impacts = append(entry.Impacts.Impacts, Impact{SoftwareQuality: quality, Severity: ar.Impacts[quality]})
			}
		}
		if r.TemplateUUID != "" {
			template, err := s.store.GetRule(ctx, r.TemplateUUID)
			if err != nil {
				return Document{}, fmt.Errorf("get template of %s: %w", r.RuleKey(), err)
			}
			entry.Name = r.Name
			entry.TemplateKey = template.Key
			entry.Description = r.Description
			entry.CleanCodeAttribute = r.CleanCodeAttribute
		}
		for _, name := range sortedKeys(ar.Params) {
			entry.Parameters.Parameters = append(entry.Parameters.Parameters, Parameter{Key: name, Value: ar.Params[name]})
		}
		doc.Rules.Rules = append(doc.Rules.Rules, entry)
	}
	sort.Slice(doc.Rules.Rules, func(i, j int) bool {
		a, b := doc.Rules.Rules[i], doc.Rules.Rules[j]
		if a.RepositoryKey != b.RepositoryKey {
			return a.RepositoryKey < b.RepositoryKey
		}
		return a.Key < b.Key
	})
	return doc, nil
}

// Backup writes the XML backup of a profile to w.
func (s *Service) Backup(ctx context.Context, profileKee string, w io.Writer) error {
	doc, err := s.Export(ctx, profileKee)
	if err != nil {
		return err
	}
	return Write(w, doc)
}

// Write encodes doc with the backup header.
func Write(w io.Writer, doc Document) error {
	if _, err := io.WriteString(w, Header); err != nil {
		return fmt.Errorf("write backup header: %w", err)
	}
	enc := xml.NewEncoder(w)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode backup: %w", err)
	}
	return enc.Close()
}

// Parse reads a backup document.
func Parse(r io.Reader) (Document, error) {
	malformed := func(cause error) error {
		return apperrors.Wrap(apperrors.CodeBackupInvalid,
			"Fail to restore Quality profile backup, XML document is not well formed", cause)
	}
	dec := xml.NewDecoder(r)
	for {
		tok, err := dec.Token()
		if err != nil {
			return Document{}, malformed(err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if start.Name.Local != "profile" {
			return Document{}, apperrors.New(apperrors.CodeBackupInvalid, "Backup XML is not valid. Root element must be <profile>.")
		}
		var doc Document
		if err := dec.DecodeElement(&doc, &start); err != nil {
			return Document{}, malformed(err)
		}
		return trim(doc), nil
	}
}

func trim(doc Document) Document {
	doc.Name = strings.TrimSpace(doc.Name)
	doc.Language = strings.TrimSpace(doc.Language)
	for i, r := range doc.Rules.Rules {
		r.RepositoryKey = strings.TrimSpace(r.RepositoryKey)
		r.Key = strings.TrimSpace(r.Key)
		r.Priority = strings.TrimSpace(r.Priority)
		r.Type = strings.TrimSpace(r.Type)
		r.TemplateKey = strings.TrimSpace(r.TemplateKey)
		doc.Rules.Rules[i] = r
	}
	return doc
}

// Validate rejects documents that cannot be restored.
func Validate(doc Document) error {
	if doc.Language == "" {
		return apperrors.New(apperrors.CodeBackupInvalid, "Backup XML is not valid. The <language> element is missing.")
	}
	seen := map[string]bool{}
	var duplicates, external []string
	for _, r := range doc.Rules.Rules {
		key := r.RuleKey()
		if seen[key] && !slices.Contains(duplicates, key) {
			duplicates = append(duplicates, key)
		}
		seen[key] = true
		if strings.HasPrefix(r.RepositoryKey, externalRepositoryPrefix) && !slices.Contains(external, key) {
			external = append(external, key)
		}
	}
	if len(duplicates) > 0 {
		sort.Strings(duplicates)
		return apperrors.Newf(apperrors.CodeBackupInvalid,
			"The quality profile cannot be restored as it contains duplicates for the following rules: %s", strings.Join(duplicates, ", "))
	}
	if len(external) > 0 {
		sort.Strings(external)
		return apperrors.Newf(apperrors.CodeBackupInvalid,
			"The quality profile cannot be restored as it contains rules from external rule engines: %s", strings.Join(external, ", "))
	}
	return nil
}

// Restore reads a backup and makes its rules the profile's own rules. The
// profile is named after the backup unless overrideName is set, and is
// created when missing. Unknown rules are skipped; custom rules missing
// from the catalog are created from their template.
func (s *Service) Restore(ctx context.Context, r io.Reader, overrideName string) (Summary, error) {
	if err := s.ready(); err != nil {
		return Summary{}, err
	}
	doc, err := Parse(r)
	if err != nil {
		return Summary{}, err
	}
	return s.RestoreDocument(ctx, doc, overrideName)
}

// RestoreDocument restores an already parsed backup.
func (s *Service) RestoreDocument(ctx context.Context, doc Document, overrideName string) (Summary, error) {
	if err := s.ready(); err != nil {
		return Summary{}, err
	}
	if err := Validate(doc); err != nil {
		return Summary{}, err
	}
	name := doc.Name
	if strings.TrimSpace(overrideName) != "" {
		name = strings.TrimSpace(overrideName)
	}

	var (
		profile storage.Profile
		result  qualityprofile.BulkResult
	)
	err := s.store.Transact(ctx, func(tx storage.Store) error {
		profiles := s.profiles.WithStore(tx)
		var err error
		profile, err = targetProfile(ctx, profiles, doc.Language, name)
		if err != nil {
			return err
		}
		activations := make([]qualityprofile.RuleActivation, 0, len(doc.Rules.Rules))
		for _, entry := range doc.Rules.Rules {
			r, ok, err := s.resolveRule(ctx, tx, entry)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			activations = append(activations, activationOf(r, entry))
		}
		result, err = profiles.Reset(ctx, profile.Kee, activations)
		if err != nil {
			return err
		}
		profile, err = profiles.Get(ctx, profile.Kee)
		return err
	})
	if err != nil {
		return Summary{}, err
	}
	return Summary{
		Profile:   profile,
		Activated: result.Succeeded,
		Failed:    result.Failed,
		Errors:    result.Errors,
	}, nil
}

func targetProfile(ctx context.Context, profiles *qualityprofile.Service, language, name string) (storage.Profile, error) {
	p, err := profiles.GetByName(ctx, language, name)
	if err == nil {
		return p, nil
	}
	if !apperrors.IsCode(err, apperrors.CodeProfileNotFound) {
		return storage.Profile{}, err
	}
	return profiles.Create(ctx, qualityprofile.CreateRequest{Name: name, Language: language})
}

// resolveRule finds the catalog rule of a backup entry, following
// deprecated keys and creating missing custom rules from their template.
func (s *Service) resolveRule(ctx context.Context, store storage.Store, entry Rule) (storage.Rule, bool, error) {
	r, err := rule.Resolve(ctx, store, entry.RepositoryKey, entry.Key)
	if err == nil {
		if r.IsExternal {
			return storage.Rule{}, false, apperrors.Newf(apperrors.CodeBackupInvalid,
				"The quality profile cannot be restored as it contains rules from external rule engines: %s", entry.RuleKey())
		}
		return r, true, nil
	}
	if !apperrors.IsCode(err, apperrors.CodeRuleNotFound) {
		return storage.Rule{}, false, err
	}
	if entry.TemplateKey == "" {
		return storage.Rule{}, false, nil
	}

	template, err := rule.Resolve(ctx, store, entry.RepositoryKey, entry.TemplateKey)
	if err != nil {
		if apperrors.IsCode(err, apperrors.CodeRuleNotFound) {
			return storage.Rule{}, false, nil
		}
		return storage.Rule{}, false, err
	}
	params := make(map[string]string, len(entry.Parameters.Parameters))
	for _, p := range entry.Parameters.Parameters {
		params[p.Key] = p.Value
	}
	custom, err := rule.NewCustomRule(template, rule.CustomRule{
		CustomKey:   entry.Key,
		Name:        entry.Name,
		Description: entry.Description,
		Severity:    entry.Priority,
		Type:        entry.Type,
		Params:      params,
	}, s.clock().UTC())
	if err != nil {
		return storage.Rule{}, false, err
	}
	if entry.CleanCodeAttribute != "" {
		custom.CleanCodeAttribute = entry.CleanCodeAttribute
	}
	if err := store.PutRule(ctx, custom); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return storage.Rule{}, false, apperrors.Newf(apperrors.CodeInvalidArgument, "A rule with the key '%s' already exists", custom.RuleKey())
		}
		return storage.Rule{}, false, fmt.Errorf("create custom rule %s: %w", custom.RuleKey(), err)
	}
	return custom, true, nil
}

func activationOf(r storage.Rule, entry Rule) qualityprofile.RuleActivation {
	prioritized := entry.Prioritized
	a := qualityprofile.RuleActivation{
		RuleUUID:    r.UUID,
		Severity:    entry.Priority,
		Prioritized: &prioritized,
		Params:      map[string]string{},
	}
	if entry.Impacts != nil && len(entry.Impacts.Impacts) > 0 {
		a.Impacts = map[string]string{}
		for _, i := range entry.Impacts.Impacts {
			a.Impacts[strings.TrimSpace(i.SoftwareQuality)] = strings.TrimSpace(i.Severity)
		}
	}
	for _, p := range entry.Parameters.Parameters {
		a.Params[strings.TrimSpace(p.Key)] = p.Value
	}
	return a
}

// Copy copies a profile into the profile named toName of the same
// language, creating it when missing.
func (s *Service) Copy(ctx context.Context, fromKee, toName string) (Summary, error) {
	if err := s.ready(); err != nil {
		return Summary{}, err
	}
	from, err := s.profiles.Get(ctx, fromKee)
	if err != nil {
		return Summary{}, err
	}
	toName = strings.TrimSpace(toName)
	if toName == "" {
		return Summary{}, apperrors.New(apperrors.CodeMissingParameter, "The 'toName' parameter is missing")
	}
	if toName == from.Name {
		return Summary{}, apperrors.Newf(apperrors.CodeInvalidArgument, "Source and target profiles are equal: %s", from.Name)
	}
	var buf bytes.Buffer
	if err := s.Backup(ctx, fromKee, &buf); err != nil {
		return Summary{}, err
	}
	return s.Restore(ctx, &buf, toName)
}

func sortedKeys(values map[string]string) []string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
