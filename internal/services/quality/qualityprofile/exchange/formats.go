package exchange

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	apperrors "github.com/louisbranch/qualityhub/internal/platform/errors"
	"github.com/louisbranch/qualityhub/internal/services/quality/qualityprofile/backup"
	"github.com/louisbranch/qualityhub/internal/services/quality/rule"
	"gopkg.in/yaml.v3"
)

// sonarXML is the backup format.
type sonarXML struct{}

func (sonarXML) Key() string         { return "sonarxml" }
func (sonarXML) Name() string        { return "SonarQube XML" }
func (sonarXML) ContentType() string { return "application/xml" }

func (sonarXML) Export(in ExportInput, w io.Writer) error {
	return backup.Write(w, in.Document)
}

func (sonarXML) Import(r io.Reader) (backup.Document, error) {
	return backup.Parse(r)
}

type yamlProfile struct {
	Name     string     `yaml:"name"`
	Language string     `yaml:"language"`
	Rules    []yamlRule `yaml:"rules"`
}

type yamlRule struct {
	Key                string            `yaml:"key"`
	Type               string            `yaml:"type,omitempty"`
	Severity           string            `yaml:"severity"`
	Impacts            map[string]string `yaml:"impacts,omitempty"`
	Prioritized        bool              `yaml:"prioritized,omitempty"`
	Template           string            `yaml:"template,omitempty"`
	Name               string            `yaml:"name,omitempty"`
	Description        string            `yaml:"description,omitempty"`
	CleanCodeAttribute string            `yaml:"cleanCodeAttribute,omitempty"`
	Params             map[string]string `yaml:"params,omitempty"`
}

// yamlFormat writes rules with their full key and params as a map.
type yamlFormat struct{}

func (yamlFormat) Key() string         { return "yaml" }
func (yamlFormat) Name() string        { return "YAML" }
func (yamlFormat) ContentType() string { return "application/yaml" }

func (yamlFormat) Export(in ExportInput, w io.Writer) error {
	doc := in.Document
	out := yamlProfile{Name: doc.Name, Language: doc.Language, Rules: []yamlRule{}}
	for _, r := range doc.Rules.Rules {
		entry := yamlRule{
			Key:                r.RuleKey(),
			Type:               r.Type,
			Severity:           r.Priority,
			Prioritized:        r.Prioritized,
			Name:               r.Name,
			Description:        r.Description,
			CleanCodeAttribute: r.CleanCodeAttribute,
		}
		if r.TemplateKey != "" {
			entry.Template = rule.FormatKey(r.RepositoryKey, r.TemplateKey)
		}
		if r.Impacts != nil && len(r.Impacts.Impacts) > 0 {
			entry.Impacts = make(map[string]string, len(r.Impacts.Impacts))
			for _, i := range r.Impacts.Impacts {
				entry.Impacts[i.SoftwareQuality] = i.Severity
			}
		}
		if len(r.Parameters.Parameters) > 0 {
			entry.Params = make(map[string]string, len(r.Parameters.Parameters))
			for _, p := range r.Parameters.Parameters {
				entry.Params[p.Key] = p.Value
			}
		}
		out.Rules = append(out.Rules, entry)
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("encode yaml profile: %w", err)
	}
	return enc.Close()
}

func (yamlFormat) Import(r io.Reader) (backup.Document, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var in yamlProfile
	if err := dec.Decode(&in); err != nil {
		if errors.Is(err, io.EOF) {
			return backup.Document{}, apperrors.New(apperrors.CodeBackupInvalid, "Fail to import Quality profile, YAML document is empty")
		}
		return backup.Document{}, apperrors.Wrap(apperrors.CodeBackupInvalid,
			"Fail to import Quality profile, YAML document is not well formed", err)
	}

	doc := backup.Document{Name: strings.TrimSpace(in.Name), Language: strings.TrimSpace(in.Language)}
	for _, entry := range in.Rules {
		repository, key, err := rule.ParseKey(entry.Key)
		if err != nil {
			return backup.Document{}, apperrors.Newf(apperrors.CodeBackupInvalid, "Invalid rule key '%s'", entry.Key)
		}
		r := backup.Rule{
			RepositoryKey:      repository,
			Key:                key,
			Type:               strings.TrimSpace(entry.Type),
			Priority:           strings.TrimSpace(entry.Severity),
			Prioritized:        entry.Prioritized,
			Name:               entry.Name,
			Description:        entry.Description,
			CleanCodeAttribute: entry.CleanCodeAttribute,
		}
		if entry.Template != "" {
			// templates live in the rule's repository
			r.TemplateKey = entry.Template
			if _, templateKey, err := rule.ParseKey(entry.Template); err == nil {
				r.TemplateKey = templateKey
			}
		}
		if len(entry.Impacts) > 0 {
			r.Impacts = &backup.Impacts{}
			for _, quality := range sortedKeys(entry.Impacts) {
				r.Impacts.Impacts = append(r.Impacts.Impacts, backup.Impact{SoftwareQuality: quality, Severity: entry.Impacts[quality]})
			}
		}
		for _, name := range sortedKeys(entry.Params) {
			r.Parameters.Parameters = append(r.Parameters.Parameters, backup.Parameter{Key: name, Value: entry.Params[name]})
		}
		doc.Rules.Rules = append(doc.Rules.Rules, r)
	}
	return doc, nil
}

// csvSummary writes localized label,value rows counting the active rules.
type csvSummary struct{}

func (csvSummary) Key() string         { return "csv-summary" }
func (csvSummary) Name() string        { return "Rule count summary (CSV)" }
func (csvSummary) ContentType() string { return "text/csv" }

func (csvSummary) Export(in ExportInput, w io.Writer) error {
	p := in.Printer
	count := func(n int) string { return p.Sprintf("exchange.summary.count", n) }

	bySeverity := map[string]int{}
	byType := map[string]int{}
	for _, r := range in.Document.Rules.Rules {
		bySeverity[r.Priority]++
		if r.Type != "" {
			byType[r.Type]++
		}
	}

	rows := [][]string{
		{p.Sprintf("exchange.summary.field"), p.Sprintf("exchange.summary.value")},
		{p.Sprintf("exchange.summary.profile"), in.Document.Name},
		{p.Sprintf("exchange.summary.language"), in.Document.Language},
	}
	if len(in.Inheritance.Ancestors) > 0 {
		rows = append(rows, []string{p.Sprintf("exchange.summary.parent"), in.Inheritance.Ancestors[0].Profile.Name})
	}
	rows = append(rows,
		[]string{p.Sprintf("exchange.summary.active_rules"), count(in.Inheritance.Profile.ActiveRuleCount)},
		[]string{p.Sprintf("exchange.summary.overriding_rules"), count(in.Inheritance.Profile.OverridingRuleCount)},
	)
	severities := slices.Clone(rule.Severities)
	slices.Reverse(severities)
	for _, severity := range severities {
		rows = append(rows, []string{p.Sprintf("exchange.summary.severity", severity), count(bySeverity[severity])})
	}
	for _, t := range rule.Types {
		rows = append(rows, []string{p.Sprintf("exchange.summary.type", t), count(byType[t])})
	}

	cw := csv.NewWriter(w)
	if err := cw.WriteAll(rows); err != nil {
		return fmt.Errorf("write csv summary: %w", err)
	}
	return nil
}
