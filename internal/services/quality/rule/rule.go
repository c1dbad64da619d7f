// Package rule holds the coding rule catalog vocabulary: severities, types,
// impacts, parameter types and custom rules created from templates.
package rule

import (
	"fmt"
	"slices"
	"strings"

	apperrors "github.com/louisbranch/qualityhub/internal/platform/errors"
)

// Severities, least severe first.
const (
	SeverityInfo     = "INFO"
	SeverityMinor    = "MINOR"
	SeverityMajor    = "MAJOR"
	SeverityCritical = "CRITICAL"
	SeverityBlocker  = "BLOCKER"
)

// Severities lists every rule severity, least severe first.
var Severities = []string{SeverityInfo, SeverityMinor, SeverityMajor, SeverityCritical, SeverityBlocker}

// Statuses.
const (
	StatusReady      = "READY"
	StatusBeta       = "BETA"
	StatusDeprecated = "DEPRECATED"
	StatusRemoved    = "REMOVED"
)

// Rule types.
const (
	TypeCodeSmell       = "CODE_SMELL"
	TypeBug             = "BUG"
	TypeVulnerability   = "VULNERABILITY"
	TypeSecurityHotspot = "SECURITY_HOTSPOT"
)

var statuses = []string{StatusReady, StatusBeta, StatusDeprecated, StatusRemoved}

// Types lists every rule type.
var Types = []string{TypeCodeSmell, TypeBug, TypeVulnerability, TypeSecurityHotspot}

// Software qualities impacted by a rule.
const (
	QualityMaintainability = "MAINTAINABILITY"
	QualityReliability     = "RELIABILITY"
	QualitySecurity        = "SECURITY"
)

// Impact severities.
const (
	ImpactInfo    = "INFO"
	ImpactLow     = "LOW"
	ImpactMedium  = "MEDIUM"
	ImpactHigh    = "HIGH"
	ImpactBlocker = "BLOCKER"
)

var (
	qualities       = []string{QualityMaintainability, QualityReliability, QualitySecurity}
	impactSeverites = []string{ImpactInfo, ImpactLow, ImpactMedium, ImpactHigh, ImpactBlocker}
)

// ValidateSeverity rejects unknown rule severities.
func ValidateSeverity(severity string) error {
	if !slices.Contains(Severities, severity) {
		return apperrors.Newf(apperrors.CodeInvalidArgument,
			"Value of parameter 'severity' (%s) must be one of: [%s]", severity, strings.Join(Severities, ", "))
	}
	return nil
}

// ValidateStatus rejects unknown rule statuses.
func ValidateStatus(status string) error {
	if !slices.Contains(statuses, status) {
		return apperrors.Newf(apperrors.CodeInvalidArgument,
			"Value of parameter 'status' (%s) must be one of: [%s]", status, strings.Join(statuses, ", "))
	}
	return nil
}

// ValidateType rejects unknown rule types.
func ValidateType(ruleType string) error {
	if !slices.Contains(Types, ruleType) {
		return apperrors.Newf(apperrors.CodeInvalidArgument,
			"Value of parameter 'type' (%s) must be one of: [%s]", ruleType, strings.Join(Types, ", "))
	}
	return nil
}

// ValidateImpacts rejects unknown software qualities or impact severities.
func ValidateImpacts(impacts map[string]string) error {
	for quality, severity := range impacts {
		if !slices.Contains(qualities, quality) {
			return apperrors.Newf(apperrors.CodeInvalidArgument, "Unknown software quality '%s'", quality)
		}
		if !slices.Contains(impactSeverites, severity) {
			return apperrors.Newf(apperrors.CodeInvalidArgument, "Unknown impact severity '%s' for %s", severity, quality)
		}
	}
	return nil
}

var severityToImpact = map[string]string{
	SeverityInfo:     ImpactInfo,
	SeverityMinor:    ImpactLow,
	SeverityMajor:    ImpactMedium,
	SeverityCritical: ImpactHigh,
	SeverityBlocker:  ImpactBlocker,
}

// ImpactSeverity maps a rule severity onto the impact severity scale.
func ImpactSeverity(severity string) string {
	return severityToImpact[severity]
}

// Severity maps an impact severity back onto the rule severity scale.
func Severity(impact string) string {
	for severity, i := range severityToImpact {
		if i == impact {
			return severity
		}
	}
	return ""
}

// QualityOf returns the software quality matching a rule type, empty for
// security hotspots.
func QualityOf(ruleType string) string {
	switch ruleType {
	case TypeCodeSmell:
		return QualityMaintainability
	case TypeBug:
		return QualityReliability
	case TypeVulnerability:
		return QualitySecurity
	}
	return ""
}

// ParseKey splits "repository:key".
func ParseKey(ruleKey string) (string, string, error) {
	repository, key, ok := strings.Cut(strings.TrimSpace(ruleKey), ":")
	if !ok || repository == "" || key == "" {
		return "", "", apperrors.Newf(apperrors.CodeInvalidArgument, "Invalid rule key: %s", ruleKey)
	}
	return repository, key, nil
}

// FormatKey joins a repository and a key.
func FormatKey(repository, key string) string {
	return fmt.Sprintf("%s:%s", repository, key)
}
