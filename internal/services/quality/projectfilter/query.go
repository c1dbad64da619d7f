package projectfilter

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	apperrors "github.com/louisbranch/qualityhub/internal/platform/errors"
)

// NoData matches projects without a value for a metric.
const NoData = "NO_DATA"

// Quality gate statuses.
const (
	QualityGateOK    = "OK"
	QualityGateWarn  = "WARN"
	QualityGateError = "ERROR"
)

const minQueryLength = 2

var (
	qualityGateStatuses = []string{QualityGateOK, QualityGateWarn, QualityGateError}
	searchQualifiers    = []string{"TRK", "APP"}
)

// MetricCriterion compares a numeric measure.
type MetricCriterion struct {
	MetricKey string
	Operator  Operator
	Value     float64
	// NoData matches projects missing the measure.
	NoData bool
}

// Match reports whether a measure satisfies the criterion.
func (c MetricCriterion) Match(value float64, present bool) bool {
	if c.NoData {
		return !present
	}
	if !present {
		return false
	}
	switch c.Operator {
	case OpLT:
		return value < c.Value
	case OpLTE:
		return value <= c.Value
	case OpGT:
		return value > c.Value
	case OpGTE:
		return value >= c.Value
	default:
		return value == c.Value
	}
}

// Query is a validated project search.
type Query struct {
	Metrics           []MetricCriterion
	QualityGateStatus string
	Languages         []string
	Tags              []string
	Text              string
	Qualifiers        []string
	OnlyFavorites     bool
}

// Build turns parsed criteria into a query.
func Build(criteria []Criterion) (Query, error) {
	var q Query
	for _, c := range criteria {
		var err error
		switch c.Key {
		case "alert_status":
			err = q.setQualityGate(c)
		case "languages", "language":
			q.Languages, err = listValues(c,
				"Languages should be set either by using 'languages = java' or 'languages IN (java, js)'")
		case "tags":
			q.Tags, err = listValues(c,
				"Tags should be set either by using 'tags = java' or 'tags IN (finance, platform)'")
		case "query":
			err = q.setText(c)
		case "qualifier":
			err = q.setQualifier(c)
		case "isfavorite":
			if c.Operator != OpNone {
				err = apperrors.New(apperrors.CodeFilterInvalid, "isFavorite does not accept an operator or a value")
			}
			q.OnlyFavorites = true
		default:
			err = q.addMetric(c)
		}
		if err != nil {
			return Query{}, err
		}
	}
	return q, nil
}

// Validate rejects metric criteria on keys outside allowed.
func Validate(q Query, allowed []string) error {
	var unsupported []string
	for _, m := range q.Metrics {
		if !slices.Contains(allowed, m.MetricKey) && !slices.Contains(unsupported, m.MetricKey) {
			unsupported = append(unsupported, m.MetricKey)
		}
	}
	if len(unsupported) == 0 {
		return nil
	}
	quoted := make([]string, len(unsupported))
	for i, k := range unsupported {
		quoted[i] = "'" + k + "'"
	}
	return apperrors.WithMetadata(apperrors.CodeMetricUnsupported,
		"Following metrics are not supported: "+strings.Join(quoted, ", "),
		map[string]string{"metrics": strings.Join(unsupported, ",")})
}

func (q *Query) setQualityGate(c Criterion) error {
	if c.Operator != OpEQ {
		return apperrors.New(apperrors.CodeFilterInvalid, "Only equals operator is available for quality gate criteria")
	}
	status := strings.ToUpper(c.Value)
	if !slices.Contains(qualityGateStatuses, status) {
		return apperrors.Newf(apperrors.CodeFilterInvalid, "Unknown quality gate status : '%s'", c.Value)
	}
	q.QualityGateStatus = status
	return nil
}

func (q *Query) setText(c Criterion) error {
	if c.Operator != OpEQ {
		return apperrors.New(apperrors.CodeFilterInvalid, "Query should only be used with equals operator")
	}
	if len([]rune(c.Value)) < minQueryLength {
		return apperrors.Newf(apperrors.CodeFilterInvalid, "Query must be at least %d characters long", minQueryLength)
	}
	q.Text = c.Value
	return nil
}

func (q *Query) setQualifier(c Criterion) error {
	if c.Operator != OpEQ {
		return apperrors.New(apperrors.CodeFilterInvalid, "Only equals operator is available for qualifier criteria")
	}
	qualifier := strings.ToUpper(c.Value)
	if !slices.Contains(searchQualifiers, qualifier) {
		return apperrors.Newf(apperrors.CodeFilterInvalid, "Unknown qualifier : '%s'", c.Value)
	}
	q.Qualifiers = []string{qualifier}
	return nil
}

func (q *Query) addMetric(c Criterion) error {
	switch c.Operator {
	case OpEQ, OpLT, OpLTE, OpGT, OpGTE:
	case OpNone:
		return apperrors.Newf(apperrors.CodeFilterInvalid, "Invalid criterion '%s': an operator and a value are required", c.Key)
	default:
		return apperrors.Newf(apperrors.CodeFilterInvalid, "Operator '%s' is not supported for metric '%s'", c.Operator, c.Key)
	}
	if strings.EqualFold(c.Value, NoData) {
		if c.Operator != OpEQ {
			return apperrors.New(apperrors.CodeFilterInvalid, "NO_DATA can only be used with equals operator")
		}
		q.Metrics = append(q.Metrics, MetricCriterion{MetricKey: c.Key, Operator: OpEQ, NoData: true})
		return nil
	}
	value, err := strconv.ParseFloat(c.Value, 64)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeFilterInvalid,
			fmt.Sprintf("Value '%s' of metric '%s' is not a number", c.Value, c.Key), err)
	}
	q.Metrics = append(q.Metrics, MetricCriterion{MetricKey: c.Key, Operator: c.Operator, Value: value})
	return nil
}

func listValues(c Criterion, usage string) ([]string, error) {
	switch c.Operator {
	case OpEQ:
		if c.Value == "" {
			return nil, apperrors.New(apperrors.CodeFilterInvalid, usage)
		}
		return []string{c.Value}, nil
	case OpIN:
		var values []string
		for _, v := range c.Values {
			if v != "" {
				values = append(values, v)
			}
		}
		if len(values) == 0 {
			return nil, apperrors.New(apperrors.CodeFilterInvalid, usage)
		}
		return values, nil
	default:
		return nil, apperrors.New(apperrors.CodeFilterInvalid, usage)
	}
}
