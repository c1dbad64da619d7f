package rule

import (
	"slices"
	"strconv"
	"strings"

	apperrors "github.com/louisbranch/qualityhub/internal/platform/errors"
)

// Param type names.
const (
	ParamInteger          = "INTEGER"
	ParamFloat            = "FLOAT"
	ParamBoolean          = "BOOLEAN"
	ParamString           = "STRING"
	ParamText             = "TEXT"
	ParamSingleSelectList = "SINGLE_SELECT_LIST"
)

// ParamType is a parsed parameter type such as
// `SINGLE_SELECT_LIST,values="a,b",multiple=true`.
type ParamType struct {
	Name     string
	Values   []string
	Multiple bool
}

// ParseParamType reads the textual form of a parameter type. An empty type
// is a STRING.
func ParseParamType(raw string) ParamType {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ParamType{Name: ParamString}
	}
	name, rest, _ := strings.Cut(raw, ",")
	pt := ParamType{Name: strings.ToUpper(strings.TrimSpace(name))}
	for rest != "" {
		var option string
		option, rest = nextOption(rest)
		key, value, _ := strings.Cut(option, "=")
		value = strings.Trim(strings.TrimSpace(value), `"`)
		switch strings.TrimSpace(key) {
		case "values":
			for _, v := range strings.Split(value, ",") {
				if v = strings.TrimSpace(v); v != "" {
					pt.Values = append(pt.Values, v)
				}
			}
		case "multiple":
			pt.Multiple = value == "true"
		}
	}
	return pt
}

// nextOption cuts one comma-separated option, honoring double quotes.
func nextOption(s string) (string, string) {
	quoted := false
	for i, r := range s {
		switch {
		case r == '"':
			quoted = !quoted
		case r == ',' && !quoted:
			return s[:i], s[i+1:]
		}
	}
	return s, ""
}

// String renders the type back into its textual form.
func (p ParamType) String() string {
	var b strings.Builder
	b.WriteString(p.Name)
	if len(p.Values) > 0 {
		b.WriteString(`,values="`)
		b.WriteString(strings.Join(p.Values, ","))
		b.WriteString(`"`)
	}
	if p.Multiple {
		b.WriteString(",multiple=true")
	}
	return b.String()
}

// ValidateParam checks value against a parameter type. Empty values always
// pass.
func ValidateParam(paramType string, value string) error {
	if value == "" {
		return nil
	}
	pt := ParseParamType(paramType)
	values := []string{value}
	if pt.Multiple {
		values = strings.Split(value, ",")
	}
	for _, v := range values {
		if err := pt.validate(v); err != nil {
			return err
		}
	}
	return nil
}

func (p ParamType) validate(value string) error {
	switch p.Name {
	case ParamInteger:
		if _, err := strconv.Atoi(value); err != nil {
			return apperrors.Newf(apperrors.CodeRuleParamInvalid, "Value '%s' must be an integer.", value)
		}
	case ParamFloat:
		if _, err := strconv.ParseFloat(value, 64); err != nil {
			return apperrors.Newf(apperrors.CodeRuleParamInvalid, "Value '%s' must be a floating point number.", value)
		}
	case ParamBoolean:
		if value != "true" && value != "false" {
			return apperrors.Newf(apperrors.CodeRuleParamInvalid, "Value '%s' must be one of : true,false.", value)
		}
	case ParamSingleSelectList:
		if len(p.Values) > 0 && !slices.Contains(p.Values, strings.TrimSpace(value)) {
			return apperrors.Newf(apperrors.CodeRuleParamInvalid, "Value '%s' must be one of : %s.", value, strings.Join(p.Values, ","))
		}
	}
	return nil
}
