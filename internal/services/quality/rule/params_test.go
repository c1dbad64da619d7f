package rule

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	apperrors "github.com/louisbranch/qualityhub/internal/platform/errors"
)

func TestParseParamType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw  string
		want ParamType
	}{
		{"", ParamType{Name: ParamString}},
		{"integer", ParamType{Name: ParamInteger}},
		{`SINGLE_SELECT_LIST,values="a,b"`, ParamType{Name: ParamSingleSelectList, Values: []string{"a", "b"}}},
		{`SINGLE_SELECT_LIST,values="a, b",multiple=true`, ParamType{Name: ParamSingleSelectList, Values: []string{"a", "b"}, Multiple: true}},
	}
	for _, tt := range tests {
		got := ParseParamType(tt.raw)
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Fatalf("ParseParamType(%q) mismatch (-want +got):\n%s", tt.raw, diff)
		}
	}
	if got := ParseParamType(`SINGLE_SELECT_LIST,values="a,b",multiple=true`).String(); got != `SINGLE_SELECT_LIST,values="a,b",multiple=true` {
		t.Fatalf("String() = %q", got)
	}
}

func TestValidateParam(t *testing.T) {
	t.Parallel()

	tests := []struct {
		paramType string
		value     string
		wantErr   string
	}{
		{ParamInteger, "", ""},
		{ParamInteger, "12", ""},
		{ParamInteger, "1.5", "Value '1.5' must be an integer."},
		{ParamFloat, "1.5", ""},
		{ParamFloat, "abc", "Value 'abc' must be a floating point number."},
		{ParamBoolean, "true", ""},
		{ParamBoolean, "yes", "Value 'yes' must be one of : true,false."},
		{ParamString, "anything", ""},
		{ParamText, "multi\nline", ""},
		{`SINGLE_SELECT_LIST,values="a,b"`, "b", ""},
		{`SINGLE_SELECT_LIST,values="a,b"`, "c", "Value 'c' must be one of : a,b."},
		{`SINGLE_SELECT_LIST,values="a,b",multiple=true`, "a,b", ""},
		{`SINGLE_SELECT_LIST,values="a,b",multiple=true`, "a,c", "Value 'c' must be one of : a,b."},
	}
	for _, tt := range tests {
		err := ValidateParam(tt.paramType, tt.value)
		if tt.wantErr == "" {
			if err != nil {
				t.Fatalf("ValidateParam(%q, %q) error: %v", tt.paramType, tt.value, err)
			}
			continue
		}
		if err == nil || err.Error() != tt.wantErr {
			t.Fatalf("ValidateParam(%q, %q) = %v, want %q", tt.paramType, tt.value, err, tt.wantErr)
		}
		if !apperrors.IsCode(err, apperrors.CodeRuleParamInvalid) {
			t.Fatalf("code = %s, want %s", apperrors.GetCode(err), apperrors.CodeRuleParamInvalid)
		}
	}
}
