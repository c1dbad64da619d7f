package httpapi

import (
	"net/http"
	"strings"
	"time"

	apperrors "github.com/louisbranch/qualityhub/internal/platform/errors"
	"github.com/louisbranch/qualityhub/internal/platform/pagination"
)

// Layouts of date and datetime parameters and fields.
const (
	dateLayout     = "2006-01-02"
	dateTimeLayout = "2006-01-02T15:04:05-0700"
)

func required(r *http.Request, name string) (string, error) {
	value := trimmed(r, name)
	if value == "" {
		return "", apperrors.Newf(apperrors.CodeMissingParameter, "The '%s' parameter is missing", name)
	}
	return value, nil
}

// boolParam accepts true, false, yes and no.
func boolParam(r *http.Request, name string, def bool) (bool, error) {
	switch value := strings.ToLower(trimmed(r, name)); value {
	case "":
		return def, nil
	case "true", "yes":
		return true, nil
	case "false", "no":
		return false, nil
	default:
		return false, apperrors.Newf(apperrors.CodeInvalidArgument,
			"Value of parameter '%s' (%s) must be one of: [true, false, yes, no]", name, trimmed(r, name))
	}
}

// listParam splits a comma separated parameter, dropping blank items.
func listParam(r *http.Request, name string) []string {
	raw := trimmed(r, name)
	if raw == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func pagingParam(r *http.Request, cfg pagination.PageSizeConfig) (pagination.Paging, error) {
	paging, err := pagination.Parse(r.FormValue("p"), r.FormValue("ps"), cfg)
	if err != nil {
		return pagination.Paging{}, apperrors.Wrap(apperrors.CodeInvalidArgument, err.Error(), err)
	}
	return paging, nil
}

// dateParam parses a date or a datetime. A bare date means the start of
// that day in UTC.
func dateParam(r *http.Request, name string) (time.Time, error) {
	raw := trimmed(r, name)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(dateTimeLayout, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return time.Time{}, apperrors.Newf(apperrors.CodeInvalidArgument,
			"'%s' cannot be parsed as either a date or date+time", raw)
	}
	return t, nil
}

func formatDateTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(dateTimeLayout)
}

type pagingJSON struct {
	PageIndex int `json:"pageIndex"`
	PageSize  int `json:"pageSize"`
	Total     int `json:"total"`
}

func toPaging(p pagination.Paging, total int) pagingJSON {
	return pagingJSON{PageIndex: p.Page, PageSize: p.PageSize, Total: total}
}
