package httpapi

import (
	"net/http"
	"strings"

	"github.com/louisbranch/qualityhub/internal/services/quality/rule"
	"github.com/louisbranch/qualityhub/internal/services/quality/storage"
)

type ruleParamJSON struct {
	Key          string `json:"key"`
	Type         string `json:"type"`
	DefaultValue string `json:"defaultValue,omitempty"`
	Description  string `json:"htmlDesc,omitempty"`
}

type ruleJSON struct {
	Key         string            `json:"key"`
	Repo        string            `json:"repo"`
	Name        string            `json:"name"`
	Lang        string            `json:"lang"`
	Severity    string            `json:"severity"`
	Type        string            `json:"type"`
	Status      string            `json:"status"`
	IsTemplate  bool              `json:"isTemplate"`
	TemplateKey string            `json:"templateKey,omitempty"`
	Description string            `json:"mdDesc,omitempty"`
	Impacts     map[string]string `json:"impacts,omitempty"`
	Tags        []string          `json:"sysTags"`
	Params      []ruleParamJSON   `json:"params"`
	CreatedAt   string            `json:"createdAt"`
}

type ruleResponse struct {
	Rule ruleJSON `json:"rule"`
}

func toRule(r storage.Rule, templateKey string) ruleJSON {
	out := ruleJSON{
		Key:         r.RuleKey(),
		Repo:        r.Repository,
		Name:        r.Name,
		Lang:        r.Language,
		Severity:    r.Severity,
		Type:        r.Type,
		Status:      r.Status,
		IsTemplate:  r.IsTemplate,
		TemplateKey: templateKey,
		Description: r.Description,
		Impacts:     r.Impacts,
		Tags:        append([]string{}, r.Tags...),
		Params:      make([]ruleParamJSON, 0, len(r.Params)),
		CreatedAt:   formatDateTime(r.CreatedAt),
	}
	for _, p := range r.Params {
		out.Params = append(out.Params, ruleParamJSON{Key: p.Name, Type: p.Type, DefaultValue: p.DefaultValue, Description: p.Description})
	}
	return out
}

// createRule creates a custom rule from a template.
func (h *Handler) createRule(w http.ResponseWriter, r *http.Request) {
	if err := requireProfileAdmin(r); err != nil {
		writeError(w, r, err)
		return
	}
	templateKey, err := required(r, "templateKey")
	if err != nil {
		writeError(w, r, err)
		return
	}
	params, err := keyValues("params", r.FormValue("params"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	created, err := h.svc.Rules.CreateCustom(r.Context(), rule.CustomRule{
		TemplateKey: templateKey,
		CustomKey:   trimmed(r, "customKey"),
		Name:        trimmed(r, "name"),
		Description: trimmed(r, "markdownDescription"),
		Severity:    strings.ToUpper(trimmed(r, "severity")),
		Type:        strings.ToUpper(trimmed(r, "type")),
		Status:      strings.ToUpper(trimmed(r, "status")),
		Params:      params,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, ruleResponse{Rule: toRule(created, templateKey)})
}

func (h *Handler) showRule(w http.ResponseWriter, r *http.Request) {
	key, err := required(r, "key")
	if err != nil {
		writeError(w, r, err)
		return
	}
	found, err := h.svc.Rules.Get(r.Context(), key)
	if err != nil {
		writeError(w, r, err)
		return
	}
	templateKey := ""
	if found.TemplateUUID != "" {
		template, err := h.svc.Rules.ByUUID(r.Context(), found.TemplateUUID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		templateKey = template.RuleKey()
	}
	writeJSON(w, ruleResponse{Rule: toRule(found, templateKey)})
}
