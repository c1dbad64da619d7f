package httpapi

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"

	apperrors "github.com/louisbranch/qualityhub/internal/platform/errors"
	"github.com/louisbranch/qualityhub/internal/services/quality/qualityprofile"
	"github.com/louisbranch/qualityhub/internal/services/quality/qualityprofile/backup"
	"github.com/louisbranch/qualityhub/internal/services/quality/storage"
)

const defaultExporter = "sonarxml"

// maxUpload bounds backup and import documents.
const maxUpload = 10 << 20

type profileJSON struct {
	Key             string `json:"key"`
	Name            string `json:"name"`
	Language        string `json:"language"`
	IsInherited     bool   `json:"isInherited"`
	ParentKey       string `json:"parentKey,omitempty"`
	ParentName      string `json:"parentName,omitempty"`
	IsDefault       bool   `json:"isDefault"`
	IsBuiltIn       bool   `json:"isBuiltIn"`
	ActiveRuleCount int    `json:"activeRuleCount"`
	RulesUpdatedAt  string `json:"rulesUpdatedAt,omitempty"`
	UserUpdatedAt   string `json:"userUpdatedAt,omitempty"`
	LastUsed        string `json:"lastUsed,omitempty"`
}

func toProfile(p storage.Profile) profileJSON {
	return profileJSON{
		Key:            p.Kee,
		Name:           p.Name,
		Language:       p.Language,
		IsInherited:    p.ParentKee != "",
		ParentKey:      p.ParentKee,
		IsDefault:      p.IsDefault,
		IsBuiltIn:      p.BuiltIn,
		RulesUpdatedAt: formatDateTime(p.RulesUpdatedAt),
		UserUpdatedAt:  formatDateTime(p.UserUpdatedAt),
		LastUsed:       formatDateTime(p.LastUsed),
	}
}

// resolveProfile finds a profile by keyParam, or by the qualityProfile and
// language pair.
func (h *Handler) resolveProfile(r *http.Request, keyParam string) (storage.Profile, error) {
	if kee := trimmed(r, keyParam); kee != "" {
		return h.svc.Profiles.Get(r.Context(), kee)
	}
	name, language := trimmed(r, "qualityProfile"), trimmed(r, "language")
	if name == "" || language == "" {
		return storage.Profile{}, apperrors.Newf(apperrors.CodeMissingParameter,
			"Either '%s' or 'qualityProfile' and 'language' must be set", keyParam)
	}
	return h.svc.Profiles.GetByName(r.Context(), language, name)
}

type profilesResponse struct {
	Profiles []profileJSON `json:"profiles"`
}

func (h *Handler) searchProfiles(w http.ResponseWriter, r *http.Request) {
	defaults, err := boolParam(r, "defaults", false)
	if err != nil {
		writeError(w, r, err)
		return
	}
	summaries, err := h.svc.Profiles.Search(r.Context(), qualityprofile.SearchRequest{
		Language: trimmed(r, "language"),
		Defaults: defaults,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := profilesResponse{Profiles: make([]profileJSON, 0, len(summaries))}
	for _, s := range summaries {
		p := toProfile(s.Profile)
		p.ParentName = s.ParentName
		p.ActiveRuleCount = s.ActiveRuleCount
		out.Profiles = append(out.Profiles, p)
	}
	writeJSON(w, out)
}

type profileResponse struct {
	Profile profileJSON `json:"profile"`
}

func (h *Handler) createProfile(w http.ResponseWriter, r *http.Request) {
	if err := requireProfileAdmin(r); err != nil {
		writeError(w, r, err)
		return
	}
	p, err := h.svc.Profiles.Create(r.Context(), qualityprofile.CreateRequest{
		Name:     r.FormValue("name"),
		Language: trimmed(r, "language"),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, profileResponse{Profile: toProfile(p)})
}

func (h *Handler) renameProfile(w http.ResponseWriter, r *http.Request) {
	if err := requireProfileAdmin(r); err != nil {
		writeError(w, r, err)
		return
	}
	kee, err := required(r, "key")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := h.svc.Profiles.Rename(r.Context(), kee, r.FormValue("name")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) copyProfile(w http.ResponseWriter, r *http.Request) {
	if err := requireProfileAdmin(r); err != nil {
		writeError(w, r, err)
		return
	}
	from, err := required(r, "fromKey")
	if err != nil {
		writeError(w, r, err)
		return
	}
	to, err := required(r, "toName")
	if err != nil {
		writeError(w, r, err)
		return
	}
	summary, err := h.svc.Backups.Copy(r.Context(), from, to)
	if err != nil {
		writeError(w, r, err)
		return
	}
	p := toProfile(summary.Profile)
	p.ActiveRuleCount = summary.Activated
	writeJSON(w, p)
}

func (h *Handler) deleteProfile(w http.ResponseWriter, r *http.Request) {
	if err := requireProfileAdmin(r); err != nil {
		writeError(w, r, err)
		return
	}
	p, err := h.resolveProfile(r, "key")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.svc.Profiles.Delete(r.Context(), p.Kee); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) setDefaultProfile(w http.ResponseWriter, r *http.Request) {
	if err := requireProfileAdmin(r); err != nil {
		writeError(w, r, err)
		return
	}
	p, err := h.resolveProfile(r, "key")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.svc.Profiles.SetDefault(r.Context(), p.Kee); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// changeParent detaches the profile when no parent is given.
func (h *Handler) changeParent(w http.ResponseWriter, r *http.Request) {
	if err := requireProfileAdmin(r); err != nil {
		writeError(w, r, err)
		return
	}
	p, err := h.resolveProfile(r, "key")
	if err != nil {
		writeError(w, r, err)
		return
	}
	parentKee := trimmed(r, "parentKey")
	if name := trimmed(r, "parentQualityProfile"); parentKee == "" && name != "" {
		parent, err := h.svc.Profiles.GetByName(r.Context(), p.Language, name)
		if err != nil {
			writeError(w, r, err)
			return
		}
		parentKee = parent.Kee
	}
	if _, err := h.svc.Profiles.SetParent(r.Context(), p.Kee, parentKee); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type inheritanceNodeJSON struct {
	Key                 string `json:"key"`
	Name                string `json:"name"`
	Parent              string `json:"parent,omitempty"`
	IsBuiltIn           bool   `json:"isBuiltIn"`
	ActiveRuleCount     int    `json:"activeRuleCount"`
	OverridingRuleCount int    `json:"overridingRuleCount"`
}

type inheritanceResponse struct {
	Profile   inheritanceNodeJSON   `json:"profile"`
	Ancestors []inheritanceNodeJSON `json:"ancestors"`
	Children  []inheritanceNodeJSON `json:"children"`
}

func toInheritanceNodes(nodes []qualityprofile.InheritanceNode) []inheritanceNodeJSON {
	out := make([]inheritanceNodeJSON, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, toInheritanceNode(n))
	}
	return out
}

func toInheritanceNode(n qualityprofile.InheritanceNode) inheritanceNodeJSON {
	return inheritanceNodeJSON{
		Key:                 n.Profile.Kee,
		Name:                n.Profile.Name,
		Parent:              n.Profile.ParentKee,
		IsBuiltIn:           n.Profile.BuiltIn,
		ActiveRuleCount:     n.ActiveRuleCount,
		OverridingRuleCount: n.OverridingRuleCount,
	}
}

func (h *Handler) inheritance(w http.ResponseWriter, r *http.Request) {
	p, err := h.resolveProfile(r, "key")
	if err != nil {
		writeError(w, r, err)
		return
	}
	view, err := h.svc.Profiles.Inheritance(r.Context(), p.Kee)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, inheritanceResponse{
		Profile:   toInheritanceNode(view.Profile),
		Ancestors: toInheritanceNodes(view.Ancestors),
		Children:  toInheritanceNodes(view.Children),
	})
}

// keyValues parses "k1=v1;k2=v2". A value may itself contain '='.
func keyValues(name, raw string) (map[string]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	out := map[string]string{}
	for _, pair := range strings.Split(raw, ";") {
		if strings.TrimSpace(pair) == "" {
			continue
		}
		k, v, ok := strings.Cut(pair, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, apperrors.Newf(apperrors.CodeInvalidArgument,
				"Invalid '%s' value: '%s' must be formatted as key=value", name, pair)
		}
		out[k] = strings.TrimSpace(v)
	}
	return out, nil
}

func (h *Handler) activateRule(w http.ResponseWriter, r *http.Request) {
	if err := requireProfileAdmin(r); err != nil {
		writeError(w, r, err)
		return
	}
	kee, err := required(r, "key")
	if err != nil {
		writeError(w, r, err)
		return
	}
	ruleKey, err := required(r, "rule")
	if err != nil {
		writeError(w, r, err)
		return
	}
	reset, err := boolParam(r, "reset", false)
	if err != nil {
		writeError(w, r, err)
		return
	}
	params, err := keyValues("params", r.FormValue("params"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	impacts, err := keyValues("impacts", r.FormValue("impacts"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	activation := qualityprofile.RuleActivation{
		Severity: strings.ToUpper(trimmed(r, "severity")),
		Impacts:  impacts,
		Params:   params,
		Reset:    reset,
	}
	if trimmed(r, "prioritizedRule") != "" {
		prioritized, err := boolParam(r, "prioritizedRule", false)
		if err != nil {
			writeError(w, r, err)
			return
		}
		activation.Prioritized = &prioritized
	}
	found, err := h.svc.Rules.Get(r.Context(), ruleKey)
	if err != nil {
		writeError(w, r, err)
		return
	}
	activation.RuleUUID = found.UUID
	if _, err := h.svc.Profiles.Activate(r.Context(), kee, activation); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) deactivateRule(w http.ResponseWriter, r *http.Request) {
	if err := requireProfileAdmin(r); err != nil {
		writeError(w, r, err)
		return
	}
	kee, err := required(r, "key")
	if err != nil {
		writeError(w, r, err)
		return
	}
	ruleKey, err := required(r, "rule")
	if err != nil {
		writeError(w, r, err)
		return
	}
	force, err := boolParam(r, "force", false)
	if err != nil {
		writeError(w, r, err)
		return
	}
	found, err := h.svc.Rules.Get(r.Context(), ruleKey)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := h.svc.Profiles.Deactivate(r.Context(), kee, []string{found.UUID}, force); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type bulkResponse struct {
	Succeeded int            `json:"succeeded"`
	Failed    int            `json:"failed"`
	Errors    []errorMessage `json:"errors"`
}

func toBulk(res qualityprofile.BulkResult) bulkResponse {
	out := bulkResponse{Succeeded: res.Succeeded, Failed: res.Failed, Errors: make([]errorMessage, 0, len(res.Errors))}
	for _, msg := range res.Errors {
		out.Errors = append(out.Errors, errorMessage{Msg: msg})
	}
	return out
}

func (h *Handler) activateRules(w http.ResponseWriter, r *http.Request) {
	if err := requireProfileAdmin(r); err != nil {
		writeError(w, r, err)
		return
	}
	kee, err := required(r, "targetKey")
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.svc.Profiles.BulkActivate(r.Context(), kee, r.FormValue("q"), strings.ToUpper(trimmed(r, "targetSeverity")))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, toBulk(res))
}

func (h *Handler) deactivateRules(w http.ResponseWriter, r *http.Request) {
	if err := requireProfileAdmin(r); err != nil {
		writeError(w, r, err)
		return
	}
	kee, err := required(r, "targetKey")
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.svc.Profiles.BulkDeactivate(r.Context(), kee, r.FormValue("q"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, toBulk(res))
}

type changelogEventJSON struct {
	Date       string            `json:"date"`
	Action     string            `json:"action"`
	AuthorUUID string            `json:"authorUuid,omitempty"`
	RuleKey    string            `json:"ruleKey"`
	RuleName   string            `json:"ruleName"`
	Params     map[string]string `json:"params,omitempty"`
}

type changelogResponse struct {
	Paging pagingJSON           `json:"paging"`
	Events []changelogEventJSON `json:"events"`
}

func (h *Handler) changelog(w http.ResponseWriter, r *http.Request) {
	p, err := h.resolveProfile(r, "key")
	if err != nil {
		writeError(w, r, err)
		return
	}
	since, err := dateParam(r, "since")
	if err != nil {
		writeError(w, r, err)
		return
	}
	to, err := dateParam(r, "to")
	if err != nil {
		writeError(w, r, err)
		return
	}
	paging, err := pagingParam(r, qualityprofile.ChangelogPageSize)
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.svc.Profiles.Changelog(r.Context(), qualityprofile.ChangelogRequest{
		ProfileKee: p.Kee,
		Since:      since,
		To:         to,
		Paging:     paging,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := changelogResponse{Paging: toPaging(res.Paging, res.Total), Events: make([]changelogEventJSON, 0, len(res.Entries))}
	for _, e := range res.Entries {
		out.Events = append(out.Events, changelogEventJSON{
			Date:       formatDateTime(e.Date),
			Action:     e.Type,
			AuthorUUID: e.UserUUID,
			RuleKey:    e.RuleKey,
			RuleName:   e.RuleName,
			Params:     e.Data,
		})
	}
	writeJSON(w, out)
}

func writeDocument(w http.ResponseWriter, contentType, filename string, body []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func documentName(p storage.Profile, ext string) string {
	name := strings.Map(func(r rune) rune {
		if r == '"' || r == '/' || r == '\\' {
			return '_'
		}
		return r
	}, p.Name)
	return fmt.Sprintf("%s-%s.%s", p.Language, name, ext)
}

func (h *Handler) backup(w http.ResponseWriter, r *http.Request) {
	p, err := h.resolveProfile(r, "key")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var buf bytes.Buffer
	if err := h.svc.Backups.Backup(r.Context(), p.Kee, &buf); err != nil {
		writeError(w, r, err)
		return
	}
	writeDocument(w, "application/xml", documentName(p, "xml"), buf.Bytes())
}

// upload returns the multipart file field, or the raw body of a
// non-multipart request.
func upload(r *http.Request, field string) (io.ReadCloser, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		file, _, err := r.FormFile(field)
		if err != nil {
			return nil, apperrors.Newf(apperrors.CodeMissingParameter, "The '%s' parameter is missing", field)
		}
		return file, nil
	}
	return r.Body, nil
}

type restoreResponse struct {
	Profile      profileJSON    `json:"profile"`
	RuleSuccess  int            `json:"ruleSuccesses"`
	RuleFailures int            `json:"ruleFailures"`
	Errors       []errorMessage `json:"errors,omitempty"`
}

func toRestore(s backup.Summary) restoreResponse {
	out := restoreResponse{Profile: toProfile(s.Profile), RuleSuccess: s.Activated, RuleFailures: s.Failed}
	out.Profile.ActiveRuleCount = s.Activated
	for _, msg := range s.Errors {
		out.Errors = append(out.Errors, errorMessage{Msg: msg})
	}
	return out
}

func (h *Handler) restore(w http.ResponseWriter, r *http.Request) {
	if err := requireProfileAdmin(r); err != nil {
		writeError(w, r, err)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUpload)
	body, err := upload(r, "backup")
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer body.Close()
	summary, err := h.svc.Backups.Restore(r.Context(), body, trimmed(r, "name"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, toRestore(summary))
}

func (h *Handler) export(w http.ResponseWriter, r *http.Request) {
	p, err := h.resolveProfile(r, "key")
	if err != nil {
		writeError(w, r, err)
		return
	}
	exporterKey := trimmed(r, "exporterKey")
	if exporterKey == "" {
		exporterKey = defaultExporter
	}
	exporter, err := h.svc.Exchange.Exporter(exporterKey)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var buf bytes.Buffer
	if err := h.svc.Exchange.Export(r.Context(), p.Kee, exporterKey, r.Header.Get("Accept-Language"), &buf); err != nil {
		writeError(w, r, err)
		return
	}
	ext := exporterKey
	if i := strings.LastIndex(exporter.ContentType(), "/"); i >= 0 {
		ext = exporter.ContentType()[i+1:]
	}
	writeDocument(w, exporter.ContentType(), documentName(p, ext), buf.Bytes())
}

type formatJSON struct {
	Key  string `json:"key"`
	Name string `json:"name"`
}

func (h *Handler) exporters(w http.ResponseWriter, _ *http.Request) {
	out := struct {
		Exporters []formatJSON `json:"exporters"`
	}{Exporters: []formatJSON{}}
	for _, e := range h.svc.Exchange.Exporters() {
		out.Exporters = append(out.Exporters, formatJSON{Key: e.Key(), Name: e.Name()})
	}
	writeJSON(w, out)
}

func (h *Handler) importers(w http.ResponseWriter, _ *http.Request) {
	out := struct {
		Importers []formatJSON `json:"importers"`
	}{Importers: []formatJSON{}}
	for _, i := range h.svc.Exchange.Importers() {
		out.Importers = append(out.Importers, formatJSON{Key: i.Key(), Name: i.Name()})
	}
	writeJSON(w, out)
}

func (h *Handler) importProfile(w http.ResponseWriter, r *http.Request) {
	if err := requireProfileAdmin(r); err != nil {
		writeError(w, r, err)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUpload)
	importerKey, err := required(r, "importerKey")
	if err != nil {
		writeError(w, r, err)
		return
	}
	body, err := upload(r, "file")
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer body.Close()
	summary, err := h.svc.Exchange.Import(r.Context(), body, importerKey, trimmed(r, "name"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, toRestore(summary))
}
