// Package httpapi serves the quality web services under /api.
package httpapi

import (
	"log"
	"net/http"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/louisbranch/qualityhub/internal/platform/auth"
	apperrors "github.com/louisbranch/qualityhub/internal/platform/errors"
	"github.com/louisbranch/qualityhub/internal/platform/httpx"
	"github.com/louisbranch/qualityhub/internal/platform/requestctx"
	"github.com/louisbranch/qualityhub/internal/services/quality/component"
	"github.com/louisbranch/qualityhub/internal/services/quality/qualityprofile"
	"github.com/louisbranch/qualityhub/internal/services/quality/qualityprofile/backup"
	"github.com/louisbranch/qualityhub/internal/services/quality/qualityprofile/exchange"
	"github.com/louisbranch/qualityhub/internal/services/quality/rule"
)

// Services are the domain services behind the API.
type Services struct {
	Components *component.Service
	Rules      *rule.Service
	Profiles   *qualityprofile.Service
	Backups    *backup.Service
	Exchange   *exchange.Service
}

// Handler routes API requests.
type Handler struct {
	svc Services
}

// NewHandler builds the API handler with its middleware stack.
func NewHandler(authCfg auth.Config, svc Services) http.Handler {
	h := &Handler{svc: svc}
	mux := http.NewServeMux()

	get := httpx.RequireMethod(http.MethodGet, http.MethodHead)
	post := httpx.RequireMethod(http.MethodPost)
	routes := []struct {
		path   string
		method httpx.Middleware
		fn     http.HandlerFunc
	}{
		{"/api/components/search_projects", get, h.searchProjects},
		{"/api/components/tree", get, h.tree},
		{"/api/components/suggestions", get, h.suggestions},
		{"/api/components/show", get, h.show},

		{"/api/favorites/add", post, h.addFavorite},
		{"/api/favorites/remove", post, h.removeFavorite},
		{"/api/favorites/search", get, h.searchFavorites},

		{"/api/rules/create", post, h.createRule},
		{"/api/rules/show", get, h.showRule},

		{"/api/qualityprofiles/search", get, h.searchProfiles},
		{"/api/qualityprofiles/create", post, h.createProfile},
		{"/api/qualityprofiles/rename", post, h.renameProfile},
		{"/api/qualityprofiles/copy", post, h.copyProfile},
		{"/api/qualityprofiles/delete", post, h.deleteProfile},
		{"/api/qualityprofiles/set_default", post, h.setDefaultProfile},
		{"/api/qualityprofiles/change_parent", post, h.changeParent},
		{"/api/qualityprofiles/inheritance", get, h.inheritance},
		{"/api/qualityprofiles/activate_rule", post, h.activateRule},
		{"/api/qualityprofiles/deactivate_rule", post, h.deactivateRule},
		{"/api/qualityprofiles/activate_rules", post, h.activateRules},
		{"/api/qualityprofiles/deactivate_rules", post, h.deactivateRules},
		{"/api/qualityprofiles/changelog", get, h.changelog},
		{"/api/qualityprofiles/backup", get, h.backup},
		{"/api/qualityprofiles/restore", post, h.restore},
		{"/api/qualityprofiles/export", get, h.export},
		{"/api/qualityprofiles/exporters", get, h.exporters},
		{"/api/qualityprofiles/importers", get, h.importers},
		{"/api/qualityprofiles/import", post, h.importProfile},
	}
	for _, route := range routes {
		mux.Handle(route.path, httpx.Chain(route.fn, route.method))
	}
	mux.Handle("/healthz", httpx.Chain(http.HandlerFunc(healthz), get))

	handler := httpx.Chain(mux,
		httpx.RecoverPanic(),
		httpx.RequestID(),
		auth.Middleware(authCfg, writeError),
	)
	return otelhttp.NewHandler(handler, "qualityhub.api")
}

func healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

type errorMessage struct {
	Msg string `json:"msg"`
}

type errorsResponse struct {
	Errors []errorMessage `json:"errors"`
}

// writeError renders err as {"errors":[{"msg":...}]} with the status of its
// code. Unexpected errors are logged and hidden.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.GetCode(err).HTTPStatus()
	if status >= http.StatusInternalServerError {
		log.Printf("api error method=%s path=%s request_id=%s err=%v",
			r.Method, r.URL.Path, r.Header.Get(httpx.RequestIDHeader), err)
	}
	_ = httpx.WriteJSON(w, status, errorsResponse{Errors: []errorMessage{{Msg: apperrors.PublicMessage(err)}}})
}

func writeJSON(w http.ResponseWriter, payload any) {
	_ = httpx.WriteJSON(w, http.StatusOK, payload)
}

// requireLogin fails for anonymous callers.
func requireLogin(r *http.Request) (requestctx.User, error) {
	user := requestctx.UserFromContext(r.Context())
	if !user.LoggedIn() {
		return user, apperrors.New(apperrors.CodeUnauthenticated, "Authentication is required")
	}
	return user, nil
}

// requireProfileAdmin guards quality profile writes.
func requireProfileAdmin(r *http.Request) error {
	user, err := requireLogin(r)
	if err != nil {
		return err
	}
	if !user.HasPermission(requestctx.PermissionProfileAdmin) {
		return apperrors.New(apperrors.CodeForbidden, "Insufficient privileges")
	}
	return nil
}

// visibility names the visibility of a root component.
func visibility(private bool) string {
	if private {
		return "private"
	}
	return "public"
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func trimmed(r *http.Request, name string) string {
	return strings.TrimSpace(r.FormValue(name))
}
