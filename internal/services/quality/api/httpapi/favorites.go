package httpapi

import (
	"net/http"

	"github.com/louisbranch/qualityhub/internal/platform/pagination"
)

var favoritesPageSize = pagination.PageSizeConfig{Default: 100, Max: 500}

func (h *Handler) addFavorite(w http.ResponseWriter, r *http.Request) {
	key, err := required(r, "component")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.svc.Components.AddFavorite(r.Context(), key); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) removeFavorite(w http.ResponseWriter, r *http.Request) {
	key, err := required(r, "component")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.svc.Components.RemoveFavorite(r.Context(), key); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type favoriteJSON struct {
	Key       string `json:"key"`
	Name      string `json:"name"`
	Qualifier string `json:"qualifier"`
}

type favoritesResponse struct {
	Paging    pagingJSON     `json:"paging"`
	Favorites []favoriteJSON `json:"favorites"`
}

func (h *Handler) searchFavorites(w http.ResponseWriter, r *http.Request) {
	paging, err := pagingParam(r, favoritesPageSize)
	if err != nil {
		writeError(w, r, err)
		return
	}
	favorites, err := h.svc.Components.Favorites(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	start, end := paging.Window(len(favorites))
	out := favoritesResponse{Paging: toPaging(paging, len(favorites)), Favorites: make([]favoriteJSON, 0, end-start)}
	for _, c := range favorites[start:end] {
		out.Favorites = append(out.Favorites, favoriteJSON{Key: c.Key, Name: c.Name, Qualifier: c.Qualifier})
	}
	writeJSON(w, out)
}
