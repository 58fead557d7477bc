package handlers

import (
	"net/http"

	"github.com/odatalens/odatalens/internal/coloring"
	"github.com/odatalens/odatalens/internal/store"
)

func (a *API) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	if a.settings == nil {
		WriteError(w, r, http.StatusServiceUnavailable, ErrMsgStoreUnavailable, "")
		return
	}
	settings, err := a.settings.GetSettings(r.Context())
	if err != nil {
		a.logger.Error("Failed to load settings", "error", err)
		WriteError(w, r, http.StatusInternalServerError, ErrMsgInternalError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (a *API) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	if a.settings == nil {
		WriteError(w, r, http.StatusServiceUnavailable, ErrMsgStoreUnavailable, "")
		return
	}
	var settings store.Settings
	if !a.decode(w, r, &settings) {
		return
	}
	settings.Theme = string(coloring.ParseTheme(settings.Theme))

	if err := a.settings.SaveSettings(r.Context(), settings); err != nil {
		a.logger.Error("Failed to save settings", "error", err)
		WriteError(w, r, http.StatusInternalServerError, ErrMsgInternalError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, settings)
}
