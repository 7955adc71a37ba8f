package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/bumperworks/preorders/internal/models"
	"github.com/bumperworks/preorders/internal/services"
)

// settingsView never carries the secret itself.
type settingsView struct {
	models.WebhookSettings
	HasSecret bool `json:"has_secret"`
}

func newSettingsView(settings models.WebhookSettings) settingsView {
	view := settingsView{WebhookSettings: settings, HasSecret: settings.Secret != ""}
	view.Secret = ""
	return view
}

// settingsRequest overlays the current settings; an absent secret keeps the stored one.
type settingsRequest struct {
	models.WebhookSettings
	Secret *string `json:"secret"`
}

func (h *Handlers) GetWebhookSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.settings.Get(r.Context())
	if err != nil {
		h.loggerFromContext(r.Context()).Error("failed to load webhook settings", "error", err)
		h.writeError(w, r, http.StatusInternalServerError, "failed to load webhook settings")
		return
	}
	h.writeJSON(w, r, http.StatusOK, newSettingsView(settings))
}

func (h *Handlers) UpdateWebhookSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.loggerFromContext(ctx)

	current, err := h.settings.Get(ctx)
	if err != nil {
		logger.Error("failed to load webhook settings", "error", err)
		h.writeError(w, r, http.StatusInternalServerError, "failed to load webhook settings")
		return
	}

	req := settingsRequest{WebhookSettings: current}
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAdminBodyBytes))
	if err := decoder.Decode(&req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, "invalid JSON body")
		return
	}

	saved, err := h.settings.Update(ctx, services.SettingsUpdate{Settings: req.WebhookSettings, Secret: req.Secret})
	if errors.Is(err, services.ErrInvalidSettings) {
		h.writeError(w, r, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err != nil {
		logger.Error("failed to update webhook settings", "error", err)
		h.writeError(w, r, http.StatusInternalServerError, "failed to update webhook settings")
		return
	}

	logger.Info("webhook settings updated", "enabled", saved.Enabled, "signed", saved.Secret != "")
	h.writeJSON(w, r, http.StatusOK, newSettingsView(saved))
}
