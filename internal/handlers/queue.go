package handlers

import "net/http"

// ProcessWebhookQueue drains due retry items. It is meant to be called by a scheduler.
func (h *Handlers) ProcessWebhookQueue(w http.ResponseWriter, r *http.Request) {
	report, err := h.dispatcher.ProcessQueue(r.Context(), queryLimit(r, 0))
	if err != nil {
		h.loggerFromContext(r.Context()).Error("failed to process webhook queue", "error", err)
		h.writeError(w, r, http.StatusInternalServerError, "failed to process webhook queue")
		return
	}
	h.writeJSON(w, r, http.StatusOK, report)
}
