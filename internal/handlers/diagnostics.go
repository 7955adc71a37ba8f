package handlers

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"gopkg.in/yaml.v3"
)

// RunDiagnostics runs the pipeline for one order. ?format=yaml renders the
// report as YAML for pasting into support tickets.
func (h *Handlers) RunDiagnostics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderNumber := orderNumberFromRequest(r)
	if orderNumber == "" {
		h.writeError(w, r, http.StatusBadRequest, "order number is required")
		return
	}

	report, err := h.diagnostics.Run(ctx, orderNumber)
	if err != nil {
		h.loggerFromContext(ctx).Error("diagnostic run failed", "error", err, "order_number", orderNumber)
		h.writeError(w, r, http.StatusInternalServerError, "diagnostic run failed")
		return
	}

	if strings.EqualFold(r.URL.Query().Get("format"), "yaml") {
		h.writeYAML(w, r, report)
		return
	}
	h.writeJSON(w, r, http.StatusOK, report)
}

func (h *Handlers) DiagnosticSession(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, "invalid session id")
		return
	}

	session, ok := h.diagnostics.Session(r.Context(), id)
	if !ok {
		h.writeError(w, r, http.StatusNotFound, "diagnostic session not found or expired")
		return
	}
	h.writeJSON(w, r, http.StatusOK, session)
}

func (h *Handlers) DeleteDiagnosticSession(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, "invalid session id")
		return
	}

	if !h.diagnostics.DiscardSession(r.Context(), id) {
		h.writeError(w, r, http.StatusNotFound, "diagnostic session not found or expired")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) DiagnosticHistory(w http.ResponseWriter, r *http.Request) {
	history, err := h.diagnostics.History(r.Context(), queryLimit(r, 0))
	if err != nil {
		h.loggerFromContext(r.Context()).Error("failed to read diagnostic history", "error", err)
		h.writeError(w, r, http.StatusInternalServerError, "failed to read diagnostic history")
		return
	}

	if strings.EqualFold(r.URL.Query().Get("format"), "yaml") {
		h.writeYAML(w, r, history)
		return
	}
	h.writeJSON(w, r, http.StatusOK, history)
}

func (h *Handlers) writeYAML(w http.ResponseWriter, r *http.Request, body any) {
	out, err := yaml.Marshal(body)
	if err != nil {
		h.loggerFromContext(r.Context()).Error("failed to encode yaml response", "error", err)
		h.writeError(w, r, http.StatusInternalServerError, "failed to encode report")
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(out); err != nil {
		h.loggerFromContext(r.Context()).Warn("failed to write yaml response", "error", err)
	}
}
