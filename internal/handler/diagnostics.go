package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/talosprotocol/a2a-relay-go/internal/errors"
	"github.com/talosprotocol/a2a-relay-go/internal/model"
	"github.com/talosprotocol/a2a-relay-go/internal/service"
)

// DiagnosticsHandler exposes operator-facing chain inspection. These routes
// are read-only and carry no caller identity; they are meant for internal
// networks, not for agents.
type DiagnosticsHandler struct {
	sessions *service.SessionService
	frames   *service.FrameService
	groups   *service.GroupService
}

func NewDiagnosticsHandler(sessions *service.SessionService, frames *service.FrameService, groups *service.GroupService) *DiagnosticsHandler {
	return &DiagnosticsHandler{sessions: sessions, frames: frames, groups: groups}
}

func (h *DiagnosticsHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/sessions/{id}/chain", h.sessionChain)
	r.Get("/sessions/{id}/chain/verify", h.verifySessionChain)
	r.Get("/sessions/{id}/frames", h.sessionFrames)
	r.Get("/groups/{id}/chain", h.groupChain)
	r.Get("/groups/{id}/chain/verify", h.verifyGroupChain)
	r.Get("/groups/{id}/members", h.groupMembers)
	return r
}

func (h *DiagnosticsHandler) sessionChain(w http.ResponseWriter, r *http.Request) {
	events, err := h.sessions.ListSessionEvents(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (h *DiagnosticsHandler) verifySessionChain(w http.ResponseWriter, r *http.Request) {
	err := h.sessions.VerifySessionChain(r.Context(), chi.URLParam(r, "id"))
	writeVerifyResult(w, err)
}

func (h *DiagnosticsHandler) sessionFrames(w http.ResponseWriter, r *http.Request) {
	result, err := h.frames.ListFrames(r.Context(), service.ListFramesParams{
		SessionID:   chi.URLParam(r, "id"),
		RecipientID: r.URL.Query().Get("recipient"),
		Cursor:      r.URL.Query().Get("cursor"),
		Limit:       parseLimit(r.URL.Query().Get("limit")),
		Consistency: model.Consistency(r.URL.Query().Get("consistency")),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"frames":     result.Frames,
		"nextCursor": result.NextCursor,
	})
}

func parseLimit(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

func (h *DiagnosticsHandler) groupChain(w http.ResponseWriter, r *http.Request) {
	events, err := h.groups.ListGroupEvents(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (h *DiagnosticsHandler) verifyGroupChain(w http.ResponseWriter, r *http.Request) {
	err := h.groups.VerifyGroupChain(r.Context(), chi.URLParam(r, "id"))
	writeVerifyResult(w, err)
}

func (h *DiagnosticsHandler) groupMembers(w http.ResponseWriter, r *http.Request) {
	members, err := h.groups.ListMembers(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"members": members})
}

func writeVerifyResult(w http.ResponseWriter, err error) {
	if err == nil {
		writeJSON(w, http.StatusOK, map[string]any{"valid": true})
		return
	}
	if apperrors.HasCode(err, apperrors.ErrCodeChainIntegrity) {
		appErr, _ := apperrors.AsAppError(err)
		writeJSON(w, http.StatusOK, map[string]any{"valid": false, "reason": appErr.Message})
		return
	}
	writeError(w, err)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	appErr, ok := apperrors.AsAppError(err)
	if !ok {
		appErr = apperrors.Internal("Internal error")
	}
	writeJSON(w, statusFor(appErr.Code), appErr)
}

func statusFor(code apperrors.ErrorCode) int {
	switch code {
	case apperrors.ErrCodeSessionNotFound, apperrors.ErrCodeGroupNotFound:
		return http.StatusNotFound
	case apperrors.ErrCodeValidation, apperrors.ErrCodeInvalidEncoding:
		return http.StatusBadRequest
	case apperrors.ErrCodeLockContention, apperrors.ErrCodeChainCASConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
