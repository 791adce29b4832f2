package api

import (
	"encoding/json"
	"net/http"

	"github.com/user/narrative-engine/internal/narrative"
	"go.uber.org/zap"
)

// errorBody is the JSON shape of every failed request
type errorBody struct {
	Code         narrative.Code `json:"code"`
	Message      string         `json:"message"`
	MissingFlags []string       `json:"missing_flags,omitempty"`
	MissingItems []string       `json:"missing_items,omitempty"`
	Reasons      []string       `json:"reasons,omitempty"`
	Conflicts    []string       `json:"conflicts,omitempty"`
}

const codeInternal narrative.Code = "INTERNAL"

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps narrative errors to their status and hides anything else
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	nerr, ok := narrative.AsError(err)
	if !ok {
		s.Logger.Error("Request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Code: codeInternal, Message: "internal error"})
		return
	}

	s.Logger.Debug("Request rejected",
		zap.String("path", r.URL.Path),
		zap.String("code", string(nerr.Code)),
		zap.String("message", nerr.Message))
	writeJSON(w, nerr.Code.HTTPStatus(), errorBody{
		Code:         nerr.Code,
		Message:      nerr.Message,
		MissingFlags: nerr.MissingFlags,
		MissingItems: nerr.MissingItems,
		Reasons:      nerr.Reasons,
		Conflicts:    nerr.Conflicts,
	})
}

func badRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Code: narrative.CodeInvalidArgument, Message: message})
}
