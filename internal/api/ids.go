package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// NormalizeCharacterID canonicalizes UUIDs and trims everything else
func NormalizeCharacterID(raw string) string {
	id := strings.TrimSpace(raw)
	if parsed, err := uuid.Parse(id); err == nil {
		return parsed.String()
	}
	return id
}

func characterParam(r *http.Request) string {
	return NormalizeCharacterID(chi.URLParam(r, "characterID"))
}
