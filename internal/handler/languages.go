package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/pavelanni/langtest/internal/model"
)

func (h *Handler) handleListLanguages(w http.ResponseWriter, r *http.Request) {
	langs, err := h.store.ListLanguages()
	if err != nil {
		h.internalError(w, r, "failed to list languages", err)
		return
	}
	if langs == nil {
		langs = []model.Language{}
	}
	writeJSON(w, http.StatusOK, langs)
}

func (h *Handler) handleCreateLanguage(w http.ResponseWriter, r *http.Request) {
	var lang model.Language
	if err := decode(w, r, &lang); err != nil {
		writeError(w, r, http.StatusBadRequest, "ErrBadRequest")
		return
	}
	lang.Name = strings.TrimSpace(lang.Name)
	if lang.Name == "" {
		writeError(w, r, http.StatusBadRequest, "ErrBadRequest")
		return
	}
	lang.CountryCode = strings.ToUpper(strings.TrimSpace(lang.CountryCode))

	existing, err := h.store.ListLanguages()
	if err != nil {
		h.internalError(w, r, "failed to list languages", err)
		return
	}
	for _, l := range existing {
		if strings.EqualFold(l.Name, lang.Name) {
			writeError(w, r, http.StatusConflict, "ErrLanguageExists")
			return
		}
	}

	id, err := h.store.CreateLanguage(lang)
	if err != nil {
		h.internalError(w, r, "failed to create language", err)
		return
	}
	lang.ID = id
	slog.Info("created language", "name", lang.Name, "id", id)
	writeJSON(w, http.StatusCreated, lang)
}
