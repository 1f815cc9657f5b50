package handler

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/pavelanni/assessor/internal/model"
)

type uploadResponse struct {
	File      string `json:"file"`
	Imported  int    `json:"imported"`
	Duplicate bool   `json:"duplicate"`
}

// handleUploadQuestions imports a bank question file sent as the
// "questions_file" multipart field.
func (h *Handler) handleUploadQuestions(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(10 << 20); err != nil {
		h.writeError(w, r, fmt.Errorf("file too large: %w", model.ErrInvalidInput))
		return
	}

	file, header, err := r.FormFile("questions_file")
	if err != nil {
		h.writeError(w, r, fmt.Errorf("no file uploaded: %w", model.ErrInvalidInput))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		h.writeError(w, r, fmt.Errorf("read upload: %w", err))
		return
	}

	n, skipped, err := h.store.ImportBankFile(r.Context(), header.Filename, data)
	if err != nil {
		slog.Warn("question upload rejected", "filename", header.Filename, "error", err)
		h.writeError(w, r, fmt.Errorf("%w: %v", model.ErrInvalidInput, err))
		return
	}
	if skipped {
		slog.Info("question file unchanged, skipping", "filename", header.Filename)
	} else {
		slog.Info("uploaded questions via admin", "filename", header.Filename, "count", n)
	}
	writeJSON(w, http.StatusOK, uploadResponse{File: header.Filename, Imported: n, Duplicate: skipped})
}
