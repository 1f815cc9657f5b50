package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/pavelanni/assessor/internal/model"
)

// GetImportedFileHash returns the hash recorded for an imported file.
// Returns empty string and nil error if the file was never imported.
func (s *Store) GetImportedFileHash(path string) (string, error) {
	var hash string
	err := s.db.QueryRow(`SELECT hash FROM imported_files WHERE path = ?`, path).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return hash, err
}

// SetImportedFileHash records the hash of an imported file.
func (s *Store) SetImportedFileHash(path, hash string) error {
	_, err := s.db.Exec(
		`INSERT INTO imported_files (path, hash) VALUES (?, ?)
		 ON CONFLICT(path) DO UPDATE SET hash = ?`,
		path, hash, hash,
	)
	return err
}

// ImportBankFile imports a JSON array of bank questions read from name.
// A file whose content hash matches the last import of the same name is
// skipped and reported as such.
func (s *Store) ImportBankFile(ctx context.Context, name string, data []byte) (n int, skipped bool, err error) {
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	stored, err := s.GetImportedFileHash(name)
	if err != nil {
		return 0, false, fmt.Errorf("check import status: %w", err)
	}
	if stored == hash {
		return 0, true, nil
	}

	var questions []model.BankQuestionImport
	if err := json.Unmarshal(data, &questions); err != nil {
		return 0, false, fmt.Errorf("parse %s: %w", name, err)
	}
	n, err = s.ImportBankQuestions(ctx, questions)
	if err != nil {
		return 0, false, err
	}
	if err := s.SetImportedFileHash(name, hash); err != nil {
		slog.Warn("failed to record import", "file", name, "error", err)
	}
	return n, false, nil
}
