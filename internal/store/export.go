package store

import (
	"context"
	"fmt"
	"time"

	"github.com/pavelanni/assessor/internal/model"
)

// ExportAll builds an export of stored results. Invitations and joint
// results are included when exporting every test.
func (s *Store) ExportAll(ctx context.Context, testID string) (model.ResultsExport, error) {
	results, err := s.ListResults(ctx, testID)
	if err != nil {
		return model.ResultsExport{}, fmt.Errorf("list results: %w", err)
	}
	export := model.ResultsExport{
		ExportedAt: time.Now().UTC(),
		TestID:     testID,
		NumResults: len(results),
		Results:    results,
	}
	if testID != "" {
		return export, nil
	}

	if export.Invitations, err = s.ListInvitations(ctx); err != nil {
		return export, fmt.Errorf("list invitations: %w", err)
	}
	if export.Compatibility, err = s.ListCompatibility(ctx); err != nil {
		return export, fmt.Errorf("list compatibility results: %w", err)
	}
	return export, nil
}
