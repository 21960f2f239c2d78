package store

import (
	"fmt"
	"time"

	"github.com/pavelanni/langtest/internal/model"
)

// ExportEvaluations builds an export of every stored test with its
// recorded evaluations. Tests without evaluations are included with an
// average score of zero.
func (s *Store) ExportEvaluations() (model.TestExport, error) {
	tests, err := s.ListTests()
	if err != nil {
		return model.TestExport{}, fmt.Errorf("list tests: %w", err)
	}

	results := make([]model.TestResult, 0, len(tests))
	for _, t := range tests {
		records, err := s.ListEvaluations(t.ID)
		if err != nil {
			return model.TestExport{}, fmt.Errorf("list evaluations of %s: %w", t.ID, err)
		}
		if records == nil {
			records = []model.EvaluationRecord{}
		}

		var total float64
		for _, r := range records {
			total += r.Evaluation.Score
		}
		var avg float64
		if len(records) > 0 {
			avg = total / float64(len(records))
		}

		results = append(results, model.TestResult{
			TestID:       t.ID,
			Language:     t.Language,
			TargetLevel:  t.TargetLevel,
			Strategy:     t.Strategy,
			CreatedAt:    t.CreatedAt,
			AverageScore: avg,
			Evaluations:  records,
		})
	}

	return model.TestExport{
		ExportedAt: time.Now().UTC(),
		NumTests:   len(results),
		Results:    results,
	}, nil
}
