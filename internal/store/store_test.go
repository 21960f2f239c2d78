package store

import (
	"errors"
	"testing"
	"time"

	"github.com/pavelanni/langtest/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("newTestStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleTest(id string, created time.Time) model.GeneratedTest {
	return model.GeneratedTest{
		ID:          id,
		Language:    "English",
		TargetLevel: "B1",
		Strategy:    "parallel",
		CreatedAt:   created,
		Test: model.CompleteTest{
			ReadingComprehension: []model.Exercise{{
				Instruction: "Read the text and answer.",
				Content: model.Content{
					MainText: "Tom lives in Leeds.",
					Elements: []model.Element{{ID: 1, Kind: model.KindQuestion, Text: "Where does Tom live?"}},
				},
				TargetLevel: "B1",
				Competency:  "reading",
			}},
			Grammar:    []model.Exercise{},
			Vocabulary: []model.Exercise{},
		},
	}
}

func insertTestEvaluation(t *testing.T, s *Store, testID string, index int, score float64) int64 {
	t.Helper()
	id, err := s.SaveEvaluation(model.EvaluationRecord{
		TestID:        testID,
		Section:       model.SectionComprehension,
		ExerciseIndex: index,
		Submission:    "Question 1: Leeds",
		Evaluation: model.Evaluation{
			Score:          score,
			EstimatedLevel: "B1",
			Strengths:      []string{"accurate"},
		},
	})
	if err != nil {
		t.Fatalf("insertTestEvaluation: %v", err)
	}
	return id
}

func TestTestCRUD(t *testing.T) {
	s := newTestStore(t)

	// Empty DB should return an empty list.
	list, err := s.ListTests()
	if err != nil {
		t.Fatalf("ListTests: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected empty list, got %d", len(list))
	}

	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	if err := s.SaveTest(sampleTest("t-1", created)); err != nil {
		t.Fatalf("SaveTest: %v", err)
	}

	got, err := s.GetTest("t-1")
	if err != nil {
		t.Fatalf("GetTest: %v", err)
	}
	if got.Language != "English" || got.TargetLevel != "B1" || got.Strategy != "parallel" {
		t.Errorf("unexpected header: %+v", got)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("expected created_at %v, got %v", created, got.CreatedAt)
	}
	if len(got.Test.ReadingComprehension) != 1 {
		t.Fatalf("expected 1 comprehension exercise, got %d", len(got.Test.ReadingComprehension))
	}
	if el := got.Test.ReadingComprehension[0].Content.Elements[0]; el.Kind != model.KindQuestion || el.ID != 1 {
		t.Errorf("unexpected element: %+v", el)
	}

	// Not found.
	_, err = s.GetTest("missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	// Saving again replaces the test.
	updated := sampleTest("t-1", created)
	updated.TargetLevel = "C1"
	if err := s.SaveTest(updated); err != nil {
		t.Fatalf("SaveTest again: %v", err)
	}
	got, _ = s.GetTest("t-1")
	if got.TargetLevel != "C1" {
		t.Errorf("expected updated level C1, got %q", got.TargetLevel)
	}
}

func TestListTestsNewestFirst(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"old", "new", "mid"} {
		offset := []time.Duration{0, 2 * time.Hour, time.Hour}[i]
		if err := s.SaveTest(sampleTest(id, base.Add(offset))); err != nil {
			t.Fatalf("SaveTest(%s): %v", id, err)
		}
	}

	list, err := s.ListTests()
	if err != nil {
		t.Fatalf("ListTests: %v", err)
	}
	want := []string{"new", "mid", "old"}
	if len(list) != len(want) {
		t.Fatalf("expected %d tests, got %d", len(want), len(list))
	}
	for i, id := range want {
		if list[i].ID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, list[i].ID)
		}
	}
}

func TestEvaluations(t *testing.T) {
	s := newTestStore(t)
	if err := s.SaveTest(sampleTest("t-1", time.Now())); err != nil {
		t.Fatalf("SaveTest: %v", err)
	}

	first := insertTestEvaluation(t, s, "t-1", 0, 8)
	second := insertTestEvaluation(t, s, "t-1", 1, 6.5)
	if second <= first {
		t.Errorf("expected increasing ids, got %d then %d", first, second)
	}

	records, err := s.ListEvaluations("t-1")
	if err != nil {
		t.Fatalf("ListEvaluations: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 evaluations, got %d", len(records))
	}
	r := records[1]
	if r.Section != model.SectionComprehension || r.ExerciseIndex != 1 {
		t.Errorf("unexpected record: %+v", r)
	}
	if r.Evaluation.Score != 6.5 || r.Evaluation.Strengths[0] != "accurate" {
		t.Errorf("unexpected evaluation: %+v", r.Evaluation)
	}
	if r.CreatedAt.IsZero() {
		t.Error("expected created_at to be set")
	}

	none, err := s.ListEvaluations("other")
	if err != nil {
		t.Fatalf("ListEvaluations(other): %v", err)
	}
	if len(none) != 0 {
		t.Errorf("expected no evaluations, got %d", len(none))
	}
}

func TestLanguages(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.CreateLanguage(model.Language{Name: "Spanish", CountryCode: "ES", CountryName: "Spain"}); err != nil {
		t.Fatalf("CreateLanguage: %v", err)
	}
	if _, err := s.CreateLanguage(model.Language{Name: "English", CountryCode: "GB", CountryName: "United Kingdom"}); err != nil {
		t.Fatalf("CreateLanguage: %v", err)
	}
	if _, err := s.CreateLanguage(model.Language{Name: "English"}); err == nil {
		t.Error("expected error for duplicate language name")
	}

	langs, err := s.ListLanguages()
	if err != nil {
		t.Fatalf("ListLanguages: %v", err)
	}
	if len(langs) != 2 {
		t.Fatalf("expected 2 languages, got %d", len(langs))
	}
	if langs[0].Name != "English" || langs[1].Name != "Spanish" {
		t.Errorf("expected languages ordered by name, got %v", langs)
	}
	if langs[1].CountryCode != "ES" || langs[1].ID == 0 {
		t.Errorf("unexpected language: %+v", langs[1])
	}
}

func TestSeedLanguages(t *testing.T) {
	s := newTestStore(t)
	seed := []model.Language{
		{Name: "English", CountryCode: "GB", CountryName: "United Kingdom"},
		{Name: "French", CountryCode: "FR", CountryName: "France"},
	}

	inserted, err := s.SeedLanguages(seed)
	if err != nil {
		t.Fatalf("SeedLanguages: %v", err)
	}
	if !inserted {
		t.Error("expected first seed to insert")
	}

	inserted, err = s.SeedLanguages(append(seed, model.Language{Name: "German"}))
	if err != nil {
		t.Fatalf("SeedLanguages again: %v", err)
	}
	if inserted {
		t.Error("expected second seed to be a no-op")
	}

	langs, _ := s.ListLanguages()
	if len(langs) != 2 {
		t.Errorf("expected 2 languages, got %d", len(langs))
	}
	if v, _ := s.GetMetadata(languagesSeededKey); v != "true" {
		t.Errorf("expected seeded marker, got %q", v)
	}
}

func TestMetadata(t *testing.T) {
	s := newTestStore(t)

	v, err := s.GetMetadata("missing")
	if err != nil || v != "" {
		t.Errorf("missing key: got %q, %v", v, err)
	}
	if err := s.SetMetadata("k", "one"); err != nil {
		t.Fatalf("SetMetadata: %v", err)
	}
	if err := s.SetMetadata("k", "two"); err != nil {
		t.Fatalf("SetMetadata overwrite: %v", err)
	}
	if v, _ := s.GetMetadata("k"); v != "two" {
		t.Errorf("expected two, got %q", v)
	}
}

func TestExportEvaluations(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	if err := s.SaveTest(sampleTest("graded", base.Add(time.Hour))); err != nil {
		t.Fatalf("SaveTest: %v", err)
	}
	if err := s.SaveTest(sampleTest("fresh", base)); err != nil {
		t.Fatalf("SaveTest: %v", err)
	}
	insertTestEvaluation(t, s, "graded", 0, 8)
	insertTestEvaluation(t, s, "graded", 1, 5)

	export, err := s.ExportEvaluations()
	if err != nil {
		t.Fatalf("ExportEvaluations: %v", err)
	}
	if export.NumTests != 2 || len(export.Results) != 2 {
		t.Fatalf("expected 2 tests, got %d/%d", export.NumTests, len(export.Results))
	}
	if export.ExportedAt.IsZero() {
		t.Error("expected exported_at to be set")
	}

	graded := export.Results[0]
	if graded.TestID != "graded" {
		t.Fatalf("expected newest test first, got %s", graded.TestID)
	}
	if graded.AverageScore != 6.5 {
		t.Errorf("expected average 6.5, got %v", graded.AverageScore)
	}
	if len(graded.Evaluations) != 2 {
		t.Errorf("expected 2 evaluations, got %d", len(graded.Evaluations))
	}

	fresh := export.Results[1]
	if fresh.AverageScore != 0 || fresh.Evaluations == nil || len(fresh.Evaluations) != 0 {
		t.Errorf("unexpected empty result: %+v", fresh)
	}
}
