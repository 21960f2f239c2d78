package model

import "time"

// EvaluationRecord is a stored evaluation of one exercise submission.
type EvaluationRecord struct {
	ID            int64      `json:"id"`
	TestID        string     `json:"test_id"`
	Section       Section    `json:"section"`
	ExerciseIndex int        `json:"exercise_index"`
	Submission    string     `json:"submission"`
	Evaluation    Evaluation `json:"evaluation"`
	CreatedAt     time.Time  `json:"created_at"`
}

// TestExport is the top-level JSON structure for evaluation export.
type TestExport struct {
	ExportedAt time.Time    `json:"exported_at"`
	NumTests   int          `json:"num_tests"`
	Results    []TestResult `json:"results"`
}

// TestResult holds one generated test with its recorded evaluations.
type TestResult struct {
	TestID       string             `json:"test_id"`
	Language     string             `json:"language"`
	TargetLevel  string             `json:"target_level"`
	Strategy     string             `json:"strategy"`
	CreatedAt    time.Time          `json:"created_at"`
	AverageScore float64            `json:"average_score"`
	Evaluations  []EvaluationRecord `json:"evaluations"`
}
