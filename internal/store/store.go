package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pavelanni/langtest/internal/model"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a requested test does not exist.
var ErrNotFound = errors.New("not found")

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if dbPath == ":memory:" {
		// Each connection would get its own empty database.
		db.SetMaxOpenConns(1)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *Store) Ping() error {
	return s.db.Ping()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS languages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		country_code TEXT NOT NULL DEFAULT '',
		country_name TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS tests (
		id TEXT PRIMARY KEY,
		language TEXT NOT NULL,
		target_level TEXT NOT NULL DEFAULT '',
		strategy TEXT NOT NULL DEFAULT '',
		payload TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS evaluations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		test_id TEXT NOT NULL,
		section TEXT NOT NULL,
		exercise_index INTEGER NOT NULL,
		submission TEXT NOT NULL,
		score REAL NOT NULL DEFAULT 0,
		payload TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (test_id) REFERENCES tests(id)
	);

	CREATE TABLE IF NOT EXISTS metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SaveTest stores a generated test, replacing any test with the same id.
func (s *Store) SaveTest(t model.GeneratedTest) error {
	payload, err := json.Marshal(t.Test)
	if err != nil {
		return fmt.Errorf("encode test %s: %w", t.ID, err)
	}
	_, err = s.db.Exec(
		`INSERT INTO tests (id, language, target_level, strategy, payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   language = excluded.language, target_level = excluded.target_level,
		   strategy = excluded.strategy, payload = excluded.payload`,
		t.ID, t.Language, t.TargetLevel, t.Strategy, string(payload), t.CreatedAt.UTC(),
	)
	return err
}

// GetTest returns a stored test. It returns ErrNotFound for unknown ids.
func (s *Store) GetTest(id string) (model.GeneratedTest, error) {
	row := s.db.QueryRow(
		`SELECT id, language, target_level, strategy, payload, created_at FROM tests WHERE id = ?`, id)
	t, err := scanTest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.GeneratedTest{}, fmt.Errorf("test %s: %w", id, ErrNotFound)
	}
	return t, err
}

// ListTests returns all stored tests, newest first.
func (s *Store) ListTests() ([]model.GeneratedTest, error) {
	rows, err := s.db.Query(
		`SELECT id, language, target_level, strategy, payload, created_at
		 FROM tests ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tests []model.GeneratedTest
	for rows.Next() {
		t, err := scanTest(rows)
		if err != nil {
			return nil, err
		}
		tests = append(tests, t)
	}
	return tests, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTest(sc scanner) (model.GeneratedTest, error) {
	var t model.GeneratedTest
	var payload string
	if err := sc.Scan(&t.ID, &t.Language, &t.TargetLevel, &t.Strategy, &payload, &t.CreatedAt); err != nil {
		return model.GeneratedTest{}, err
	}
	if err := json.Unmarshal([]byte(payload), &t.Test); err != nil {
		return model.GeneratedTest{}, fmt.Errorf("decode test %s: %w", t.ID, err)
	}
	return t, nil
}

// SaveEvaluation records the evaluation of one exercise of a stored test
// and returns the new record id.
func (s *Store) SaveEvaluation(r model.EvaluationRecord) (int64, error) {
	payload, err := json.Marshal(r.Evaluation)
	if err != nil {
		return 0, fmt.Errorf("encode evaluation: %w", err)
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	res, err := s.db.Exec(
		`INSERT INTO evaluations (test_id, section, exercise_index, submission, score, payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.TestID, r.Section, r.ExerciseIndex, r.Submission, r.Evaluation.Score, string(payload), r.CreatedAt.UTC(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListEvaluations returns the evaluations of a test in recording order.
func (s *Store) ListEvaluations(testID string) ([]model.EvaluationRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, test_id, section, exercise_index, submission, payload, created_at
		 FROM evaluations WHERE test_id = ? ORDER BY id`, testID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []model.EvaluationRecord
	for rows.Next() {
		var r model.EvaluationRecord
		var payload string
		if err := rows.Scan(&r.ID, &r.TestID, &r.Section, &r.ExerciseIndex, &r.Submission, &payload, &r.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(payload), &r.Evaluation); err != nil {
			return nil, fmt.Errorf("decode evaluation %d: %w", r.ID, err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// CreateLanguage adds a language to the supported list.
func (s *Store) CreateLanguage(l model.Language) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO languages (name, country_code, country_name) VALUES (?, ?, ?)`,
		l.Name, l.CountryCode, l.CountryName,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListLanguages returns the supported languages ordered by name.
func (s *Store) ListLanguages() ([]model.Language, error) {
	rows, err := s.db.Query(`SELECT id, name, country_code, country_name FROM languages ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var langs []model.Language
	for rows.Next() {
		var l model.Language
		if err := rows.Scan(&l.ID, &l.Name, &l.CountryCode, &l.CountryName); err != nil {
			return nil, err
		}
		langs = append(langs, l)
	}
	return langs, rows.Err()
}
