package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/pavelanni/langtest/internal/model"
)

const languagesSeededKey = "languages_seeded"

// SetMetadata upserts a key-value pair in the metadata table.
func (s *Store) SetMetadata(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO metadata (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	return err
}

// GetMetadata returns the value for a metadata key.
// Returns empty string and nil error if the key is missing.
func (s *Store) GetMetadata(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

// SeedLanguages inserts langs the first time it runs against a database.
// Later calls do nothing, so languages removed by an operator stay removed.
// It reports whether the languages were inserted.
func (s *Store) SeedLanguages(langs []model.Language) (bool, error) {
	seeded, err := s.GetMetadata(languagesSeededKey)
	if err != nil {
		return false, err
	}
	if seeded != "" {
		return false, nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	for _, l := range langs {
		if _, err := tx.Exec(
			`INSERT INTO languages (name, country_code, country_name) VALUES (?, ?, ?)
			 ON CONFLICT(name) DO NOTHING`,
			l.Name, l.CountryCode, l.CountryName,
		); err != nil {
			return false, fmt.Errorf("seed language %s: %w", l.Name, err)
		}
	}
	if _, err := tx.Exec(
		`INSERT INTO metadata (key, value) VALUES (?, 'true')`, languagesSeededKey,
	); err != nil {
		return false, err
	}
	return true, tx.Commit()
}
