package prompts

import (
	"fmt"
	"io"
	"maps"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pavelanni/langtest/internal/model"
)

// ComprehensionLevel parameterizes reading comprehension at one level.
type ComprehensionLevel struct {
	TextLength    string   `yaml:"textLength"`
	QuestionTypes []string `yaml:"questionTypes"`
	Difficulty    string   `yaml:"difficulty"`
}

// GrammarLevel parameterizes grammar exercises at one level.
type GrammarLevel struct {
	Structures         []string `yaml:"structures"`
	ExerciseTypes      []string `yaml:"exerciseTypes"`
	SentenceComplexity string   `yaml:"sentenceComplexity"`
	Difficulty         string   `yaml:"difficulty"`
}

// VocabularyLevel parameterizes vocabulary exercises at one level.
type VocabularyLevel struct {
	LexiconTypes      []string `yaml:"lexiconTypes"`
	Strategies        []string `yaml:"strategies"`
	ContextComplexity string   `yaml:"contextComplexity"`
	Difficulty        string   `yaml:"difficulty"`
}

// ThemePool is the fixed theme data: topics to avoid, topics to fall back
// on and fields to draw inspiration from.
type ThemePool struct {
	Generic     string            `yaml:"generic"`
	Categories  map[string]string `yaml:"categories"`
	Denylist    []string          `yaml:"denylist"`
	Fallback    []string          `yaml:"fallback"`
	Inspiration []string          `yaml:"inspiration"`
}

// Description returns the phrase describing what themes of a category are.
func (p ThemePool) Description(category string) string {
	if d, ok := p.Categories[category]; ok {
		return d
	}
	return p.Generic
}

// Denied reports whether theme contains a denylisted substring.
func (p ThemePool) Denied(theme string) bool {
	lower := strings.ToLower(theme)
	for _, bad := range p.Denylist {
		if bad != "" && strings.Contains(lower, strings.ToLower(bad)) {
			return true
		}
	}
	return false
}

// Tables is the immutable configuration behind the composers.
type Tables struct {
	Comprehension  map[string]ComprehensionLevel `yaml:"comprehension"`
	Grammar        map[string]GrammarLevel       `yaml:"grammar"`
	Vocabulary     map[string]VocabularyLevel    `yaml:"vocabulary"`
	Themes         ThemePool                     `yaml:"themes"`
	AbsenceMarkers []string                      `yaml:"absenceMarkers"`
}

// ParseTables decodes and checks the YAML tables.
func ParseTables(raw []byte) (Tables, error) {
	var t Tables
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return Tables{}, fmt.Errorf("decode tables: %w", err)
	}
	if err := t.validate(); err != nil {
		return Tables{}, err
	}
	return t, nil
}

func (t Tables) validate() error {
	for _, lv := range model.Levels {
		c, ok := t.Comprehension[lv]
		if !ok || c.TextLength == "" {
			return fmt.Errorf("tables: comprehension level %s missing", lv)
		}
		g, ok := t.Grammar[lv]
		if !ok || len(g.Structures) == 0 {
			return fmt.Errorf("tables: grammar level %s missing", lv)
		}
		v, ok := t.Vocabulary[lv]
		if !ok || len(v.LexiconTypes) == 0 {
			return fmt.Errorf("tables: vocabulary level %s missing", lv)
		}
	}
	if err := t.Themes.Validate(); err != nil {
		return fmt.Errorf("tables: %w", err)
	}
	return nil
}

// Validate checks that the pool can always top up a theme list.
func (p ThemePool) Validate() error {
	if p.Generic == "" {
		return fmt.Errorf("theme pool: generic description missing")
	}
	if len(p.Fallback) == 0 {
		return fmt.Errorf("theme pool: fallback list is empty")
	}
	for _, f := range p.Fallback {
		if strings.TrimSpace(f) == "" || p.Denied(f) {
			return fmt.Errorf("theme pool: fallback theme %q is empty or denylisted", f)
		}
	}
	return nil
}

// ReadThemePool decodes a YAML theme pool override. Fields left out keep
// the values of base.
func ReadThemePool(r io.Reader, base ThemePool) (ThemePool, error) {
	pool := base
	pool.Categories = maps.Clone(base.Categories)
	if err := yaml.NewDecoder(r).Decode(&pool); err != nil {
		return ThemePool{}, fmt.Errorf("decode theme pool: %w", err)
	}
	if err := pool.Validate(); err != nil {
		return ThemePool{}, err
	}
	return pool, nil
}

// MentionsAbsence reports whether an answer claims the information is not
// in the text.
func (t Tables) MentionsAbsence(answer string) bool {
	lower := strings.ToLower(answer)
	for _, m := range t.AbsenceMarkers {
		if m != "" && strings.Contains(lower, strings.ToLower(m)) {
			return true
		}
	}
	return false
}
