package prompts

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"

	"github.com/pavelanni/langtest/internal/llm"
	"github.com/pavelanni/langtest/internal/model"
)

//go:embed assets
var assets embed.FS

var (
	learnerAnswerRegex      = regexp.MustCompile(`(?i)</?\s*learner-answer\b[^>]*>`)
	systemInstructionsRegex = regexp.MustCompile(`(?i)</?\s*system-instructions\b[^>]*>`)
)

// Sampling temperatures per prompt family.
const (
	TempContent     float32 = 0.8
	TempThemes      float32 = 1.0
	TempTranslation float32 = 0.1
	TempValidate    float32 = 0.1
	TempAnalyze     float32 = 0.2
	TempCompile     float32 = 0.3
	TempLegacy      float32 = 0.1
	TempSkills      float32 = 0.1
)

// Schema names under schemas/ in the prompt assets.
const (
	SchemaValidation = "validation"
	SchemaAnalysis   = "analysis"
	SchemaEvaluation = "evaluation"
	SchemaSkills     = "skills"
	SchemaTerms      = "terms"
)

var (
	defaultOnce sync.Once
	defaultLib  *Library
	defaultErr  error
)

// Assets returns the embedded prompt assets rooted at the directory that
// holds tables.yaml, templates/ and schemas/.
func Assets() fs.FS {
	sub, err := fs.Sub(assets, "assets")
	if err != nil {
		panic(err)
	}
	return sub
}

// Default returns the library built from the embedded assets.
// The assets are parsed only once.
func Default() (*Library, error) {
	defaultOnce.Do(func() {
		defaultLib, defaultErr = Load(Assets())
	})
	return defaultLib, defaultErr
}

// Library holds the parsed templates, level tables and output schemas.
type Library struct {
	tables  Tables
	tmpl    *template.Template
	schemas map[string]*llm.Schema
}

// Load parses the prompt assets found in fsys.
func Load(fsys fs.FS) (*Library, error) {
	raw, err := fs.ReadFile(fsys, "tables.yaml")
	if err != nil {
		return nil, fmt.Errorf("read tables: %w", err)
	}
	tables, err := ParseTables(raw)
	if err != nil {
		return nil, err
	}

	tmpl, err := template.New("prompts").Funcs(funcs).ParseFS(fsys, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse prompt templates: %w", err)
	}

	files, err := fs.Glob(fsys, "schemas/*.json")
	if err != nil {
		return nil, fmt.Errorf("list schemas: %w", err)
	}
	schemas := make(map[string]*llm.Schema, len(files))
	for _, f := range files {
		def, err := fs.ReadFile(fsys, f)
		if err != nil {
			return nil, fmt.Errorf("read schema %s: %w", f, err)
		}
		if !json.Valid(def) {
			return nil, fmt.Errorf("schema %s: invalid JSON", f)
		}
		name := strings.TrimSuffix(path.Base(f), ".json")
		schemas[name] = &llm.Schema{Name: name, Definition: def}
	}
	for _, name := range []string{SchemaValidation, SchemaAnalysis, SchemaEvaluation, SchemaSkills, SchemaTerms} {
		if schemas[name] == nil {
			return nil, fmt.Errorf("missing schema %q", name)
		}
	}

	return &Library{tables: tables, tmpl: tmpl, schemas: schemas}, nil
}

// Tables returns the level tables and theme data.
func (l *Library) Tables() Tables {
	return l.tables
}

// Prompt is a template bound to its parameters. Composers never call the LLM.
type Prompt struct {
	Name        string
	Temperature float32
	// ExpectedCount is the number of exercises or themes asked for.
	ExpectedCount int
	Data          any
	Schema        *llm.Schema

	tmpl *template.Template
}

// Render executes the system and user parts of the prompt.
func (p Prompt) Render() (system, user string, err error) {
	if p.tmpl == nil {
		return "", "", fmt.Errorf("prompt %q: not bound to a library", p.Name)
	}
	var buf bytes.Buffer
	if err := p.tmpl.ExecuteTemplate(&buf, p.Name+".system", p.Data); err != nil {
		return "", "", fmt.Errorf("render %s system prompt: %w", p.Name, err)
	}
	system = strings.TrimSpace(buf.String())
	buf.Reset()
	if err := p.tmpl.ExecuteTemplate(&buf, p.Name+".user", p.Data); err != nil {
		return "", "", fmt.Errorf("render %s prompt: %w", p.Name, err)
	}
	return system, strings.TrimSpace(buf.String()), nil
}

// Request renders the prompt into a gateway request.
func (p Prompt) Request() (llm.Request, error) {
	system, user, err := p.Render()
	if err != nil {
		return llm.Request{}, err
	}
	return llm.Request{
		Purpose:     p.Name,
		System:      system,
		Prompt:      user,
		Temperature: p.Temperature,
		Schema:      p.Schema,
	}, nil
}

func (l *Library) bind(name string, temp float32, count int, schema string, data any) Prompt {
	return Prompt{
		Name:          name,
		Temperature:   temp,
		ExpectedCount: count,
		Data:          data,
		Schema:        l.schemas[schema],
		tmpl:          l.tmpl,
	}
}

// ResolveLevel normalizes a CEFR level, defaulting to B1.
func ResolveLevel(level string) string {
	lv := strings.ToUpper(strings.TrimSpace(level))
	for _, known := range model.Levels {
		if lv == known {
			return lv
		}
	}
	return model.DefaultLevel
}

type mcExample struct {
	ID      int
	Text    string
	Correct string
}

var funcs = template.FuncMap{
	"join": strings.Join,
	"inc":  func(i int) int { return i + 1 },
	"first": func(s []string, n int) []string {
		if n < len(s) {
			return s[:n]
		}
		return s
	},
	"joinInts": func(ids []int, sep string) string {
		parts := make([]string, len(ids))
		for i, id := range ids {
			parts[i] = strconv.Itoa(id)
		}
		return strings.Join(parts, sep)
	},
	"mc": func(id int, text, correct string) mcExample {
		return mcExample{ID: id, Text: text, Correct: correct}
	},
}

// sanitizeAnswer strips tags that could break out of the answer block and
// caps the answer length.
func sanitizeAnswer(answer string) string {
	answer = learnerAnswerRegex.ReplaceAllString(answer, "")
	answer = systemInstructionsRegex.ReplaceAllString(answer, "")
	answer = strings.TrimSpace(answer)

	if answer == "" {
		return "[No answer provided]"
	}

	if utf8.RuneCountInString(answer) > 10000 {
		runes := []rune(answer)
		runes = runes[:10000]
		answer = string(runes) + "\n\n[Answer truncated due to length]"
	}

	return answer
}
