package prompts

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/pavelanni/langtest/internal/model"
)

// Audience names the two languages a prompt mixes: the language under test
// and the language the learner reads instructions in.
type Audience struct {
	Language  string
	Interface string
}

type contentData struct {
	Audience
	Level                string
	Count                int
	Themes               []string
	QuestionsInInterface bool
	Comprehension        ComprehensionLevel
	Grammar              GrammarLevel
	Vocabulary           VocabularyLevel
}

// Comprehension composes the reading comprehension prompt.
func (l *Library) Comprehension(a Audience, level string, themes []string) Prompt {
	lv := ResolveLevel(level)
	data := contentData{
		Audience:             a,
		Level:                lv,
		Count:                model.ComprehensionCount,
		Themes:               l.fillThemes(themes, model.ComprehensionCount, "comprehension"),
		QuestionsInInterface: true,
		Comprehension:        l.tables.Comprehension[lv],
	}
	return l.bind("comprehension", TempContent, data.Count, "", data)
}

// Grammar composes the grammar prompt.
func (l *Library) Grammar(a Audience, level string) Prompt {
	lv := ResolveLevel(level)
	data := contentData{
		Audience: a,
		Level:    lv,
		Count:    model.GrammarCount,
		Grammar:  l.tables.Grammar[lv],
	}
	return l.bind("grammar", TempContent, data.Count, "", data)
}

// Vocabulary composes the vocabulary prompt for the given lexical domains.
func (l *Library) Vocabulary(a Audience, level string, domains []string) Prompt {
	lv := ResolveLevel(level)
	data := contentData{
		Audience:   a,
		Level:      lv,
		Count:      model.VocabularyCount,
		Themes:     l.fillThemes(domains, model.VocabularyCount, "domains"),
		Vocabulary: l.tables.Vocabulary[lv],
	}
	return l.bind("vocabulary", TempContent, data.Count, "", data)
}

// fillThemes returns exactly n themes, reusing the first one when fewer are given.
func (l *Library) fillThemes(themes []string, n int, category string) []string {
	out := make([]string, n)
	for i := range out {
		switch {
		case i < len(themes):
			out[i] = themes[i]
		case len(themes) > 0:
			out[i] = themes[0]
		default:
			out[i] = l.tables.Themes.Description(category)
		}
	}
	return out
}

type themesData struct {
	Language    string
	Count       int
	Description string
	Denylist    []string
	Inspiration []string
}

// Themes composes the theme generation prompt.
func (l *Library) Themes(lang string, count int, description string, pool ThemePool) Prompt {
	data := themesData{
		Language:    lang,
		Count:       count,
		Description: description,
		Denylist:    pool.Denylist,
		Inspiration: pool.Inspiration,
	}
	return l.bind("themes", TempThemes, count, "", data)
}

type termsData struct {
	Audience
	Terms string
}

// TranslateTerms composes the prompt translating interface terms.
func (l *Library) TranslateTerms(a Audience, terms model.TechnicalTerms) (Prompt, error) {
	raw, err := json.MarshalIndent(terms, "", "  ")
	if err != nil {
		return Prompt{}, fmt.Errorf("encode terms: %w", err)
	}
	return l.bind("translate-terms", TempTranslation, 0, SchemaTerms, termsData{Audience: a, Terms: string(raw)}), nil
}

type textData struct {
	Language string
	Text     string
	Glossary []string
}

// TranslateText composes a free-text translation prompt. Non-empty glossary
// terms are listed for the model to reuse.
func (l *Library) TranslateText(text, lang string, glossary model.TechnicalTerms) Prompt {
	return l.bind("translate-text", TempTranslation, 0, "", textData{
		Language: lang,
		Text:     text,
		Glossary: glossaryLines(glossary),
	})
}

func glossaryLines(t model.TechnicalTerms) []string {
	var m map[string]string
	raw, _ := json.Marshal(t)
	_ = json.Unmarshal(raw, &m)
	var lines []string
	for k, v := range m {
		if v != "" {
			lines = append(lines, k+": "+v)
		}
	}
	sort.Strings(lines)
	return lines
}

// AnswerInput describes one learner answer to check or diagnose.
type AnswerInput struct {
	Audience
	QuestionID    int
	Kind          model.ElementKind
	Question      string
	Answer        string
	Options       []model.Option
	SourceText    string
	Comprehension bool
	ClaimsAbsent  bool
}

// Validate composes the binary correctness check.
func (l *Library) Validate(in AnswerInput) Prompt {
	in.Answer = sanitizeAnswer(in.Answer)
	return l.bind("validate", TempValidate, 0, SchemaValidation, in)
}

// Analyze composes the detailed diagnostic of an incorrect answer.
func (l *Library) Analyze(in AnswerInput) Prompt {
	in.Answer = sanitizeAnswer(in.Answer)
	return l.bind("analyze", TempAnalyze, 0, SchemaAnalysis, in)
}

// CompileInput carries the per-question results of one exercise.
type CompileInput struct {
	Audience
	Instruction   string
	Level         string
	Competency    string
	Results       []model.QuestionResult
	Comprehension bool
	AbsentIDs     []int
}

// Compile composes the aggregation call.
func (l *Library) Compile(in CompileInput) Prompt {
	return l.bind("compile", TempCompile, 0, SchemaEvaluation, in)
}

// LegacyInput carries a whole submission for the single-call evaluator.
type LegacyInput struct {
	Audience
	Instruction   string
	Level         string
	Competency    string
	MainText      string
	Elements      []model.Element
	Submission    string
	Comprehension bool
}

// Legacy composes the single-call evaluation.
func (l *Library) Legacy(in LegacyInput) Prompt {
	in.Submission = sanitizeAnswer(in.Submission)
	return l.bind("legacy", TempLegacy, 0, SchemaEvaluation, in)
}

// SectionEvaluations groups the evaluations of one test section.
type SectionEvaluations struct {
	Name        string
	Evaluations []model.Evaluation
}

type skillsData struct {
	Audience
	Sections []SectionEvaluations
}

// Skills composes the skills report over all sections.
func (l *Library) Skills(a Audience, sections []SectionEvaluations) Prompt {
	return l.bind("skills", TempSkills, 0, SchemaSkills, skillsData{Audience: a, Sections: sections})
}
