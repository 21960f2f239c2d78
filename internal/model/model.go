package model

import "time"

// ElementKind is the role an element plays inside an exercise.
type ElementKind string

const (
	KindQuestion       ElementKind = "QUESTION"
	KindSentence       ElementKind = "SENTENCE"
	KindItem           ElementKind = "ITEM"
	KindInstruction    ElementKind = "INSTRUCTION"
	KindMultipleChoice ElementKind = "MULTIPLE_CHOICE"
)

// Section names a part of a complete test.
type Section string

const (
	SectionComprehension Section = "readingComprehension"
	SectionGrammar       Section = "grammar"
	SectionVocabulary    Section = "vocabulary"
)

// Fixed number of exercises per section.
const (
	ComprehensionCount = 2
	GrammarCount       = 3
	VocabularyCount    = 2
)

// Levels lists the CEFR levels in ascending order.
var Levels = []string{"A1", "A2", "B1", "B2", "C1", "C2"}

// DefaultLevel is used when a level is missing or unknown.
const DefaultLevel = "B1"

// Option is one answer choice of a multiple-choice element.
type Option struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	IsCorrect bool   `json:"isCorrect"`
}

// Element is a question, sentence or item inside an exercise.
type Element struct {
	ID              int         `json:"id"`
	Text            string      `json:"text"`
	Kind            ElementKind `json:"kind"`
	Options         []Option    `json:"options,omitempty"`
	CorrectOptionID string      `json:"correctOptionId,omitempty"`
}

// Content is the body of an exercise.
type Content struct {
	MainText string    `json:"mainText"`
	Elements []Element `json:"elements"`
}

// Exercise is a single generated exercise.
type Exercise struct {
	Instruction string  `json:"instruction"`
	Content     Content `json:"content"`
	TargetLevel string  `json:"targetLevel"`
	Competency  string  `json:"competency"`
}

// CompleteTest groups the three sections of a proficiency test.
type CompleteTest struct {
	ReadingComprehension []Exercise `json:"readingComprehension"`
	Grammar              []Exercise `json:"grammar"`
	Vocabulary           []Exercise `json:"vocabulary"`
}

// Section returns the exercises of the named section.
func (t CompleteTest) Section(s Section) ([]Exercise, bool) {
	switch s {
	case SectionComprehension:
		return t.ReadingComprehension, true
	case SectionGrammar:
		return t.Grammar, true
	case SectionVocabulary:
		return t.Vocabulary, true
	}
	return nil, false
}

// Empty reports whether every section is empty.
func (t CompleteTest) Empty() bool {
	return len(t.ReadingComprehension) == 0 && len(t.Grammar) == 0 && len(t.Vocabulary) == 0
}

// GeneratedTest is a complete test with its identity.
type GeneratedTest struct {
	ID          string       `json:"id"`
	Language    string       `json:"language"`
	TargetLevel string       `json:"targetLevel"`
	Strategy    string       `json:"strategy,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
	Test        CompleteTest `json:"test"`
}

// ValidationResult is the binary verdict on one learner answer.
type ValidationResult struct {
	IsCorrect   bool    `json:"isCorrect"`
	Confidence  float64 `json:"confidence"`
	Explanation string  `json:"explanation,omitempty"`
}

// ErrorAnalysis is the detailed diagnostic of an incorrect answer.
type ErrorAnalysis struct {
	ErrorType   string `json:"errorType"`
	Description string `json:"description"`
	Correction  string `json:"correction"`
	Explanation string `json:"explanation"`
	Suggestion  string `json:"suggestion"`
}

// QuestionResult is the outcome for one element of an exercise.
type QuestionResult struct {
	QuestionID   int            `json:"questionId"`
	QuestionText string         `json:"questionText"`
	UserAnswer   string         `json:"userAnswer"`
	IsCorrect    bool           `json:"isCorrect"`
	Analysis     *ErrorAnalysis `json:"analysis,omitempty"`
}

// EvaluationError is one error listed in an aggregated evaluation.
type EvaluationError struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Correction  string `json:"correction"`
	Explanation string `json:"explanation"`
}

// Evaluation is the aggregated report for one exercise submission.
type Evaluation struct {
	Score              float64           `json:"score"`
	EstimatedLevel     string            `json:"estimatedLevel"`
	GeneralComment     string            `json:"generalComment"`
	Strengths          []string          `json:"strengths"`
	Weaknesses         []string          `json:"weaknesses"`
	Errors             []EvaluationError `json:"errors"`
	Suggestions        []string          `json:"suggestions"`
	PerQuestionResults []QuestionResult  `json:"perQuestionResults,omitempty"`
}

// SkillsReport summarizes evaluations across all sections of a test.
type SkillsReport struct {
	OverallLevel         string   `json:"overallLevel"`
	ReadingComprehension string   `json:"readingComprehension"`
	WrittenExpression    string   `json:"writtenExpression"`
	Grammar              string   `json:"grammar"`
	Vocabulary           string   `json:"vocabulary"`
	Gaps                 []string `json:"gaps"`
	Recommendations      []string `json:"recommendations"`
}

// TechnicalTerms holds the interface vocabulary translated into a language.
type TechnicalTerms struct {
	ReadingComprehension string `json:"readingComprehension"`
	WrittenExpression    string `json:"writtenExpression"`
	Grammar              string `json:"grammar"`
	Vocabulary           string `json:"vocabulary"`
	Instruction          string `json:"instruction"`
	Content              string `json:"content"`
	TargetLevel          string `json:"targetLevel"`
	Competency           string `json:"competency"`
	Question             string `json:"question"`
	Sentence             string `json:"sentence"`
	Item                 string `json:"item"`
	MainText             string `json:"mainText"`
}

// Language is an entry of the supported language list.
type Language struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	CountryCode string `json:"countryCode"`
	CountryName string `json:"countryName"`
}
