// Package evaluator grades learner answers with a cheap validation call per
// answer, a diagnostic call per wrong answer and one aggregation call.
package evaluator

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/pavelanni/langtest/internal/i18n"
	"github.com/pavelanni/langtest/internal/llm"
	"github.com/pavelanni/langtest/internal/llm/backoff"
	"github.com/pavelanni/langtest/internal/llm/prompts"
	"github.com/pavelanni/langtest/internal/model"
)

// Evaluator grades exercise submissions. It is safe for concurrent use.
type Evaluator struct {
	gw     llm.Gateway
	lib    *prompts.Library
	ladder *backoff.Ladder
	ui     string
	logger *slog.Logger

	answerRe  *regexp.Regexp
	mentionRe *regexp.Regexp
}

// New creates an Evaluator writing feedback in the interface language ui.
func New(gw llm.Gateway, lib *prompts.Library, ladder *backoff.Ladder, ui string, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	if ladder == nil {
		ladder = backoff.NewLadder(backoff.Options{Logger: logger})
	}
	if ui == "" {
		ui = i18n.Language()
	}
	labels := labelPattern()
	return &Evaluator{
		gw:        gw,
		lib:       lib,
		ladder:    ladder,
		ui:        ui,
		logger:    logger,
		answerRe:  regexp.MustCompile(`(?i)^\s*(?:` + labels + `)\s+(\d+)\s*:\s*(.*?)\s*$`),
		mentionRe: regexp.MustCompile(`(?i)\b(?:` + labels + `)\s+(\d+)\b`),
	}
}

// labelPattern joins the answer labels of every loaded locale, longest
// first so that no label shadows a longer one.
func labelPattern() string {
	var labels []string
	for _, id := range []string{"LabelQuestion", "LabelSentence", "LabelItem"} {
		for _, l := range i18n.AllTranslations(id) {
			labels = append(labels, regexp.QuoteMeta(l))
		}
	}
	slices.SortFunc(labels, func(a, b string) int {
		return cmp.Or(cmp.Compare(len(b), len(a)), strings.Compare(a, b))
	})
	return strings.Join(slices.Compact(labels), "|")
}

// ParseAnswers maps element ids to answers from lines of the form
// "<label> <n>: <answer>". Unmatched lines and empty answers are ignored,
// and the last line for an id wins.
func (e *Evaluator) ParseAnswers(submission string) map[int]string {
	answers := map[int]string{}
	for _, line := range strings.Split(submission, "\n") {
		m := e.answerRe.FindStringSubmatch(line)
		if m == nil || m[2] == "" {
			continue
		}
		id, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		answers[id] = m[2]
	}
	return answers
}

func (e *Evaluator) localized(ctx context.Context) context.Context {
	return i18n.WithLocalizer(ctx, i18n.NewLocalizer(e.ui))
}

func (e *Evaluator) audience(lang string) prompts.Audience {
	return prompts.Audience{Language: lang, Interface: i18n.LanguageName(e.ui)}
}

// isComprehension reports whether ex reads like a comprehension exercise.
func isComprehension(ex model.Exercise) bool {
	if strings.TrimSpace(ex.Content.MainText) != "" {
		return true
	}
	for _, el := range ex.Content.Elements {
		if el.Kind == model.KindQuestion {
			return true
		}
	}
	return false
}

// Evaluate grades one submission. It never fails: exhausted retries fall
// back to typed defaults and unexpected errors to the single-call path.
func (e *Evaluator) Evaluate(ctx context.Context, ex model.Exercise, submission, lang string) model.Evaluation {
	if len(ex.Content.Elements) == 0 {
		e.logger.Info("exercise has no elements, using single-call evaluation")
		return e.legacy(ctx, ex, submission, lang)
	}
	ev, err := e.twoStage(ctx, ex, submission, lang)
	if err != nil {
		e.logger.Warn("two-stage evaluation failed, using single-call evaluation", "error", err)
		return e.legacy(ctx, ex, submission, lang)
	}
	return ev
}

func (e *Evaluator) twoStage(ctx context.Context, ex model.Exercise, submission, lang string) (model.Evaluation, error) {
	answers := e.ParseAnswers(submission)
	comprehension := isComprehension(ex)
	tables := e.lib.Tables()

	els := slices.Clone(ex.Content.Elements)
	slices.SortStableFunc(els, func(a, b model.Element) int { return cmp.Compare(a.ID, b.ID) })

	results := make([]model.QuestionResult, 0, len(els))
	var absent []int
	for _, el := range els {
		answer, ok := answers[el.ID]
		if !ok {
			results = append(results, e.noAnswer(ctx, el))
			continue
		}

		in := prompts.AnswerInput{
			Audience:      e.audience(lang),
			QuestionID:    el.ID,
			Kind:          el.Kind,
			Question:      el.Text,
			Answer:        answer,
			Options:       el.Options,
			SourceText:    ex.Content.MainText,
			Comprehension: comprehension,
		}
		if comprehension && tables.MentionsAbsence(answer) {
			in.ClaimsAbsent = true
			absent = append(absent, el.ID)
		}

		v, err := e.validate(ctx, in)
		if err != nil {
			return model.Evaluation{}, fmt.Errorf("validate answer %d: %w", el.ID, err)
		}
		res := model.QuestionResult{
			QuestionID:   el.ID,
			QuestionText: el.Text,
			UserAnswer:   answer,
			IsCorrect:    v.IsCorrect,
		}
		if !v.IsCorrect {
			a, err := e.analyze(ctx, in)
			if err != nil {
				return model.Evaluation{}, fmt.Errorf("analyze answer %d: %w", el.ID, err)
			}
			res.Analysis = &a
		}
		results = append(results, res)
	}

	ev, err := e.compile(ctx, prompts.CompileInput{
		Audience:      e.audience(lang),
		Instruction:   ex.Instruction,
		Level:         ex.TargetLevel,
		Competency:    ex.Competency,
		Results:       results,
		Comprehension: comprehension,
		AbsentIDs:     absent,
	})
	if err != nil {
		return model.Evaluation{}, fmt.Errorf("compile evaluation: %w", err)
	}
	ev.PerQuestionResults = results
	return ev, nil
}

func (e *Evaluator) noAnswer(ctx context.Context, el model.Element) model.QuestionResult {
	lctx := e.localized(ctx)
	return model.QuestionResult{
		QuestionID:   el.ID,
		QuestionText: el.Text,
		UserAnswer:   i18n.T(lctx, "NoAnswer"),
		IsCorrect:    false,
		Analysis: &model.ErrorAnalysis{
			ErrorType:   i18n.T(lctx, "NoAnswerErrorType"),
			Description: i18n.T(lctx, "NoAnswerDescription"),
			Correction:  i18n.T(lctx, "NoAnswerCorrection"),
			Explanation: i18n.T(lctx, "NoAnswerExplanation"),
			Suggestion:  i18n.T(lctx, "NoAnswerSuggestion"),
		},
	}
}

// call runs one structured stage call under the evaluation policy.
func call[T any](ctx context.Context, e *Evaluator, p prompts.Prompt) (T, error) {
	var zero T
	req, err := p.Request()
	if err != nil {
		return zero, err
	}
	return backoff.Retry(ctx, e.ladder.EvaluationPolicy(), func(ctx context.Context) (T, error) {
		return llm.CompleteJSON[T](ctx, e.gw, req)
	})
}

// validate checks one answer. Exhausted retries accept the answer so that
// the learner is not penalized for a system failure.
func (e *Evaluator) validate(ctx context.Context, in prompts.AnswerInput) (model.ValidationResult, error) {
	v, err := call[model.ValidationResult](ctx, e, e.lib.Validate(in))
	if errors.Is(err, backoff.ErrExhausted) {
		e.logger.Warn("validation unavailable, accepting answer", "question", in.QuestionID, "error", err)
		return model.ValidationResult{
			IsCorrect:   true,
			Confidence:  0.5,
			Explanation: i18n.T(e.localized(ctx), "ValidationUnavailable"),
		}, nil
	}
	if err != nil {
		return model.ValidationResult{}, err
	}
	v.Confidence = min(max(v.Confidence, 0), 1)
	return v, nil
}

func (e *Evaluator) analyze(ctx context.Context, in prompts.AnswerInput) (model.ErrorAnalysis, error) {
	a, err := call[model.ErrorAnalysis](ctx, e, e.lib.Analyze(in))
	if errors.Is(err, backoff.ErrExhausted) {
		e.logger.Warn("analysis unavailable", "question", in.QuestionID, "error", err)
		lctx := e.localized(ctx)
		return model.ErrorAnalysis{
			ErrorType:   i18n.T(lctx, "AnalysisUnavailableType"),
			Description: i18n.T(lctx, "AnalysisUnavailableDescription"),
			Correction:  i18n.T(lctx, "AnalysisUnavailableCorrection"),
			Explanation: i18n.T(lctx, "AnalysisUnavailableExplanation"),
			Suggestion:  i18n.T(lctx, "AnalysisUnavailableSuggestion"),
		}, nil
	}
	return a, err
}

// compile aggregates the results. Exhausted retries score the share of
// correct answers.
func (e *Evaluator) compile(ctx context.Context, in prompts.CompileInput) (model.Evaluation, error) {
	ev, err := call[model.Evaluation](ctx, e, e.lib.Compile(in))
	if errors.Is(err, backoff.ErrExhausted) {
		e.logger.Warn("compilation unavailable, scoring locally", "error", err)
		return e.compileFallback(ctx, in.Results), nil
	}
	if err != nil {
		return model.Evaluation{}, err
	}
	return normalize(ev), nil
}

func (e *Evaluator) compileFallback(ctx context.Context, results []model.QuestionResult) model.Evaluation {
	correct := 0
	for _, r := range results {
		if r.IsCorrect {
			correct++
		}
	}
	score := 10.0
	if len(results) > 0 {
		score = 10 * float64(correct) / float64(len(results))
	}
	lctx := e.localized(ctx)
	data := map[string]any{"Correct": correct, "Total": len(results)}
	return model.Evaluation{
		Score:          score,
		EstimatedLevel: i18n.T(lctx, "LevelUndetermined"),
		GeneralComment: i18n.Td(lctx, "CompileFallbackComment", data),
		Strengths:      []string{i18n.Td(lctx, "CompileFallbackStrength", data)},
		Weaknesses:     []string{i18n.T(lctx, "CompileFallbackWeakness")},
		Errors:         []model.EvaluationError{},
		Suggestions:    []string{i18n.T(lctx, "CompileFallbackSuggestion")},
	}
}

// normalize clamps the score and replaces nil lists.
func normalize(ev model.Evaluation) model.Evaluation {
	ev.Score = min(max(ev.Score, 0), 10)
	if ev.Strengths == nil {
		ev.Strengths = []string{}
	}
	if ev.Weaknesses == nil {
		ev.Weaknesses = []string{}
	}
	if ev.Errors == nil {
		ev.Errors = []model.EvaluationError{}
	}
	if ev.Suggestions == nil {
		ev.Suggestions = []string{}
	}
	return ev
}
