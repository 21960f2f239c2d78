package evaluator

import (
	"context"
	"strconv"

	"github.com/pavelanni/langtest/internal/i18n"
	"github.com/pavelanni/langtest/internal/llm"
	"github.com/pavelanni/langtest/internal/llm/backoff"
	"github.com/pavelanni/langtest/internal/llm/prompts"
	"github.com/pavelanni/langtest/internal/model"
)

// legacyScore is the neutral score given when even the single call fails.
const legacyScore = 7.5

// legacy grades the whole submission with one structured call, retrying
// any error.
func (e *Evaluator) legacy(ctx context.Context, ex model.Exercise, submission, lang string) model.Evaluation {
	p := e.lib.Legacy(prompts.LegacyInput{
		Audience:      e.audience(lang),
		Instruction:   ex.Instruction,
		Level:         ex.TargetLevel,
		Competency:    ex.Competency,
		MainText:      ex.Content.MainText,
		Elements:      ex.Content.Elements,
		Submission:    submission,
		Comprehension: isComprehension(ex),
	})
	req, err := p.Request()
	if err != nil {
		e.logger.Error("render single-call evaluation", "error", err)
		return e.legacyFallback(ctx)
	}

	ev, err := backoff.Retry(ctx, e.ladder.LegacyPolicy(), func(ctx context.Context) (model.Evaluation, error) {
		return llm.CompleteJSON[model.Evaluation](ctx, e.gw, req)
	})
	if err != nil {
		e.logger.Warn("single-call evaluation failed, using default", "error", err)
		return e.legacyFallback(ctx)
	}
	ev = normalize(ev)
	if results := e.reconstruct(ctx, ex, submission, ev); len(results) > 0 {
		ev.PerQuestionResults = results
	}
	return ev
}

func (e *Evaluator) legacyFallback(ctx context.Context) model.Evaluation {
	lctx := e.localized(ctx)
	return model.Evaluation{
		Score:          legacyScore,
		EstimatedLevel: i18n.T(lctx, "LevelUndetermined"),
		GeneralComment: i18n.T(lctx, "LegacyFallbackComment"),
		Strengths:      []string{},
		Weaknesses:     []string{i18n.T(lctx, "LegacyFallbackNote")},
		Errors:         []model.EvaluationError{},
		Suggestions:    []string{i18n.T(lctx, "LegacyFallbackSuggestion")},
	}
}

// reconstruct derives per-question results from a single-call evaluation:
// a question is wrong when an error description names it.
func (e *Evaluator) reconstruct(ctx context.Context, ex model.Exercise, submission string, ev model.Evaluation) []model.QuestionResult {
	answers := e.ParseAnswers(submission)
	named := map[int]model.EvaluationError{}
	for _, er := range ev.Errors {
		m := e.mentionRe.FindStringSubmatch(er.Description)
		if m == nil {
			continue
		}
		id, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if _, dup := named[id]; !dup {
			named[id] = er
		}
	}

	lctx := e.localized(ctx)
	var results []model.QuestionResult
	for _, el := range ex.Content.Elements {
		if el.Kind == model.KindInstruction {
			continue
		}
		answer, ok := answers[el.ID]
		if !ok {
			answer = i18n.T(lctx, "NoAnswer")
		}
		res := model.QuestionResult{
			QuestionID:   el.ID,
			QuestionText: el.Text,
			UserAnswer:   answer,
			IsCorrect:    true,
		}
		if er, wrong := named[el.ID]; wrong {
			res.IsCorrect = false
			res.Analysis = &model.ErrorAnalysis{
				ErrorType:   er.Type,
				Description: er.Description,
				Correction:  er.Correction,
				Explanation: er.Explanation,
				Suggestion:  i18n.T(lctx, "ReviewSuggestion"),
			}
		}
		results = append(results, res)
	}
	return results
}
