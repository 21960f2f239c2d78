package evaluator

import (
	"context"
	"maps"
	"slices"

	"github.com/pavelanni/langtest/internal/i18n"
	"github.com/pavelanni/langtest/internal/llm/prompts"
	"github.com/pavelanni/langtest/internal/model"
)

// Skills summarizes the evaluations of a whole test, keyed by section name.
// A failed call yields a B1 report.
func (e *Evaluator) Skills(ctx context.Context, results map[string][]model.Evaluation, lang string) model.SkillsReport {
	sections := make([]prompts.SectionEvaluations, 0, len(results))
	for _, name := range slices.Sorted(maps.Keys(results)) {
		sections = append(sections, prompts.SectionEvaluations{Name: name, Evaluations: results[name]})
	}

	report, err := call[model.SkillsReport](ctx, e, e.lib.Skills(e.audience(lang), sections))
	if err != nil {
		e.logger.Warn("skills report failed, using default", "error", err)
		return e.skillsFallback(ctx)
	}
	if report.Gaps == nil {
		report.Gaps = []string{}
	}
	if report.Recommendations == nil {
		report.Recommendations = []string{}
	}
	return report
}

func (e *Evaluator) skillsFallback(ctx context.Context) model.SkillsReport {
	lctx := e.localized(ctx)
	return model.SkillsReport{
		OverallLevel:         model.DefaultLevel,
		ReadingComprehension: model.DefaultLevel,
		WrittenExpression:    model.DefaultLevel,
		Grammar:              model.DefaultLevel,
		Vocabulary:           model.DefaultLevel,
		Gaps:                 []string{i18n.T(lctx, "SkillsFallbackGap")},
		Recommendations:      []string{i18n.T(lctx, "SkillsFallbackRecommendation")},
	}
}
