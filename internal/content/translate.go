package content

import (
	"context"
	"fmt"
	"strings"

	"github.com/pavelanni/langtest/internal/i18n"
	"github.com/pavelanni/langtest/internal/llm"
	"github.com/pavelanni/langtest/internal/llm/backoff"
	"github.com/pavelanni/langtest/internal/model"
)

// Translator renders interface terms and free text in a target language.
type Translator struct {
	gen *Generator
}

// Builtin returns the interface terms in the interface language.
func (t *Translator) Builtin() model.TechnicalTerms {
	ctx := i18n.WithLocalizer(context.Background(), i18n.NewLocalizer(t.gen.ui))
	tr := func(id string) string { return i18n.T(ctx, id) }
	return model.TechnicalTerms{
		ReadingComprehension: tr("TermReadingComprehension"),
		WrittenExpression:    tr("TermWrittenExpression"),
		Grammar:              tr("TermGrammar"),
		Vocabulary:           tr("TermVocabulary"),
		Instruction:          tr("TermInstruction"),
		Content:              tr("TermContent"),
		TargetLevel:          tr("TermTargetLevel"),
		Competency:           tr("TermCompetency"),
		Question:             tr("TermQuestion"),
		Sentence:             tr("TermSentence"),
		Item:                 tr("TermItem"),
		MainText:             tr("TermMainText"),
	}
}

// Terms returns the interface terms translated into lang. The built-in
// terms are returned for the interface language and when translation fails.
func (t *Translator) Terms(ctx context.Context, lang string) model.TechnicalTerms {
	g := t.gen
	builtin := t.Builtin()
	if g.sameLanguage(lang) {
		return builtin
	}

	p, err := g.lib.TranslateTerms(g.audience(lang), builtin)
	if err != nil {
		g.logger.Warn("compose terms translation", "error", err)
		return builtin
	}
	req, err := p.Request()
	if err != nil {
		g.logger.Warn("render terms translation", "error", err)
		return builtin
	}
	terms, err := backoff.Call(ctx, g.ladder.Safe, func(ctx context.Context) (model.TechnicalTerms, error) {
		return llm.CompleteJSON[model.TechnicalTerms](ctx, g.gw, req)
	})
	if err != nil {
		g.logger.Warn("terms translation failed", "language", lang, "error", err)
		return builtin
	}
	return withDefaults(terms, builtin)
}

// Text translates text into lang, reusing the glossary terms.
func (t *Translator) Text(ctx context.Context, text string, terms model.TechnicalTerms, lang string) (string, error) {
	g := t.gen
	req, err := g.lib.TranslateText(text, lang, terms).Request()
	if err != nil {
		return "", err
	}
	out, err := backoff.Call(ctx, g.ladder.Safe, func(ctx context.Context) (string, error) {
		return g.gw.Complete(ctx, req)
	})
	if err != nil {
		return "", fmt.Errorf("translate text: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// withDefaults fills terms the model left blank.
func withDefaults(got, def model.TechnicalTerms) model.TechnicalTerms {
	pick := func(a, b string) string {
		if strings.TrimSpace(a) == "" {
			return b
		}
		return a
	}
	return model.TechnicalTerms{
		ReadingComprehension: pick(got.ReadingComprehension, def.ReadingComprehension),
		WrittenExpression:    pick(got.WrittenExpression, def.WrittenExpression),
		Grammar:              pick(got.Grammar, def.Grammar),
		Vocabulary:           pick(got.Vocabulary, def.Vocabulary),
		Instruction:          pick(got.Instruction, def.Instruction),
		Content:              pick(got.Content, def.Content),
		TargetLevel:          pick(got.TargetLevel, def.TargetLevel),
		Competency:           pick(got.Competency, def.Competency),
		Question:             pick(got.Question, def.Question),
		Sentence:             pick(got.Sentence, def.Sentence),
		Item:                 pick(got.Item, def.Item),
		MainText:             pick(got.MainText, def.MainText),
	}
}
