// Package content generates the exercises of a proficiency test.
package content

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/pavelanni/langtest/internal/i18n"
	"github.com/pavelanni/langtest/internal/llm"
	"github.com/pavelanni/langtest/internal/llm/backoff"
	"github.com/pavelanni/langtest/internal/llm/parse"
	"github.com/pavelanni/langtest/internal/llm/prompts"
	"github.com/pavelanni/langtest/internal/model"
)

var (
	// ErrIncompleteSection means the model produced fewer exercises than asked.
	ErrIncompleteSection = errors.New("incomplete section")
	// ErrSectionEmpty means a strategy finished with an empty section.
	ErrSectionEmpty = errors.New("section empty")
)

// Number of themes or domains generated when the caller gives none.
const defaultThemeCount = 3

// Config wires a Generator.
type Config struct {
	Gateway llm.Gateway
	// Prompts defaults to the embedded library.
	Prompts *prompts.Library
	Ladder  *backoff.Ladder
	// Themes overrides the theme pool of the prompt library.
	Themes *prompts.ThemePool
	// Interface is the language code instructions are written in.
	Interface string
	Rand      *rand.Rand
	Logger    *slog.Logger
}

// Generator produces the exercises of each section.
type Generator struct {
	gw     llm.Gateway
	lib    *prompts.Library
	ladder *backoff.Ladder
	themes *ThemeGenerator
	terms  *Translator
	ui     string
	logger *slog.Logger
}

// New creates a Generator together with its theme generator and translator.
func New(cfg Config) (*Generator, error) {
	if cfg.Gateway == nil {
		return nil, errors.New("content: gateway is required")
	}
	lib := cfg.Prompts
	if lib == nil {
		var err error
		if lib, err = prompts.Default(); err != nil {
			return nil, fmt.Errorf("load prompts: %w", err)
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ladder := cfg.Ladder
	if ladder == nil {
		ladder = backoff.NewLadder(backoff.Options{Logger: logger})
	}
	ui := cfg.Interface
	if ui == "" {
		ui = i18n.Language()
	}
	pool := lib.Tables().Themes
	if cfg.Themes != nil {
		pool = *cfg.Themes
	}
	if err := pool.Validate(); err != nil {
		return nil, err
	}

	g := &Generator{
		gw:     cfg.Gateway,
		lib:    lib,
		ladder: ladder,
		ui:     ui,
		logger: logger,
	}
	g.themes = &ThemeGenerator{gen: g, pool: pool, rng: cfg.Rand}
	g.terms = &Translator{gen: g}
	return g, nil
}

// Themes returns the theme generator.
func (g *Generator) Themes() *ThemeGenerator { return g.themes }

// Translator returns the translation helper.
func (g *Generator) Translator() *Translator { return g.terms }

// Ladder returns the backoff tiers the generator calls through.
func (g *Generator) Ladder() *backoff.Ladder { return g.ladder }

func (g *Generator) audience(lang string) prompts.Audience {
	return prompts.Audience{Language: lang, Interface: i18n.LanguageName(g.ui)}
}

// sameLanguage reports whether lang, given as a name or a code, is the
// interface language.
func (g *Generator) sameLanguage(lang string) bool {
	lang = strings.TrimSpace(lang)
	return strings.EqualFold(lang, g.ui) || strings.EqualFold(lang, i18n.LanguageName(g.ui))
}

// Comprehension generates the reading comprehension section. Missing themes
// are generated first.
func (g *Generator) Comprehension(ctx context.Context, tier *backoff.Tier, lang, level string, themes []string) ([]model.Exercise, error) {
	if len(themes) == 0 {
		themes = g.themes.Generate(ctx, lang, defaultThemeCount, "comprehension")
	}
	p := g.lib.Comprehension(g.audience(lang), level, themes)
	return g.section(ctx, tier, model.SectionComprehension, p, model.KindQuestion)
}

// Grammar generates the grammar section.
func (g *Generator) Grammar(ctx context.Context, tier *backoff.Tier, lang, level string) ([]model.Exercise, error) {
	p := g.lib.Grammar(g.audience(lang), level)
	return g.section(ctx, tier, model.SectionGrammar, p, model.KindSentence)
}

// Vocabulary generates the vocabulary section. Missing domains are
// generated first.
func (g *Generator) Vocabulary(ctx context.Context, tier *backoff.Tier, lang, level string, domains []string) ([]model.Exercise, error) {
	if len(domains) == 0 {
		domains = g.themes.Generate(ctx, lang, defaultThemeCount, "domains")
	}
	p := g.lib.Vocabulary(g.audience(lang), level, domains)
	return g.section(ctx, tier, model.SectionVocabulary, p, model.KindItem)
}

// section runs one generation call and fits the result to the expected
// count. Degraded output yields an empty section, never a partial one.
func (g *Generator) section(ctx context.Context, tier *backoff.Tier, sec model.Section, p prompts.Prompt, kind model.ElementKind) ([]model.Exercise, error) {
	g.logger.Info("generating section", "section", sec, "tier", tier.Name)
	raw, err := g.complete(ctx, tier, g.ladder.GenerationPolicy(10*time.Second), p)
	if err != nil {
		return nil, fmt.Errorf("generate %s: %w", sec, err)
	}
	if raw == "" {
		g.logger.Warn("no output after retries", "section", sec)
		return []model.Exercise{}, nil
	}

	exs, ok := parse.Exercises(raw, kind)
	if !ok {
		g.logger.Warn("no exercises in model output", "section", sec)
		return []model.Exercise{}, nil
	}
	exs, err = fit(exs, p.ExpectedCount)
	if err != nil {
		g.logger.Warn("dropping section", "section", sec, "error", err)
	}
	return exs, nil
}

// complete renders p and calls the gateway under tier, retried by policy.
func (g *Generator) complete(ctx context.Context, tier *backoff.Tier, policy backoff.Policy, p prompts.Prompt) (string, error) {
	req, err := p.Request()
	if err != nil {
		return "", err
	}
	return backoff.Retry(ctx, policy, func(ctx context.Context) (string, error) {
		return backoff.Call(ctx, tier, func(ctx context.Context) (string, error) {
			return g.gw.Complete(ctx, req)
		})
	})
}

// fit truncates exs to n, or empties it when fewer than n were produced.
func fit(exs []model.Exercise, n int) ([]model.Exercise, error) {
	if len(exs) < n {
		return []model.Exercise{}, fmt.Errorf("%w: got %d of %d exercises", ErrIncompleteSection, len(exs), n)
	}
	return exs[:n], nil
}
