package content

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pavelanni/langtest/internal/llm/backoff"
	"github.com/pavelanni/langtest/internal/model"
)

// Strategy names.
const (
	StrategySafe       = "safe"
	StrategyFast       = "fast"
	StrategyParallel   = "parallel"
	StrategySimplified = "simplified"
)

// Request asks for one complete test.
type Request struct {
	Language string
	Level    string
	// Domains seed the vocabulary section; nil generates them.
	Domains []string
}

// Strategy assembles the three sections of a test.
type Strategy interface {
	Name() string
	Assemble(ctx context.Context, req Request) (model.CompleteTest, error)
}

// NewStrategy returns the named strategy. Parallel falls back to fast and
// fast falls back to safe.
func NewStrategy(name string, gen *Generator) (Strategy, error) {
	safe := &safeStrategy{gen: gen}
	fast := &fastStrategy{gen: gen, next: safe}
	switch name {
	case StrategySafe:
		return safe, nil
	case StrategyFast:
		return fast, nil
	case StrategyParallel, "":
		return &parallelStrategy{gen: gen, next: fast}, nil
	case StrategySimplified:
		return &simplifiedStrategy{gen: gen}, nil
	}
	return nil, fmt.Errorf("unknown strategy %q", name)
}

func emptyTest() model.CompleteTest {
	return model.CompleteTest{
		ReadingComprehension: []model.Exercise{},
		Grammar:              []model.Exercise{},
		Vocabulary:           []model.Exercise{},
	}
}

// checkSections fails on the first empty section.
func checkSections(t model.CompleteTest) error {
	for _, s := range []model.Section{model.SectionComprehension, model.SectionGrammar, model.SectionVocabulary} {
		if exs, _ := t.Section(s); len(exs) == 0 {
			return fmt.Errorf("%s: %w", s, ErrSectionEmpty)
		}
	}
	return nil
}

// safeStrategy generates the sections one by one with long pauses.
// It never fails.
type safeStrategy struct {
	gen *Generator
}

func (s *safeStrategy) Name() string { return StrategySafe }

func (s *safeStrategy) Assemble(ctx context.Context, req Request) (model.CompleteTest, error) {
	t, err := sequential(ctx, s.gen, req, nil, s.gen.ladder.Safe, func() time.Duration { return 15 * time.Second })
	if err != nil {
		s.gen.logger.Warn("safe generation failed, returning an empty test", "strategy", StrategySafe, "error", err)
		return emptyTest(), nil
	}
	return t, nil
}

// fastStrategy shortens the pauses and uses the fast tier.
type fastStrategy struct {
	gen  *Generator
	next Strategy
}

func (s *fastStrategy) Name() string { return StrategyFast }

func (s *fastStrategy) Assemble(ctx context.Context, req Request) (model.CompleteTest, error) {
	l := s.gen.ladder
	t, err := sequential(ctx, s.gen, req, nil, l.Fast, func() time.Duration { return l.Between(3*time.Second, 5*time.Second) })
	if err == nil {
		err = checkSections(t)
	}
	if err != nil {
		s.gen.logger.Warn("falling back", "strategy", StrategyFast, "next", s.next.Name(), "error", err)
		return s.next.Assemble(ctx, req)
	}
	return t, nil
}

// parallelStrategy generates comprehension first, then grammar and
// vocabulary concurrently.
type parallelStrategy struct {
	gen  *Generator
	next Strategy
}

func (s *parallelStrategy) Name() string { return StrategyParallel }

func (s *parallelStrategy) Assemble(ctx context.Context, req Request) (model.CompleteTest, error) {
	t, err := s.assemble(ctx, req)
	if err == nil {
		err = checkSections(t)
	}
	if err != nil {
		s.gen.logger.Warn("falling back", "strategy", StrategyParallel, "next", s.next.Name(), "error", err)
		return s.next.Assemble(ctx, req)
	}
	return t, nil
}

func (s *parallelStrategy) assemble(ctx context.Context, req Request) (model.CompleteTest, error) {
	g := s.gen
	tier := g.ladder.UltraFastBurst

	comp, err := g.Comprehension(ctx, tier, req.Language, req.Level, nil)
	if err != nil {
		return model.CompleteTest{}, err
	}
	if err := g.ladder.Sleep(ctx, g.ladder.Between(time.Second, 2*time.Second)); err != nil {
		return model.CompleteTest{}, err
	}

	var grammar, vocabulary []model.Exercise
	eg, egctx := errgroup.WithContext(ctx)
	eg.SetLimit(2)
	eg.Go(func() error {
		var err error
		grammar, err = g.Grammar(egctx, tier, req.Language, req.Level)
		return err
	})
	eg.Go(func() error {
		var err error
		vocabulary, err = g.Vocabulary(egctx, tier, req.Language, req.Level, req.Domains)
		return err
	})
	if err := eg.Wait(); err != nil {
		return model.CompleteTest{}, err
	}

	return model.CompleteTest{
		ReadingComprehension: comp,
		Grammar:              grammar,
		Vocabulary:           vocabulary,
	}, nil
}

// simplifiedStrategy generates themes and domains up front, then the
// sections on the safe tier with longer pauses.
type simplifiedStrategy struct {
	gen *Generator
}

func (s *simplifiedStrategy) Name() string { return StrategySimplified }

func (s *simplifiedStrategy) Assemble(ctx context.Context, req Request) (model.CompleteTest, error) {
	g := s.gen
	themes := g.themes.Generate(ctx, req.Language, defaultThemeCount, "comprehension")
	if len(req.Domains) == 0 {
		req.Domains = g.themes.Generate(ctx, req.Language, defaultThemeCount, "domains")
	}
	t, err := sequential(ctx, g, req, themes, g.ladder.Safe, func() time.Duration { return 20 * time.Second })
	if err != nil {
		g.logger.Warn("simplified generation failed, returning an empty test", "strategy", StrategySimplified, "error", err)
		return emptyTest(), nil
	}
	return t, nil
}

// sequential generates comprehension, grammar and vocabulary in order
// under one tier, pausing gap() between sections.
func sequential(ctx context.Context, g *Generator, req Request, themes []string, tier *backoff.Tier, gap func() time.Duration) (model.CompleteTest, error) {
	var t model.CompleteTest
	var err error

	if t.ReadingComprehension, err = g.Comprehension(ctx, tier, req.Language, req.Level, themes); err != nil {
		return model.CompleteTest{}, err
	}
	if err := g.ladder.Sleep(ctx, gap()); err != nil {
		return model.CompleteTest{}, err
	}
	if t.Grammar, err = g.Grammar(ctx, tier, req.Language, req.Level); err != nil {
		return model.CompleteTest{}, err
	}
	if err := g.ladder.Sleep(ctx, gap()); err != nil {
		return model.CompleteTest{}, err
	}
	if t.Vocabulary, err = g.Vocabulary(ctx, tier, req.Language, req.Level, req.Domains); err != nil {
		return model.CompleteTest{}, err
	}
	return t, nil
}
