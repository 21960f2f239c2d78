package content

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/pavelanni/langtest/internal/llm"
	"github.com/pavelanni/langtest/internal/model"
)

func newTestAssembler(t *testing.T, gw llm.Gateway, strategy string) *Assembler {
	t.Helper()
	g := newTestGenerator(t, gw, nil)
	s, err := NewStrategy(strategy, g)
	if err != nil {
		t.Fatalf("NewStrategy(%q): %v", strategy, err)
	}
	return NewAssembler(s, g.logger)
}

func assertCounts(t *testing.T, test model.CompleteTest, comp, grammar, vocab int) {
	t.Helper()
	if len(test.ReadingComprehension) != comp || len(test.Grammar) != grammar || len(test.Vocabulary) != vocab {
		t.Errorf("sections = %d/%d/%d, want %d/%d/%d",
			len(test.ReadingComprehension), len(test.Grammar), len(test.Vocabulary), comp, grammar, vocab)
	}
}

func TestNewStrategy(t *testing.T) {
	g := newTestGenerator(t, newFakeGateway(nil), nil)
	for _, name := range []string{StrategySafe, StrategyFast, StrategyParallel, StrategySimplified} {
		s, err := NewStrategy(name, g)
		if err != nil {
			t.Fatalf("NewStrategy(%q): %v", name, err)
		}
		if s.Name() != name {
			t.Errorf("Name() = %q, want %q", s.Name(), name)
		}
	}
	if s, err := NewStrategy("", g); err != nil || s.Name() != StrategyParallel {
		t.Errorf("default strategy = %v, %v", s, err)
	}
	if _, err := NewStrategy("reckless", g); err == nil {
		t.Error("unknown strategy: want error")
	}
}

func TestAssembleAllSucceed(t *testing.T) {
	for _, name := range []string{StrategyParallel, StrategyFast, StrategySafe, StrategySimplified} {
		t.Run(name, func(t *testing.T) {
			gw := newFakeGateway(happyRoutes(t))
			a := newTestAssembler(t, gw, name)

			gt := a.Generate(context.Background(), "English", "A2")
			if gt.ID == "" || gt.Language != "English" || gt.TargetLevel != "A2" || gt.Strategy != name {
				t.Errorf("header = %+v", gt)
			}
			assertCounts(t, gt.Test, 2, 3, 2)

			for _, sec := range []model.Section{model.SectionComprehension, model.SectionGrammar, model.SectionVocabulary} {
				exs, _ := gt.Test.Section(sec)
				for i, ex := range exs {
					seen := map[int]bool{}
					for _, el := range ex.Content.Elements {
						if seen[el.ID] {
							t.Errorf("%s[%d]: duplicate element id %d", sec, i, el.ID)
						}
						seen[el.ID] = true
					}
				}
			}
			for _, p := range []string{"comprehension", "grammar", "vocabulary"} {
				if n := gw.callsFor(p); n != 1 {
					t.Errorf("%s calls = %d, want 1", p, n)
				}
			}
		})
	}
}

func TestAssembleKeepsEmptyLevel(t *testing.T) {
	a := newTestAssembler(t, newFakeGateway(happyRoutes(t)), StrategySafe)
	gt := a.Generate(context.Background(), "English", "")
	if gt.TargetLevel != "" {
		t.Errorf("TargetLevel = %q, want empty", gt.TargetLevel)
	}
	assertCounts(t, gt.Test, 2, 3, 2)
}

func TestParallelGeneratesComprehensionFirst(t *testing.T) {
	gw := newFakeGateway(happyRoutes(t))
	a := newTestAssembler(t, gw, StrategyParallel)
	a.Generate(context.Background(), "English", "B2")

	calls := gw.purposes()
	comp := slices.Index(calls, "comprehension")
	for _, p := range []string{"grammar", "vocabulary"} {
		if i := slices.Index(calls, p); i < comp {
			t.Errorf("%s called at %d before comprehension at %d: %v", p, i, comp, calls)
		}
	}
}

func TestRateLimitedEverywhereNeverFails(t *testing.T) {
	limited := fail(llm.ErrRateLimited)
	gw := newFakeGateway(map[string]func(int) (string, error){
		"comprehension":  limited,
		"grammar":        limited,
		"vocabulary":     limited,
		"themes":         limited,
		"translate-text": limited,
	})
	a := newTestAssembler(t, gw, StrategyParallel)

	gt := a.Generate(context.Background(), "English", "A2")
	if gt.ID == "" {
		t.Error("missing test id")
	}
	assertCounts(t, gt.Test, 0, 0, 0)
	if gt.Test.ReadingComprehension == nil || gt.Test.Grammar == nil || gt.Test.Vocabulary == nil {
		t.Error("empty sections must not be nil")
	}

	// parallel, fast and safe each attempted comprehension three times,
	// walking their tiers down to safe on every attempt.
	if n := gw.callsFor("comprehension"); n != 3*3+3*2+3*1 {
		t.Errorf("comprehension calls = %d", n)
	}
}

func TestFastFallsBackToSafeOnEmptySection(t *testing.T) {
	routes := happyRoutes(t)
	full := exercisesJSON(t, model.GrammarCount, model.KindSentence)
	partial := exercisesJSON(t, model.GrammarCount-1, model.KindSentence)
	routes["grammar"] = func(n int) (string, error) {
		if n == 0 {
			return partial, nil
		}
		return full, nil
	}
	gw := newFakeGateway(routes)
	a := newTestAssembler(t, gw, StrategyFast)

	gt := a.Generate(context.Background(), "English", "A2")
	assertCounts(t, gt.Test, 2, 3, 2)
	if n := gw.callsFor("grammar"); n != 2 {
		t.Errorf("grammar calls = %d, want 2", n)
	}
}

func TestParallelFallsBackOnError(t *testing.T) {
	routes := happyRoutes(t)
	vocab := routes["vocabulary"]
	routes["vocabulary"] = func(n int) (string, error) {
		if n == 0 {
			return "", errors.New("connection reset")
		}
		return vocab(n)
	}
	gw := newFakeGateway(routes)
	a := newTestAssembler(t, gw, StrategyParallel)

	gt := a.Generate(context.Background(), "English", "A2")
	assertCounts(t, gt.Test, 2, 3, 2)
	if n := gw.callsFor("comprehension"); n != 2 {
		t.Errorf("comprehension calls = %d, want 2 (parallel then fast)", n)
	}
}

func TestSafeReturnsEmptyTestOnError(t *testing.T) {
	routes := happyRoutes(t)
	routes["grammar"] = fail(errors.New("bad request"))
	gw := newFakeGateway(routes)
	g := newTestGenerator(t, gw, nil)
	s, _ := NewStrategy(StrategySafe, g)

	got, err := s.Assemble(context.Background(), Request{Language: "English", Level: "A2"})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	assertCounts(t, got, 0, 0, 0)
	if gw.callsFor("vocabulary") != 0 {
		t.Error("vocabulary generated after grammar failed")
	}
}

func TestSimplifiedGeneratesThemesUpFront(t *testing.T) {
	gw := newFakeGateway(happyRoutes(t))
	a := newTestAssembler(t, gw, StrategySimplified)
	a.Generate(context.Background(), "English", "C1")

	calls := gw.purposes()
	if len(calls) < 2 || calls[0] != "themes" || calls[1] != "themes" {
		t.Errorf("calls = %v, want two theme calls first", calls)
	}
	if n := gw.callsFor("themes"); n != 2 {
		t.Errorf("themes calls = %d, want 2", n)
	}
}

func TestAssembleHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a := newTestAssembler(t, newFakeGateway(happyRoutes(t)), StrategyParallel)

	gt := a.Generate(ctx, "English", "A2")
	assertCounts(t, gt.Test, 0, 0, 0)
}
