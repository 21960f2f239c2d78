package content

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/langtest/internal/model"
)

// Assembler turns generation requests into identified tests.
type Assembler struct {
	strategy Strategy
	logger   *slog.Logger
	now      func() time.Time
}

// NewAssembler creates an Assembler running strategy.
func NewAssembler(strategy Strategy, logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{strategy: strategy, logger: logger, now: time.Now}
}

// Strategy returns the name of the configured strategy.
func (a *Assembler) Strategy() string { return a.strategy.Name() }

// Generate assembles a complete test. It never fails: the worst outcome is
// a test with empty sections. The level is kept as given; an empty level
// asks for auto-detection and is generated at the default level.
func (a *Assembler) Generate(ctx context.Context, lang, level string) model.GeneratedTest {
	gt := model.GeneratedTest{
		ID:          uuid.NewString(),
		Language:    lang,
		TargetLevel: level,
		Strategy:    a.strategy.Name(),
		CreatedAt:   a.now().UTC(),
	}

	start := time.Now()
	a.logger.Info("generating test", "id", gt.ID, "language", lang, "level", level, "strategy", gt.Strategy)
	t, err := a.strategy.Assemble(ctx, Request{Language: lang, Level: level})
	if err != nil {
		a.logger.Error("test generation failed", "id", gt.ID, "error", err)
		t = emptyTest()
	}
	gt.Test = normalizeTest(t)
	a.logger.Info("test generated", "id", gt.ID,
		"comprehension", len(gt.Test.ReadingComprehension),
		"grammar", len(gt.Test.Grammar),
		"vocabulary", len(gt.Test.Vocabulary),
		"elapsed", time.Since(start))
	return gt
}

// normalizeTest replaces nil sections with empty ones.
func normalizeTest(t model.CompleteTest) model.CompleteTest {
	if t.ReadingComprehension == nil {
		t.ReadingComprehension = []model.Exercise{}
	}
	if t.Grammar == nil {
		t.Grammar = []model.Exercise{}
	}
	if t.Vocabulary == nil {
		t.Vocabulary = []model.Exercise{}
	}
	return t
}
