package content

import (
	"context"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/pavelanni/langtest/internal/llm/backoff"
	"github.com/pavelanni/langtest/internal/llm/prompts"
	"github.com/pavelanni/langtest/internal/model"
)

// ThemeGenerator asks the model for topic lists and tops them up from a
// fixed fallback pool.
type ThemeGenerator struct {
	gen  *Generator
	pool prompts.ThemePool

	mu  sync.Mutex
	rng *rand.Rand
}

// Pool returns the theme data in use.
func (t *ThemeGenerator) Pool() prompts.ThemePool { return t.pool }

// Generate returns exactly count non-empty themes, none of them denylisted.
// Model failures are absorbed by the fallback pool.
func (t *ThemeGenerator) Generate(ctx context.Context, lang string, count int, category string) []string {
	if count <= 0 {
		return []string{}
	}
	g := t.gen
	description := t.describe(ctx, lang, category)

	p := g.lib.Themes(lang, count, description, t.pool)
	raw, err := g.complete(ctx, g.ladder.Safe, g.ladder.GenerationPolicy(15*time.Second), p)
	if err != nil {
		g.logger.Warn("theme generation failed", "category", category, "error", err)
		raw = ""
	}

	themes := make([]string, 0, count)
	for _, line := range strings.Split(raw, "\n") {
		theme := cleanThemeLine(line)
		if theme == "" || t.pool.Denied(theme) {
			continue
		}
		themes = append(themes, theme)
	}
	if len(themes) >= count {
		return themes[:count]
	}

	missing := count - len(themes)
	g.logger.Debug("topping up themes from fallback pool", "category", category, "missing", missing)
	fallback := t.shuffled()
	for i := 0; len(themes) < count; i++ {
		themes = append(themes, fallback[i%len(fallback)])
	}
	return themes
}

// describe returns the category description, translated into lang when lang
// is not the interface language. A failed translation keeps the original.
func (t *ThemeGenerator) describe(ctx context.Context, lang, category string) string {
	g := t.gen
	description := t.pool.Description(category)
	if g.sameLanguage(lang) {
		return description
	}
	p := g.lib.TranslateText(description, lang, model.TechnicalTerms{})
	req, err := p.Request()
	if err != nil {
		g.logger.Warn("render description translation", "error", err)
		return description
	}
	out, err := backoff.Call(ctx, g.ladder.Safe, func(ctx context.Context) (string, error) {
		return g.gw.Complete(ctx, req)
	})
	out = strings.Trim(strings.TrimSpace(out), `"`)
	if err != nil || out == "" {
		g.logger.Warn("keeping untranslated theme description", "category", category, "error", err)
		return description
	}
	return out
}

func (t *ThemeGenerator) shuffled() []string {
	out := append([]string(nil), t.pool.Fallback...)
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.rng == nil {
		t.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	t.rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

// cleanThemeLine trims a line and drops list markers the model adds
// despite being told not to.
func cleanThemeLine(line string) string {
	s := strings.TrimSpace(line)
	s = strings.TrimLeft(s, "-*•")
	if i := strings.IndexAny(s, ".)"); i > 0 && i <= 3 && isDigits(s[:i]) {
		s = s[i+1:]
	}
	return strings.TrimSpace(s)
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
