package evaluator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/pavelanni/langtest/internal/llm"
	"github.com/pavelanni/langtest/internal/llm/backoff"
	"github.com/pavelanni/langtest/internal/llm/prompts"
	"github.com/pavelanni/langtest/internal/model"
)

// fakeGateway answers by request purpose; each route sees the zero-based
// index of its call.
type fakeGateway struct {
	mu     sync.Mutex
	routes map[string]func(n int) (string, error)
	count  map[string]int
	calls  []llm.Request
}

func newFakeGateway(routes map[string]func(n int) (string, error)) *fakeGateway {
	return &fakeGateway{routes: routes, count: map[string]int{}}
}

func (f *fakeGateway) Complete(_ context.Context, req llm.Request) (string, error) {
	f.mu.Lock()
	n := f.count[req.Purpose]
	f.count[req.Purpose]++
	f.calls = append(f.calls, req)
	route := f.routes[req.Purpose]
	f.mu.Unlock()
	if route == nil {
		return "", fmt.Errorf("unexpected purpose %q", req.Purpose)
	}
	return route(n)
}

func (f *fakeGateway) lastFor(purpose string) llm.Request {
	for i := len(f.calls) - 1; i >= 0; i-- {
		if f.calls[i].Purpose == purpose {
			return f.calls[i]
		}
	}
	return llm.Request{}
}

func reply(s string) func(int) (string, error) {
	return func(int) (string, error) { return s, nil }
}

func fail(err error) func(int) (string, error) {
	return func(int) (string, error) { return "", err }
}

func newTestEvaluator(t *testing.T, gw llm.Gateway) *Evaluator {
	t.Helper()
	lib, err := prompts.Default()
	if err != nil {
		t.Fatalf("prompts.Default: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ladder := backoff.NewLadder(backoff.Options{NoDelay: true, Logger: logger})
	return New(gw, lib, ladder, "en", logger)
}

// grammarExercise has three sentence elements and no main text.
func grammarExercise() model.Exercise {
	return model.Exercise{
		Instruction: "Put the verbs in the past tense.",
		TargetLevel: "A2",
		Competency:  "Past simple",
		Content: model.Content{Elements: []model.Element{
			{ID: 3, Text: "They (take) the train.", Kind: model.KindSentence},
			{ID: 1, Text: "I (go) to the cinema.", Kind: model.KindSentence},
			{ID: 2, Text: "We (eat) out.", Kind: model.KindSentence},
		}},
	}
}

const (
	correctJSON   = `{"isCorrect": true, "confidence": 0.9, "explanation": "fine"}`
	incorrectJSON = `{"isCorrect": false, "confidence": 0.8, "explanation": "wrong tense"}`
	analysisJSON  = `{"errorType": "Conjugation", "description": "Present used", "correction": "We ate out.", "explanation": "Past simple of eat is ate.", "suggestion": "Review irregular verbs."}`
	evaluationFmt = `{"score": %v, "estimatedLevel": "A2", "generalComment": "Good.", "strengths": ["regular verbs"], "weaknesses": [], "errors": [], "suggestions": ["practice"]}`
)

func TestParseAnswers(t *testing.T) {
	e := newTestEvaluator(t, newFakeGateway(nil))
	tests := []struct {
		name string
		in   string
		want map[int]string
	}{
		{"labels", "Question 1: yes\nSentence 2: went\nItem 4: x", map[int]string{1: "yes", 2: "went", 4: "x"}},
		{"french labels", "Phrase 3: suis allé\nÉlément 6: b", map[int]string{3: "suis allé", 6: "b"}},
		{"case and spacing", "  question 7 :  maybe  \nSENTENCE 8:ok", map[int]string{7: "maybe", 8: "ok"}},
		{"last line wins", "Question 1: first\nQuestion 1: second", map[int]string{1: "second"}},
		{"empty answers ignored", "Question 1: kept\nQuestion 1:   \nQuestion 2:", map[int]string{1: "kept"}},
		{"unmatched lines", "hello\nQuestion one: x\nAnswer 1: y\n1. z", map[int]string{}},
		{"answer with colon", "Question 5: ratio 3:2", map[int]string{5: "ratio 3:2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.ParseAnswers(tt.in)
			if !maps.Equal(got, tt.want) {
				t.Errorf("ParseAnswers = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEvaluateTwoStage(t *testing.T) {
	gw := newFakeGateway(map[string]func(int) (string, error){
		"validate": func(n int) (string, error) {
			if n == 0 {
				return correctJSON, nil
			}
			return incorrectJSON, nil
		},
		"analyze": reply(analysisJSON),
		"compile": reply(fmt.Sprintf(evaluationFmt, 6)),
	})
	e := newTestEvaluator(t, gw)

	ev := e.Evaluate(context.Background(), grammarExercise(), "Sentence 1: I went to the cinema.\nSentence 2: We eat out.", "English")

	if ev.Score != 6 || ev.EstimatedLevel != "A2" {
		t.Errorf("evaluation = %+v", ev)
	}
	res := ev.PerQuestionResults
	if len(res) != 3 {
		t.Fatalf("got %d results, want 3", len(res))
	}
	for i, r := range res {
		if r.QuestionID != i+1 {
			t.Errorf("result %d has id %d, want id order", i, r.QuestionID)
		}
	}
	if !res[0].IsCorrect || res[0].Analysis != nil {
		t.Errorf("result 1 = %+v", res[0])
	}
	if res[1].IsCorrect || res[1].Analysis == nil || res[1].Analysis.ErrorType != "Conjugation" {
		t.Errorf("result 2 = %+v", res[1])
	}
	if res[2].IsCorrect || res[2].UserAnswer != "[No answer]" {
		t.Errorf("result 3 = %+v", res[2])
	}
	if res[2].Analysis == nil || res[2].Analysis.ErrorType != "Absence of answer" {
		t.Errorf("result 3 analysis = %+v", res[2].Analysis)
	}

	want := map[string]int{"validate": 2, "analyze": 1, "compile": 1}
	for p, n := range want {
		if gw.count[p] != n {
			t.Errorf("%s calls = %d, want %d", p, gw.count[p], n)
		}
	}
	if s := gw.lastFor("validate").Schema; s == nil || s.Name != prompts.SchemaValidation {
		t.Error("validate request is not structured")
	}
	if !strings.Contains(gw.lastFor("compile").Prompt, "Question 3") {
		t.Error("compile prompt does not list the unanswered question")
	}
}

func TestEvaluateExhaustedDefaults(t *testing.T) {
	limited := fail(llm.ErrRateLimited)
	gw := newFakeGateway(map[string]func(int) (string, error){
		"validate": limited,
		"analyze":  limited,
		"compile":  limited,
	})
	e := newTestEvaluator(t, gw)

	ev := e.Evaluate(context.Background(), grammarExercise(), "Sentence 1: went\nSentence 2: ate", "English")

	if math.Abs(ev.Score-20.0/3) > 1e-9 {
		t.Errorf("score = %v, want 10*2/3", ev.Score)
	}
	if ev.EstimatedLevel != "Not determined" || ev.GeneralComment != "2/3 answers appear correct." {
		t.Errorf("fallback commentary = %q / %q", ev.EstimatedLevel, ev.GeneralComment)
	}
	if len(ev.PerQuestionResults) != 3 || !ev.PerQuestionResults[0].IsCorrect || !ev.PerQuestionResults[1].IsCorrect {
		t.Errorf("results = %+v", ev.PerQuestionResults)
	}
	if gw.count["validate"] != 6 || gw.count["analyze"] != 0 || gw.count["compile"] != 3 || gw.count["legacy"] != 0 {
		t.Errorf("calls = %v", gw.count)
	}
}

func TestAnalyzeExhaustedDefault(t *testing.T) {
	gw := newFakeGateway(map[string]func(int) (string, error){
		"validate": reply(incorrectJSON),
		"analyze":  fail(errors.New("HTTP 429 Too Many Requests")),
		"compile":  reply(fmt.Sprintf(evaluationFmt, 0)),
	})
	e := newTestEvaluator(t, gw)

	ev := e.Evaluate(context.Background(), grammarExercise(), "Sentence 1: goed", "English")
	a := ev.PerQuestionResults[0].Analysis
	if a == nil || a.ErrorType != "Analysis unavailable" {
		t.Errorf("analysis = %+v", a)
	}
}

func TestCompileWithoutQuestionsScoresTen(t *testing.T) {
	e := newTestEvaluator(t, newFakeGateway(nil))
	ev := e.compileFallback(context.Background(), nil)
	if ev.Score != 10 {
		t.Errorf("score = %v, want 10", ev.Score)
	}
}

func TestEvaluateClampsModelOutput(t *testing.T) {
	gw := newFakeGateway(map[string]func(int) (string, error){
		"validate": reply(`{"isCorrect": true, "confidence": 3}`),
		"compile":  reply(`{"score": 14, "estimatedLevel": "B1"}`),
	})
	e := newTestEvaluator(t, gw)

	ev := e.Evaluate(context.Background(), grammarExercise(), "Sentence 1: a\nSentence 2: b\nSentence 3: c", "English")
	if ev.Score != 10 {
		t.Errorf("score = %v, want 10", ev.Score)
	}
	if ev.Strengths == nil || ev.Errors == nil || ev.Suggestions == nil {
		t.Errorf("nil lists in %+v", ev)
	}
}

func TestEvaluateFallsBackToLegacy(t *testing.T) {
	legacy := `{"score": 5, "estimatedLevel": "A2", "generalComment": "Mixed.", "strengths": [], "weaknesses": ["tenses"],
	  "errors": [{"type": "Conjugation", "description": "Question 2: present instead of past", "correction": "We ate out.", "explanation": "irregular"}],
	  "suggestions": []}`
	gw := newFakeGateway(map[string]func(int) (string, error){
		"validate": fail(errors.New("schema mismatch")),
		"legacy":   reply(legacy),
	})
	e := newTestEvaluator(t, gw)

	ev := e.Evaluate(context.Background(), grammarExercise(), "Sentence 1: I went.\nSentence 2: We eat out.", "English")

	if ev.Score != 5 || gw.count["legacy"] != 1 || gw.count["validate"] != 1 {
		t.Fatalf("evaluation = %+v, calls = %v", ev, gw.count)
	}
	res := map[int]model.QuestionResult{}
	for _, r := range ev.PerQuestionResults {
		res[r.QuestionID] = r
	}
	if len(res) != 3 {
		t.Fatalf("results = %+v", ev.PerQuestionResults)
	}
	if !res[1].IsCorrect || res[1].UserAnswer != "I went." {
		t.Errorf("result 1 = %+v", res[1])
	}
	if res[2].IsCorrect || res[2].Analysis == nil || res[2].Analysis.Suggestion != "Review this part of the course." {
		t.Errorf("result 2 = %+v", res[2])
	}
	if res[3].UserAnswer != "[No answer]" {
		t.Errorf("result 3 = %+v", res[3])
	}
}

func TestLegacyForFreeTextExercise(t *testing.T) {
	gw := newFakeGateway(map[string]func(int) (string, error){
		"legacy": reply(fmt.Sprintf(evaluationFmt, 8)),
	})
	e := newTestEvaluator(t, gw)
	ex := model.Exercise{Instruction: "Write about your town.", Content: model.Content{MainText: "Describe it."}}

	ev := e.Evaluate(context.Background(), ex, "My town is small.", "English")
	if ev.Score != 8 || ev.PerQuestionResults != nil {
		t.Errorf("evaluation = %+v", ev)
	}
	if gw.count["validate"] != 0 {
		t.Error("two-stage path used for an exercise without elements")
	}
	if !strings.Contains(gw.lastFor("legacy").Prompt, "My town is small.") {
		t.Error("submission missing from the legacy prompt")
	}
}

func TestLegacyExhaustedDefault(t *testing.T) {
	gw := newFakeGateway(map[string]func(int) (string, error){
		"legacy": fail(errors.New("upstream timeout")),
	})
	e := newTestEvaluator(t, gw)

	ev := e.Evaluate(context.Background(), model.Exercise{}, "anything", "English")
	if ev.Score != 7.5 || ev.EstimatedLevel != "Not determined" {
		t.Errorf("evaluation = %+v", ev)
	}
	if gw.count["legacy"] != 3 {
		t.Errorf("legacy calls = %d, want 3", gw.count["legacy"])
	}
}

func TestComprehensionPrompts(t *testing.T) {
	gw := newFakeGateway(map[string]func(int) (string, error){
		"validate": reply(correctJSON),
		"compile":  reply(fmt.Sprintf(evaluationFmt, 10)),
	})
	e := newTestEvaluator(t, gw)
	ex := model.Exercise{
		Instruction: "Answer the questions.",
		Content: model.Content{
			MainText: "The museum offers activities for children.",
			Elements: []model.Element{{ID: 1, Text: "Which activities exactly?", Kind: model.KindQuestion}},
		},
	}

	e.Evaluate(context.Background(), ex, "Question 1: The text does not say which ones.", "English")

	v := gw.lastFor("validate")
	if !strings.Contains(v.System, "READING COMPREHENSION") {
		t.Error("comprehension rules missing from the validation prompt")
	}
	if !strings.Contains(v.Prompt, "not in the text") || !strings.Contains(v.Prompt, "The museum offers") {
		t.Errorf("validation prompt lacks the absence check or the source text:\n%s", v.Prompt)
	}
	if !strings.Contains(gw.lastFor("compile").Prompt, "questions 1") {
		t.Error("compile prompt does not flag the absence claim")
	}
}

func TestSkills(t *testing.T) {
	results := map[string][]model.Evaluation{
		"vocabulary":           {{Score: 7, EstimatedLevel: "B1"}},
		"readingComprehension": {{Score: 9, EstimatedLevel: "B2", Weaknesses: []string{"inference"}}},
	}

	t.Run("report", func(t *testing.T) {
		gw := newFakeGateway(map[string]func(int) (string, error){
			"skills": reply(`{"overallLevel": "B2", "readingComprehension": "B2", "writtenExpression": "B1", "grammar": "B1", "vocabulary": "B1", "gaps": ["inference"], "recommendations": ["read more"]}`),
		})
		e := newTestEvaluator(t, gw)
		got := e.Skills(context.Background(), results, "English")
		if got.OverallLevel != "B2" || len(got.Gaps) != 1 {
			t.Errorf("report = %+v", got)
		}
		p := gw.lastFor("skills").Prompt
		if strings.Index(p, "readingComprehension") > strings.Index(p, "vocabulary") {
			t.Error("sections are not in a stable order")
		}
	})

	t.Run("fallback", func(t *testing.T) {
		gw := newFakeGateway(map[string]func(int) (string, error){"skills": fail(errors.New("boom"))})
		e := newTestEvaluator(t, gw)
		got := e.Skills(context.Background(), results, "English")
		if got.OverallLevel != "B1" || got.Grammar != "B1" || len(got.Gaps) != 1 || len(got.Recommendations) != 1 {
			t.Errorf("report = %+v", got)
		}
	})
}
