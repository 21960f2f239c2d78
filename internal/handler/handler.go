// Package handler exposes test generation and evaluation as a JSON API.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/langtest/internal/cache"
	"github.com/pavelanni/langtest/internal/i18n"
	"github.com/pavelanni/langtest/internal/model"
	"github.com/pavelanni/langtest/internal/store"
)

// Generator builds a complete test.
type Generator interface {
	Generate(ctx context.Context, language, level string) model.GeneratedTest
}

// Evaluator grades submissions and summarizes skills.
type Evaluator interface {
	Evaluate(ctx context.Context, ex model.Exercise, submission, lang string) model.Evaluation
	Skills(ctx context.Context, results map[string][]model.Evaluation, lang string) model.SkillsReport
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store *store.Store
	tests *cache.TestCache
	gen   Generator
	eval  Evaluator
}

// New creates a new Handler.
func New(s *store.Store, tests *cache.TestCache, gen Generator, eval Evaluator) *Handler {
	return &Handler{store: s, tests: tests, gen: gen, eval: eval}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Post("/tests", h.handleCreateTest)
		r.Get("/tests", h.handleListTests)
		r.Get("/tests/{testID}", h.handleGetTest)
		r.Post("/tests/{testID}/evaluate", h.handleEvaluateTest)
		r.Post("/evaluate", h.handleEvaluate)
		r.Post("/skills", h.handleSkills)
		r.Get("/languages", h.handleListLanguages)
		r.Post("/languages", h.handleCreateLanguage)
	})
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

// writeError replies with the localized message for msgID.
func writeError(w http.ResponseWriter, r *http.Request, status int, msgID string) {
	writeJSON(w, status, errorResponse{Error: i18n.T(r.Context(), msgID)})
}

func (h *Handler) internalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	slog.Error(msg, "error", err)
	writeError(w, r, http.StatusInternalServerError, "ErrInternal")
}

// decode reads a JSON body into v, rejecting unknown fields.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(); err != nil {
		slog.Error("health check: database", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	if err := h.tests.Ping(r.Context()); err != nil {
		slog.Warn("health check: redis", "error", err)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createTestRequest struct {
	Language    string `json:"language"`
	TargetLevel string `json:"targetLevel"`
}

func (h *Handler) handleCreateTest(w http.ResponseWriter, r *http.Request) {
	var req createTestRequest
	if err := decode(w, r, &req); err != nil || strings.TrimSpace(req.Language) == "" {
		writeError(w, r, http.StatusBadRequest, "ErrBadRequest")
		return
	}

	test := h.gen.Generate(r.Context(), req.Language, req.TargetLevel)
	if err := h.tests.Put(r.Context(), test); err != nil {
		h.internalError(w, r, "failed to save test", err)
		return
	}
	slog.Info("generated test", "test", test.ID, "language", test.Language, "strategy", test.Strategy)
	writeJSON(w, http.StatusCreated, test)
}

func (h *Handler) handleListTests(w http.ResponseWriter, r *http.Request) {
	tests, err := h.store.ListTests()
	if err != nil {
		h.internalError(w, r, "failed to list tests", err)
		return
	}
	if tests == nil {
		tests = []model.GeneratedTest{}
	}
	writeJSON(w, http.StatusOK, tests)
}

// loadTest fetches the test named in the URL, writing the error reply
// itself when it reports false.
func (h *Handler) loadTest(w http.ResponseWriter, r *http.Request) (model.GeneratedTest, bool) {
	test, err := h.tests.Get(r.Context(), chi.URLParam(r, "testID"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, "ErrTestNotFound")
		return test, false
	}
	if err != nil {
		h.internalError(w, r, "failed to load test", err)
		return test, false
	}
	return test, true
}

func (h *Handler) handleGetTest(w http.ResponseWriter, r *http.Request) {
	test, ok := h.loadTest(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, test)
}

type evaluateTestRequest struct {
	Section  model.Section `json:"section"`
	Index    int           `json:"index"`
	Answers  string        `json:"answers"`
	Language string        `json:"language"`
}

func (h *Handler) handleEvaluateTest(w http.ResponseWriter, r *http.Request) {
	var req evaluateTestRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "ErrBadRequest")
		return
	}
	test, ok := h.loadTest(w, r)
	if !ok {
		return
	}
	exercises, known := test.Test.Section(req.Section)
	if !known {
		writeError(w, r, http.StatusBadRequest, "ErrBadRequest")
		return
	}
	if req.Index < 0 || req.Index >= len(exercises) {
		writeError(w, r, http.StatusNotFound, "ErrExerciseNotFound")
		return
	}
	lang := req.Language
	if lang == "" {
		lang = test.Language
	}

	ev := h.eval.Evaluate(r.Context(), exercises[req.Index], req.Answers, lang)
	if _, err := h.store.SaveEvaluation(model.EvaluationRecord{
		TestID:        test.ID,
		Section:       req.Section,
		ExerciseIndex: req.Index,
		Submission:    req.Answers,
		Evaluation:    ev,
	}); err != nil {
		h.internalError(w, r, "failed to save evaluation", err)
		return
	}
	slog.Info("evaluated exercise", "test", test.ID, "section", req.Section, "index", req.Index, "score", ev.Score)
	writeJSON(w, http.StatusOK, ev)
}

type evaluateRequest struct {
	Exercise *model.Exercise `json:"exercise"`
	Answers  string          `json:"answers"`
	Language string          `json:"language"`
}

func (h *Handler) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if err := decode(w, r, &req); err != nil || req.Exercise == nil || req.Language == "" {
		writeError(w, r, http.StatusBadRequest, "ErrBadRequest")
		return
	}
	writeJSON(w, http.StatusOK, h.eval.Evaluate(r.Context(), *req.Exercise, req.Answers, req.Language))
}

type skillsRequest struct {
	Results  map[string][]model.Evaluation `json:"results"`
	Language string                        `json:"language"`
}

func (h *Handler) handleSkills(w http.ResponseWriter, r *http.Request) {
	var req skillsRequest
	if err := decode(w, r, &req); err != nil || req.Language == "" {
		writeError(w, r, http.StatusBadRequest, "ErrBadRequest")
		return
	}
	writeJSON(w, http.StatusOK, h.eval.Skills(r.Context(), req.Results, req.Language))
}
