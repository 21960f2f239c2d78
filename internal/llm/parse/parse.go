// Package parse turns loosely structured model output into exercises.
//
// Model output is untrusted: nothing here returns an error for a malformed
// shape. Missing fields get defaults and non-object items are skipped.
package parse

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/pavelanni/langtest/internal/model"
)

// Defaults applied to missing fields.
const (
	DefaultInstruction = "Exercise"
	DefaultCompetency  = "General language competency"
	DefaultOptionText  = "Option"
)

// ExtractJSONArray isolates the span from the first '[' to the last ']' of
// raw and decodes it.
func ExtractJSONArray(raw string) ([]any, bool) {
	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start < 0 || end <= start {
		slog.Debug("no JSON array in model output", "len", len(raw))
		return nil, false
	}

	dec := json.NewDecoder(strings.NewReader(raw[start : end+1]))
	dec.UseNumber()
	var out []any
	if err := dec.Decode(&out); err != nil {
		slog.Debug("decode JSON array", "error", err)
		return nil, false
	}
	return out, true
}

// Exercises extracts and normalizes exercises in one step.
func Exercises(raw string, defaultKind model.ElementKind) ([]model.Exercise, bool) {
	arr, ok := ExtractJSONArray(raw)
	if !ok {
		return nil, false
	}
	return NormalizeExercises(arr, defaultKind), true
}

// NormalizeExercises coerces decoded items into exercises.
func NormalizeExercises(raw []any, defaultKind model.ElementKind) []model.Exercise {
	out := make([]model.Exercise, 0, len(raw))
	for _, item := range raw {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, normalizeExercise(obj, defaultKind))
	}
	return out
}

func normalizeExercise(obj map[string]any, defaultKind model.ElementKind) model.Exercise {
	ex := model.Exercise{
		Instruction: stringOr(obj, "instruction", DefaultInstruction),
		TargetLevel: stringOr(obj, "targetLevel", model.DefaultLevel),
		Competency:  stringOr(obj, "competency", DefaultCompetency),
		Content:     model.Content{Elements: []model.Element{}},
	}

	switch c := obj["content"].(type) {
	case map[string]any:
		ex.Content.MainText = stringOr(c, "mainText", "")
		if els, ok := c["elements"].([]any); ok {
			for i, raw := range els {
				el, ok := raw.(map[string]any)
				if !ok {
					continue
				}
				ex.Content.Elements = append(ex.Content.Elements, normalizeElement(el, i+1, defaultKind))
			}
		}
	case string:
		ex.Content.MainText = c
	}

	renumberDuplicates(ex.Content.Elements)
	return ex
}

func normalizeElement(obj map[string]any, pos int, defaultKind model.ElementKind) model.Element {
	id, ok := intValue(obj["id"])
	if !ok {
		id = pos
	}
	el := model.Element{
		ID:   id,
		Text: stringOr(obj, "text", fmt.Sprintf("Element %d", pos)),
		Kind: defaultKind,
	}
	kindRaw, ok := obj["kind"].(string)
	if !ok {
		kindRaw, _ = obj["type"].(string)
	}
	if k, ok := ParseKind(kindRaw); ok {
		el.Kind = k
	}
	if el.Kind != model.KindMultipleChoice {
		return el
	}

	el.Options = []model.Option{}
	if opts, ok := obj["options"].([]any); ok {
		for i, raw := range opts {
			o, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			opt := model.Option{
				ID:   stringOr(o, "id", optionLetter(i)),
				Text: stringOr(o, "text", DefaultOptionText),
			}
			opt.IsCorrect, _ = o["isCorrect"].(bool)
			el.Options = append(el.Options, opt)
		}
	}
	el.CorrectOptionID, _ = obj["correctOptionId"].(string)
	RepairChoice(&el)
	return el
}

// ParseKind maps an element kind, or one of its short aliases, to the
// canonical kind.
func ParseKind(s string) (model.ElementKind, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "QUESTION":
		return model.KindQuestion, true
	case "SENTENCE", "PHRASE":
		return model.KindSentence, true
	case "ITEM":
		return model.KindItem, true
	case "INSTRUCTION", "CONSIGNE":
		return model.KindInstruction, true
	case "MULTIPLE_CHOICE", "MULTIPLE-CHOICE", "QCM", "MCQ":
		return model.KindMultipleChoice, true
	}
	return "", false
}

// RepairChoice makes exactly one option correct and points CorrectOptionID
// at it. A valid CorrectOptionID wins over the flags, the first flagged
// option wins over the first option. Elements that already agree are left
// unchanged.
func RepairChoice(el *model.Element) {
	opts := el.Options
	if len(opts) == 0 {
		el.CorrectOptionID = ""
		return
	}

	seen := make(map[string]bool, len(opts))
	for _, o := range opts {
		if seen[o.ID] {
			for i := range opts {
				opts[i].ID = optionLetter(i)
			}
			break
		}
		seen[o.ID] = true
	}

	idx := -1
	if el.CorrectOptionID != "" {
		for i, o := range opts {
			if o.ID == el.CorrectOptionID {
				idx = i
				break
			}
		}
	}
	if idx < 0 {
		for i, o := range opts {
			if o.IsCorrect {
				idx = i
				break
			}
		}
	}
	if idx < 0 {
		idx = 0
	}
	for i := range opts {
		opts[i].IsCorrect = i == idx
	}
	el.CorrectOptionID = opts[idx].ID
}

// renumberDuplicates assigns positional ids when element ids collide.
func renumberDuplicates(els []model.Element) {
	seen := make(map[int]bool, len(els))
	for _, el := range els {
		if seen[el.ID] {
			for i := range els {
				els[i].ID = i + 1
			}
			return
		}
		seen[el.ID] = true
	}
}

func optionLetter(i int) string {
	if i < 26 {
		return string(rune('A' + i))
	}
	return strconv.Itoa(i + 1)
}

func stringOr(obj map[string]any, key, def string) string {
	if s, ok := obj[key].(string); ok {
		return s
	}
	return def
}

func intValue(v any) (int, bool) {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i), true
		}
		if f, err := n.Float64(); err == nil {
			return int(f), true
		}
	case float64:
		return int(n), true
	case int:
		return n, true
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(n)); err == nil {
			return i, true
		}
	}
	return 0, false
}
